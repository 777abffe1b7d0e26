// Package camera 映像ソースからのフレーム取得と障害からの自動復旧を担う
//
// # 責務
// - 映像ソース（V4L2カメラ、X11画面、ネットワークストリーム、ファイル）からのフレーム取得
// - 最新フレームの共有（FrameStore）
// - 同一フレームの連続による停止検知（StallDetector）
// - 停止・読み取り失敗時のセッション再作成（Supervisor）
//
// # 仕様
// - Session: 1世代分のバックエンド接続。世代ごとにUUIDを付与する
// - SourceFactory: auto/ffmpeg/x11/opencv/mjpeg のバックエンド選択
// - WorkerTracker: 起動前後のプロセス集合の差分で自世代のffmpegだけを特定し、停止時にそれだけを終了させる
// - Supervisor: starting / running / stall_recovering / retry_backoff / stopping / stopped の状態遷移
// - 終了要求は FrameStore.StopCapturing による一方向のフラグのみ
//
// # 前提要件
//   - ffmpeg: ffmpeg/x11 バックエンドで使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - v4l-utils: カメラ名の取得に使用（任意）
//   - x11-utils: ディスプレイの確認に使用（任意）
//   - OpenCV: opencv バックエンドを使う場合のみ。go build -tags opencv
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
