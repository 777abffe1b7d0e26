package camera

import (
	"context"
	"fmt"
	"time"
)

// Resolution は画像の解像度を表す
// Width と Height がともに0の場合は「指定なし」を意味する
type Resolution struct {
	Width  int `json:"width" yaml:"width"`   // 幅
	Height int `json:"height" yaml:"height"` // 高さ
}

// IsZero は解像度が未指定かどうかを返す
func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

// String は "1280x720" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Backend はキャプチャバックエンドの種類
type Backend string

const (
	BackendAuto   Backend = "auto"   // ソースから自動判定
	BackendFFmpeg Backend = "ffmpeg" // ffmpegサブプロセス経由
	BackendX11    Backend = "x11"    // ffmpeg x11grab による画面キャプチャ
	BackendOpenCV Backend = "opencv" // gocv (OpenCV) 経由
	BackendMJPEG  Backend = "mjpeg"  // ネットワークMJPEGストリーム
)

// SourceConfig は1世代分のセッションを開くための設定
type SourceConfig struct {
	Source     string     // デバイス番号、デバイスパス、URL、ディスプレイ名
	Backend    Backend    // バックエンド指定
	Resolution Resolution // 目標解像度（任意）

	// サブプロセス系バックエンド用
	FFmpegPath         string        // ffmpeg実行ファイル
	WorkerStartTimeout time.Duration // ワーカー起動確認のタイムアウト
	CloseTimeout       time.Duration // 正常終了を待つ時間
}

// SessionInfo はセッションの識別情報
type SessionInfo struct {
	Generation string  // 世代ID
	Backend    Backend // 使用中のバックエンド
	Source     string  // ソース
	WorkerPID  int32   // ワーカープロセスのPID（無い場合は0）
}

// Session は1世代分のキャプチャバックエンドとの接続
type Session interface {
	// PullNext は次のフレームが得られるまでブロックする
	PullNext(ctx context.Context) (*Frame, error)

	// Close はリソースを正常に解放する
	Close() error

	// Kill はワーカーを強制終了する（停止したワーカー向け）
	Kill() error

	// Info はセッション情報を返す
	Info() SessionInfo
}

// ResolutionSetter は解像度をバックエンドに直接適用できるセッション
type ResolutionSetter interface {
	SetResolution(res Resolution) error
}

// Opener は新しいセッションを開く
type Opener interface {
	Open(ctx context.Context, src SourceConfig) (Session, error)
}

// OpenerFunc は関数をOpenerとして扱うためのアダプタ
type OpenerFunc func(ctx context.Context, src SourceConfig) (Session, error)

// Open は f(ctx, src) を呼び出す
func (f OpenerFunc) Open(ctx context.Context, src SourceConfig) (Session, error) {
	return f(ctx, src)
}

// State はキャプチャ監視ループの状態
type State string

const (
	StateStarting        State = "starting"
	StateRunning         State = "running"
	StateStallRecovering State = "stall_recovering"
	StateRetryBackoff    State = "retry_backoff"
	StateStopping        State = "stopping"
	StateStopped         State = "stopped"
)

// Verdict はStallDetectorの判定結果
type Verdict int

const (
	VerdictAlive Verdict = iota
	VerdictStalled
)

// String は判定結果の文字列表現を返す
func (v Verdict) String() string {
	if v == VerdictStalled {
		return "stalled"
	}
	return "alive"
}

// Status はSupervisorの現在状態のスナップショット
type Status struct {
	State       State     `json:"state"`
	Generation  string    `json:"generation"`
	Backend     Backend   `json:"backend"`
	WorkerPID   int32     `json:"worker_pid"`
	Opens       int       `json:"opens"`
	Backoffs    int       `json:"backoffs"`
	Stalls      int       `json:"stalls"`
	Frames      uint64    `json:"frames"`
	LastFrameAt time.Time `json:"last_frame_at"`
	LastError   string    `json:"last_error,omitempty"`
}
