// Package server は、HTTPサーバーとキャプチャループの起動・停止を管理します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - MJPEGストリーム（/cam.mjpg）とスナップショット（/snap.jpg）の配信
//   - WebSocket（/cam.ws）でのフレーム配信
//   - 状態（/api/status）とデバイス一覧（/api/devices）の提供
//   - シグナル受信時のグレースフルシャットダウン
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - ストリーミングのため書き込みタイムアウトは無効
//   - 終了時はキャプチャ停止 → キャプチャループの終了待ち → HTTPシャットダウンの順
//   - 複数クライアントの同時接続をサポート（クライアントごとに独立したFeed）
package server
