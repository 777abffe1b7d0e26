// Package stream はFrameStoreの内容をクライアント向けに配信する
//
// 各クライアントは自分専用のFeedを持ち、FrameStoreを一定間隔で読む。
// 取得側（camera.Supervisor）とはFrameStoreを介してのみやり取りする。
package stream
