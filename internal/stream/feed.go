package stream

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"mjpegsw/internal/camera"
)

const (
	// Boundary はmultipartの区切り文字列
	Boundary = "frame"

	// ContentType はMJPEGストリームのContent-Type
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

	// DefaultInterval はFrameStoreを読む既定の間隔
	DefaultInterval = 100 * time.Millisecond
)

// Feed はFrameStoreを一定間隔で読み、エンコード済みのフレームを流す
//
// 取得側の速度とは独立した間隔で読むため、クライアント1つあたりの配信レートは
// 取得ループの速さに関わらず上限が決まる。
type Feed struct {
	store    *camera.FrameStore
	enc      Encoder
	interval time.Duration
	logger   *slog.Logger
}

// NewFeed は新しいFeedを作成する
func NewFeed(store *camera.FrameStore, enc Encoder, interval time.Duration, logger *slog.Logger) *Feed {
	if enc == nil {
		enc = JPEGEncoder{Quality: DefaultQuality}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{store: store, enc: enc, interval: interval, logger: logger}
}

// Frames はエンコード済みJPEGのシーケンスを返す
//
// シーケンスは一度しか走査できない。フレームが無いtickと停止検知中のtickは
// 何も出さずに飛ばす。ctxの終了かキャプチャの終了でのみ終わる。
func (f *Feed) Frames(ctx context.Context) iter.Seq[[]byte] {
	var used atomic.Bool

	return func(yield func([]byte) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			if ctx.Err() != nil || !f.store.IsCapturing() {
				return
			}

			if data, ok := f.sample(); ok {
				if !yield(data) {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-f.store.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

// Chunks はmultipartの区切り付きチャンクのシーケンスを返す
func (f *Feed) Chunks(ctx context.Context) iter.Seq[[]byte] {
	frames := f.Frames(ctx)

	return func(yield func([]byte) bool) {
		for data := range frames {
			if !yield(FormatChunk(data)) {
				return
			}
		}
	}
}

// sample は1tick分の読み取りとエンコードを行う
func (f *Feed) sample() ([]byte, bool) {
	frame := f.store.Read()
	if frame == nil || f.store.IsStalled() {
		return nil, false
	}

	data, err := f.enc.Encode(frame)
	if err != nil {
		f.logger.Warn("フレームのエンコードに失敗しました。このtickを飛ばします", "seq", frame.Seq, "error", err)
		return nil, false
	}
	return data, true
}

// Snapshot は現在のフレームを1枚エンコードする
// フレームがまだ無い場合は nil, nil を返す
func Snapshot(store *camera.FrameStore, enc Encoder) ([]byte, error) {
	frame := store.Read()
	if frame == nil {
		return nil, nil
	}
	return enc.Encode(frame)
}

// FormatChunk はJPEGをmultipartの1パートとして整形する
func FormatChunk(jpeg []byte) []byte {
	const header = "--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n"

	chunk := make([]byte, 0, len(header)+len(jpeg)+2)
	chunk = append(chunk, header...)
	chunk = append(chunk, jpeg...)
	return append(chunk, "\r\n"...)
}
