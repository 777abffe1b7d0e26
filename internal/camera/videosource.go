package camera

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
)

// readFunc はバックエンド固有の1フレーム読み取り処理
// ブロックしてよいが、セッション終了時にはエラーで戻る必要がある
type readFunc func() (*Frame, error)

// baseSession は全バックエンド共通のフレーム受け渡しを提供する
//
// バックエンドの読み取りは専用ゴルーチンで行い、PullNextとはチャンネルで受け渡す。
// これにより読み取りがブロックしたままでも、呼び出し側はctxの期限で抜けられる。
type baseSession struct {
	info SessionInfo

	frameCh chan *Frame
	deadCh  chan struct{} // 読み取りゴルーチンがエラーで終了するとクローズ
	err     error         // deadCh クローズ前に一度だけ書き込まれる
	stopCh  chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// init は新しい世代IDでセッションを初期化する
func (b *baseSession) init(backend Backend, source string) {
	b.info = SessionInfo{
		Generation: uuid.New().String(),
		Backend:    backend,
		Source:     source,
	}
	b.frameCh = make(chan *Frame)
	b.deadCh = make(chan struct{})
	b.stopCh = make(chan struct{})
}

// startPump は読み取りゴルーチンを開始する
// cleanup は読み取りゴルーチンの終了時に呼ばれる（nil可）
func (b *baseSession) startPump(read readFunc, cleanup func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if cleanup != nil {
			defer cleanup()
		}

		for {
			frame, err := read()
			if err != nil {
				b.err = err
				close(b.deadCh)
				return
			}
			frame.Generation = b.info.Generation

			select {
			case b.frameCh <- frame:
			case <-b.stopCh:
				return
			}
		}
	}()
}

// PullNext は次のフレームを待つ
func (b *baseSession) PullNext(ctx context.Context) (*Frame, error) {
	select {
	case <-b.stopCh:
		return nil, ErrSessionClosed
	default:
	}

	select {
	case frame := <-b.frameCh:
		return frame, nil
	case <-b.deadCh:
		err := b.err
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, &ReadError{Generation: b.info.Generation, Err: err}
	case <-b.stopCh:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Info はセッション情報を返す
func (b *baseSession) Info() SessionInfo {
	return b.info
}

// stop は読み取りゴルーチンに終了を通知する。最初の呼び出しのみtrueを返す
func (b *baseSession) stop() bool {
	stopped := false
	b.stopOnce.Do(func() {
		close(b.stopCh)
		stopped = true
	})
	return stopped
}
