package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrStalled はソースが生きているのに新しいデータを返さない状態を表す
	ErrStalled = errors.New("ソースが停止しています")

	// ErrSessionClosed はクローズ済みのセッションに対する操作で返される
	ErrSessionClosed = errors.New("セッションはクローズ済みです")

	// ErrUnsupportedBackend は未登録のバックエンドが指定された場合に返される
	ErrUnsupportedBackend = errors.New("サポートされていないバックエンド")
)

// OpenError はソースを開けなかったことを表す
type OpenError struct {
	Source  string
	Backend Backend
	Err     error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("ソース %s (%s) を開けません: %v", e.Source, e.Backend, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ReadError はストリーム途中での読み取り失敗を表す
type ReadError struct {
	Generation string
	Err        error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("フレーム読み取りエラー (世代 %s): %v", e.Generation, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
