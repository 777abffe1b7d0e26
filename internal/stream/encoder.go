package stream

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"

	"mjpegsw/internal/camera"
)

// DefaultQuality はJPEGの既定品質
const DefaultQuality = 80

// Encoder はフレームを配信用のバイト列に変換する
type Encoder interface {
	Encode(frame *camera.Frame) ([]byte, error)
}

// EncodeError はフレームのエンコード失敗を表す
type EncodeError struct {
	Seq uint64
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("フレーム %d のエンコードに失敗: %v", e.Seq, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// JPEGEncoder は image/jpeg によるEncoder
type JPEGEncoder struct {
	Quality int
}

// Encode はフレームをJPEGにエンコードする
func (e JPEGEncoder) Encode(frame *camera.Frame) ([]byte, error) {
	if frame == nil || frame.Image == nil {
		return nil, &EncodeError{Err: fmt.Errorf("フレームがありません")}
	}

	quality := e.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &EncodeError{Seq: frame.Seq, Err: err}
	}
	return buf.Bytes(), nil
}

// CachingEncoder は直前にエンコードしたフレームの結果を共有する
//
// 複数のクライアントが同じフレームを読んだ場合でもエンコードは一度で済む。
// キーはFrameStoreが付与するSeqで、0（未公開）のフレームはキャッシュしない。
type CachingEncoder struct {
	enc Encoder

	mu   sync.Mutex
	seq  uint64
	data []byte

	encodes uint64
}

// NewCachingEncoder はencをキャッシュ付きでラップする
func NewCachingEncoder(enc Encoder) *CachingEncoder {
	return &CachingEncoder{enc: enc}
}

// Encode はキャッシュ済みであればそれを返し、無ければエンコードする
// 返すバイト列は共有されるため変更してはならない
func (c *CachingEncoder) Encode(frame *camera.Frame) ([]byte, error) {
	if frame == nil || frame.Seq == 0 {
		return c.enc.Encode(frame)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data != nil && c.seq == frame.Seq {
		return c.data, nil
	}

	data, err := c.enc.Encode(frame)
	c.encodes++
	if err != nil {
		return nil, err
	}
	c.seq = frame.Seq
	c.data = data
	return data, nil
}

// Encodes は実際にエンコードを行った回数を返す
func (c *CachingEncoder) Encodes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encodes
}
