//go:build opencv

package camera

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// opencvSession はOpenCVのVideoCaptureから読み取るセッション
//
// VideoCaptureは読み取りゴルーチンだけが触る。Closeは停止を通知するだけで、
// 実際の解放は読み取り中のReadが戻った後に読み取りゴルーチン側で行う。
type opencvSession struct {
	baseSession

	mu         sync.Mutex
	pendingRes *Resolution
}

// openOpenCV はデバイス番号またはURIでVideoCaptureを開く
func openOpenCV(_ context.Context, src SourceConfig) (Session, error) {
	var device interface{} = src.Source
	if n, err := strconv.Atoi(src.Source); err == nil {
		device = n
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, &OpenError{Source: src.Source, Backend: BackendOpenCV, Err: err}
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, &OpenError{Source: src.Source, Backend: BackendOpenCV, Err: errors.New("VideoCaptureを開けません")}
	}

	s := &opencvSession{}
	s.init(BackendOpenCV, src.Source)

	mat := gocv.NewMat()
	s.startPump(func() (*Frame, error) {
		s.applyResolution(vc)

		if ok := vc.Read(&mat); !ok {
			return nil, errors.New("フレームを読み取れません")
		}
		if mat.Empty() {
			return nil, errors.New("空のフレームです")
		}
		img, err := mat.ToImage()
		if err != nil {
			return nil, err
		}
		return NewFrame(img), nil
	}, func() {
		_ = mat.Close()
		_ = vc.Close()
	})

	return s, nil
}

// SetResolution は次の読み取り前にキャプチャ解像度を変更する
func (s *opencvSession) SetResolution(res Resolution) error {
	s.mu.Lock()
	s.pendingRes = &res
	s.mu.Unlock()
	return nil
}

func (s *opencvSession) applyResolution(vc *gocv.VideoCapture) {
	s.mu.Lock()
	res := s.pendingRes
	s.pendingRes = nil
	s.mu.Unlock()

	if res == nil {
		return
	}
	if res.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
	}
	if res.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	}
}

// Close は読み取りゴルーチンに停止を通知する
func (s *opencvSession) Close() error {
	s.stop()
	return nil
}

// Kill はCloseと同じ。OpenCVはプロセス内で動作するため終了させるワーカーは無い
func (s *opencvSession) Kill() error {
	return s.Close()
}
