package camera

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mattn/go-mjpeg"
)

// mjpegSession はHTTPのmultipart MJPEGストリームを読み取るセッション
// ワーカープロセスは持たないため、KillはCloseと同じ動作になる
type mjpegSession struct {
	baseSession

	cancel context.CancelFunc
	res    *http.Response
}

// openMJPEG はURLに接続してMJPEGデコーダを作成する
func openMJPEG(ctx context.Context, src SourceConfig, client *http.Client) (Session, error) {
	if client == nil {
		client = http.DefaultClient
	}

	// セッションの寿命はOpenのctxではなくCloseで決まる
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(sessCtx, http.MethodGet, src.Source, nil)
	if err != nil {
		cancel()
		return nil, &OpenError{Source: src.Source, Backend: BackendMJPEG, Err: err}
	}

	res, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, &OpenError{Source: src.Source, Backend: BackendMJPEG, Err: err}
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		cancel()
		return nil, &OpenError{Source: src.Source, Backend: BackendMJPEG, Err: fmt.Errorf("予期しないステータス: %s", res.Status)}
	}

	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		_ = res.Body.Close()
		cancel()
		return nil, &OpenError{Source: src.Source, Backend: BackendMJPEG, Err: fmt.Errorf("MJPEGデコーダの作成に失敗: %w", err)}
	}

	s := &mjpegSession{cancel: cancel, res: res}
	s.init(BackendMJPEG, src.Source)
	s.startPump(func() (*Frame, error) {
		img, err := dec.Decode()
		if err != nil {
			return nil, err
		}
		return NewFrame(img), nil
	}, nil)

	return s, nil
}

// Close は接続を切断する
func (s *mjpegSession) Close() error {
	if !s.stop() {
		return nil
	}
	s.cancel()
	return s.res.Body.Close()
}

// Kill は接続を切断する
func (s *mjpegSession) Kill() error {
	return s.Close()
}
