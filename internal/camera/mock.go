package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FrameScript は世代genのi番目（0始まり）の読み取り結果を返す
// nil, nil を返すとセッションはctxが終わるかCloseされるまでブロックする
type FrameScript func(gen, i int) (*Frame, error)

// MockOpener はテスト用のOpener実装
type MockOpener struct {
	mu       sync.Mutex
	script   FrameScript
	failNext int
	failErr  error
	opens    int
	sessions []*MockSession
}

// NewMockOpener は新しいMockOpenerを作成する
func NewMockOpener(script FrameScript) *MockOpener {
	return &MockOpener{script: script}
}

// FailNextOpens は次のn回のOpenをerrで失敗させる
func (m *MockOpener) FailNextOpens(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Open はスクリプトに従うMockSessionを返す
func (m *MockOpener) Open(_ context.Context, src SourceConfig) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens++
	if m.failNext > 0 {
		m.failNext--
		err := m.failErr
		if err == nil {
			err = fmt.Errorf("モックのオープン失敗")
		}
		return nil, &OpenError{Source: src.Source, Backend: src.Backend, Err: err}
	}

	gen := len(m.sessions)
	sess := &MockSession{
		info: SessionInfo{
			Generation: uuid.New().String(),
			Backend:    src.Backend,
			Source:     src.Source,
			WorkerPID:  int32(1000 + gen),
		},
		gen:      gen,
		script:   m.script,
		closedCh: make(chan struct{}),
	}
	m.sessions = append(m.sessions, sess)
	return sess, nil
}

// OpenCount はOpenが呼ばれた回数（失敗を含む）を返す
func (m *MockOpener) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Sessions は開いたセッションを世代順に返す
func (m *MockOpener) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSession(nil), m.sessions...)
}

// MockSession はテスト用のSession実装
type MockSession struct {
	info   SessionInfo
	gen    int
	script FrameScript

	mu        sync.Mutex
	reads     int
	closed    bool
	killed    bool
	closedCh  chan struct{}
	closeOnce sync.Once
}

// PullNext はスクリプトの次の結果を返す
func (s *MockSession) PullNext(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	i := s.reads
	s.reads++
	s.mu.Unlock()

	frame, err := s.script(s.gen, i)
	if err != nil {
		return nil, &ReadError{Generation: s.info.Generation, Err: err}
	}
	if frame == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closedCh:
			return nil, ErrSessionClosed
		}
	}

	out := *frame
	out.Generation = s.info.Generation
	if out.CapturedAt.IsZero() {
		out.CapturedAt = time.Now()
	}
	return &out, nil
}

// Close はセッションを閉じる
func (s *MockSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closedCh) })
	return nil
}

// Kill は強制終了を記録してセッションを閉じる
func (s *MockSession) Kill() error {
	s.mu.Lock()
	s.killed = true
	s.mu.Unlock()
	return s.Close()
}

// Info はセッション情報を返す
func (s *MockSession) Info() SessionInfo {
	return s.info
}

// Closed はClose（またはKill）されたかを返す
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Killed はKillされたかを返す
func (s *MockSession) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// Reads はPullNextが呼ばれた回数を返す
func (s *MockSession) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// NewSolidFrame は単色で塗りつぶしたフレームを作成する
func NewSolidFrame(width, height int, c color.RGBA) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return &Frame{Image: img}
}
