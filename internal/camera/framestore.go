package camera

import (
	"sync"
)

// FrameStore は最新フレームと共有状態を保持する
//
// 書き込みは常にSupervisor（現在の世代のセッション）から1本のみで、
// 読み出しは任意数のストリームやスナップショットから並行に行われる。
// ロックは個々のフィールドアクセスの間だけ保持し、I/Oやエンコードの最中には保持しない。
type FrameStore struct {
	mu        sync.RWMutex
	frame     *Frame
	seq       uint64
	capturing bool
	stalled   bool

	// 構築時に固定される設定
	resolution Resolution
	rotate     bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewFrameStore は新しいFrameStoreを作成する
// 作成直後からcapturingはtrueで、StopCapturingで一度だけfalseになる
func NewFrameStore(resolution Resolution, rotate bool) *FrameStore {
	return &FrameStore{
		capturing:  true,
		resolution: resolution,
		rotate:     rotate,
		done:       make(chan struct{}),
	}
}

// Update は保持しているフレームを置き換える
// 渡したフレームの画像は以後変更してはならない
func (s *FrameStore) Update(frame *Frame) {
	if frame == nil {
		return
	}

	// 画素は共有し、メタデータだけを複製して採番する
	published := *frame

	s.mu.Lock()
	s.seq++
	published.Seq = s.seq
	s.frame = &published
	s.mu.Unlock()
}

// Read は最新フレームを返す。まだ無い場合はnil
func (s *FrameStore) Read() *Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// SetStalled は停止検知フラグを設定する
func (s *FrameStore) SetStalled(stalled bool) {
	s.mu.Lock()
	s.stalled = stalled
	s.mu.Unlock()
}

// IsStalled は停止検知フラグを返す
func (s *FrameStore) IsStalled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stalled
}

// IsCapturing はキャプチャ継続中かどうかを返す
func (s *FrameStore) IsCapturing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capturing
}

// StopCapturing はキャプチャ終了を要求する（冪等）
func (s *FrameStore) StopCapturing() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.capturing = false
		s.mu.Unlock()
		close(s.done)
	})
}

// Done はStopCapturingが呼ばれるとクローズされるチャンネルを返す
func (s *FrameStore) Done() <-chan struct{} {
	return s.done
}

// Config は構築時の解像度と回転設定を返す
func (s *FrameStore) Config() (Resolution, bool) {
	return s.resolution, s.rotate
}
