package camera

import (
	"context"
	"errors"
	"image/color"
	"io"
	"testing"
	"time"
)

// uniqueFrame はiごとに異なる色の小さなフレームを返す
func uniqueFrame(i int) *Frame {
	return NewSolidFrame(4, 4, color.RGBA{R: uint8(i), G: uint8(i >> 8), B: uint8(i >> 16), A: 255})
}

func testSupervisorConfig() SupervisorConfig {
	cfg := DefaultSupervisorConfig()
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.StallCooldown = 10 * time.Millisecond
	cfg.ReadTimeout = 0
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startSupervisor(t *testing.T, store *FrameStore, opener Opener, cfg SupervisorConfig) *Supervisor {
	t.Helper()
	sup := NewSupervisor(store, opener, cfg, nil)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return sup
}

func TestSupervisor_RetriesFailedOpens(t *testing.T) {
	opener := NewMockOpener(func(_, i int) (*Frame, error) {
		return uniqueFrame(i), nil
	})
	opener.FailNextOpens(2, errors.New("device busy"))

	store := NewFrameStore(Resolution{}, false)
	sup := startSupervisor(t, store, opener, testSupervisorConfig())

	waitFor(t, 2*time.Second, func() bool {
		return sup.Status().State == StateRunning && store.Read() != nil
	})

	status := sup.Status()
	if status.Backoffs != 2 {
		t.Errorf("Expected 2 backoffs, got %d", status.Backoffs)
	}
	if opener.OpenCount() != 3 {
		t.Errorf("Expected 3 open calls, got %d", opener.OpenCount())
	}
	if status.Opens != 1 {
		t.Errorf("Expected 1 successful open, got %d", status.Opens)
	}
	if status.Generation != opener.Sessions()[0].Info().Generation {
		t.Errorf("Expected generation %s, got %s", opener.Sessions()[0].Info().Generation, status.Generation)
	}
}

func TestSupervisor_RecoversFromStall(t *testing.T) {
	const threshold = 3
	frozen := uniqueFrame(7)

	opener := NewMockOpener(func(gen, i int) (*Frame, error) {
		if gen == 0 {
			return frozen, nil
		}
		return nil, nil
	})

	cfg := testSupervisorConfig()
	cfg.Stall.Threshold = threshold

	store := NewFrameStore(Resolution{}, false)
	sup := startSupervisor(t, store, opener, cfg)

	waitFor(t, 2*time.Second, func() bool {
		s := sup.Status()
		return s.Stalls == 1 && s.State == StateRunning && opener.OpenCount() == 2
	})

	sessions := opener.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if !sessions[0].Killed() {
		t.Error("Expected stalled session to be killed")
	}
	if sessions[1].Closed() {
		t.Error("Expected new session to stay open")
	}
	// 1枚目と閾値以内の重複は公開され、閾値を超えた重複は公開されない
	if got := sessions[0].Reads(); got != threshold+2 {
		t.Errorf("Expected %d reads from stalled session, got %d", threshold+2, got)
	}
	if frame := store.Read(); frame == nil || frame.Seq != threshold+1 {
		t.Errorf("Expected last published seq %d, got %+v", threshold+1, frame)
	}
	if store.IsStalled() {
		t.Error("Expected stalled flag to be cleared after reopening")
	}
}

func TestSupervisor_StalledFlagSurvivesFailedReopen(t *testing.T) {
	var opener *MockOpener
	frozen := uniqueFrame(1)
	opener = NewMockOpener(func(gen, i int) (*Frame, error) {
		if gen == 0 {
			if i == 2 {
				opener.FailNextOpens(1, errors.New("still wedged"))
			}
			return frozen, nil
		}
		return uniqueFrame(i), nil
	})

	cfg := testSupervisorConfig()
	cfg.Stall.Threshold = 1
	cfg.RetryBackoff = 300 * time.Millisecond

	store := NewFrameStore(Resolution{}, false)
	sup := startSupervisor(t, store, opener, cfg)

	waitFor(t, 2*time.Second, func() bool {
		return sup.Status().State == StateRetryBackoff
	})
	if !store.IsStalled() {
		t.Error("Expected stalled flag to remain set while reopening fails")
	}

	waitFor(t, 2*time.Second, func() bool {
		return sup.Status().State == StateRunning && sup.Status().Opens == 2
	})
	if store.IsStalled() {
		t.Error("Expected stalled flag to be cleared once a session opens")
	}
}

func TestSupervisor_ReadErrorClosesAndRetries(t *testing.T) {
	opener := NewMockOpener(func(gen, i int) (*Frame, error) {
		if gen == 0 && i == 1 {
			return nil, io.EOF
		}
		return uniqueFrame(gen*100 + i), nil
	})

	store := NewFrameStore(Resolution{}, false)
	sup := startSupervisor(t, store, opener, testSupervisorConfig())

	waitFor(t, 2*time.Second, func() bool {
		return len(opener.Sessions()) == 2 && sup.Status().State == StateRunning
	})

	first := opener.Sessions()[0]
	if !first.Closed() {
		t.Error("Expected failed session to be closed")
	}
	if first.Killed() {
		t.Error("Expected failed session to be closed gracefully, not killed")
	}
	if sup.Status().Backoffs != 1 {
		t.Errorf("Expected 1 backoff, got %d", sup.Status().Backoffs)
	}
	if sup.Status().Stalls != 0 {
		t.Errorf("Expected no stalls, got %d", sup.Status().Stalls)
	}
}

func TestSupervisor_ReadTimeoutTriggersStallRecovery(t *testing.T) {
	opener := NewMockOpener(func(gen, i int) (*Frame, error) {
		if gen == 0 {
			return nil, nil
		}
		return uniqueFrame(i), nil
	})

	cfg := testSupervisorConfig()
	cfg.ReadTimeout = 20 * time.Millisecond

	store := NewFrameStore(Resolution{}, false)
	sup := startSupervisor(t, store, opener, cfg)

	waitFor(t, 2*time.Second, func() bool {
		return sup.Status().Stalls >= 1 && len(opener.Sessions()) >= 2
	})

	if !opener.Sessions()[0].Killed() {
		t.Error("Expected hung session to be killed")
	}
}

func TestSupervisor_StopClosesSession(t *testing.T) {
	opener := NewMockOpener(func(_, i int) (*Frame, error) {
		return uniqueFrame(i), nil
	})

	cfg := testSupervisorConfig()
	cfg.Delay = time.Millisecond

	store := NewFrameStore(Resolution{}, false)
	sup := NewSupervisor(store, opener, cfg, nil)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sup.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}

	waitFor(t, 2*time.Second, func() bool { return store.Read() != nil })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if sup.Status().State != StateStopped {
		t.Errorf("Expected state stopped, got %s", sup.Status().State)
	}
	if store.IsCapturing() {
		t.Error("Expected capturing to be false after stop")
	}
	if !opener.Sessions()[0].Closed() {
		t.Error("Expected session to be closed after stop")
	}

	// 2回目以降のStopは即座に戻る
	if err := sup.Stop(ctx); err != nil {
		t.Errorf("Expected repeated Stop to succeed, got %v", err)
	}
}

func TestSupervisor_StopDuringBackoff(t *testing.T) {
	opener := NewMockOpener(func(_, i int) (*Frame, error) {
		return uniqueFrame(i), nil
	})
	opener.FailNextOpens(100, errors.New("no device"))

	cfg := testSupervisorConfig()
	cfg.RetryBackoff = time.Hour

	store := NewFrameStore(Resolution{}, false)
	sup := NewSupervisor(store, opener, cfg, nil)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return sup.Status().State == StateRetryBackoff })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Expected Stop to interrupt backoff, got %v", err)
	}
	if sup.Status().LastError == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestSupervisor_StopBeforeStart(t *testing.T) {
	store := NewFrameStore(Resolution{}, false)
	sup := NewSupervisor(store, NewMockOpener(nil), testSupervisorConfig(), nil)

	if err := sup.Stop(context.Background()); err != nil {
		t.Errorf("Expected Stop before Start to succeed, got %v", err)
	}
	if store.IsCapturing() {
		t.Error("Expected capturing to be false")
	}
}

func TestSupervisor_TransformsFrames(t *testing.T) {
	src := NewSolidFrame(4, 2, color.RGBA{R: 255, A: 255})
	// 左上の画素だけ青にする
	copy(src.Image.Pix[0:4], []byte{0, 0, 255, 255})

	opener := NewMockOpener(func(_, i int) (*Frame, error) {
		if i == 0 {
			return src, nil
		}
		return nil, nil
	})

	store := NewFrameStore(Resolution{}, true)
	startSupervisor(t, store, opener, testSupervisorConfig())

	waitFor(t, 2*time.Second, func() bool { return store.Read() != nil })

	frame := store.Read()
	pix := frame.Image.Pix
	last := len(pix) - 4
	if pix[last] != 0 || pix[last+2] != 255 {
		t.Errorf("Expected blue pixel at bottom right after rotation, got %v", pix[last:])
	}
	if pix[0] != 255 || pix[2] != 0 {
		t.Errorf("Expected red pixel at top left after rotation, got %v", pix[0:4])
	}
}

func TestSupervisor_ResizesFrames(t *testing.T) {
	opener := NewMockOpener(func(_, i int) (*Frame, error) {
		if i == 0 {
			return NewSolidFrame(64, 48, color.RGBA{G: 255, A: 255}), nil
		}
		return nil, nil
	})

	store := NewFrameStore(Resolution{Width: 32}, false)
	startSupervisor(t, store, opener, testSupervisorConfig())

	waitFor(t, 2*time.Second, func() bool { return store.Read() != nil })

	got := store.Read().Resolution()
	if got != (Resolution{Width: 32, Height: 24}) {
		t.Errorf("Expected 32x24, got %s", got)
	}
}

func TestSupervisor_ThresholdFromDelay(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.Delay = 200 * time.Millisecond

	sup := NewSupervisor(NewFrameStore(Resolution{}, false), NewMockOpener(nil), cfg, nil)
	if sup.Threshold() != 25 {
		t.Errorf("Expected threshold 25, got %d", sup.Threshold())
	}
}

// 3枚の異なるフレームの後に同一フレームが続くソースで、
// 停止フラグが立ち、再オープン後に下がることを時間を縮めて確認する
func TestSupervisor_StallScenarioScaled(t *testing.T) {
	opener := NewMockOpener(func(gen, i int) (*Frame, error) {
		if gen == 0 {
			if i < 3 {
				return uniqueFrame(i), nil
			}
			if i < 3+200 {
				return uniqueFrame(2), nil
			}
			return nil, nil
		}
		return uniqueFrame(1000 + i), nil
	})

	cfg := testSupervisorConfig()
	cfg.Delay = 2 * time.Millisecond
	// 2ms間隔でも閾値が200ms間隔と同じ25サンプルになるよう係数を合わせる
	cfg.Stall.SpanFactor = 500
	cfg.StallCooldown = 50 * time.Millisecond

	store := NewFrameStore(Resolution{}, false)
	sup := startSupervisor(t, store, opener, cfg)

	if sup.Threshold() != 25 {
		t.Fatalf("Expected threshold 25, got %d", sup.Threshold())
	}

	waitFor(t, 2*time.Second, store.IsStalled)
	waitFor(t, 2*time.Second, func() bool {
		return !store.IsStalled() && sup.Status().Opens == 2
	})

	if sup.Status().Stalls != 1 {
		t.Errorf("Expected 1 stall, got %d", sup.Status().Stalls)
	}
}
