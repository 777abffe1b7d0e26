package camera

import (
	"image/color"
	"testing"
	"time"
)

func TestStallPolicy_ThresholdFor(t *testing.T) {
	tests := []struct {
		name   string
		policy StallPolicy
		delay  time.Duration
		want   int
	}{
		{"間隔なし", DefaultStallPolicy(), 0, 5000},
		{"200ms", DefaultStallPolicy(), 200 * time.Millisecond, 25},
		{"1秒", DefaultStallPolicy(), time.Second, 125},
		{"切り上げ", DefaultStallPolicy(), 10 * time.Millisecond, 2},
		{"明示指定", StallPolicy{FPSEstimate: 25, SpanFactor: 5, DefaultThreshold: 5000, Threshold: 7}, time.Second, 7},
		{"最小値", StallPolicy{}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ThresholdFor(tt.delay); got != tt.want {
				t.Errorf("Expected threshold %d, got %d", tt.want, got)
			}
		})
	}
}

func TestStallDetector_Observe(t *testing.T) {
	const threshold = 3
	detector := NewStallDetector(threshold)
	red := NewSolidFrame(2, 2, color.RGBA{R: 255, A: 255})
	blue := NewSolidFrame(2, 2, color.RGBA{B: 255, A: 255})

	if v := detector.Observe(red); v != VerdictAlive {
		t.Fatalf("Expected first frame to be alive, got %s", v)
	}

	// 閾値回までの重複は許容される
	for i := 1; i <= threshold; i++ {
		if v := detector.Observe(red); v != VerdictAlive {
			t.Fatalf("Expected repeat %d to be alive, got %s", i, v)
		}
	}

	if v := detector.Observe(red); v != VerdictStalled {
		t.Fatalf("Expected repeat %d to be stalled, got %s", threshold+1, v)
	}

	// 異なるフレームでカウンタが戻る
	if v := detector.Observe(blue); v != VerdictAlive {
		t.Errorf("Expected changed frame to be alive, got %s", v)
	}
	if detector.Count() != 0 {
		t.Errorf("Expected count 0 after change, got %d", detector.Count())
	}
}

func TestStallDetector_Reset(t *testing.T) {
	detector := NewStallDetector(1)
	frame := NewSolidFrame(2, 2, color.RGBA{G: 255, A: 255})

	detector.Observe(frame)
	detector.Observe(frame)
	if v := detector.Observe(frame); v != VerdictStalled {
		t.Fatalf("Expected stalled, got %s", v)
	}

	detector.Reset()
	if v := detector.Observe(frame); v != VerdictAlive {
		t.Errorf("Expected alive after reset, got %s", v)
	}
	if detector.Count() != 0 {
		t.Errorf("Expected count 0 after reset, got %d", detector.Count())
	}
}

func TestNewStallDetector_MinimumThreshold(t *testing.T) {
	if got := NewStallDetector(0).Threshold(); got != 1 {
		t.Errorf("Expected threshold 1, got %d", got)
	}
}
