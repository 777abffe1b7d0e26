package camera

import (
	"math"
	"time"
)

// StallPolicy は同一フレームの連続回数の閾値を決めるパラメータ
//
// delay > 0 の場合: 閾値 = ceil(FPSEstimate × delay秒 × SpanFactor)
// delay == 0 の場合: 閾値 = DefaultThreshold
// Threshold > 0 の場合はそれを優先する
type StallPolicy struct {
	FPSEstimate      float64 `yaml:"fps_estimate"`
	SpanFactor       float64 `yaml:"span_factor"`
	DefaultThreshold int     `yaml:"default_threshold"`
	Threshold        int     `yaml:"threshold"`
}

// DefaultStallPolicy はデフォルトの閾値パラメータを返す
func DefaultStallPolicy() StallPolicy {
	return StallPolicy{
		FPSEstimate:      25,
		SpanFactor:       5,
		DefaultThreshold: 5000,
	}
}

// ThresholdFor は取得間隔に対応する閾値を返す（最小1）
func (p StallPolicy) ThresholdFor(delay time.Duration) int {
	if p.Threshold > 0 {
		return p.Threshold
	}

	threshold := p.DefaultThreshold
	if delay > 0 {
		threshold = int(math.Ceil(p.FPSEstimate * delay.Seconds() * p.SpanFactor))
	}
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

// StallDetector は連続するフレームを比較してソースの停止を判定する
// Supervisorのキャプチャゴルーチンからのみ使用するため同期は行わない
type StallDetector struct {
	threshold int
	previous  *Frame
	count     int
}

// NewStallDetector は新しいStallDetectorを作成する
func NewStallDetector(threshold int) *StallDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &StallDetector{threshold: threshold}
}

// Observe はフレームを前回のフレームと比較して判定を返す
// 一度Stalledを返した後はResetされるまでカウンタは戻らない
func (d *StallDetector) Observe(frame *Frame) Verdict {
	if d.previous == nil || !frame.Equal(d.previous) {
		d.previous = frame
		d.count = 0
		return VerdictAlive
	}

	d.count++
	if d.count > d.threshold {
		return VerdictStalled
	}
	return VerdictAlive
}

// Reset はカウンタと前回フレームを破棄する
func (d *StallDetector) Reset() {
	d.previous = nil
	d.count = 0
}

// Count は現在の連続一致回数を返す
func (d *StallDetector) Count() int {
	return d.count
}

// Threshold は閾値を返す
func (d *StallDetector) Threshold() int {
	return d.threshold
}
