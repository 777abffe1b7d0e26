package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SupervisorConfig はキャプチャ監視ループの設定
type SupervisorConfig struct {
	Source        SourceConfig
	Delay         time.Duration // フレーム取得間隔（0で無効）
	RetryBackoff  time.Duration // オープン・読み取り失敗後の待機時間
	StallCooldown time.Duration // 停止検知後、再オープンまでの待機時間
	ReadTimeout   time.Duration // 1フレームの取得を待つ上限（0で無制限）
	Stall         StallPolicy
}

// DefaultSupervisorConfig はデフォルト設定を返す
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Source: SourceConfig{
			Source:  "0",
			Backend: BackendAuto,
		},
		RetryBackoff:  5 * time.Second,
		StallCooldown: 5 * time.Second,
		ReadTimeout:   10 * time.Second,
		Stall:         DefaultStallPolicy(),
	}
}

// Supervisor はセッションを開いてフレームをFrameStoreへ流し続け、
// 停止や失敗を検知したらセッションを作り直す
//
// 状態遷移:
//
//	starting -> running -> stall_recovering -> running ...
//	starting/running -> retry_backoff -> starting
//	(どこからでも) -> stopping -> stopped
//
// キャンセルは FrameStore.StopCapturing による一方向のフラグだけで行い、
// 各状態の区切りと待機中に確認する。
type Supervisor struct {
	store    *FrameStore
	opener   Opener
	cfg      SupervisorConfig
	logger   *slog.Logger
	detector *StallDetector

	// キャプチャゴルーチンだけが触る
	current Session

	mu     sync.RWMutex
	status Status

	started atomic.Bool
	done    chan struct{}
}

// NewSupervisor は新しいSupervisorを作成する
func NewSupervisor(store *FrameStore, opener Opener, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source.Resolution.IsZero() {
		cfg.Source.Resolution, _ = store.Config()
	}

	return &Supervisor{
		store:    store,
		opener:   opener,
		cfg:      cfg,
		logger:   logger,
		detector: NewStallDetector(cfg.Stall.ThresholdFor(cfg.Delay)),
		status:   Status{State: StateStarting},
		done:     make(chan struct{}),
	}
}

// Start はキャプチャゴルーチンを開始する
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("キャプチャは既に開始されています")
	}

	s.logger.Info("キャプチャを開始します",
		"source", s.cfg.Source.Source,
		"backend", s.cfg.Source.Backend,
		"delay", s.cfg.Delay,
		"stall_threshold", s.detector.Threshold(),
	)

	go s.run(ctx)
	return nil
}

// Stop はキャプチャ終了を要求し、ループの終了をctxの期限まで待つ
func (s *Supervisor) Stop(ctx context.Context) error {
	s.store.StopCapturing()
	if !s.started.Load() {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("キャプチャの終了待ちがタイムアウトしました: %w", ctx.Err())
	}
}

// Done はループ終了時にクローズされるチャンネルを返す
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Status は現在の状態を返す
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Threshold は停止判定に使う連続一致回数の閾値を返す
func (s *Supervisor) Threshold() int {
	return s.detector.Threshold()
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.store.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	state := StateStarting
	for {
		if s.shouldStop(ctx) {
			state = StateStopping
		}
		s.setState(state)

		switch state {
		case StateStarting:
			state = s.starting(ctx)
		case StateRunning:
			state = s.running(ctx)
		case StateStallRecovering:
			state = s.recovering(ctx)
		case StateRetryBackoff:
			state = s.backingOff(ctx)
		case StateStopping:
			s.closeCurrent()
			s.setState(StateStopped)
			s.logger.Info("キャプチャを終了しました")
			return
		default:
			s.logger.Error("不明な状態です", "state", state)
			state = StateStopping
		}
	}
}

func (s *Supervisor) starting(ctx context.Context) State {
	if err := s.openSession(ctx); err != nil {
		return StateRetryBackoff
	}
	return StateRunning
}

// running はセッションからフレームを取り続ける
func (s *Supervisor) running(ctx context.Context) State {
	for {
		if s.shouldStop(ctx) {
			return StateStopping
		}

		frame, err := s.pull(ctx)
		if err != nil {
			if s.shouldStop(ctx) {
				return StateStopping
			}
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.Warn("読み取りタイムアウト。ソースが応答していません", "timeout", s.cfg.ReadTimeout)
				s.recordError(fmt.Errorf("%w: %d秒以内にフレームがありません", ErrStalled, int(s.cfg.ReadTimeout.Seconds())))
				s.store.SetStalled(true)
				return StateStallRecovering
			}

			s.logger.Warn("フレームの読み取りに失敗しました", "error", err)
			s.recordError(err)
			s.closeCurrent()
			return StateRetryBackoff
		}

		frame = s.transform(frame)

		if s.detector.Observe(frame) == VerdictStalled {
			s.logger.Warn("同一フレームが続いています。ソースが停止したと判断します",
				"repeats", s.detector.Count(),
				"threshold", s.detector.Threshold(),
			)
			s.recordError(ErrStalled)
			s.store.SetStalled(true)
			return StateStallRecovering
		}

		s.store.Update(frame)
		s.mu.Lock()
		s.status.Frames++
		s.status.LastFrameAt = frame.CapturedAt
		s.mu.Unlock()

		if s.cfg.Delay > 0 && !s.sleep(ctx, s.cfg.Delay) {
			return StateStopping
		}
	}
}

// recovering は停止したワーカーを強制終了し、クールダウン後に新しい世代を開く
// 失敗した場合、stalledはセッションが再び動き出すまで立てたままにする
func (s *Supervisor) recovering(ctx context.Context) State {
	s.mu.Lock()
	s.status.Stalls++
	s.mu.Unlock()

	if s.current != nil {
		info := s.current.Info()
		if err := s.current.Kill(); err != nil {
			s.logger.Warn("ワーカーの強制終了に失敗しました", "generation", info.Generation, "pid", info.WorkerPID, "error", err)
		} else {
			s.logger.Info("ワーカーを強制終了しました", "generation", info.Generation, "pid", info.WorkerPID)
		}
		s.current = nil
	}

	if !s.sleep(ctx, s.cfg.StallCooldown) {
		return StateStopping
	}

	if err := s.openSession(ctx); err != nil {
		return StateRetryBackoff
	}
	return StateRunning
}

func (s *Supervisor) backingOff(ctx context.Context) State {
	s.mu.Lock()
	s.status.Backoffs++
	s.mu.Unlock()

	s.logger.Info("再試行まで待機します", "delay", s.cfg.RetryBackoff)
	if !s.sleep(ctx, s.cfg.RetryBackoff) {
		return StateStopping
	}
	return StateStarting
}

// openSession は新しい世代のセッションを開き、検知器と停止フラグをリセットする
func (s *Supervisor) openSession(ctx context.Context) error {
	sess, err := s.opener.Open(ctx, s.cfg.Source)
	if err != nil {
		s.logger.Warn("ソースを開けませんでした", "source", s.cfg.Source.Source, "error", err)
		s.recordError(err)
		return err
	}

	info := sess.Info()
	if setter, ok := sess.(ResolutionSetter); ok && !s.cfg.Source.Resolution.IsZero() {
		if err := setter.SetResolution(s.cfg.Source.Resolution); err != nil {
			s.logger.Warn("解像度を適用できませんでした", "resolution", s.cfg.Source.Resolution.String(), "error", err)
		}
	}

	s.current = sess
	s.detector.Reset()
	s.store.SetStalled(false)

	s.mu.Lock()
	s.status.Opens++
	s.status.Generation = info.Generation
	s.status.Backend = info.Backend
	s.status.WorkerPID = info.WorkerPID
	s.status.LastError = ""
	s.mu.Unlock()

	s.logger.Info("セッションを開きました",
		"generation", info.Generation,
		"backend", info.Backend,
		"worker_pid", info.WorkerPID,
	)
	return nil
}

// pull は読み取りタイムアウト付きで次のフレームを取得する
func (s *Supervisor) pull(ctx context.Context) (*Frame, error) {
	if s.cfg.ReadTimeout <= 0 {
		return s.current.PullNext(ctx)
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	return s.current.PullNext(pctx)
}

// transform は回転と解像度変換を適用する
func (s *Supervisor) transform(frame *Frame) *Frame {
	res, rotate := s.store.Config()
	if !res.IsZero() {
		frame = frame.Resize(res)
	}
	if rotate {
		frame = frame.Rotate180()
	}
	return frame
}

func (s *Supervisor) closeCurrent() {
	if s.current == nil {
		return
	}
	info := s.current.Info()
	if err := s.current.Close(); err != nil {
		s.logger.Warn("セッションのクローズに失敗しました", "generation", info.Generation, "error", err)
	}
	s.current = nil
}

// sleep はdだけ待つ。途中で終了要求があればfalseを返す
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !s.shouldStop(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return !s.shouldStop(ctx)
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) shouldStop(ctx context.Context) bool {
	return ctx.Err() != nil || !s.store.IsCapturing()
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	prev := s.status.State
	s.status.State = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Debug("状態遷移", "from", prev, "to", state)
	}
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
}
