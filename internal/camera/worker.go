package camera

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessLister はOS上のプロセスを列挙・終了させる
type ProcessLister interface {
	// List は指定名で動作しているプロセスのPID集合を返す
	List(ctx context.Context, name string) (map[int32]struct{}, error)

	// Terminate はPIDに終了要求（SIGTERM相当）を送る
	Terminate(ctx context.Context, pid int32) error

	// Kill はPIDを強制終了（SIGKILL相当）する
	Kill(ctx context.Context, pid int32) error

	// Parent は親プロセスのPIDを返す
	Parent(ctx context.Context, pid int32) (int32, error)
}

// systemProcessLister はgopsutilを使った実装
type systemProcessLister struct{}

// NewSystemProcessLister はOSのプロセス一覧を使うProcessListerを返す
func NewSystemProcessLister() ProcessLister {
	return systemProcessLister{}
}

func (systemProcessLister) List(ctx context.Context, name string) (map[int32]struct{}, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("プロセス一覧の取得に失敗: %w", err)
	}

	pids := make(map[int32]struct{})
	for _, p := range procs {
		// 列挙中に終了したプロセスは名前が取れないので無視する
		n, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if n == name {
			pids[p.Pid] = struct{}{}
		}
	}
	return pids, nil
}

func (systemProcessLister) Terminate(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.TerminateWithContext(ctx)
}

func (systemProcessLister) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}

func (systemProcessLister) Parent(ctx context.Context, pid int32) (int32, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, err
	}
	return p.PpidWithContext(ctx)
}

// maxAncestorDepth は子孫判定で親をたどる上限
const maxAncestorDepth = 16

// WorkerTracker は世代ごとに起動したワーカープロセスを特定する
//
// 起動前のプロセス集合と起動後の集合を比較し、起動前に存在しなかったものだけを
// その世代のワーカーとみなす。同名の無関係なプロセスを終了させないための仕組み。
type WorkerTracker struct {
	lister       ProcessLister
	name         string
	pollInterval time.Duration
}

// NewWorkerTracker は新しいWorkerTrackerを作成する
func NewWorkerTracker(lister ProcessLister, name string) *WorkerTracker {
	if lister == nil {
		lister = NewSystemProcessLister()
	}
	return &WorkerTracker{
		lister:       lister,
		name:         name,
		pollInterval: 50 * time.Millisecond,
	}
}

// Name は追跡対象のプロセス名を返す
func (t *WorkerTracker) Name() string {
	return t.name
}

// Snapshot は現在動作中のワーカーのPID集合を返す
func (t *WorkerTracker) Snapshot(ctx context.Context) (map[int32]struct{}, error) {
	return t.lister.List(ctx, t.name)
}

// AwaitNew はbeforeに含まれないワーカーが現れるまで待つ
// 新しいワーカーが複数見つかった場合、preferredが含まれていればそれを返す。
// preferredが見つからない場合は、preferredの子孫だけをワーカーとして認める
// （ラッパースクリプト経由の起動）。同じ時間帯に起動した無関係なワーカーは選ばない。
func (t *WorkerTracker) AwaitNew(ctx context.Context, before map[int32]struct{}, preferred int32) (int32, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	accept := func(pid int32) bool {
		return preferred <= 0 || t.isDescendant(ctx, pid, preferred)
	}

	for {
		current, err := t.lister.List(ctx, t.name)
		if err == nil {
			if pid, ok := pickNewWorker(before, current, preferred, accept); ok {
				return pid, nil
			}
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("ワーカー %s の起動を確認できません: %w", t.name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// isDescendant はpidがrootの子孫かどうかを親をたどって判定する
func (t *WorkerTracker) isDescendant(ctx context.Context, pid, root int32) bool {
	for range maxAncestorDepth {
		parent, err := t.lister.Parent(ctx, pid)
		if err != nil || parent <= 1 {
			return false
		}
		if parent == root {
			return true
		}
		pid = parent
	}
	return false
}

// Terminate は指定ワーカーに終了要求を送る
func (t *WorkerTracker) Terminate(ctx context.Context, pid int32) error {
	if pid <= 0 {
		return nil
	}
	return t.lister.Terminate(ctx, pid)
}

// Kill は指定ワーカーを強制終了する
func (t *WorkerTracker) Kill(ctx context.Context, pid int32) error {
	if pid <= 0 {
		return nil
	}
	return t.lister.Kill(ctx, pid)
}

// pickNewWorker はbeforeに無くcurrentにあるPIDを選ぶ
// preferred以外はacceptを通ったものだけが対象で、その中の最小PIDを返す
func pickNewWorker(before, current map[int32]struct{}, preferred int32, accept func(int32) bool) (int32, bool) {
	var candidates []int32
	for pid := range current {
		if _, existed := before[pid]; existed {
			continue
		}
		if pid == preferred {
			return pid, true
		}
		candidates = append(candidates, pid)
	}

	slices.Sort(candidates)
	for _, pid := range candidates {
		if accept == nil || accept(pid) {
			return pid, true
		}
	}
	return 0, false
}
