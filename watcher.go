package unlocker

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// Watcher keeps the attached target table in sync with the running
// processes. The table belongs to the goroutine calling Run or Cycle.
type Watcher struct {
	Settings *Settings
	Notifier Notifier

	List     func(ctx context.Context) ([]TargetProcess, error)
	Open     func(TargetProcess) (ProcessHandle, error)
	NewStore func(Module) FlagStore

	targets map[uint32]*Target
	skipped map[uint32]struct{}
	count   atomic.Int32

	appliedCap    float64
	appliedMethod UnlockMethod
}

func NewWatcher(settings *Settings, notifier Notifier) *Watcher {
	w := &Watcher{
		Settings: settings,
		Notifier: notifier,
		Open: func(tp TargetProcess) (ProcessHandle, error) {
			p, err := OpenTarget(tp)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	}
	w.List = func(ctx context.Context) ([]TargetProcess, error) {
		return ListTargets(ctx, w.Settings.UnlockClient, w.Settings.UnlockStudio)
	}
	return w
}

// Count is the number of attached targets. Safe from any goroutine.
func (w *Watcher) Count() int {
	return int(w.count.Load())
}

// Target returns the attached target for pid.
func (w *Watcher) Target(pid uint32) *Target {
	return w.targets[pid]
}

// Run cycles until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Settings.Validate(); err != nil {
		return err
	}
	Log.Info("Watch loop started")

	for {
		w.Cycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.Settings.PollInterval):
		}
	}
}

// Cycle applies settings changes, attaches new processes, ticks the ones
// attached before and purges the ones that exited.
func (w *Watcher) Cycle(ctx context.Context) {
	if w.targets == nil {
		w.targets = map[uint32]*Target{}
		w.skipped = map[uint32]struct{}{}
		w.appliedCap = w.Settings.FPSCap()
		w.appliedMethod = w.Settings.UnlockMethod()
	}

	w.applySettings()

	previous := lo.Keys(w.targets)
	sort.Slice(previous, func(i, j int) bool { return previous[i] < previous[j] })

	procs, err := w.List(ctx)
	if err != nil {
		Log.WithError(err).Warn("Process enumeration failed")
	}

	seen := map[uint32]struct{}{}
	for _, tp := range procs {
		seen[tp.Pid] = struct{}{}
		if _, ok := w.targets[tp.Pid]; ok {
			continue
		}
		if _, ok := w.skipped[tp.Pid]; ok {
			continue
		}
		w.attach(ctx, tp)
	}

	for pid := range w.skipped {
		if _, ok := seen[pid]; !ok {
			delete(w.skipped, pid)
		}
	}

	for _, pid := range previous {
		t := w.targets[pid]
		if t.Process().Exited() {
			Log.WithField("pid", pid).Info("Purging dead process")
			t.Close()
			delete(w.targets, pid)
			Log.Debugf("New size: %d", len(w.targets))
			continue
		}
		t.Tick()
	}

	w.count.Store(int32(len(w.targets)))
}

func (w *Watcher) attach(ctx context.Context, tp TargetProcess) {
	log := Log.WithField("pid", tp.Pid)

	h, err := w.Open(tp)
	if err != nil {
		log.WithError(err).Warn("Unable to open process")
		w.skipped[tp.Pid] = struct{}{}
		return
	}

	log.Infof("Injecting into new %v process", tp.Kind)
	t := NewTarget(h, w.Settings, w.Notifier, w.NewStore)
	if err := t.Attach(ctx, w.Settings.RetryCount); err != nil {
		log.WithError(err).Debug("Attach failed")
	}

	// kept even when attaching failed so it is not retried every cycle
	w.targets[tp.Pid] = t
	log.Debugf("New size: %d", len(w.targets))
}

func (w *Watcher) applySettings() {
	fps, method := w.Settings.FPSCap(), w.Settings.UnlockMethod()

	if method != w.appliedMethod {
		Log.Infof("Unlock method changed to %v", method)
		for _, t := range w.targets {
			t.OnUnlockMethodUpdate()
		}
	}
	if fps != w.appliedCap {
		Log.Infof("FPS cap changed to %v", fps)
		for _, t := range w.targets {
			t.SetFPSCap(fps)
		}
	}

	w.appliedCap, w.appliedMethod = fps, method
}

// Close restores the stock frame delay in every target and releases them.
func (w *Watcher) Close() {
	for pid, t := range w.targets {
		t.Restore()
		t.Close()
		delete(w.targets, pid)
	}
	w.count.Store(0)
}
