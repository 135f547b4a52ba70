package unlocker

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type State int

const (
	NotStarted State = iota
	ModuleFound
	CandidatesFound
	FieldFound
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case ModuleFound:
		return "module found"
	case CandidatesFound:
		return "candidates found"
	case FieldFound:
		return "field found"
	}
	return "unknown"
}

// Target drives discovery of the frame delay in one attached process and
// owns its handle.
type Target struct {
	proc     ProcessHandle
	settings *Settings
	notifier Notifier
	newStore func(Module) FlagStore
	log      *logrus.Entry

	module      Module
	arch        Arch
	candidates  []uintptr
	field       uintptr
	state       State
	retriesLeft int
	attempts    int
	gaveUp      bool
	useFlags    bool
	flags       FlagStore
}

func NewTarget(proc ProcessHandle, settings *Settings, notifier Notifier, newStore func(Module) FlagStore) *Target {
	if newStore == nil {
		newStore = func(m Module) FlagStore { return AppSettingsFor(m) }
	}
	return &Target{
		proc:     proc,
		settings: settings,
		notifier: notifier,
		newStore: newStore,
		log:      pidLog(proc.ProcessID()),
	}
}

func (t *Target) Process() ProcessHandle { return t.proc }
func (t *Target) State() State           { return t.state }
func (t *Target) GaveUp() bool           { return t.gaveUp }
func (t *Target) UsesFlags() bool        { return t.useFlags }
func (t *Target) Module() Module         { return t.module }
func (t *Target) Arch() Arch             { return t.arch }
func (t *Target) Candidates() []uintptr  { return t.candidates }
func (t *Target) RetriesLeft() int       { return t.retriesLeft }

// Attempts counts the ticks that ran a discovery step.
func (t *Target) Attempts() int { return t.attempts }

// FieldAddress is 0 until the frame delay was found.
func (t *Target) FieldAddress() uintptr { return t.field }

func (t *Target) Found() bool { return t.state == FieldFound }

// IsLikelyProtected guesses whether the anti-tamper layer is present.
func (t *Target) IsLikelyProtected() bool {
	return t.proc.Kind() != KindEditor && t.arch == Arch64
}

// Attach locates the main module, picks the unlock method and runs the
// first tick. A failure here is terminal for the target.
func (t *Target) Attach(ctx context.Context, retryCount int) error {
	t.retriesLeft = retryCount

	mod, err := LocateModule(ctx, t.proc, t.settings.ModuleBackoff)
	if err != nil {
		t.gaveUp = true
		t.notifier.Error(t.proc.ProcessID(), StageModule, StageMessage(StageModule))
		return err
	}
	t.log.Infof("Process base: %x (size %d)", mod.BaseOfDll, mod.SizeOfImage)

	// a small window exists where the security daemon can be attached to
	if err := CheckModuleSize(mod, t.settings.MinModuleSize); err != nil {
		t.log.Info("Ignoring security daemon process")
		t.gaveUp = true
		return err
	}

	arch, err := DetectArch(t.proc, mod)
	if err != nil {
		t.gaveUp = true
		t.notifier.Error(t.proc.ProcessID(), StageModule, StageMessage(StageModule))
		return err
	}
	t.log.Debugf("Image is %v", arch)

	t.module = mod
	t.arch = arch
	t.state = ModuleFound
	t.flags = t.newStore(mod)

	t.OnUnlockMethodUpdate()
	t.Tick()
	return nil
}

// Tick advances discovery by one step.
func (t *Target) Tick() {
	if t.useFlags || t.gaveUp || t.state == NotStarted || t.state == FieldFound {
		return
	}
	t.attempts++

	if t.state == ModuleFound {
		start := time.Now()
		code := CodeRegionOf(t.proc, t.module, t.arch)
		candidates, rule, err := LocateScheduler(code, StrategiesFor(t.arch, t.settings.CandidateThreshold))
		if err != nil {
			if errors.Is(err, ErrInconclusive) {
				t.log.WithError(err).Debug("Still looking for TaskScheduler")
				return
			}
			t.fail(StagePattern, err)
			return
		}

		t.log.Infof("Found TaskScheduler candidates in %dms (%s)", time.Since(start).Milliseconds(), rule)
		t.candidates = candidates
		t.state = CandidatesFound
	}

	field, err := ResolveFrameDelay(t.proc, t.arch, t.candidates, t.settings.Search, t.proc.ProcessID())
	if err != nil {
		switch {
		case errors.Is(err, ErrSingletonUnset):
			t.log.Debug("TaskScheduler not created yet")
		case errors.Is(err, ErrValidationFailed):
			t.fail(StageValidation, err)
		default:
			t.fail(StageScan, err)
		}
		return
	}

	t.field = field
	t.state = FieldFound

	// first write
	t.SetFPSCap(t.settings.FPSCap())
}

// fail charges the retry budget and gives up once it is spent.
func (t *Target) fail(stage Stage, err error) {
	t.log.WithError(err).WithField("retries", t.retriesLeft).Debugf("%v stage failed", stage)
	if t.retriesLeft <= 0 {
		t.gaveUp = true
		t.log.WithError(ErrExhausted).Warnf("Giving up after %v failure", stage)
		t.notifier.Error(t.proc.ProcessID(), stage, StageMessage(stage))
		return
	}
	t.retriesLeft--
}

// SetFPSCap applies a cap through the active unlock method.
func (t *Target) SetFPSCap(fps float64) {
	if t.useFlags {
		t.writeFlags(FlagValue(fps))
	} else {
		t.writeMemory(fps)
	}
}

// Restore puts back the stock 60 fps delay.
func (t *Target) Restore() {
	t.writeMemory(60)
}

func (t *Target) writeMemory(fps float64) {
	if t.field == 0 {
		return
	}
	if err := WriteValue(t.proc, t.field, FrameDelay(fps)); err != nil {
		t.log.WithError(err).Error("Frame delay write failed")
		t.notifier.Error(t.proc.ProcessID(), StageWrite, StageMessage(StageWrite))
	}
}

func (t *Target) writeFlags(fps int) {
	if t.flags == nil {
		return
	}

	t.log.Infof("Updating %s in %s to %d", TargetFPSFlag, t.flags.Location(), fps)
	changed, err := UpdateTargetFPS(t.flags, fps)
	if err != nil {
		t.log.WithError(err).Error("Flags write failed")
		t.notifier.Error(t.proc.ProcessID(), StageFlags, StageMessage(StageFlags))
		return
	}
	if changed {
		t.notifier.Info(t.proc.ProcessID(), fmt.Sprintf(
			"Set %s to %d in %s. Restarting Roblox may be required for changes to take effect.",
			TargetFPSFlag, fps, t.flags.Location()))
	}
}

func (t *Target) flagActive() bool {
	if t.flags == nil {
		return false
	}
	fps, ok, err := t.flags.TargetFPS()
	return err == nil && ok && fps > 0
}

// OnUnlockMethodUpdate switches between writing memory and writing the
// flags file, undoing the effect of the method being left.
func (t *Target) OnUnlockMethodUpdate() {
	method := t.settings.UnlockMethod()
	if method == FlagsFile || (method == Hybrid && t.IsLikelyProtected()) {
		t.log.Info("Using FlagsFile mode")
		if !t.useFlags {
			// leave the flag in charge
			t.writeMemory(0)
		}
		t.useFlags = true
		t.writeFlags(FlagValue(t.settings.FPSCap()))
		return
	}

	t.log.Info("Using MemoryWrite mode")
	if t.useFlags || t.flagActive() {
		t.writeFlags(DefaultTargetFPS)
	}
	wasFlags := t.useFlags
	t.useFlags = false
	if wasFlags {
		t.writeMemory(t.settings.FPSCap())
	}
}

// Close releases the process handle.
func (t *Target) Close() error {
	return t.proc.Close()
}
