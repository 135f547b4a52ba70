package unlocker

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// CodeRegion is the mapped main module as seen through the target's memory.
type CodeRegion struct {
	Memory Memory
	Start  uintptr
	End    uintptr
	Arch   Arch
}

func CodeRegionOf(m Memory, mod Module, arch Arch) CodeRegion {
	return CodeRegion{Memory: m, Start: mod.BaseOfDll, End: mod.End(), Arch: arch}
}

// SingletonLocator finds addresses that are believed to hold the pointer
// to the task scheduler singleton.
type SingletonLocator interface {
	Name() string
	Locate(code CodeRegion) ([]uintptr, error)
}

// HelperRule matches a caller of the scheduler getter, follows the
// call into the getter and decodes the load of the singleton pointer.
type HelperRule struct {
	Label  string
	Caller Pattern
	CallAt int // offset of the call opcode inside Caller
	Load   Pattern
	Window int // how much of the getter to search for Load
}

func (r HelperRule) Name() string { return r.Label }

func (r HelperRule) Locate(code CodeRegion) ([]uintptr, error) {
	site, found, err := ScanRange(code.Memory, r.Caller, code.Start, code.End)
	if err != nil {
		return nil, errors.Wrap(err, r.Label)
	}
	if !found {
		return nil, ruleMiss{r.Label}
	}

	callEA := site + uintptr(r.CallAt)
	call, err := ReadBytes(code.Memory, callEA, r.Caller.Length()-r.CallAt)
	if err != nil {
		return nil, errors.Wrap(err, r.Label)
	}
	getter, err := decodeCallTarget(call, callEA, code.Arch)
	if err != nil {
		return nil, errors.Wrap(err, r.Label)
	}

	log := Log.WithField("rule", r.Label)
	log.Infof("GetTaskScheduler: %x", getter)

	window, err := ReadBytes(code.Memory, getter, r.Window)
	if err != nil {
		return nil, errors.Wrap(err, r.Label)
	}
	if Log.IsLevelEnabled(logrus.TraceLevel) {
		log.Tracef("getter:\n%s", HexDump(window, getter))
	}

	i := r.Load.Find(window)
	if i == -1 {
		return nil, errors.Wrapf(ErrPatternAbsent, "%s: no singleton load in getter at %x", r.Label, getter)
	}

	ptr, err := decodeLoadAddress(window[i:], getter+uintptr(i), code.Arch)
	if err != nil {
		return nil, errors.Wrap(err, r.Label)
	}
	return []uintptr{ptr}, nil
}

// TailRule collects the distinct load addresses of every getter epilogue
// matching Tail. Only a result of exactly Threshold addresses counts.
type TailRule struct {
	Label     string
	Tail      Pattern
	Threshold int
	Limit     uintptr // only the first Limit bytes of the region are searched, 0 for all
}

func (r TailRule) Name() string { return r.Label }

func (r TailRule) Locate(code CodeRegion) ([]uintptr, error) {
	stop := code.End
	if r.Limit != 0 && code.Start+r.Limit < stop {
		stop = code.Start + r.Limit
	}

	var candidates []uintptr
	for ea := code.Start; ea < stop; {
		site, found, err := ScanRange(code.Memory, r.Tail, ea, stop)
		if err != nil {
			return nil, errors.Wrap(err, r.Label)
		}
		if !found {
			break
		}

		tail, err := ReadBytes(code.Memory, site, r.Tail.Length())
		if err != nil {
			return nil, errors.Wrap(err, r.Label)
		}
		ptr, err := decodeLoadAddress(tail, site, code.Arch)
		if err != nil {
			return nil, errors.Wrap(err, r.Label)
		}

		candidates = lo.Uniq(append(candidates, ptr))
		if len(candidates) >= r.Threshold {
			break
		}
		ea = site + 1
	}

	Log.WithField("rule", r.Label).Infof("GetTaskScheduler: found %d candidates", len(candidates))

	if len(candidates) != r.Threshold {
		return nil, errors.Wrapf(ErrInconclusive, "%s: %d of %d candidates", r.Label, len(candidates), r.Threshold)
	}
	return candidates, nil
}

// signature in the "x?" mask form, '?' bytes of sig are ignored
func sig(s, mask string) Pattern {
	return MaskedPattern([]byte(s), mask)
}

// 32-bit builds load the singleton with mov eax, [abs32]; mov ecx, [ebp-0Ch]
var load32 = sig("\xA1\x00\x00\x00\x00\x8B\x4D\xF4", "x????xxx")

var (
	StudioRule = HelperRule{
		Label:  "studio",
		Caller: sig("\x40\x53\x48\x83\xEC\x20\x0F\xB6\xD9\xE8\x00\x00\x00\x00\x86\x58\x04\x48\x83\xC4\x20\x5B\xC3", "xxxxxxxxxx????xxxxxxxxx"),
		CallAt: 9,
		Load:   sig("\x48\x8B\x05\x00\x00\x00\x00\x48\x83\xC4\x28", "xxx????xxxx"), // mov rax, [rip+x]; add rsp, 28h
		Window: 0x100,
	}
	LTCGRule = HelperRule{
		Label:  "ltcg",
		Caller: sig("\x55\x8B\xEC\x83\xE4\xF8\x83\xEC\x08\xE8\x00\x00\x00\x00\x8D\x0C\x24", "xxxxxxxxxx????xxx"),
		CallAt: 9,
		Load:   load32,
		Window: 0x100,
	}
	NonLTCGRule = HelperRule{
		Label:  "non-ltcg",
		Caller: sig("\x55\x8B\xEC\x83\xEC\x10\x56\xE8\x00\x00\x00\x00\x8B\xF0\x8D\x45\xF0", "xxxxxxxx????xxxxx"),
		CallAt: 7,
		Load:   load32,
		Window: 0x100,
	}
	UWPRule = HelperRule{
		Label:  "uwp",
		Caller: sig("\x55\x8B\xEC\x83\xE4\xF8\x83\xEC\x14\x56\xE8\x00\x00\x00\x00\x8D\x4C\x24\x10", "xxxxxxxxxxx????xxxx"),
		CallAt: 10,
		Load:   load32,
		Window: 0x100,
	}
)

// mov rax, [rip+x]; add rsp, 48h; retn
var ProtectedTail = sig("\x48\x8B\x05\x00\x00\x00\x00\x48\x83\xC4\x48\xC3", "xxx????xxxxx")

// keeps the protected scan roughly within .text
const ProtectedScanLimit = 40 << 20

// StrategiesFor returns the strategies for an arch in priority order. On
// x64 a studio rule miss signals the protected layout, so the tail rule
// only runs after it.
func StrategiesFor(arch Arch, threshold int) []SingletonLocator {
	switch arch {
	case Arch64:
		return []SingletonLocator{
			StudioRule,
			TailRule{Label: "protected", Tail: ProtectedTail, Threshold: threshold, Limit: ProtectedScanLimit},
		}
	case Arch32:
		return []SingletonLocator{LTCGRule, NonLTCGRule, UWPRule}
	}
	return nil
}

// LocateScheduler runs strategies in order until one resolves candidates.
// Only a miss of a strategy's identifying pattern moves on to the next one.
func LocateScheduler(code CodeRegion, strategies []SingletonLocator) ([]uintptr, string, error) {
	if len(strategies) == 0 {
		return nil, "", errors.Wrapf(ErrUnsupported, "no strategies for %v", code.Arch)
	}

	var miss error
	for _, s := range strategies {
		candidates, err := s.Locate(code)
		if err == nil {
			return candidates, s.Name(), nil
		}
		var rm ruleMiss
		if !errors.As(err, &rm) {
			return nil, s.Name(), err
		}
		miss = err
	}
	return nil, "", miss
}
