package unlocker

import (
	"slices"
	"testing"

	"github.com/pkg/errors"
)

func TestStudioRule(t *testing.T) {
	p := newStudioImage()
	code := CodeRegionOf(p, p.module, Arch64)

	got, err := StudioRule.Locate(code)
	if err != nil {
		t.Fatal(err)
	}
	if want := []uintptr{imageBase + pointerAt}; !slices.Equal(got, want) {
		t.Fatalf("Locate() = %x, want %x", got, want)
	}
}

func TestHelperRuleMissingLoadStopsSearch(t *testing.T) {
	p := newStudioImage()
	// break the load inside the getter
	p.put(imageBase+getterAt+4, hexBytes("90 90 90"))
	code := CodeRegionOf(p, p.module, Arch64)

	_, rule, err := LocateScheduler(code, StrategiesFor(Arch64, 5))
	if !errors.Is(err, ErrPatternAbsent) {
		t.Fatalf("LocateScheduler() error = %v, want ErrPatternAbsent", err)
	}
	if rule != "studio" {
		t.Fatalf("rule = %q, want studio", rule)
	}
}

// putTails writes one protected getter epilogue per target, 0x40 apart.
func putTails(mem *fakeMemory, at uintptr, targets []uintptr) {
	for i, target := range targets {
		site := at + uintptr(i)*0x40
		mem.put(site, concat(hexBytes("48 8B 05"), rel32(site+7, target), hexBytes("48 83 C4 48 C3")))
	}
}

func newProtectedImage(targets []uintptr) *fakeProcess {
	mem := newFakeMemory()
	mem.Map(imageBase, imageSize)
	mem.put(imageBase, peHeader(0x8664))
	putTails(mem, imageBase+0x400, targets)

	return &fakeProcess{
		fakeMemory: mem,
		pid:        4321,
		kind:       KindClient,
		module:     Module{BaseOfDll: imageBase, SizeOfImage: imageSize, Name: "RobloxPlayerBeta.exe"},
	}
}

func TestTailRuleCollectsDistinctCandidates(t *testing.T) {
	a, b, c, d, e := uintptr(imageBase+0x3000), uintptr(imageBase+0x3008), uintptr(imageBase+0x3010), uintptr(imageBase+0x3018), uintptr(imageBase+0x3020)
	p := newProtectedImage([]uintptr{a, b, a, c, d, b, e})
	code := CodeRegionOf(p, p.module, Arch64)

	got, rule, err := LocateScheduler(code, StrategiesFor(Arch64, 5))
	if err != nil {
		t.Fatal(err)
	}
	if rule != "protected" {
		t.Fatalf("rule = %q, want protected", rule)
	}
	if want := []uintptr{a, b, c, d, e}; !slices.Equal(got, want) {
		t.Fatalf("candidates = %x, want %x", got, want)
	}
}

func TestTailRuleStopsAtThreshold(t *testing.T) {
	var targets []uintptr
	for i := 0; i < 7; i++ {
		targets = append(targets, uintptr(imageBase+0x3000+i*8))
	}
	p := newProtectedImage(targets)

	rule := TailRule{Label: "protected", Tail: ProtectedTail, Threshold: 5}
	got, err := rule.Locate(CodeRegionOf(p, p.module, Arch64))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, targets[:5]) {
		t.Fatalf("candidates = %x, want %x", got, targets[:5])
	}
}

func TestTailRuleInconclusive(t *testing.T) {
	a, b, c := uintptr(imageBase+0x3000), uintptr(imageBase+0x3008), uintptr(imageBase+0x3010)
	p := newProtectedImage([]uintptr{a, b, a, c, b})
	code := CodeRegionOf(p, p.module, Arch64)

	for i := 0; i < 2; i++ {
		_, _, err := LocateScheduler(code, StrategiesFor(Arch64, 5))
		if !errors.Is(err, ErrInconclusive) {
			t.Fatalf("run %d: error = %v, want ErrInconclusive", i, err)
		}
	}
}

func TestTailRuleLimit(t *testing.T) {
	var targets []uintptr
	for i := 0; i < 5; i++ {
		targets = append(targets, uintptr(imageBase+0x3000+i*8))
	}
	p := newProtectedImage(targets)

	// only the first two sites are below the limit
	rule := TailRule{Label: "protected", Tail: ProtectedTail, Threshold: 5, Limit: 0x480}
	_, err := rule.Locate(CodeRegionOf(p, p.module, Arch64))
	if !errors.Is(err, ErrInconclusive) {
		t.Fatalf("error = %v, want ErrInconclusive", err)
	}
}

const (
	image32Base = 0x400000
	image32Size = 0x2000
)

// newImage32 maps an x86 image with a caller for each given rule, all
// calling one getter that loads the singleton pointer from ptr.
func newImage32(ptr uintptr, rules ...HelperRule) *fakeProcess {
	mem := newFakeMemory()
	mem.Map(image32Base, image32Size)
	mem.put(image32Base, peHeader(0x14c))

	getter := uintptr(image32Base + 0x1800)
	mem.put(getter, concat(hexBytes("55 8B EC A1"), binaryUint32(uint32(ptr)), hexBytes("8B 4D F4")))

	for i, r := range rules {
		site := uintptr(image32Base + 0x200 + i*0x100)
		sig := make([]byte, r.Caller.Length())
		for j, c := range r.Caller.data {
			if c != -1 {
				sig[j] = byte(c)
			}
		}
		callEA := site + uintptr(r.CallAt)
		copy(sig[r.CallAt+1:], rel32(callEA+5, getter))
		mem.put(site, sig)
	}

	return &fakeProcess{
		fakeMemory: mem,
		pid:        32,
		kind:       KindClient,
		module:     Module{BaseOfDll: image32Base, SizeOfImage: image32Size, Name: "RobloxPlayerBeta.exe"},
	}
}

func binaryUint32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func TestLocateScheduler32Priority(t *testing.T) {
	tests := []struct {
		rules []HelperRule
		want  string
	}{
		{[]HelperRule{NonLTCGRule}, "non-ltcg"},
		{[]HelperRule{UWPRule}, "uwp"},
		{[]HelperRule{UWPRule, LTCGRule}, "ltcg"},
		{[]HelperRule{UWPRule, NonLTCGRule}, "non-ltcg"},
	}
	for _, tt := range tests {
		p := newImage32(0x501000, tt.rules...)
		got, rule, err := LocateScheduler(CodeRegionOf(p, p.module, Arch32), StrategiesFor(Arch32, 5))
		if err != nil {
			t.Fatalf("%s: %v", tt.want, err)
		}
		if rule != tt.want {
			t.Errorf("rule = %q, want %q", rule, tt.want)
		}
		if !slices.Equal(got, []uintptr{0x501000}) {
			t.Errorf("%s: candidates = %x", tt.want, got)
		}
	}
}

func TestLocateSchedulerNothingMatches(t *testing.T) {
	p := newImage32(0x501000)

	_, _, err := LocateScheduler(CodeRegionOf(p, p.module, Arch32), StrategiesFor(Arch32, 5))
	if !errors.Is(err, ErrPatternAbsent) {
		t.Fatalf("error = %v, want ErrPatternAbsent", err)
	}
}

func TestLocateSchedulerUnknownArch(t *testing.T) {
	_, _, err := LocateScheduler(CodeRegion{}, StrategiesFor(ArchUnknown, 5))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("error = %v, want ErrUnsupported", err)
	}
}

func TestStudioRuleSlotBeforeGetter(t *testing.T) {
	slot := uintptr(imageBase + 0x80)
	p := newStudioImageWithSlot(slot)

	got, err := StudioRule.Locate(CodeRegionOf(p, p.module, Arch64))
	if err != nil {
		t.Fatal(err)
	}
	if want := []uintptr{slot}; !slices.Equal(got, want) {
		t.Fatalf("Locate() = %x, want %x", got, want)
	}
}

func TestTailRuleBackwardLoads(t *testing.T) {
	var targets []uintptr
	for i := 0; i < 5; i++ {
		// below every site
		targets = append(targets, uintptr(imageBase+0x100+i*8))
	}
	p := newProtectedImage(targets)

	got, rule, err := LocateScheduler(CodeRegionOf(p, p.module, Arch64), StrategiesFor(Arch64, 5))
	if err != nil {
		t.Fatal(err)
	}
	if rule != "protected" || !slices.Equal(got, targets) {
		t.Fatalf("%s: candidates = %x, want %x", rule, got, targets)
	}
}

func TestRuleSignatures(t *testing.T) {
	tests := []struct {
		name string
		p    Pattern
		want string
	}{
		{"studio caller", StudioRule.Caller, "40 53 48 83 EC 20 0F B6 D9 E8 ?? ?? ?? ?? 86 58 04 48 83 C4 20 5B C3"},
		{"studio load", StudioRule.Load, "48 8B 05 ?? ?? ?? ?? 48 83 C4 28"},
		{"ltcg caller", LTCGRule.Caller, "55 8B EC 83 E4 F8 83 EC 08 E8 ?? ?? ?? ?? 8D 0C 24"},
		{"non-ltcg caller", NonLTCGRule.Caller, "55 8B EC 83 EC 10 56 E8 ?? ?? ?? ?? 8B F0 8D 45 F0"},
		{"uwp caller", UWPRule.Caller, "55 8B EC 83 E4 F8 83 EC 14 56 E8 ?? ?? ?? ?? 8D 4C 24 10"},
		{"x86 load", load32, "A1 ?? ?? ?? ?? 8B 4D F4"},
		{"protected tail", ProtectedTail, "48 8B 05 ?? ?? ?? ?? 48 83 C4 48 C3"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, got, tt.want)
		}
	}
}
