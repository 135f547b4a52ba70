package unlocker

import (
	"encoding/binary"
	"math"
	"sort"
)

// fakeMemory is a sparse address space made of mapped segments.
type fakeMemory struct {
	segments []fakeSegment
	maxRead  uintptr
	reads    int
}

type fakeSegment struct {
	base uintptr
	data []byte
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{}
}

// Map adds a zeroed segment and returns its backing slice.
func (m *fakeMemory) Map(base uintptr, size int) []byte {
	data := make([]byte, size)
	m.segments = append(m.segments, fakeSegment{base, data})
	return data
}

func (m *fakeMemory) slice(ea uintptr, n int) []byte {
	for _, s := range m.segments {
		if ea >= s.base && ea+uintptr(n) <= s.base+uintptr(len(s.data)) {
			off := ea - s.base
			return s.data[off : off+uintptr(n)]
		}
	}
	return nil
}

func (m *fakeMemory) ReadMemory(ea uintptr, buffer []byte) error {
	m.reads++
	src := m.slice(ea, len(buffer))
	if src == nil {
		return &AccessError{Op: "read", Addr: ea, Size: len(buffer), Kind: ErrInvalidAddress}
	}
	copy(buffer, src)
	m.maxRead = max(m.maxRead, ea+uintptr(len(buffer)))
	return nil
}

func (m *fakeMemory) WriteMemory(ea uintptr, buffer []byte) error {
	dst := m.slice(ea, len(buffer))
	if dst == nil {
		return &AccessError{Op: "write", Addr: ea, Size: len(buffer), Kind: ErrInvalidAddress}
	}
	copy(dst, buffer)
	return nil
}

func (m *fakeMemory) put(ea uintptr, data []byte) {
	dst := m.slice(ea, len(data))
	if dst == nil {
		panic("fakeMemory: put outside of mapped memory")
	}
	copy(dst, data)
}

func (m *fakeMemory) putUint32(ea uintptr, v uint32) {
	m.put(ea, binary.LittleEndian.AppendUint32(nil, v))
}

func (m *fakeMemory) putUint64(ea uintptr, v uint64) {
	m.put(ea, binary.LittleEndian.AppendUint64(nil, v))
}

func (m *fakeMemory) putDouble(ea uintptr, v float64) {
	m.putUint64(ea, math.Float64bits(v))
}

func (m *fakeMemory) double(ea uintptr) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(m.slice(ea, 8)))
}

// regionMemory also reports its segments as regions, with optional
// unreadable holes.
type regionMemory struct {
	*fakeMemory
	holes []Region
}

func (m *regionMemory) Regions(start, end uintptr) ([]Region, error) {
	var regions []Region
	for _, s := range m.segments {
		regions = append(regions, Region{BaseAddress: s.base, RegionSize: uintptr(len(s.data)), Readable: true})
	}
	regions = append(regions, m.holes...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].BaseAddress < regions[j].BaseAddress })

	var out []Region
	for _, r := range regions {
		if r.End() > start && r.BaseAddress < end {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeProcess struct {
	*fakeMemory
	pid    uint32
	kind   Kind
	module Module

	misses  int // MainModule lookups that fail before the module shows up
	lookups int
	exited  bool
	closed  bool
}

func (p *fakeProcess) ProcessID() uint32 { return p.pid }
func (p *fakeProcess) Kind() Kind        { return p.kind }
func (p *fakeProcess) CanWrite() bool    { return true }
func (p *fakeProcess) Exited() bool      { return p.exited }

func (p *fakeProcess) MainModule() (Module, error) {
	p.lookups++
	if p.lookups <= p.misses {
		return Module{}, ErrModuleNotFound
	}
	return p.module, nil
}

func (p *fakeProcess) Close() error {
	p.closed = true
	return nil
}

type notification struct {
	pid   uint32
	stage Stage
	msg   string
}

type recordingNotifier struct {
	errors []notification
	infos  []string
}

func (n *recordingNotifier) Error(pid uint32, stage Stage, msg string) {
	n.errors = append(n.errors, notification{pid, stage, msg})
}

func (n *recordingNotifier) Info(pid uint32, msg string) {
	n.infos = append(n.infos, msg)
}

type memStore struct {
	value int
	set   bool
	puts  []int
}

func (s *memStore) TargetFPS() (int, bool, error) { return s.value, s.set, nil }
func (s *memStore) Location() string              { return "memory" }

func (s *memStore) SetTargetFPS(fps int) error {
	s.value, s.set = fps, true
	s.puts = append(s.puts, fps)
	return nil
}

func peHeader(machine uint16) []byte {
	h := make([]byte, 0x48)
	copy(h, "MZ")
	binary.LittleEndian.PutUint32(h[0x3c:], 0x40)
	copy(h[0x40:], "PE\x00\x00")
	binary.LittleEndian.PutUint16(h[0x44:], machine)
	return h
}

func rel32(from, to uintptr) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(int32(int64(to)-int64(from))))
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func hexBytes(s string) []byte {
	p := ParsePattern(s)
	out := make([]byte, p.Length())
	for i, c := range p.data {
		out[i] = byte(c)
	}
	return out
}

const (
	imageBase  = 0x140000000
	imageSize  = 0x4000
	callerAt   = 100
	getterAt   = 500
	pointerAt  = 0x3000
	singleton  = 0x20000000
	delayField = 0x148
)

// newStudioImage maps an x64 image where the studio helper resolves to a
// pointer at imageBase+pointerAt. The pointer is left null.
func newStudioImage() *fakeProcess {
	return newStudioImageWithSlot(imageBase + pointerAt)
}

// newStudioImageWithSlot is newStudioImage with the getter loading from slot.
func newStudioImageWithSlot(slot uintptr) *fakeProcess {
	mem := newFakeMemory()
	mem.Map(imageBase, imageSize)
	mem.put(imageBase, peHeader(0x8664))

	callEA := uintptr(imageBase + callerAt + 9)
	mem.put(imageBase+callerAt, concat(
		hexBytes("40 53 48 83 EC 20 0F B6 D9 E8"),
		rel32(callEA+5, imageBase+getterAt),
		hexBytes("86 58 04 48 83 C4 20 5B C3"),
	))

	loadEA := uintptr(imageBase + getterAt + 4)
	mem.put(imageBase+getterAt, concat(
		hexBytes("48 83 EC 28 48 8B 05"),
		rel32(loadEA+7, slot),
		hexBytes("48 83 C4 28 C3"),
	))

	return &fakeProcess{
		fakeMemory: mem,
		pid:        1234,
		kind:       KindEditor,
		module:     Module{BaseOfDll: imageBase, SizeOfImage: imageSize, Name: "RobloxStudioBeta.exe"},
	}
}

// mapScheduler maps a scheduler object at addr holding the stock frame
// delay at addr+delayField.
func mapScheduler(mem *fakeMemory, addr uintptr) {
	mem.Map(addr, 0x300)
	mem.putDouble(addr+delayField, ReferenceFrameDelay)
}

func testSettings() *Settings {
	s := DefaultSettings()
	s.MinModuleSize = 0x1000
	s.ModuleBackoff = Backoff{Retries: 0}
	s.SetUnlockMethod(MemoryWrite)
	s.SetFPSCap(144)
	return s
}
