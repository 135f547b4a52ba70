package unlocker

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// decodeCallTarget decodes the near call at the start of code, which
// lives at ea, and returns its destination.
func decodeCallTarget(code []byte, ea uintptr, arch Arch) (uintptr, error) {
	inst, err := x86asm.Decode(code, arch.Bits())
	if err != nil {
		return 0, errors.Wrapf(err, "decode at %x", ea)
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if inst.Op != x86asm.CALL || !ok {
		return 0, errors.Errorf("expected call rel32 at %x, got %v", ea, inst)
	}
	return uintptr(int64(ea) + int64(inst.Len) + int64(rel)), nil
}

// decodeLoadAddress decodes the mov at the start of code and returns the
// address of its memory operand: rip-relative on x64, absolute on x86.
func decodeLoadAddress(code []byte, ea uintptr, arch Arch) (uintptr, error) {
	inst, err := x86asm.Decode(code, arch.Bits())
	if err != nil {
		return 0, errors.Wrapf(err, "decode at %x", ea)
	}
	mem, ok := inst.Args[1].(x86asm.Mem)
	if inst.Op != x86asm.MOV || !ok {
		return 0, errors.Errorf("expected mov reg, [mem] at %x, got %v", ea, inst)
	}

	// disp32 comes back zero-extended
	switch {
	case mem.Base == x86asm.RIP:
		return uintptr(int64(ea) + int64(inst.Len) + int64(int32(mem.Disp))), nil
	case mem.Base == 0 && mem.Index == 0:
		return uintptr(uint32(mem.Disp)), nil
	}
	return 0, errors.Errorf("unexpected operand %v at %x", mem, ea)
}
