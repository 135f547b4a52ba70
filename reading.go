package unlocker

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

func ReadBytes(m Memory, ea uintptr, size int) ([]byte, error) {
	buffer := make([]byte, size)
	if err := m.ReadMemory(ea, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadValue reads a little-endian number of T's size.
func ReadValue[T constraints.Integer | constraints.Float](m Memory, ea uintptr) (T, error) {
	var value T
	buffer := make([]byte, unsafe.Sizeof(value))
	if err := m.ReadMemory(ea, buffer); err != nil {
		return value, err
	}
	return *(*T)(unsafe.Pointer(&buffer[0])), nil
}

// ReadPointer reads a pointer of the target's width.
func ReadPointer(m Memory, ea uintptr, arch Arch) (uintptr, error) {
	if arch == Arch32 {
		v, err := ReadValue[uint32](m, ea)
		return uintptr(v), err
	}
	v, err := ReadValue[uint64](m, ea)
	return uintptr(v), err
}
