package unlocker

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

func WriteValue[T constraints.Integer | constraints.Float](m Memory, ea uintptr, value T) error {
	buffer := make([]byte, unsafe.Sizeof(value))
	copy(buffer, unsafe.Slice((*byte)(unsafe.Pointer(&value)), len(buffer)))
	return m.WriteMemory(ea, buffer)
}
