package unlocker

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"
)

var (
	ErrNoAccess         = errors.New("access denied")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrModuleNotFound   = errors.New("main module not found")
	ErrDecoyModule      = errors.New("module too small to be the client")
	ErrPatternAbsent    = errors.New("pattern not found")
	ErrInconclusive     = errors.New("inconclusive candidate count")
	ErrSingletonUnset   = errors.New("singleton pointer not set")
	ErrValidationFailed = errors.New("frame delay not found near singleton")
	ErrExhausted        = errors.New("retry budget exhausted")
	ErrUnsupported      = errors.New("unsupported on this platform")
)

// AccessError is a failed read or write against a foreign address space.
// Code is the OS error code, Kind is ErrNoAccess or ErrInvalidAddress.
type AccessError struct {
	Op   string
	Addr uintptr
	Size int
	Code syscall.Errno
	Kind error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s %d bytes at %x: %v (code %d)", e.Op, e.Size, e.Addr, e.Kind, uint32(e.Code))
}

func (e *AccessError) Is(target error) bool {
	return target == e.Kind
}

func (e *AccessError) Unwrap() error {
	if e.Code == 0 {
		return nil
	}
	return e.Code
}

// ruleMiss is returned by a strategy whose identifying pattern did not
// match at all, which lets the next strategy for the same arch run.
type ruleMiss struct {
	rule string
}

func (e ruleMiss) Error() string {
	return e.rule + ": " + ErrPatternAbsent.Error()
}

func (e ruleMiss) Is(target error) bool {
	return target == ErrPatternAbsent
}
