package unlocker

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

const (
	ReferenceFrameDelay = 1.0 / 60.0
	MinFrameDelay       = 1.0 / 10000.0

	// lowest address a live object can have on windows
	minPlausibleAddress = 0x10000
)

var epsilon = math.Nextafter(1, 2) - 1

// FieldSearch is where the frame delay is looked for, relative to the
// scheduler. The variable was at +0x150 (x86) and +0x180 (studio x64) as
// of 2/13/2020.
type FieldSearch struct {
	Offset uintptr
	Size   int
}

var DefaultFieldSearch = FieldSearch{Offset: 0x100, Size: 0x100}

// FrameDelay converts a cap to seconds per frame, <= 0 meaning unbounded.
func FrameDelay(fps float64) float64 {
	if fps <= 0 {
		return MinFrameDelay
	}
	return 1 / fps
}

// FindFrameDelayOffset returns the first 4-aligned offset in window that
// holds a double equal to 1/60, or -1.
func FindFrameDelayOffset(window []byte) int {
	for i := 0; i+8 <= len(window); i += 4 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(window[i:]))
		if math.Abs(v-ReferenceFrameDelay) < epsilon {
			return i
		}
	}
	return -1
}

// ResolveFrameDelay dereferences each candidate and scans the resulting
// scheduler for the frame delay. The first hit wins.
//
// ErrValidationFailed means at least one scheduler was readable but had no
// frame delay. ErrSingletonUnset means every candidate still held null.
// Otherwise the last read error is returned.
func ResolveFrameDelay(m Memory, arch Arch, candidates []uintptr, search FieldSearch, pid uint32) (uintptr, error) {
	log := pidLog(pid)

	var mismatched int
	var readErr error
	for _, candidate := range candidates {
		scheduler, err := ReadPointer(m, candidate, arch)
		if err != nil {
			log.WithError(err).Debugf("Candidate %x unreadable", candidate)
			readErr = err
			continue
		}
		if scheduler < minPlausibleAddress {
			log.Debugf("*ts_ptr (%x) == %x", candidate, scheduler)
			continue
		}

		log.Infof("Potential task scheduler: %x", scheduler)

		window, err := ReadBytes(m, scheduler+search.Offset, search.Size)
		if err != nil {
			log.WithError(err).Debugf("Scheduler %x unreadable", scheduler)
			readErr = err
			continue
		}

		offset := FindFrameDelayOffset(window)
		if offset == -1 {
			mismatched++
			continue
		}

		delayOffset := search.Offset + uintptr(offset)
		log.Infof("Frame delay offset: %d (%#x)", delayOffset, delayOffset)
		return scheduler + delayOffset, nil
	}

	switch {
	case mismatched > 0:
		return 0, errors.Wrapf(ErrValidationFailed, "%d of %d schedulers", mismatched, len(candidates))
	case readErr != nil:
		return 0, readErr
	}
	return 0, ErrSingletonUnset
}
