package unlocker

import (
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type UnlockMethod int32

const (
	MemoryWrite UnlockMethod = iota
	FlagsFile
	Hybrid
)

func (m UnlockMethod) String() string {
	switch m {
	case MemoryWrite:
		return "memory"
	case FlagsFile:
		return "flags"
	case Hybrid:
		return "hybrid"
	}
	return "unknown"
}

func ParseUnlockMethod(s string) (UnlockMethod, error) {
	switch strings.ToLower(s) {
	case "memory", "memorywrite":
		return MemoryWrite, nil
	case "flags", "flagsfile":
		return FlagsFile, nil
	case "hybrid":
		return Hybrid, nil
	}
	return 0, errors.Errorf("unknown unlock method %q", s)
}

// Settings is shared between the watch loop and the control surface. The
// cap and method are single-word atomics that the loop picks up at the
// start of its next cycle; everything else is fixed before the loop starts.
type Settings struct {
	fpsCap atomic.Uint64
	method atomic.Int32

	RetryCount         int
	PollInterval       time.Duration
	UnlockClient       bool
	UnlockStudio       bool
	CandidateThreshold int
	Search             FieldSearch
	MinModuleSize      uint32
	ModuleBackoff      Backoff
}

func DefaultSettings() *Settings {
	s := &Settings{
		RetryCount:         5,
		PollInterval:       2 * time.Second,
		UnlockClient:       true,
		UnlockStudio:       true,
		CandidateThreshold: 5,
		Search:             DefaultFieldSearch,
		MinModuleSize:      MinClientModuleSize,
		ModuleBackoff:      DefaultBackoff,
	}
	s.SetUnlockMethod(Hybrid)
	return s
}

// 0 means unbounded
func (s *Settings) FPSCap() float64 {
	return math.Float64frombits(s.fpsCap.Load())
}

func (s *Settings) SetFPSCap(fps float64) {
	s.fpsCap.Store(math.Float64bits(fps))
}

func (s *Settings) UnlockMethod() UnlockMethod {
	return UnlockMethod(s.method.Load())
}

func (s *Settings) SetUnlockMethod(m UnlockMethod) {
	s.method.Store(int32(m))
}

// Validate rejects tunables discovery cannot converge with.
func (s *Settings) Validate() error {
	switch {
	case s.CandidateThreshold < 1:
		return errors.Errorf("candidate threshold must be at least 1, got %d", s.CandidateThreshold)
	case s.RetryCount < 0:
		return errors.Errorf("retry count must not be negative, got %d", s.RetryCount)
	case s.Search.Size < 8:
		return errors.Errorf("field search window of %d bytes cannot hold a double", s.Search.Size)
	case s.PollInterval <= 0:
		return errors.Errorf("poll interval must be positive, got %v", s.PollInterval)
	}
	return CheckFPSCap(s.FPSCap())
}

// CheckFPSCap accepts 0 (unbounded) and finite positive caps.
func CheckFPSCap(fps float64) error {
	if fps < 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return errors.Errorf("invalid fps cap %v", fps)
	}
	return nil
}
