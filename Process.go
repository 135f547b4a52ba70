package unlocker

import (
	"path/filepath"
	"strings"
)

type Kind int

const (
	KindNone Kind = iota
	KindClient
	KindEmbeddedClient // store-app build
	KindEditor
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindEmbeddedClient:
		return "uwp"
	case KindEditor:
		return "studio"
	}
	return "none"
}

type Arch int

const (
	ArchUnknown Arch = iota
	Arch32
	Arch64
)

func (a Arch) Bits() int {
	switch a {
	case Arch32:
		return 32
	case Arch64:
		return 64
	}
	return 0
}

func (a Arch) PointerSize() int {
	return a.Bits() / 8
}

func (a Arch) String() string {
	switch a {
	case Arch32:
		return "x86"
	case Arch64:
		return "x64"
	}
	return "unknown"
}

// Memory is a foreign address space.
type Memory interface {
	ReadMemory(ea uintptr, buffer []byte) error
	WriteMemory(ea uintptr, buffer []byte) error
}

// ProcessHandle is an opened target process.
//
// WriteMemory must succeed even when CanWrite is false: implementations
// escalate with a short-lived duplicate handle which is released before
// WriteMemory returns.
type ProcessHandle interface {
	Memory
	ProcessID() uint32
	Kind() Kind
	CanWrite() bool
	// MainModule does a single lookup and returns ErrModuleNotFound while
	// the executable is not mapped yet.
	MainModule() (Module, error)
	Exited() bool
	Close() error
}

// TargetProcess is one entry of the process enumeration.
type TargetProcess struct {
	Pid  uint32
	Kind Kind
	Name string
}

var targetImages = []struct {
	Name string
	Kind Kind
}{
	{"RobloxPlayerBeta.exe", KindClient},
	{"Windows10Universal.exe", KindEmbeddedClient},
	{"RobloxStudioBeta.exe", KindEditor},
}

// KindOf classifies an executable name or path.
func KindOf(name string) Kind {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	for _, image := range targetImages {
		if strings.EqualFold(name, image.Name) {
			return image.Kind
		}
	}
	return KindNone
}

// ImageName returns the executable name of a kind.
func ImageName(kind Kind) string {
	for _, image := range targetImages {
		if image.Kind == kind {
			return image.Name
		}
	}
	return ""
}
