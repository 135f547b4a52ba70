package unlocker

import (
	"bytes"
	"context"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

type Module struct {
	BaseOfDll   uintptr // Base address of the module
	SizeOfImage uint32  // Size of the module, in bytes

	Name string // Name of the module (not in windows.ModuleInfo)
	Path string // Full path of the image on disk
}

func (m Module) End() uintptr {
	return m.BaseOfDll + uintptr(m.SizeOfImage)
}

// the security daemon is about 1MB, the client about 80MB
const MinClientModuleSize = 10 << 20

type Backoff struct {
	Retries int
	Delay   time.Duration
}

var DefaultBackoff = Backoff{Retries: 5, Delay: 100 * time.Millisecond}

// LocateModule polls for the main module of a freshly started process,
// doubling the delay after every miss.
func LocateModule(ctx context.Context, h ProcessHandle, b Backoff) (Module, error) {
	log := pidLog(h.ProcessID())
	log.Debug("Finding process base...")

	delay := b.Delay
	for tries := b.Retries; ; tries-- {
		mod, err := h.MainModule()
		if err == nil {
			return mod, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			log.WithError(err).Debug("Module lookup failed")
		}

		if tries <= 0 {
			return Module{}, errors.Wrapf(ErrModuleNotFound, "%d attempts: %v", b.Retries+1, err)
		}

		log.Debugf("Retrying in %v...", delay)
		select {
		case <-ctx.Done():
			return Module{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func CheckModuleSize(m Module, minSize uint32) error {
	if m.SizeOfImage < minSize {
		return errors.Wrapf(ErrDecoyModule, "%s is %d bytes", m.Name, m.SizeOfImage)
	}
	return nil
}

// DetectArch reads the image header of a mapped module.
func DetectArch(mem Memory, m Module) (Arch, error) {
	header, err := ReadBytes(mem, m.BaseOfDll, 0x40)
	if err != nil {
		return ArchUnknown, err
	}

	switch {
	case bytes.HasPrefix(header, []byte("MZ")):
		lfanew := binary.LittleEndian.Uint32(header[0x3c:])
		nt, err := ReadBytes(mem, m.BaseOfDll+uintptr(lfanew), 6)
		if err != nil {
			return ArchUnknown, err
		}
		if !bytes.HasPrefix(nt, []byte("PE\x00\x00")) {
			return ArchUnknown, errors.Errorf("bad PE signature %x", nt[:4])
		}
		switch binary.LittleEndian.Uint16(nt[4:]) {
		case pe.IMAGE_FILE_MACHINE_I386:
			return Arch32, nil
		case pe.IMAGE_FILE_MACHINE_AMD64:
			return Arch64, nil
		}
	case bytes.HasPrefix(header, []byte(elf.ELFMAG)):
		switch elf.Class(header[elf.EI_CLASS]) {
		case elf.ELFCLASS32:
			return Arch32, nil
		case elf.ELFCLASS64:
			return Arch64, nil
		}
	}

	return ArchUnknown, errors.Wrapf(ErrUnsupported, "image at %x", m.BaseOfDll)
}
