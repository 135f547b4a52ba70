//go:build linux

package unlocker

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Process is a target running under a compatibility layer. There are no
// handle rights on Linux: ptrace access mode decides what is permitted.
type Process struct {
	Pid  uint32
	Type Kind
	Name string
}

func OpenTarget(tp TargetProcess) (*Process, error) {
	if err := unix.Kill(int(tp.Pid), 0); err != nil && err != unix.EPERM {
		return nil, accessError("open", 0, 0, err)
	}

	name := tp.Name
	if name == "" {
		name = ImageName(tp.Kind)
	}
	return &Process{Pid: tp.Pid, Type: tp.Kind, Name: name}, nil
}

func (p *Process) ProcessID() uint32 { return p.Pid }
func (p *Process) Kind() Kind        { return p.Type }
func (p *Process) CanWrite() bool    { return true }
func (p *Process) Close() error      { return nil }

func (p *Process) ReadMemory(ea uintptr, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}

	localIov := [1]unix.Iovec{
		{Base: &buffer[0]},
	}
	localIov[0].SetLen(len(buffer))
	remoteIov := [1]unix.RemoteIovec{
		{Base: ea, Len: len(buffer)},
	}

	n, err := unix.ProcessVMReadv(int(p.Pid), localIov[:], remoteIov[:], 0)
	if err != nil {
		return accessError("read", ea, len(buffer), err)
	}
	if n != len(buffer) {
		return accessError("read", ea, len(buffer), unix.EFAULT)
	}
	return nil
}

func (p *Process) WriteMemory(ea uintptr, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}

	pidLog(p.Pid).Debugf("Writing to %x", ea)

	localIov := [1]unix.Iovec{
		{Base: &buffer[0]},
	}
	localIov[0].SetLen(len(buffer))
	remoteIov := [1]unix.RemoteIovec{
		{Base: ea, Len: len(buffer)},
	}

	n, err := unix.ProcessVMWritev(int(p.Pid), localIov[:], remoteIov[:], 0)
	if err != nil {
		return accessError("write", ea, len(buffer), err)
	}
	if n != len(buffer) {
		return accessError("write", ea, len(buffer), unix.EFAULT)
	}
	return nil
}

func (p *Process) Exited() bool {
	return unix.Kill(int(p.Pid), 0) == unix.ESRCH
}

// MainModule spans every mapping of the executable image.
func (p *Process) MainModule() (Module, error) {
	maps, err := p.maps()
	if err != nil {
		return Module{}, err
	}

	var mod Module
	var end uintptr
	for _, m := range maps {
		if m.Path == "" || !strings.EqualFold(filepath.Base(m.Path), p.Name) {
			continue
		}
		if mod.BaseOfDll == 0 {
			mod.BaseOfDll = m.Start
			mod.Path = m.Path
			mod.Name = filepath.Base(m.Path)
		}
		end = max(end, m.End)
	}
	if mod.BaseOfDll == 0 {
		return Module{}, ErrModuleNotFound
	}

	mod.SizeOfImage = uint32(end - mod.BaseOfDll)
	return mod, nil
}

type mapping struct {
	Start    uintptr
	End      uintptr
	Readable bool
	Path     string
}

func (p *Process) maps() ([]mapping, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(int(p.Pid)) + "/maps")
	if err != nil {
		return nil, errors.Wrap(err, "reading maps")
	}

	var maps []mapping
	for _, line := range strings.Split(string(data), "\n") {
		f := strings.Fields(line)
		if len(f) < 5 {
			continue
		}

		startHex, endHex, _ := strings.Cut(f[0], "-")
		start, err := strconv.ParseUint(startHex, 16, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parsing addr start")
		}
		end, err := strconv.ParseUint(endHex, 16, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parsing addr end")
		}

		m := mapping{
			Start:    uintptr(start),
			End:      uintptr(end),
			Readable: strings.ContainsRune(f[1], 'r'),
		}
		if len(f) >= 6 {
			m.Path = strings.Join(f[5:], " ")
		}
		maps = append(maps, m)
	}

	return maps, nil
}

func accessError(op string, ea uintptr, size int, err error) error {
	errno, ok := err.(unix.Errno)
	if !ok {
		return errors.Wrapf(err, "%s at %x", op, ea)
	}

	kind := ErrInvalidAddress
	switch errno {
	case unix.EPERM, unix.EACCES:
		kind = ErrNoAccess
	}
	return errors.WithStack(&AccessError{Op: op, Addr: ea, Size: size, Code: errno, Kind: kind})
}
