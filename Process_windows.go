//go:build windows

package unlocker

import (
	"path/filepath"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	BASIC_ACCESS = windows.PROCESS_QUERY_INFORMATION | windows.PROCESS_VM_READ
	WRITE_ACCESS = BASIC_ACCESS | windows.PROCESS_VM_OPERATION | windows.PROCESS_VM_WRITE

	stillActive = 259
)

type Process struct {
	Handle windows.Handle
	Pid    uint32
	Access uint32
	Type   Kind
}

// OpenTarget opens a target process. Editors are opened writable right
// away, everything else only gets read access.
func OpenTarget(tp TargetProcess) (*Process, error) {
	access := uint32(BASIC_ACCESS)
	if tp.Kind == KindEditor {
		access = WRITE_ACCESS
	}

	handle, err := windows.OpenProcess(access, false, tp.Pid)
	if err != nil {
		return nil, accessError("open", 0, 0, err)
	}
	return &Process{
		Handle: handle,
		Pid:    tp.Pid,
		Access: access,
		Type:   tp.Kind,
	}, nil
}

func (p *Process) ProcessID() uint32 { return p.Pid }
func (p *Process) Kind() Kind        { return p.Type }

func (p *Process) CanWrite() bool {
	return p.Access&WRITE_ACCESS == WRITE_ACCESS
}

// returns p itself if it already has the given access rights, otherwise a
// duplicate handle that the caller must Close
func (p *Process) MaybeReopen(access uint32) (*Process, error) {
	if p.Access&access == access {
		return p, nil
	}

	current := windows.CurrentProcess()
	var handle windows.Handle
	err := windows.DuplicateHandle(current, p.Handle, current, &handle, access, false, 0)
	if err != nil {
		return nil, accessError("duplicate", 0, 0, err)
	}
	return &Process{
		Handle: handle,
		Pid:    p.Pid,
		Access: access,
		Type:   p.Type,
	}, nil
}

// closes the process handle, but does not terminate the process
func (p *Process) Close() error {
	if p.Handle == 0 {
		return nil
	}
	err := windows.CloseHandle(p.Handle)
	p.Handle = 0
	return errors.Wrap(err, "CloseHandle")
}

func (p *Process) ReadMemory(ea uintptr, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}

	var bytesRead uintptr
	err := windows.ReadProcessMemory(p.Handle, ea, &buffer[0], uintptr(len(buffer)), &bytesRead)
	if err != nil {
		return accessError("read", ea, len(buffer), err)
	}
	if int(bytesRead) != len(buffer) {
		return accessError("read", ea, len(buffer), windows.ERROR_PARTIAL_COPY)
	}
	return nil
}

func (p *Process) WriteMemory(ea uintptr, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}

	lp, err := p.MaybeReopen(WRITE_ACCESS)
	if err != nil {
		return err
	}
	if lp != p {
		defer lp.Close()
		pidLog(p.Pid).Debugf("Writing to %x with handle %x", ea, lp.Handle)
	} else {
		pidLog(p.Pid).Debugf("Writing to %x", ea)
	}

	var bytesWritten uintptr
	err = windows.WriteProcessMemory(lp.Handle, ea, &buffer[0], uintptr(len(buffer)), &bytesWritten)
	if err != nil {
		return accessError("write", ea, len(buffer), err)
	}
	if int(bytesWritten) != len(buffer) {
		return accessError("write", ea, len(buffer), windows.ERROR_PARTIAL_COPY)
	}
	return nil
}

func (p *Process) Exited() bool {
	var code uint32
	if err := windows.GetExitCodeProcess(p.Handle, &code); err != nil {
		return true
	}
	return code != stillActive
}

// MainModule returns the first module of the process, which is its executable.
func (p *Process) MainModule() (Module, error) {
	var needed uint32

	err := windows.EnumProcessModulesEx(p.Handle, nil, 0, &needed, windows.LIST_MODULES_ALL)
	if err != nil || needed == 0 {
		if errno, ok := err.(syscall.Errno); err == nil || (ok && errno == windows.ERROR_PARTIAL_COPY) {
			// process is not yet initialized OR started in a suspended state
			return Module{}, ErrModuleNotFound
		}
		return Module{}, errors.Wrapf(err, "EnumProcessModulesEx [needed=%d]", needed)
	}

	numModules := int(needed) / int(unsafe.Sizeof(windows.Handle(0)))
	hModules := make([]windows.Handle, numModules)
	err = windows.EnumProcessModulesEx(p.Handle, &hModules[0], needed, &needed, windows.LIST_MODULES_ALL)
	if err != nil {
		return Module{}, errors.Wrapf(err, "EnumProcessModulesEx [needed=%d]", needed)
	}

	var modInfo windows.ModuleInfo
	err = windows.GetModuleInformation(p.Handle, hModules[0], &modInfo, uint32(unsafe.Sizeof(modInfo)))
	if err != nil {
		return Module{}, errors.Wrap(err, "GetModuleInformation")
	}
	if modInfo.BaseOfDll == 0 {
		return Module{}, ErrModuleNotFound
	}

	var modPath [windows.MAX_PATH]uint16
	err = windows.GetModuleFileNameEx(p.Handle, hModules[0], &modPath[0], windows.MAX_PATH)
	if err != nil {
		return Module{}, errors.Wrap(err, "GetModuleFileNameEx")
	}
	path := windows.UTF16ToString(modPath[:])
	if path == "" {
		return Module{}, ErrModuleNotFound
	}

	return Module{
		BaseOfDll:   modInfo.BaseOfDll,
		SizeOfImage: modInfo.SizeOfImage,
		Name:        filepath.Base(path),
		Path:        path,
	}, nil
}

func accessError(op string, ea uintptr, size int, err error) error {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return errors.Wrapf(err, "%s at %x", op, ea)
	}

	kind := ErrInvalidAddress
	switch errno {
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_INVALID_HANDLE:
		kind = ErrNoAccess
	}
	return errors.WithStack(&AccessError{Op: op, Addr: ea, Size: size, Code: errno, Kind: kind})
}
