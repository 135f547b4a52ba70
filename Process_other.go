//go:build !windows && !linux

package unlocker

type Process struct {
	Pid  uint32
	Type Kind
}

func OpenTarget(tp TargetProcess) (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) ProcessID() uint32                        { return p.Pid }
func (p *Process) Kind() Kind                               { return p.Type }
func (p *Process) CanWrite() bool                           { return false }
func (p *Process) Close() error                             { return nil }
func (p *Process) Exited() bool                             { return true }
func (p *Process) MainModule() (Module, error)              { return Module{}, ErrUnsupported }
func (p *Process) ReadMemory(ea uintptr, buf []byte) error  { return ErrUnsupported }
func (p *Process) WriteMemory(ea uintptr, buf []byte) error { return ErrUnsupported }
