package native

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/proc/linutil"
	"github.com/go-delve/tele/pkg/proc/regset"
)

func checkABI(pid int) error {
	return checkRegsetSize(pid, int(unsafe.Sizeof(linutil.AMD64PtraceRegs{})))
}

func (t *nativeThread) readNative(which regset.Subset) ([]regset.Native, error) {
	var natives []regset.Native
	if wants(which, regset.Integer|regset.State) {
		regs := new(linutil.AMD64PtraceRegs)
		var err error
		t.dbp.execPtraceFunc(func() { err = sys.PtraceGetRegs(t.ID, (*sys.PtraceRegs)(unsafe.Pointer(regs))) })
		if err != nil {
			return nil, t.oscall("read registers", err)
		}
		natives = append(natives, regs)
	}
	if wants(which, regset.FloatingPoint) {
		fpregs := new(linutil.AMD64PtraceFpRegs)
		var err error
		t.dbp.execPtraceFunc(func() {
			_, _, e1 := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETFPREGS, uintptr(t.ID), 0, uintptr(unsafe.Pointer(fpregs)), 0, 0)
			if e1 != 0 {
				err = e1
			}
		})
		if err != nil {
			return nil, t.oscall("read floating point registers", err)
		}
		natives = append(natives, fpregs)
	}
	return natives, nil
}

func (t *nativeThread) writeNative(natives []regset.Native) error {
	for _, n := range natives {
		var err error
		switch n := n.(type) {
		case *linutil.AMD64PtraceRegs:
			t.dbp.execPtraceFunc(func() { err = sys.PtraceSetRegs(t.ID, (*sys.PtraceRegs)(unsafe.Pointer(n))) })
			err = t.oscall("write registers", err)
		case *linutil.AMD64PtraceFpRegs:
			t.dbp.execPtraceFunc(func() {
				_, _, e1 := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_SETFPREGS, uintptr(t.ID), 0, uintptr(unsafe.Pointer(n)), 0, 0)
				if e1 != 0 {
					err = e1
				}
			})
			err = t.oscall("write floating point registers", err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
