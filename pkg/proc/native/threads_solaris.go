package native

// #include <libproc.h>
import "C"

import (
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/regset"
	"github.com/go-delve/tele/pkg/proc/solutil"
)

// osSpecificDetails hold Solaris specific process details.
type osSpecificDetails struct {
	lwp *C.struct_ps_lwphandle

	// suspend is the suspend depth, honored by Resume.
	suspend int
}

func (t *nativeThread) setrun(sig int, flags C.int) (err error) {
	t.dbp.execPtraceFunc(func() {
		// We call Lwait on the thread even though it should already
		// be stopped because it causes the status which is cached
		// in the handle to get updated. If we don't do this Lsetrun
		// can return EBUSY because it thinks it's already running.
		if rc, err1 := C.Lwait(t.os.lwp, 0); rc == -1 {
			err = err1
		} else if rc, err1 = C.Lsetrun(t.os.lwp, C.int(sig), flags); rc == -1 {
			err = err1
		}
	})
	return t.oscall("Lsetrun", err)
}

func (t *nativeThread) RunState() (proc.RunState, error) {
	var flags C.int
	t.dbp.execPtraceFunc(func() { flags = C.Lstatus(t.os.lwp).pr_flags })
	switch {
	case flags&C.PR_STOPPED != 0:
		return proc.RunStateStopped, nil
	case flags&C.PR_ASLEEP != 0:
		return proc.RunStateWaiting, nil
	}
	return proc.RunStateRunning, nil
}

func (t *nativeThread) SuspendCount() (int, error) {
	return t.os.suspend, nil
}

func (t *nativeThread) Suspend() (err error) {
	if t.dbp.running {
		t.dbp.execPtraceFunc(func() {
			if rc, err1 := C.Ldstop(t.os.lwp); rc == -1 {
				err = err1
			}
		})
		if err != nil {
			return t.oscall("Ldstop", err)
		}
	}
	t.os.suspend++
	return nil
}

func (t *nativeThread) Resume() error {
	if t.os.suspend == 0 {
		return t.oscall("resume thread", sys.EINVAL)
	}
	t.os.suspend--
	return nil
}

func (t *nativeThread) SetSingleStep(on bool) error {
	t.singleStep = on
	return nil
}

func (t *nativeThread) StackBounds() (base, size uint64, err error) {
	var stk C.stack_t
	t.dbp.execPtraceFunc(func() {
		if rc, err1 := C.Plwp_main_stack(t.dbp.os.pr, C.uint(t.ID), &stk); rc == -1 {
			err = err1
		}
	})
	if err != nil {
		return 0, 0, t.oscall("Plwp_main_stack", err)
	}
	return uint64(uintptr(unsafe.Pointer(stk.ss_sp))), uint64(stk.ss_size), nil
}

func (t *nativeThread) readNative(which regset.Subset) ([]regset.Native, error) {
	var natives []regset.Native
	var err error
	if which&(regset.Integer|regset.State) != 0 {
		regs := new(solutil.AMD64Regset)
		t.dbp.execPtraceFunc(func() {
			if rc, err1 := C.Plwp_getregs(t.dbp.os.pr, C.uint(t.ID), (*C.long)(unsafe.Pointer(regs))); rc == -1 {
				err = err1
			}
		})
		if err != nil {
			return nil, t.oscall("Plwp_getregs", err)
		}
		natives = append(natives, regs)
	}
	if which&regset.FloatingPoint != 0 {
		fpregs := new(solutil.AMD64Fpregset)
		t.dbp.execPtraceFunc(func() {
			if rc, err1 := C.Plwp_getfpregs(t.dbp.os.pr, C.uint(t.ID), (*C.prfpregset_t)(unsafe.Pointer(fpregs))); rc == -1 {
				err = err1
			}
		})
		if err != nil {
			return nil, t.oscall("Plwp_getfpregs", err)
		}
		natives = append(natives, fpregs)
	}
	return natives, nil
}

func (t *nativeThread) writeNative(natives []regset.Native) (err error) {
	for _, n := range natives {
		switch n := n.(type) {
		case *solutil.AMD64Regset:
			t.dbp.execPtraceFunc(func() {
				if rc, err1 := C.Plwp_setregs(t.dbp.os.pr, C.uint(t.ID), (*C.long)(unsafe.Pointer(n))); rc == -1 {
					err = err1
				}
			})
		case *solutil.AMD64Fpregset:
			t.dbp.execPtraceFunc(func() {
				if rc, err1 := C.Plwp_setfpregs(t.dbp.os.pr, C.uint(t.ID), (*C.prfpregset_t)(unsafe.Pointer(n))); rc == -1 {
					err = err1
				}
			})
		}
		if err != nil {
			return t.oscall("write registers", err)
		}
	}
	return nil
}

func (t *nativeThread) Registers(which regset.Subset) (regset.CanonicalRegisterSet, error) {
	rs := regset.New(t.dbp.isa)
	natives, err := t.readNative(which)
	if err != nil {
		return rs, err
	}
	for _, n := range natives {
		n.Canonicalize(&rs, which&n.Subsets())
	}
	return rs, nil
}

func (t *nativeThread) WriteRegisters(rs regset.CanonicalRegisterSet, which regset.Subset) error {
	natives, err := t.readNative(which)
	if err != nil {
		return err
	}
	for _, n := range natives {
		n.Decanonicalize(rs, which&n.Subsets())
	}
	return t.writeNative(natives)
}

func (dbp *nativeProcess) MaxWatchpoints() int { return 0 }

func (dbp *nativeProcess) SetWatchpoint(addr uint64, size int, kind proc.WatchKind) error {
	return proc.ErrWatchpointsUnsupported
}

func (dbp *nativeProcess) ClearWatchpoint(addr uint64) error {
	return proc.ErrWatchpointsUnsupported
}
