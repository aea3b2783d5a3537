//go:build darwin && macnative
// +build darwin,macnative

package native

// #include "mach_darwin.h"
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/regset"
)

func (t *nativeThread) getState(flavor int, p unsafe.Pointer, count int) error {
	n := C.mach_msg_type_number_t(count)
	if err := kret(C.get_thread_state(t.os.port, C.int(flavor), p, &n)); err != nil {
		return t.oscall("thread_get_state", err)
	}
	return nil
}

func (t *nativeThread) setState(flavor int, p unsafe.Pointer, count int) error {
	return t.oscall("thread_set_state", kret(C.set_thread_state(t.os.port, C.int(flavor), p, C.mach_msg_type_number_t(count))))
}

func (t *nativeThread) basicInfo() (suspendCount, runState int, err error) {
	var sc, rs C.int
	if err := kret(C.basic_info(t.os.port, &sc, &rs)); err != nil {
		return 0, 0, t.oscall("thread_info", err)
	}
	return int(sc), int(rs), nil
}

// thread run states, see mach/thread_info.h
const (
	_TH_STATE_RUNNING         = 1
	_TH_STATE_STOPPED         = 2
	_TH_STATE_WAITING         = 3
	_TH_STATE_UNINTERRUPTIBLE = 4
	_TH_STATE_HALTED          = 5
)

func (t *nativeThread) RunState() (proc.RunState, error) {
	sc, rs, err := t.basicInfo()
	if err != nil {
		return proc.RunStateUnknown, err
	}
	if sc > 0 || !t.dbp.running {
		return proc.RunStateStopped, nil
	}
	switch rs {
	case _TH_STATE_RUNNING:
		return proc.RunStateRunning, nil
	case _TH_STATE_STOPPED, _TH_STATE_HALTED:
		return proc.RunStateStopped, nil
	case _TH_STATE_WAITING, _TH_STATE_UNINTERRUPTIBLE:
		return proc.RunStateWaiting, nil
	}
	return proc.RunStateUnknown, nil
}

func (t *nativeThread) SuspendCount() (int, error) {
	sc, _, err := t.basicInfo()
	return sc, err
}

func (t *nativeThread) Suspend() error {
	return t.oscall("thread_suspend", kret(C.thread_suspend(t.os.port)))
}

func (t *nativeThread) Resume() error {
	return t.oscall("thread_resume", kret(C.thread_resume(t.os.port)))
}

func (t *nativeThread) StackBounds() (base, size uint64, err error) {
	rs, err := t.Registers(regset.Integer | regset.State)
	if err != nil {
		return 0, 0, err
	}
	addr := C.mach_vm_address_t(rs.SP())
	var sz C.mach_vm_size_t
	if err := kret(C.region_of(t.dbp.os.task, &addr, &sz)); err != nil {
		return 0, 0, t.oscall("mach_vm_region", err)
	}
	if uint64(addr) > rs.SP() {
		return 0, 0, fmt.Errorf("stack pointer %#x of thread %d is not mapped", rs.SP(), t.ID)
	}
	return uint64(addr), uint64(sz), nil
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

// SetSingleStep sets the trace flag of the thread, TF in RFLAGS on amd64
// and MDSCR_EL1.SS on arm64.
func (t *nativeThread) SetSingleStep(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := kret(C.set_single_step(t.os.port, C.int(v))); err != nil {
		return t.oscall("set single step", err)
	}
	t.singleStep = on
	return nil
}
