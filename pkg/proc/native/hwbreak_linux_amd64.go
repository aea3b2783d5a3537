package native

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/amd64util"
)

const debugRegUserOffset = 848 // offset of debug registers in the user struct, see source/arch/x86/kernel/ptrace.c

func (dbp *nativeProcess) MaxWatchpoints() int { return amd64util.NumDebugAddrs }

// SetWatchpoint programs the same debug register slot on every thread.
func (dbp *nativeProcess) SetWatchpoint(addr uint64, size int, kind proc.WatchKind) error {
	idx, ok := dbp.freeWatchpointSlot()
	if !ok {
		return errors.New("hardware watchpoints exhausted")
	}
	wp := watchpoint{addr: addr, size: size, kind: kind}
	for _, th := range dbp.threads {
		if err := th.setWatchpoint(idx, wp); err != nil {
			for _, th := range dbp.threads {
				_ = th.clearWatchpoint(idx)
			}
			return err
		}
	}
	dbp.os.watchpoints[idx] = wp
	return nil
}

func (dbp *nativeProcess) ClearWatchpoint(addr uint64) error {
	for idx, wp := range dbp.os.watchpoints {
		if wp.addr != addr {
			continue
		}
		var firstErr error
		for _, th := range dbp.threads {
			if err := th.clearWatchpoint(idx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(dbp.os.watchpoints, idx)
		return firstErr
	}
	return fmt.Errorf("no watchpoint at %#x", addr)
}

func (dbp *nativeProcess) freeWatchpointSlot() (uint8, bool) {
	for idx := uint8(0); idx < amd64util.NumDebugAddrs; idx++ {
		if _, used := dbp.os.watchpoints[idx]; !used {
			return idx, true
		}
	}
	return 0, false
}

// applyWatchpoints copies the active watchpoints to a new thread.
func (dbp *nativeProcess) applyWatchpoints(th *nativeThread) error {
	for idx, wp := range dbp.os.watchpoints {
		if err := th.setWatchpoint(idx, wp); err != nil {
			return err
		}
	}
	return nil
}

func (t *nativeThread) setWatchpoint(idx uint8, wp watchpoint) error {
	return t.withDebugRegisters(func(drs *amd64util.DebugRegisters) error {
		return drs.SetWatchpoint(idx, wp.addr, wp.kind&proc.WatchRead != 0, wp.kind&proc.WatchWrite != 0, wp.size)
	})
}

func (t *nativeThread) clearWatchpoint(idx uint8) error {
	return t.withDebugRegisters(func(drs *amd64util.DebugRegisters) error {
		drs.ClearWatchpoint(idx)
		return nil
	})
}

// watchpointHit returns the watched address if the last debug exception
// of the thread was caused by a watchpoint.
func (t *nativeThread) watchpointHit() (uint64, bool) {
	if len(t.dbp.os.watchpoints) == 0 {
		return 0, false
	}
	var (
		idx uint8
		hit bool
	)
	err := t.withDebugRegisters(func(drs *amd64util.DebugRegisters) error {
		idx, hit = drs.Triggered()
		return nil
	})
	if err != nil || !hit {
		return 0, false
	}
	wp, ok := t.dbp.os.watchpoints[idx]
	return wp.addr, ok
}

func (t *nativeThread) withDebugRegisters(f func(*amd64util.DebugRegisters) error) error {
	var err error
	t.dbp.execPtraceFunc(func() {
		var debugregs [8]uint64

		for i := range debugregs {
			if i == 4 || i == 5 {
				continue
			}
			_, _, err = sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_PEEKUSR, uintptr(t.ID), uintptr(debugRegUserOffset+uintptr(i)*unsafe.Sizeof(debugregs[0])), uintptr(unsafe.Pointer(&debugregs[i])), 0, 0)
			if err != nil && err != syscall.Errno(0) {
				return
			}
		}

		drs := amd64util.DebugRegisters{DR6: debugregs[6], DR7: debugregs[7]}
		copy(drs.Addrs[:], debugregs[:amd64util.NumDebugAddrs])

		err = f(&drs)
		if err != nil || !drs.Dirty {
			return
		}

		copy(debugregs[:amd64util.NumDebugAddrs], drs.Addrs[:])
		debugregs[6], debugregs[7] = drs.DR6, drs.DR7
		// DR7 goes last, the kernel validates it against the addresses
		for i := range debugregs {
			if i == 4 || i == 5 {
				// Linux will return EIO for DR4 and DR5
				continue
			}
			_, _, err = sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_POKEUSR, uintptr(t.ID), uintptr(debugRegUserOffset+uintptr(i)*unsafe.Sizeof(debugregs[0])), uintptr(debugregs[i]), 0, 0)
			if err != nil && err != syscall.Errno(0) {
				return
			}
		}
	})
	if err == syscall.Errno(0) || err == sys.ESRCH {
		err = nil
	}
	return err
}
