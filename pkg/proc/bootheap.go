package proc

import (
	"errors"
	"fmt"

	"github.com/go-delve/tele/pkg/logflags"
	"github.com/go-delve/tele/pkg/proc/regset"
)

// LocateBootHeapMapping finds the address at which a freshly executed
// target maps its boot heap. The target is stepped one instruction at a
// time with StepProcess until it is about to execute the system call that
// maps expectedSize bytes of anonymous memory, the call is stepped over and
// its return value is the address of the mapping.
//
// This is a heuristic tied to the start up sequence of the runtime. At
// most Config().BootHeapCandidates system calls and
// Config().BootHeapMaxInstructions instructions are inspected, after which
// ErrBootHeapNotFound is returned. ErrBootHeapNotFound is also returned if
// the target starts a second thread first. If the target exits the error
// is ErrProcessExited.
func (t *Target) LocateBootHeapMapping(expectedSize uint64) (uint64, error) {
	const op = "locate boot heap"
	if err := t.checkState(op, StateStopped); err != nil {
		return 0, err
	}
	if len(t.order) != 1 {
		return 0, &ProtocolError{Op: op, Reason: fmt.Sprintf("target has %d threads", len(t.order))}
	}
	abi, err := SyscallABIFor(t.cfg.GOOS, t.arch.ISA)
	if err != nil {
		return 0, err
	}
	log := logflags.StepLogger().WithField("op", "bootheap")

	candidates := 0
	for steps := 0; steps < t.cfg.BootHeapMaxInstructions; steps++ {
		th := t.order[0]
		rs, err := th.th.Registers(regset.All)
		if err != nil {
			return 0, err
		}
		pc := rs.PC()
		insts, err := Disassemble(t, t.arch, pc, 1)
		if err != nil {
			return 0, fmt.Errorf("%w: can not read instruction at %#x: %v", ErrBootHeapNotFound, pc, err)
		}
		if insts[0].Kind == SyscallInstruction {
			candidates++
			nr, args := abi.Arguments(rs)
			if logflags.Step() {
				log.Debugf("candidate %d at %#x: syscall %d length %#x", candidates, pc, nr, args[abi.MmapLength])
			}
			if nr == abi.Mmap && args[abi.MmapLength] == expectedSize {
				return t.completeBootHeapMapping(abi)
			}
			if candidates >= t.cfg.BootHeapCandidates {
				return 0, fmt.Errorf("%w: no mapping of %#x bytes in the first %d system calls", ErrBootHeapNotFound, expectedSize, candidates)
			}
		}
		if err := t.bootHeapStep(); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: no mapping of %#x bytes in the first %d instructions", ErrBootHeapNotFound, expectedSize, t.cfg.BootHeapMaxInstructions)
}

// completeBootHeapMapping steps over the mapping call and reads its result.
func (t *Target) completeBootHeapMapping(abi *SyscallABI) (uint64, error) {
	if err := t.bootHeapStep(); err != nil {
		return 0, err
	}
	rs, err := t.order[0].th.Registers(regset.All)
	if err != nil {
		return 0, err
	}
	if errno, failed := abi.Failed(rs); failed {
		return 0, fmt.Errorf("%w: mapping call failed with errno %d", ErrBootHeapNotFound, errno)
	}
	addr := rs.Integer(abi.Return)
	if logflags.Step() {
		logflags.StepLogger().Debugf("boot heap mapped at %#x", addr)
	}
	return addr, nil
}

func (t *Target) bootHeapStep() error {
	_, err := t.StepProcess()
	if err == nil {
		if len(t.order) != 1 {
			return fmt.Errorf("%w: target started a second thread", ErrBootHeapNotFound)
		}
		return nil
	}
	var perr *ProtocolError
	if errors.As(err, &perr) && len(t.order) != 1 {
		return fmt.Errorf("%w: target started a second thread", ErrBootHeapNotFound)
	}
	return err
}
