package native

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/regset"
)

// osSpecificDetails hold Linux specific
// process details.
type osSpecificDetails struct {
	running   bool
	inSyscall bool

	// suspend is the suspend depth, ptrace has no counted suspension so
	// it is kept here and honored by Resume.
	suspend int

	// pendingStop is set after we sent SIGSTOP to the thread and until
	// the stop is observed.
	pendingStop bool

	// pending is an event observed while the process was being stopped,
	// it is handled by the next Wait.
	pending *sys.WaitStatus
}

// syscallArgser is implemented by the native general purpose register
// structures.
type syscallArgser interface {
	SyscallArgs() (nr uint64, args [6]uint64)
}

func (t *nativeThread) resume() error {
	return t.resumeWithSig(0)
}

func (t *nativeThread) resumeWithSig(sig int) (err error) {
	t.os.running = true
	t.dbp.execPtraceFunc(func() {
		if t.dbp.interception.Syscalls {
			err = ptraceSyscall(t.ID, sig)
		} else {
			err = ptraceCont(t.ID, sig)
		}
	})
	if err != nil {
		t.os.running = false
	}
	return err
}

// pendingSignal consumes the event kept for the thread and returns the
// signal it has to be resumed with, zero for stops that carry no signal.
func (t *nativeThread) pendingSignal() int {
	ws := t.os.pending
	t.os.pending = nil
	if ws == nil || !ws.Stopped() {
		return 0
	}
	switch sig := ws.StopSignal(); sig {
	case sys.SIGTRAP, sys.SIGSTOP, syscallTrap:
		return 0
	default:
		return int(sig)
	}
}

// halt sends SIGSTOP to the thread, the stop is collected by
// nativeProcess.stop.
func (t *nativeThread) halt() error {
	if err := sys.Tgkill(t.dbp.pid, t.ID, sys.SIGSTOP); err != nil {
		return err
	}
	t.os.pendingStop = true
	return nil
}

// classify converts the stop described by ws into a stop reason. If the
// stop is not reported deliver is the signal the thread has to be resumed
// with.
func (t *nativeThread) classify(ws *sys.WaitStatus, in proc.Interception) (sr proc.StopReason, deliver int, report bool) {
	sr.ThreadID = t.ID
	sig := ws.StopSignal()
	switch sig {
	case syscallTrap:
		t.os.inSyscall = !t.os.inSyscall
		sr.Kind = proc.StopSyscallExit
		if t.os.inSyscall {
			sr.Kind = proc.StopSyscallEntry
		}
		sr.Syscall = t.syscallNumber()
		return sr, 0, in.Syscalls

	case sys.SIGTRAP:
		if ws.TrapCause() > 0 {
			// ptrace event stop, nothing to deliver
			return sr, 0, false
		}
		sr.Kind = proc.StopFaulted
		sr.Fault = proc.FaultBreakpoint
		si, err := t.siginfo()
		switch {
		case err != nil:
		case si.code == _TRAP_TRACE:
			sr.Fault = proc.FaultTrace
		case si.code == _TRAP_HWBKPT:
			sr.Fault = proc.FaultWatchpoint
			sr.Addr = si.addr
		}
		if addr, ok := t.watchpointHit(); ok {
			sr.Fault = proc.FaultWatchpoint
			sr.Addr = addr
		}
		if sr.Fault == proc.FaultBreakpoint {
			if rs, err := t.Registers(regset.State); err == nil {
				sr.Addr = rs.PC()
			}
		}
		if in.Faults.Contains(sr.Fault) {
			return sr, 0, true
		}
		return sr, int(sig), false

	case sys.SIGSTOP:
		if t.os.pendingStop {
			t.os.pendingStop = false
			return sr, 0, false
		}
		if t.dbp.stopRequested.CAS(true, false) {
			sr.Kind = proc.StopRequested
			return sr, 0, true
		}
		sr.Kind = proc.StopJobControl
		sr.Signal = int(sig)
		return sr, 0, true

	case sys.SIGTSTP, sys.SIGTTIN, sys.SIGTTOU:
		sr.Kind = proc.StopJobControl
		sr.Signal = int(sig)
		return sr, 0, true
	}

	si, err := t.siginfo()
	if err == nil {
		var sp uint64
		if rs, err := t.Registers(regset.Integer | regset.State); err == nil {
			sp = rs.SP()
		}
		if fault, ok := faultForSignal(sig, si.code, si.addr, sp, uint64(t.dbp.pageSize)); ok {
			sr.Kind = proc.StopFaulted
			sr.Fault = fault
			sr.Addr = si.addr
			if in.Faults.Contains(fault) {
				return sr, 0, true
			}
			return sr, int(sig), false
		}
	}
	sr.Kind = proc.StopSignaled
	sr.Signal = int(sig)
	if in.Signals.Contains(int(sig)) {
		return sr, 0, true
	}
	return sr, int(sig), false
}

func (t *nativeThread) siginfo() (si siginfo, err error) {
	t.dbp.execPtraceFunc(func() { si, err = ptraceGetSiginfo(t.ID) })
	return si, err
}

func (t *nativeThread) syscallNumber() uint64 {
	natives, err := t.readNative(regset.Integer)
	if err != nil {
		return 0
	}
	for _, n := range natives {
		if sa, ok := n.(syscallArgser); ok {
			nr, _ := sa.SyscallArgs()
			return nr
		}
	}
	return 0
}

// RunState reads the state of the thread from /proc/<pid>/task/<tid>/stat.
func (t *nativeThread) RunState() (proc.RunState, error) {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", t.dbp.pid, t.ID))
	if err != nil {
		return proc.RunStateUnknown, t.oscall("read thread state", err)
	}
	return parseRunState(buf), nil
}

func parseRunState(stat []byte) proc.RunState {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return proc.RunStateUnknown
	}
	switch stat[i+2] {
	case statusTraceStop, statusTraceStopT:
		return proc.RunStateStopped
	case statusRunning:
		return proc.RunStateRunning
	case statusSleeping, statusDiskSleep:
		return proc.RunStateWaiting
	}
	return proc.RunStateUnknown
}

// StackBounds returns the mapping that contains the stack pointer of the
// thread.
func (t *nativeThread) StackBounds() (base, size uint64, err error) {
	rs, err := t.Registers(regset.Integer | regset.State)
	if err != nil {
		return 0, 0, err
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/task/%d/maps", t.dbp.pid, t.ID))
	if err != nil {
		return 0, 0, t.oscall("read memory map", err)
	}
	defer f.Close()
	start, end, ok := findMapping(bufio.NewScanner(f), rs.SP())
	if !ok {
		return 0, 0, fmt.Errorf("no mapping contains stack pointer %#x of thread %d", rs.SP(), t.ID)
	}
	return start, end - start, nil
}

// findMapping returns the bounds of the line of a maps file that contains
// addr.
func findMapping(s *bufio.Scanner, addr uint64) (start, end uint64, ok bool) {
	for s.Scan() {
		line := s.Bytes()
		sp := bytes.IndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		dash := bytes.IndexByte(line[:sp], '-')
		if dash < 0 {
			continue
		}
		lo, err1 := strconv.ParseUint(string(line[:dash]), 16, 64)
		hi, err2 := strconv.ParseUint(string(line[dash+1:sp]), 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if addr >= lo && addr < hi {
			return lo, hi, true
		}
	}
	return 0, 0, false
}

func (t *nativeThread) SuspendCount() (int, error) {
	return t.os.suspend, nil
}

func (t *nativeThread) Suspend() error {
	if t.os.running {
		if err := t.halt(); err != nil {
			return t.oscall("suspend", err)
		}
		if _, ws, err := t.dbp.waitFast(t.ID); err != nil {
			return t.oscall("suspend", err)
		} else if ws.Stopped() && ws.StopSignal() == sys.SIGSTOP {
			t.os.pendingStop = false
		} else if ws.Stopped() {
			t.os.pending = ws
		}
		t.os.running = false
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

// Registers reads the native register structures covering which and
// converts them.
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

// WriteRegisters replaces the registers in which. The native structures
// are read first so that registers outside of the canonical set are kept.
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
