package proc

import (
	"fmt"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// Thread represents a single thread in the target process.
type Thread struct {
	th     ThreadInternal
	target *Target
	id     int

	runState  RunState
	stackBase uint64
	stackSize uint64
	stepping  bool

	// managedID is the identity the managed runtime gave this thread, -1
	// until CorrelateThreadLocals finds it.
	managedID     int64
	managedStacks bool
}

// ID returns the operating system ID of the thread.
func (th *Thread) ID() int { return th.id }

// RunState returns the state observed at the last stop. It is
// RunStateUnknown while the target runs.
func (th *Thread) RunState() RunState { return th.runState }

// QueryRunState asks the operating system for the state of the thread.
func (th *Thread) QueryRunState() (RunState, error) {
	if err := th.target.checkState("query thread", StateStopped, StateRunning); err != nil {
		return RunStateUnknown, err
	}
	return th.th.RunState()
}

// StackBounds returns the base and size of the stack of the thread.
func (th *Thread) StackBounds() (base, size uint64) { return th.stackBase, th.stackSize }

// Stepping returns true while a single step of this thread is in flight.
func (th *Thread) Stepping() bool { return th.stepping }

// ManagedID returns the thread identity assigned by the managed runtime.
func (th *Thread) ManagedID() (int64, bool) { return th.managedID, th.managedID >= 0 }

func (th *Thread) String() string {
	return fmt.Sprintf("thread %d (%s)", th.id, th.runState)
}

// refresh reloads state and stack bounds after a stop.
func (th *Thread) refresh() {
	if rs, err := th.th.RunState(); err == nil {
		th.runState = rs
	} else {
		th.runState = RunStateUnknown
	}
	if th.managedStacks {
		return
	}
	if base, size, err := th.th.StackBounds(); err == nil {
		th.stackBase, th.stackSize = base, size
	}
}

func (th *Thread) checkStopped(op string) error {
	if err := th.target.checkState(op, StateStopped); err != nil {
		return err
	}
	if cur, ok := th.target.threads[th.id]; !ok || cur != th {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("thread %d", th.id), Err: ErrThreadNotFound}
	}
	return nil
}

// Registers reads every register of the thread.
func (th *Thread) Registers() (regset.CanonicalRegisterSet, error) {
	if err := th.checkStopped("read registers"); err != nil {
		return regset.CanonicalRegisterSet{}, err
	}
	return th.th.Registers(regset.All)
}

// ReadRegisterBytes encodes the integer, floating point and state groups
// of the registers into the given buffers, a nil buffer skips its group.
// A buffer shorter than the canonical size of its group is rejected before
// the thread is touched.
func (th *Thread) ReadRegisterBytes(integer, floatingPoint, state []byte) error {
	isa := th.target.arch.ISA
	var which regset.Subset
	for _, g := range []struct {
		buf    []byte
		subset regset.Subset
	}{{integer, regset.Integer}, {floatingPoint, regset.FloatingPoint}, {state, regset.State}} {
		if g.buf == nil {
			continue
		}
		if len(g.buf) < regset.Size(isa, g.subset) {
			return &ProtocolError{
				Op:     "read registers",
				Reason: fmt.Sprintf("%s buffer of %d bytes, need %d", g.subset, len(g.buf), regset.Size(isa, g.subset)),
				Err:    regset.ErrSizeMismatch,
			}
		}
		which |= g.subset
	}
	if which == 0 {
		return nil
	}
	if err := th.checkStopped("read registers"); err != nil {
		return err
	}
	rs, err := th.th.Registers(which)
	if err != nil {
		return err
	}
	if integer != nil {
		rs.Encode(regset.Integer, integer)
	}
	if floatingPoint != nil {
		rs.Encode(regset.FloatingPoint, floatingPoint)
	}
	if state != nil {
		rs.Encode(regset.State, state)
	}
	return nil
}

// WriteRegisters writes the groups of rs selected by which back to the
// thread. Registers the canonical layout does not capture keep their
// values.
func (th *Thread) WriteRegisters(rs regset.CanonicalRegisterSet, which regset.Subset) error {
	if err := th.checkStopped("write registers"); err != nil {
		return err
	}
	if rs.ISA() != th.target.arch.ISA {
		return &ProtocolError{Op: "write registers", Reason: fmt.Sprintf("register set for %s, target is %s", rs.ISA(), th.target.arch.ISA)}
	}
	return th.th.WriteRegisters(rs, which)
}

// PC returns the instruction pointer of the thread.
func (th *Thread) PC() (uint64, error) {
	if err := th.checkStopped("read registers"); err != nil {
		return 0, err
	}
	rs, err := th.th.Registers(regset.State)
	if err != nil {
		return 0, err
	}
	return rs.PC(), nil
}

// SetInstructionPointer moves the thread to pc.
func (th *Thread) SetInstructionPointer(pc uint64) error {
	if err := th.checkStopped("set instruction pointer"); err != nil {
		return err
	}
	rs, err := th.th.Registers(regset.State)
	if err != nil {
		return err
	}
	rs.SetPC(pc)
	return th.th.WriteRegisters(rs, regset.State)
}
