package proc

import (
	"time"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// ProcessInternal is the interface implemented by the OS backends. Target
// serializes every call, backends are free to assume a single caller.
type ProcessInternal interface {
	Pid() int
	ISA() regset.ISA
	// PageSize returns the page size of the target, zero if the process
	// wide default applies.
	PageSize() int
	// Memory returns the accessor for the memory of the target.
	Memory() MemoryReadWriter
	// ThreadList enumerates the threads currently alive in the target.
	ThreadList() ([]ThreadInternal, error)

	// Resume lets every thread whose suspend count is zero run, after
	// clearing pending faults and signals and arming in.
	Resume(in Interception) error
	// Wait blocks until the target stops or timeout elapses, a zero timeout
	// blocks indefinitely. On timeout ErrWaitTimeout is returned.
	// When Wait returns the whole target is stopped again.
	Wait(timeout time.Duration) (StopReason, error)
	// RequestStop asks a running target to stop, the stop is reported by
	// the next Wait.
	RequestStop() error

	// ContinueForStep runs th alone for one instruction. The single step
	// flag of th is already set and every other thread is suspended.
	ContinueForStep(th ThreadInternal) error
	// WaitForStep waits until th stops again after ContinueForStep.
	WaitForStep(th ThreadInternal) (StopReason, error)
	// KernelStep steps the whole process by one instruction using the
	// kernel primitive, valid only while the process has a single thread.
	KernelStep() (StopReason, error)

	Kill() error
	Detach(kill bool) error
}

// ThreadInternal is the backend half of a thread.
type ThreadInternal interface {
	ThreadID() int
	// RunState queries the operating system for the state of the thread.
	RunState() (RunState, error)

	Registers(which regset.Subset) (regset.CanonicalRegisterSet, error)
	WriteRegisters(rs regset.CanonicalRegisterSet, which regset.Subset) error
	SetSingleStep(on bool) error

	// SuspendCount returns the current suspend depth of the thread.
	SuspendCount() (int, error)
	Suspend() error
	Resume() error

	// StackBounds returns the stack the thread is running on, as far as the
	// backend can tell.
	StackBounds() (base, size uint64, err error)
}

// WatchpointSetter is implemented by backends with hardware watchpoints.
type WatchpointSetter interface {
	MaxWatchpoints() int
	SetWatchpoint(addr uint64, size int, kind WatchKind) error
	ClearWatchpoint(addr uint64) error
}
