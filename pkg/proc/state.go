package proc

import "fmt"

// ProcessState is the lifecycle state of a Target.
type ProcessState uint8

const (
	StateUnattached ProcessState = iota
	StateAttaching
	StateStopped
	StateRunning
	StateExited
	StateDetached
)

func (s ProcessState) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateAttaching:
		return "attaching"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateDetached:
		return "detached"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal returns true for states no operation can leave.
func (s ProcessState) Terminal() bool {
	return s == StateExited || s == StateDetached
}

// RunState is the last observed state of a thread.
type RunState uint8

const (
	RunStateUnknown RunState = iota
	RunStateRunning
	RunStateStopped
	RunStateAtBreakpoint
	RunStateAtWatchpoint
	RunStateWaiting
)

func (s RunState) String() string {
	switch s {
	case RunStateUnknown:
		return "unknown"
	case RunStateRunning:
		return "running"
	case RunStateStopped:
		return "stopped"
	case RunStateAtBreakpoint:
		return "breakpoint"
	case RunStateAtWatchpoint:
		return "watchpoint"
	case RunStateWaiting:
		return "waiting"
	}
	return fmt.Sprintf("runstate(%d)", uint8(s))
}

// StopKind describes why the target stopped.
type StopKind uint8

const (
	StopRequested    StopKind = iota // a stop was requested with Suspend
	StopSignaled                     // an intercepted signal was delivered
	StopFaulted                      // an intercepted hardware fault
	StopSyscallEntry                 // entry into a system call
	StopSyscallExit                  // return from a system call
	StopJobControl                   // stopped by a job control signal
	StopExited                       // the target process terminated
)

func (k StopKind) String() string {
	switch k {
	case StopRequested:
		return "requested"
	case StopSignaled:
		return "signaled"
	case StopFaulted:
		return "faulted"
	case StopSyscallEntry:
		return "syscall-entry"
	case StopSyscallExit:
		return "syscall-exit"
	case StopJobControl:
		return "job-control"
	case StopExited:
		return "exited"
	}
	return fmt.Sprintf("stopkind(%d)", uint8(k))
}

// StopReason is reported by every wait and step.
type StopReason struct {
	Kind     StopKind
	ThreadID int // thread that caused the stop, zero if unknown

	Signal   int    // StopSignaled, StopJobControl
	Fault    Fault  // StopFaulted
	Syscall  uint64 // StopSyscallEntry, StopSyscallExit
	ExitCode int    // StopExited
	Addr     uint64 // faulting or watched address, when known
}

func (sr StopReason) String() string {
	switch sr.Kind {
	case StopSignaled, StopJobControl:
		return fmt.Sprintf("%s(%d) thread %d", sr.Kind, sr.Signal, sr.ThreadID)
	case StopFaulted:
		if sr.Addr != 0 {
			return fmt.Sprintf("faulted(%s) thread %d at %#x", sr.Fault, sr.ThreadID, sr.Addr)
		}
		return fmt.Sprintf("faulted(%s) thread %d", sr.Fault, sr.ThreadID)
	case StopSyscallEntry, StopSyscallExit:
		return fmt.Sprintf("%s(%d) thread %d", sr.Kind, sr.Syscall, sr.ThreadID)
	case StopExited:
		return fmt.Sprintf("exited(%d)", sr.ExitCode)
	}
	return fmt.Sprintf("%s thread %d", sr.Kind, sr.ThreadID)
}
