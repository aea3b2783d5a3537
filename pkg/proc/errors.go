package proc

import (
	"errors"
	"fmt"
)

var (
	// ErrWaitTimeout is returned by WaitForStop when the target did not stop
	// within the requested time. The target is still running.
	ErrWaitTimeout = errors.New("timed out waiting for the target to stop")

	// ErrBootHeapNotFound is returned when the boot heap mapping call was
	// not observed within the configured limits.
	ErrBootHeapNotFound = errors.New("boot heap mapping not found")

	// ErrABIMismatch is returned when the native register layouts compiled
	// into this program do not match what the operating system expects.
	ErrABIMismatch = errors.New("native register layout does not match the running kernel")

	// ErrWatchpointsUnsupported is returned by backends without hardware
	// watchpoints.
	ErrWatchpointsUnsupported = errors.New("watchpoints not supported by this backend")

	// ErrStepInProgress is wrapped by the ProtocolError returned when a
	// single step is requested while another is still in flight.
	ErrStepInProgress = errors.New("another single step is in flight")

	// ErrThreadNotFound is returned for thread IDs that are not part of the
	// last enumeration.
	ErrThreadNotFound = errors.New("no such thread")
)

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// IsProcessExited reports whether err is, or wraps, ErrProcessExited.
func IsProcessExited(err error) bool {
	var pe ErrProcessExited
	return errors.As(err, &pe)
}

// ProcessDetachedError indicates that we detached from the target process.
type ProcessDetachedError struct{}

func (pe ProcessDetachedError) Error() string {
	return "detached from the process"
}

// OSCallError is a failed call into the operating system, it carries
// enough context to be logged by the caller.
type OSCallError struct {
	Op  string
	Pid int
	Tid int // zero for process wide calls
	Err error
}

func (e *OSCallError) Error() string {
	if e.Tid != 0 {
		return fmt.Sprintf("%s (pid %d, tid %d): %v", e.Op, e.Pid, e.Tid, e.Err)
	}
	return fmt.Sprintf("%s (pid %d): %v", e.Op, e.Pid, e.Err)
}

func (e *OSCallError) Unwrap() error { return e.Err }

// NewOSCallError wraps err, it returns nil if err is nil.
func NewOSCallError(op string, pid, tid int, err error) error {
	if err == nil {
		return nil
	}
	return &OSCallError{Op: op, Pid: pid, Tid: tid, Err: err}
}

// ProtocolError is a violation of the calling contract, it is always
// detected before any call into the operating system is made.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
