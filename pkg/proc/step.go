package proc

import (
	"errors"
	"fmt"

	"github.com/go-delve/tele/pkg/logflags"
)

// beginStep claims the step slot of the target. It fails, without calling
// into the backend, if a step is already in flight or the target is not
// stopped.
func (t *Target) beginStep(op string) error {
	if !t.stepping.CAS(false, true) {
		return &ProtocolError{Op: op, Reason: "another step is in flight", Err: ErrStepInProgress}
	}
	if err := t.checkState(op, StateStopped); err != nil {
		t.stepping.Store(false)
		return err
	}
	t.cache.flush()
	for _, th := range t.order {
		th.runState = RunStateUnknown
	}
	return nil
}

func (t *Target) endStep() {
	t.stepping.Store(false)
}

// suspendRecord is the suspend depth a thread had before a step began.
type suspendRecord struct {
	th    *Thread
	depth int
}

// SingleStep executes exactly one instruction on th while every other
// thread of the target is held still.
//
// The depth each sibling was suspended to before the step is restored
// exactly afterwards, a thread the caller suspended twice is still
// suspended twice when SingleStep returns.
// If the target exits during the step ErrProcessExited is returned and the
// target moves to StateExited.
func (t *Target) SingleStep(th *Thread) error {
	if err := t.beginStep("single step"); err != nil {
		return err
	}
	defer t.endStep()
	if cur, ok := t.threads[th.id]; !ok || cur != th {
		return &ProtocolError{Op: "single step", Reason: fmt.Sprintf("thread %d", th.id), Err: ErrThreadNotFound}
	}

	log := logflags.StepLogger().WithField("tid", th.id)
	th.stepping = true
	defer func() { th.stepping = false }()

	sr, err := t.stepIsolated(th, log)
	if err != nil {
		if IsProcessExited(err) {
			t.exitedFrom(err)
			return ErrProcessExited{Pid: t.Pid(), Status: t.exitCode}
		}
		t.refreshAfterStop()
		return err
	}
	if sr.Kind == StopExited {
		t.setExited(sr.ExitCode)
		return ErrProcessExited{Pid: t.Pid(), Status: sr.ExitCode}
	}
	t.lastStop = sr
	if err := t.refreshAfterStop(); err != nil {
		return err
	}
	if logflags.Step() {
		log.Debugf("stepped: %s", sr)
	}
	return nil
}

func (t *Target) refreshAfterStop() error {
	if t.state != StateStopped {
		return nil
	}
	return t.exitedFrom(t.refreshThreads())
}

func (t *Target) stepIsolated(th *Thread, log logflags.Logger) (sr StopReason, err error) {
	if err := th.th.SetSingleStep(true); err != nil {
		return sr, err
	}
	defer func() {
		if IsProcessExited(err) {
			return
		}
		if cerr := th.th.SetSingleStep(false); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// Hold every sibling. The record is made before anything else is
	// touched so that a failure half way through can still be undone.
	held := make([]suspendRecord, 0, len(t.order))
	defer func() {
		if IsProcessExited(err) {
			return
		}
		if rerr := t.restoreDepths(held, log); rerr != nil && err == nil {
			err = rerr
		}
	}()
	for _, other := range t.order {
		if other == th {
			continue
		}
		depth, err := other.th.SuspendCount()
		if err != nil {
			return sr, err
		}
		held = append(held, suspendRecord{other, depth})
		if depth > 0 {
			continue
		}
		if err := other.th.Suspend(); err != nil {
			return sr, err
		}
		confirmed, err := other.th.SuspendCount()
		if err != nil {
			return sr, err
		}
		if confirmed < 1 {
			return sr, &ProtocolError{Op: "single step", Reason: fmt.Sprintf("thread %d did not suspend", other.id)}
		}
	}
	if logflags.Step() {
		log.Debugf("holding %d threads", len(held))
	}

	own, err := th.th.SuspendCount()
	if err != nil {
		return sr, err
	}
	// The stepped thread goes back to its own depth whatever happens next.
	held = append(held, suspendRecord{th, own})
	for i := 0; i < own; i++ {
		if err := th.th.Resume(); err != nil {
			return sr, err
		}
	}
	if err := t.proc.ContinueForStep(th.th); err != nil {
		return sr, err
	}
	return t.proc.WaitForStep(th.th)
}

// restoreDepths brings every recorded thread back to the suspend depth it
// had before the step. Threads that died during the step are skipped.
func (t *Target) restoreDepths(held []suspendRecord, log logflags.Logger) error {
	var firstErr error
	for _, rec := range held {
		cur, err := rec.th.th.SuspendCount()
		if err != nil {
			if firstErr == nil && !errors.Is(err, ErrThreadNotFound) {
				firstErr = err
			}
			continue
		}
		for ; cur > rec.depth && err == nil; cur-- {
			err = rec.th.th.Resume()
		}
		for ; cur < rec.depth && err == nil; cur++ {
			err = rec.th.th.Suspend()
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if logflags.Step() {
			log.Debugf("thread %d restored to depth %d", rec.th.id, rec.depth)
		}
	}
	return firstErr
}

// StepProcess steps the whole target by one instruction with the kernel
// single step primitive. It is only valid while the target has exactly one
// thread, as during the start up of a freshly executed program.
func (t *Target) StepProcess() (StopReason, error) {
	if err := t.beginStep("step process"); err != nil {
		return StopReason{}, err
	}
	defer t.endStep()
	if len(t.order) != 1 {
		return StopReason{}, &ProtocolError{Op: "step process", Reason: fmt.Sprintf("target has %d threads", len(t.order))}
	}
	sr, err := t.proc.KernelStep()
	if err != nil {
		if IsProcessExited(err) {
			t.exitedFrom(err)
			return t.lastStop, ErrProcessExited{Pid: t.Pid(), Status: t.exitCode}
		}
		t.refreshAfterStop()
		return sr, err
	}
	if sr.Kind == StopExited {
		t.setExited(sr.ExitCode)
		return t.lastStop, ErrProcessExited{Pid: t.Pid(), Status: sr.ExitCode}
	}
	t.lastStop = sr
	if err := t.refreshAfterStop(); err != nil {
		return sr, err
	}
	if logflags.Step() {
		logflags.StepLogger().Debugf("process step: %s", sr)
	}
	return sr, nil
}
