package proc_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-delve/tele/pkg/proc"
	protest "github.com/go-delve/tele/pkg/proc/test"
)

func depths(p *protest.SimProcess, tids []int) []int {
	r := make([]int, len(tids))
	for i, tid := range tids {
		r[i] = p.Thread(tid).SuspendDepth()
	}
	return r
}

func TestSingleStepRestoresSuspendDepths(t *testing.T) {
	tids := []int{1, 2, 3, 4, 5}
	for _, tc := range [][]int{
		{0, 0, 0, 0, 0},
		{0, 2, 1, 0, 3},
		{1, 1, 1, 1, 1},
		{4, 0, 0, 0, 7},
		{0, 0, 5, 0, 0},
	} {
		for stepped := range tids {
			p, tgt := newSimTarget(t, testConfig(), tids...)
			for i, tid := range tids {
				p.Thread(tid).SetSuspendDepth(tc[i])
			}
			th, _ := tgt.FindThread(tids[stepped])

			if err := tgt.SingleStep(th); err != nil {
				t.Fatalf("depths %v, stepping %d: %v", tc, th.ID(), err)
			}
			if got := depths(p, tids); fmt.Sprint(got) != fmt.Sprint(tc) {
				t.Fatalf("depths %v, stepping %d: restored to %v", tc, th.ID(), got)
			}
			if p.MaxRunnable != 1 {
				t.Fatalf("depths %v, stepping %d: %d threads could run during the step", tc, th.ID(), p.MaxRunnable)
			}
			if p.Steps != 1 {
				t.Fatalf("depths %v, stepping %d: %d instructions executed", tc, th.ID(), p.Steps)
			}
		}
	}
}

func TestSingleStepRestoresOnFailure(t *testing.T) {
	tids := []int{1, 2, 3, 4}
	want := []int{0, 2, 0, 1}
	setup := func() (*protest.SimProcess, *proc.Target, *proc.Thread) {
		p, tgt := newSimTarget(t, testConfig(), tids...)
		for i, tid := range tids {
			p.Thread(tid).SetSuspendDepth(want[i])
		}
		th, _ := tgt.FindThread(1)
		return p, tgt, th
	}

	// the second thread is already held when the third fails
	p, tgt, th := setup()
	p.Thread(3).FailSuspend = errors.New("no such process")
	err := tgt.SingleStep(th)
	var oserr *proc.OSCallError
	if !errors.As(err, &oserr) || oserr.Op != "suspend" || oserr.Tid != 3 {
		t.Fatalf("expected the suspend failure, got %v", err)
	}
	if got := depths(p, tids); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("restored to %v", got)
	}
	if p.Steps != 0 {
		t.Fatal("instruction executed after a failed suspend")
	}
	if p.Thread(1).Regs().SingleStep() {
		t.Fatal("single step flag left set")
	}
	if tgt.State() != proc.StateStopped {
		t.Fatalf("state %s", tgt.State())
	}

	// a suspend that does not stick
	p, tgt, th = setup()
	p.Thread(3).IgnoreSuspend = true
	assertProtocolError(t, tgt.SingleStep(th))
	if got := depths(p, tids); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("restored to %v", got)
	}

	// the target is still usable
	p.Thread(3).IgnoreSuspend = false
	if err := tgt.SingleStep(th); err != nil {
		t.Fatal(err)
	}
}

func TestSingleStepNested(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1, 2)
	th1, _ := tgt.FindThread(1)
	th2, _ := tgt.FindThread(2)

	var nestedStep, nestedProcessStep error
	var calls []string
	p.OnContinueForStep = func(*protest.SimThread) {
		n := len(p.Calls)
		if !th1.Stepping() {
			t.Error("thread not marked as stepping")
		}
		nestedStep = tgt.SingleStep(th2)
		_, nestedProcessStep = tgt.StepProcess()
		calls = p.Calls[n:]
	}
	if err := tgt.SingleStep(th1); err != nil {
		t.Fatal(err)
	}
	for _, err := range []error{nestedStep, nestedProcessStep} {
		assertProtocolError(t, err)
		if !errors.Is(err, proc.ErrStepInProgress) {
			t.Fatalf("expected ErrStepInProgress, got %v", err)
		}
	}
	if len(calls) != 0 {
		t.Fatalf("nested step reached the backend: %v", calls)
	}
	if p.Steps != 1 {
		t.Fatalf("%d instructions executed", p.Steps)
	}
	if th1.Stepping() {
		t.Fatal("thread still marked as stepping")
	}

	p.OnContinueForStep = nil
	if err := tgt.SingleStep(th2); err != nil {
		t.Fatalf("step after a completed step: %v", err)
	}
}

func TestSingleStepExit(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1, 2)
	p.Thread(2).SetSuspendDepth(1)
	p.OnStep = func(*protest.SimThread) { p.Exit(3) }
	th, _ := tgt.FindThread(1)

	err := tgt.SingleStep(th)
	var pe proc.ErrProcessExited
	if !errors.As(err, &pe) || pe.Status != 3 {
		t.Fatalf("expected exit, got %v", err)
	}
	if !tgt.Exited() {
		t.Fatalf("state %s", tgt.State())
	}
	if err := tgt.SingleStep(th); !proc.IsProcessExited(err) {
		t.Fatalf("step after exit: %v", err)
	}
}

func TestSingleStepThreadDies(t *testing.T) {
	tids := []int{1, 2, 3}
	p, tgt := newSimTarget(t, testConfig(), tids...)
	p.Thread(3).SetSuspendDepth(2)
	p.OnContinueForStep = func(*protest.SimThread) { p.Thread(2).Die() }
	th, _ := tgt.FindThread(1)

	if err := tgt.SingleStep(th); err != nil {
		t.Fatal(err)
	}
	if p.Thread(3).SuspendDepth() != 2 || p.Thread(1).SuspendDepth() != 0 {
		t.Fatalf("depths %v", depths(p, tids))
	}
	if d := tgt.ThreadsDied(); len(d) != 1 || d[0] != 2 {
		t.Fatalf("died %v", d)
	}
	if err := tgt.SingleStep(th); err != nil {
		t.Fatal(err)
	}
}

func TestSingleStepStaleThread(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1, 2)
	th2, _ := tgt.FindThread(2)
	p.Thread(2).Die()
	if err := tgt.RefreshThreads(); err != nil {
		t.Fatal(err)
	}
	calls := len(p.Calls)
	err := tgt.SingleStep(th2)
	if !errors.Is(err, proc.ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
	if len(p.Calls) != calls {
		t.Fatalf("backend called: %v", p.Calls[calls:])
	}
}

func TestSingleStepRunning(t *testing.T) {
	_, tgt := newSimTarget(t, testConfig(), 1)
	if err := tgt.Resume(); err != nil {
		t.Fatal(err)
	}
	assertProtocolError(t, tgt.SingleStep(tgt.Threads()[0]))
}

func TestStepProcess(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	for i := 1; i <= 3; i++ {
		sr, err := tgt.StepProcess()
		if err != nil {
			t.Fatal(err)
		}
		if sr.Kind != proc.StopFaulted || sr.Fault != proc.FaultTrace {
			t.Fatalf("stop %s", sr)
		}
		if pc, _ := tgt.Threads()[0].PC(); pc != codeAddr+uint64(i) {
			t.Fatalf("pc %#x after %d steps", pc, i)
		}
	}

	p.AddThread(2)
	if err := tgt.RefreshThreads(); err != nil {
		t.Fatal(err)
	}
	_, err := tgt.StepProcess()
	assertProtocolError(t, err)
}
