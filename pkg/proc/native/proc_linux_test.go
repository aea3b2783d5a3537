package native

import (
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/proc"
	protest "github.com/go-delve/tele/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func launchFixture(t *testing.T, name string, args ...string) *proc.Target {
	t.Helper()
	_, tgt := launchFixtureConfig(t, proc.DefaultTargetConfig(), name, args...)
	return tgt
}

func launchFixtureConfig(t *testing.T, cfg proc.TargetConfig, name string, args ...string) (*nativeProcess, *proc.Target) {
	t.Helper()
	protest.MustHavePtrace(t)
	fixture := protest.BuildFixture(name)
	dbp, err := launch(append([]string{fixture.Path}, args...), ".", 0, "")
	if err != nil {
		if errors.Is(err, os.ErrPermission) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("can not trace: %v", err)
		}
		t.Fatalf("Launch(%s): %v", name, err)
	}
	tgt, err := dbp.newTarget(cfg)
	if err != nil {
		t.Fatalf("newTarget(%s): %v", name, err)
	}
	return dbp, tgt
}

func killTarget(t *testing.T, tgt *proc.Target) {
	if err := tgt.Kill(); err != nil {
		t.Errorf("Kill: %v", err)
	}
}

// counterAddress waits for spinprog to publish the address of its counter.
func counterAddress(t *testing.T, path string) uint64 {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		buf, err := os.ReadFile(path)
		if err == nil && strings.HasSuffix(string(buf), "\n") {
			addr, err := strconv.ParseUint(strings.TrimSpace(string(buf)), 0, 64)
			if err != nil {
				t.Fatalf("bad address %q: %v", buf, err)
			}
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("fixture did not start")
	return 0
}

// waitForLine waits until the file at path contains line.
func waitForLine(t *testing.T, path, line string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		buf, _ := os.ReadFile(path)
		for _, l := range strings.Split(string(buf), "\n") {
			if l == line {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%q never written to %s", line, path)
}

func suspendTarget(t *testing.T, tgt *proc.Target) proc.StopReason {
	t.Helper()
	if err := tgt.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	sr, err := tgt.WaitForStop(10 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStop: %v", err)
	}
	return sr
}

func readCounter(t *testing.T, tgt *proc.Target, addr uint64) uint64 {
	t.Helper()
	buf := make([]byte, 8)
	if n, err := tgt.ReadMemory(buf, addr); err != nil || n != len(buf) {
		t.Fatalf("ReadMemory(%#x): %d %v", addr, n, err)
	}
	return binary.LittleEndian.Uint64(buf)
}

func TestLaunchExitCode(t *testing.T) {
	tgt := launchFixture(t, "exitprog", "3")
	if tgt.State() != proc.StateStopped {
		t.Fatalf("launched target is %v", tgt.State())
	}
	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	sr, err := tgt.WaitForStop(30 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStop: %v", err)
	}
	if sr.Kind != proc.StopExited || sr.ExitCode != 3 {
		t.Fatalf("unexpected stop %v", sr)
	}
	if !tgt.Exited() {
		t.Fatalf("target is %v after exit", tgt.State())
	}
	if err := tgt.Resume(); !proc.IsProcessExited(err) {
		t.Fatalf("Resume after exit: %v", err)
	}
	if _, err := tgt.ReadMemory(make([]byte, 8), 0x1000); !proc.IsProcessExited(err) {
		t.Fatalf("ReadMemory after exit: %v", err)
	}
}

func TestSingleStepAdvancesPC(t *testing.T) {
	tgt := launchFixture(t, "exitprog")
	defer killTarget(t, tgt)

	th := tgt.Threads()[0]
	pc0, err := th.PC()
	if err != nil {
		t.Fatalf("PC: %v", err)
	}
	if err := tgt.SingleStep(th); err != nil {
		t.Fatalf("SingleStep: %v", err)
	}
	pc1, err := th.PC()
	if err != nil {
		t.Fatalf("PC: %v", err)
	}
	if pc0 == pc1 {
		t.Fatalf("pc did not move from %#x", pc0)
	}

	sr, err := tgt.StepProcess()
	if err != nil {
		t.Fatalf("StepProcess: %v", err)
	}
	if sr.Kind != proc.StopFaulted || sr.Fault != proc.FaultTrace {
		t.Fatalf("unexpected stop %v", sr)
	}
}

func TestSingleStepWithoutTraceInterception(t *testing.T) {
	// The trap of a step ends the step even when it is not intercepted
	// and it is never delivered to the target.
	for _, cfg := range []proc.TargetConfig{proc.DefaultTargetConfig(), {}} {
		_, tgt := launchFixtureConfig(t, cfg, "exitprog")
		th := tgt.Threads()[0]
		for i := 0; i < 100; i++ {
			if err := tgt.SingleStep(th); err != nil {
				t.Fatalf("SingleStep %d: %v", i, err)
			}
			if sr := tgt.LastStop(); sr.Kind != proc.StopFaulted || sr.Fault != proc.FaultTrace {
				t.Fatalf("step %d: unexpected stop %v", i, sr)
			}
		}
		if tgt.State() != proc.StateStopped {
			t.Fatalf("target is %v after stepping", tgt.State())
		}
		killTarget(t, tgt)
	}
}

func TestResumeFollowsClones(t *testing.T) {
	// Nothing waits for the target between Resume and Suspend, the threads
	// it creates in the meantime must keep running.
	addrFile := filepath.Join(t.TempDir(), "addr")
	tgt := launchFixture(t, "spinprog", addrFile)
	defer killTarget(t, tgt)

	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	addr := counterAddress(t, addrFile)
	suspendTarget(t, tgt)
	v0 := readCounter(t, tgt, addr)

	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	suspendTarget(t, tgt)
	if v1 := readCounter(t, tgt, addr); v1 <= v0 {
		t.Fatalf("counter did not move while running: %d -> %d", v0, v1)
	}
	if len(tgt.Threads()) < 4 {
		t.Fatalf("expected the spinning threads, got %d", len(tgt.Threads()))
	}
}

func TestStepDeliversPendingSignal(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	dbp, tgt := launchFixtureConfig(t, proc.DefaultTargetConfig(), "sigprog", out)
	defer killTarget(t, tgt)

	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForLine(t, out, "ready")
	suspendTarget(t, tgt)

	// Queue SIGUSR1 on the stopped leader and collect its signal delivery
	// stop, the way stop keeps an event it runs into.
	th := dbp.threads[dbp.pid]
	if err := sys.Tgkill(dbp.pid, th.ID, sys.SIGUSR1); err != nil {
		t.Fatalf("tgkill: %v", err)
	}
	var err error
	dbp.execPtraceFunc(func() { err = ptraceCont(th.ID, 0) })
	if err != nil {
		t.Fatalf("cont: %v", err)
	}
	_, ws, err := dbp.waitFast(th.ID)
	if err != nil || !ws.Stopped() || ws.StopSignal() != sys.SIGUSR1 {
		t.Fatalf("expected a SIGUSR1 stop, got %v %v", ws, err)
	}
	th.os.running = false
	th.os.pending = ws

	pt, ok := tgt.FindThread(th.ID)
	if !ok {
		t.Fatalf("thread %d not found", th.ID)
	}
	if err := tgt.SingleStep(pt); err != nil {
		t.Fatalf("SingleStep: %v", err)
	}
	if th.os.pending != nil {
		t.Fatalf("signal still pending after the step")
	}
	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForLine(t, out, "usr1")
}

func TestSuspendRunningTarget(t *testing.T) {
	addrFile := filepath.Join(t.TempDir(), "addr")
	tgt := launchFixture(t, "spinprog", addrFile)
	defer killTarget(t, tgt)

	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	addr := counterAddress(t, addrFile)

	if _, err := tgt.WaitForStop(50 * time.Millisecond); !errors.Is(err, proc.ErrWaitTimeout) {
		t.Fatalf("WaitForStop on a running target: %v", err)
	}
	if tgt.State() != proc.StateRunning {
		t.Fatalf("target is %v after a timeout", tgt.State())
	}

	if err := tgt.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	sr, err := tgt.WaitForStop(10 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStop: %v", err)
	}
	if sr.Kind != proc.StopRequested {
		t.Fatalf("unexpected stop %v", sr)
	}
	if len(tgt.Threads()) < 2 {
		t.Fatalf("expected several threads, got %d", len(tgt.Threads()))
	}

	v0 := readCounter(t, tgt, addr)
	time.Sleep(50 * time.Millisecond)
	if v1 := readCounter(t, tgt, addr); v0 != v1 {
		t.Fatalf("counter moved while stopped: %d -> %d", v0, v1)
	}
	for _, th := range tgt.Threads() {
		if _, err := th.Registers(); err != nil {
			t.Fatalf("Registers of %d: %v", th.ID(), err)
		}
	}
}

func TestAttachWriteMemoryDetach(t *testing.T) {
	protest.MustHavePtrace(t)
	fixture := protest.BuildFixture("spinprog")
	addrFile := filepath.Join(t.TempDir(), "addr")
	cmd := exec.Command(fixture.Path, addrFile)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()
	addr := counterAddress(t, addrFile)

	tgt, err := Attach(cmd.Process.Pid, proc.DefaultTargetConfig())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("can not attach: %v", err)
		}
		t.Fatalf("Attach: %v", err)
	}
	if tgt.Pid() != cmd.Process.Pid {
		t.Fatalf("pid mismatch %d %d", tgt.Pid(), cmd.Process.Pid)
	}

	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, 0xdeadbeef)
	if n, err := tgt.WriteMemory(addr, data); err != nil || n != len(data) {
		t.Fatalf("WriteMemory: %d %v", n, err)
	}
	if v := readCounter(t, tgt, addr); v != 0xdeadbeef {
		t.Fatalf("read back %#x", v)
	}

	if err := tgt.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if tgt.State() != proc.StateDetached {
		t.Fatalf("target is %v after detach", tgt.State())
	}
	// the process keeps running once released
	time.Sleep(50 * time.Millisecond)
	if s := status(cmd.Process.Pid); s == statusTraceStop || s == statusZombie {
		t.Fatalf("process state %c after detach", s)
	}
}

func TestWatchpointHit(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("hardware watchpoints are only supported on amd64")
	}
	addrFile := filepath.Join(t.TempDir(), "addr")
	tgt := launchFixture(t, "spinprog", addrFile)
	defer killTarget(t, tgt)

	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	addr := counterAddress(t, addrFile)
	if err := tgt.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := tgt.WaitForStop(10 * time.Second); err != nil {
		t.Fatalf("WaitForStop: %v", err)
	}

	if err := tgt.ActivateWatchpoint(addr, 8, proc.WatchWrite); err != nil {
		t.Fatalf("ActivateWatchpoint: %v", err)
	}
	if err := tgt.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	sr, err := tgt.WaitForStop(10 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStop: %v", err)
	}
	if sr.Kind != proc.StopFaulted || sr.Fault != proc.FaultWatchpoint || sr.Addr != addr {
		t.Fatalf("unexpected stop %v", sr)
	}
	th, ok := tgt.FindThread(sr.ThreadID)
	if !ok {
		t.Fatalf("thread %d not found", sr.ThreadID)
	}
	if th.RunState() != proc.RunStateAtWatchpoint {
		t.Fatalf("thread state %v", th.RunState())
	}
	if err := tgt.DeactivateWatchpoint(addr); err != nil {
		t.Fatalf("DeactivateWatchpoint: %v", err)
	}
}
