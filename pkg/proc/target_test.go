package proc_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/regset"
	protest "github.com/go-delve/tele/pkg/proc/test"
)

const codeAddr = 0x401000

func testConfig() proc.TargetConfig {
	cfg := proc.DefaultTargetConfig()
	cfg.GOOS = "linux"
	return cfg
}

// newSimTarget returns a stopped amd64 target with the given threads, each
// of them about to execute a nop at codeAddr.
func newSimTarget(t *testing.T, cfg proc.TargetConfig, tids ...int) (*protest.SimProcess, *proc.Target) {
	t.Helper()
	p := protest.NewSimProcess(1000, regset.AMD64, "linux")
	p.Mem.Load(codeAddr, bytes.Repeat([]byte{0x90}, 64))
	for _, tid := range tids {
		th := p.AddThread(tid)
		rs := th.Regs()
		rs.SetPC(codeAddr)
		th.SetRegs(rs)
	}
	tgt, err := proc.NewTarget(p, cfg)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	return p, tgt
}

func assertProtocolError(t *testing.T, err error) {
	t.Helper()
	if !proc.IsProtocolError(err) {
		t.Fatalf("expected a protocol error, got %v", err)
	}
}

func TestTrapThenStep(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	p.Mem.Load(codeAddr, []byte{0x48, 0x89, 0xe5}) // mov %rsp,%rbp
	p.QueueStop(proc.StopReason{Kind: proc.StopFaulted, Fault: proc.FaultBreakpoint, ThreadID: 1, Addr: codeAddr})

	if err := tgt.Resume(); err != nil {
		t.Fatal(err)
	}
	sr, err := tgt.WaitForStop(0)
	if err != nil {
		t.Fatal(err)
	}
	if sr.Kind != proc.StopFaulted || sr.Fault != proc.FaultBreakpoint {
		t.Fatalf("unexpected stop %s", sr)
	}
	threads := tgt.Threads()
	if len(threads) != 1 {
		t.Fatalf("expected one thread, got %d", len(threads))
	}
	th := threads[0]
	if th.RunState() != proc.RunStateAtBreakpoint {
		t.Fatalf("thread state %s", th.RunState())
	}
	rs, err := th.Registers()
	if err != nil {
		t.Fatal(err)
	}
	if rs.PC() != sr.Addr {
		t.Fatalf("pc %#x, trap at %#x", rs.PC(), sr.Addr)
	}

	if err := tgt.SingleStep(th); err != nil {
		t.Fatal(err)
	}
	pc, err := th.PC()
	if err != nil {
		t.Fatal(err)
	}
	if pc != codeAddr+3 {
		t.Fatalf("pc after step %#x, expected %#x", pc, codeAddr+3)
	}
	if p.Thread(1).SuspendDepth() != 0 {
		t.Fatalf("stepped thread left at depth %d", p.Thread(1).SuspendDepth())
	}
	if p.Thread(1).Regs().SingleStep() {
		t.Fatal("single step flag left set")
	}
	for _, call := range p.Calls {
		if call == "suspend 1" {
			t.Fatal("the only thread was suspended")
		}
	}
	if tgt.LastStop().Fault != proc.FaultTrace {
		t.Fatalf("last stop %s", tgt.LastStop())
	}
}

func TestResumeWait(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1, 2)

	if err := tgt.Resume(); err != nil {
		t.Fatal(err)
	}
	if !p.Running() || p.Interception.Faults != proc.DefaultFaults {
		t.Fatalf("backend not resumed with the default faults: %v %s", p.Running(), p.Interception.Faults)
	}
	assertProtocolError(t, tgt.Resume())
	if _, err := tgt.Threads()[0].Registers(); !proc.IsProtocolError(err) {
		t.Fatalf("registers of a running target: %v", err)
	}

	if _, err := tgt.WaitForStop(10 * time.Millisecond); !errors.Is(err, proc.ErrWaitTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if tgt.State() != proc.StateRunning {
		t.Fatalf("state after timeout %s", tgt.State())
	}

	if err := tgt.Suspend(); err != nil {
		t.Fatal(err)
	}
	sr, err := tgt.WaitForStop(0)
	if err != nil {
		t.Fatal(err)
	}
	if sr.Kind != proc.StopRequested || tgt.State() != proc.StateStopped {
		t.Fatalf("stop %s state %s", sr, tgt.State())
	}
	if err := tgt.Suspend(); err != nil {
		t.Fatalf("suspend of a stopped target: %v", err)
	}
	if _, err := tgt.WaitForStop(0); !proc.IsProtocolError(err) {
		t.Fatalf("wait on a stopped target: %v", err)
	}
}

func TestExitDuringWait(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	p.QueueStop(proc.StopReason{Kind: proc.StopExited, ExitCode: 7})
	if err := tgt.Resume(); err != nil {
		t.Fatal(err)
	}
	sr, err := tgt.WaitForStop(0)
	if err != nil {
		t.Fatal(err)
	}
	if sr.Kind != proc.StopExited || sr.ExitCode != 7 || !tgt.Exited() {
		t.Fatalf("stop %s exited %v", sr, tgt.Exited())
	}
	if err := tgt.Resume(); !proc.IsProcessExited(err) {
		t.Fatalf("resume after exit: %v", err)
	}
	var pe proc.ErrProcessExited
	if _, err := tgt.ReadMemory(make([]byte, 1), codeAddr); !errors.As(err, &pe) || pe.Status != 7 {
		t.Fatalf("read after exit: %v", err)
	}
	if err := tgt.Kill(); err != nil {
		t.Fatalf("kill after exit: %v", err)
	}
}

func TestKillAndDetach(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	if err := tgt.Kill(); err != nil {
		t.Fatal(err)
	}
	if !tgt.Exited() || tgt.State().String() != "exited" {
		t.Fatalf("state after kill %s", tgt.State())
	}
	if err := tgt.Kill(); err != nil {
		t.Fatalf("second kill: %v", err)
	}
	if n := len(p.Calls); p.Calls[n-1] != "kill" || n > 1 && p.Calls[n-2] == "kill" {
		t.Fatalf("calls %v", p.Calls)
	}

	p, tgt = newSimTarget(t, testConfig(), 1)
	if err := tgt.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := tgt.Detach(); err != nil {
		t.Fatal(err)
	}
	if !p.Detached() || tgt.State() != proc.StateDetached {
		t.Fatalf("not detached: %s", tgt.State())
	}
	var de proc.ProcessDetachedError
	if err := tgt.Resume(); !errors.As(err, &de) {
		t.Fatalf("resume after detach: %v", err)
	}
}

func TestThreadEpochs(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1, 2)
	epoch := tgt.Epoch()
	p.QueueEvent(func(p *protest.SimProcess) proc.StopReason {
		p.AddThread(5)
		p.Thread(2).Die()
		return proc.StopReason{Kind: proc.StopSignaled, Signal: 17, ThreadID: 5}
	})
	if err := tgt.Resume(); err != nil {
		t.Fatal(err)
	}
	if _, err := tgt.WaitForStop(0); err != nil {
		t.Fatal(err)
	}
	if tgt.Epoch() != epoch+1 {
		t.Fatalf("epoch %d, expected %d", tgt.Epoch(), epoch+1)
	}
	if s, d := tgt.ThreadsStarted(), tgt.ThreadsDied(); len(s) != 1 || s[0] != 5 || len(d) != 1 || d[0] != 2 {
		t.Fatalf("started %v died %v", s, d)
	}
	if _, ok := tgt.FindThread(2); ok {
		t.Fatal("dead thread still listed")
	}
	var ids []int
	for _, th := range tgt.Threads() {
		ids = append(ids, th.ID())
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 5 {
		t.Fatalf("threads %v", ids)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	for _, pageCopy := range []bool{false, true} {
		p := protest.NewSimProcess(1000, regset.AMD64, "linux")
		p.AddThread(1)
		if pageCopy {
			p.UsePageCopy()
		}
		p.Mem.Map(0x10000, 0x3000)
		tgt, err := proc.NewTarget(p, testConfig())
		if err != nil {
			t.Fatal(err)
		}
		for _, base := range []uint64{0x10000, 0x10ff0} {
			for off := uint64(0); off < 8; off++ {
				for _, length := range []int{1, 7, 8, 9, 17, 33} {
					addr := base + off
					data := make([]byte, length)
					for i := range data {
						data[i] = byte(int(addr) + i*3 + length)
					}
					if n, err := tgt.WriteMemory(addr, data); n != length || err != nil {
						t.Fatalf("page copy %v: write %#x+%d: %d %v", pageCopy, addr, length, n, err)
					}
					got := make([]byte, length)
					if n, err := tgt.ReadMemory(got, addr); n != length || err != nil {
						t.Fatalf("page copy %v: read %#x+%d: %d %v", pageCopy, addr, length, n, err)
					}
					if !bytes.Equal(got, data) {
						t.Fatalf("page copy %v: %#x+%d: read back % x, wrote % x", pageCopy, addr, length, got, data)
					}
				}
			}
		}
		if len(p.Mem.Mapped) != len(p.Mem.Released) {
			t.Fatalf("page copy %v: %d mappings, %d releases", pageCopy, len(p.Mem.Mapped), len(p.Mem.Released))
		}
	}
}

func TestShortWrite(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	p.Mem.Map(0x10000, 0x1000)
	p.Mem.Fail(0x10010)
	before, _ := p.Mem.Bytes(0x10000, 0x20)

	data := bytes.Repeat([]byte{0x5a}, 17)
	n, err := tgt.WriteMemory(0x10003, data)
	if err == nil || n != 13 {
		t.Fatalf("expected a short write of 13 bytes, got %d %v", n, err)
	}
	got := make([]byte, n)
	if m, err := tgt.ReadMemory(got, 0x10003); m != n || err != nil {
		t.Fatalf("read back: %d %v", m, err)
	}
	if !bytes.Equal(got, data[:n]) {
		t.Fatalf("written bytes % x", got)
	}
	after, _ := p.Mem.Bytes(0x10000, 0x20)
	if !bytes.Equal(after[3+n:], before[3+n:]) {
		t.Fatalf("bytes past the failure changed: % x -> % x", before[3+n:], after[3+n:])
	}
}

func TestPageCacheFlushedOnResume(t *testing.T) {
	p := protest.NewSimProcess(1000, regset.AMD64, "linux")
	p.AddThread(1)
	p.UsePageCopy()
	p.Mem.Load(0x20000, []byte{1, 2, 3, 4})
	tgt, err := proc.NewTarget(p, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	tgt.ReadMemory(buf, 0x20000)
	tgt.ReadMemory(buf, 0x20000)
	if len(p.Mem.Mapped) != 1 {
		t.Fatalf("expected one page copy, got %d", len(p.Mem.Mapped))
	}

	p.QueueEvent(func(p *protest.SimProcess) proc.StopReason {
		p.Mem.Load(0x20000, []byte{9})
		return proc.StopReason{Kind: proc.StopRequested, ThreadID: 1}
	})
	if err := tgt.Resume(); err != nil {
		t.Fatal(err)
	}
	if _, err := tgt.WaitForStop(0); err != nil {
		t.Fatal(err)
	}
	tgt.ReadMemory(buf, 0x20000)
	if buf[0] != 9 || len(p.Mem.Mapped) != 2 {
		t.Fatalf("stale cache: % x after %d copies", buf, len(p.Mem.Mapped))
	}
}

func TestRegisterWriteBack(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	th := tgt.Threads()[0]
	rs, err := th.Registers()
	if err != nil {
		t.Fatal(err)
	}
	rs.SetInteger(0, 0xdeadbeef)
	rs.SetFloatingPoint(3, regset.Vector{1, 2})
	if err := th.WriteRegisters(rs, regset.Integer); err != nil {
		t.Fatal(err)
	}
	got := p.Thread(1).Regs()
	if got.Integer(0) != 0xdeadbeef {
		t.Fatalf("rax %#x", got.Integer(0))
	}
	if got.FloatingPoint(3) != (regset.Vector{}) {
		t.Fatal("floating point registers written without being selected")
	}

	if err := th.SetInstructionPointer(0x402000); err != nil {
		t.Fatal(err)
	}
	if pc, _ := th.PC(); pc != 0x402000 {
		t.Fatalf("pc %#x", pc)
	}

	assertProtocolError(t, th.WriteRegisters(regset.New(regset.ARM64), regset.All))
}

func TestReadRegisterBytes(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	th := tgt.Threads()[0]
	rs := p.Thread(1).Regs()
	rs.SetInteger(1, 0x1122334455667788)
	p.Thread(1).SetRegs(rs)

	calls := len(p.Calls)
	err := th.ReadRegisterBytes(make([]byte, regset.Size(regset.AMD64, regset.Integer)-1), nil, nil)
	if !errors.Is(err, regset.ErrSizeMismatch) {
		t.Fatalf("expected a size mismatch, got %v", err)
	}
	if len(p.Calls) != calls {
		t.Fatalf("short buffer reached the backend: %v", p.Calls[calls:])
	}

	integer := make([]byte, regset.Size(regset.AMD64, regset.Integer))
	state := make([]byte, regset.Size(regset.AMD64, regset.State))
	if err := th.ReadRegisterBytes(integer, nil, state); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(integer[8:16], []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}) {
		t.Fatalf("rcx encoded as % x", integer[8:16])
	}
	decoded := regset.New(regset.AMD64)
	if err := decoded.Decode(regset.State, state); err != nil {
		t.Fatal(err)
	}
	if decoded.PC() != codeAddr {
		t.Fatalf("pc %#x", decoded.PC())
	}
}

func TestWatchpoints(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	if err := tgt.ActivateWatchpoint(0x10000, 8, proc.WatchWrite); !errors.Is(err, proc.ErrWatchpointsUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}

	p.Watchpoints = 2
	if tgt.MaxWatchpoints() != 2 {
		t.Fatalf("max %d", tgt.MaxWatchpoints())
	}
	assertProtocolError(t, tgt.ActivateWatchpoint(0x10000, 3, proc.WatchWrite))
	assertProtocolError(t, tgt.ActivateWatchpoint(0x10004, 8, proc.WatchWrite))
	assertProtocolError(t, tgt.ActivateWatchpoint(0x10000, 8, 0))

	if err := tgt.ActivateWatchpoint(0x10008, 4, proc.WatchRead|proc.WatchWrite); err != nil {
		t.Fatal(err)
	}
	if err := tgt.ActivateWatchpoint(0x10000, 8, proc.WatchWrite); err != nil {
		t.Fatal(err)
	}
	assertProtocolError(t, tgt.ActivateWatchpoint(0x10000, 8, proc.WatchWrite))
	assertProtocolError(t, tgt.ActivateWatchpoint(0x10020, 8, proc.WatchWrite))

	wps := tgt.Watchpoints()
	if len(wps) != 2 || wps[0].Addr != 0x10000 || wps[1].Addr != 0x10008 || wps[1].Kind.String() != "rw" {
		t.Fatalf("watchpoints %v", wps)
	}
	if len(p.Watched) != 2 {
		t.Fatalf("backend has %d watchpoints", len(p.Watched))
	}

	if err := tgt.DeactivateWatchpoint(0x10000); err != nil {
		t.Fatal(err)
	}
	assertProtocolError(t, tgt.DeactivateWatchpoint(0x10000))

	if err := tgt.Detach(); err != nil {
		t.Fatal(err)
	}
	if len(p.Watched) != 0 {
		t.Fatalf("watchpoints left after detach: %v", p.Watched)
	}
}
