package proc_test

import (
	"errors"
	"testing"

	"github.com/go-delve/tele/pkg/proc"
	protest "github.com/go-delve/tele/pkg/proc/test"
)

const (
	bootHeapSize = 0x400000
	bootHeapAddr = 0x7f0000000000

	sysBrk  = 12
	sysMmap = 9

	// linux/amd64 canonical integer indexes
	regRAX = 0
	regRSI = 6
)

var syscallInst = []byte{0x0f, 0x05}

// bootHeapTarget returns a single threaded target that executes the given
// system calls back to back, the arguments of call i are set by args[i].
func bootHeapTarget(t *testing.T, cfg proc.TargetConfig, calls [][2]uint64) (*protest.SimProcess, *proc.Target) {
	t.Helper()
	p, tgt := newSimTarget(t, cfg, 1)
	for i := range calls {
		p.Mem.Load(codeAddr+uint64(2*i), syscallInst)
	}
	set := func(th *protest.SimThread, i int) {
		if i >= len(calls) {
			return
		}
		rs := th.Regs()
		rs.SetInteger(regRAX, calls[i][0])
		rs.SetInteger(regRSI, calls[i][1])
		th.SetRegs(rs)
	}
	set(p.Thread(1), 0)
	p.OnStep = func(th *protest.SimThread) {
		set(th, int(th.Regs().PC()-codeAddr)/2)
	}
	p.SyscallHook = func(th *protest.SimThread, nr uint64, args [6]uint64) uint64 {
		switch nr {
		case sysMmap:
			return bootHeapAddr
		case sysBrk:
			return 0x600000
		}
		return 0
	}
	return p, tgt
}

func TestLocateBootHeapMapping(t *testing.T) {
	p, tgt := bootHeapTarget(t, testConfig(), [][2]uint64{
		{sysBrk, 0},
		{sysMmap, 0x1000},
		{sysMmap, bootHeapSize},
	})
	addr, err := tgt.LocateBootHeapMapping(bootHeapSize)
	if err != nil {
		t.Fatal(err)
	}
	if addr != bootHeapAddr {
		t.Fatalf("boot heap at %#x", addr)
	}
	if p.Steps != 3 {
		t.Fatalf("%d instructions executed, expected 3", p.Steps)
	}
	if pc, _ := tgt.Threads()[0].PC(); pc != codeAddr+6 {
		t.Fatalf("stopped at %#x", pc)
	}
	if tgt.State() != proc.StateStopped {
		t.Fatalf("state %s", tgt.State())
	}
}

func TestLocateBootHeapMappingFailedCall(t *testing.T) {
	p, tgt := bootHeapTarget(t, testConfig(), [][2]uint64{{sysMmap, bootHeapSize}})
	p.SyscallHook = func(*protest.SimThread, uint64, [6]uint64) uint64 {
		return ^uint64(0) - 11 // -ENOMEM
	}
	if _, err := tgt.LocateBootHeapMapping(bootHeapSize); !errors.Is(err, proc.ErrBootHeapNotFound) {
		t.Fatalf("expected ErrBootHeapNotFound, got %v", err)
	}
}

func TestLocateBootHeapMappingLimits(t *testing.T) {
	cfg := testConfig()
	cfg.BootHeapCandidates = 2
	p, tgt := bootHeapTarget(t, cfg, [][2]uint64{
		{sysBrk, 0},
		{sysMmap, 0x1000},
		{sysMmap, bootHeapSize},
	})
	if _, err := tgt.LocateBootHeapMapping(bootHeapSize); !errors.Is(err, proc.ErrBootHeapNotFound) {
		t.Fatalf("expected ErrBootHeapNotFound, got %v", err)
	}
	if p.Steps != 1 {
		t.Fatalf("%d instructions executed", p.Steps)
	}

	cfg = testConfig()
	cfg.BootHeapMaxInstructions = 10
	p, tgt = newSimTarget(t, cfg, 1)
	if _, err := tgt.LocateBootHeapMapping(bootHeapSize); !errors.Is(err, proc.ErrBootHeapNotFound) {
		t.Fatalf("expected ErrBootHeapNotFound, got %v", err)
	}
	if p.Steps != 10 {
		t.Fatalf("%d instructions executed", p.Steps)
	}
}

func TestLocateBootHeapMappingSkipsCompatCalls(t *testing.T) {
	// int 0x80 takes i386 system call numbers, rax=9 is not mmap there.
	cfg := testConfig()
	cfg.BootHeapCandidates = 1
	p, tgt := bootHeapTarget(t, cfg, [][2]uint64{
		{sysMmap, bootHeapSize},
		{sysMmap, bootHeapSize},
	})
	p.Mem.Load(codeAddr, []byte{0xcd, 0x80})
	addr, err := tgt.LocateBootHeapMapping(bootHeapSize)
	if err != nil {
		t.Fatal(err)
	}
	if addr != bootHeapAddr {
		t.Fatalf("boot heap at %#x", addr)
	}
	if p.Steps != 2 {
		t.Fatalf("%d instructions executed, expected 2", p.Steps)
	}
}

func TestLocateBootHeapMappingSecondThread(t *testing.T) {
	p, tgt := bootHeapTarget(t, testConfig(), [][2]uint64{{sysBrk, 0}, {sysMmap, bootHeapSize}})
	step := p.OnStep
	p.OnStep = func(th *protest.SimThread) {
		step(th)
		if p.Thread(2) == nil {
			p.AddThread(2)
		}
	}
	if _, err := tgt.LocateBootHeapMapping(bootHeapSize); !errors.Is(err, proc.ErrBootHeapNotFound) {
		t.Fatalf("expected ErrBootHeapNotFound, got %v", err)
	}

	_, tgt = newSimTarget(t, testConfig(), 1, 2)
	_, err := tgt.LocateBootHeapMapping(bootHeapSize)
	assertProtocolError(t, err)
}

func TestLocateBootHeapMappingExit(t *testing.T) {
	p, tgt := bootHeapTarget(t, testConfig(), [][2]uint64{{sysBrk, 0}, {sysMmap, bootHeapSize}})
	p.OnStep = func(*protest.SimThread) { p.Exit(1) }
	_, err := tgt.LocateBootHeapMapping(bootHeapSize)
	if !proc.IsProcessExited(err) || !tgt.Exited() {
		t.Fatalf("expected exit, got %v (%s)", err, tgt.State())
	}
}
