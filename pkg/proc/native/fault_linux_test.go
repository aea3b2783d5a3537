package native

import (
	"bufio"
	"strings"
	"testing"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/proc"
)

func TestFaultForSignal(t *testing.T) {
	const sp = 0x7ffd0000
	tests := []struct {
		name  string
		sig   sys.Signal
		code  int32
		addr  uint64
		fault proc.Fault
		ok    bool
	}{
		{"illegal", sys.SIGILL, 1, 0x401000, proc.FaultIllegal, true},
		{"privileged opcode", sys.SIGILL, _ILL_PRVOPC, 0x401000, proc.FaultPrivileged, true},
		{"privileged register", sys.SIGILL, _ILL_PRVREG, 0x401000, proc.FaultPrivileged, true},
		{"access", sys.SIGSEGV, 1, 0x10, proc.FaultAccess, true},
		{"stack", sys.SIGSEGV, 2, sp - 8, proc.FaultStack, true},
		{"bounds", sys.SIGSEGV, _SEGV_BNDERR, 0x10, proc.FaultBounds, true},
		{"alignment", sys.SIGBUS, _BUS_ADRALN, 0x11, proc.FaultAlignment, true},
		{"bus error", sys.SIGBUS, 2, 0x11, proc.FaultAccess, true},
		{"divide", sys.SIGFPE, 1, 0x401000, proc.FaultFloatingPoint, true},
		{"sent by kill", sys.SIGSEGV, 0, 0, proc.FaultNone, false},
		{"sent by tgkill", sys.SIGSEGV, -6, 0, proc.FaultNone, false},
		{"not a fault", sys.SIGUSR1, 1, 0, proc.FaultNone, false},
	}
	for _, tc := range tests {
		fault, ok := faultForSignal(tc.sig, tc.code, tc.addr, sp, 4096)
		if fault != tc.fault || ok != tc.ok {
			t.Errorf("%s: got %v %v, expected %v %v", tc.name, fault, ok, tc.fault, tc.ok)
		}
	}
}

func TestParseRunState(t *testing.T) {
	tests := []struct {
		stat string
		rs   proc.RunState
	}{
		{"1234 (prog) t 1 1234", proc.RunStateStopped},
		{"1234 (prog) T 1 1234", proc.RunStateStopped},
		{"1234 (prog) R 1 1234", proc.RunStateRunning},
		{"1234 (a) b) S 1 1234", proc.RunStateWaiting},
		{"1234 (prog) D 1 1234", proc.RunStateWaiting},
		{"1234 (prog) Z 1 1234", proc.RunStateUnknown},
		{"garbage", proc.RunStateUnknown},
	}
	for _, tc := range tests {
		if rs := parseRunState([]byte(tc.stat)); rs != tc.rs {
			t.Errorf("%q: got %v, expected %v", tc.stat, rs, tc.rs)
		}
	}
}

func TestFindMapping(t *testing.T) {
	const maps = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/prog
00651000-00652000 rw-p 00051000 08:02 173521      /usr/bin/prog
7ffd7c2a1000-7ffd7c2c2000 rw-p 00000000 00:00 0      [stack]
`
	start, end, ok := findMapping(bufio.NewScanner(strings.NewReader(maps)), 0x7ffd7c2c1f00)
	if !ok || start != 0x7ffd7c2a1000 || end != 0x7ffd7c2c2000 {
		t.Fatalf("got %#x-%#x %v", start, end, ok)
	}
	if _, _, ok := findMapping(bufio.NewScanner(strings.NewReader(maps)), 0x1000); ok {
		t.Fatal("found a mapping for an unmapped address")
	}
}
