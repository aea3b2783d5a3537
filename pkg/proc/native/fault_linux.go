package native

import (
	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/proc"
)

// si_code values of the fault signals
const (
	_ILL_PRVOPC  = 5
	_ILL_PRVREG  = 6
	_SEGV_BNDERR = 3
	_BUS_ADRALN  = 1
)

// faultForSignal maps a synchronous signal to the hardware fault that
// raised it. Signals sent by another process (negative or zero si_code)
// are not faults.
func faultForSignal(sig sys.Signal, code int32, addr, sp, pageSize uint64) (proc.Fault, bool) {
	if code <= 0 {
		return proc.FaultNone, false
	}
	switch sig {
	case sys.SIGILL:
		if code == _ILL_PRVOPC || code == _ILL_PRVREG {
			return proc.FaultPrivileged, true
		}
		return proc.FaultIllegal, true
	case sys.SIGSEGV:
		switch {
		case code == _SEGV_BNDERR:
			return proc.FaultBounds, true
		case sp != 0 && nearStack(addr, sp, pageSize):
			return proc.FaultStack, true
		}
		return proc.FaultAccess, true
	case sys.SIGBUS:
		if code == _BUS_ADRALN {
			return proc.FaultAlignment, true
		}
		return proc.FaultAccess, true
	case sys.SIGFPE:
		return proc.FaultFloatingPoint, true
	}
	return proc.FaultNone, false
}

// nearStack reports whether addr is within a page of the stack pointer,
// which is where stack overflows fault.
func nearStack(addr, sp, pageSize uint64) bool {
	if pageSize == 0 {
		pageSize = 4096
	}
	if addr >= sp {
		return addr-sp < pageSize
	}
	return sp-addr <= pageSize
}
