package native

import (
	"debug/elf"
	"fmt"
	"unsafe"

	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/regset"
)

// checkRegsetSize verifies that the kernel fills exactly want bytes of the
// NT_PRSTATUS register set of tid. A different size means the register
// structures compiled in do not describe this kernel.
func checkRegsetSize(tid int, want int) error {
	buf := make([]byte, 2*want)
	n, err := ptraceGetRegset(tid, uintptr(elf.NT_PRSTATUS), unsafe.Pointer(&buf[0]), len(buf))
	if err != nil {
		return proc.NewOSCallError("read registers", tid, tid, err)
	}
	if n != want {
		return fmt.Errorf("%w: general purpose registers are %d bytes, expected %d", proc.ErrABIMismatch, n, want)
	}
	return nil
}

// getRegset reads the register set nt with PTRACE_GETREGSET into the size
// bytes at p.
func (t *nativeThread) getRegset(nt elf.NType, p unsafe.Pointer, size int) (err error) {
	t.dbp.execPtraceFunc(func() { _, err = ptraceGetRegset(t.ID, uintptr(nt), p, size) })
	return t.oscall("read registers", err)
}

func (t *nativeThread) setRegset(nt elf.NType, p unsafe.Pointer, size int) (err error) {
	t.dbp.execPtraceFunc(func() { err = ptraceSetRegset(t.ID, uintptr(nt), p, size) })
	return t.oscall("write registers", err)
}

// wants reports whether a native structure contributing to subsets has to
// be transferred for which.
func wants(which, subsets regset.Subset) bool {
	return which&subsets != 0
}
