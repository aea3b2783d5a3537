package native

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// ptraceAttach executes the sys.PtraceAttach call.
func ptraceAttach(pid int) error {
	return sys.PtraceAttach(pid)
}

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(tid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT
func ptraceCont(tid, sig int) error {
	return sys.PtraceCont(tid, sig)
}

// ptraceSyscall executes ptrace PTRACE_SYSCALL, the thread stops again at
// the next system call entry or exit.
func ptraceSyscall(tid, sig int) error {
	return sys.PtraceSyscall(tid, sig)
}

// ptraceSingleStep executes ptrace PTRACE_SINGLESTEP
func ptraceSingleStep(tid, sig int) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(tid), uintptr(0), uintptr(sig), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptracePeekWord reads one word with PTRACE_PEEKDATA. The raw system call
// stores the word at the address passed as data.
func ptracePeekWord(tid int, addr uint64) (uint64, error) {
	var w uint64
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_PEEKDATA, uintptr(tid), uintptr(addr), uintptr(unsafe.Pointer(&w)), 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return w, nil
}

// ptracePokeWord writes one word with PTRACE_POKEDATA.
func ptracePokeWord(tid int, addr uint64, w uint64) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_POKEDATA, uintptr(tid), uintptr(addr), uintptr(w), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// siginfo is the start of siginfo_t, addr is si_addr of the fault signals.
type siginfo struct {
	signo int32
	errno int32
	code  int32
	_     int32
	addr  uint64
	_     [104]byte
}

// si_code values of SIGTRAP
const (
	_TRAP_BRKPT  = 1
	_TRAP_TRACE  = 2
	_TRAP_HWBKPT = 4
	_SI_KERNEL   = 0x80
)

// ptraceGetSiginfo returns the signal that stopped tid.
func ptraceGetSiginfo(tid int) (si siginfo, err error) {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if e1 != 0 {
		err = e1
	}
	return si, err
}

// ptraceGetRegset reads the register set nt of tid into the size bytes at
// p and returns how many bytes the kernel filled in.
func ptraceGetRegset(tid int, nt uintptr, p unsafe.Pointer, size int) (int, error) {
	iov := sys.Iovec{Base: (*byte)(p)}
	iov.SetLen(size)
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(tid), nt, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	return int(iov.Len), nil
}

// ptraceSetRegset writes the register set nt of tid.
func ptraceSetRegset(tid int, nt uintptr, p unsafe.Pointer, size int) error {
	iov := sys.Iovec{Base: (*byte)(p)}
	iov.SetLen(size)
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_SETREGSET, uintptr(tid), nt, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// remoteIovec is like golang.org/x/sys/unix.Iovec but uses uintptr for the
// base field instead of *byte so that we can use it with addresses that
// belong to the target process.
type remoteIovec struct {
	base uintptr
	len  uintptr
}

// processVmRead calls process_vm_readv
func processVmRead(tid int, addr uintptr, data []byte) (int, error) {
	len_iov := uint64(len(data))
	local_iov := sys.Iovec{Base: &data[0], Len: len_iov}
	remote_iov := remoteIovec{base: addr, len: uintptr(len_iov)}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_READV, uintptr(tid), uintptr(unsafe.Pointer(&local_iov)), 1, uintptr(unsafe.Pointer(&remote_iov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}
