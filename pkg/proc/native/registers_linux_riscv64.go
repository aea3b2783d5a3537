package native

import (
	"debug/elf"
	"unsafe"

	"github.com/go-delve/tele/pkg/proc/linutil"
	"github.com/go-delve/tele/pkg/proc/regset"
)

func checkABI(pid int) error {
	return checkRegsetSize(pid, int(unsafe.Sizeof(linutil.RISCV64PtraceRegs{})))
}

func (t *nativeThread) readNative(which regset.Subset) ([]regset.Native, error) {
	var natives []regset.Native
	if wants(which, regset.Integer|regset.State) {
		regs := new(linutil.RISCV64PtraceRegs)
		if err := t.getRegset(elf.NT_PRSTATUS, unsafe.Pointer(regs), int(unsafe.Sizeof(*regs))); err != nil {
			return nil, err
		}
		natives = append(natives, regs)
	}
	if wants(which, regset.FloatingPoint|regset.State) {
		fpregs := new(linutil.RISCV64PtraceFpRegs)
		if err := t.getRegset(elf.NT_FPREGSET, unsafe.Pointer(fpregs), int(unsafe.Sizeof(*fpregs))); err != nil {
			return nil, err
		}
		natives = append(natives, fpregs)
	}
	return natives, nil
}

func (t *nativeThread) writeNative(natives []regset.Native) error {
	for _, n := range natives {
		var err error
		switch n := n.(type) {
		case *linutil.RISCV64PtraceRegs:
			err = t.setRegset(elf.NT_PRSTATUS, unsafe.Pointer(n), int(unsafe.Sizeof(*n)))
		case *linutil.RISCV64PtraceFpRegs:
			err = t.setRegset(elf.NT_FPREGSET, unsafe.Pointer(n), int(unsafe.Sizeof(*n)))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
