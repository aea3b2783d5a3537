package proc

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/tele/pkg/proc/regset"
)

var amd64BreakInstruction = []byte{0xCC}

// AMD64Arch returns an initialized Arch for AMD64.
func AMD64Arch() *Arch {
	return &Arch{
		Name:                  "amd64",
		ISA:                   regset.AMD64,
		ptrSize:               8,
		maxInstructionLength:  15,
		breakpointInstruction: amd64BreakInstruction,
		byteOrder:             binary.LittleEndian,
		asmDecode:             amd64AsmDecode,
	}
}

func amd64AsmDecode(mem []byte, pc uint64) (AsmInstruction, error) {
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		return AsmInstruction{Size: 1}, err
	}
	r := AsmInstruction{Size: inst.Len, Kind: OtherInstruction}
	switch inst.Op {
	case x86asm.SYSCALL:
		r.Kind = SyscallInstruction
	case x86asm.INT:
		// int 0x80 enters the kernel through the i386 table, its numbers
		// and arguments do not follow the 64 bit system call convention.
		r.Kind = HardBreakInstruction
		if imm, ok := inst.Args[0].(x86asm.Imm); ok && imm == 0x80 {
			r.Kind = OtherInstruction
		}
	case x86asm.JMP, x86asm.LJMP:
		r.Kind = JmpInstruction
	case x86asm.CALL, x86asm.LCALL:
		r.Kind = CallInstruction
	case x86asm.RET, x86asm.LRET:
		r.Kind = RetInstruction
	}
	r.text = x86asm.GNUSyntax(inst, pc, nil)
	return r, nil
}
