package proc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/tele/pkg/proc/regset"
)

var riscv64BreakInstruction = []byte{0x73, 0x00, 0x10, 0x00} // ebreak

const (
	riscvEcall  = 0x00000073
	riscvEbreak = 0x00100073
)

// RISCV64Arch returns an initialized Arch for RISC-V 64. Only the
// instruction length and the environment call/breakpoint instructions are
// recognized.
func RISCV64Arch() *Arch {
	return &Arch{
		Name:                  "riscv64",
		ISA:                   regset.RISCV64,
		ptrSize:               8,
		maxInstructionLength:  4,
		breakpointInstruction: riscv64BreakInstruction,
		byteOrder:             binary.LittleEndian,
		asmDecode:             riscv64AsmDecode,
	}
}

func riscv64AsmDecode(mem []byte, pc uint64) (AsmInstruction, error) {
	if len(mem) < 2 {
		return AsmInstruction{Size: 1}, fmt.Errorf("truncated instruction at %#x", pc)
	}
	if mem[0]&0x3 != 0x3 {
		hw := binary.LittleEndian.Uint16(mem)
		r := AsmInstruction{Size: 2, text: fmt.Sprintf(".2byte %#04x", hw)}
		if hw == 0x9002 {
			r.Kind = HardBreakInstruction
			r.text = "c.ebreak"
		}
		return r, nil
	}
	if len(mem) < 4 {
		return AsmInstruction{Size: len(mem)}, fmt.Errorf("truncated instruction at %#x", pc)
	}
	w := binary.LittleEndian.Uint32(mem)
	r := AsmInstruction{Size: 4, text: fmt.Sprintf(".4byte %#08x", w)}
	switch w {
	case riscvEcall:
		r.Kind = SyscallInstruction
		r.text = "ecall"
	case riscvEbreak:
		r.Kind = HardBreakInstruction
		r.text = "ebreak"
	}
	return r, nil
}
