package proc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/tele/pkg/proc/regset"
)

var sparcv9BreakInstruction = []byte{0x91, 0xd0, 0x20, 0x01} // ta 1

// SPARCV9Arch returns an initialized Arch for 64-bit SPARC. Every
// instruction is four bytes, only traps are recognized.
func SPARCV9Arch() *Arch {
	return &Arch{
		Name:                  "sparcv9",
		ISA:                   regset.SPARCV9,
		ptrSize:               8,
		maxInstructionLength:  4,
		breakpointInstruction: sparcv9BreakInstruction,
		byteOrder:             binary.BigEndian,
		asmDecode:             sparcv9AsmDecode,
	}
}

func sparcv9AsmDecode(mem []byte, pc uint64) (AsmInstruction, error) {
	if len(mem) < 4 {
		return AsmInstruction{Size: len(mem)}, fmt.Errorf("truncated instruction at %#x", pc)
	}
	w := binary.BigEndian.Uint32(mem)
	r := AsmInstruction{Size: 4, text: fmt.Sprintf(".word %#08x", w)}
	op := w >> 30
	op3 := (w >> 19) & 0x3f
	cond := (w >> 25) & 0xf
	imm := w&(1<<13) != 0
	if op == 2 && op3 == 0x3a && cond == 8 && imm {
		trap := w & 0x7f
		r.text = fmt.Sprintf("ta %#x", trap)
		switch trap {
		case 0x08, 0x40: // 32 and 64 bit system call traps
			r.Kind = SyscallInstruction
		case 0x01:
			r.Kind = HardBreakInstruction
		}
	}
	return r, nil
}
