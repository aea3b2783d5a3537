package proc

import (
	"encoding/binary"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/go-delve/tele/pkg/proc/regset"
)

var arm64BreakInstruction = []byte{0x0, 0x0, 0x20, 0xd4}

// ARM64Arch returns an initialized Arch for ARM64.
func ARM64Arch() *Arch {
	return &Arch{
		Name:                  "arm64",
		ISA:                   regset.ARM64,
		ptrSize:               8,
		maxInstructionLength:  4,
		breakpointInstruction: arm64BreakInstruction,
		byteOrder:             binary.LittleEndian,
		asmDecode:             arm64AsmDecode,
	}
}

func arm64AsmDecode(mem []byte, pc uint64) (AsmInstruction, error) {
	inst, err := arm64asm.Decode(mem)
	if err != nil {
		return AsmInstruction{Size: 4}, err
	}
	r := AsmInstruction{Size: 4, Kind: OtherInstruction}
	switch inst.Op {
	case arm64asm.SVC:
		r.Kind = SyscallInstruction
	case arm64asm.BRK:
		r.Kind = HardBreakInstruction
	case arm64asm.BL, arm64asm.BLR:
		r.Kind = CallInstruction
	case arm64asm.RET:
		r.Kind = RetInstruction
	case arm64asm.B, arm64asm.BR:
		r.Kind = JmpInstruction
	}
	r.text = arm64asm.GNUSyntax(inst)
	return r, nil
}
