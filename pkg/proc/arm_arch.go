package proc

import (
	"encoding/binary"
	"strings"

	"golang.org/x/arch/arm/armasm"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// udf #16, what the linux kernel uses as breakpoint on ARM.
var armBreakInstruction = []byte{0xf0, 0x01, 0xf0, 0xe7}

// ARMArch returns an initialized Arch for 32-bit ARM, decoding in ARM
// (not Thumb) mode.
func ARMArch() *Arch {
	return &Arch{
		Name:                  "arm",
		ISA:                   regset.ARM,
		ptrSize:               4,
		maxInstructionLength:  4,
		breakpointInstruction: armBreakInstruction,
		byteOrder:             binary.LittleEndian,
		asmDecode:             armAsmDecode,
	}
}

func armAsmDecode(mem []byte, pc uint64) (AsmInstruction, error) {
	inst, err := armasm.Decode(mem, armasm.ModeARM)
	if err != nil {
		return AsmInstruction{Size: 4}, err
	}
	r := AsmInstruction{Size: inst.Len, Kind: OtherInstruction}
	// conditional forms are printed as SVC.EQ, BL.NE, ...
	op := inst.Op.String()
	if i := strings.IndexByte(op, '.'); i >= 0 {
		op = op[:i]
	}
	switch op {
	case "SVC":
		r.Kind = SyscallInstruction
	case "BKPT":
		r.Kind = HardBreakInstruction
	case "BL", "BLX":
		r.Kind = CallInstruction
	case "B", "BX":
		r.Kind = JmpInstruction
	}
	r.text = armasm.GNUSyntax(inst)
	return r, nil
}
