package proc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// Arch describes a CPU architecture as far as instruction decoding goes.
type Arch struct {
	Name string
	ISA  regset.ISA

	ptrSize               int
	maxInstructionLength  int
	breakpointInstruction []byte
	byteOrder             binary.ByteOrder

	// asmDecode decodes the instruction at mem[0:], pc is its address.
	asmDecode func(mem []byte, pc uint64) (AsmInstruction, error)
}

// PtrSize returns the size of a pointer on this architecture.
func (a *Arch) PtrSize() int { return a.ptrSize }

// MaxInstructionLength returns the maximum length of an instruction.
func (a *Arch) MaxInstructionLength() int { return a.maxInstructionLength }

// BreakpointInstruction returns the breakpoint instruction for this
// architecture.
func (a *Arch) BreakpointInstruction() []byte { return a.breakpointInstruction }

// ByteOrder returns the byte order of the architecture.
func (a *Arch) ByteOrder() binary.ByteOrder { return a.byteOrder }

// ArchFor returns the Arch of isa.
func ArchFor(isa regset.ISA) (*Arch, error) {
	switch isa {
	case regset.AMD64:
		return AMD64Arch(), nil
	case regset.ARM64:
		return ARM64Arch(), nil
	case regset.ARM:
		return ARMArch(), nil
	case regset.RISCV64:
		return RISCV64Arch(), nil
	case regset.SPARCV9:
		return SPARCV9Arch(), nil
	}
	return nil, fmt.Errorf("unsupported architecture %s", isa)
}

// AsmInstructionKind classifies decoded instructions.
type AsmInstructionKind uint8

const (
	OtherInstruction AsmInstructionKind = iota
	SyscallInstruction
	HardBreakInstruction
	CallInstruction
	RetInstruction
	JmpInstruction
)

// AsmInstruction is one decoded instruction.
type AsmInstruction struct {
	PC    uint64
	Size  int
	Bytes []byte
	Kind  AsmInstructionKind
	text  string
}

// Text returns the instruction in GNU syntax.
func (inst AsmInstruction) Text() string {
	if inst.text == "" {
		return "?"
	}
	return inst.text
}

// Decode decodes the instruction at the start of mem, located at pc.
func (a *Arch) Decode(mem []byte, pc uint64) (AsmInstruction, error) {
	if len(mem) == 0 {
		return AsmInstruction{PC: pc}, fmt.Errorf("no bytes to decode at %#x", pc)
	}
	inst, err := a.asmDecode(mem, pc)
	inst.PC = pc
	if inst.Size <= 0 || inst.Size > len(mem) {
		inst.Size = 1
		if a.maxInstructionLength == 4 && len(mem) >= 4 {
			inst.Size = 4
		}
	}
	inst.Bytes = mem[:inst.Size]
	return inst, err
}

// Disassemble decodes count instructions starting at pc. Undecodable
// bytes are returned as instructions with Text "?".
func Disassemble(mem MemoryReader, arch *Arch, pc uint64, count int) ([]AsmInstruction, error) {
	buf := make([]byte, arch.maxInstructionLength*count)
	n, err := mem.ReadMemory(buf, pc)
	if n == 0 {
		return nil, err
	}
	buf = buf[:n]
	r := make([]AsmInstruction, 0, count)
	for len(r) < count && len(buf) > 0 {
		inst, _ := arch.Decode(buf, pc)
		r = append(r, inst)
		pc += uint64(inst.Size)
		buf = buf[inst.Size:]
	}
	return r, nil
}
