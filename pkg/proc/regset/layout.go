package regset

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Layout describes how the canonical slots are used by one ISA.
type Layout struct {
	ISA ISA

	Integer       []string
	FloatingPoint []string
	State         []string

	// Encoded width in bytes of one slot of each group.
	IntegerWidth       int
	FloatingPointWidth int
	StateWidth         int

	PCIndex    int // into State
	SPIndex    int // into Integer
	FlagsIndex int // into State, -1 if the ISA has no flags register

	// SingleStepFlag is the bit in the flags register that makes the CPU
	// trap after one instruction, zero when stepping is done by the kernel.
	SingleStepFlag uint64

	ByteOrder binary.ByteOrder
	WordSize  int
}

// Lookup returns the group and index of the register called name.
func (l *Layout) Lookup(name string) (Subset, int, bool) {
	name = strings.ToLower(name)
	for i, n := range l.Integer {
		if n == name {
			return Integer, i, true
		}
	}
	for i, n := range l.FloatingPoint {
		if n == name {
			return FloatingPoint, i, true
		}
	}
	for i, n := range l.State {
		if n == name {
			return State, i, true
		}
	}
	return 0, 0, false
}

func numbered(prefix string, n int) []string {
	r := make([]string, n)
	for i := range r {
		r[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return r
}

func concat(groups ...[]string) []string {
	var r []string
	for _, g := range groups {
		r = append(r, g...)
	}
	return r
}

const amd64TrapFlag = 0x100

var layouts = map[ISA]*Layout{
	AMD64: {
		ISA: AMD64,
		Integer: []string{
			"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
			"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		},
		FloatingPoint:      numbered("xmm", 16),
		State:              []string{"rip", "rflags"},
		IntegerWidth:       8,
		FloatingPointWidth: 16,
		StateWidth:         8,
		PCIndex:            0,
		SPIndex:            4,
		FlagsIndex:         1,
		SingleStepFlag:     amd64TrapFlag,
		ByteOrder:          binary.LittleEndian,
		WordSize:           8,
	},
	ARM64: {
		ISA:                ARM64,
		Integer:            append(numbered("x", 31), "sp"),
		FloatingPoint:      numbered("v", 32),
		State:              []string{"pc", "pstate", "fpsr", "fpcr"},
		IntegerWidth:       8,
		FloatingPointWidth: 16,
		StateWidth:         8,
		PCIndex:            0,
		SPIndex:            31,
		FlagsIndex:         1,
		ByteOrder:          binary.LittleEndian,
		WordSize:           8,
	},
	ARM: {
		ISA:                ARM,
		Integer:            append(numbered("r", 13), "sp", "lr"),
		FloatingPoint:      numbered("d", 32),
		State:              []string{"pc", "cpsr", "fpscr"},
		IntegerWidth:       4,
		FloatingPointWidth: 8,
		StateWidth:         4,
		PCIndex:            0,
		SPIndex:            13,
		FlagsIndex:         1,
		ByteOrder:          binary.LittleEndian,
		WordSize:           4,
	},
	RISCV64: {
		ISA:                RISCV64,
		Integer:            numbered("x", 32),
		FloatingPoint:      numbered("f", 32),
		State:              []string{"pc", "fcsr"},
		IntegerWidth:       8,
		FloatingPointWidth: 8,
		StateWidth:         8,
		PCIndex:            0,
		SPIndex:            2,
		FlagsIndex:         -1,
		ByteOrder:          binary.LittleEndian,
		WordSize:           8,
	},
	SPARCV9: {
		ISA:                SPARCV9,
		Integer:            concat(numbered("g", 8), numbered("o", 8), numbered("l", 8), numbered("i", 8)),
		FloatingPoint:      numbered("d", 32),
		State:              []string{"pc", "npc", "ccr", "y"},
		IntegerWidth:       8,
		FloatingPointWidth: 8,
		StateWidth:         8,
		PCIndex:            0,
		SPIndex:            14, // %o6
		FlagsIndex:         2,
		ByteOrder:          binary.BigEndian,
		WordSize:           8,
	},
}

// LayoutFor returns the layout of isa. It panics for UnknownISA, a register
// set cannot be built without knowing the architecture.
func LayoutFor(isa ISA) *Layout {
	l, ok := layouts[isa]
	if !ok {
		panic(fmt.Errorf("no register layout for %s", isa))
	}
	return l
}
