package proc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/tele/pkg/proc/regset"
)

func TestDecodeKinds(t *testing.T) {
	for _, tc := range []struct {
		isa  regset.ISA
		mem  []byte
		kind AsmInstructionKind
		size int
	}{
		{regset.AMD64, []byte{0x0f, 0x05}, SyscallInstruction, 2},
		{regset.AMD64, []byte{0xcc}, HardBreakInstruction, 1},
		{regset.AMD64, []byte{0xcd, 0x80}, OtherInstruction, 2},
		{regset.AMD64, []byte{0xcd, 0x03}, HardBreakInstruction, 2},
		{regset.AMD64, []byte{0xc3}, RetInstruction, 1},
		{regset.AMD64, []byte{0xe8, 0, 0, 0, 0}, CallInstruction, 5},
		{regset.AMD64, []byte{0x48, 0x89, 0xe5}, OtherInstruction, 3},
		{regset.ARM64, []byte{0x01, 0x00, 0x00, 0xd4}, SyscallInstruction, 4},
		{regset.ARM64, []byte{0x00, 0x00, 0x20, 0xd4}, HardBreakInstruction, 4},
		{regset.ARM64, []byte{0xc0, 0x03, 0x5f, 0xd6}, RetInstruction, 4},
		{regset.RISCV64, []byte{0x73, 0x00, 0x00, 0x00}, SyscallInstruction, 4},
		{regset.RISCV64, []byte{0x73, 0x00, 0x10, 0x00}, HardBreakInstruction, 4},
		{regset.RISCV64, []byte{0x02, 0x90}, HardBreakInstruction, 2},
		{regset.RISCV64, []byte{0x01, 0x00}, OtherInstruction, 2},
		{regset.SPARCV9, []byte{0x91, 0xd0, 0x20, 0x40}, SyscallInstruction, 4},
		{regset.SPARCV9, []byte{0x91, 0xd0, 0x20, 0x08}, SyscallInstruction, 4},
		{regset.SPARCV9, []byte{0x91, 0xd0, 0x20, 0x01}, HardBreakInstruction, 4},
		{regset.SPARCV9, []byte{0x01, 0x00, 0x00, 0x00}, OtherInstruction, 4},
	} {
		arch, err := ArchFor(tc.isa)
		require.NoError(t, err)
		inst, err := arch.Decode(tc.mem, 0x400000)
		require.NoError(t, err, "% x on %s", tc.mem, tc.isa)
		require.Equal(t, tc.kind, inst.Kind, "% x on %s: %s", tc.mem, tc.isa, inst.Text())
		require.Equal(t, tc.size, inst.Size, "% x on %s", tc.mem, tc.isa)
		require.Equal(t, uint64(0x400000), inst.PC)
	}
}

func TestBreakpointInstructionDecodes(t *testing.T) {
	for _, isa := range []regset.ISA{regset.AMD64, regset.ARM64, regset.RISCV64, regset.SPARCV9} {
		arch, err := ArchFor(isa)
		require.NoError(t, err)
		inst, err := arch.Decode(arch.BreakpointInstruction(), 0)
		require.NoError(t, err, "%s", isa)
		require.Equal(t, HardBreakInstruction, inst.Kind, "%s: %s", isa, inst.Text())
	}
}

type flatMemory struct {
	base uint64
	mem  []byte
}

func (m flatMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < m.base || addr >= m.base+uint64(len(m.mem)) {
		return 0, errors.New("unmapped")
	}
	return copy(buf, m.mem[addr-m.base:]), nil
}

func TestDisassembleStopsAtEndOfMemory(t *testing.T) {
	code := []byte{0x55, 0x48, 0x89, 0xe5, 0x0f, 0x05, 0xc3}
	insts, err := Disassemble(flatMemory{0x1000, code}, AMD64Arch(), 0x1000, 10)
	require.NoError(t, err)
	require.Len(t, insts, 4)
	var pcs []uint64
	for _, inst := range insts {
		pcs = append(pcs, inst.PC)
	}
	require.Equal(t, []uint64{0x1000, 0x1001, 0x1004, 0x1006}, pcs)
	require.Equal(t, SyscallInstruction, insts[2].Kind)
	require.True(t, bytes.Equal(insts[3].Bytes, []byte{0xc3}))

	_, err = Disassemble(flatMemory{0x1000, code}, AMD64Arch(), 0x2000, 1)
	require.Error(t, err)
}

func TestUndecodableInstruction(t *testing.T) {
	inst, err := AMD64Arch().Decode([]byte{0x06, 0x90}, 0x10)
	require.Error(t, err)
	require.Equal(t, 1, inst.Size)
	require.Equal(t, "?", inst.Text())
}
