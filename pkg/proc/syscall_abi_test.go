package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/tele/pkg/proc/regset"
)

func TestSyscallABIArguments(t *testing.T) {
	abi, err := SyscallABIFor("linux", regset.AMD64)
	require.NoError(t, err)

	rs := regset.New(regset.AMD64)
	rs.SetInteger(amd64RAX, 9)
	for i, idx := range amd64SysV {
		rs.SetInteger(idx, uint64(0x100+i))
	}
	nr, args := abi.Arguments(rs)
	require.Equal(t, abi.Mmap, nr)
	require.Equal(t, [6]uint64{0x100, 0x101, 0x102, 0x103, 0x104, 0x105}, args)
}

func TestSyscallABIFailed(t *testing.T) {
	linux, err := SyscallABIFor("linux", regset.AMD64)
	require.NoError(t, err)
	rs := regset.New(regset.AMD64)
	rs.SetInteger(amd64RAX, uint64(0xffffffffffffffff-11)) // -ENOMEM
	errno, failed := linux.Failed(rs)
	require.True(t, failed)
	require.Equal(t, uint64(12), errno)

	rs.SetInteger(amd64RAX, 0x7f0000000000)
	_, failed = linux.Failed(rs)
	require.False(t, failed)

	arm, err := SyscallABIFor("linux", regset.ARM)
	require.NoError(t, err)
	rs = regset.New(regset.ARM)
	rs.SetInteger(0, 0xfffffff4)
	errno, failed = arm.Failed(rs)
	require.True(t, failed)
	require.Equal(t, uint64(12), errno)

	solaris, err := SyscallABIFor("solaris", regset.AMD64)
	require.NoError(t, err)
	rs = regset.New(regset.AMD64)
	rs.SetInteger(amd64RAX, 12)
	_, failed = solaris.Failed(rs)
	require.False(t, failed)
	rs.SetState(1, 0x1)
	errno, failed = solaris.Failed(rs)
	require.True(t, failed)
	require.Equal(t, uint64(12), errno)
}

func TestSyscallABIUnknown(t *testing.T) {
	_, err := SyscallABIFor("darwin", regset.SPARCV9)
	require.Error(t, err)
	_, err = SyscallABIFor("plan9", regset.AMD64)
	require.Error(t, err)
}
