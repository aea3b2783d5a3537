package proc

import (
	"fmt"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// SyscallABI says where a system call finds its number and arguments, as
// indexes into the integer group of a canonical register set, and how it
// reports failure.
type SyscallABI struct {
	Number int
	Args   [6]int
	Return int

	// Mmap is the number of the call that maps anonymous memory.
	Mmap uint64
	// MmapLength is the index in Args of the length argument of Mmap.
	MmapLength int

	// carryFlag is the bit of the flags register set on failure, zero
	// when failure is signalled by returning -errno.
	carryFlag uint64
}

// Failed returns the error number if the registers, read right after a
// system call instruction, describe a failed call.
func (abi *SyscallABI) Failed(rs regset.CanonicalRegisterSet) (errno uint64, failed bool) {
	ret := rs.Integer(abi.Return)
	if abi.carryFlag != 0 {
		if rs.Flags()&abi.carryFlag != 0 {
			return ret, true
		}
		return 0, false
	}
	if rs.ISA() == regset.ARM {
		ret = uint64(int64(int32(ret)))
	}
	if int64(ret) < 0 && int64(ret) > -4096 {
		return uint64(-int64(ret)), true
	}
	return 0, false
}

// Arguments returns the system call number and arguments held in rs.
func (abi *SyscallABI) Arguments(rs regset.CanonicalRegisterSet) (nr uint64, args [6]uint64) {
	nr = rs.Integer(abi.Number)
	for i, idx := range abi.Args {
		args[i] = rs.Integer(idx)
	}
	return nr, args
}

// canonical integer indexes
const (
	amd64RAX, amd64RDX, amd64RSI, amd64RDI = 0, 2, 6, 7
	amd64R8, amd64R9, amd64R10             = 8, 9, 10
)

var amd64SysV = [6]int{amd64RDI, amd64RSI, amd64RDX, amd64R10, amd64R8, amd64R9}

var syscallABIs = map[string]map[regset.ISA]*SyscallABI{
	"linux": {
		regset.AMD64:   {Number: amd64RAX, Args: amd64SysV, Return: amd64RAX, Mmap: 9, MmapLength: 1},
		regset.ARM64:   {Number: 8, Args: [6]int{0, 1, 2, 3, 4, 5}, Return: 0, Mmap: 222, MmapLength: 1},
		regset.ARM:     {Number: 7, Args: [6]int{0, 1, 2, 3, 4, 5}, Return: 0, Mmap: 192, MmapLength: 1}, // mmap2
		regset.RISCV64: {Number: 17, Args: [6]int{10, 11, 12, 13, 14, 15}, Return: 10, Mmap: 222, MmapLength: 1},
	},
	"darwin": {
		regset.AMD64: {Number: amd64RAX, Args: amd64SysV, Return: amd64RAX, Mmap: 0x2000000 + 197, MmapLength: 1, carryFlag: 0x1},
		regset.ARM64: {Number: 16, Args: [6]int{0, 1, 2, 3, 4, 5}, Return: 0, Mmap: 197, MmapLength: 1, carryFlag: 1 << 29},
	},
	"solaris": {
		regset.AMD64:   {Number: amd64RAX, Args: amd64SysV, Return: amd64RAX, Mmap: 115, MmapLength: 1, carryFlag: 0x1},
		regset.SPARCV9: {Number: 1, Args: [6]int{8, 9, 10, 11, 12, 13}, Return: 8, Mmap: 115, MmapLength: 1, carryFlag: 1 << 4}, // xcc.c
	},
}

// SyscallABIFor returns the system call convention of goos on isa.
func SyscallABIFor(goos string, isa regset.ISA) (*SyscallABI, error) {
	if abi, ok := syscallABIs[goos][isa]; ok {
		return abi, nil
	}
	return nil, fmt.Errorf("no system call convention for %s/%s", goos, isa)
}
