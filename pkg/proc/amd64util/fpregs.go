package amd64util

import (
	"encoding/binary"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// AMD64PtraceFpRegs is the legacy FXSAVE area, it tracks user_fpregs_struct
// in /usr/include/x86_64-linux-gnu/sys/user.h and the fpchip_state of
// Solaris prfpregset_t.
type AMD64PtraceFpRegs struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32
	XmmSpace [256]byte
	Padding  [24]uint32
}

func (fp *AMD64PtraceFpRegs) Subsets() regset.Subset { return regset.FloatingPoint }

// Canonicalize copies XMM0-XMM15 into the floating point group of rs.
func (fp *AMD64PtraceFpRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i := 0; i < 16; i++ {
		xmm := fp.XmmSpace[i*16:]
		rs.SetFloatingPoint(i, regset.Vector{binary.LittleEndian.Uint64(xmm), binary.LittleEndian.Uint64(xmm[8:])})
	}
}

// Decanonicalize writes XMM0-XMM15 back, the x87 and control words are
// left as they are.
func (fp *AMD64PtraceFpRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i := 0; i < 16; i++ {
		v := rs.FloatingPoint(i)
		xmm := fp.XmmSpace[i*16:]
		binary.LittleEndian.PutUint64(xmm, v[0])
		binary.LittleEndian.PutUint64(xmm[8:], v[1])
	}
}
