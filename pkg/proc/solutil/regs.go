package solutil

import (
	"encoding/binary"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// AMD64Regset represents CPU registers on an AMD64 processor.
// This order is determined by the defines in /usr/include/sys/regset.h.
type AMD64Regset struct {
	R15    int64
	R14    int64
	R13    int64
	R12    int64
	R11    int64
	R10    int64
	R9     int64
	R8     int64
	Rdi    int64
	Rsi    int64
	Rbp    int64
	Rbx    int64
	Rdx    int64
	Rcx    int64
	Rax    int64
	Trapno int64
	Err    int64
	Rip    int64
	Cs     int64
	Rflags int64
	Rsp    int64
	Ss     int64
	Fs     int64
	Gs     int64
	Es     int64
	Ds     int64
	FsBase int64
	GsBase int64
}

func (r *AMD64Regset) integer() [16]*int64 {
	return [16]*int64{
		&r.Rax, &r.Rcx, &r.Rdx, &r.Rbx, &r.Rsp, &r.Rbp, &r.Rsi, &r.Rdi,
		&r.R8, &r.R9, &r.R10, &r.R11, &r.R12, &r.R13, &r.R14, &r.R15,
	}
}

func (r *AMD64Regset) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *AMD64Regset) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, p := range r.integer() {
			rs.SetInteger(i, uint64(*p))
		}
	}
	if which&regset.State != 0 {
		rs.SetState(0, uint64(r.Rip))
		rs.SetState(1, uint64(r.Rflags))
	}
}

func (r *AMD64Regset) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, p := range r.integer() {
			*p = int64(rs.Integer(i))
		}
	}
	if which&regset.State != 0 {
		r.Rip = int64(rs.State(0))
		r.Rflags = int64(rs.State(1))
	}
}

func (r *AMD64Regset) SyscallArgs() (nr uint64, args [6]uint64) {
	return uint64(r.Rax), [6]uint64{uint64(r.Rdi), uint64(r.Rsi), uint64(r.Rdx), uint64(r.R10), uint64(r.R8), uint64(r.R9)}
}

// AMD64Fpregset tracks fpregset_t in /usr/include/sys/mcontext.h.
type AMD64Fpregset struct {
	Cw        uint16
	Sw        uint16
	Fctw      uint8
	FxRsvd    uint8
	Fop       uint16
	Rip       uint64
	Rdp       uint64
	Mxcsr     uint32
	MxcsrMask uint32
	St        [32]uint32
	Xmm       [256]byte
	FxIgn2    [24]uint32
	Status    uint32
	Xstatus   uint32
}

func (fp *AMD64Fpregset) Subsets() regset.Subset { return regset.FloatingPoint }

func (fp *AMD64Fpregset) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i := 0; i < 16; i++ {
		xmm := fp.Xmm[i*16:]
		rs.SetFloatingPoint(i, regset.Vector{binary.LittleEndian.Uint64(xmm), binary.LittleEndian.Uint64(xmm[8:])})
	}
}

func (fp *AMD64Fpregset) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i := 0; i < 16; i++ {
		v := rs.FloatingPoint(i)
		xmm := fp.Xmm[i*16:]
		binary.LittleEndian.PutUint64(xmm, v[0])
		binary.LittleEndian.PutUint64(xmm[8:], v[1])
	}
}
