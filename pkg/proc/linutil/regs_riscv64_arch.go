package linutil

import "github.com/go-delve/tele/pkg/proc/regset"

// RISCV64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for RISC-V CPUs. The kernel stores the PC in
// the slot of x0, which always reads as zero.
type RISCV64PtraceRegs struct {
	Pc  uint64
	Ra  uint64
	Sp  uint64
	Gp  uint64
	Tp  uint64
	T0  uint64
	T1  uint64
	T2  uint64
	S0  uint64
	S1  uint64
	A0  uint64
	A1  uint64
	A2  uint64
	A3  uint64
	A4  uint64
	A5  uint64
	A6  uint64
	A7  uint64
	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64
	T3  uint64
	T4  uint64
	T5  uint64
	T6  uint64
}

// xregs returns x1 through x31.
func (r *RISCV64PtraceRegs) xregs() [31]*uint64 {
	return [31]*uint64{
		&r.Ra, &r.Sp, &r.Gp, &r.Tp, &r.T0, &r.T1, &r.T2, &r.S0, &r.S1,
		&r.A0, &r.A1, &r.A2, &r.A3, &r.A4, &r.A5, &r.A6, &r.A7,
		&r.S2, &r.S3, &r.S4, &r.S5, &r.S6, &r.S7, &r.S8, &r.S9, &r.S10, &r.S11,
		&r.T3, &r.T4, &r.T5, &r.T6,
	}
}

func (r *RISCV64PtraceRegs) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *RISCV64PtraceRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		rs.SetInteger(0, 0)
		for i, p := range r.xregs() {
			rs.SetInteger(i+1, *p)
		}
	}
	if which&regset.State != 0 {
		rs.SetState(0, r.Pc)
	}
}

func (r *RISCV64PtraceRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, p := range r.xregs() {
			*p = rs.Integer(i + 1)
		}
	}
	if which&regset.State != 0 {
		r.Pc = rs.State(0)
	}
}

func (r *RISCV64PtraceRegs) SyscallArgs() (nr uint64, args [6]uint64) {
	return r.A7, [6]uint64{r.A0, r.A1, r.A2, r.A3, r.A4, r.A5}
}

// RISCV64PtraceFpRegs is struct __riscv_d_ext_state in the kernel ptrace.h.
type RISCV64PtraceFpRegs struct {
	F    [32]uint64
	Fcsr uint32
	_    uint32
}

func (fp *RISCV64PtraceFpRegs) Subsets() regset.Subset { return regset.FloatingPoint | regset.State }

func (fp *RISCV64PtraceFpRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i, v := range fp.F {
			rs.SetFloatingPoint(i, regset.Vector{v, 0})
		}
	}
	if which&regset.State != 0 {
		rs.SetState(1, uint64(fp.Fcsr))
	}
}

func (fp *RISCV64PtraceFpRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i := range fp.F {
			fp.F[i] = rs.FloatingPoint(i)[0]
		}
	}
	if which&regset.State != 0 {
		fp.Fcsr = uint32(rs.State(1))
	}
}
