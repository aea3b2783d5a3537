package linutil

import "github.com/go-delve/tele/pkg/proc/regset"

// ARM64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for ARM64 CPUs (user_pt_regs).
// copy from sys/unix/ztypes_linux_arm64.go
type ARM64PtraceRegs struct {
	Regs   [31]uint64
	Sp     uint64
	Pc     uint64
	Pstate uint64
}

func (r *ARM64PtraceRegs) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *ARM64PtraceRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, v := range r.Regs {
			rs.SetInteger(i, v)
		}
		rs.SetInteger(31, r.Sp)
	}
	if which&regset.State != 0 {
		rs.SetState(0, r.Pc)
		rs.SetState(1, r.Pstate)
	}
}

func (r *ARM64PtraceRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i := range r.Regs {
			r.Regs[i] = rs.Integer(i)
		}
		r.Sp = rs.Integer(31)
	}
	if which&regset.State != 0 {
		r.Pc = rs.State(0)
		r.Pstate = rs.State(1)
	}
}

// ARM64PtraceFpRegs is user_fpsimd_state, read with PTRACE_GETREGSET
// NT_PRFPREG.
type ARM64PtraceFpRegs struct {
	Vregs [32][2]uint64
	Fpsr  uint32
	Fpcr  uint32
	_     [2]uint32
}

func (fp *ARM64PtraceFpRegs) Subsets() regset.Subset { return regset.FloatingPoint | regset.State }

func (fp *ARM64PtraceFpRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i, v := range fp.Vregs {
			rs.SetFloatingPoint(i, regset.Vector(v))
		}
	}
	if which&regset.State != 0 {
		rs.SetState(2, uint64(fp.Fpsr))
		rs.SetState(3, uint64(fp.Fpcr))
	}
}

func (fp *ARM64PtraceFpRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i := range fp.Vregs {
			fp.Vregs[i] = rs.FloatingPoint(i)
		}
	}
	if which&regset.State != 0 {
		fp.Fpsr = uint32(rs.State(2))
		fp.Fpcr = uint32(rs.State(3))
	}
}

func (r *ARM64PtraceRegs) SyscallArgs() (nr uint64, args [6]uint64) {
	return r.Regs[8], [6]uint64{r.Regs[0], r.Regs[1], r.Regs[2], r.Regs[3], r.Regs[4], r.Regs[5]}
}
