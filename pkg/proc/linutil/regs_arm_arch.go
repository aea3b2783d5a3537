package linutil

import "github.com/go-delve/tele/pkg/proc/regset"

// ARMPtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for ARM CPUs. Uregs[15] is the PC, Uregs[16]
// CPSR and Uregs[17] ORIG_R0.
// copy from sys/unix/ztypes_linux_arm.go
type ARMPtraceRegs struct {
	Uregs [18]uint32
}

func (r *ARMPtraceRegs) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *ARMPtraceRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i := 0; i < 15; i++ {
			rs.SetInteger(i, uint64(r.Uregs[i]))
		}
	}
	if which&regset.State != 0 {
		rs.SetState(0, uint64(r.Uregs[15]))
		rs.SetState(1, uint64(r.Uregs[16]))
	}
}

func (r *ARMPtraceRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i := 0; i < 15; i++ {
			r.Uregs[i] = uint32(rs.Integer(i))
		}
	}
	if which&regset.State != 0 {
		r.Uregs[15] = uint32(rs.State(0))
		r.Uregs[16] = uint32(rs.State(1))
	}
}

func (r *ARMPtraceRegs) SyscallArgs() (nr uint64, args [6]uint64) {
	u := r.Uregs
	return uint64(u[7]), [6]uint64{uint64(u[0]), uint64(u[1]), uint64(u[2]), uint64(u[3]), uint64(u[4]), uint64(u[5])}
}

// ARMPtraceVFPRegs is struct user_vfp, read with PTRACE_GETVFPREGS.
type ARMPtraceVFPRegs struct {
	Fpregs [32]uint64
	Fpscr  uint32
	_      uint32
}

func (fp *ARMPtraceVFPRegs) Subsets() regset.Subset { return regset.FloatingPoint | regset.State }

func (fp *ARMPtraceVFPRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i, v := range fp.Fpregs {
			rs.SetFloatingPoint(i, regset.Vector{v, 0})
		}
	}
	if which&regset.State != 0 {
		rs.SetState(2, uint64(fp.Fpscr))
	}
}

func (fp *ARMPtraceVFPRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i := range fp.Fpregs {
			fp.Fpregs[i] = rs.FloatingPoint(i)[0]
		}
	}
	if which&regset.State != 0 {
		fp.Fpscr = uint32(rs.State(2))
	}
}
