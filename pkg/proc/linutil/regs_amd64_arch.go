package linutil

import (
	"github.com/go-delve/tele/pkg/proc/amd64util"
	"github.com/go-delve/tele/pkg/proc/regset"
)

// AMD64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for AMD64 CPUs.
type AMD64PtraceRegs struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// AMD64PtraceFpRegs is user_fpregs_struct.
type AMD64PtraceFpRegs = amd64util.AMD64PtraceFpRegs

// integer returns pointers to the general purpose registers in canonical
// order.
func (r *AMD64PtraceRegs) integer() [16]*uint64 {
	return [16]*uint64{
		&r.Rax, &r.Rcx, &r.Rdx, &r.Rbx, &r.Rsp, &r.Rbp, &r.Rsi, &r.Rdi,
		&r.R8, &r.R9, &r.R10, &r.R11, &r.R12, &r.R13, &r.R14, &r.R15,
	}
}

func (r *AMD64PtraceRegs) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *AMD64PtraceRegs) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, p := range r.integer() {
			rs.SetInteger(i, *p)
		}
	}
	if which&regset.State != 0 {
		rs.SetState(0, r.Rip)
		rs.SetState(1, r.Eflags)
	}
}

func (r *AMD64PtraceRegs) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, p := range r.integer() {
			*p = rs.Integer(i)
		}
	}
	if which&regset.State != 0 {
		r.Rip = rs.State(0)
		r.Eflags = rs.State(1)
	}
}

// SyscallArgs returns the system call number and first six arguments as
// seen at the syscall instruction.
func (r *AMD64PtraceRegs) SyscallArgs() (nr uint64, args [6]uint64) {
	return r.Rax, [6]uint64{r.Rdi, r.Rsi, r.Rdx, r.R10, r.R8, r.R9}
}
