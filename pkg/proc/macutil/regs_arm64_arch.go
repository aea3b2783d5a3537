package macutil

import "github.com/go-delve/tele/pkg/proc/regset"

// ARM64ThreadState is arm_thread_state64_t, flavor ARM_THREAD_STATE64.
// X[29] is the frame pointer and is stored separately by the kernel.
type ARM64ThreadState struct {
	X    [29]uint64
	Fp   uint64
	Lr   uint64
	Sp   uint64
	Pc   uint64
	Cpsr uint32
	Pad  uint32
}

const (
	ARM64ThreadStateFlavor = 6  // ARM_THREAD_STATE64
	ARM64NeonStateFlavor   = 17 // ARM_NEON_STATE64

	ARM64ThreadStateCount = 68
	ARM64NeonStateCount   = 132
)

func (r *ARM64ThreadState) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *ARM64ThreadState) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, v := range r.X {
			rs.SetInteger(i, v)
		}
		rs.SetInteger(29, r.Fp)
		rs.SetInteger(30, r.Lr)
		rs.SetInteger(31, r.Sp)
	}
	if which&regset.State != 0 {
		rs.SetState(0, r.Pc)
		rs.SetState(1, uint64(r.Cpsr))
	}
}

func (r *ARM64ThreadState) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i := range r.X {
			r.X[i] = rs.Integer(i)
		}
		r.Fp = rs.Integer(29)
		r.Lr = rs.Integer(30)
		r.Sp = rs.Integer(31)
	}
	if which&regset.State != 0 {
		r.Pc = rs.State(0)
		r.Cpsr = uint32(rs.State(1))
	}
}

func (r *ARM64ThreadState) SyscallArgs() (nr uint64, args [6]uint64) {
	return r.X[16], [6]uint64{r.X[0], r.X[1], r.X[2], r.X[3], r.X[4], r.X[5]}
}

// ARM64NeonState is arm_neon_state64_t.
type ARM64NeonState struct {
	V    [32][2]uint64
	Fpsr uint32
	Fpcr uint32
	_    [2]uint32
}

func (fp *ARM64NeonState) Subsets() regset.Subset { return regset.FloatingPoint | regset.State }

func (fp *ARM64NeonState) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i, v := range fp.V {
			rs.SetFloatingPoint(i, regset.Vector(v))
		}
	}
	if which&regset.State != 0 {
		rs.SetState(2, uint64(fp.Fpsr))
		rs.SetState(3, uint64(fp.Fpcr))
	}
}

func (fp *ARM64NeonState) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint != 0 {
		for i := range fp.V {
			fp.V[i] = rs.FloatingPoint(i)
		}
	}
	if which&regset.State != 0 {
		fp.Fpsr = uint32(rs.State(2))
		fp.Fpcr = uint32(rs.State(3))
	}
}
