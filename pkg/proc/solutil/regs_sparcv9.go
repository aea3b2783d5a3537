package solutil

import "github.com/go-delve/tele/pkg/proc/regset"

// Indexes into SPARCV9Regset.Reg, from <sys/regset.h>.
const (
	sparcG0   = 0
	sparcCCR  = 32
	sparcPC   = 33
	sparcNPC  = 34
	sparcY    = 35
	sparcASI  = 36
	sparcFPRS = 37

	SPARCV9NumRegs = 38
)

// SPARCV9Regset is prgregset_t for a 64-bit SPARC process: the globals,
// outs, locals and ins of the current window followed by the state
// registers.
type SPARCV9Regset struct {
	Reg [SPARCV9NumRegs]int64
}

func (r *SPARCV9Regset) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *SPARCV9Regset) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i := 0; i < 32; i++ {
			rs.SetInteger(i, uint64(r.Reg[sparcG0+i]))
		}
	}
	if which&regset.State != 0 {
		rs.SetState(0, uint64(r.Reg[sparcPC]))
		rs.SetState(1, uint64(r.Reg[sparcNPC]))
		rs.SetState(2, uint64(r.Reg[sparcCCR]))
		rs.SetState(3, uint64(r.Reg[sparcY]))
	}
}

func (r *SPARCV9Regset) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i := 0; i < 32; i++ {
			r.Reg[sparcG0+i] = int64(rs.Integer(i))
		}
	}
	if which&regset.State != 0 {
		r.Reg[sparcPC] = int64(rs.State(0))
		r.Reg[sparcNPC] = int64(rs.State(1))
		r.Reg[sparcCCR] = int64(rs.State(2))
		r.Reg[sparcY] = int64(rs.State(3))
	}
}

// SyscallArgs follows the SPARC trap convention: number in %g1, arguments
// in %o0-%o5.
func (r *SPARCV9Regset) SyscallArgs() (nr uint64, args [6]uint64) {
	var a [6]uint64
	for i := range a {
		a[i] = uint64(r.Reg[8+i])
	}
	return uint64(r.Reg[1]), a
}

// SPARCV9Fpregset is prfpregset_t for a 64-bit process.
type SPARCV9Fpregset struct {
	Dregs    [32]uint64
	Filler   uint64
	Fsr      uint64
	Qcnt     uint8
	QEntsize uint8
	En       uint8
	_        [5]uint8
	Q        [16]uint64
}

func (fp *SPARCV9Fpregset) Subsets() regset.Subset { return regset.FloatingPoint }

func (fp *SPARCV9Fpregset) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i, v := range fp.Dregs {
		rs.SetFloatingPoint(i, regset.Vector{v, 0})
	}
}

func (fp *SPARCV9Fpregset) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i := range fp.Dregs {
		fp.Dregs[i] = rs.FloatingPoint(i)[0]
	}
}
