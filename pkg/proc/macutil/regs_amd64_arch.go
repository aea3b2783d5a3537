package macutil

import (
	"encoding/binary"

	"github.com/go-delve/tele/pkg/proc/regset"
)

// AMD64ThreadState is x86_thread_state64_t, flavor x86_THREAD_STATE64.
type AMD64ThreadState struct {
	Rax    uint64
	Rbx    uint64
	Rcx    uint64
	Rdx    uint64
	Rdi    uint64
	Rsi    uint64
	Rbp    uint64
	Rsp    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	Rip    uint64
	Rflags uint64
	Cs     uint64
	Fs     uint64
	Gs     uint64
}

const (
	AMD64ThreadStateFlavor = 4 // x86_THREAD_STATE64
	AMD64FloatStateFlavor  = 5 // x86_FLOAT_STATE64

	AMD64ThreadStateCount = 42  // x86_THREAD_STATE64_COUNT, in natural_t
	AMD64FloatStateCount  = 131 // x86_FLOAT_STATE64_COUNT
)

func (r *AMD64ThreadState) integer() [16]*uint64 {
	return [16]*uint64{
		&r.Rax, &r.Rcx, &r.Rdx, &r.Rbx, &r.Rsp, &r.Rbp, &r.Rsi, &r.Rdi,
		&r.R8, &r.R9, &r.R10, &r.R11, &r.R12, &r.R13, &r.R14, &r.R15,
	}
}

func (r *AMD64ThreadState) Subsets() regset.Subset { return regset.Integer | regset.State }

func (r *AMD64ThreadState) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, p := range r.integer() {
			rs.SetInteger(i, *p)
		}
	}
	if which&regset.State != 0 {
		rs.SetState(0, r.Rip)
		rs.SetState(1, r.Rflags)
	}
}

func (r *AMD64ThreadState) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.Integer != 0 {
		for i, p := range r.integer() {
			*p = rs.Integer(i)
		}
	}
	if which&regset.State != 0 {
		r.Rip = rs.State(0)
		r.Rflags = rs.State(1)
	}
}

func (r *AMD64ThreadState) SyscallArgs() (nr uint64, args [6]uint64) {
	return r.Rax, [6]uint64{r.Rdi, r.Rsi, r.Rdx, r.R10, r.R8, r.R9}
}

// AMD64FloatState is x86_float_state64_t. The MMX/ST registers and XMM
// registers are kept as raw bytes.
type AMD64FloatState struct {
	FpuReserved [2]int32
	Fcw         uint16
	Fsw         uint16
	Ftw         uint8
	Rsrv1       uint8
	Fop         uint16
	Ip          uint32
	Cs          uint16
	Rsrv2       uint16
	Dp          uint32
	Ds          uint16
	Rsrv3       uint16
	Mxcsr       uint32
	Mxcsrmask   uint32
	Stmm        [8][16]byte
	Xmm         [16][16]byte
	Rsrv4       [96]byte
	Reserved1   int32
}

func (fp *AMD64FloatState) Subsets() regset.Subset { return regset.FloatingPoint }

func (fp *AMD64FloatState) Canonicalize(rs *regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i := range fp.Xmm {
		rs.SetFloatingPoint(i, regset.Vector{binary.LittleEndian.Uint64(fp.Xmm[i][:]), binary.LittleEndian.Uint64(fp.Xmm[i][8:])})
	}
}

func (fp *AMD64FloatState) Decanonicalize(rs regset.CanonicalRegisterSet, which regset.Subset) {
	if which&regset.FloatingPoint == 0 {
		return
	}
	for i := range fp.Xmm {
		v := rs.FloatingPoint(i)
		binary.LittleEndian.PutUint64(fp.Xmm[i][:], v[0])
		binary.LittleEndian.PutUint64(fp.Xmm[i][8:], v[1])
	}
}
