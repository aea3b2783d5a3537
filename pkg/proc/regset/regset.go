// Package regset implements the OS independent register file used by the
// process controller. A CanonicalRegisterSet has the same shape on every
// operating system: up to 32 integer registers, up to 32 floating point
// registers (128 bits each) and up to 4 state registers. The per-ISA Layout
// decides which slots are meaningful and what they are called.
package regset

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MaxInteger       = 32
	MaxFloatingPoint = 32
	MaxState         = 4
)

// ErrSizeMismatch is returned when a caller supplied buffer is too small to
// hold the canonical encoding of a register subset.
var ErrSizeMismatch = errors.New("register buffer size mismatch")

// ISA identifies a target instruction set architecture.
type ISA uint8

const (
	UnknownISA ISA = iota
	AMD64
	ARM64
	ARM
	RISCV64
	SPARCV9
)

func (isa ISA) String() string {
	switch isa {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	case ARM:
		return "arm"
	case RISCV64:
		return "riscv64"
	case SPARCV9:
		return "sparcv9"
	}
	return fmt.Sprintf("isa(%d)", uint8(isa))
}

// ParseISA converts a GOARCH style name into an ISA.
func ParseISA(name string) (ISA, error) {
	switch name {
	case "amd64", "x86_64", "x86-64":
		return AMD64, nil
	case "arm64", "aarch64":
		return ARM64, nil
	case "arm", "arm32":
		return ARM, nil
	case "riscv64":
		return RISCV64, nil
	case "sparcv9", "sparc64", "sparc":
		return SPARCV9, nil
	}
	return UnknownISA, fmt.Errorf("unknown instruction set %q", name)
}

// Subset selects one or more register groups.
type Subset uint8

const (
	Integer Subset = 1 << iota
	FloatingPoint
	State

	All = Integer | FloatingPoint | State
)

func (s Subset) String() string {
	switch s {
	case Integer:
		return "integer"
	case FloatingPoint:
		return "floating-point"
	case State:
		return "state"
	case All:
		return "all"
	}
	return fmt.Sprintf("subset(%#x)", uint8(s))
}

// Vector is a 128 bit floating point or vector register, low half first.
type Vector [2]uint64

func (v Vector) Lo() uint64 { return v[0] }
func (v Vector) Hi() uint64 { return v[1] }

// CanonicalRegisterSet is a value type, copies are independent.
type CanonicalRegisterSet struct {
	isa           ISA
	integer       [MaxInteger]uint64
	floatingPoint [MaxFloatingPoint]Vector
	state         [MaxState]uint64
}

// New returns a zeroed register set for isa.
func New(isa ISA) CanonicalRegisterSet {
	return CanonicalRegisterSet{isa: isa}
}

func (rs CanonicalRegisterSet) ISA() ISA { return rs.isa }

func (rs CanonicalRegisterSet) Layout() *Layout { return LayoutFor(rs.isa) }

func (rs CanonicalRegisterSet) Integer(i int) uint64 { return rs.integer[i] }

func (rs *CanonicalRegisterSet) SetInteger(i int, v uint64) { rs.integer[i] = v }

func (rs CanonicalRegisterSet) FloatingPoint(i int) Vector { return rs.floatingPoint[i] }

func (rs *CanonicalRegisterSet) SetFloatingPoint(i int, v Vector) { rs.floatingPoint[i] = v }

func (rs CanonicalRegisterSet) State(i int) uint64 { return rs.state[i] }

func (rs *CanonicalRegisterSet) SetState(i int, v uint64) { rs.state[i] = v }

// PC returns the instruction pointer.
func (rs CanonicalRegisterSet) PC() uint64 {
	return rs.state[rs.Layout().PCIndex]
}

// SetPC sets the instruction pointer.
func (rs *CanonicalRegisterSet) SetPC(pc uint64) {
	rs.state[rs.Layout().PCIndex] = pc
}

// SP returns the stack pointer.
func (rs CanonicalRegisterSet) SP() uint64 {
	return rs.integer[rs.Layout().SPIndex]
}

// Flags returns the flags (or processor state) register, zero if the ISA
// has none.
func (rs CanonicalRegisterSet) Flags() uint64 {
	l := rs.Layout()
	if l.FlagsIndex < 0 {
		return 0
	}
	return rs.state[l.FlagsIndex]
}

// SingleStep reports whether the hardware trace flag is set.
func (rs CanonicalRegisterSet) SingleStep() bool {
	l := rs.Layout()
	if l.SingleStepFlag == 0 {
		return false
	}
	return rs.state[l.FlagsIndex]&l.SingleStepFlag != 0
}

// SetSingleStep sets or clears the hardware trace flag. It returns false if
// the ISA has no trace flag in its flags register.
func (rs *CanonicalRegisterSet) SetSingleStep(on bool) bool {
	l := rs.Layout()
	if l.SingleStepFlag == 0 {
		return false
	}
	if on {
		rs.state[l.FlagsIndex] |= l.SingleStepFlag
	} else {
		rs.state[l.FlagsIndex] &^= l.SingleStepFlag
	}
	return true
}

// Size returns the number of bytes needed to encode the registers in which
// for isa.
func Size(isa ISA, which Subset) int {
	l := LayoutFor(isa)
	n := 0
	if which&Integer != 0 {
		n += len(l.Integer) * l.IntegerWidth
	}
	if which&FloatingPoint != 0 {
		n += len(l.FloatingPoint) * l.FloatingPointWidth
	}
	if which&State != 0 {
		n += len(l.State) * l.StateWidth
	}
	return n
}

// Encode writes the registers selected by which into buf, in the byte order
// of the ISA. Groups are written integer first, then floating point, then
// state. A buffer shorter than Size(isa, which) is rejected with
// ErrSizeMismatch and left untouched.
func (rs CanonicalRegisterSet) Encode(which Subset, buf []byte) error {
	l := rs.Layout()
	if len(buf) < Size(rs.isa, which) {
		return fmt.Errorf("%w: %s %s needs %d bytes, got %d", ErrSizeMismatch, rs.isa, which, Size(rs.isa, which), len(buf))
	}
	off := 0
	if which&Integer != 0 {
		for i := range l.Integer {
			putWord(l.ByteOrder, buf[off:], l.IntegerWidth, rs.integer[i])
			off += l.IntegerWidth
		}
	}
	if which&FloatingPoint != 0 {
		for i := range l.FloatingPoint {
			putVector(l.ByteOrder, buf[off:], l.FloatingPointWidth, rs.floatingPoint[i])
			off += l.FloatingPointWidth
		}
	}
	if which&State != 0 {
		for i := range l.State {
			putWord(l.ByteOrder, buf[off:], l.StateWidth, rs.state[i])
			off += l.StateWidth
		}
	}
	return nil
}

// Decode is the inverse of Encode.
func (rs *CanonicalRegisterSet) Decode(which Subset, buf []byte) error {
	l := rs.Layout()
	if len(buf) < Size(rs.isa, which) {
		return fmt.Errorf("%w: %s %s needs %d bytes, got %d", ErrSizeMismatch, rs.isa, which, Size(rs.isa, which), len(buf))
	}
	off := 0
	if which&Integer != 0 {
		for i := range l.Integer {
			rs.integer[i] = getWord(l.ByteOrder, buf[off:], l.IntegerWidth)
			off += l.IntegerWidth
		}
	}
	if which&FloatingPoint != 0 {
		for i := range l.FloatingPoint {
			rs.floatingPoint[i] = getVector(l.ByteOrder, buf[off:], l.FloatingPointWidth)
			off += l.FloatingPointWidth
		}
	}
	if which&State != 0 {
		for i := range l.State {
			rs.state[i] = getWord(l.ByteOrder, buf[off:], l.StateWidth)
			off += l.StateWidth
		}
	}
	return nil
}

// Merge copies the groups selected by which from src into rs.
func (rs *CanonicalRegisterSet) Merge(src CanonicalRegisterSet, which Subset) {
	if which&Integer != 0 {
		rs.integer = src.integer
	}
	if which&FloatingPoint != 0 {
		rs.floatingPoint = src.floatingPoint
	}
	if which&State != 0 {
		rs.state = src.state
	}
}

func putWord(order binary.ByteOrder, buf []byte, width int, v uint64) {
	switch width {
	case 4:
		order.PutUint32(buf, uint32(v))
	default:
		order.PutUint64(buf, v)
	}
}

func getWord(order binary.ByteOrder, buf []byte, width int) uint64 {
	switch width {
	case 4:
		return uint64(order.Uint32(buf))
	default:
		return order.Uint64(buf)
	}
}

func putVector(order binary.ByteOrder, buf []byte, width int, v Vector) {
	if width == 8 {
		order.PutUint64(buf, v[0])
		return
	}
	if order == binary.BigEndian {
		order.PutUint64(buf, v[1])
		order.PutUint64(buf[8:], v[0])
		return
	}
	order.PutUint64(buf, v[0])
	order.PutUint64(buf[8:], v[1])
}

func getVector(order binary.ByteOrder, buf []byte, width int) Vector {
	if width == 8 {
		return Vector{order.Uint64(buf), 0}
	}
	if order == binary.BigEndian {
		return Vector{order.Uint64(buf[8:]), order.Uint64(buf)}
	}
	return Vector{order.Uint64(buf), order.Uint64(buf[8:])}
}

// Native is implemented by OS register structures. Each one holds part of
// a canonical register set, Subsets reports which groups it contributes to.
// Decanonicalize only overwrites fields that Canonicalize reads, everything
// else in the OS structure is preserved.
type Native interface {
	Subsets() Subset
	Canonicalize(rs *CanonicalRegisterSet, which Subset)
	Decanonicalize(rs CanonicalRegisterSet, which Subset)
}
