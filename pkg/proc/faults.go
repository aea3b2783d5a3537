package proc

import (
	"fmt"
	"sort"
	"strings"
)

// Fault is a hardware fault the controller can intercept.
type Fault uint8

const (
	FaultNone Fault = iota
	FaultIllegal
	FaultPrivileged
	FaultBreakpoint
	FaultTrace
	FaultStack
	FaultWatchpoint
	FaultAccess
	FaultFloatingPoint
	FaultBounds
	FaultAlignment
)

var faultNames = map[Fault]string{
	FaultNone:          "none",
	FaultIllegal:       "illegal",
	FaultPrivileged:    "privileged",
	FaultBreakpoint:    "breakpoint",
	FaultTrace:         "trace",
	FaultStack:         "stack",
	FaultWatchpoint:    "watchpoint",
	FaultAccess:        "access",
	FaultFloatingPoint: "floating-point",
	FaultBounds:        "bounds",
	FaultAlignment:     "alignment",
}

func (f Fault) String() string {
	if n, ok := faultNames[f]; ok {
		return n
	}
	return fmt.Sprintf("fault(%d)", uint8(f))
}

// ParseFault converts a fault name, as printed by Fault.String, back into
// a Fault.
func ParseFault(name string) (Fault, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range faultNames {
		if n == name && f != FaultNone {
			return f, nil
		}
	}
	return FaultNone, fmt.Errorf("unknown fault %q", name)
}

// FaultSet is a set of faults.
type FaultSet uint32

// NewFaultSet returns a set containing faults.
func NewFaultSet(faults ...Fault) FaultSet {
	var s FaultSet
	for _, f := range faults {
		s = s.Add(f)
	}
	return s
}

func (s FaultSet) Add(f Fault) FaultSet      { return s | 1<<f }
func (s FaultSet) Remove(f Fault) FaultSet   { return s &^ (1 << f) }
func (s FaultSet) Contains(f Fault) bool     { return s&(1<<f) != 0 }
func (s FaultSet) Union(o FaultSet) FaultSet { return s | o }
func (s FaultSet) Empty() bool               { return s == 0 }

// Faults returns the members of s in ascending order.
func (s FaultSet) Faults() []Fault {
	var r []Fault
	for f := FaultIllegal; f <= FaultAlignment; f++ {
		if s.Contains(f) {
			r = append(r, f)
		}
	}
	return r
}

func (s FaultSet) String() string {
	var names []string
	for _, f := range s.Faults() {
		names = append(names, f.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// ParseFaultSet parses a list of fault names.
func ParseFaultSet(names []string) (FaultSet, error) {
	var s FaultSet
	for _, n := range names {
		f, err := ParseFault(n)
		if err != nil {
			return 0, err
		}
		s = s.Add(f)
	}
	return s, nil
}

// DefaultFaults is the set of faults intercepted when nothing else is
// configured. Floating point, bounds, alignment and access faults are
// delivered to the target so that its own handlers run.
var DefaultFaults = NewFaultSet(FaultIllegal, FaultPrivileged, FaultBreakpoint, FaultTrace, FaultStack, FaultWatchpoint)

// SignalSet is a set of signal numbers.
type SignalSet map[int]bool

// NewSignalSet returns a set containing sigs.
func NewSignalSet(sigs ...int) SignalSet {
	s := make(SignalSet, len(sigs))
	for _, sig := range sigs {
		s[sig] = true
	}
	return s
}

func (s SignalSet) Contains(sig int) bool { return s[sig] }

// Signals returns the members of s in ascending order.
func (s SignalSet) Signals() []int {
	r := make([]int, 0, len(s))
	for sig, ok := range s {
		if ok {
			r = append(r, sig)
		}
	}
	sort.Ints(r)
	return r
}

// Interception is what a resumed target is armed with: stops for faults
// and signals outside of these sets are not reported, the fault or signal
// is delivered to the target instead.
type Interception struct {
	Faults   FaultSet
	Signals  SignalSet
	Syscalls bool // stop at every system call entry and exit
}

// DefaultInterception intercepts DefaultFaults and nothing else.
func DefaultInterception() Interception {
	return Interception{Faults: DefaultFaults, Signals: NewSignalSet()}
}
