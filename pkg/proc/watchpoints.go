package proc

import (
	"fmt"
	"sort"

	"github.com/go-delve/tele/pkg/logflags"
)

// WatchKind says which accesses trigger a watchpoint.
type WatchKind uint8

const (
	WatchRead WatchKind = 1 << iota
	WatchWrite
)

func (k WatchKind) String() string {
	switch k {
	case WatchRead:
		return "r"
	case WatchWrite:
		return "w"
	case WatchRead | WatchWrite:
		return "rw"
	}
	return fmt.Sprintf("watchkind(%d)", uint8(k))
}

// ParseWatchKind parses the r, w and rw forms returned by String.
func ParseWatchKind(s string) (WatchKind, error) {
	switch s {
	case "r":
		return WatchRead, nil
	case "w", "":
		return WatchWrite, nil
	case "rw", "wr":
		return WatchRead | WatchWrite, nil
	}
	return 0, fmt.Errorf("invalid watchpoint kind %q", s)
}

// Watchpoint is a hardware watchpoint set on every thread of the target.
type Watchpoint struct {
	Addr uint64
	Size int
	Kind WatchKind
}

func (t *Target) watchpointSetter() (WatchpointSetter, bool) {
	ws, ok := t.proc.(WatchpointSetter)
	if !ok || ws.MaxWatchpoints() <= 0 {
		return nil, false
	}
	return ws, true
}

// MaxWatchpoints returns how many watchpoints the backend supports, zero
// if it has none.
func (t *Target) MaxWatchpoints() int {
	if ws, ok := t.watchpointSetter(); ok {
		return ws.MaxWatchpoints()
	}
	return 0
}

// Watchpoints returns the active watchpoints ordered by address.
func (t *Target) Watchpoints() []Watchpoint {
	r := make([]Watchpoint, 0, len(t.watchpoints))
	for _, wp := range t.watchpoints {
		r = append(r, wp)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Addr < r[j].Addr })
	return r
}

// ActivateWatchpoint arms a watchpoint of size bytes at addr. Size must be
// 1, 2, 4 or 8 and addr must be aligned to it.
func (t *Target) ActivateWatchpoint(addr uint64, size int, kind WatchKind) error {
	const op = "activate watchpoint"
	if err := t.checkState(op, StateStopped); err != nil {
		return err
	}
	ws, ok := t.watchpointSetter()
	if !ok {
		return ErrWatchpointsUnsupported
	}
	switch size {
	case 1, 2, 4, 8:
	default:
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("invalid size %d", size)}
	}
	if addr%uint64(size) != 0 {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("address %#x not aligned to %d", addr, size)}
	}
	if kind == 0 || kind&^(WatchRead|WatchWrite) != 0 {
		return &ProtocolError{Op: op, Reason: "invalid kind " + kind.String()}
	}
	if _, exists := t.watchpoints[addr]; exists {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("watchpoint already set at %#x", addr)}
	}
	if len(t.watchpoints) >= ws.MaxWatchpoints() {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("all %d watchpoints in use", ws.MaxWatchpoints())}
	}
	if err := ws.SetWatchpoint(addr, size, kind); err != nil {
		return t.exitedFrom(err)
	}
	t.watchpoints[addr] = Watchpoint{Addr: addr, Size: size, Kind: kind}
	if logflags.Tele() {
		t.log.Debugf("watchpoint %s at %#x (%d bytes)", kind, addr, size)
	}
	return nil
}

// DeactivateWatchpoint removes the watchpoint at addr.
func (t *Target) DeactivateWatchpoint(addr uint64) error {
	const op = "deactivate watchpoint"
	if err := t.checkState(op, StateStopped, StateRunning); err != nil {
		return err
	}
	if _, ok := t.watchpoints[addr]; !ok {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("no watchpoint at %#x", addr)}
	}
	ws, ok := t.watchpointSetter()
	if !ok {
		return ErrWatchpointsUnsupported
	}
	delete(t.watchpoints, addr)
	return t.exitedFrom(ws.ClearWatchpoint(addr))
}
