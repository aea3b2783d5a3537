package proc

import (
	"errors"
	"runtime"
	"sort"
	"time"

	"go.uber.org/atomic"

	"github.com/go-delve/tele/pkg/logflags"
)

// TargetConfig contains the configuration for a new Target object.
type TargetConfig struct {
	Interception Interception // what Resume arms the target with

	BootHeapCandidates      int // system calls inspected by LocateBootHeapMapping
	BootHeapMaxInstructions int // instructions stepped by LocateBootHeapMapping

	PageCacheSize int // pages cached while the target is stopped, 0 disables the cache

	// GOOS is the operating system of the target, used to pick the system
	// call convention. Defaults to runtime.GOOS.
	GOOS string
}

type LaunchFlags uint8

const (
	LaunchForeground LaunchFlags = 1 << iota
	LaunchDisableASLR
)

const (
	defaultBootHeapCandidates      = 16
	defaultBootHeapMaxInstructions = 1 << 20
)

// DefaultTargetConfig returns the configuration used when nothing is
// configured.
func DefaultTargetConfig() TargetConfig {
	return TargetConfig{
		Interception:            DefaultInterception(),
		BootHeapCandidates:      defaultBootHeapCandidates,
		BootHeapMaxInstructions: defaultBootHeapMaxInstructions,
		PageCacheSize:           64,
		GOOS:                    runtime.GOOS,
	}
}

// Target represents a process under the control of this package.
//
// Target is not safe for concurrent use, the caller serializes every
// operation. The only blocking operations are WaitForStop and the steps.
type Target struct {
	proc ProcessInternal
	arch *Arch
	cfg  TargetConfig

	state    ProcessState
	lastStop StopReason
	exitCode int

	threads map[int]*Thread
	order   []*Thread // ascending thread ID

	// epoch is incremented every time the thread list is refreshed,
	// started and died are the differences found by the last refresh.
	epoch   int
	started []int
	died    []int

	stepping *atomic.Bool

	pageSize    int
	cache       *pageCache
	watchpoints map[uint64]Watchpoint

	log logflags.Logger
}

// NewTarget takes control of a process whose backend already attached to
// it (or created it) and left it stopped.
func NewTarget(p ProcessInternal, cfg TargetConfig) (*Target, error) {
	arch, err := ArchFor(p.ISA())
	if err != nil {
		return nil, err
	}
	if cfg.BootHeapCandidates <= 0 {
		cfg.BootHeapCandidates = defaultBootHeapCandidates
	}
	if cfg.BootHeapMaxInstructions <= 0 {
		cfg.BootHeapMaxInstructions = defaultBootHeapMaxInstructions
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.Interception.Signals == nil {
		cfg.Interception.Signals = NewSignalSet()
	}

	t := &Target{
		proc:        p,
		arch:        arch,
		cfg:         cfg,
		state:       StateUnattached,
		threads:     make(map[int]*Thread),
		stepping:    atomic.NewBool(false),
		watchpoints: make(map[uint64]Watchpoint),
		log:         logflags.TeleLogger().WithField("pid", p.Pid()),
	}
	t.pageSize = p.PageSize()
	if t.pageSize <= 0 {
		t.pageSize = PageSize()
	}
	t.cache = newPageCache(p.Memory(), cfg.PageCacheSize, t.pageSize)

	t.state = StateAttaching
	if err := t.refreshThreads(); err != nil {
		return nil, err
	}
	t.state = StateStopped
	for _, th := range t.order {
		th.runState = RunStateStopped
	}
	if logflags.Tele() {
		t.log.Debugf("attached, %d threads", len(t.order))
	}
	return t, nil
}

// Pid returns the process ID of the target.
func (t *Target) Pid() int { return t.proc.Pid() }

// Arch returns the architecture of the target.
func (t *Target) Arch() *Arch { return t.arch }

// State returns the lifecycle state of the target.
func (t *Target) State() ProcessState { return t.state }

// Exited returns true if the target process terminated.
func (t *Target) Exited() bool { return t.state == StateExited }

// LastStop returns the reason of the last stop.
func (t *Target) LastStop() StopReason { return t.lastStop }

// PageSize returns the page size of the target.
func (t *Target) PageSize() int { return t.pageSize }

// Config returns the configuration the target was created with.
func (t *Target) Config() TargetConfig { return t.cfg }

// Epoch is incremented every time the thread list is refreshed.
func (t *Target) Epoch() int { return t.epoch }

// ThreadsStarted returns the IDs of the threads found by the last refresh
// that were not known before.
func (t *Target) ThreadsStarted() []int { return t.started }

// ThreadsDied returns the IDs of the threads that disappeared during the
// last refresh.
func (t *Target) ThreadsDied() []int { return t.died }

func (t *Target) checkState(op string, want ...ProcessState) error {
	for _, s := range want {
		if t.state == s {
			return nil
		}
	}
	switch t.state {
	case StateExited:
		return ErrProcessExited{Pid: t.Pid(), Status: t.exitCode}
	case StateDetached:
		return ProcessDetachedError{}
	}
	return &ProtocolError{Op: op, Reason: "target is " + t.state.String()}
}

func (t *Target) setExited(code int) {
	t.state = StateExited
	t.exitCode = code
	t.lastStop = StopReason{Kind: StopExited, ExitCode: code}
	t.cache.flush()
	for _, th := range t.order {
		th.runState = RunStateUnknown
	}
	if logflags.Tele() {
		t.log.Debugf("exited with status %d", code)
	}
}

// exitedFrom moves the target to StateExited if err says the process is
// gone and returns err unchanged.
func (t *Target) exitedFrom(err error) error {
	var pe ErrProcessExited
	if errors.As(err, &pe) {
		t.setExited(pe.Status)
	}
	return err
}

// Resume lets the target run. Every thread whose suspend count is zero
// runs, the faults, signals and system calls configured in the
// Interception stop it again.
func (t *Target) Resume() error {
	if err := t.checkState("resume", StateStopped); err != nil {
		return err
	}
	t.cache.flush()
	for _, th := range t.order {
		th.runState = RunStateUnknown
	}
	if logflags.Tele() {
		t.log.Debugf("resume, faults %s", t.cfg.Interception.Faults)
	}
	if err := t.proc.Resume(t.cfg.Interception); err != nil {
		return t.exitedFrom(err)
	}
	t.state = StateRunning
	return nil
}

// WaitForStop blocks until the target stops. A zero timeout blocks
// indefinitely, otherwise ErrWaitTimeout is returned when the timeout
// elapses and the target keeps running.
// If the target exits a StopReason of kind StopExited is returned.
func (t *Target) WaitForStop(timeout time.Duration) (StopReason, error) {
	if err := t.checkState("wait", StateRunning); err != nil {
		return StopReason{}, err
	}
	sr, err := t.proc.Wait(timeout)
	if err != nil {
		var pe ErrProcessExited
		if errors.As(err, &pe) {
			t.setExited(pe.Status)
			return t.lastStop, nil
		}
		return StopReason{}, err
	}
	if sr.Kind == StopExited {
		t.setExited(sr.ExitCode)
		return t.lastStop, nil
	}
	t.state = StateStopped
	if err := t.refreshThreads(); err != nil {
		return sr, t.exitedFrom(err)
	}
	if th, ok := t.threads[sr.ThreadID]; ok && sr.Kind == StopFaulted {
		switch sr.Fault {
		case FaultBreakpoint, FaultTrace:
			th.runState = RunStateAtBreakpoint
		case FaultWatchpoint:
			th.runState = RunStateAtWatchpoint
		}
	}
	t.lastStop = sr
	if logflags.Tele() {
		t.log.Debugf("stopped: %s", sr)
	}
	return sr, nil
}

// Suspend stops a running target, the stop is reported by the next
// WaitForStop as StopRequested. It does nothing if the target is already
// stopped.
func (t *Target) Suspend() error {
	if err := t.checkState("suspend", StateStopped, StateRunning, StateAttaching); err != nil {
		return err
	}
	if t.state != StateRunning {
		return nil
	}
	return t.exitedFrom(t.proc.RequestStop())
}

// Kill terminates the target. Killing a target that already exited does
// nothing.
func (t *Target) Kill() error {
	if t.state == StateExited {
		return nil
	}
	if err := t.checkState("kill", StateStopped, StateRunning, StateAttaching); err != nil {
		return err
	}
	err := t.proc.Kill()
	var pe ErrProcessExited
	switch {
	case err == nil:
		t.setExited(0)
	case errors.As(err, &pe):
		t.setExited(pe.Status)
	default:
		return err
	}
	return nil
}

// Detach releases the target, which continues running undisturbed.
func (t *Target) Detach() error {
	if err := t.checkState("detach", StateStopped, StateRunning); err != nil {
		return err
	}
	for addr := range t.watchpoints {
		t.DeactivateWatchpoint(addr)
	}
	if err := t.proc.Detach(false); err != nil {
		return t.exitedFrom(err)
	}
	t.cache.flush()
	t.state = StateDetached
	if logflags.Tele() {
		t.log.Debug("detached")
	}
	return nil
}

// ReadMemory reads len(buf) bytes at addr, the count may be short.
func (t *Target) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := t.checkState("read memory", StateStopped, StateRunning); err != nil {
		return 0, err
	}
	if t.state == StateStopped && t.cache != nil {
		return t.cache.ReadMemory(buf, addr)
	}
	return t.proc.Memory().ReadMemory(buf, addr)
}

// WriteMemory writes data at addr. A short count means the write stopped
// at that byte: everything before it was written, nothing after it was.
func (t *Target) WriteMemory(addr uint64, data []byte) (int, error) {
	if err := t.checkState("write memory", StateStopped, StateRunning); err != nil {
		return 0, err
	}
	t.cache.invalidate(addr, len(data))
	n, err := t.proc.Memory().WriteMemory(addr, data)
	if err != nil && logflags.Memory() {
		logflags.MemoryLogger().Debugf("write %#x: %d of %d bytes: %v", addr, n, len(data), err)
	}
	return n, err
}

// Threads returns the threads of the target ordered by ID.
func (t *Target) Threads() []*Thread {
	r := make([]*Thread, len(t.order))
	copy(r, t.order)
	return r
}

// FindThread returns the thread with the given ID.
func (t *Target) FindThread(id int) (*Thread, bool) {
	th, ok := t.threads[id]
	return th, ok
}

// RefreshThreads enumerates the threads of the target again.
func (t *Target) RefreshThreads() error {
	if err := t.checkState("refresh threads", StateStopped); err != nil {
		return err
	}
	return t.exitedFrom(t.refreshThreads())
}

func (t *Target) refreshThreads() error {
	list, err := t.proc.ThreadList()
	if err != nil {
		return err
	}
	seen := make(map[int]bool, len(list))
	t.started = nil
	t.died = nil
	for _, thi := range list {
		id := thi.ThreadID()
		seen[id] = true
		if th, ok := t.threads[id]; ok {
			th.th = thi
			continue
		}
		t.threads[id] = &Thread{th: thi, target: t, id: id, managedID: -1}
		t.started = append(t.started, id)
	}
	for id := range t.threads {
		if !seen[id] {
			t.died = append(t.died, id)
			delete(t.threads, id)
		}
	}
	sort.Ints(t.started)
	sort.Ints(t.died)

	t.order = t.order[:0]
	for _, th := range t.threads {
		t.order = append(t.order, th)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i].id < t.order[j].id })

	for _, th := range t.order {
		th.refresh()
	}
	t.epoch++
	if logflags.Tele() && (len(t.started) > 0 || len(t.died) > 0) {
		t.log.Debugf("epoch %d: threads started %v died %v", t.epoch, t.started, t.died)
	}
	return nil
}
