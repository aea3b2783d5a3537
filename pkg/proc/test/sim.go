package test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/regset"
)

// ErrBadAddress is returned by SimMemory for addresses that are not mapped
// or that were marked as failing.
var ErrBadAddress = errors.New("bad address")

// SimMemory is a sparse simulated address space. It implements
// proc.WordTransport and proc.PageMapper and counts every transfer.
type SimMemory struct {
	pageSize int
	wordSize int
	order    binary.ByteOrder

	pages   map[uint64][]byte
	failing map[uint64]bool

	Peeks, Pokes int
	Mapped       []int // sizes passed to MapPages
	Released     []int // sizes passed to PageMapping.Release
}

// NewSimMemory returns an empty address space.
func NewSimMemory(pageSize, wordSize int, order binary.ByteOrder) *SimMemory {
	return &SimMemory{
		pageSize: pageSize,
		wordSize: wordSize,
		order:    order,
		pages:    make(map[uint64][]byte),
		failing:  make(map[uint64]bool),
	}
}

func (m *SimMemory) pageBase(addr uint64) uint64 {
	return addr &^ uint64(m.pageSize-1)
}

// Map makes [addr, addr+size) accessible, filled with zeroes.
func (m *SimMemory) Map(addr uint64, size int) {
	for base := m.pageBase(addr); base < addr+uint64(size); base += uint64(m.pageSize) {
		if _, ok := m.pages[base]; !ok {
			m.pages[base] = make([]byte, m.pageSize)
		}
	}
}

// Unmap removes the pages overlapping [addr, addr+size).
func (m *SimMemory) Unmap(addr uint64, size int) {
	for base := m.pageBase(addr); base < addr+uint64(size); base += uint64(m.pageSize) {
		delete(m.pages, base)
	}
}

// Fail makes every transfer touching the word that contains addr fail.
func (m *SimMemory) Fail(addr uint64) {
	m.failing[addr&^uint64(m.wordSize-1)] = true
}

// Load stores data at addr, mapping pages as needed. It is not counted as
// a transfer.
func (m *SimMemory) Load(addr uint64, data []byte) {
	m.Map(addr, len(data))
	for i, b := range data {
		a := addr + uint64(i)
		m.pages[m.pageBase(a)][a-m.pageBase(a)] = b
	}
}

// Bytes returns a copy of n bytes at addr, false if any of them is not
// mapped.
func (m *SimMemory) Bytes(addr uint64, n int) ([]byte, bool) {
	r := make([]byte, n)
	for i := range r {
		a := addr + uint64(i)
		p, ok := m.pages[m.pageBase(a)]
		if !ok {
			return nil, false
		}
		r[i] = p[a-m.pageBase(a)]
	}
	return r, true
}

func (m *SimMemory) accessible(addr uint64, n int) bool {
	for a := addr; a < addr+uint64(n); a++ {
		if _, ok := m.pages[m.pageBase(a)]; !ok {
			return false
		}
		if m.failing[a&^uint64(m.wordSize-1)] {
			return false
		}
	}
	return true
}

func (m *SimMemory) PeekWord(addr uint64) (uint64, error) {
	m.Peeks++
	if !m.accessible(addr, m.wordSize) {
		return 0, ErrBadAddress
	}
	buf, _ := m.Bytes(addr, m.wordSize)
	if m.wordSize == 4 {
		return uint64(m.order.Uint32(buf)), nil
	}
	return m.order.Uint64(buf), nil
}

func (m *SimMemory) PokeWord(addr uint64, w uint64) error {
	m.Pokes++
	if !m.accessible(addr, m.wordSize) {
		return ErrBadAddress
	}
	buf := make([]byte, m.wordSize)
	if m.wordSize == 4 {
		m.order.PutUint32(buf, uint32(w))
	} else {
		m.order.PutUint64(buf, w)
	}
	m.Load(addr, buf)
	return nil
}

type simMapping struct {
	m   *SimMemory
	buf []byte
}

func (sm *simMapping) Bytes() []byte { return sm.buf }

func (sm *simMapping) Release(size int) error {
	sm.m.Released = append(sm.m.Released, size)
	if size != len(sm.buf) {
		return fmt.Errorf("released %d bytes of a %d byte mapping", size, len(sm.buf))
	}
	return nil
}

func (m *SimMemory) MapPages(base uint64, size int) (proc.PageMapping, error) {
	if !m.accessible(base, size) {
		return nil, ErrBadAddress
	}
	m.Mapped = append(m.Mapped, size)
	buf, _ := m.Bytes(base, size)
	return &simMapping{m: m, buf: buf}, nil
}

func (m *SimMemory) WriteRange(addr uint64, data []byte) (int, error) {
	for i := range data {
		if !m.accessible(addr+uint64(i), 1) {
			return i, ErrBadAddress
		}
		m.Load(addr+uint64(i), data[i:i+1])
	}
	return len(data), nil
}

// SimThread is a thread of a SimProcess.
type SimThread struct {
	p     *SimProcess
	id    int
	regs  regset.CanonicalRegisterSet
	State proc.RunState

	suspend    int
	singleStep bool
	dead       bool

	StackBase, StackSize uint64

	// FailSuspend and FailResume are returned by the next Suspend and
	// Resume calls.
	FailSuspend, FailResume error
	// IgnoreSuspend makes Suspend succeed without changing the count.
	IgnoreSuspend bool
}

func (th *SimThread) gone(op string) error {
	if th.p.exited {
		return proc.ErrProcessExited{Pid: th.p.pid, Status: th.p.exitCode}
	}
	if th.dead {
		return proc.NewOSCallError(op, th.p.pid, th.id, proc.ErrThreadNotFound)
	}
	return nil
}

func (th *SimThread) ThreadID() int { return th.id }

func (th *SimThread) RunState() (proc.RunState, error) {
	if err := th.gone("thread state"); err != nil {
		return proc.RunStateUnknown, err
	}
	if th.p.running && th.suspend == 0 {
		return proc.RunStateRunning, nil
	}
	return th.State, nil
}

func (th *SimThread) Registers(which regset.Subset) (regset.CanonicalRegisterSet, error) {
	if err := th.gone("get registers"); err != nil {
		return regset.CanonicalRegisterSet{}, err
	}
	th.p.record("regs %d", th.id)
	r := regset.New(th.p.isa)
	r.Merge(th.regs, which)
	return r, nil
}

func (th *SimThread) WriteRegisters(rs regset.CanonicalRegisterSet, which regset.Subset) error {
	if err := th.gone("set registers"); err != nil {
		return err
	}
	th.p.record("setregs %d", th.id)
	th.regs.Merge(rs, which)
	return nil
}

func (th *SimThread) SetSingleStep(on bool) error {
	if err := th.gone("set single step"); err != nil {
		return err
	}
	th.p.record("singlestep %d %v", th.id, on)
	th.singleStep = on
	th.regs.SetSingleStep(on)
	return nil
}

func (th *SimThread) SuspendCount() (int, error) {
	if err := th.gone("suspend count"); err != nil {
		return 0, err
	}
	th.p.record("count %d", th.id)
	return th.suspend, nil
}

func (th *SimThread) Suspend() error {
	if err := th.gone("suspend"); err != nil {
		return err
	}
	th.p.record("suspend %d", th.id)
	if err := th.FailSuspend; err != nil {
		th.FailSuspend = nil
		return proc.NewOSCallError("suspend", th.p.pid, th.id, err)
	}
	if !th.IgnoreSuspend {
		th.suspend++
	}
	return nil
}

func (th *SimThread) Resume() error {
	if err := th.gone("resume"); err != nil {
		return err
	}
	th.p.record("resume %d", th.id)
	if err := th.FailResume; err != nil {
		th.FailResume = nil
		return proc.NewOSCallError("resume", th.p.pid, th.id, err)
	}
	if th.suspend == 0 {
		return proc.NewOSCallError("resume", th.p.pid, th.id, errors.New("thread is not suspended"))
	}
	th.suspend--
	return nil
}

func (th *SimThread) StackBounds() (uint64, uint64, error) {
	if err := th.gone("stack bounds"); err != nil {
		return 0, 0, err
	}
	return th.StackBase, th.StackSize, nil
}

// Regs returns the registers of the thread without recording a call.
func (th *SimThread) Regs() regset.CanonicalRegisterSet { return th.regs }

// SetRegs replaces the registers of the thread without recording a call.
func (th *SimThread) SetRegs(rs regset.CanonicalRegisterSet) { th.regs = rs }

// SuspendDepth returns the suspend count without recording a call.
func (th *SimThread) SuspendDepth() int { return th.suspend }

// SetSuspendDepth sets the suspend count without recording a call.
func (th *SimThread) SetSuspendDepth(n int) { th.suspend = n }

// Die removes the thread from the process.
func (th *SimThread) Die() { th.dead = true }

// SimEvent produces the stop reported by the next Wait.
type SimEvent func(p *SimProcess) proc.StopReason

// SimProcess is an in-memory implementation of proc.ProcessInternal. It
// executes instructions by decoding them and moving the instruction
// pointer, system call instructions are handed to SyscallHook.
type SimProcess struct {
	pid  int
	isa  regset.ISA
	arch *proc.Arch
	abi  *proc.SyscallABI

	Mem    *SimMemory
	memory proc.MemoryReadWriter

	threads  map[int]*SimThread
	events   []SimEvent
	running  bool
	exited   bool
	exitCode int
	detached bool
	pending  *proc.StopReason

	Interception proc.Interception

	// SyscallHook is called for every system call instruction executed, its
	// result is stored in the return register.
	SyscallHook func(th *SimThread, nr uint64, args [6]uint64) uint64
	// OnStep is called after every instruction executed.
	OnStep func(th *SimThread)
	// OnContinueForStep is called when a single thread is continued.
	OnContinueForStep func(th *SimThread)

	// Steps counts the instructions executed.
	Steps int
	// MaxRunnable is the largest number of threads that were not suspended
	// while a single thread step was running.
	MaxRunnable int

	// Watchpoints is the number of hardware watchpoints, zero disables
	// them.
	Watchpoints int
	Watched     map[uint64]proc.Watchpoint

	// Calls records every backend call.
	Calls []string
}

// NewSimProcess returns a stopped process with no threads, its memory is
// accessed one word at a time.
func NewSimProcess(pid int, isa regset.ISA, goos string) *SimProcess {
	arch, err := proc.ArchFor(isa)
	if err != nil {
		panic(err)
	}
	abi, _ := proc.SyscallABIFor(goos, isa)
	p := &SimProcess{
		pid:     pid,
		isa:     isa,
		arch:    arch,
		abi:     abi,
		Mem:     NewSimMemory(4096, arch.PtrSize(), arch.ByteOrder()),
		threads: make(map[int]*SimThread),
		Watched: make(map[uint64]proc.Watchpoint),
	}
	p.memory = proc.NewWordCopier(p.Mem, arch.PtrSize(), arch.ByteOrder())
	return p
}

// UsePageCopy switches the process to the page copy memory strategy.
func (p *SimProcess) UsePageCopy() {
	p.memory = proc.NewPageCopier(p.Mem, p.Mem.pageSize)
}

func (p *SimProcess) record(format string, args ...interface{}) {
	p.Calls = append(p.Calls, fmt.Sprintf(format, args...))
}

// AddThread adds a stopped thread.
func (p *SimProcess) AddThread(id int) *SimThread {
	th := &SimThread{p: p, id: id, regs: regset.New(p.isa), State: proc.RunStateStopped}
	p.threads[id] = th
	return th
}

// Thread returns the thread with the given ID.
func (p *SimProcess) Thread(id int) *SimThread { return p.threads[id] }

// QueueStop queues a stop for Wait.
func (p *SimProcess) QueueStop(sr proc.StopReason) {
	p.QueueEvent(func(*SimProcess) proc.StopReason { return sr })
}

// QueueEvent queues a function producing the stop reported by Wait.
func (p *SimProcess) QueueEvent(ev SimEvent) {
	p.events = append(p.events, ev)
}

// Exit terminates the process.
func (p *SimProcess) Exit(code int) {
	p.exited = true
	p.exitCode = code
	p.running = false
}

// Running reports whether the process was resumed and not waited for.
func (p *SimProcess) Running() bool { return p.running }

// Detached reports whether Detach was called.
func (p *SimProcess) Detached() bool { return p.detached }

func (p *SimProcess) exitedErr() error {
	if p.exited {
		return proc.ErrProcessExited{Pid: p.pid, Status: p.exitCode}
	}
	return nil
}

func (p *SimProcess) Pid() int                      { return p.pid }
func (p *SimProcess) ISA() regset.ISA               { return p.isa }
func (p *SimProcess) PageSize() int                 { return p.Mem.pageSize }
func (p *SimProcess) Memory() proc.MemoryReadWriter { return p.memory }

func (p *SimProcess) ThreadList() ([]proc.ThreadInternal, error) {
	if err := p.exitedErr(); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(p.threads))
	for id, th := range p.threads {
		if !th.dead {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	r := make([]proc.ThreadInternal, len(ids))
	for i, id := range ids {
		r[i] = p.threads[id]
	}
	return r, nil
}

func (p *SimProcess) Resume(in proc.Interception) error {
	if err := p.exitedErr(); err != nil {
		return err
	}
	p.record("resume")
	p.Interception = in
	p.running = true
	return nil
}

func (p *SimProcess) Wait(timeout time.Duration) (proc.StopReason, error) {
	if err := p.exitedErr(); err != nil {
		return proc.StopReason{}, err
	}
	p.record("wait")
	if len(p.events) == 0 {
		if timeout > 0 {
			return proc.StopReason{}, proc.ErrWaitTimeout
		}
		return proc.StopReason{}, errors.New("wait would block forever")
	}
	ev := p.events[0]
	p.events = p.events[1:]
	sr := ev(p)
	p.running = false
	if sr.Kind == proc.StopExited {
		p.Exit(sr.ExitCode)
	}
	return sr, nil
}

func (p *SimProcess) RequestStop() error {
	if err := p.exitedErr(); err != nil {
		return err
	}
	p.record("requeststop")
	tid := 0
	if list, _ := p.ThreadList(); len(list) > 0 {
		tid = list[0].ThreadID()
	}
	stop := func(*SimProcess) proc.StopReason { return proc.StopReason{Kind: proc.StopRequested, ThreadID: tid} }
	p.events = append([]SimEvent{stop}, p.events...)
	return nil
}

// execute runs the instruction at the instruction pointer of th.
func (p *SimProcess) execute(th *SimThread) proc.StopReason {
	pc := th.regs.PC()
	insts, err := proc.Disassemble(p.memory, p.arch, pc, 1)
	if err != nil {
		return proc.StopReason{Kind: proc.StopFaulted, Fault: proc.FaultAccess, ThreadID: th.id, Addr: pc}
	}
	inst := insts[0]
	if inst.Kind == proc.SyscallInstruction && p.abi != nil {
		nr, args := p.abi.Arguments(th.regs)
		var ret uint64
		if p.SyscallHook != nil {
			ret = p.SyscallHook(th, nr, args)
		}
		th.regs.SetInteger(p.abi.Return, ret)
	}
	th.regs.SetPC(pc + uint64(inst.Size))
	p.Steps++
	if p.OnStep != nil {
		p.OnStep(th)
	}
	if p.exited {
		return proc.StopReason{Kind: proc.StopExited, ExitCode: p.exitCode}
	}
	return proc.StopReason{Kind: proc.StopFaulted, Fault: proc.FaultTrace, ThreadID: th.id}
}

func (p *SimProcess) ContinueForStep(thi proc.ThreadInternal) error {
	if err := p.exitedErr(); err != nil {
		return err
	}
	th := thi.(*SimThread)
	p.record("continuestep %d", th.id)
	runnable := 0
	for _, o := range p.threads {
		if !o.dead && o.suspend == 0 {
			runnable++
		}
	}
	if runnable > p.MaxRunnable {
		p.MaxRunnable = runnable
	}
	if th.suspend != 0 {
		return fmt.Errorf("thread %d is suspended", th.id)
	}
	if !th.singleStep {
		return fmt.Errorf("thread %d has no single step flag", th.id)
	}
	if p.OnContinueForStep != nil {
		p.OnContinueForStep(th)
	}
	sr := p.execute(th)
	p.pending = &sr
	return nil
}

func (p *SimProcess) WaitForStep(thi proc.ThreadInternal) (proc.StopReason, error) {
	if err := p.exitedErr(); err != nil {
		return proc.StopReason{}, err
	}
	p.record("waitstep %d", thi.ThreadID())
	if p.pending == nil {
		return proc.StopReason{}, errors.New("no step in flight")
	}
	sr := *p.pending
	p.pending = nil
	return sr, nil
}

func (p *SimProcess) KernelStep() (proc.StopReason, error) {
	if err := p.exitedErr(); err != nil {
		return proc.StopReason{}, err
	}
	list, _ := p.ThreadList()
	if len(list) != 1 {
		return proc.StopReason{}, fmt.Errorf("kernel step with %d threads", len(list))
	}
	p.record("kernelstep")
	sr := p.execute(list[0].(*SimThread))
	if err := p.exitedErr(); err != nil {
		return proc.StopReason{}, err
	}
	return sr, nil
}

func (p *SimProcess) Kill() error {
	if err := p.exitedErr(); err != nil {
		return err
	}
	p.record("kill")
	p.Exit(-9)
	return nil
}

func (p *SimProcess) Detach(kill bool) error {
	if err := p.exitedErr(); err != nil {
		return err
	}
	p.record("detach %v", kill)
	p.detached = true
	p.running = true
	return nil
}

func (p *SimProcess) MaxWatchpoints() int { return p.Watchpoints }

func (p *SimProcess) SetWatchpoint(addr uint64, size int, kind proc.WatchKind) error {
	p.record("watch %#x", addr)
	p.Watched[addr] = proc.Watchpoint{Addr: addr, Size: size, Kind: kind}
	return nil
}

func (p *SimProcess) ClearWatchpoint(addr uint64) error {
	p.record("unwatch %#x", addr)
	delete(p.Watched, addr)
	return nil
}
