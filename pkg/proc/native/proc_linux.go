package native

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/atomic"
	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/logflags"
	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/linutil"
)

// Process statuses
const (
	statusSleeping   = 'S'
	statusRunning    = 'R'
	statusDiskSleep  = 'D'
	statusTraceStop  = 't'
	statusTraceStopT = 'T'
	statusZombie     = 'Z'
	statusDead       = 'X'

	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant

	ptraceOptions = syscall.PTRACE_O_TRACECLONE | syscall.PTRACE_O_TRACESYSGOOD

	// syscallTrap is the stop signal of a system call stop once
	// PTRACE_O_TRACESYSGOOD is set.
	syscallTrap = sys.SIGTRAP | 0x80

	// jogInterval is how long a thread may ignore the stop signal we sent
	// it before it is sent another one.
	jogInterval = 20 * time.Millisecond
	pollInterval = time.Millisecond
)

// osProcessDetails contains Linux specific
// process details.
type osProcessDetails struct {
	memFile *os.File

	// watchpoints are the debug register slots in use, applied to every
	// new thread.
	watchpoints map[uint8]watchpoint

	// reaper is the background wait of a running process, nil while the
	// process is stopped.
	reaper *reaper
}

type watchpoint struct {
	addr uint64
	size int
	kind proc.WatchKind
}

func (os *osProcessDetails) Close() {
	if os.memFile != nil {
		os.memFile.Close()
		os.memFile = nil
	}
}

// Launch creates and begins controlling a new process. First entry in
// `cmd` is the program to run, and then rest are the arguments
// to be supplied to that process. `wd` is working directory of the program.
// The returned target is stopped right after the execve.
func Launch(cmd []string, wd string, flags proc.LaunchFlags, tty string, cfg proc.TargetConfig) (*proc.Target, error) {
	dbp, err := launch(cmd, wd, flags, tty)
	if err != nil {
		return nil, err
	}
	return dbp.newTarget(cfg)
}

func launch(cmd []string, wd string, flags proc.LaunchFlags, tty string) (_ *nativeProcess, err error) {
	if len(cmd) == 0 {
		return nil, errors.New("no command to launch")
	}
	var process *exec.Cmd

	foreground := isForeground(flags&proc.LaunchForeground != 0)

	dbp := newProcess(0)
	defer func() {
		switch {
		case err == nil:
		case dbp.pid != 0:
			_ = dbp.Detach(true)
		default:
			dbp.postExit()
		}
	}()
	dbp.execPtraceFunc(func() {
		if flags&proc.LaunchDisableASLR != 0 {
			oldPersonality, _, err := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if err == syscall.Errno(0) {
				newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
				syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
				defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
			}
		}

		process = exec.Command(cmd[0])
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:     true,
			Setpgid:    true,
			Foreground: foreground,
		}
		if foreground {
			signal.Ignore(syscall.SIGTTOU, syscall.SIGTTIN)
		}
		if tty != "" {
			dbp.ctty, err = attachProcessToTTY(process, tty)
			if err != nil {
				return
			}
		}
		if wd != "" {
			process.Dir = wd
		}
		err = process.Start()
	})
	if err != nil {
		return nil, err
	}
	dbp.pid = process.Process.Pid
	dbp.childProcess = true
	_, _, err = dbp.wait(process.Process.Pid, 0)
	if err != nil {
		return nil, fmt.Errorf("waiting for target execve failed: %s", err)
	}
	if err = initialize(dbp); err != nil {
		return nil, err
	}
	return dbp, nil
}

// Attach to an existing process with the given PID.
func Attach(pid int, cfg proc.TargetConfig) (*proc.Target, error) {
	dbp := newProcess(pid)

	var err error
	dbp.execPtraceFunc(func() { err = ptraceAttach(dbp.pid) })
	if err != nil {
		dbp.postExit()
		return nil, proc.NewOSCallError("attach", pid, 0, err)
	}
	_, _, err = dbp.wait(dbp.pid, 0)
	if err != nil {
		dbp.postExit()
		return nil, err
	}

	if err := initialize(dbp); err != nil {
		_ = dbp.Detach(false)
		return nil, err
	}
	return dbp.newTarget(cfg)
}

func initialize(dbp *nativeProcess) error {
	dbp.os.watchpoints = make(map[uint8]watchpoint)

	dbp.pageSize = proc.PageSize()
	if auxvbuf, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", dbp.pid)); err == nil {
		if auxv := linutil.ParseAuxv(auxvbuf, 8, binary.LittleEndian); auxv.PageSize != 0 {
			dbp.pageSize = int(auxv.PageSize)
		}
	}

	var err error
	dbp.execPtraceFunc(func() { err = checkABI(dbp.pid) })
	if err != nil {
		return err
	}

	dbp.mem = newProcessMemory(dbp)
	return dbp.updateThreadList()
}

// memthread returns the thread used for word sized memory transfers.
func (dbp *nativeProcess) memthread() int {
	if dbp.os.reaper != nil {
		// the thread list belongs to the reaper until it is collected
		return dbp.pid
	}
	if _, ok := dbp.threads[dbp.pid]; ok {
		return dbp.pid
	}
	for tid := range dbp.threads {
		return tid
	}
	return dbp.pid
}

// Attach to a newly created thread, and store that thread in our list of
// known threads.
func (dbp *nativeProcess) addThread(tid int, attach bool) (*nativeThread, error) {
	if thread, ok := dbp.threads[tid]; ok {
		return thread, nil
	}

	var err error
	if attach {
		dbp.execPtraceFunc(func() { err = sys.PtraceAttach(tid) })
		if err != nil && err != sys.EPERM {
			// Do not return err if err == EPERM,
			// we may already be tracing this thread due to
			// PTRACE_O_TRACECLONE. We will surely blow up later
			// if we truly don't have permissions.
			return nil, proc.NewOSCallError("attach thread", dbp.pid, tid, err)
		}
		pid, status, err := dbp.waitFast(tid)
		if err != nil {
			return nil, err
		}
		if status.Exited() {
			return nil, fmt.Errorf("thread already exited %d", pid)
		}
	}

	dbp.execPtraceFunc(func() { err = syscall.PtraceSetOptions(tid, ptraceOptions) })
	if err == syscall.ESRCH {
		if _, _, err = dbp.waitFast(tid); err != nil {
			return nil, fmt.Errorf("error while waiting after adding thread: %d %s", tid, err)
		}
		dbp.execPtraceFunc(func() { err = syscall.PtraceSetOptions(tid, ptraceOptions) })
		if err == syscall.ESRCH {
			return nil, err
		}
	}
	if err != nil {
		return nil, proc.NewOSCallError("set ptrace options", dbp.pid, tid, err)
	}

	th := &nativeThread{
		ID:  tid,
		dbp: dbp,
		os:  new(osSpecificDetails),
	}
	dbp.threads[tid] = th
	if err := dbp.applyWatchpoints(th); err != nil {
		return nil, err
	}
	if logflags.Ptrace() {
		dbp.log.Debugf("new thread %d", tid)
	}
	return th, nil
}

// updateThreadList adds the threads listed in /proc/<pid>/task and drops
// the ones that are gone.
func (dbp *nativeProcess) updateThreadList() error {
	tids, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", dbp.pid))
	seen := make(map[int]bool, len(tids))
	for _, tidpath := range tids {
		tidstr := filepath.Base(tidpath)
		tid, err := strconv.Atoi(tidstr)
		if err != nil {
			return err
		}
		if _, err := dbp.addThread(tid, tid != dbp.pid); err != nil {
			if errors.Is(err, sys.ESRCH) {
				// thread died while we were adding it
				continue
			}
			return err
		}
		seen[tid] = true
	}
	for tid := range dbp.threads {
		if !seen[tid] {
			delete(dbp.threads, tid)
		}
	}
	return nil
}

// Resume lets every thread that is not suspended run. The stops of the
// running process are collected in the background until the next Wait.
func (dbp *nativeProcess) Resume(in proc.Interception) error {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.interception = in
	dbp.stopRequested.Store(false)
	for tid, th := range dbp.threads {
		if th.os.suspend > 0 || th.os.pending != nil {
			continue
		}
		if err := th.resume(); err != nil {
			if err == sys.ESRCH {
				// thread exited
				delete(dbp.threads, tid)
				continue
			}
			return th.oscall("resume", err)
		}
	}
	dbp.running = true
	dbp.startReaper()
	return nil
}

// RequestStop sends SIGSTOP to the process, Wait reports it as a
// requested stop.
func (dbp *nativeProcess) RequestStop() error {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.stopRequested.Store(true)
	return proc.NewOSCallError("request stop", dbp.pid, 0, sys.Kill(dbp.pid, sys.SIGSTOP))
}

// Wait waits for the next event that has to be reported and stops every
// other thread before returning. On timeout the background wait goes on.
func (dbp *nativeProcess) Wait(timeout time.Duration) (proc.StopReason, error) {
	if err := dbp.checkValid(); err != nil {
		return proc.StopReason{}, err
	}
	r := dbp.os.reaper
	if r == nil {
		r = dbp.startReaper()
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case ev := <-r.event:
		dbp.os.reaper = nil
		return dbp.collect(ev)
	case <-expired:
		return proc.StopReason{}, proc.ErrWaitTimeout
	}
}

// reaper runs trapWait on its own goroutine while the process runs. Clone
// events are followed and stops that are not intercepted are resumed as
// they happen, otherwise a thread created while nobody waits would stay
// in its clone event stop.
type reaper struct {
	quit  *atomic.Bool
	event chan reaped
}

// reaped is the single result of a reaper.
type reaped struct {
	th  *nativeThread
	sr  proc.StopReason
	ws  *sys.WaitStatus
	err error
}

var errReaperStopped = errors.New("background wait stopped")

// startReaper hands the thread list over to a new reaper. It is given back
// when the result of the reaper is received.
func (dbp *nativeProcess) startReaper() *reaper {
	r := &reaper{quit: atomic.NewBool(false), event: make(chan reaped, 1)}
	dbp.os.reaper = r
	go func() {
		th, sr, ws, err := dbp.trapWait(r.quit.Load)
		r.event <- reaped{th: th, sr: sr, ws: ws, err: err}
	}()
	return r
}

// stopReaper ends the background wait, if there is one. A stop that was
// already collected stays pending on its thread.
func (dbp *nativeProcess) stopReaper() error {
	r := dbp.os.reaper
	if r == nil {
		return nil
	}
	r.quit.Store(true)
	ev := <-r.event
	dbp.os.reaper = nil
	var exited proc.ErrProcessExited
	switch {
	case errors.Is(ev.err, errReaperStopped):
		return nil
	case errors.As(ev.err, &exited), ev.err == nil && ev.sr.Kind == proc.StopExited:
		dbp.postExit()
		return nil
	case ev.err != nil:
		return ev.err
	}
	ev.th.os.pending = ev.ws
	return nil
}

// collect turns the result of a reaper into the result of Wait.
func (dbp *nativeProcess) collect(ev reaped) (proc.StopReason, error) {
	var exited proc.ErrProcessExited
	switch {
	case errors.As(ev.err, &exited):
		dbp.postExit()
		return ev.sr, ev.err
	case ev.err != nil:
		return ev.sr, ev.err
	case ev.sr.Kind == proc.StopExited:
		dbp.postExit()
		return ev.sr, nil
	}
	if err := dbp.stop(ev.th); err != nil {
		return ev.sr, err
	}
	return ev.sr, nil
}

// trapWait returns the first thread that stopped for a reason the caller
// intercepts. Everything else is delivered back to the target. A nil
// thread is returned once the process exited, the caller is responsible
// for postExit. trapWait gives up when quit returns true.
func (dbp *nativeProcess) trapWait(quit func() bool) (*nativeThread, proc.StopReason, *sys.WaitStatus, error) {
	// events collected while the process was being stopped come first
	for _, th := range dbp.threads {
		if th.os.pending == nil || th.os.suspend > 0 {
			continue
		}
		status := th.os.pending
		th.os.pending = nil
		sr, report, err := dbp.dispatch(th, status)
		if err != nil {
			return nil, sr, nil, err
		}
		if report {
			return th, sr, status, nil
		}
		if sr.Kind == proc.StopExited {
			return nil, sr, nil, nil
		}
	}

	for {
		wpid, status, err := dbp.waitPoll(quit)
		if err != nil {
			return nil, proc.StopReason{}, nil, err
		}
		th, ok := dbp.threads[wpid]
		if status.Exited() || status.Signaled() {
			if wpid == dbp.pid {
				return nil, proc.StopReason{Kind: proc.StopExited, ExitCode: dbp.exitStatus(status)}, status, nil
			}
			delete(dbp.threads, wpid)
			continue
		}
		if !status.Stopped() {
			continue
		}
		if status.StopSignal() == sys.SIGTRAP && status.TrapCause() == sys.PTRACE_EVENT_CLONE {
			if err := dbp.cloned(wpid, false); err != nil {
				return nil, proc.StopReason{}, nil, err
			}
			continue
		}
		if !ok {
			// Sometimes we get an unknown thread, ignore it?
			continue
		}
		th.os.running = false
		sr, report, err := dbp.dispatch(th, status)
		if err != nil {
			return nil, sr, nil, err
		}
		if report {
			return th, sr, status, nil
		}
		if sr.Kind == proc.StopExited {
			return nil, sr, nil, nil
		}
	}
}

// dispatch decides whether the stop of th has to be reported. Stops that
// are not intercepted resume the thread, delivering its signal.
func (dbp *nativeProcess) dispatch(th *nativeThread, ws *sys.WaitStatus) (proc.StopReason, bool, error) {
	sr, deliver, report := th.classify(ws, dbp.interception)
	if report {
		return sr, true, nil
	}
	if logflags.Ptrace() && deliver != 0 {
		dbp.log.Debugf("delivering signal %d to thread %d", deliver, th.ID)
	}
	if err := th.resumeWithSig(deliver); err != nil {
		if err != sys.ESRCH {
			return sr, false, th.oscall("resume", err)
		}
		// do the same thing we do if a thread quit
		if th.ID == dbp.pid && status(dbp.pid) == statusZombie {
			_, lws, err := dbp.wait(dbp.pid, 0)
			if err != nil {
				return sr, false, err
			}
			return proc.StopReason{Kind: proc.StopExited, ExitCode: dbp.exitStatus(lws)}, false, nil
		}
		delete(dbp.threads, th.ID)
	}
	return sr, false, nil
}

// cloned handles a PTRACE_EVENT_CLONE stop of parent. The new thread is
// added to the list, both threads are resumed unless halting.
func (dbp *nativeProcess) cloned(parent int, halt bool) error {
	var (
		cloned uint
		err    error
	)
	dbp.execPtraceFunc(func() { cloned, err = sys.PtraceGetEventMsg(parent) })
	if err != nil {
		if err == sys.ESRCH {
			// thread died while we were adding it
			return nil
		}
		return proc.NewOSCallError("get event message", dbp.pid, parent, err)
	}
	th, err := dbp.addThread(int(cloned), false)
	if err != nil {
		if errors.Is(err, sys.ESRCH) {
			// thread died while we were adding it
			delete(dbp.threads, int(cloned))
			return nil
		}
		return err
	}
	p := dbp.threads[parent]
	if halt || !dbp.running {
		th.os.running = false
		if p != nil {
			p.os.running = false
		}
		return nil
	}
	if err = th.resume(); err != nil && err != sys.ESRCH {
		return th.oscall("resume", err)
	}
	if p != nil {
		if err = p.resume(); err != nil && err != sys.ESRCH {
			return p.oscall("resume", err)
		}
	}
	return nil
}

// stop stops all running threads.
func (dbp *nativeProcess) stop(trapthread *nativeThread) error {
	if trapthread != nil {
		trapthread.os.running = false
	}

	for tid, th := range dbp.threads {
		if !th.os.running {
			continue
		}
		if err := th.halt(); err != nil {
			if err == sys.ESRCH {
				// thread exited
				delete(dbp.threads, tid)
				continue
			}
			return dbp.exitGuard(th.oscall("stop", err))
		}
	}

	jog := time.Now().Add(jogInterval)
	for dbp.anyRunning() {
		wpid, ws, err := dbp.wait(-1, sys.WNOHANG)
		if err != nil {
			if err == sys.EINTR {
				continue
			}
			return dbp.exitGuard(proc.NewOSCallError("wait", dbp.pid, 0, err))
		}
		if wpid == 0 {
			if time.Now().After(jog) {
				dbp.jogSleepers()
				jog = time.Now().Add(jogInterval)
			}
			time.Sleep(pollInterval)
			continue
		}
		if err := dbp.halted(wpid, ws); err != nil {
			return err
		}
	}
	dbp.running = false
	return nil
}

// halted records a stop observed while stopping the process.
func (dbp *nativeProcess) halted(wpid int, ws *sys.WaitStatus) error {
	th, ok := dbp.threads[wpid]
	switch {
	case ws.Exited() || ws.Signaled():
		if wpid == dbp.pid {
			return dbp.exitError(dbp.exitStatus(ws))
		}
		delete(dbp.threads, wpid)
	case !ws.Stopped():
	case ws.StopSignal() == sys.SIGTRAP && ws.TrapCause() == sys.PTRACE_EVENT_CLONE:
		return dbp.cloned(wpid, true)
	case !ok:
	case ws.StopSignal() == sys.SIGSTOP && th.os.pendingStop:
		th.os.pendingStop = false
		th.os.running = false
	default:
		// We are trying to stop the process, keep this event for the next
		// wait. The thread stays in its signal delivery stop.
		th.os.pending = ws
		th.os.running = false
	}
	return nil
}

// jogSleepers sends another stop signal to the threads that are still
// sleeping in the kernel.
func (dbp *nativeProcess) jogSleepers() {
	for _, th := range dbp.threads {
		if !th.os.running {
			continue
		}
		if s := status(th.ID); s == statusSleeping || s == statusDiskSleep {
			if logflags.Ptrace() {
				dbp.log.Debugf("thread %d still sleeping, sending SIGSTOP again", th.ID)
			}
			_ = sys.Tgkill(dbp.pid, th.ID, sys.SIGSTOP)
		}
	}
}

func (dbp *nativeProcess) anyRunning() bool {
	for _, th := range dbp.threads {
		if th.os.running {
			return true
		}
	}
	return false
}

// exitGuard turns err into ErrProcessExited if the process became a zombie.
func (dbp *nativeProcess) exitGuard(err error) error {
	if !errors.Is(err, sys.ESRCH) {
		return err
	}
	if status(dbp.pid) == statusZombie {
		_, ws, werr := dbp.wait(dbp.pid, 0)
		if werr != nil {
			return werr
		}
		return dbp.exitError(dbp.exitStatus(ws))
	}
	return err
}

func (dbp *nativeProcess) exitStatus(ws *sys.WaitStatus) int {
	switch {
	case ws == nil:
		return 0
	case ws.Signaled():
		return -int(ws.Signal())
	}
	return ws.ExitStatus()
}

// waitPoll polls wait4 for any thread of the process until a thread
// changes state or quit returns true.
func (dbp *nativeProcess) waitPoll(quit func() bool) (int, *sys.WaitStatus, error) {
	for {
		wpid, ws, err := dbp.wait(-1, sys.WNOHANG)
		switch {
		case err == sys.EINTR:
			continue
		case err == sys.ECHILD:
			// nothing left to wait for, the process is gone
			return 0, nil, proc.ErrProcessExited{Pid: dbp.pid}
		case err != nil:
			return 0, nil, proc.NewOSCallError("wait", dbp.pid, 0, err)
		case wpid != 0:
			return wpid, ws, nil
		}
		if quit() {
			return 0, nil, errReaperStopped
		}
		time.Sleep(pollInterval)
	}
}

// ContinueForStep runs th alone, its single step flag decides whether
// for one instruction. A signal collected while the process was being
// stopped is delivered with it.
func (dbp *nativeProcess) ContinueForStep(thi proc.ThreadInternal) error {
	th := thi.(*nativeThread)
	if err := dbp.checkValid(); err != nil {
		return err
	}
	sig := th.pendingSignal()
	var err error
	dbp.execPtraceFunc(func() {
		if th.singleStep {
			err = ptraceSingleStep(th.ID, sig)
		} else {
			err = ptraceCont(th.ID, sig)
		}
	})
	if err != nil {
		return dbp.exitGuard(th.oscall("single step", err))
	}
	th.os.running = true
	return nil
}

// WaitForStep waits until th completes the instruction started by
// ContinueForStep. Signals arriving in the meantime are delivered and the
// step is restarted, a clone is followed.
func (dbp *nativeProcess) WaitForStep(thi proc.ThreadInternal) (proc.StopReason, error) {
	th := thi.(*nativeThread)
	for {
		wpid, ws, err := dbp.waitFast(th.ID)
		if err != nil {
			if err == sys.EINTR {
				continue
			}
			return proc.StopReason{}, dbp.exitGuard(th.oscall("wait", err))
		}
		if ws == nil || ws.Exited() || ws.Signaled() {
			delete(dbp.threads, wpid)
			if wpid == dbp.pid {
				return proc.StopReason{Kind: proc.StopExited, ExitCode: dbp.exitStatus(ws)}, dbp.exitError(dbp.exitStatus(ws))
			}
			if s := status(dbp.pid); s == statusZombie || s == statusDead || s == 0 {
				_, lws, _ := dbp.wait(dbp.pid, 0)
				return proc.StopReason{Kind: proc.StopExited}, dbp.exitError(dbp.exitStatus(lws))
			}
			return proc.StopReason{}, th.oscall("single step", proc.ErrThreadNotFound)
		}
		if ws.StopSignal() == sys.SIGTRAP && ws.TrapCause() == sys.PTRACE_EVENT_CLONE {
			if err := dbp.cloned(wpid, true); err != nil {
				return proc.StopReason{}, err
			}
			if err := dbp.restep(th, 0); err != nil {
				return proc.StopReason{}, err
			}
			continue
		}
		th.os.running = false
		sig := ws.StopSignal()
		if sig == sys.SIGSTOP && th.os.pendingStop {
			th.os.pendingStop = false
			if err := dbp.restep(th, 0); err != nil {
				return proc.StopReason{}, err
			}
			continue
		}
		if sig == sys.SIGTRAP && ws.TrapCause() > 0 {
			if err := dbp.restep(th, 0); err != nil {
				return proc.StopReason{}, err
			}
			continue
		}
		sr, deliver, report := th.classify(ws, dbp.interception)
		if sig == sys.SIGTRAP {
			// The trap ends the step whatever the interception set says,
			// it is never delivered to the target.
			sr.Kind = proc.StopFaulted
			sr.ThreadID = th.ID
			if sr.Fault == proc.FaultNone {
				sr.Fault = proc.FaultTrace
			}
			return sr, nil
		}
		if report && sr.Kind == proc.StopFaulted {
			return sr, nil
		}
		// The instruction did not complete, deliver the signal and try again.
		if err := dbp.restep(th, deliver); err != nil {
			return proc.StopReason{}, err
		}
	}
}

func (dbp *nativeProcess) restep(th *nativeThread, sig int) error {
	var err error
	dbp.execPtraceFunc(func() { err = ptraceSingleStep(th.ID, sig) })
	if err != nil {
		return dbp.exitGuard(th.oscall("single step", err))
	}
	th.os.running = true
	return nil
}

// KernelStep steps the only thread of the process.
func (dbp *nativeProcess) KernelStep() (proc.StopReason, error) {
	if err := dbp.checkValid(); err != nil {
		return proc.StopReason{}, err
	}
	th, ok := dbp.threads[dbp.pid]
	if !ok || len(dbp.threads) != 1 {
		return proc.StopReason{}, &proc.ProtocolError{Op: "step process", Reason: fmt.Sprintf("process has %d threads", len(dbp.threads))}
	}
	if err := dbp.restep(th, th.pendingSignal()); err != nil {
		return proc.StopReason{}, err
	}
	return dbp.WaitForStep(th)
}

// Kill kills the target process.
func (dbp *nativeProcess) Kill() error {
	if err := dbp.stopReaper(); err != nil {
		return err
	}
	if dbp.exited {
		return nil
	}
	if s := status(dbp.pid); s == statusZombie || s == statusDead {
		_, ws, _ := dbp.wait(dbp.pid, 0)
		dbp.postExit()
		return proc.ErrProcessExited{Pid: dbp.pid, Status: dbp.exitStatus(ws)}
	}
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil {
		return proc.NewOSCallError("kill", dbp.pid, 0, err)
	}
	// wait for other threads first or the thread group leader (dbp.pid) will never exit.
	for threadID := range dbp.threads {
		if threadID != dbp.pid {
			dbp.waitFast(threadID)
		}
	}
	for {
		wpid, ws, err := dbp.wait(dbp.pid, 0)
		if err != nil {
			if err == sys.ECHILD {
				dbp.postExit()
				return nil
			}
			return proc.NewOSCallError("wait", dbp.pid, 0, err)
		}
		if wpid == dbp.pid && (ws == nil || ws.Signaled() || ws.Exited()) {
			dbp.postExit()
			return nil
		}
	}
}

// haltForDetach stops a running process, ptrace can only detach from
// stopped threads.
func (dbp *nativeProcess) haltForDetach() error {
	if dbp.exited || !dbp.running {
		return nil
	}
	return dbp.stop(nil)
}

// quiesce ends the background wait before the process is detached.
func (dbp *nativeProcess) quiesce() error {
	return dbp.stopReaper()
}

func (dbp *nativeProcess) detach(kill bool) error {
	for threadID, th := range dbp.threads {
		sig := 0
		if th.os.pending != nil && th.os.pending.StopSignal() != sys.SIGTRAP {
			sig = int(th.os.pending.StopSignal())
		}
		err := ptraceDetach(threadID, sig)
		if err != nil && err != sys.ESRCH {
			return th.oscall("detach", err)
		}
	}
	if kill {
		return sys.Kill(dbp.pid, sys.SIGKILL)
	}
	// For some reason the process will sometimes enter stopped state after a
	// detach, this doesn't happen immediately either.
	// We have to wait a bit here, then check if the main thread is stopped and
	// SIGCONT it if it is.
	time.Sleep(50 * time.Millisecond)
	if s := status(dbp.pid); s == statusTraceStopT {
		_ = sys.Kill(dbp.pid, sys.SIGCONT)
	}
	return nil
}

// status returns the state field of /proc/<tid>/stat, zero if it can not
// be read.
func status(tid int) rune {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", tid))
	if err != nil {
		return '\000'
	}
	// The second field of /proc/pid/stat is the name of the task in
	// parentheses. Both parenthesis and spaces can appear inside the name of
	// the task and no escaping happens, the state follows the last one.
	i := bytes.LastIndexByte(buf, ')')
	if i < 0 || i+2 >= len(buf) {
		return '\000'
	}
	return rune(buf[i+2])
}

// waitFast is like wait but does not handle process-exit correctly
func (dbp *nativeProcess) waitFast(pid int) (int, *sys.WaitStatus, error) {
	var s sys.WaitStatus
	wpid, err := sys.Wait4(pid, &s, sys.WALL, nil)
	return wpid, &s, err
}

func (dbp *nativeProcess) wait(pid, options int) (int, *sys.WaitStatus, error) {
	var s sys.WaitStatus
	if (pid != dbp.pid) || (options != 0) {
		wpid, err := sys.Wait4(pid, &s, sys.WALL|options, nil)
		return wpid, &s, err
	}
	// If we call wait4/waitpid on a thread that is the leader of its group,
	// with options == 0, while ptracing and the thread leader has exited leaving
	// zombies of its own then waitpid hangs forever this is apparently intended
	// behaviour in the linux kernel because it's just so convenient.
	// Therefore we call wait4 in a loop with WNOHANG, sleeping a while between
	// calls and exiting when either wait4 succeeds or we find out that the thread
	// has become a zombie.
	// References:
	// https://sourceware.org/bugzilla/show_bug.cgi?id=12702
	// https://sourceware.org/bugzilla/show_bug.cgi?id=10095
	// https://sourceware.org/bugzilla/attachment.cgi?id=5685
	for {
		wpid, err := sys.Wait4(pid, &s, sys.WNOHANG|sys.WALL|options, nil)
		if err != nil {
			return 0, nil, err
		}
		if wpid != 0 {
			return wpid, &s, err
		}
		if status(pid) == statusZombie {
			return pid, nil, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}
