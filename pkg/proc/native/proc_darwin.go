//go:build darwin && macnative
// +build darwin,macnative

package native

// #include "mach_darwin.h"
import "C"

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/logflags"
	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/macutil"
)

const pollInterval = time.Millisecond

// osProcessDetails holds Darwin specific information.
type osProcessDetails struct {
	task C.task_t

	// pending is a stop collected before the caller waited for it.
	pending *sys.WaitStatus
}

func (os *osProcessDetails) Close() {
	if os.task != 0 {
		C.release_port(C.mach_port_t(os.task))
		os.task = 0
	}
}

// osSpecificDetails holds information specific to the OSX/Darwin
// operating system / kernel.
type osSpecificDetails struct {
	port C.thread_act_t
}

// machError is a failed Mach call.
type machError C.kern_return_t

func (e machError) Error() string {
	return fmt.Sprintf("kern_return_t %d", int(e))
}

func kret(k C.kern_return_t) error {
	if k == C.KERN_SUCCESS {
		return nil
	}
	return machError(k)
}

// Launch creates and begins controlling a new process, stopped right
// after the exec.
func Launch(cmd []string, wd string, flags proc.LaunchFlags, tty string, cfg proc.TargetConfig) (*proc.Target, error) {
	if len(cmd) == 0 {
		return nil, errors.New("no command to launch")
	}
	if err := macutil.CheckRosetta(); err != nil {
		return nil, err
	}
	if flags&proc.LaunchDisableASLR != 0 {
		logflags.PtraceLogger().Warnf("disabling ASLR is not supported on %s", "macOS")
	}

	var (
		process *exec.Cmd
		err     error
	)
	dbp := newProcess(0)
	dbp.execPtraceFunc(func() {
		process = exec.Command(cmd[0])
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:     true,
			Setpgid:    true,
			Foreground: isForeground(flags&proc.LaunchForeground != 0),
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
		dbp.postExit()
		return nil, err
	}
	dbp.pid = process.Process.Pid
	dbp.childProcess = true

	if _, err := dbp.waitStop(time.Time{}); err != nil {
		return nil, fmt.Errorf("waiting for target execve failed: %s", err)
	}
	if err := initialize(dbp); err != nil {
		dbp.Detach(true)
		return nil, err
	}
	return dbp.newTarget(cfg)
}

// Attach to an existing process with the given PID.
func Attach(pid int, cfg proc.TargetConfig) (*proc.Target, error) {
	if err := macutil.CheckRosetta(); err != nil {
		return nil, err
	}
	dbp := newProcess(pid)

	var err error
	dbp.execPtraceFunc(func() { err = ptrace(C.PT_ATTACH, pid, 0, 0) })
	if err != nil {
		dbp.postExit()
		return nil, proc.NewOSCallError("attach", pid, 0, err)
	}
	if _, err := dbp.waitStop(time.Time{}); err != nil {
		dbp.postExit()
		return nil, err
	}
	if err := initialize(dbp); err != nil {
		dbp.Detach(false)
		return nil, err
	}
	return dbp.newTarget(cfg)
}

func initialize(dbp *nativeProcess) error {
	var task C.task_t
	if err := kret(C.acquire_task(C.int(dbp.pid), &task)); err != nil {
		return proc.NewOSCallError("task_for_pid", dbp.pid, 0, err)
	}
	dbp.os.task = task
	dbp.pageSize = proc.PageSize()
	dbp.mem = proc.NewPageCopier(&machPages{dbp: dbp}, dbp.pageSize)
	return dbp.updateThreadList()
}

func ptrace(req C.int, pid int, addr uintptr, data int) error {
	_, err := C.ptrace_request(req, C.int(pid), C.uintptr_t(addr), C.int(data))
	if err == syscall.Errno(0) {
		return nil
	}
	return err
}

func (dbp *nativeProcess) updateThreadList() error {
	var (
		list  C.thread_act_array_t
		count C.mach_msg_type_number_t
	)
	if err := kret(C.list_threads(dbp.os.task, &list, &count)); err != nil {
		return proc.NewOSCallError("task_threads", dbp.pid, 0, err)
	}
	defer C.release_thread_list(list, count)

	seen := make(map[int]bool, int(count))
	for i := 0; i < int(count); i++ {
		port := C.thread_at(list, C.int(i))
		tid := int(port)
		seen[tid] = true
		if _, ok := dbp.threads[tid]; ok {
			// task_threads handed out another reference
			C.release_port(C.mach_port_t(port))
			continue
		}
		dbp.threads[tid] = &nativeThread{ID: tid, dbp: dbp, os: &osSpecificDetails{port: port}}
		if logflags.Ptrace() {
			dbp.log.Debugf("new thread %d", tid)
		}
	}
	for tid, th := range dbp.threads {
		if !seen[tid] {
			C.release_port(C.mach_port_t(th.os.port))
			delete(dbp.threads, tid)
		}
	}
	return nil
}

// Resume continues the process, threads whose Mach suspend count is not
// zero stay where they are.
func (dbp *nativeProcess) Resume(in proc.Interception) error {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.interception = in
	dbp.stopRequested.Store(false)
	if ws := dbp.os.pending; ws != nil {
		// report it at the next Wait without letting the process run
		dbp.running = true
		return nil
	}
	if err := dbp.cont(0); err != nil {
		return err
	}
	dbp.running = true
	return nil
}

func (dbp *nativeProcess) cont(sig int) (err error) {
	dbp.execPtraceFunc(func() { err = ptrace(C.PT_CONTINUE, dbp.pid, 1, sig) })
	return proc.NewOSCallError("continue", dbp.pid, 0, err)
}

func (dbp *nativeProcess) RequestStop() error {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.stopRequested.Store(true)
	return proc.NewOSCallError("request stop", dbp.pid, 0, sys.Kill(dbp.pid, sys.SIGSTOP))
}

// Wait waits for a stop of the process that has to be reported. A ptrace
// stop on Darwin stops the whole process.
func (dbp *nativeProcess) Wait(timeout time.Duration) (proc.StopReason, error) {
	if err := dbp.checkValid(); err != nil {
		return proc.StopReason{}, err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		ws := dbp.os.pending
		dbp.os.pending = nil
		if ws == nil {
			var err error
			ws, err = dbp.waitStop(deadline)
			if err != nil {
				return proc.StopReason{}, err
			}
		}
		if ws.Exited() || ws.Signaled() {
			return dbp.exitReason(ws), nil
		}
		dbp.running = false
		if err := dbp.updateThreadList(); err != nil {
			return proc.StopReason{}, err
		}
		sr, deliver, report := dbp.classify(ws, nil)
		if report {
			return sr, nil
		}
		if err := dbp.cont(deliver); err != nil {
			return proc.StopReason{}, err
		}
		dbp.running = true
	}
}

func (dbp *nativeProcess) exitReason(ws *sys.WaitStatus) proc.StopReason {
	code := ws.ExitStatus()
	if ws.Signaled() {
		code = -int(ws.Signal())
	}
	dbp.postExit()
	return proc.StopReason{Kind: proc.StopExited, ExitCode: code}
}

// classify decides whether a stop is reported. stepping is the thread
// being single stepped, if any.
func (dbp *nativeProcess) classify(ws *sys.WaitStatus, stepping *nativeThread) (sr proc.StopReason, deliver int, report bool) {
	sig := ws.StopSignal()
	if stepping != nil {
		sr.ThreadID = stepping.ID
	}
	switch sig {
	case sys.SIGTRAP:
		sr.Kind = proc.StopFaulted
		sr.Fault = proc.FaultBreakpoint
		if th := dbp.steppingThread(stepping); th != nil {
			sr.Fault = proc.FaultTrace
			sr.ThreadID = th.ID
		}
		if dbp.interception.Faults.Contains(sr.Fault) || stepping != nil {
			return sr, 0, true
		}
		return sr, int(sig), false
	case sys.SIGSTOP:
		if dbp.stopRequested.CAS(true, false) {
			sr.Kind = proc.StopRequested
			return sr, 0, true
		}
		fallthrough
	case sys.SIGTSTP, sys.SIGTTIN, sys.SIGTTOU:
		sr.Kind = proc.StopJobControl
		sr.Signal = int(sig)
		return sr, 0, true
	}
	if fault, ok := darwinFault(sig); ok {
		sr.Kind = proc.StopFaulted
		sr.Fault = fault
		if dbp.interception.Faults.Contains(fault) {
			return sr, 0, true
		}
		return sr, int(sig), false
	}
	sr.Kind = proc.StopSignaled
	sr.Signal = int(sig)
	if dbp.interception.Signals.Contains(int(sig)) {
		return sr, 0, true
	}
	return sr, int(sig), false
}

func (dbp *nativeProcess) steppingThread(hint *nativeThread) *nativeThread {
	if hint != nil {
		return hint
	}
	for _, th := range dbp.threads {
		if th.singleStep {
			return th
		}
	}
	return nil
}

// darwinFault maps the signals the kernel raises for hardware exceptions.
// Darwin does not pass si_code through a ptrace stop, so the finer kinds
// can not be told apart.
func darwinFault(sig sys.Signal) (proc.Fault, bool) {
	switch sig {
	case sys.SIGILL:
		return proc.FaultIllegal, true
	case sys.SIGSEGV, sys.SIGBUS:
		return proc.FaultAccess, true
	case sys.SIGFPE:
		return proc.FaultFloatingPoint, true
	}
	return proc.FaultNone, false
}

// waitStop waits for the next stop or the exit of the process. A zero
// deadline blocks.
func (dbp *nativeProcess) waitStop(deadline time.Time) (*sys.WaitStatus, error) {
	for {
		var ws sys.WaitStatus
		options := 0
		if !deadline.IsZero() {
			options = sys.WNOHANG
		}
		wpid, err := sys.Wait4(dbp.pid, &ws, options, nil)
		switch {
		case err == sys.EINTR:
			continue
		case err == sys.ECHILD:
			return nil, dbp.exitError(0)
		case err != nil:
			return nil, proc.NewOSCallError("wait", dbp.pid, 0, err)
		case wpid == dbp.pid:
			return &ws, nil
		}
		if time.Now().After(deadline) {
			return nil, proc.ErrWaitTimeout
		}
		time.Sleep(pollInterval)
	}
}

func (dbp *nativeProcess) ContinueForStep(thi proc.ThreadInternal) error {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.os.pending = nil
	return dbp.cont(0)
}

// WaitForStep waits for the trace trap of the thread being stepped.
// Other threads are suspended so the trap can only come from it.
func (dbp *nativeProcess) WaitForStep(thi proc.ThreadInternal) (proc.StopReason, error) {
	th := thi.(*nativeThread)
	for {
		ws, err := dbp.waitStop(time.Time{})
		if err != nil {
			return proc.StopReason{}, err
		}
		if ws.Exited() || ws.Signaled() {
			sr := dbp.exitReason(ws)
			return sr, proc.ErrProcessExited{Pid: dbp.pid, Status: sr.ExitCode}
		}
		sig := ws.StopSignal()
		if sig == sys.SIGTRAP {
			return proc.StopReason{Kind: proc.StopFaulted, Fault: proc.FaultTrace, ThreadID: th.ID}, nil
		}
		if sig == sys.SIGSTOP && !dbp.stopRequested.Load() {
			// job control stop while stepping, keep going
			if err := dbp.cont(0); err != nil {
				return proc.StopReason{}, err
			}
			continue
		}
		sr, deliver, report := dbp.classify(ws, th)
		if report && sr.Kind == proc.StopFaulted {
			return sr, nil
		}
		if report {
			// not part of the step, report it at the next Wait
			dbp.os.pending = ws
		}
		if err := dbp.cont(deliver); err != nil {
			return proc.StopReason{}, err
		}
	}
}

// KernelStep steps the process with PT_STEP, the kernel sets the trace
// flag on the first thread of the task.
func (dbp *nativeProcess) KernelStep() (proc.StopReason, error) {
	if err := dbp.checkValid(); err != nil {
		return proc.StopReason{}, err
	}
	if len(dbp.threads) != 1 {
		return proc.StopReason{}, &proc.ProtocolError{Op: "step process", Reason: fmt.Sprintf("process has %d threads", len(dbp.threads))}
	}
	var th *nativeThread
	for _, t := range dbp.threads {
		th = t
	}
	var err error
	dbp.execPtraceFunc(func() { err = ptrace(C.PT_STEP, dbp.pid, 1, 0) })
	if err != nil {
		return proc.StopReason{}, proc.NewOSCallError("step", dbp.pid, 0, err)
	}
	return dbp.WaitForStep(th)
}

func (dbp *nativeProcess) Kill() error {
	if dbp.exited {
		return nil
	}
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil {
		return proc.NewOSCallError("kill", dbp.pid, 0, err)
	}
	if dbp.running {
		_ = sys.Kill(dbp.pid, sys.SIGCONT)
	} else {
		_ = dbp.cont(0)
	}
	for {
		ws, err := dbp.waitStop(time.Time{})
		if err != nil {
			if proc.IsProcessExited(err) {
				return nil
			}
			return err
		}
		if ws.Exited() || ws.Signaled() {
			dbp.postExit()
			return nil
		}
		_ = dbp.cont(0)
	}
}

func (dbp *nativeProcess) quiesce() error { return nil }

func (dbp *nativeProcess) haltForDetach() error {
	if !dbp.running {
		return nil
	}
	if err := sys.Kill(dbp.pid, sys.SIGSTOP); err != nil {
		return proc.NewOSCallError("stop", dbp.pid, 0, err)
	}
	ws, err := dbp.waitStop(time.Time{})
	if err != nil {
		return err
	}
	if ws.StopSignal() != sys.SIGSTOP {
		dbp.os.pending = ws
	}
	dbp.running = false
	return nil
}

func (dbp *nativeProcess) detach(kill bool) error {
	sig := 0
	if ws := dbp.os.pending; ws != nil && ws.StopSignal() != sys.SIGTRAP && ws.StopSignal() != sys.SIGSTOP {
		sig = int(ws.StopSignal())
	}
	if kill {
		sig = int(sys.SIGKILL)
	}
	for _, th := range dbp.threads {
		C.release_port(C.mach_port_t(th.os.port))
	}
	return proc.NewOSCallError("detach", dbp.pid, 0, ptrace(C.PT_DETACH, dbp.pid, 1, sig))
}

// machPages maps target pages with mach_vm_read, the copy lives in our
// address space until released.
type machPages struct {
	dbp *nativeProcess
}

func (m *machPages) MapPages(base uint64, size int) (proc.PageMapping, error) {
	var (
		data  C.vm_offset_t
		count C.mach_msg_type_number_t
	)
	if err := kret(C.read_pages(m.dbp.os.task, C.mach_vm_address_t(base), C.mach_vm_size_t(size), &data, &count)); err != nil {
		return nil, proc.NewOSCallError("mach_vm_read", m.dbp.pid, 0, err)
	}
	return &machMapping{data: data, count: count}, nil
}

func (m *machPages) WriteRange(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if err := kret(C.write_memory(m.dbp.os.task, C.mach_vm_address_t(addr), unsafe.Pointer(&data[0]), C.mach_msg_type_number_t(len(data)))); err != nil {
		return 0, proc.NewOSCallError("mach_vm_write", m.dbp.pid, 0, err)
	}
	return len(data), nil
}

type machMapping struct {
	data  C.vm_offset_t
	count C.mach_msg_type_number_t
}

func (mm *machMapping) Bytes() []byte {
	return (*[1 << 30]byte)(unsafe.Pointer(uintptr(mm.data)))[:int(mm.count):int(mm.count)]
}

// Release always deallocates the whole mapping, a size that does not match
// is reported afterwards.
func (mm *machMapping) Release(size int) error {
	if err := kret(C.release_pages(mm.data, mm.count)); err != nil {
		return err
	}
	if size != int(mm.count) {
		return fmt.Errorf("released %d bytes while %d were requested", int(mm.count), size)
	}
	return nil
}
