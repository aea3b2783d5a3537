package native

// #include <libproc.h>
//
// static int
// trace_syscalls(struct ps_prochandle *P, int on) {
// 	sysset_t set;
// 	if (on) {
// 		prfillset(&set);
// 	} else {
// 		premptyset(&set);
// 	}
// 	if (Psetsysentry(P, &set) == -1) {
// 		return -1;
// 	}
// 	return Psetsysexit(P, &set);
// }
//
// static uintptr_t
// fault_addr(lwpstatus_t *lwp) {
// 	return (uintptr_t)lwp->pr_info.si_addr;
// }
import "C"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/tele/pkg/logflags"
	"github.com/go-delve/tele/pkg/proc"
)

const pollInterval = time.Millisecond

// osProcessDetails contains Solaris specific
// process details.
type osProcessDetails struct {
	pr         *C.struct_ps_prochandle
	exitStatus int
	waitDone   chan struct{}
}

func (os *osProcessDetails) Close() {}

// faultCodes are the /proc fault numbers traced for each fault.
// Misaligned accesses are reported by Solaris as FLTACCESS.
var faultCodes = map[proc.Fault][]C.int{
	proc.FaultIllegal:       {C.FLTILL},
	proc.FaultPrivileged:    {C.FLTPRIV},
	proc.FaultBreakpoint:    {C.FLTBPT},
	proc.FaultTrace:         {C.FLTTRACE},
	proc.FaultStack:         {C.FLTSTACK},
	proc.FaultWatchpoint:    {C.FLTWATCH},
	proc.FaultAccess:        {C.FLTACCESS},
	proc.FaultFloatingPoint: {C.FLTIOVF, C.FLTIZDIV, C.FLTFPE},
	proc.FaultBounds:        {C.FLTBOUNDS},
}

func faultFromCode(what C.short) proc.Fault {
	for f, codes := range faultCodes {
		for _, c := range codes {
			if C.short(c) == what {
				return f
			}
		}
	}
	return proc.FaultNone
}

// Launch creates and begins controlling a new process, stopped at the
// return from exec.
func Launch(cmd []string, wd string, flags proc.LaunchFlags, tty string, cfg proc.TargetConfig) (*proc.Target, error) {
	if len(cmd) == 0 {
		return nil, errors.New("no command to launch")
	}
	if tty != "" {
		return nil, errors.New("redirecting to a terminal is not supported on Solaris")
	}
	if wd != "" && wd != "." {
		if _, err := os.Stat(wd); err != nil {
			return nil, err
		}
	}
	dbp := newProcess(0)
	var err error
	dbp.execPtraceFunc(func() {
		if wd != "" {
			// Pcreate starts the child in our working directory
			var cwd string
			if cwd, err = os.Getwd(); err != nil {
				return
			}
			if err = os.Chdir(wd); err != nil {
				return
			}
			defer os.Chdir(cwd)
		}
		dbp.os.pr, _, err = pcreate(cmd[0], cmd)
		if err == nil {
			dbp.pid = int(C.Pstatus(dbp.os.pr).pr_pid)
		}
	})
	if err != nil {
		dbp.postExit()
		return nil, err
	}
	dbp.childProcess = true
	dbp.os.waitDone = make(chan struct{})
	go waitThread(dbp)
	if err := initialize(dbp); err != nil {
		dbp.Detach(true)
		return nil, err
	}
	return dbp.newTarget(cfg)
}

// Attach to an existing process with the given PID.
func Attach(pid int, cfg proc.TargetConfig) (*proc.Target, error) {
	dbp := newProcess(pid)
	var code C.int
	dbp.execPtraceFunc(func() { dbp.os.pr = C.Pgrab(C.int(pid), 0, &code) })
	if dbp.os.pr == nil {
		dbp.postExit()
		return nil, proc.NewOSCallError("attach", pid, 0, errors.New(C.GoString(C.Pgrab_error(code))))
	}
	dbp.os.waitDone = make(chan struct{})
	go waitThread(dbp)
	if err := initialize(dbp); err != nil {
		dbp.Detach(false)
		return nil, err
	}
	return dbp.newTarget(cfg)
}

func waitThread(dbp *nativeProcess) {
	var s sys.WaitStatus
	if _, err := sys.Wait4(dbp.pid, &s, 0, nil); err == nil {
		dbp.os.exitStatus = s.ExitStatus()
	}
	close(dbp.os.waitDone)
}

func initialize(dbp *nativeProcess) (err error) {
	dbp.pageSize = proc.PageSize()
	dbp.execPtraceFunc(func() {
		if rc, err1 := C.Pgetauxval(dbp.os.pr, C.AT_PAGESZ); rc > 0 {
			dbp.pageSize = int(rc)
		} else if rc == -1 && err1 != nil && logflags.Ptrace() {
			dbp.log.Debugf("no page size in auxv: %v", err1)
		}
		// The process should already be stopped if we grabbed or created it,
		// but if we created it it will be stopped on the execve syscall and
		// for whatever reason trying to step it will cause it to exit.
		// Telling it to run and stop seems to workaround the issue.
		// NB: this does not as far as I know cause the process to advance,
		// it just causes the reason for the stop to change from PR_SYSEXIT
		// to PR_REQUESTED, and that seems to make a difference.
		if rc, err1 := C.Psetrun(dbp.os.pr, 0, C.PRSTOP); rc == -1 {
			err = proc.NewOSCallError("Psetrun", dbp.pid, 0, err1)
		}
	})
	if err != nil {
		return err
	}
	dbp.mem = newProcMemory(dbp)
	return dbp.updateThreadList()
}

// Attach to a newly created thread, and store that thread in our list of
// known threads.
func (dbp *nativeProcess) addThread(tid int) (*nativeThread, error) {
	if thread, ok := dbp.threads[tid]; ok {
		return thread, nil
	}
	var lwp *C.struct_ps_lwphandle
	var code C.int
	dbp.execPtraceFunc(func() { lwp = C.Lgrab(dbp.os.pr, C.uint(tid), &code) })
	if lwp == nil {
		return nil, proc.NewOSCallError("Lgrab", dbp.pid, tid, errors.New(C.GoString(C.Lgrab_error(code))))
	}
	th := &nativeThread{
		ID:  tid,
		dbp: dbp,
		os:  &osSpecificDetails{lwp: lwp},
	}
	dbp.threads[tid] = th
	return th, nil
}

func (dbp *nativeProcess) updateThreadList() error {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/lwp", dbp.pid))
	if err != nil {
		return proc.NewOSCallError("list lwps", dbp.pid, 0, err)
	}
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if _, err := dbp.addThread(tid); err != nil {
			return err
		}
		seen[tid] = true
	}
	for tid, th := range dbp.threads {
		if !seen[tid] {
			dbp.execPtraceFunc(func() { C.Lfree(th.os.lwp) })
			delete(dbp.threads, tid)
		}
	}
	return nil
}

// arm installs the traced faults, signals and system calls of in.
func (dbp *nativeProcess) arm(in proc.Interception) (err error) {
	dbp.execPtraceFunc(func() {
		for f, codes := range faultCodes {
			on := C.int(0)
			if in.Faults.Contains(f) {
				on = 1
			}
			for _, c := range codes {
				if rc, err1 := C.Pfault(dbp.os.pr, c, on); rc == -1 {
					err = proc.NewOSCallError("Pfault", dbp.pid, 0, err1)
					return
				}
			}
		}
		for sig := 1; sig < int(C.MAXSIG); sig++ {
			on := C.int(0)
			if in.Signals.Contains(sig) || isJobControl(sys.Signal(sig)) {
				on = 1
			}
			if rc, err1 := C.Psignal(dbp.os.pr, C.int(sig), on); rc == -1 {
				err = proc.NewOSCallError("Psignal", dbp.pid, 0, err1)
				return
			}
		}
		on := C.int(0)
		if in.Syscalls {
			on = 1
		}
		if rc, err1 := C.trace_syscalls(dbp.os.pr, on); rc == -1 {
			err = proc.NewOSCallError("Psetsysentry", dbp.pid, 0, err1)
		}
	})
	return err
}

func isJobControl(sig sys.Signal) bool {
	switch sig {
	case sys.SIGSTOP, sys.SIGTSTP, sys.SIGTTIN, sys.SIGTTOU:
		return true
	}
	return false
}

// Resume sets every lwp whose suspend count is zero running, pending
// faults and signals are cleared.
func (dbp *nativeProcess) Resume(in proc.Interception) error {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	if err := dbp.arm(in); err != nil {
		return err
	}
	dbp.interception = in
	dbp.stopRequested.Store(false)
	for _, th := range dbp.threads {
		if th.os.suspend > 0 {
			continue
		}
		if err := th.setrun(0, C.PRCSIG|C.PRCFAULT); err != nil {
			return err
		}
	}
	dbp.running = true
	return nil
}

func (dbp *nativeProcess) RequestStop() (err error) {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.stopRequested.Store(true)
	dbp.execPtraceFunc(func() {
		if rc, err1 := C.Pdstop(dbp.os.pr); rc == -1 {
			err = proc.NewOSCallError("Pdstop", dbp.pid, 0, err1)
		}
	})
	return err
}

// Wait polls the state of the process until it stops. An lwp stopping on
// an event of interest stops the whole process.
func (dbp *nativeProcess) Wait(timeout time.Duration) (proc.StopReason, error) {
	if err := dbp.checkValid(); err != nil {
		return proc.StopReason{}, err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		// refresh the state stored in the proc handle
		var (
			err   error
			state C.int
		)
		dbp.execPtraceFunc(func() {
			if rc, err1 := C.Pstopstatus(dbp.os.pr, C.PCNULL, 0); rc == -1 {
				err = err1
			}
			state = C.Pstate(dbp.os.pr)
		})
		if err != nil && !errors.Is(err, syscall.ENOENT) {
			return proc.StopReason{}, proc.NewOSCallError("Pstopstatus", dbp.pid, 0, err)
		}
		switch {
		case err != nil, state == C.PS_DEAD:
			<-dbp.os.waitDone
			dbp.postExit()
			return proc.StopReason{Kind: proc.StopExited, ExitCode: dbp.os.exitStatus}, nil
		case state == C.PS_LOST:
			return proc.StopReason{}, proc.NewOSCallError("wait", dbp.pid, 0, errors.New("lost control of the process"))
		case state == C.PS_STOP:
			dbp.running = false
			if err := dbp.updateThreadList(); err != nil {
				return proc.StopReason{}, err
			}
			var lwp C.lwpstatus_t
			dbp.execPtraceFunc(func() { lwp = C.Pstatus(dbp.os.pr).pr_lwp })
			return dbp.stopReason(&lwp), nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return proc.StopReason{}, proc.ErrWaitTimeout
		}
		time.Sleep(pollInterval)
	}
}

func (dbp *nativeProcess) stopReason(lwp *C.lwpstatus_t) proc.StopReason {
	sr := proc.StopReason{ThreadID: int(lwp.pr_lwpid)}
	switch lwp.pr_why {
	case C.PR_FAULTED:
		sr.Kind = proc.StopFaulted
		sr.Fault = faultFromCode(lwp.pr_what)
		sr.Addr = uint64(C.fault_addr(lwp))
		if sr.Fault == proc.FaultBreakpoint || sr.Fault == proc.FaultTrace {
			sr.Addr = uint64(lwp.pr_reg[C.REG_RIP])
		}
	case C.PR_SIGNALLED:
		sr.Kind = proc.StopSignaled
		sr.Signal = int(lwp.pr_what)
	case C.PR_JOBCONTROL:
		sr.Kind = proc.StopJobControl
		sr.Signal = int(lwp.pr_what)
	case C.PR_SYSENTRY:
		sr.Kind = proc.StopSyscallEntry
		sr.Syscall = uint64(lwp.pr_what)
	case C.PR_SYSEXIT:
		sr.Kind = proc.StopSyscallExit
		sr.Syscall = uint64(lwp.pr_what)
	default:
		sr.Kind = proc.StopRequested
	}
	if sr.Kind == proc.StopSignaled && isJobControl(sys.Signal(sr.Signal)) {
		sr.Kind = proc.StopJobControl
	}
	return sr
}

func (dbp *nativeProcess) ContinueForStep(thi proc.ThreadInternal) error {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	th := thi.(*nativeThread)
	flags := C.int(C.PRCFAULT | C.PRCSIG)
	if th.singleStep {
		flags |= C.PRSTEP
	}
	return th.setrun(0, flags)
}

// WaitForStep waits for the lwp being stepped to stop again.
func (dbp *nativeProcess) WaitForStep(thi proc.ThreadInternal) (proc.StopReason, error) {
	th := thi.(*nativeThread)
	for {
		var (
			err error
			lwp C.lwpstatus_t
		)
		dbp.execPtraceFunc(func() {
			if rc, err1 := C.Lwait(th.os.lwp, 0); rc == -1 {
				err = err1
				return
			}
			lwp = *C.Lstatus(th.os.lwp)
		})
		if err != nil {
			select {
			case <-dbp.os.waitDone:
				dbp.postExit()
				return proc.StopReason{Kind: proc.StopExited, ExitCode: dbp.os.exitStatus}, proc.ErrProcessExited{Pid: dbp.pid, Status: dbp.os.exitStatus}
			default:
			}
			return proc.StopReason{}, th.oscall("Lwait", err)
		}
		sr := dbp.stopReason(&lwp)
		if sr.Kind == proc.StopFaulted {
			return sr, nil
		}
		sig := 0
		if sr.Kind == proc.StopSignaled {
			sig = sr.Signal
		}
		// the instruction did not complete, deliver the signal and step again
		if err := th.setrun(sig, C.PRSTEP|C.PRCFAULT); err != nil {
			return proc.StopReason{}, err
		}
	}
}

// KernelStep steps the whole process with PRSTEP.
func (dbp *nativeProcess) KernelStep() (proc.StopReason, error) {
	if err := dbp.checkValid(); err != nil {
		return proc.StopReason{}, err
	}
	if len(dbp.threads) != 1 {
		return proc.StopReason{}, &proc.ProtocolError{Op: "step process", Reason: fmt.Sprintf("process has %d threads", len(dbp.threads))}
	}
	for _, th := range dbp.threads {
		if err := th.setrun(0, C.PRSTEP|C.PRCFAULT); err != nil {
			return proc.StopReason{}, err
		}
		return dbp.WaitForStep(th)
	}
	return proc.StopReason{}, nil
}

// Kill kills the target process.
func (dbp *nativeProcess) Kill() (err error) {
	if dbp.exited {
		return nil
	}
	dbp.execPtraceFunc(func() {
		if rc, err1 := C.Psetrun(dbp.os.pr, C.SIGKILL, 0); rc == -1 {
			err = err1
		}
	})
	if err != nil {
		return proc.NewOSCallError("kill", dbp.pid, 0, err)
	}
	<-dbp.os.waitDone
	dbp.postExit()
	return nil
}

func (dbp *nativeProcess) quiesce() error { return nil }

func (dbp *nativeProcess) haltForDetach() (err error) {
	if !dbp.running {
		return nil
	}
	dbp.execPtraceFunc(func() {
		if rc, err1 := C.Pdstop(dbp.os.pr); rc == -1 {
			err = err1
		} else if rc, err1 = C.Pwait(dbp.os.pr, 0); rc == -1 {
			err = err1
		}
	})
	dbp.running = false
	return proc.NewOSCallError("stop", dbp.pid, 0, err)
}

func (dbp *nativeProcess) detach(kill bool) error {
	// this function is called from execPtraceFunc
	for _, th := range dbp.threads {
		C.Lfree(th.os.lwp)
	}
	C.Pclearfault(dbp.os.pr)
	flags := C.int(C.PRELEASE_CLEAR)
	if kill {
		flags = C.PRELEASE_KILL
	}
	C.Prelease(dbp.os.pr, flags)
	dbp.os.pr = nil
	return nil
}

// procMemory reads with a bulk Pread and falls back to single words for
// the part it could not transfer. Writes always go word by word so that
// the count of bytes written is exact.
type procMemory struct {
	dbp   *nativeProcess
	words *proc.WordCopier
}

func newProcMemory(dbp *nativeProcess) *procMemory {
	return &procMemory{dbp: dbp, words: proc.NewWordCopier(procWords{dbp}, 8, binary.LittleEndian)}
}

func (m *procMemory) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if err := m.dbp.checkValid(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	m.dbp.execPtraceFunc(func() {
		if rc, err1 := C.Pread(m.dbp.os.pr, unsafe.Pointer(&data[0]), C.ulong(len(data)), C.uintptr_t(addr)); rc == -1 {
			err = err1
		} else {
			n = int(rc)
		}
	})
	if err == nil && n == len(data) {
		return n, nil
	}
	if logflags.Memory() {
		logflags.MemoryLogger().Debugf("Pread %#x: %d of %d bytes: %v", addr, n, len(data), err)
	}
	m2, err := m.words.ReadMemory(data[n:], addr+uint64(n))
	return n + m2, err
}

func (m *procMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	if err := m.dbp.checkValid(); err != nil {
		return 0, err
	}
	return m.words.WriteMemory(addr, data)
}

// procWords moves single words with Pread and Pwrite.
type procWords struct {
	dbp *nativeProcess
}

func (w procWords) PeekWord(addr uint64) (uint64, error) {
	var (
		buf [8]byte
		err error
	)
	w.dbp.execPtraceFunc(func() {
		rc, err1 := C.Pread(w.dbp.os.pr, unsafe.Pointer(&buf[0]), C.ulong(len(buf)), C.uintptr_t(addr))
		switch {
		case rc == -1:
			err = err1
		case int(rc) < len(buf):
			err = syscall.EFAULT
		}
	})
	if err != nil {
		return 0, proc.NewOSCallError("Pread", w.dbp.pid, 0, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (w procWords) PokeWord(addr uint64, v uint64) error {
	var (
		buf [8]byte
		err error
	)
	binary.LittleEndian.PutUint64(buf[:], v)
	w.dbp.execPtraceFunc(func() {
		rc, err1 := C.Pwrite(w.dbp.os.pr, unsafe.Pointer(&buf[0]), C.ulong(len(buf)), C.uintptr_t(addr))
		switch {
		case rc == -1:
			err = err1
		case int(rc) < len(buf):
			err = syscall.EFAULT
		}
	})
	return proc.NewOSCallError("Pwrite", w.dbp.pid, 0, err)
}
