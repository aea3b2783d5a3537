//go:build linux || solaris || (darwin && macnative)
// +build linux solaris darwin,macnative

package native

import (
	"os"
	"runtime"
	"sort"

	"go.uber.org/atomic"

	"github.com/go-delve/tele/pkg/logflags"
	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/regset"
)

// nativeProcess represents all of the information the inspector is
// holding onto regarding the process under control.
type nativeProcess struct {
	pid      int
	isa      regset.ISA
	pageSize int

	// List of threads mapped as such: tid -> *nativeThread
	threads map[int]*nativeThread

	os             *osProcessDetails
	mem            proc.MemoryReadWriter
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	childProcess   bool // this process was launched, not attached to
	ctty           *os.File

	interception  proc.Interception
	stopRequested *atomic.Bool
	running       bool

	exited, detached bool

	log logflags.Logger
}

// nativeThread represents a single thread in the target process.
type nativeThread struct {
	ID  int
	dbp *nativeProcess

	singleStep bool
	os         *osSpecificDetails
}

// newProcess returns an initialized nativeProcess struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int) *nativeProcess {
	dbp := &nativeProcess{
		pid:            pid,
		isa:            nativeISA(),
		threads:        make(map[int]*nativeThread),
		os:             new(osProcessDetails),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		stopRequested:  atomic.NewBool(false),
		log:            logflags.PtraceLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

func nativeISA() regset.ISA {
	isa, err := regset.ParseISA(runtime.GOARCH)
	if err != nil {
		return regset.UnknownISA
	}
	return isa
}

// newTarget hands the stopped process over to the process controller. The
// process is detached (and killed, if it was launched) when that fails.
func (dbp *nativeProcess) newTarget(cfg proc.TargetConfig) (*proc.Target, error) {
	dbp.log = dbp.log.WithField("pid", dbp.pid)
	dbp.interception = cfg.Interception
	tgt, err := proc.NewTarget(dbp, cfg)
	if err != nil {
		dbp.Detach(dbp.childProcess)
		return nil, err
	}
	return tgt, nil
}

// Pid returns the process ID.
func (dbp *nativeProcess) Pid() int { return dbp.pid }

func (dbp *nativeProcess) ISA() regset.ISA { return dbp.isa }

func (dbp *nativeProcess) PageSize() int { return dbp.pageSize }

func (dbp *nativeProcess) Memory() proc.MemoryReadWriter { return dbp.mem }

// ThreadList enumerates the threads of the process again and returns them.
func (dbp *nativeProcess) ThreadList() ([]proc.ThreadInternal, error) {
	if err := dbp.checkValid(); err != nil {
		return nil, err
	}
	if err := dbp.updateThreadList(); err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(dbp.threads))
	for tid := range dbp.threads {
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	r := make([]proc.ThreadInternal, 0, len(tids))
	for _, tid := range tids {
		r = append(r, dbp.threads[tid])
	}
	return r, nil
}

func (dbp *nativeProcess) checkValid() error {
	if dbp.detached {
		return proc.ProcessDetachedError{}
	}
	if dbp.exited {
		return proc.ErrProcessExited{Pid: dbp.pid}
	}
	return nil
}

// Detach from the process, optionally killing it.
func (dbp *nativeProcess) Detach(kill bool) (err error) {
	if err := dbp.quiesce(); err != nil {
		return err
	}
	if dbp.exited {
		return nil
	}
	if kill && dbp.childProcess {
		return dbp.Kill()
	}
	if err := dbp.haltForDetach(); err != nil {
		return err
	}
	dbp.execPtraceFunc(func() {
		err = dbp.detach(kill)
	})
	if err != nil {
		return err
	}
	dbp.detached = true
	dbp.postExit()
	return nil
}

func (dbp *nativeProcess) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *nativeProcess) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

func (dbp *nativeProcess) postExit() {
	if dbp.exited && dbp.ptraceChan == nil {
		return
	}
	dbp.exited = true
	dbp.running = false
	close(dbp.ptraceChan)
	close(dbp.ptraceDoneChan)
	dbp.ptraceChan = nil
	if dbp.ctty != nil {
		dbp.ctty.Close()
	}
	dbp.os.Close()
}

// exitError builds the error returned once the process is gone.
func (dbp *nativeProcess) exitError(status int) error {
	dbp.postExit()
	return proc.ErrProcessExited{Pid: dbp.pid, Status: status}
}

func (t *nativeThread) ThreadID() int { return t.ID }

// oscall wraps a failed operating system call on this thread.
func (t *nativeThread) oscall(op string, err error) error {
	return proc.NewOSCallError(op, t.dbp.pid, t.ID, err)
}
