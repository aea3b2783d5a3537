package native

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-delve/tele/pkg/logflags"
	"github.com/go-delve/tele/pkg/proc"
)

// processMemory reads with process_vm_readv and falls back to
// /proc/<pid>/mem for pages the target itself can not read. Writes go
// through PTRACE_POKEDATA so that read only mappings, such as code, can
// be patched.
type processMemory struct {
	dbp   *nativeProcess
	words *proc.WordCopier
	pages *proc.PageCopier // nil if /proc/<pid>/mem could not be opened
}

func newProcessMemory(dbp *nativeProcess) *processMemory {
	mem := &processMemory{
		dbp:   dbp,
		words: proc.NewWordCopier(wordTransport{dbp}, 8, binary.LittleEndian),
	}
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", dbp.pid), os.O_RDWR, 0)
	if err != nil {
		dbp.log.Debugf("can not open process memory: %v", err)
		return mem
	}
	dbp.os.memFile = f
	mem.pages = proc.NewPageCopier(&procMemPages{dbp: dbp, f: f}, dbp.pageSize)
	return mem
}

func (mem *processMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := mem.dbp.checkValid(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := processVmRead(mem.dbp.pid, uintptr(addr), buf)
	if err == nil && n == len(buf) {
		return n, nil
	}
	if logflags.Memory() {
		logflags.MemoryLogger().Debugf("process_vm_readv %#x: %d of %d bytes: %v", addr, n, len(buf), err)
	}
	rest := buf[n:]
	var m int
	if mem.pages != nil {
		m, err = mem.pages.ReadMemory(rest, addr+uint64(n))
	} else {
		m, err = mem.words.ReadMemory(rest, addr+uint64(n))
	}
	return n + m, err
}

func (mem *processMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	if err := mem.dbp.checkValid(); err != nil {
		return 0, err
	}
	return mem.words.WriteMemory(addr, data)
}

// wordTransport moves single words with PTRACE_PEEKDATA and
// PTRACE_POKEDATA on the thread that owns the ptrace session.
type wordTransport struct {
	dbp *nativeProcess
}

func (w wordTransport) PeekWord(addr uint64) (v uint64, err error) {
	tid := w.dbp.memthread()
	w.dbp.execPtraceFunc(func() { v, err = ptracePeekWord(tid, addr) })
	return v, proc.NewOSCallError("peek data", w.dbp.pid, tid, err)
}

func (w wordTransport) PokeWord(addr uint64, v uint64) (err error) {
	tid := w.dbp.memthread()
	w.dbp.execPtraceFunc(func() { err = ptracePokeWord(tid, addr, v) })
	return proc.NewOSCallError("poke data", w.dbp.pid, tid, err)
}

// procMemPages copies whole pages out of /proc/<pid>/mem.
type procMemPages struct {
	dbp *nativeProcess
	f   *os.File
}

func (m *procMemPages) MapPages(base uint64, size int) (proc.PageMapping, error) {
	buf := make([]byte, size)
	n, err := m.f.ReadAt(buf, int64(base))
	if n < size {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, proc.NewOSCallError("read process memory", m.dbp.pid, 0, err)
	}
	return pageBuffer(buf), nil
}

func (m *procMemPages) WriteRange(addr uint64, data []byte) (int, error) {
	n, err := m.f.WriteAt(data, int64(addr))
	return n, proc.NewOSCallError("write process memory", m.dbp.pid, 0, err)
}

// pageBuffer is a page copy that lives in our own heap.
type pageBuffer []byte

func (b pageBuffer) Bytes() []byte { return b }

func (b pageBuffer) Release(size int) error {
	if size != len(b) {
		return fmt.Errorf("releasing %d bytes of a %d byte copy", size, len(b))
	}
	return nil
}
