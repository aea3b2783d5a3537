package proc

import (
	"bytes"
	"testing"
)

type countingMemory struct {
	fakePages
	reads int
}

func (m *countingMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.reads++
	c := NewPageCopier(&m.fakePages, 0x1000)
	return c.ReadMemory(buf, addr)
}

func (m *countingMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	return m.WriteRange(addr, data)
}

func TestPageCacheReadsWholePages(t *testing.T) {
	mem := &countingMemory{fakePages: *newFakePages(4, 4)}
	pc := newPageCache(mem, 8, 0x1000)

	buf := make([]byte, 0x20)
	for i := 0; i < 3; i++ {
		if n, err := pc.ReadMemory(buf, 0x10ff0); n != len(buf) || err != nil {
			t.Fatalf("read: %d %v", n, err)
		}
	}
	if !bytes.Equal(buf, mem.mem[0xff0:0x1010]) {
		t.Fatalf("wrong bytes % x", buf)
	}
	if mem.reads != 2 || pc.len() != 2 {
		t.Fatalf("expected two page reads, got %d (%d cached)", mem.reads, pc.len())
	}

	pc.invalidate(0x11000, 1)
	if pc.len() != 1 {
		t.Fatalf("invalidate left %d pages", pc.len())
	}
	pc.flush()
	if pc.len() != 0 {
		t.Fatalf("flush left %d pages", pc.len())
	}
}

func TestPageCacheUnreadablePage(t *testing.T) {
	mem := &countingMemory{fakePages: *newFakePages(4, 1)}
	pc := newPageCache(mem, 8, 0x1000)
	buf := make([]byte, 0x20)
	n, err := pc.ReadMemory(buf, 0x10ff0)
	if err == nil || n != 0x10 {
		t.Fatalf("expected a short read, got %d %v", n, err)
	}
}

func TestNilPageCache(t *testing.T) {
	pc := newPageCache(nil, 0, 0x1000)
	if pc != nil {
		t.Fatal("expected no cache")
	}
	pc.flush()
	pc.invalidate(0, 10)
	if pc.len() != 0 {
		t.Fatal("nil cache has pages")
	}
}
