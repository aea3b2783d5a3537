package proc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeMapping struct {
	buf      []byte
	released *[]int
}

func (m *fakeMapping) Bytes() []byte { return m.buf }

func (m *fakeMapping) Release(size int) error {
	*m.released = append(*m.released, size)
	return nil
}

// fakePages maps the pages of a flat memory, pages at or after limit are
// not readable.
type fakePages struct {
	base     uint64
	mem      []byte
	limit    uint64
	mapped   []int
	released []int
}

func (f *fakePages) MapPages(base uint64, size int) (PageMapping, error) {
	if base < f.base || base+uint64(size) > f.limit {
		return nil, errors.New("unmapped")
	}
	f.mapped = append(f.mapped, size)
	buf := append([]byte(nil), f.mem[base-f.base:base-f.base+uint64(size)]...)
	return &fakeMapping{buf: buf, released: &f.released}, nil
}

func (f *fakePages) WriteRange(addr uint64, data []byte) (int, error) {
	return copy(f.mem[addr-f.base:], data), nil
}

func newFakePages(pages int, readable int) *fakePages {
	mem := make([]byte, pages*0x1000)
	for i := range mem {
		mem[i] = byte(i * 7)
	}
	return &fakePages{base: 0x10000, mem: mem, limit: 0x10000 + uint64(readable*0x1000)}
}

func TestPagesFor(t *testing.T) {
	for _, tc := range []struct {
		addr   uint64
		length int
		base   uint64
		size   int
	}{
		{0x10000, 1, 0x10000, 0x1000},
		{0x10ff0, 0x10, 0x10000, 0x1000},
		{0x10ff0, 0x11, 0x10000, 0x2000},
		{0x10000, 0x1000, 0x10000, 0x1000},
		{0x10001, 0x1000, 0x10000, 0x2000},
		{0x10800, 0x2000, 0x10000, 0x3000},
	} {
		base, size := pagesFor(tc.addr, tc.length, 0x1000)
		if base != tc.base || size != tc.size {
			t.Errorf("pagesFor(%#x, %#x) = %#x %#x, expected %#x %#x", tc.addr, tc.length, base, size, tc.base, tc.size)
		}
	}
}

func TestPageCopyRelease(t *testing.T) {
	f := newFakePages(4, 4)
	c := NewPageCopier(f, 0x1000)

	pc, err := c.Fetch(0x10ff8, 0x10)
	if err != nil {
		t.Fatal(err)
	}
	if pc.Size() != 0x2000 {
		t.Fatalf("expected two pages, got %#x", pc.Size())
	}
	if !bytes.Equal(pc.Bytes(), f.mem[0xff8:0x1008]) {
		t.Fatalf("wrong bytes % x", pc.Bytes())
	}
	if err := pc.Release(); err != nil {
		t.Fatal(err)
	}
	if err := pc.Release(); err != nil {
		t.Fatal(err)
	}
	if len(f.released) != 1 || f.released[0] != 0x2000 {
		t.Fatalf("released %#x", f.released)
	}
	if pc.Bytes() != nil {
		t.Fatal("bytes still available after release")
	}
}

func TestPageCopierReadFallback(t *testing.T) {
	f := newFakePages(4, 2)
	c := NewPageCopier(f, 0x1000)

	buf := make([]byte, 0x20)
	n, err := c.ReadMemory(buf, 0x11ff0)
	if err == nil {
		t.Fatal("expected an error reading into an unmapped page")
	}
	if n != 0x10 {
		t.Fatalf("expected 16 bytes, got %d", n)
	}
	if !bytes.Equal(buf[:n], f.mem[0x1ff0:0x2000]) {
		t.Fatalf("wrong bytes % x", buf[:n])
	}
	if len(f.mapped) != len(f.released) {
		t.Fatalf("mapped %#x released %#x", f.mapped, f.released)
	}
	for i := range f.mapped {
		if f.mapped[i] != f.released[i] {
			t.Fatalf("mapped %#x released %#x", f.mapped, f.released)
		}
	}
}

// shortPages returns copies shorter than requested whose release fails.
type shortPages struct{ fakePages }

type shortMapping struct{ buf []byte }

func (m shortMapping) Bytes() []byte { return m.buf }

func (m shortMapping) Release(size int) error {
	return fmt.Errorf("can not release %d bytes", size)
}

func (f *shortPages) MapPages(base uint64, size int) (PageMapping, error) {
	return shortMapping{buf: make([]byte, size/2)}, nil
}

func TestPageCopierShortCopy(t *testing.T) {
	c := NewPageCopier(&shortPages{}, 0x1000)
	_, err := c.Fetch(0x10000, 0x10)
	if err == nil {
		t.Fatal("short copy accepted")
	}
	if !strings.Contains(err.Error(), "short page copy") || !strings.Contains(err.Error(), "can not release 4096 bytes") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPageCopierWrite(t *testing.T) {
	f := newFakePages(2, 2)
	c := NewPageCopier(f, 0x1000)
	if n, err := c.WriteMemory(0x10ffd, []byte{1, 2, 3, 4, 5}); n != 5 || err != nil {
		t.Fatalf("write: %d %v", n, err)
	}
	buf := make([]byte, 5)
	if n, err := c.ReadMemory(buf, 0x10ffd); n != 5 || err != nil {
		t.Fatalf("read: %d %v", n, err)
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("read back % x", buf)
	}
}
