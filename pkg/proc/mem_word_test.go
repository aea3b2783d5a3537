package proc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

var errFaultyWord = errors.New("faulty word")

// fakeWords is a flat word addressable memory starting at base.
type fakeWords struct {
	base   uint64
	mem    []byte
	order  binary.ByteOrder
	wsize  int
	faulty map[uint64]bool

	peeks, pokes []uint64
}

func newFakeWords(base uint64, size, wsize int, order binary.ByteOrder) *fakeWords {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = byte(0xa0 + i)
	}
	return &fakeWords{base: base, mem: mem, order: order, wsize: wsize, faulty: map[uint64]bool{}}
}

func (f *fakeWords) check(addr uint64) error {
	if addr%uint64(f.wsize) != 0 {
		panic("misaligned word transfer")
	}
	if addr < f.base || addr+uint64(f.wsize) > f.base+uint64(len(f.mem)) || f.faulty[addr] {
		return errFaultyWord
	}
	return nil
}

func (f *fakeWords) PeekWord(addr uint64) (uint64, error) {
	f.peeks = append(f.peeks, addr)
	if err := f.check(addr); err != nil {
		return 0, err
	}
	b := f.mem[addr-f.base:]
	if f.wsize == 4 {
		return uint64(f.order.Uint32(b)), nil
	}
	return f.order.Uint64(b), nil
}

func (f *fakeWords) PokeWord(addr uint64, w uint64) error {
	f.pokes = append(f.pokes, addr)
	if err := f.check(addr); err != nil {
		return err
	}
	b := f.mem[addr-f.base:]
	if f.wsize == 4 {
		f.order.PutUint32(b, uint32(w))
	} else {
		f.order.PutUint64(b, w)
	}
	return nil
}

func TestWordCopierDecomposition(t *testing.T) {
	f := newFakeWords(0x1000, 64, 8, binary.LittleEndian)
	c := NewWordCopier(f, 8, binary.LittleEndian)

	data := make([]byte, 17)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := c.WriteMemory(0x1003, data)
	if err != nil || n != len(data) {
		t.Fatalf("WriteMemory: %d %v", n, err)
	}
	// head partial, one whole word, tail partial
	if len(f.pokes) != 3 {
		t.Fatalf("expected 3 word writes, got %#x", f.pokes)
	}
	if len(f.peeks) != 2 {
		t.Fatalf("expected 2 word reads, got %#x", f.peeks)
	}
	if f.peeks[0] != 0x1000 || f.peeks[1] != 0x1010 {
		t.Fatalf("partial words read at %#x", f.peeks)
	}
	if f.pokes[0] != 0x1000 || f.pokes[1] != 0x1008 || f.pokes[2] != 0x1010 {
		t.Fatalf("words written at %#x", f.pokes)
	}
	if !bytes.Equal(f.mem[3:20], data) {
		t.Fatalf("memory mismatch % x", f.mem[:24])
	}
	if f.mem[2] != 0xa2 || f.mem[20] != 0xa0+20 {
		t.Fatalf("neighbouring bytes clobbered % x", f.mem[:24])
	}
}

func TestWordCopierUnalignedRoundTrip(t *testing.T) {
	for _, wsize := range []int{4, 8} {
		for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
			for off := 0; off < wsize; off++ {
				for length := 1; length <= 3*wsize; length++ {
					f := newFakeWords(0x2000, 64, wsize, order)
					orig := append([]byte(nil), f.mem...)
					c := NewWordCopier(f, wsize, order)

					data := make([]byte, length)
					for i := range data {
						data[i] = byte(0x10 + i)
					}
					addr := uint64(0x2000 + wsize + off)
					if n, err := c.WriteMemory(addr, data); err != nil || n != length {
						t.Fatalf("ws=%d off=%d len=%d: write %d %v", wsize, off, length, n, err)
					}
					got := make([]byte, length)
					if n, err := c.ReadMemory(got, addr); err != nil || n != length {
						t.Fatalf("ws=%d off=%d len=%d: read %d %v", wsize, off, length, n, err)
					}
					if !bytes.Equal(got, data) {
						t.Fatalf("ws=%d off=%d len=%d: read back % x, wrote % x", wsize, off, length, got, data)
					}
					start := wsize + off
					if !bytes.Equal(f.mem[:start], orig[:start]) || !bytes.Equal(f.mem[start+length:], orig[start+length:]) {
						t.Fatalf("ws=%d off=%d len=%d: bytes outside the span changed", wsize, off, length)
					}
				}
			}
		}
	}
}

func TestWordCopierShortWrite(t *testing.T) {
	run := func() (int, []byte, error) {
		f := newFakeWords(0x1000, 64, 8, binary.LittleEndian)
		f.faulty[0x1010] = true
		c := NewWordCopier(f, 8, binary.LittleEndian)
		data := bytes.Repeat([]byte{0xee}, 17)
		n, err := c.WriteMemory(0x1003, data)
		return n, f.mem, err
	}
	n1, mem1, err1 := run()
	if !errors.Is(err1, errFaultyWord) {
		t.Fatalf("expected faulty word error, got %v", err1)
	}
	if n1 != 13 {
		t.Fatalf("expected 13 bytes written, got %d", n1)
	}
	for i := 3; i < 16; i++ {
		if mem1[i] != 0xee {
			t.Fatalf("byte %d not written", i)
		}
	}
	for i := 16; i < 24; i++ {
		if mem1[i] != byte(0xa0+i) {
			t.Fatalf("byte %d past the failure point was touched", i)
		}
	}
	n2, mem2, err2 := run()
	if n1 != n2 || err1.Error() != err2.Error() || !bytes.Equal(mem1, mem2) {
		t.Fatalf("short write is not deterministic: %d %v / %d %v", n1, err1, n2, err2)
	}
}

func TestWordCopierShortRead(t *testing.T) {
	f := newFakeWords(0x1000, 32, 8, binary.LittleEndian)
	c := NewWordCopier(f, 8, binary.LittleEndian)
	buf := make([]byte, 16)
	n, err := c.ReadMemory(buf, 0x1014)
	if err == nil || n != 12 {
		t.Fatalf("expected 12 bytes and an error, got %d %v", n, err)
	}
	if !bytes.Equal(buf[:12], f.mem[0x14:0x20]) {
		t.Fatalf("short read returned % x", buf[:n])
	}
}

func TestWordCopierWholeWordsSkipRead(t *testing.T) {
	f := newFakeWords(0x1000, 64, 4, binary.BigEndian)
	c := NewWordCopier(f, 4, binary.BigEndian)
	if _, err := c.WriteMemory(0x1008, make([]byte, 16)); err != nil {
		t.Fatal(err)
	}
	if len(f.peeks) != 0 || len(f.pokes) != 4 {
		t.Fatalf("aligned write: %d reads %d writes", len(f.peeks), len(f.pokes))
	}
}
