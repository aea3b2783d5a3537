package proc

import (
	"encoding/binary"

	"github.com/go-delve/tele/pkg/logflags"
)

// WordTransport moves one machine word at a time, addr is always aligned
// to the word size. It is implemented with PTRACE_PEEKDATA/POKEDATA on
// linux and with single word Pread/Pwrite calls on solaris.
type WordTransport interface {
	PeekWord(addr uint64) (uint64, error)
	PokeWord(addr uint64, word uint64) error
}

// WordCopier implements MemoryReadWriter on top of a WordTransport.
// A misaligned head or tail of a span costs one word read (and, for
// writes, one word write back with the neighbouring bytes preserved);
// every whole word in between is a single transfer.
type WordCopier struct {
	t        WordTransport
	wordSize int
	order    binary.ByteOrder
}

// NewWordCopier returns a WordCopier for words of wordSize bytes (4 or 8)
// stored in order.
func NewWordCopier(t WordTransport, wordSize int, order binary.ByteOrder) *WordCopier {
	return &WordCopier{t: t, wordSize: wordSize, order: order}
}

func (c *WordCopier) encode(buf []byte, w uint64) {
	if c.wordSize == 4 {
		c.order.PutUint32(buf, uint32(w))
		return
	}
	c.order.PutUint64(buf, w)
}

func (c *WordCopier) decode(buf []byte) uint64 {
	if c.wordSize == 4 {
		return uint64(c.order.Uint32(buf))
	}
	return c.order.Uint64(buf)
}

// wordSpan is the part of a transfer that falls into one word.
type wordSpan struct {
	base  uint64 // aligned address of the word
	off   int    // first byte of the word that is transferred
	count int    // bytes of the word that are transferred
}

func (s wordSpan) partial(wordSize int) bool {
	return s.off != 0 || s.count != wordSize
}

// spans splits [addr, addr+length) into words.
func (c *WordCopier) spans(addr uint64, length int) []wordSpan {
	ws := uint64(c.wordSize)
	var r []wordSpan
	for length > 0 {
		base := addr &^ (ws - 1)
		off := int(addr - base)
		count := c.wordSize - off
		if count > length {
			count = length
		}
		r = append(r, wordSpan{base, off, count})
		addr += uint64(count)
		length -= count
	}
	return r
}

func (c *WordCopier) ReadMemory(buf []byte, addr uint64) (int, error) {
	n := 0
	word := make([]byte, c.wordSize)
	for _, s := range c.spans(addr, len(buf)) {
		w, err := c.t.PeekWord(s.base)
		if err != nil {
			return n, err
		}
		c.encode(word, w)
		copy(buf[n:], word[s.off:s.off+s.count])
		n += s.count
	}
	return n, nil
}

func (c *WordCopier) WriteMemory(addr uint64, data []byte) (int, error) {
	n := 0
	word := make([]byte, c.wordSize)
	for _, s := range c.spans(addr, len(data)) {
		if s.partial(c.wordSize) {
			w, err := c.t.PeekWord(s.base)
			if err != nil {
				return n, err
			}
			c.encode(word, w)
		}
		copy(word[s.off:], data[n:n+s.count])
		if err := c.t.PokeWord(s.base, c.decode(word)); err != nil {
			if logflags.Memory() {
				logflags.MemoryLogger().Debugf("short write at %#x: %d of %d bytes written: %v", addr, n, len(data), err)
			}
			return n, err
		}
		n += s.count
	}
	return n, nil
}
