package proc

import (
	"errors"
	"fmt"
)

// PageMapping is a copy of target pages held in memory allocated by the
// operating system (mach_vm_read on darwin).
type PageMapping interface {
	// Bytes returns the copied pages.
	Bytes() []byte
	// Release returns the memory to the operating system, size is the
	// size that was requested from MapPages.
	Release(size int) error
}

// PageMapper is the page granular transport of the page copy strategy.
type PageMapper interface {
	// MapPages copies size bytes starting at the page aligned address base.
	MapPages(base uint64, size int) (PageMapping, error)
	// WriteRange writes data at addr, without alignment requirements.
	WriteRange(addr uint64, data []byte) (int, error)
}

// PageCopy is the result of a page copy read. The caller owns it until
// Release is called, after which Bytes must not be used.
type PageCopy struct {
	mapping  PageMapping
	size     int // exactly what was passed to MapPages
	off      int
	length   int
	released bool
}

// Bytes returns the requested span inside the copied pages.
func (pc *PageCopy) Bytes() []byte {
	if pc.released {
		return nil
	}
	return pc.mapping.Bytes()[pc.off : pc.off+pc.length]
}

// Size returns the number of bytes mapped, a multiple of the page size.
func (pc *PageCopy) Size() int { return pc.size }

// Release frees the pages, it can be called more than once.
func (pc *PageCopy) Release() error {
	if pc.released {
		return nil
	}
	pc.released = true
	return pc.mapping.Release(pc.size)
}

// PageCopier implements MemoryReadWriter with the page copy strategy.
type PageCopier struct {
	m        PageMapper
	pageSize int
}

// NewPageCopier returns a PageCopier, pageSize must be a power of two.
func NewPageCopier(m PageMapper, pageSize int) *PageCopier {
	return &PageCopier{m: m, pageSize: pageSize}
}

// pagesFor returns the page aligned base and the size of the pages
// covering [addr, addr+length). A single page is fetched unless the span
// crosses into the next one.
func pagesFor(addr uint64, length, pageSize int) (base uint64, size int) {
	ps := uint64(pageSize)
	base = addr &^ (ps - 1)
	off := int(addr - base)
	if off+length <= pageSize {
		return base, pageSize
	}
	npages := (off + length + pageSize - 1) / pageSize
	return base, npages * pageSize
}

// Fetch copies the pages covering [addr, addr+length). The returned
// PageCopy must be released.
func (c *PageCopier) Fetch(addr uint64, length int) (*PageCopy, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid length %d", length)
	}
	base, size := pagesFor(addr, length, c.pageSize)
	m, err := c.m.MapPages(base, size)
	if err != nil {
		return nil, err
	}
	if got := len(m.Bytes()); got < size {
		err := fmt.Errorf("short page copy at %#x: %d of %d bytes", base, got, size)
		if rerr := m.Release(size); rerr != nil {
			err = errors.Join(err, fmt.Errorf("releasing page copy at %#x: %w", base, rerr))
		}
		return nil, err
	}
	return &PageCopy{mapping: m, size: size, off: int(addr - base), length: length}, nil
}

// ReadMemory reads through Fetch. When the pages covering the whole span
// can not be copied it falls back to one page at a time and returns the
// bytes read up to the first unreadable page.
func (c *PageCopier) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if n, err := c.readSpan(buf, addr); err == nil {
		return n, nil
	}
	n := 0
	for n < len(buf) {
		a := addr + uint64(n)
		chunk := c.pageSize - int(a&uint64(c.pageSize-1))
		if chunk > len(buf)-n {
			chunk = len(buf) - n
		}
		m, err := c.readSpan(buf[n:n+chunk], a)
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *PageCopier) readSpan(buf []byte, addr uint64) (int, error) {
	pc, err := c.Fetch(addr, len(buf))
	if err != nil {
		return 0, err
	}
	n := copy(buf, pc.Bytes())
	return n, pc.Release()
}

func (c *PageCopier) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return c.m.WriteRange(addr, data)
}
