package proc

import (
	lru "github.com/hashicorp/golang-lru"
)

// pageCache keeps whole target pages read while the target is stopped.
// It must be flushed every time the target runs.
type pageCache struct {
	pages    *lru.Cache
	pageSize int
	mem      MemoryReadWriter
}

// newPageCache returns nil when capacity is not positive, a nil
// *pageCache passes every access through to mem.
func newPageCache(mem MemoryReadWriter, capacity, pageSize int) *pageCache {
	if capacity <= 0 {
		return nil
	}
	c, err := lru.New(capacity)
	if err != nil {
		return nil
	}
	return &pageCache{pages: c, pageSize: pageSize, mem: mem}
}

func (pc *pageCache) base(addr uint64) uint64 {
	return addr &^ uint64(pc.pageSize-1)
}

// page returns the cached copy of the page at base, reading it if needed.
func (pc *pageCache) page(base uint64) ([]byte, bool) {
	if v, ok := pc.pages.Get(base); ok {
		return v.([]byte), true
	}
	buf := make([]byte, pc.pageSize)
	n, err := pc.mem.ReadMemory(buf, base)
	if err != nil || n != len(buf) {
		return nil, false
	}
	pc.pages.Add(base, buf)
	return buf, true
}

func (pc *pageCache) ReadMemory(buf []byte, addr uint64) (int, error) {
	if pc == nil {
		return 0, nil
	}
	n := 0
	for n < len(buf) {
		a := addr + uint64(n)
		base := pc.base(a)
		p, ok := pc.page(base)
		if !ok {
			// unreadable page, let the backend report how far it gets
			m, err := pc.mem.ReadMemory(buf[n:], a)
			return n + m, err
		}
		n += copy(buf[n:], p[a-base:])
	}
	return n, nil
}

// invalidate drops the pages overlapping [addr, addr+length).
func (pc *pageCache) invalidate(addr uint64, length int) {
	if pc == nil || length <= 0 {
		return
	}
	end := addr + uint64(length)
	for base := pc.base(addr); base < end; base += uint64(pc.pageSize) {
		pc.pages.Remove(base)
		if base+uint64(pc.pageSize) < base {
			break
		}
	}
}

func (pc *pageCache) flush() {
	if pc == nil {
		return
	}
	pc.pages.Purge()
}

func (pc *pageCache) len() int {
	if pc == nil {
		return 0
	}
	return pc.pages.Len()
}
