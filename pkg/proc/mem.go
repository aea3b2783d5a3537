package proc

import (
	"os"
	"sync"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory reads len(buf) bytes at addr. A short count is returned
	// together with the error that stopped the transfer.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter is the remote memory accessor of a target.
//
// Writes are best effort: when the operating system refuses a transfer
// halfway through a span the bytes before the failure point have already
// been written and stay written, the count returned says how many. Nothing
// past the failure point is touched.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

var (
	pageSize     int
	pageSizeOnce sync.Once
)

// PageSize returns the process wide page size. It is initialized on first
// use from the operating system unless SetPageSize was called before.
func PageSize() int {
	pageSizeOnce.Do(func() {
		if pageSize == 0 {
			pageSize = os.Getpagesize()
		}
	})
	return pageSize
}

// SetPageSize overrides the page size. It has no effect once PageSize has
// been called.
func SetPageSize(sz int) {
	pageSizeOnce.Do(func() {
		pageSize = sz
	})
}
