package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ThreadLocalSlots are the byte offsets of the fields of a thread-locals
// block. A negative Prev disables the back link check.
type ThreadLocalSlots struct {
	ID        int // managed thread identity
	Handle    int // OS thread ID of the thread owning the block
	StackBase int
	StackSize int
	Next      int // address of the next block, 0 ends the list
	Prev      int
}

// ThreadLocalsLayout describes where the runtime keeps its list of
// thread-locals blocks, as published by the boot image header.
type ThreadLocalsLayout struct {
	// ListHead is the address of the word holding the address of the first
	// block.
	ListHead  uint64
	WordSize  int
	ByteOrder binary.ByteOrder
	Slots     ThreadLocalSlots

	// MaxThreads bounds the walk, zero means defaultMaxThreadLocals.
	MaxThreads int
}

const defaultMaxThreadLocals = 1 << 14

// ThreadLocals is one block found by CorrelateThreadLocals.
type ThreadLocals struct {
	Addr      uint64
	ID        int64
	Handle    int
	StackBase uint64
	StackSize uint64

	// Thread is the OS thread the block belongs to, nil when the handle
	// does not name a live thread of the target.
	Thread *Thread
}

var errCorruptThreadLocals = errors.New("corrupt thread locals list")

// CorrelateThreadLocals walks the thread-locals list described by layout
// and matches every block to the OS thread named by its handle. Matched
// threads get the managed ID and the stack bounds recorded in the block.
// Memory is only read.
func (t *Target) CorrelateThreadLocals(layout ThreadLocalsLayout) ([]ThreadLocals, error) {
	const op = "correlate thread locals"
	if err := t.checkState(op, StateStopped); err != nil {
		return nil, err
	}
	if layout.WordSize != 4 && layout.WordSize != 8 {
		return nil, &ProtocolError{Op: op, Reason: fmt.Sprintf("invalid word size %d", layout.WordSize)}
	}
	if layout.ByteOrder == nil {
		layout.ByteOrder = t.arch.ByteOrder()
	}
	max := layout.MaxThreads
	if max <= 0 {
		max = defaultMaxThreadLocals
	}

	word := make([]byte, layout.WordSize)
	read := func(addr uint64) (uint64, error) {
		n, err := t.ReadMemory(word, addr)
		if err != nil {
			return 0, err
		}
		if n != len(word) {
			return 0, fmt.Errorf("short read at %#x", addr)
		}
		if layout.WordSize == 4 {
			return uint64(layout.ByteOrder.Uint32(word)), nil
		}
		return layout.ByteOrder.Uint64(word), nil
	}

	head, err := read(layout.ListHead)
	if err != nil {
		return nil, fmt.Errorf("reading thread locals list head: %w", err)
	}

	var r []ThreadLocals
	seen := make(map[uint64]bool)
	prev := uint64(0)
	for addr := head; addr != 0; {
		if seen[addr] {
			return r, fmt.Errorf("%w: cycle at %#x", errCorruptThreadLocals, addr)
		}
		if len(r) >= max {
			return r, fmt.Errorf("%w: more than %d blocks", errCorruptThreadLocals, max)
		}
		seen[addr] = true

		var fields [6]uint64
		offsets := [6]int{layout.Slots.ID, layout.Slots.Handle, layout.Slots.StackBase, layout.Slots.StackSize, layout.Slots.Next, layout.Slots.Prev}
		for i, off := range offsets {
			if off < 0 {
				continue
			}
			if fields[i], err = read(addr + uint64(off)); err != nil {
				return r, fmt.Errorf("reading thread locals at %#x: %w", addr, err)
			}
		}
		if layout.Slots.Prev >= 0 && fields[5] != prev {
			return r, fmt.Errorf("%w: block %#x links back to %#x instead of %#x", errCorruptThreadLocals, addr, fields[5], prev)
		}

		tl := ThreadLocals{
			Addr:      addr,
			ID:        int64(fields[0]),
			Handle:    int(fields[1]),
			StackBase: fields[2],
			StackSize: fields[3],
		}
		if layout.WordSize == 4 {
			tl.ID = int64(int32(fields[0]))
		}
		r = append(r, tl)
		prev, addr = addr, fields[4]
	}

	var dropped []*Thread
	for _, th := range t.order {
		th.managedID = -1
		if th.managedStacks {
			dropped = append(dropped, th)
		}
		th.managedStacks = false
	}
	for i := range r {
		th, ok := t.threads[r[i].Handle]
		if !ok {
			continue
		}
		r[i].Thread = th
		th.managedID = r[i].ID
		if r[i].StackSize != 0 {
			th.stackBase, th.stackSize = r[i].StackBase, r[i].StackSize
			th.managedStacks = true
		}
	}
	// threads no longer published by the runtime go back to the bounds of
	// their OS stack
	for _, th := range dropped {
		if !th.managedStacks {
			th.refresh()
		}
	}
	return r, nil
}
