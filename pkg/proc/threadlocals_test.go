package proc_test

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-delve/tele/pkg/proc"
	protest "github.com/go-delve/tele/pkg/proc/test"
)

const listHead = 0x20000

var tlsLayout = proc.ThreadLocalsLayout{
	ListHead: listHead,
	WordSize: 8,
	Slots:    proc.ThreadLocalSlots{ID: 0, Handle: 8, StackBase: 16, StackSize: 24, Next: 32, Prev: 40},
}

type tlsBlock struct {
	addr                                         uint64
	id, handle, stackBase, stackSize, next, prev uint64
}

func loadBlocks(p *protest.SimProcess, blocks ...tlsBlock) {
	word := func(addr, v uint64) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		p.Mem.Load(addr, buf)
	}
	if len(blocks) > 0 {
		word(listHead, blocks[0].addr)
	} else {
		word(listHead, 0)
	}
	for _, b := range blocks {
		for i, v := range []uint64{b.id, b.handle, b.stackBase, b.stackSize, b.next, b.prev} {
			word(b.addr+uint64(8*i), v)
		}
	}
}

func TestCorrelateThreadLocals(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1, 2, 3)
	p.Thread(1).StackBase, p.Thread(1).StackSize = 0x1000, 0x100
	loadBlocks(p,
		tlsBlock{addr: 0x21000, id: 1, handle: 3, stackBase: 0xc000000000, stackSize: 0x8000, next: 0x21100},
		tlsBlock{addr: 0x21100, id: 2, handle: 99, next: 0x21200, prev: 0x21000},
		tlsBlock{addr: 0x21200, id: 7, handle: 1, stackBase: 0xc000100000, stackSize: 0x2000, prev: 0x21100},
	)

	tls, err := tgt.CorrelateThreadLocals(tlsLayout)
	if err != nil {
		t.Fatal(err)
	}
	if len(tls) != 3 {
		t.Fatalf("found %d blocks", len(tls))
	}
	if tls[0].Thread == nil || tls[0].Thread.ID() != 3 || tls[1].Thread != nil || tls[2].Thread == nil || tls[2].Thread.ID() != 1 {
		t.Fatalf("wrong correlation %v", tls)
	}

	th1, _ := tgt.FindThread(1)
	th2, _ := tgt.FindThread(2)
	if id, ok := th1.ManagedID(); !ok || id != 7 {
		t.Fatalf("thread 1 managed id %d %v", id, ok)
	}
	if _, ok := th2.ManagedID(); ok {
		t.Fatal("thread 2 has a managed id")
	}

	// stack bounds published by the runtime survive a refresh
	if err := tgt.RefreshThreads(); err != nil {
		t.Fatal(err)
	}
	if base, size := th1.StackBounds(); base != 0xc000100000 || size != 0x2000 {
		t.Fatalf("thread 1 stack %#x %#x", base, size)
	}
	// once the runtime drops the block the OS stack is reported again
	loadBlocks(p,
		tlsBlock{addr: 0x21000, id: 1, handle: 3, stackBase: 0xc000000000, stackSize: 0x8000},
	)
	if _, err := tgt.CorrelateThreadLocals(tlsLayout); err != nil {
		t.Fatal(err)
	}
	if _, ok := th1.ManagedID(); ok {
		t.Fatal("thread 1 kept its managed id")
	}
	if base, size := th1.StackBounds(); base != 0x1000 || size != 0x100 {
		t.Fatalf("thread 1 stack %#x %#x after its block went away", base, size)
	}
	if err := tgt.RefreshThreads(); err != nil {
		t.Fatal(err)
	}
	if base, size := th1.StackBounds(); base != 0x1000 || size != 0x100 {
		t.Fatalf("thread 1 stack %#x %#x after refresh", base, size)
	}
}

func TestCorrelateThreadLocalsEmpty(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	loadBlocks(p)
	tls, err := tgt.CorrelateThreadLocals(tlsLayout)
	if err != nil || len(tls) != 0 {
		t.Fatalf("%v %v", tls, err)
	}
}

func TestCorrelateThreadLocalsCorrupt(t *testing.T) {
	for _, tc := range []struct {
		name   string
		blocks []tlsBlock
		max    int
		msg    string
	}{
		{
			"cycle",
			[]tlsBlock{
				{addr: 0x21000, handle: 1, next: 0x21100},
				{addr: 0x21100, handle: 2, next: 0x21000, prev: 0x21000},
			},
			0, "cycle",
		},
		{
			"back link",
			[]tlsBlock{
				{addr: 0x21000, handle: 1, next: 0x21100},
				{addr: 0x21100, handle: 2, prev: 0x21800},
			},
			0, "links back",
		},
		{
			"too long",
			[]tlsBlock{
				{addr: 0x21000, handle: 1, next: 0x21100},
				{addr: 0x21100, handle: 2, next: 0x21200, prev: 0x21000},
				{addr: 0x21200, handle: 3, prev: 0x21100},
			},
			2, "more than",
		},
		{
			"unmapped",
			[]tlsBlock{
				{addr: 0x21000, handle: 1, next: 0x900000},
			},
			0, "reading thread locals",
		},
	} {
		p, tgt := newSimTarget(t, testConfig(), 1)
		loadBlocks(p, tc.blocks...)
		layout := tlsLayout
		layout.MaxThreads = tc.max
		_, err := tgt.CorrelateThreadLocals(layout)
		if err == nil || !strings.Contains(err.Error(), tc.msg) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		th, _ := tgt.FindThread(1)
		if _, ok := th.ManagedID(); ok {
			t.Fatalf("%s: managed id assigned from a corrupt list", tc.name)
		}
	}
}

func TestCorrelateThreadLocalsNoBackLinks(t *testing.T) {
	p, tgt := newSimTarget(t, testConfig(), 1)
	loadBlocks(p,
		tlsBlock{addr: 0x21000, id: 4, handle: 1, next: 0x21100, prev: 0x5555},
		tlsBlock{addr: 0x21100, id: 5, handle: 8, prev: 0x6666},
	)
	layout := tlsLayout
	layout.Slots.Prev = -1
	tls, err := tgt.CorrelateThreadLocals(layout)
	if err != nil || len(tls) != 2 {
		t.Fatalf("%v %v", tls, err)
	}
}
