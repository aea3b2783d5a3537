package amd64util

import (
	"errors"
	"fmt"
)

// NumDebugAddrs is the number of address debug registers (DR0-DR3).
const NumDebugAddrs = 4

// DebugRegisters is a copy of the x86 debug registers described in the
// Intel 64 and IA-32 Architectures Software Developer's Manual, Vol. 3B,
// section 17.2. Backends load it from the thread, modify it and store it
// back if Dirty is set.
type DebugRegisters struct {
	Addrs [NumDebugAddrs]uint64
	DR6   uint64
	DR7   uint64
	Dirty bool
}

func lenrwBitsOffset(idx uint8) uint8 {
	return 16 + idx*4
}

func enableBitOffset(idx uint8) uint8 {
	return idx * 2
}

// Slot returns the watchpoint configured at idx. Size is zero when the slot
// is disabled.
func (drs *DebugRegisters) Slot(idx uint8) (addr uint64, read, write bool, sz int) {
	if drs.DR7&(1<<enableBitOffset(idx)) == 0 {
		return 0, false, false, 0
	}

	addr = drs.Addrs[idx]
	lenrw := (drs.DR7 >> lenrwBitsOffset(idx)) & 0xf
	write = (lenrw & 0x1) != 0
	read = (lenrw & 0x2) != 0
	switch lenrw >> 2 {
	case 0x0:
		sz = 1
	case 0x1:
		sz = 2
	case 0x2:
		sz = 8 // sic
	case 0x3:
		sz = 4
	}
	return addr, read, write, sz
}

// FreeSlot returns the first disabled slot.
func (drs *DebugRegisters) FreeSlot() (uint8, bool) {
	for idx := uint8(0); idx < NumDebugAddrs; idx++ {
		if drs.DR7&(1<<enableBitOffset(idx)) == 0 {
			return idx, true
		}
	}
	return 0, false
}

// Find returns the enabled slot watching addr.
func (drs *DebugRegisters) Find(addr uint64) (uint8, bool) {
	for idx := uint8(0); idx < NumDebugAddrs; idx++ {
		if a, _, _, sz := drs.Slot(idx); sz != 0 && a == addr {
			return idx, true
		}
	}
	return 0, false
}

// SetWatchpoint configures slot idx to trap on accesses to addr.
// If the slot is already in use with the same parameters it does nothing.
func (drs *DebugRegisters) SetWatchpoint(idx uint8, addr uint64, read, write bool, sz int) error {
	if int(idx) >= NumDebugAddrs {
		return fmt.Errorf("hardware watchpoints exhausted")
	}
	curaddr, curread, curwrite, cursz := drs.Slot(idx)
	if cursz != 0 {
		if (curaddr != addr) || (curread != read) || (curwrite != write) || (cursz != sz) {
			return fmt.Errorf("hardware watchpoint %d already in use (address %#x)", idx, curaddr)
		}
		return nil
	}

	if read && !write {
		return errors.New("watch on read only not supported")
	}
	if addr%uint64(sz) != 0 {
		return fmt.Errorf("watchpoint address %#x not aligned to %d", addr, sz)
	}

	var lenrw uint64
	if write {
		lenrw |= 0x1
	}
	if read {
		lenrw |= 0x2
	}
	switch sz {
	case 1:
		// already ok
	case 2:
		lenrw |= 0x1 << 2
	case 4:
		lenrw |= 0x3 << 2
	case 8:
		lenrw |= 0x2 << 2
	default:
		return fmt.Errorf("watchpoint of size %d not supported", sz)
	}
	drs.Addrs[idx] = addr
	drs.DR7 &^= (0xf << lenrwBitsOffset(idx)) // clear old settings
	drs.DR7 |= lenrw << lenrwBitsOffset(idx)
	drs.DR7 |= 1 << enableBitOffset(idx)
	drs.Dirty = true
	return nil
}

// ClearWatchpoint disables slot idx. Disabled slots are left alone.
func (drs *DebugRegisters) ClearWatchpoint(idx uint8) {
	if drs.DR7&(1<<enableBitOffset(idx)) == 0 {
		return
	}
	drs.DR7 &^= (1 << enableBitOffset(idx))
	drs.Addrs[idx] = 0
	drs.Dirty = true
}

// Triggered returns the slot that caused the last debug exception and
// resets the condition flags in DR6.
func (drs *DebugRegisters) Triggered() (idx uint8, ok bool) {
	for idx := uint8(0); idx < NumDebugAddrs; idx++ {
		if drs.DR7&(1<<enableBitOffset(idx)) == 0 {
			continue
		}
		if drs.DR6&(1<<idx) != 0 {
			drs.DR6 &^= 0xf // clearing the condition bits is up to us
			drs.Dirty = true
			return idx, true
		}
	}
	return 0, false
}
