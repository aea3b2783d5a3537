package linutil

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	_AT_NULL   = 0
	_AT_PAGESZ = 6
	_AT_ENTRY  = 9
)

// Auxv holds the entries of the elf auxiliary vector that the process
// controller cares about.
type Auxv struct {
	PageSize   uint64
	EntryPoint uint64
}

// ParseAuxv decodes the contents of /proc/<pid>/auxv.
// For a description of the auxiliary vector (auxv) format see:
// System V Application Binary Interface, AMD64 Architecture Processor
// Supplement, section 3.4.3.
func ParseAuxv(auxv []byte, ptrSize int, order binary.ByteOrder) Auxv {
	var r Auxv
	rd := bytes.NewBuffer(auxv)

	for {
		tag, err := readUintRaw(rd, order, ptrSize)
		if err != nil {
			return r
		}
		val, err := readUintRaw(rd, order, ptrSize)
		if err != nil {
			return r
		}

		switch tag {
		case _AT_NULL:
			return r
		case _AT_PAGESZ:
			r.PageSize = val
		case _AT_ENTRY:
			r.EntryPoint = val
		}
	}
}

func readUintRaw(rd io.Reader, order binary.ByteOrder, ptrSize int) (uint64, error) {
	switch ptrSize {
	case 4:
		var n uint32
		if err := binary.Read(rd, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	default:
		var n uint64
		if err := binary.Read(rd, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
}
