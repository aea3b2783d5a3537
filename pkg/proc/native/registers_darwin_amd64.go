//go:build darwin && macnative
// +build darwin,macnative

package native

import (
	"unsafe"

	"github.com/go-delve/tele/pkg/proc/macutil"
	"github.com/go-delve/tele/pkg/proc/regset"
)

func (t *nativeThread) readNative(which regset.Subset) ([]regset.Native, error) {
	var natives []regset.Native
	if which&(regset.Integer|regset.State) != 0 {
		regs := new(macutil.AMD64ThreadState)
		if err := t.getState(macutil.AMD64ThreadStateFlavor, unsafe.Pointer(regs), macutil.AMD64ThreadStateCount); err != nil {
			return nil, err
		}
		natives = append(natives, regs)
	}
	if which&regset.FloatingPoint != 0 {
		fpregs := new(macutil.AMD64FloatState)
		if err := t.getState(macutil.AMD64FloatStateFlavor, unsafe.Pointer(fpregs), macutil.AMD64FloatStateCount); err != nil {
			return nil, err
		}
		natives = append(natives, fpregs)
	}
	return natives, nil
}

func (t *nativeThread) writeNative(natives []regset.Native) error {
	for _, n := range natives {
		var err error
		switch n := n.(type) {
		case *macutil.AMD64ThreadState:
			err = t.setState(macutil.AMD64ThreadStateFlavor, unsafe.Pointer(n), macutil.AMD64ThreadStateCount)
		case *macutil.AMD64FloatState:
			err = t.setState(macutil.AMD64FloatStateFlavor, unsafe.Pointer(n), macutil.AMD64FloatStateCount)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
