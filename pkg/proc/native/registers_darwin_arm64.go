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
		regs := new(macutil.ARM64ThreadState)
		if err := t.getState(macutil.ARM64ThreadStateFlavor, unsafe.Pointer(regs), macutil.ARM64ThreadStateCount); err != nil {
			return nil, err
		}
		natives = append(natives, regs)
	}
	if which&(regset.FloatingPoint|regset.State) != 0 {
		fpregs := new(macutil.ARM64NeonState)
		if err := t.getState(macutil.ARM64NeonStateFlavor, unsafe.Pointer(fpregs), macutil.ARM64NeonStateCount); err != nil {
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
		case *macutil.ARM64ThreadState:
			err = t.setState(macutil.ARM64ThreadStateFlavor, unsafe.Pointer(n), macutil.ARM64ThreadStateCount)
		case *macutil.ARM64NeonState:
			err = t.setState(macutil.ARM64NeonStateFlavor, unsafe.Pointer(n), macutil.ARM64NeonStateCount)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
