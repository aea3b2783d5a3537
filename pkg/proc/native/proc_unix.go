//go:build linux || solaris || (darwin && macnative)
// +build linux solaris darwin,macnative

package native

import (
	"fmt"
	"os"
	"os/exec"

	isatty "github.com/mattn/go-isatty"
)

func attachProcessToTTY(process *exec.Cmd, tty string) (*os.File, error) {
	f, err := os.OpenFile(tty, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if !isatty.IsTerminal(f.Fd()) {
		f.Close()
		return nil, fmt.Errorf("%s is not a terminal", f.Name())
	}
	process.Stdin = f
	process.Stdout = f
	process.Stderr = f
	process.SysProcAttr.Setpgid = false
	process.SysProcAttr.Setsid = true
	process.SysProcAttr.Setctty = true

	return f, nil
}

// isForeground reports whether the target can be put in the foreground
// process group of our terminal.
func isForeground(requested bool) bool {
	if !requested {
		return false
	}
	// exec.(*Process).Start will fail if we try to send a process to
	// foreground but we are not attached to a terminal.
	return isatty.IsTerminal(os.Stdin.Fd())
}
