package macutil

import (
	"errors"

	sys "golang.org/x/sys/unix"
)

// ErrRosetta is returned by CheckRosetta when the calling process is being
// translated, thread state flavors would not match the target.
var ErrRosetta = errors.New("can not run under Rosetta, check that the installed build of Go is right for your CPU architecture")

// CheckRosetta returns an error if the calling process is being translated
// by Apple Rosetta.
func CheckRosetta() error {
	pt, err := sys.SysctlUint32("sysctl.proc_translated")
	if err != nil {
		return nil
	}
	if pt == 1 {
		return ErrRosetta
	}
	return nil
}
