//go:build !linux && !solaris && !(darwin && macnative)
// +build !linux
// +build !solaris
// +build !darwin !macnative

package native

import "github.com/go-delve/tele/pkg/proc"

// Launch returns ErrNativeBackendDisabled.
func Launch(_ []string, _ string, _ proc.LaunchFlags, _ string, _ proc.TargetConfig) (*proc.Target, error) {
	return nil, ErrNativeBackendDisabled
}

// Attach returns ErrNativeBackendDisabled.
func Attach(_ int, _ proc.TargetConfig) (*proc.Target, error) {
	return nil, ErrNativeBackendDisabled
}
