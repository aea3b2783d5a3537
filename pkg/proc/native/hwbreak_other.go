//go:build linux && !amd64
// +build linux,!amd64

package native

import "github.com/go-delve/tele/pkg/proc"

func (dbp *nativeProcess) MaxWatchpoints() int { return 0 }

func (dbp *nativeProcess) SetWatchpoint(addr uint64, size int, kind proc.WatchKind) error {
	return proc.ErrWatchpointsUnsupported
}

func (dbp *nativeProcess) ClearWatchpoint(addr uint64) error {
	return proc.ErrWatchpointsUnsupported
}

func (dbp *nativeProcess) applyWatchpoints(th *nativeThread) error { return nil }

func (t *nativeThread) watchpointHit() (uint64, bool) { return 0, false }
