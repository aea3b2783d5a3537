package native

import (
	"encoding/binary"
	"fmt"
	"os"
	"testing"

	"github.com/go-delve/tele/pkg/proc"
	protest "github.com/go-delve/tele/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

// prmapSize is the size of a prmap_t entry of /proc/<pid>/map, each entry
// starts with the address and the size of the mapping.
const prmapSize = 104

func lastMappingEnd(t *testing.T, pid int) uint64 {
	t.Helper()
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/map", pid))
	if err != nil || len(buf) < prmapSize {
		t.Fatalf("reading map of %d: %d bytes, %v", pid, len(buf), err)
	}
	last := buf[(len(buf)/prmapSize-1)*prmapSize:]
	return binary.LittleEndian.Uint64(last) + binary.LittleEndian.Uint64(last[8:])
}

func TestMemoryPartialTransfer(t *testing.T) {
	protest.MustHavePtrace(t)
	fixture := protest.BuildFixture("exitprog")
	cfg := proc.DefaultTargetConfig()
	cfg.PageCacheSize = 0
	tgt, err := Launch([]string{fixture.Path}, ".", 0, "", cfg)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer tgt.Kill()

	end := lastMappingEnd(t, tgt.Pid())
	buf := make([]byte, 16)
	if n, err := tgt.ReadMemory(buf, end-4); err == nil || n != 4 {
		t.Fatalf("read across the end of the last mapping: %d %v", n, err)
	}
	if n, err := tgt.WriteMemory(end-4, buf); err == nil || n != 4 {
		t.Fatalf("write across the end of the last mapping: %d %v", n, err)
	}
}
