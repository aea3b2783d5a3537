package test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

// Fixture is a test program built from a single file of _fixtures.
type Fixture struct {
	Name string
	// Path is the absolute path of the executable.
	Path string
}

var (
	fixturesMu  sync.Mutex
	fixtures    = map[string]Fixture{}
	fixturesTmp string
)

// FindFixturesDir returns the path of the _fixtures directory, looked up
// from the current directory towards the module root.
func FindFixturesDir() string {
	dir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		dir = filepath.Join("..", dir)
	}
	return dir
}

// BuildFixture compiles _fixtures/<name>.go once per test binary and
// returns the result. A build failure aborts the test run.
func BuildFixture(name string) Fixture {
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := fixtures[name]; ok {
		return f
	}
	if fixturesTmp == "" {
		dir, err := os.MkdirTemp("", "tele-fixtures")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating fixtures directory: %v\n", err)
			os.Exit(1)
		}
		fixturesTmp = dir
	}

	exe := filepath.Join(fixturesTmp, name)
	cmd := exec.Command("go", "build", "-o", exe, name+".go")
	cmd.Dir = FindFixturesDir()
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "Error compiling %s: %v\n%s", name, err, out)
		os.Exit(1)
	}

	fixtures[name] = Fixture{Name: name, Path: exe}
	return fixtures[name]
}

// RunTestsWithFixtures runs the tests of m and removes the fixtures they
// built.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()
	if fixturesTmp != "" {
		os.RemoveAll(fixturesTmp)
	}
	return status
}

// MustHavePtrace skips the test if this process is not allowed to trace
// its children, for example inside containers started without
// CAP_SYS_PTRACE or with a restrictive seccomp profile.
func MustHavePtrace(t testing.TB) {
	if runtime.GOOS != "linux" {
		return
	}
	buf, err := os.ReadFile("/proc/sys/kernel/yama/ptrace_scope")
	if err == nil && strings.TrimSpace(string(buf)) == "3" {
		t.Skip("ptrace disabled by yama")
	}
	if os.Getenv("TELE_SKIP_NATIVE") != "" {
		t.Skip("native tests disabled")
	}
}
