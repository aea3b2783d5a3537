package helphelpers

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newTree() (root, attach, exec *cobra.Command) {
	root = &cobra.Command{Use: "tele"}
	root.PersistentFlags().String("wd", "", "")
	root.PersistentFlags().Bool("log", false, "")
	attach = &cobra.Command{Use: "attach", Run: func(*cobra.Command, []string) {}}
	exec = &cobra.Command{Use: "exec", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(attach, exec)
	return root, attach, exec
}

func TestPrepareAttach(t *testing.T) {
	root, attach, _ := newTree()
	Prepare(attach)
	if !root.PersistentFlags().Lookup("wd").Hidden {
		t.Fatal("wd is not hidden for attach")
	}
	if root.PersistentFlags().Lookup("log").Hidden {
		t.Fatal("log is hidden for attach")
	}
}

func TestPrepareExec(t *testing.T) {
	root, _, exec := newTree()
	Prepare(exec)
	if root.PersistentFlags().Lookup("wd").Hidden {
		t.Fatal("wd is hidden for exec")
	}
}

func TestPrepareRoot(t *testing.T) {
	root, _, _ := newTree()
	Prepare(root)
	root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			t.Fatalf("%s is not hidden", f.Name)
		}
	})
}
