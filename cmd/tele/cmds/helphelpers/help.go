package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare hides the flags that cobra parses for cmd but that have no effect
// on it, before its usage function runs.
// The flags that launch a program stay on the root command so that
//
//	tele --wd /tmp exec ./vm
//
// parses, but they are meaningless for 'attach'.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "tele", "help", "log", "version":
		hideAllFlags(cmd)
	case "attach":
		hideFlag(cmd, "disable-aslr")
		hideFlag(cmd, "pty")
		hideFlag(cmd, "tty")
		hideFlag(cmd, "wd")
	case "exec", "bootheap":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		flag = cmd.PersistentFlags().Lookup(name)
	}
	if flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
