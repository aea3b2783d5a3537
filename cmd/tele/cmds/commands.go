package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/creack/pty"
	"github.com/spf13/cobra"

	"github.com/go-delve/tele/cmd/tele/cmds/helphelpers"
	"github.com/go-delve/tele/pkg/config"
	"github.com/go-delve/tele/pkg/logflags"
	"github.com/go-delve/tele/pkg/proc"
	"github.com/go-delve/tele/pkg/proc/native"
	"github.com/go-delve/tele/pkg/terminal"
	"github.com/go-delve/tele/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// workingDir is the working directory for running the program.
	workingDir string
	// tty is used to provide an alternate TTY for the program you wish to debug.
	tty string
	// usePty allocates a pseudo terminal for the program.
	usePty bool
	// disableASLR disables address space randomization of the program.
	disableASLR bool

	// bootHeapSize is the size of the mapping searched by the bootheap command.
	bootHeapSize uint64

	// verbose makes the version command print the build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const teleCommandLongDesc = `tele controls processes at the level of threads, registers and memory.

tele launches or attaches to a process and lets you stop and resume it,
single step its threads, read and write its registers and memory and set
hardware watchpoints.

Pass flags to the program you are controlling using ` + "`--`" + `, for example:

` + "`tele exec ./vm -- -Xms64m boot.image`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main tele root command.
	rootCommand = &cobra.Command{
		Use:   "tele",
		Short: "tele is a process and thread control tool.",
		Long:  teleCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'tele help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'tele help log').")
	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	rootCommand.PersistentFlags().StringVar(&tty, "tty", "", "TTY to use for the target program.")
	rootCommand.PersistentFlags().BoolVar(&usePty, "pty", false, "Allocate a pseudo terminal for the target program, its output is copied to standard output.")
	rootCommand.PersistentFlags().BoolVar(&disableASLR, "disable-aslr", false, "Disables address space randomization.")

	// 'exec' subcommand.
	execCommand := &cobra.Command{
		Use:   "exec <path/to/binary> [args...]",
		Short: "Execute a binary and begin a session.",
		Long: `Execute a binary and begin a session.

The program is stopped right after it is executed, before it runs its
first instruction. Use 'continue' in the terminal to let it run.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(0, args, conf))
		},
	}
	rootCommand.AddCommand(execCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to running process and begin a session.",
		Long: `Attach to an already running process and begin a session.

This command will cause tele to take control of an already running process.
When exiting the session you will have the option to let the process
continue or kill it.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'bootheap' subcommand.
	bootheapCommand := &cobra.Command{
		Use:   "bootheap <path/to/binary> [args...]",
		Short: "Print the address of the boot heap of a program.",
		Long: `Execute a program and print the address at which it maps its boot heap.

The program is stepped one instruction at a time until it maps --size bytes
of anonymous memory, then it is killed. The search gives up after the
number of system calls and instructions set in the configuration file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			if bootHeapSize == 0 {
				return errors.New("you must provide the size of the boot heap with --size")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(bootheapCmd(cmd.OutOrStdout(), args, conf))
		},
	}
	bootheapCommand.Flags().Uint64Var(&bootHeapSize, "size", 0, "Size in bytes of the boot heap mapping.")
	rootCommand.AddCommand(bootheapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tele\n%s\n", version.TeleVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	tele	Log process controller events (default)
	memory	Log remote memory transfers
	ptrace	Log operating system calls of the backend
	step	Log the single step protocol

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	usage := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return usage(cmd)
	})

	return rootCommand
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := parsePid(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(execute(pid, nil, conf))
}

func parsePid(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid: %s", s)
	}
	return pid, nil
}

func launchFlags(foreground bool) proc.LaunchFlags {
	var flags proc.LaunchFlags
	if disableASLR || conf.DisableASLR {
		flags |= proc.LaunchDisableASLR
	}
	if foreground {
		flags |= proc.LaunchForeground
	}
	return flags
}

// startTarget launches processArgs, or attaches to attachPid if it is not
// zero. The returned function releases the pseudo terminal, if one was
// allocated.
func startTarget(attachPid int, processArgs []string, cfg proc.TargetConfig, foreground bool) (*proc.Target, func(), error) {
	if attachPid != 0 {
		tgt, err := native.Attach(attachPid, cfg)
		return tgt, func() {}, err
	}
	if usePty && tty != "" {
		return nil, nil, errors.New("--pty and --tty can not be used together")
	}
	ttyName := tty
	cleanup := func() {}
	if usePty {
		ptmx, pts, err := pty.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("could not allocate a pseudo terminal: %v", err)
		}
		ttyName = pts.Name()
		go io.Copy(os.Stdout, ptmx)
		cleanup = func() {
			pts.Close()
			ptmx.Close()
		}
		foreground = false
	}
	tgt, err := native.Launch(processArgs, workingDir, launchFlags(foreground), ttyName, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return tgt, cleanup, nil
}

func execute(attachPid int, processArgs []string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	cfg, err := conf.TargetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	tgt, cleanup, err := startTarget(attachPid, processArgs, cfg, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()

	term := terminal.New(tgt, conf)
	term.Attached = attachPid != 0
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func bootheapCmd(out io.Writer, processArgs []string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	cfg, err := conf.TargetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	tgt, cleanup, err := startTarget(0, processArgs, cfg, tty == "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()
	defer tgt.Kill()

	addr, err := tgt.LocateBootHeapMapping(bootHeapSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Fprintf(out, "%#x\n", addr)
	return 0
}
