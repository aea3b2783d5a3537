// Package terminal implements functions for responding to user
// input and dispatching to appropriate target operations.
package terminal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/tele/pkg/proc"
)

// waitSlice is how long a waiting command blocks before it checks for
// interrupts.
const waitSlice = 100 * time.Millisecond

type cmdfunc func(t *Term, args []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the tele terminal.
type Commands struct {
	cmds []command
	trie *trie.Trie
}

// ExitRequestError is returned when the user
// exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Run until the target stops.

	continue [timeout]

Resumes the target and waits for it to stop. With a timeout (for example
"continue 2s") the command returns when the timeout elapses and the target
keeps running, use "wait" or "stop" afterwards. Ctrl-C stops the target.`},
		{aliases: []string{"wait"}, group: runCmds, cmdFn: waitCmd, helpMsg: `Waits for a running target to stop.

	wait [timeout]`},
		{aliases: []string{"stop", "halt"}, group: runCmds, cmdFn: stop, helpMsg: `Stops a running target.

	stop

The stop is reported by the next "wait".`},
		{aliases: []string{"step", "si"}, group: runCmds, cmdFn: step, helpMsg: `Single steps one thread.

	step [tid]

Executes one instruction of the thread while every other thread is held.`},
		{aliases: []string{"pstep"}, group: runCmds, cmdFn: pstep, helpMsg: `Single steps the whole process.

	pstep

Only valid while the target has a single thread.`},
		{aliases: []string{"bootheap"}, group: runCmds, cmdFn: bootheap, helpMsg: `Finds the boot heap mapping of a freshly launched target.

	bootheap <size>

Steps the target until it maps size bytes of anonymous memory and prints
the address of the mapping.`},
		{aliases: []string{"kill"}, group: runCmds, cmdFn: kill, helpMsg: "Kills the target."},
		{aliases: []string{"detach"}, group: runCmds, cmdFn: detach, helpMsg: "Releases the target and exits, the target keeps running."},
		{aliases: []string{"threads"}, group: threadCmds, cmdFn: threads, helpMsg: "Print out info for every thread."},
		{aliases: []string{"thread", "tr"}, group: threadCmds, cmdFn: thread, helpMsg: `Switch to the specified thread.

	thread <id>`},
		{aliases: []string{"tls"}, group: threadCmds, cmdFn: tls, helpMsg: `Correlates threads with the thread-locals list of the runtime.

	tls

The layout of the list is read from the thread-locals section of the
configuration file.`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Print contents of CPU registers.

	regs [-fp] [tid]

With -fp the floating point registers are printed too.`},
		{aliases: []string{"setpc"}, group: dataCmds, cmdFn: setpc, helpMsg: `Moves the instruction pointer of a thread.

	setpc <tid> <address>`},
		{aliases: []string{"mem", "x"}, group: dataCmds, cmdFn: mem, helpMsg: `Examine memory.

	mem <address> <length>`},
		{aliases: []string{"write"}, group: dataCmds, cmdFn: write, helpMsg: `Writes bytes to memory.

	write <address> <hex bytes>

Example:

	write 0xc000010000 deadbeef`},
		{aliases: []string{"disassemble", "disass"}, group: dataCmds, cmdFn: disassemble, helpMsg: `Disassembler.

	disassemble [tid] [count]

Decodes count instructions (default 10) starting at the instruction
pointer of the thread.`},
		{aliases: []string{"watch"}, group: dataCmds, cmdFn: watch, helpMsg: `Sets a hardware watchpoint.

	watch <address> <size> [r|w|rw]

Without arguments lists the active watchpoints.`},
		{aliases: []string{"unwatch"}, group: dataCmds, cmdFn: unwatch, helpMsg: `Removes a hardware watchpoint.

	unwatch <address>`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the terminal."},
	}

	c.rebuildTrie()
	return c
}

func (c *Commands) rebuildTrie() {
	c.trie = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.trie.Add(alias, nil)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.trie.Add(cmdstr, nil)
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute. An empty command line repeats the
// last one.
func (c *Commands) Call(cmdstr string, t *Term) error {
	if strings.TrimSpace(cmdstr) == "" {
		cmdstr = t.lastCmd
		if cmdstr == "" {
			return nil
		}
	}
	v, err := argv.Argv(cmdstr,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("illegal command line '%s'", cmdstr)
	}
	w := v[0]
	if len(w) == 0 {
		return nil
	}
	t.lastCmd = cmdstr
	return c.Find(w[0])(t, w[1:])
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.rebuildTrie()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args []string) error {
	return errNoCmd
}

func exitCommand(t *Term, args []string) error {
	return ExitRequestError{}
}

func (c *Commands) help(t *Term, args []string) error {
	if len(args) > 0 {
		for _, cmd := range c.cmds {
			if cmd.match(args[0]) {
				t.printf("%s\n", cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	t.printf("The following commands are available:\n")

	for _, cgd := range commandGroupDescriptions {
		t.printf("\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	t.printf("\nType help followed by a command for full documentation.\n")
	return nil
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func parseTimeout(t *Term, args []string) (time.Duration, error) {
	if len(args) == 0 {
		return t.conf.WaitTimeout, nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid timeout %q", args[0])
	}
	return d, nil
}

// selectThread returns the thread named by args[i], or the current thread
// if args has no such element.
func (t *Term) selectThread(args []string, i int) (*proc.Thread, error) {
	id := t.current
	if len(args) > i {
		var err error
		id, err = strconv.Atoi(args[i])
		if err != nil {
			return nil, fmt.Errorf("invalid thread id %q", args[i])
		}
	}
	if th, ok := t.target.FindThread(id); ok {
		return th, nil
	}
	if len(args) > i {
		return nil, fmt.Errorf("no thread %d", id)
	}
	ths := t.target.Threads()
	if len(ths) == 0 {
		return nil, errors.New("target has no threads")
	}
	t.current = ths[0].ID()
	return ths[0], nil
}

func threads(t *Term, args []string) error {
	for _, th := range t.target.Threads() {
		prefix := "  "
		if th.ID() == t.current {
			prefix = "* "
		}
		t.printf("%sThread %s\n", prefix, t.formatThread(th))
	}
	return nil
}

func (t *Term) formatThread(th *proc.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", th.ID(), th.RunState())
	if pc, err := th.PC(); err == nil {
		fmt.Fprintf(&b, " pc=%#x", pc)
	}
	if id, ok := th.ManagedID(); ok {
		fmt.Fprintf(&b, " managed=%d", id)
	}
	if base, size := th.StackBounds(); size != 0 {
		fmt.Fprintf(&b, " stack=[%#x %#x)", base, base+size)
	}
	return b.String()
}

func thread(t *Term, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("you must specify a thread")
	}
	th, err := t.selectThread(args, 0)
	if err != nil {
		return err
	}
	old := t.current
	t.current = th.ID()
	t.printf("Switched from %d to %d\n", old, t.current)
	return nil
}

func regs(t *Term, args []string) error {
	fp := false
	if len(args) > 0 && args[0] == "-fp" {
		fp = true
		args = args[1:]
	}
	th, err := t.selectThread(args, 0)
	if err != nil {
		return err
	}
	rs, err := th.Registers()
	if err != nil {
		return err
	}
	layout := rs.Layout()
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for i, name := range layout.State {
		fmt.Fprintf(w, "%s\t%#016x\n", name, rs.State(i))
	}
	for i, name := range layout.Integer {
		fmt.Fprintf(w, "%s\t%#016x\n", name, rs.Integer(i))
	}
	if fp {
		for i, name := range layout.FloatingPoint {
			v := rs.FloatingPoint(i)
			fmt.Fprintf(w, "%s\t%#016x%016x\n", name, v.Hi(), v.Lo())
		}
	}
	return w.Flush()
}

func setpc(t *Term, args []string) error {
	if len(args) != 2 {
		return errors.New("wrong number of arguments: setpc <tid> <address>")
	}
	th, err := t.selectThread(args, 0)
	if err != nil {
		return err
	}
	pc, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	return th.SetInstructionPointer(pc)
}

func mem(t *Term, args []string) error {
	if len(args) != 2 {
		return errors.New("wrong number of arguments: mem <address> <length>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid length %q", args[1])
	}
	if n > 1<<16 {
		return fmt.Errorf("length must be at most %d bytes", 1<<16)
	}
	buf := make([]byte, n)
	read, err := t.target.ReadMemory(buf, addr)
	hexdump(t.stdout, addr, buf[:read])
	if err != nil {
		return fmt.Errorf("read %d of %d bytes: %w", read, n, err)
	}
	return nil
}

func write(t *Term, args []string) error {
	if len(args) != 2 {
		return errors.New("wrong number of arguments: write <address> <hex bytes>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
	if err != nil {
		return fmt.Errorf("invalid data: %v", err)
	}
	n, err := t.target.WriteMemory(addr, data)
	if err != nil {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(data), err)
	}
	t.printf("wrote %d bytes at %#x\n", n, addr)
	return nil
}

func disassemble(t *Term, args []string) error {
	th, err := t.selectThread(args, 0)
	if err != nil {
		return err
	}
	count := 10
	if len(args) > 1 {
		count, err = strconv.Atoi(args[1])
		if err != nil || count <= 0 {
			return fmt.Errorf("invalid count %q", args[1])
		}
	}
	pc, err := th.PC()
	if err != nil {
		return err
	}
	insts, err := proc.Disassemble(t.target, t.target.Arch(), pc, count)
	if err != nil {
		return err
	}
	disasmPrint(insts, t.stdout, pc)
	return nil
}

func watch(t *Term, args []string) error {
	if len(args) == 0 {
		wps := t.target.Watchpoints()
		if len(wps) == 0 {
			t.printf("No watchpoints (%d hardware slots).\n", t.target.MaxWatchpoints())
		}
		for _, wp := range wps {
			t.printf("Watchpoint %#x size %d %s\n", wp.Addr, wp.Size, wp.Kind)
		}
		return nil
	}
	if len(args) < 2 || len(args) > 3 {
		return errors.New("wrong number of arguments: watch <address> <size> [r|w|rw]")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid size %q", args[1])
	}
	kind := proc.WatchWrite
	if len(args) == 3 {
		kind, err = proc.ParseWatchKind(args[2])
		if err != nil {
			return err
		}
	}
	if err := t.target.ActivateWatchpoint(addr, size, kind); err != nil {
		return err
	}
	t.printf("Watchpoint set at %#x\n", addr)
	return nil
}

func unwatch(t *Term, args []string) error {
	if len(args) != 1 {
		return errors.New("wrong number of arguments: unwatch <address>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	return t.target.DeactivateWatchpoint(addr)
}

func cont(t *Term, args []string) error {
	timeout, err := parseTimeout(t, args)
	if err != nil {
		return err
	}
	if err := t.target.Resume(); err != nil {
		return err
	}
	return t.waitForStop(timeout)
}

func waitCmd(t *Term, args []string) error {
	timeout, err := parseTimeout(t, args)
	if err != nil {
		return err
	}
	return t.waitForStop(timeout)
}

func stop(t *Term, args []string) error {
	if err := t.target.Suspend(); err != nil {
		return err
	}
	if t.target.State() == proc.StateRunning {
		t.printf("Stop requested, use wait to collect it.\n")
	}
	return nil
}

// waitForStop waits for the target to stop, at most timeout if it is not
// zero. The wait is done in slices so that an interrupt can stop the
// target from this goroutine.
func (t *Term) waitForStop(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		slice := waitSlice
		if timeout > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				t.printf("Target is still running.\n")
				return nil
			}
			if left < slice {
				slice = left
			}
		}
		sr, err := t.target.WaitForStop(slice)
		if errors.Is(err, proc.ErrWaitTimeout) {
			select {
			case <-t.sigint:
				t.printf("received SIGINT, stopping process (will not forward signal)\n")
				if err := t.target.Suspend(); err != nil {
					return err
				}
			default:
			}
			continue
		}
		if err != nil {
			return err
		}
		t.printStop(sr)
		return nil
	}
}

func (t *Term) printStop(sr proc.StopReason) {
	if sr.Kind == proc.StopExited {
		t.printf("%s\n", t.colorize(ansiYellow, fmt.Sprintf("Process %d has exited with status %d", t.target.Pid(), sr.ExitCode)))
		return
	}
	color := ansiGreen
	if sr.Kind == proc.StopFaulted || sr.Kind == proc.StopSignaled {
		color = ansiRed
	}
	t.printf("%s\n", t.colorize(color, sr.String()))
	th, ok := t.target.FindThread(sr.ThreadID)
	if !ok {
		return
	}
	t.current = th.ID()
	t.printCurrentInstruction(th)
}

func (t *Term) printCurrentInstruction(th *proc.Thread) {
	pc, err := th.PC()
	if err != nil {
		return
	}
	insts, err := proc.Disassemble(t.target, t.target.Arch(), pc, 1)
	if err != nil || len(insts) == 0 {
		t.printf("%s\n", t.colorize(ansiBlue, fmt.Sprintf("> [%d] %#x", th.ID(), pc)))
		return
	}
	t.printf("%s\t%x\t%s\n", t.colorize(ansiBlue, fmt.Sprintf("> [%d] %#x", th.ID(), pc)), insts[0].Bytes, insts[0].Text())
}

func step(t *Term, args []string) error {
	th, err := t.selectThread(args, 0)
	if err != nil {
		return err
	}
	if err := t.target.SingleStep(th); err != nil {
		return err
	}
	if t.target.Exited() {
		t.printStop(t.target.LastStop())
		return nil
	}
	t.current = th.ID()
	t.printCurrentInstruction(th)
	return nil
}

func pstep(t *Term, args []string) error {
	sr, err := t.target.StepProcess()
	if err != nil {
		return err
	}
	t.printStop(sr)
	return nil
}

func bootheap(t *Term, args []string) error {
	if len(args) != 1 {
		return errors.New("wrong number of arguments: bootheap <size>")
	}
	size, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil || size == 0 {
		return fmt.Errorf("invalid size %q", args[0])
	}
	addr, err := t.target.LocateBootHeapMapping(size)
	if err != nil {
		return err
	}
	t.printf("boot heap mapped at %#x\n", addr)
	return nil
}

func tls(t *Term, args []string) error {
	layout, ok, err := t.conf.ThreadLocalsLayout()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no thread-locals layout configured")
	}
	blocks, err := t.target.CorrelateThreadLocals(layout)
	for _, b := range blocks {
		owner := "no thread"
		if b.Thread != nil {
			owner = fmt.Sprintf("thread %d", b.Thread.ID())
		}
		t.printf("%#x managed=%d handle=%d stack=[%#x %#x) %s\n", b.Addr, b.ID, b.Handle, b.StackBase, b.StackBase+b.StackSize, owner)
	}
	return err
}

func kill(t *Term, args []string) error {
	if err := t.target.Kill(); err != nil {
		return err
	}
	t.printf("Process %d killed\n", t.target.Pid())
	return nil
}

func detach(t *Term, args []string) error {
	if err := t.target.Detach(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Detached from process %d\n", t.target.Pid())
	return ExitRequestError{}
}
