package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/go-delve/tele/pkg/config"
	"github.com/go-delve/tele/pkg/proc"
)

const (
	historyFile                 string = ".tele_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the terminal running tele.
type Term struct {
	target *proc.Target
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout io.Writer

	// Attached is true if the target was attached to rather than launched,
	// on exit it is detached instead of killed unless the user asks otherwise.
	Attached bool

	// current is the ID of the thread commands apply to by default.
	current int
	lastCmd string

	// sigint receives the interrupts that arrive while the target runs.
	sigint chan os.Signal
}

// New returns a new Term.
func New(target *proc.Target, conf *config.Config) *Term {
	t := newTerm(target, conf)
	t.dumb = isDumb()
	if !t.dumb {
		t.stdout = getColorableWriter()
	}
	t.line = liner.NewLiner()
	return t
}

func newTerm(target *proc.Target, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf == nil {
		conf = &config.Config{}
	}
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	t := &Term{
		target: target,
		conf:   conf,
		prompt: "(tele) ",
		cmds:   cmds,
		dumb:   true,
		stdout: os.Stdout,
		sigint: make(chan os.Signal, 1),
	}
	if ths := target.Threads(); len(ths) > 0 {
		t.current = ths[0].ID()
	}
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	signal.Stop(t.sigint)
	if t.line != nil {
		t.line.Close()
	}
}

// Run begins running tele in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// SIGINT is only acted upon while a command waits for the target.
	signal.Notify(t.sigint, syscall.SIGINT)

	t.line.SetCtrlCAborts(false)
	t.line.SetCompleter(func(line string) []string {
		c := t.cmds.trie.PrefixSearch(strings.ToLower(line))
		sort.Strings(c)
		return c
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			if proc.IsProcessExited(err) {
				fmt.Fprintln(os.Stderr, err.Error())
				continue
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.target.State().Terminal() {
		return 0, nil
	}

	kill := true
	if t.Attached {
		answer, err := yesno(t.line, "Would you like to kill the process? [Y/n] ")
		if err != nil {
			return 2, io.EOF
		}
		kill = answer
	}
	if kill {
		if err := t.target.Kill(); err != nil {
			return 1, err
		}
		return 0, nil
	}
	if err := t.target.Detach(); err != nil {
		return 1, err
	}
	return 0, nil
}
