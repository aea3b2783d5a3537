package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// isDumb reports whether the output should be plain text: TERM is dumb
// or stdout is not a terminal.
func isDumb() bool {
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return true
	}
	return !isatty.IsTerminal(os.Stdout.Fd())
}

// getColorableWriter returns a writer for stdout that understands ANSI
// escape codes on every platform.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}

// colorize wraps str in the escape codes for color, unless the terminal
// is dumb.
func (t *Term) colorize(color int, str string) string {
	if t.dumb {
		return str
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + str + terminalResetEscapeCode
}

func (t *Term) printf(format string, args ...interface{}) {
	fmt.Fprintf(t.stdout, format, args...)
}

// hexdump writes mem, read at addr, sixteen bytes per line followed by
// their printable characters.
func hexdump(w io.Writer, addr uint64, mem []byte) {
	for off := 0; off < len(mem); off += 16 {
		line := mem[off:]
		if len(line) > 16 {
			line = line[:16]
		}
		fmt.Fprintf(w, "%#016x: ", addr+uint64(off))
		for i := 0; i < 16; i++ {
			if i < len(line) {
				fmt.Fprintf(w, "%02x ", line[i])
			} else {
				fmt.Fprint(w, "   ")
			}
			if i == 7 {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprint(w, " |")
		for _, b := range line {
			if b < 0x20 || b > 0x7e {
				b = '.'
			}
			fmt.Fprintf(w, "%c", b)
		}
		fmt.Fprintln(w, "|")
	}
}
