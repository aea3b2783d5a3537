package terminal

import (
	"bufio"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-delve/tele/pkg/proc"
)

func disasmPrint(dv []proc.AsmInstruction, out io.Writer, pc uint64) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	defer tw.Flush()
	for _, inst := range dv {
		atpc := ""
		if inst.PC == pc {
			atpc = "=>"
		}
		fmt.Fprintf(tw, "%s\t%#x\t%x\t%s\n", atpc, inst.PC, inst.Bytes, inst.Text())
	}
}
