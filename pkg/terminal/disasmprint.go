package terminal

import (
	"bufio"
	"fmt"
	"text/tabwriter"

	"github.com/elfscope/elfscope/pkg/disasm"
	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/logflags"
	"github.com/elfscope/elfscope/pkg/symtab"
)

func disasmPrint(t *Term, seq *disasm.Seq, sym *symtab.Symbol, withUnwind bool) error {
	bw := bufio.NewWriter(t.stdout)
	defer bw.Flush()

	fmt.Fprintf(bw, "%s %#x-%#x", t.tgt.Syms.DisplayName(sym), seq.Start, seq.End)
	if seq.BoundaryInferred {
		fmt.Fprintf(bw, " (end inferred from the next symbol)")
	}
	fmt.Fprintln(bw)

	flavour := t.assemblyFlavour()
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	defer tw.Flush()

	invalid := 0
	var lastRow *frame.RuleRow
	for {
		inst, ok := seq.Next()
		if !ok {
			break
		}
		if !inst.Valid {
			invalid++
		}
		if withUnwind {
			fmt.Fprintf(tw, "%#x\t%x\t%s\t%s\n", inst.PC, inst.Bytes, inst.Text(flavour, t.tgt.Syms), unwindColumn(t, inst.Unwind, lastRow))
			lastRow = inst.Unwind
		} else {
			fmt.Fprintf(tw, "%#x\t%x\t%s\n", inst.PC, inst.Bytes, inst.Text(flavour, t.tgt.Syms))
		}
	}

	if invalid > 0 {
		logflags.DisasmLogger().Warnf("%d bytes did not decode to instructions", invalid)
	}
	return nil
}

// unwindColumn renders the frame rule annotation for one instruction.
// The CFA rule appears on every line covered by the table, register
// recovery rules only on the first line of each row.
func unwindColumn(t *Term, row, last *frame.RuleRow) string {
	if row == nil {
		return ""
	}
	if row.Unknown {
		return "; cfa=?"
	}
	s := fmt.Sprintf("; cfa=%s", dwRuleString(t, row.CFA))
	if last == nil || last.Start != row.Start {
		if rr := regRulesString(t, row.Regs); rr != "" {
			s += " " + rr
		}
	}
	return s
}
