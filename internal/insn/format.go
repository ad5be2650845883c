package insn

import (
	"fmt"
	"strings"
)

// Format renders a window as one instruction per line with its source line
// number and derived tags. Marked indices get a leading '>'.
func Format(w Window, marks map[int]bool) string {
	var b strings.Builder
	for i, in := range w.Insts {
		mark := ' '
		if marks[i] {
			mark = '>'
		}
		fmt.Fprintf(&b, "%c %5d  %-40s", mark, in.Line, in.Text())
		if t := Tags(in.Semantics); t != 0 {
			fmt.Fprintf(&b, "  ; %s", t)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
