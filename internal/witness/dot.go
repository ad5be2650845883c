package witness

import (
	"fmt"
	"strings"
)

// AnnotatedDOT renders c as DOT with one node per block and one line per
// instruction. Labelled instructions are colored and carry their label.
func AnnotatedDOT(c CFG, labels map[int]string, t Theme) string {
	if len(c.Blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("digraph witness {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	b.WriteString("  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(c.Name))
	b.WriteByte('\n')

	for _, blk := range c.Blocks {
		var lines []string
		for i := blk.Start; i < blk.End && i < len(c.Insts); i++ {
			in := c.Insts[i]
			line := dotEscape(fmt.Sprintf("%d: %s", in.Line, in.Text()))
			if l, ok := labels[i]; ok {
				line = fmt.Sprintf("<font color=\"%s\">%s  ; %s</font>", t.MarkColor, line, dotEscape(l))
			}
			lines = append(lines, line)
		}
		label := strings.Join(lines, "<br align=\"left\"/>") + "<br align=\"left\"/>"

		attrs := ""
		if blk.IsEntry {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EdgeTaken)
		}
		if blk.IsTerm {
			attrs += fmt.Sprintf(", fillcolor=%q", t.TermFill)
		}
		fmt.Fprintf(&b, "  bb%d [label=<%s>%s];\n", blk.ID, label, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range c.Blocks {
		for _, s := range blk.Succs {
			switch s.Cond {
			case "T":
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					blk.ID, s.BlockID, t.EdgeTaken, t.EdgeTaken)
			case "F":
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					blk.ID, s.BlockID, t.EdgeFallthrough, t.EdgeFallthrough)
			default:
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q];\n", blk.ID, s.BlockID, t.EdgeDirect)
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// dotEscape escapes a string for use in DOT HTML labels.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
