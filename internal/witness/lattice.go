package witness

import (
	"fmt"
	"sort"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/window"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// Lattice converts c to a lattice.FuncCFG. Calls become call sites named by
// their target operand; labelled instructions become quoted call-site
// annotations so they show up inside their block.
func Lattice(c CFG, labels map[int]string) *lattice.FuncCFG {
	lcfg := &lattice.FuncCFG{Name: c.Name}
	for _, b := range c.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.ID,
			Start: b.Start,
			End:   b.End,
			Term:  b.IsTerm,
		}
		for _, s := range b.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: s.BlockID, Cond: s.Cond})
		}
		for idx := b.Start; idx < b.End && idx < len(c.Insts); idx++ {
			in := c.Insts[idx]
			if in.Semantics.IsCall {
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: callee(in)})
			}
			if l, ok := labels[idx]; ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx,
					Callee: fmt.Sprintf("%q", truncate(l+": "+in.Text(), 50)),
				})
			}
		}
		sort.SliceStable(lb.Calls, func(i, j int) bool { return lb.Calls[i].Offset < lb.Calls[j].Offset })
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

func callee(in insn.Instruction) string {
	if len(in.Operands) == 0 {
		return in.Opcode
	}
	t := in.Operands[len(in.Operands)-1].Text
	if in.Semantics.IsIndirect {
		return "*" + t
	}
	return t
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Graph builds the single-function lattice graph for w.
func Graph(name string, w insn.Window, labels map[int]string) *lattice.CFGGraph {
	c := BuildCFG(name, w.Insts, window.DefaultLookahead)
	return &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{Lattice(c, labels)}}
}

// DOT renders w with the lattice CFG renderer.
func DOT(name string, w insn.Window, labels map[int]string) string {
	return render.DOTCFG(Graph(name, w, labels), name)
}
