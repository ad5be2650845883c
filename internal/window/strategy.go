package window

import (
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/normalize"
)

// Sliding returns every contiguous span of each size that is interesting.
// A stream shorter than a size yields nothing for that size.
func Sliding(ins []insn.Instruction, sizes []int) []Span {
	var set spanSet
	for _, size := range sizes {
		if size <= 0 {
			continue
		}
		for s := 0; s+size <= len(ins); s++ {
			if interesting(ins[s : s+size]) {
				set.add(Span{s, s + size})
			}
		}
	}
	return set.spans
}

// interesting reports whether ins has at least one control-flow or memory
// instruction and at least two distinct opcodes.
func interesting(ins []insn.Instruction) bool {
	relevant := false
	var first string
	distinct := false
	for i, in := range ins {
		if in.Semantics.ControlFlow() || in.Semantics.AccessesMemory {
			relevant = true
		}
		if i == 0 {
			first = in.Opcode
		} else if in.Opcode != first {
			distinct = true
		}
		if relevant && distinct {
			return true
		}
	}
	return false
}

// ControlFlow expands paths from every branching node of the stream's flow
// graph. Each shortest path of at least MinPathLen instructions becomes the
// contiguous span from its source to its last node.
func ControlFlow(ins []insn.Instruction, cfg Config) []Span {
	g := BuildFlowGraph(ins, cfg.Lookahead)
	var set spanSet
	for src := range g.Nodes {
		if g.OutDegree(src) <= 1 {
			continue
		}
		for _, p := range g.ShortestPaths(src, cfg.PathCutoff) {
			if len(p) < cfg.MinPathLen {
				continue
			}
			set.add(Span{p[0], p[len(p)-1] + 1})
		}
	}
	return set.spans
}

// DataFlow pairs each register use with its reaching definition and
// returns the chain span widened by ChainMargin on each side.
func DataFlow(ins []insn.Instruction, arch insn.Arch, cfg Config) []Span {
	lastDef := make(map[string]int)
	var set spanSet
	for i, in := range ins {
		defs, uses := normalize.DefUse(in, arch)
		for _, r := range uses {
			d, ok := lastDef[r]
			if !ok {
				continue
			}
			sp := Span{max(d-cfg.ChainMargin, 0), min(i+cfg.ChainMargin+1, len(ins))}
			if sp.Len() >= cfg.MinChainLen {
				set.add(sp)
			}
		}
		for _, r := range defs {
			lastDef[r] = i
		}
	}
	sortSpans(set.spans)
	return set.spans
}

// Signature finds every literal occurrence of each opcode pattern and
// widens it by margin on both sides. A pattern element ending in '*'
// matches any opcode with that prefix; elements match either the canonical
// opcode or the raw mnemonic.
func Signature(ins []insn.Instruction, sigs [][]string, margin int) []Span {
	var set spanSet
	for _, sig := range sigs {
		if len(sig) == 0 {
			continue
		}
		for s := 0; s+len(sig) <= len(ins); s++ {
			if matchSignature(ins[s:s+len(sig)], sig) {
				set.add(Span{max(s-margin, 0), min(s+len(sig)+margin, len(ins))})
			}
		}
	}
	sortSpans(set.spans)
	return set.spans
}

func matchSignature(ins []insn.Instruction, sig []string) bool {
	for i, pat := range sig {
		if !opcodeMatches(pat, ins[i].Opcode) && !opcodeMatches(pat, ins[i].Mnemonic()) {
			return false
		}
	}
	return true
}

func opcodeMatches(pat, op string) bool {
	op = strings.ToLower(op)
	if p, ok := strings.CutSuffix(pat, "*"); ok {
		return strings.HasPrefix(op, p)
	}
	return pat == op
}
