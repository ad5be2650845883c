// Package witness renders minimal witnesses as basic-block graphs.
package witness

import (
	"sort"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/window"
)

// Block is a run of instructions with a single entry.
type Block struct {
	ID      int
	Start   int // index into CFG.Insts (inclusive)
	End     int // index into CFG.Insts (exclusive)
	Succs   []Succ
	IsEntry bool
	IsTerm  bool // ends with a return or a branch with no target in the window
}

// Succ is a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken, "F" = fallthrough
}

// CFG is the block graph of one window.
type CFG struct {
	Name   string
	Blocks []Block
	Insts  []insn.Instruction
}

func terminates(s insn.Semantics) bool {
	return (s.IsBranch && !s.IsCall) || s.IsReturn
}

// BuildCFG partitions ins into blocks. Branch targets are not resolved from
// operands; the heuristic flow-graph edge (nearest load, store or compute
// within lookahead) stands in for the taken target.
//  1. Leaders: index 0, heuristic branch targets, instructions after branches.
//  2. Partition instructions into blocks by leaders.
//  3. Successor edges from each block's last instruction.
func BuildCFG(name string, ins []insn.Instruction, lookahead int) CFG {
	if len(ins) == 0 {
		return CFG{Name: name, Insts: ins}
	}

	// Heuristic taken targets from the flow graph.
	target := make(map[int]int)
	for _, e := range window.BuildFlowGraph(ins, lookahead).Edges {
		if e.Kind == window.Branch {
			target[e.From] = e.To
		}
	}

	// Pass 1: Identify block leaders.
	leaders := map[int]bool{0: true}
	for i, in := range ins {
		if !terminates(in.Semantics) {
			continue
		}
		if i+1 < len(ins) {
			leaders[i+1] = true
		}
		if t, ok := target[i]; ok && !in.Semantics.IsReturn {
			leaders[t] = true
		}
	}
	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	blocks := make([]Block, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(ins)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = Block{ID: i, Start: start, End: end, IsEntry: start == 0}
		leaderToBlock[start] = i
	}

	// Pass 3: Compute successors.
	for i := range blocks {
		blk := &blocks[i]
		lastIdx := blk.End - 1
		last := ins[lastIdx].Semantics
		if !terminates(last) {
			if next, ok := leaderToBlock[blk.End]; ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			}
			continue
		}
		if last.IsReturn {
			blk.IsTerm = true
			continue
		}
		targetBlock := -1
		if t, ok := target[lastIdx]; ok {
			targetBlock = leaderToBlock[t]
		}
		if last.IsConditional {
			if targetBlock >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: targetBlock, Cond: "T"})
			}
			if next, ok := leaderToBlock[blk.End]; ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
			}
			continue
		}
		if targetBlock >= 0 {
			blk.Succs = append(blk.Succs, Succ{BlockID: targetBlock})
		} else {
			blk.IsTerm = true
		}
	}
	return CFG{Name: name, Blocks: blocks, Insts: ins}
}
