// Package similarity compares instruction windows against reference
// gadgets with five independent metrics fused into one confidence.
package similarity

import (
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/window"
)

// MaxGram is the longest n-gram used by the n-gram metric.
const MaxGram = 5

// Token renders one instruction as opcode_KINDS_SEMTYPE, the unit every
// metric compares.
func Token(in insn.Instruction) string {
	var b strings.Builder
	b.WriteString(in.Opcode)
	b.WriteByte('_')
	for i, op := range in.Operands {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(op.Kind.String())
	}
	b.WriteByte('_')
	b.WriteString(in.SemType().String())
	return b.String()
}

// gram is an n-gram of interned tokens. Unused slots stay zero; n
// disambiguates grams of different length.
type gram struct {
	n   uint8
	ids [MaxGram]uint32
}

// Sequence is an instruction stream prepared for comparison. Build it with
// Scorer.Sequence; it is read-only afterwards.
type Sequence struct {
	Tokens []string
	IDs    []uint32
	Graph  *window.FlowGraph

	grams [MaxGram + 1]map[gram]struct{}
	vec   vector
}

func newSequence(ins []insn.Instruction, in *insn.Interner, lookahead int) *Sequence {
	s := &Sequence{
		Tokens: make([]string, len(ins)),
		Graph:  window.BuildFlowGraph(ins, lookahead),
	}
	for i, x := range ins {
		s.Tokens[i] = Token(x)
	}
	s.IDs = in.IDs(s.Tokens)
	for n := 2; n <= MaxGram; n++ {
		if len(s.IDs) < n {
			break
		}
		set := make(map[gram]struct{}, len(s.IDs)-n+1)
		for i := 0; i+n <= len(s.IDs); i++ {
			g := gram{n: uint8(n)}
			copy(g.ids[:], s.IDs[i:i+n])
			set[g] = struct{}{}
		}
		s.grams[n] = set
	}
	return s
}

func (s *Sequence) Len() int { return len(s.IDs) }

// Grams returns the number of distinct n-grams of length n.
func (s *Sequence) Grams(n int) int {
	if n < 0 || n > MaxGram {
		return 0
	}
	return len(s.grams[n])
}
