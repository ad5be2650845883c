// Package window produces candidate instruction windows from a full
// instruction stream using several independent strategies.
package window

import (
	"fmt"
	"sort"
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/rules"
)

// Strategy selects window generation strategies. Values combine as a bit set.
type Strategy uint8

const (
	StrategySliding Strategy = 1 << iota
	StrategyControlFlow
	StrategyDataFlow
	StrategySignature

	AllStrategies = StrategySliding | StrategyControlFlow | StrategyDataFlow | StrategySignature
)

var strategyNames = []struct {
	s    Strategy
	name string
}{
	{StrategySliding, "sliding"},
	{StrategyControlFlow, "controlflow"},
	{StrategyDataFlow, "dataflow"},
	{StrategySignature, "signature"},
}

func (s Strategy) String() string {
	var parts []string
	for _, sn := range strategyNames {
		if s&sn.s != 0 {
			parts = append(parts, sn.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseStrategies parses a comma-separated strategy list. "all" selects every strategy.
func ParseStrategies(list string) (Strategy, error) {
	var out Strategy
	for _, f := range strings.Split(list, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if f == "all" {
			out |= AllStrategies
			continue
		}
		found := false
		for _, sn := range strategyNames {
			if sn.name == f {
				out |= sn.s
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("window: unknown strategy %q", f)
		}
	}
	if out == 0 {
		return 0, fmt.Errorf("window: no strategy selected")
	}
	return out, nil
}

// Config controls window generation.
type Config struct {
	Strategies Strategy
	// Sizes are the sliding window lengths.
	Sizes []int
	// PathCutoff bounds control-flow paths in edges.
	PathCutoff int
	// MinPathLen is the minimum number of instructions on a control-flow path.
	MinPathLen int
	// Lookahead bounds the heuristic branch-target search.
	Lookahead int
	// ChainMargin is the context added around a data-flow chain: Margin
	// instructions before the definition and Margin after the use.
	ChainMargin int
	// MinChainLen is the minimum data-flow window length.
	MinChainLen int
	// SignatureMargin is the context added on each side of a signature match.
	SignatureMargin int
}

func DefaultConfig() Config {
	return Config{
		Strategies:      AllStrategies,
		Sizes:           []int{10, 15, 20, 25},
		PathCutoff:      15,
		MinPathLen:      5,
		Lookahead:       DefaultLookahead,
		ChainMargin:     5,
		MinChainLen:     5,
		SignatureMargin: 10,
	}
}

// Span is a half-open instruction range [Start, End).
type Span struct {
	Start, End int
}

func (s Span) Len() int { return s.End - s.Start }

// Generator produces candidate windows. It is safe for concurrent use.
type Generator struct {
	cfg  Config
	sigs [][]string
}

// NewGenerator collects signature patterns from every rule in store.
// store may be nil when the signature strategy is not used.
func NewGenerator(cfg Config, store *rules.Store) *Generator {
	g := &Generator{cfg: cfg}
	for _, r := range store.Rules() {
		g.sigs = append(g.sigs, r.Signatures...)
	}
	return g
}

// Generate runs every configured strategy over ins. Windows from different
// strategies may cover the same span; callers deduplicate by content hash.
func (g *Generator) Generate(src string, arch insn.Arch, ins []insn.Instruction) []insn.Window {
	var out []insn.Window
	emit := func(name string, spans []Span) {
		for _, sp := range spans {
			out = append(out, insn.Window{
				Source:   src,
				Arch:     arch,
				Start:    sp.Start,
				Strategy: name,
				Insts:    ins[sp.Start:sp.End:sp.End],
			})
		}
	}
	if g.cfg.Strategies&StrategySliding != 0 {
		emit("sliding", Sliding(ins, g.cfg.Sizes))
	}
	if g.cfg.Strategies&StrategyControlFlow != 0 {
		emit("controlflow", ControlFlow(ins, g.cfg))
	}
	if g.cfg.Strategies&StrategyDataFlow != 0 {
		emit("dataflow", DataFlow(ins, arch, g.cfg))
	}
	if g.cfg.Strategies&StrategySignature != 0 {
		emit("signature", Signature(ins, g.sigs, g.cfg.SignatureMargin))
	}
	return out
}

// Dedup drops windows whose content hash was already seen, keeping the first.
func Dedup(ws []insn.Window) []insn.Window {
	seen := make(map[uint64]bool, len(ws))
	out := ws[:0:0]
	for _, w := range ws {
		h := w.Hash()
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, w)
	}
	return out
}

// spanSet collects unique spans in insertion order.
type spanSet struct {
	seen  map[Span]bool
	spans []Span
}

func (s *spanSet) add(sp Span) {
	if s.seen == nil {
		s.seen = make(map[Span]bool)
	}
	if s.seen[sp] {
		return
	}
	s.seen[sp] = true
	s.spans = append(s.spans, sp)
}

func sortSpans(spans []Span) {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
}
