package similarity

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/window"

	"golang.org/x/sync/errgroup"
)

var ErrFitted = errors.New("similarity: model already fitted")

// Config controls scoring and ranking.
type Config struct {
	Weights Weights
	// Threshold drops pairs whose fused confidence is below it.
	Threshold float64
	// TopN caps the ranked result. Zero keeps everything.
	TopN        int
	MaxFeatures int
	Lookahead   int
	Workers     int
	Logf        func(format string, args ...any)
}

func DefaultConfig() Config {
	return Config{
		Weights:     DefaultWeights(),
		Threshold:   0.3,
		TopN:        100,
		MaxFeatures: DefaultMaxFeatures,
		Lookahead:   window.DefaultLookahead,
		Workers:     runtime.GOMAXPROCS(0),
	}
}

// CandidateMatch is one window compared against one reference gadget.
type CandidateMatch struct {
	Window     insn.Window
	Gadget     *Gadget
	Scores     Scores
	Confidence float64
}

// Scorer computes pairwise similarity. The corpus model is fitted once with
// Fit; after that the Scorer is read-only and safe for concurrent use.
type Scorer struct {
	cfg    Config
	intern *insn.Interner

	mu    sync.Mutex
	model *Model
}

// NewScorer uses intern for token IDs. A nil intern gets a private table.
func NewScorer(cfg Config, intern *insn.Interner) *Scorer {
	if intern == nil {
		intern = insn.NewInterner()
	}
	return &Scorer{cfg: cfg, intern: intern}
}

func (s *Scorer) Sequence(ins []insn.Instruction) *Sequence {
	return newSequence(ins, s.intern, s.cfg.Lookahead)
}

// Fit fits the corpus model over seqs and attaches a vector to each of
// them. It must see every sequence compared in this run and may only be
// called once.
func (s *Scorer) Fit(seqs []*Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil {
		return ErrFitted
	}
	docs := make([][]string, len(seqs))
	for i, q := range seqs {
		docs[i] = q.Tokens
	}
	s.model = Fit(docs, s.cfg.MaxFeatures)
	for _, q := range seqs {
		q.vec = s.model.Vector(q.Tokens)
	}
	return nil
}

func (s *Scorer) fitted() *Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Score computes every metric for a pair. Before Fit the semantic metric
// is zero.
func (s *Scorer) Score(a, b *Sequence) Scores {
	sc := Scores{
		NGram:     NGram(a, b),
		Alignment: Alignment(a.IDs, b.IDs),
		LCS:       LCS(a.IDs, b.IDs),
		Graph:     Graph(a.Graph, b.Graph),
	}
	if m := s.fitted(); m != nil {
		va, vb := a.vec, b.vec
		if va == nil {
			va = m.Vector(a.Tokens)
		}
		if vb == nil {
			vb = m.Vector(b.Tokens)
		}
		sc.Semantic = cosine(va, vb)
	}
	return sc
}

// Rank compares every window with every gadget. It prepares all sequences,
// fits the corpus model over windows and gadgets together, then scores the
// pairs in parallel. Pairs below the threshold are dropped; the rest are
// ordered by descending confidence, then window order, then gadget name,
// and capped at TopN.
func (s *Scorer) Rank(ctx context.Context, windows []insn.Window, gadgets []*Gadget) ([]CandidateMatch, error) {
	if len(windows) == 0 || len(gadgets) == 0 {
		return nil, nil
	}
	workers := max(s.cfg.Workers, 1)

	wseqs := make([]*Sequence, len(windows))
	gseqs := make([]*Sequence, len(gadgets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			wseqs[i] = s.Sequence(windows[i].Insts)
			return nil
		})
	}
	for i := range gadgets {
		g.Go(func() error {
			gseqs[i] = s.Sequence(gadgets[i].Insts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.Fit(append(append([]*Sequence(nil), wseqs...), gseqs...)); err != nil {
		return nil, err
	}
	s.logf("similarity: fitted %d features over %d sequences", s.fitted().Features(), len(wseqs)+len(gseqs))

	kept := make([][]CandidateMatch, len(windows))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for j, gad := range gadgets {
				sc := s.Score(wseqs[i], gseqs[j])
				conf := Fuse(sc, s.cfg.Weights)
				if conf < s.cfg.Threshold {
					continue
				}
				kept[i] = append(kept[i], CandidateMatch{
					Window:     windows[i],
					Gadget:     gad,
					Scores:     sc,
					Confidence: conf,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []CandidateMatch
	for _, k := range kept {
		out = append(out, k...)
	}
	s.logf("similarity: %d of %d pairs at or above %.2f", len(out), len(windows)*len(gadgets), s.cfg.Threshold)
	Sort(out)
	if s.cfg.TopN > 0 && len(out) > s.cfg.TopN {
		out = out[:s.cfg.TopN]
	}
	return out, nil
}

// Sort orders matches by descending confidence. Ties fall back to window
// order (source, start, length, strategy) and then gadget name.
func Sort(ms []CandidateMatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Window.Less(b.Window) {
			return true
		}
		if b.Window.Less(a.Window) {
			return false
		}
		return a.Gadget.Name < b.Gadget.Name
	})
}

func (s *Scorer) logf(format string, args ...any) {
	if s.cfg.Logf != nil {
		s.cfg.Logf(format, args...)
	}
}
