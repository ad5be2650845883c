// Package pipeline drives detection over a corpus: a parallel window
// stage, rule matching with minimization, and similarity ranking against a
// reference gadget library after a single corpus-fit barrier.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"

	"gadgetscan/internal/ingest"
	"gadgetscan/internal/insn"
	"gadgetscan/internal/match"
	"gadgetscan/internal/minimize"
	"gadgetscan/internal/rules"
	"gadgetscan/internal/similarity"
	"gadgetscan/internal/window"

	"github.com/VictoriaMetrics/metrics"
	"golang.org/x/sync/errgroup"
)

// Stage names passed to Config.Progress.
const (
	StageRead   = "read"
	StageWindow = "window"
	StageMatch  = "match"
)

type Config struct {
	Window     window.Config
	Similarity similarity.Config
	Minimize   minimize.Config
	Match      match.Options
	Ingest     ingest.Options

	// Rules drive matching and the signature strategy. VulnTypes selects
	// rules by name; empty means every rule in the store. A nil store
	// disables matching.
	Rules     *rules.Store
	VulnTypes []string
	// Gadgets enables similarity ranking when non-empty.
	Gadgets []*similarity.Gadget

	Workers int
	Logf    func(format string, args ...any)
	// Progress is called after each unit of work. It may be called
	// concurrently.
	Progress func(stage string, done, total int)
}

func DefaultConfig() Config {
	return Config{
		Window:     window.DefaultConfig(),
		Similarity: similarity.DefaultConfig(),
		Workers:    runtime.GOMAXPROCS(0),
	}
}

// Detection is a rule match reduced to its minimal witness.
type Detection struct {
	VulnType string
	// Window is the candidate the rule first matched.
	Window insn.Window
	// Witness is the minimized span and Match its final validation.
	Witness insn.Window
	Match   match.Result
	Steps   int
}

// Report is the outcome of one run.
type Report struct {
	Files        int
	Streams      int
	Instructions int
	Windows      int // generated, before dedup
	Unique       int // after content-hash dedup
	// Skipped counts streams dropped for an unknown architecture.
	Skipped int

	Detections []Detection
	Similar    []similarity.CandidateMatch

	// Metrics holds the run's counters and the confidence histogram.
	Metrics *metrics.Set
}

func (c *Config) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func (c *Config) progress(stage string, done *atomic.Int64, total int) {
	n := done.Add(1)
	if c.Progress != nil {
		c.Progress(stage, int(n), total)
	}
}

// Run reads files in parallel and runs RunStreams over everything read.
func Run(ctx context.Context, cfg Config, files []string) (*Report, error) {
	per := make([][]ingest.Stream, len(files))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ss, err := ingest.ReadFile(f, cfg.Ingest)
			if err != nil {
				return err
			}
			per[i] = ss
			cfg.progress(StageRead, &done, len(files))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	var streams []ingest.Stream
	for _, ss := range per {
		streams = append(streams, ss...)
	}
	rep, err := RunStreams(ctx, cfg, streams)
	if err != nil {
		return nil, err
	}
	rep.Files = len(files)
	return rep, nil
}

// RunStreams runs detection over in-memory streams.
func RunStreams(ctx context.Context, cfg Config, streams []ingest.Stream) (*Report, error) {
	selected, err := selectRules(cfg)
	if err != nil {
		return nil, err
	}
	workers := max(cfg.Workers, 1)
	set := metrics.NewSet()
	rep := &Report{Streams: len(streams), Metrics: set}

	// Without an architecture every semantic flag is false and arch-scoped
	// anti-patterns never apply.
	known := make([]ingest.Stream, 0, len(streams))
	for _, s := range streams {
		if s.Arch == insn.ArchUnknown {
			cfg.logf("pipeline: skip %s: architecture unknown, set one explicitly", s.Source)
			rep.Skipped++
			continue
		}
		known = append(known, s)
	}
	streams = known
	set.GetOrCreateCounter(`gadgetscan_streams_skipped_total`).Add(rep.Skipped)

	// Windows.
	gen := window.NewGenerator(cfg.Window, cfg.Rules)
	per := make([][]insn.Window, len(streams))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range streams {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := streams[i]
			per[i] = gen.Generate(s.Source, s.Arch, s.Insts)
			cfg.progress(StageWindow, &done, len(streams))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	var all []insn.Window
	for i, ws := range per {
		rep.Instructions += len(streams[i].Insts)
		all = append(all, ws...)
	}
	for _, w := range all {
		set.GetOrCreateCounter(fmt.Sprintf(`gadgetscan_windows_total{strategy=%q}`, w.Strategy)).Inc()
	}
	unique := window.Dedup(all)
	rep.Windows, rep.Unique = len(all), len(unique)
	set.GetOrCreateCounter(`gadgetscan_instructions_total`).Add(rep.Instructions)
	set.GetOrCreateCounter(`gadgetscan_windows_unique_total`).Add(len(unique))
	cfg.logf("pipeline: %d streams, %d instructions, %d windows, %d unique", len(streams), rep.Instructions, len(all), len(unique))

	// Rules.
	if len(selected) > 0 {
		dets, err := detect(ctx, cfg, selected, unique, set)
		if err != nil {
			return nil, err
		}
		rep.Detections = dets
		cfg.logf("pipeline: %d detections", len(dets))
	}

	// Similarity.
	if len(cfg.Gadgets) > 0 && len(unique) > 0 {
		scfg := cfg.Similarity
		if scfg.Workers <= 0 {
			scfg.Workers = workers
		}
		if scfg.Logf == nil {
			scfg.Logf = cfg.Logf
		}
		sc := similarity.NewScorer(scfg, insn.NewInterner())
		ranked, err := sc.Rank(ctx, unique, cfg.Gadgets)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		rep.Similar = ranked
		set.GetOrCreateCounter(`gadgetscan_pairs_scored_total`).Add(len(unique) * len(cfg.Gadgets))
		set.GetOrCreateCounter(`gadgetscan_candidates_total`).Add(len(ranked))
		h := set.GetOrCreateHistogram(`gadgetscan_confidence`)
		for _, m := range ranked {
			h.Update(m.Confidence)
		}
	}
	return rep, nil
}

func selectRules(cfg Config) ([]*rules.Rule, error) {
	if cfg.Rules == nil && len(cfg.VulnTypes) > 0 {
		return nil, fmt.Errorf("pipeline: vulnerability types given without rules")
	}
	if len(cfg.VulnTypes) == 0 {
		return cfg.Rules.Rules(), nil
	}
	out := make([]*rules.Rule, 0, len(cfg.VulnTypes))
	for _, name := range cfg.VulnTypes {
		r, err := cfg.Rules.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// detect validates every window against every selected rule and minimizes
// the matches. Witnesses reached from several candidate windows are
// reported once, for the first candidate in window order.
func detect(ctx context.Context, cfg Config, selected []*rules.Rule, ws []insn.Window, set *metrics.Set) ([]Detection, error) {
	per := make([][]Detection, len(ws))
	var done atomic.Int64
	var steps atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i := range ws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w := ws[i]
			for _, r := range selected {
				if !match.ValidateRule(w, r, w.Arch, cfg.Match).Matched {
					continue
				}
				m := minimize.MinimizeRule(w, r, w.Arch, cfg.Minimize)
				steps.Add(int64(m.Steps))
				if m.Reason != "" {
					continue
				}
				per[i] = append(per[i], Detection{
					VulnType: r.Name,
					Window:   w,
					Witness:  m.Window,
					Match:    m.Match,
					Steps:    m.Steps,
				})
			}
			cfg.progress(StageMatch, &done, len(ws))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	type key struct {
		src      string
		start, n int
		vulnType string
	}
	seen := make(map[key]bool)
	var out []Detection
	for _, ds := range per {
		for _, d := range ds {
			set.GetOrCreateCounter(fmt.Sprintf(`gadgetscan_matches_total{vuln_type=%q}`, d.VulnType)).Inc()
			k := key{d.Witness.Source, d.Witness.Start, d.Witness.Len(), d.VulnType}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, d)
		}
	}
	set.GetOrCreateCounter(`gadgetscan_minimize_steps_total`).Add(int(steps.Load()))
	set.GetOrCreateCounter(`gadgetscan_witnesses_total`).Add(len(out))

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Witness, out[j].Witness
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Len() != b.Len() {
			return a.Len() < b.Len()
		}
		return out[i].VulnType < out[j].VulnType
	})
	return out, nil
}
