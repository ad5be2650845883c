package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"gadgetscan/internal/output"
	"gadgetscan/internal/pipeline"
	"gadgetscan/internal/similarity"
	"gadgetscan/internal/store"
	"gadgetscan/internal/window"
)

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	in := fs.String("in", "", "input files, directories or glob patterns (comma-separated)")
	outDir := fs.String("out", "", "output directory (default: detections as JSONL on stdout)")
	rulesPath := fs.String("rules", "", "rules YAML (default: built-in rules)")
	archName := fs.String("arch", "", "force architecture (x86_64, arm64)")
	vuln := fs.String("vuln", "", "vulnerability types to detect (comma-separated, default: all)")
	db := fs.String("db", "", "reference gadget library for similarity ranking")
	threshold := fs.Float64("threshold", similarity.DefaultConfig().Threshold, "minimum similarity confidence")
	top := fs.Int("top", similarity.DefaultConfig().TopN, "keep the n best similarity candidates (0 = all)")
	workers := fs.Int("workers", 0, "parallel workers (0 = GOMAXPROCS)")
	strategies := fs.String("strategies", "all", "window strategies")
	sizes := fs.String("sizes", "10,15,20,25", "sliding window sizes")
	maxSteps := fs.Int("max-steps", 0, "cap validations per minimization (0 = unbounded)")
	metricsOut := fs.String("metrics-out", "", "write Prometheus metrics to file")
	dot := fs.Bool("dot", false, "also write witness flow graphs as DOT (requires --out)")
	verbose := fs.Bool("verbose", false, "log progress detail to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	files, err := inputs(*in, fs.Args())
	if err != nil {
		return err
	}
	arch, err := parseArch(*archName)
	if err != nil {
		return err
	}
	rs, err := loadRules(*rulesPath)
	if err != nil {
		return err
	}

	cfg := pipeline.DefaultConfig()
	cfg.Logf = stderrLogf(*verbose)
	cfg.Rules = rs
	cfg.VulnTypes = splitList(*vuln)
	cfg.Ingest.Arch = arch
	cfg.Ingest.Logf = cfg.Logf
	cfg.Minimize.MaxSteps = *maxSteps
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if cfg.Window.Strategies, err = window.ParseStrategies(*strategies); err != nil {
		return err
	}
	if cfg.Window.Sizes, err = parseSizes(*sizes); err != nil {
		return err
	}
	cfg.Similarity.Threshold = *threshold
	cfg.Similarity.TopN = *top

	if *db != "" {
		gadgets, err := loadGadgets(*db, cfg.VulnTypes)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "loaded %d reference gadgets from %s\n", len(gadgets), *db)
		cfg.Gadgets = gadgets
	}

	bar := newProgress()
	if bar != nil && !*verbose {
		cfg.Progress = bar.update
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintf(os.Stderr, "scanning %d files\n", len(files))
	rep, err := pipeline.Run(ctx, cfg, files)
	bar.finish()
	if err != nil {
		return err
	}

	sum := output.NewSummary(rep)
	fmt.Fprintf(os.Stderr, "streams: %d, instructions: %d, windows: %d (%d unique)\n",
		sum.Streams, sum.Instructions, sum.Windows, sum.Unique)
	if sum.Skipped > 0 {
		fmt.Fprintf(os.Stderr, "skipped %d streams with unknown architecture, use --arch\n", sum.Skipped)
	}
	types := make([]string, 0, len(sum.ByType))
	for t := range sum.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(os.Stderr, "  %-26s %d\n", t, sum.ByType[t])
	}
	fmt.Fprintf(os.Stderr, "detections: %d, similar: %d\n", sum.Detections, sum.Similar)

	if *outDir != "" {
		if err := output.WriteReport(*outDir, rep); err != nil {
			return err
		}
		for _, d := range rep.Detections {
			if err := output.WriteWitness(*outDir, d, *dot); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *outDir)
	} else {
		recs := make([]output.Detection, len(rep.Detections))
		for i, d := range rep.Detections {
			recs[i] = output.NewDetection(d)
		}
		if err := output.WriteJSONL(os.Stdout, recs); err != nil {
			return err
		}
	}

	if *metricsOut != "" {
		if err := writeMetrics(*metricsOut, rep.Metrics); err != nil {
			return err
		}
	}
	return nil
}

// loadGadgets reads the library read-only. Non-empty vulnTypes restricts
// the result to those types.
func loadGadgets(path string, vulnTypes []string) ([]*similarity.Gadget, error) {
	opts := store.DefaultOptions()
	opts.ReadOnly = true
	s, err := store.Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if len(vulnTypes) == 0 {
		return s.List("")
	}
	var out []*similarity.Gadget
	for _, t := range vulnTypes {
		gs, err := s.List(t)
		if err != nil {
			return nil, err
		}
		out = append(out, gs...)
	}
	return out, nil
}
