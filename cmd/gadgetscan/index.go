package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gadgetscan/internal/ingest"
	"gadgetscan/internal/insn"
	"gadgetscan/internal/pipeline"
	"gadgetscan/internal/similarity"
	"gadgetscan/internal/store"

	"golang.org/x/sync/errgroup"
)

func cmdIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	in := fs.String("in", "", "input files, directories or glob patterns (comma-separated)")
	db := fs.String("db", "", "reference gadget library (created if missing)")
	vuln := fs.String("vuln", "", "label for unlabelled streams; with --witnesses, rule types to detect")
	archName := fs.String("arch", "", "force architecture (x86_64, arm64)")
	rulesPath := fs.String("rules", "", "rules YAML, used with --witnesses")
	witnesses := fs.Bool("witnesses", false, "index minimized detections instead of labelled streams")
	workers := fs.Int("workers", 0, "parallel workers (0 = GOMAXPROCS)")
	verbose := fs.Bool("verbose", false, "log progress detail to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *db == "" {
		return fmt.Errorf("--db is required")
	}
	files, err := inputs(*in, fs.Args())
	if err != nil {
		return err
	}
	arch, err := parseArch(*archName)
	if err != nil {
		return err
	}
	logf := stderrLogf(*verbose)

	var gadgets []*similarity.Gadget
	if *witnesses {
		gadgets, err = witnessGadgets(files, *rulesPath, splitList(*vuln), arch, *workers, logf)
	} else {
		gadgets, err = labelledGadgets(files, *vuln, arch, *workers, logf)
	}
	if err != nil {
		return err
	}

	s, err := store.Open(*db, store.DefaultOptions())
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Put(gadgets...); err != nil {
		return err
	}
	total, err := s.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "indexed %d gadgets from %d files, library has %d\n", len(gadgets), len(files), total)
	return nil
}

func stem(path string) string {
	base := filepath.Base(path)
	for ext := filepath.Ext(base); ext != ""; ext = filepath.Ext(base) {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// labelledGadgets turns each labelled stream into a gadget named
// VULN_arch_file. Streams without a label take def; with no label at all
// they are skipped.
func labelledGadgets(files []string, def string, arch insn.Arch, workers int, logf func(string, ...any)) ([]*similarity.Gadget, error) {
	per := make([][]*similarity.Gadget, len(files))
	g := new(errgroup.Group)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, f := range files {
		g.Go(func() error {
			streams, err := ingest.ReadFile(f, ingest.Options{Arch: arch, Logf: logf})
			if err != nil {
				return err
			}
			for _, st := range streams {
				if st.Arch == insn.ArchUnknown {
					fmt.Fprintf(os.Stderr, "skip %s: architecture unknown, use --arch\n", st.Source)
					continue
				}
				label := st.Label
				if label == "" {
					label = def
				}
				if label == "" {
					fmt.Fprintf(os.Stderr, "skip %s: no vulnerability label\n", st.Source)
					continue
				}
				name := fmt.Sprintf("%s_%s_%s", label, st.Arch, stem(st.Source))
				gd, err := similarity.NewGadget(name, label, st.Arch, st.Insts)
				if errors.Is(err, similarity.ErrGadgetTooShort) {
					fmt.Fprintf(os.Stderr, "skip %s: %v\n", st.Source, err)
					continue
				}
				if err != nil {
					return err
				}
				gd.Source = st.Source
				per[i] = append(per[i], gd)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []*similarity.Gadget
	for _, gs := range per {
		out = append(out, gs...)
	}
	return out, nil
}

// witnessGadgets runs detection and keeps every minimized witness long
// enough to serve as a reference.
func witnessGadgets(files []string, rulesPath string, vulnTypes []string, arch insn.Arch, workers int, logf func(string, ...any)) ([]*similarity.Gadget, error) {
	rs, err := loadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	cfg := pipeline.DefaultConfig()
	cfg.Rules = rs
	cfg.VulnTypes = vulnTypes
	cfg.Ingest = ingest.Options{Arch: arch, Logf: logf}
	cfg.Logf = logf
	if workers > 0 {
		cfg.Workers = workers
	}
	rep, err := pipeline.Run(context.Background(), cfg, files)
	if err != nil {
		return nil, err
	}
	if rep.Skipped > 0 {
		fmt.Fprintf(os.Stderr, "skipped %d streams with unknown architecture, use --arch\n", rep.Skipped)
	}
	var out []*similarity.Gadget
	for _, d := range rep.Detections {
		w := d.Witness
		name := fmt.Sprintf("%s_%s_%s_%d", d.VulnType, w.Arch, stem(w.Source), w.Start)
		gd, err := similarity.NewGadget(name, d.VulnType, w.Arch, w.Insts)
		if errors.Is(err, similarity.ErrGadgetTooShort) {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", name, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		gd.Source = w.Source
		out = append(out, gd)
	}
	return out, nil
}
