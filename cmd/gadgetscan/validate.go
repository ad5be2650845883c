package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/match"
	"gadgetscan/internal/minimize"
	"gadgetscan/internal/output"
	"gadgetscan/internal/pipeline"
	"gadgetscan/internal/witness"
)

type validateRecord struct {
	Source   string         `json:"source"`
	Start    int            `json:"start"`
	Len      int            `json:"len"`
	VulnType string         `json:"vuln_type"`
	Matched  bool           `json:"matched"`
	Evidence map[string]any `json:"evidence"`
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	in := fs.String("in", "", "input file")
	vuln := fs.String("vuln", "", "vulnerability type")
	rulesPath := fs.String("rules", "", "rules YAML (default: built-in rules)")
	archName := fs.String("arch", "", "force architecture (x86_64, arm64)")
	start := fs.Int("start", 0, "first instruction of the window")
	n := fs.Int("len", 0, "window length (0 = to end of stream)")
	noAnti := fs.Bool("ignore-anti-patterns", false, "skip the anti-pattern check")
	verbose := fs.Bool("verbose", false, "log progress detail to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *vuln == "" {
		return fmt.Errorf("--in and --vuln are required")
	}
	arch, err := parseArch(*archName)
	if err != nil {
		return err
	}
	rs, err := loadRules(*rulesPath)
	if err != nil {
		return err
	}
	ws, err := readWindows(*in, arch, *start, *n, stderrLogf(*verbose))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	matched := 0
	for _, w := range ws {
		res := match.Validate(w, rs, *vuln, w.Arch, match.Options{IgnoreAntiPatterns: *noAnti})
		if res.Reason == match.UnknownVulnType {
			return fmt.Errorf("unknown vulnerability type %s (have %v)", *vuln, rs.Types())
		}
		if res.Matched {
			matched++
		}
		rec := validateRecord{
			Source:   w.Source,
			Start:    w.Start,
			Len:      w.Len(),
			VulnType: *vuln,
			Matched:  res.Matched,
			Evidence: res.Map(),
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "%d / %d windows match %s\n", matched, len(ws), *vuln)
	return nil
}

func cmdMinimize(args []string) error {
	fs := flag.NewFlagSet("minimize", flag.ExitOnError)
	in := fs.String("in", "", "input file")
	vuln := fs.String("vuln", "", "vulnerability type")
	rulesPath := fs.String("rules", "", "rules YAML (default: built-in rules)")
	archName := fs.String("arch", "", "force architecture (x86_64, arm64)")
	start := fs.Int("start", 0, "first instruction of the window")
	n := fs.Int("len", 0, "window length (0 = to end of stream)")
	maxSteps := fs.Int("max-steps", 0, "cap validations (0 = unbounded)")
	outDir := fs.String("out", "", "write witness files to this directory")
	dot := fs.Bool("dot", false, "emit the witness flow graph as DOT")
	verbose := fs.Bool("verbose", false, "log progress detail to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *vuln == "" {
		return fmt.Errorf("--in and --vuln are required")
	}
	arch, err := parseArch(*archName)
	if err != nil {
		return err
	}
	rs, err := loadRules(*rulesPath)
	if err != nil {
		return err
	}
	logf := stderrLogf(*verbose)
	ws, err := readWindows(*in, arch, *start, *n, logf)
	if err != nil {
		return err
	}

	for _, w := range ws {
		res := minimize.Minimize(w, rs, *vuln, w.Arch, minimize.Config{MaxSteps: *maxSteps, Logf: logf})
		switch res.Reason {
		case "":
		case match.UnknownVulnType:
			return fmt.Errorf("unknown vulnerability type %s (have %v)", *vuln, rs.Types())
		default:
			fmt.Fprintf(os.Stderr, "%s: %s (%s)\n", w.ID(), res.Reason, res.Match.Reason)
			continue
		}
		fmt.Fprintf(os.Stderr, "%s: %d -> %d instructions in %d steps\n", w.ID(), w.Len(), res.Window.Len(), res.Steps)

		d := pipeline.Detection{
			VulnType: *vuln,
			Window:   w,
			Witness:  res.Window,
			Match:    res.Match,
			Steps:    res.Steps,
		}
		labels := res.Match.Evidence.Labels()
		switch {
		case *outDir != "":
			if err := output.WriteWitness(*outDir, d, *dot); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %s\n", filepath.Join(*outDir, "witness", output.WitnessName(d)+".txt"))
		case *dot:
			fmt.Print(witness.DOT(output.WitnessName(d), res.Window, labels))
		default:
			marks := make(map[int]bool, len(labels))
			for i := range labels {
				marks[i] = true
			}
			fmt.Print(insn.Format(res.Window, marks))
		}
	}
	return nil
}
