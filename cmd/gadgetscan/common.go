package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gadgetscan/internal/ingest"
	"gadgetscan/internal/insn"
	"gadgetscan/internal/rules"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"
)

func loadRules(path string) (*rules.Store, error) {
	if path == "" {
		return rules.Default()
	}
	return rules.Load(path)
}

// parseArch accepts an empty name as "infer from input".
func parseArch(s string) (insn.Arch, error) {
	if s == "" {
		return insn.ArchUnknown, nil
	}
	a := insn.ParseArch(s)
	if a == insn.ArchUnknown {
		return a, fmt.Errorf("unknown architecture %q", s)
	}
	return a, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSizes(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid window size %q", p)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no window sizes in %q", s)
	}
	return out, nil
}

func stderrLogf(verbose bool) func(string, ...any) {
	if !verbose {
		return nil
	}
	return func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// inputs merges --in patterns with positional arguments and expands them.
func inputs(in string, args []string) ([]string, error) {
	patterns := append(splitList(in), args...)
	if len(patterns) == 0 {
		return nil, fmt.Errorf("--in is required")
	}
	return ingest.Expand(patterns)
}

// readWindows reads path and returns one window per stream covering
// [start, start+n). n <= 0 runs to the end of the stream.
func readWindows(path string, arch insn.Arch, start, n int, logf func(string, ...any)) ([]insn.Window, error) {
	streams, err := ingest.ReadFile(path, ingest.Options{Arch: arch, Logf: logf})
	if err != nil {
		return nil, err
	}
	var out []insn.Window
	for _, s := range streams {
		if s.Arch == insn.ArchUnknown {
			return nil, fmt.Errorf("%s: architecture unknown, use --arch", s.Source)
		}
		w := insn.Window{Source: s.Source, Arch: s.Arch, Strategy: "input", Insts: s.Insts}
		end := w.Len()
		if n > 0 {
			end = start + n
		}
		out = append(out, w.Slice(start, end))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no instructions", path)
	}
	return out, nil
}

func writeMetrics(path string, set *metrics.Set) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	set.WritePrometheus(f)
	return f.Close()
}

const barTemplate = `{{string . "stage"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// progress shows one bar per pipeline stage on a terminal.
type progress struct {
	mu    sync.Mutex
	stage string
	bar   *pb.ProgressBar
}

// newProgress returns nil when stderr is not a terminal.
func newProgress() *progress {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return nil
	}
	return &progress{}
}

func (p *progress) update(stage string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stage != p.stage {
		if p.bar != nil {
			p.bar.Finish()
		}
		p.stage = stage
		p.bar = pb.ProgressBarTemplate(barTemplate).New(total)
		p.bar.Set("stage", stage)
		p.bar.SetWriter(os.Stderr)
		p.bar.Start()
	}
	if int64(done) > p.bar.Current() {
		p.bar.SetCurrent(int64(done))
	}
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
