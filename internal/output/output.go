// Package output writes gadgetscan results to files.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/pipeline"
	"gadgetscan/internal/witness"

	"github.com/cespare/xxhash/v2"
)

// Detection is one minimal witness as written to detections.jsonl.
type Detection struct {
	VulnType     string         `json:"vuln_type"`
	Source       string         `json:"source"`
	Arch         insn.Arch      `json:"arch"`
	Strategy     string         `json:"strategy"`
	WindowStart  int            `json:"window_start"`
	WindowLen    int            `json:"window_len"`
	Start        int            `json:"start"`
	Len          int            `json:"len"`
	StartLine    int            `json:"start_line"`
	EndLine      int            `json:"end_line"`
	Evidence     map[string]any `json:"evidence"`
	Steps        int            `json:"minimize_steps"`
	Instructions []string       `json:"instructions"`
}

// Similar is one ranked window/gadget pair as written to similar.jsonl.
type Similar struct {
	Rank       int                `json:"rank"`
	Source     string             `json:"source"`
	Arch       insn.Arch          `json:"arch"`
	Strategy   string             `json:"strategy"`
	Start      int                `json:"start"`
	Len        int                `json:"len"`
	StartLine  int                `json:"start_line"`
	EndLine    int                `json:"end_line"`
	Gadget     string             `json:"gadget"`
	VulnType   string             `json:"vuln_type"`
	Signature  string             `json:"signature"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
}

// Summary is written to summary.json.
type Summary struct {
	Files        int            `json:"files"`
	Streams      int            `json:"streams"`
	Instructions int            `json:"instructions"`
	Windows      int            `json:"windows"`
	Unique       int            `json:"unique_windows"`
	Skipped      int            `json:"skipped_streams"`
	Detections   int            `json:"detections"`
	Similar      int            `json:"similar"`
	ByType       map[string]int `json:"detections_by_type"`
}

func lines(w insn.Window) (first, last int) {
	if w.Len() == 0 {
		return 0, 0
	}
	return w.Insts[0].Line, w.Insts[w.Len()-1].Line
}

func texts(w insn.Window) []string {
	out := make([]string, w.Len())
	for i, in := range w.Insts {
		out[i] = in.Text()
	}
	return out
}

func NewDetection(d pipeline.Detection) Detection {
	first, last := lines(d.Witness)
	return Detection{
		VulnType:     d.VulnType,
		Source:       d.Witness.Source,
		Arch:         d.Witness.Arch,
		Strategy:     d.Window.Strategy,
		WindowStart:  d.Window.Start,
		WindowLen:    d.Window.Len(),
		Start:        d.Witness.Start,
		Len:          d.Witness.Len(),
		StartLine:    first,
		EndLine:      last,
		Evidence:     d.Match.Evidence.Map(),
		Steps:        d.Steps,
		Instructions: texts(d.Witness),
	}
}

func NewSummary(rep *pipeline.Report) Summary {
	s := Summary{
		Files:        rep.Files,
		Streams:      rep.Streams,
		Instructions: rep.Instructions,
		Windows:      rep.Windows,
		Unique:       rep.Unique,
		Skipped:      rep.Skipped,
		Detections:   len(rep.Detections),
		Similar:      len(rep.Similar),
		ByType:       make(map[string]int),
	}
	for _, d := range rep.Detections {
		s.ByType[d.VulnType]++
	}
	return s
}

// WriteReport writes summary.json, detections.jsonl and similar.jsonl to dir.
func WriteReport(dir string, rep *pipeline.Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	if err := WriteJSON(filepath.Join(dir, "summary.json"), NewSummary(rep)); err != nil {
		return err
	}

	dets := make([]Detection, len(rep.Detections))
	for i, d := range rep.Detections {
		dets[i] = NewDetection(d)
	}
	if err := writeJSONLFile(filepath.Join(dir, "detections.jsonl"), dets); err != nil {
		return err
	}

	sims := make([]Similar, len(rep.Similar))
	for i, m := range rep.Similar {
		first, last := lines(m.Window)
		sims[i] = Similar{
			Rank:       i + 1,
			Source:     m.Window.Source,
			Arch:       m.Window.Arch,
			Strategy:   m.Window.Strategy,
			Start:      m.Window.Start,
			Len:        m.Window.Len(),
			StartLine:  first,
			EndLine:    last,
			Gadget:     m.Gadget.Name,
			VulnType:   m.Gadget.VulnType,
			Signature:  m.Gadget.Signature,
			Confidence: m.Confidence,
			Scores:     m.Scores.Map(),
		}
	}
	return writeJSONLFile(filepath.Join(dir, "similar.jsonl"), sims)
}

// WitnessName is the file stem for a detection: source base name, a short
// hash of the full source path, start index, length and vulnerability type.
func WitnessName(d pipeline.Detection) string {
	src := d.Witness.Source
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return fmt.Sprintf("%s_%08x_%d_%d_%s", base, uint32(xxhash.Sum64String(src)),
		d.Witness.Start, d.Witness.Len(), strings.ToLower(d.VulnType))
}

// WriteWitness writes witness/<name>.txt with evidence marks. With dot set
// it also writes the lattice graph to <name>.dot and the themed basic-block
// graph to <name>.cfg.dot.
func WriteWitness(dir string, d pipeline.Detection, dot bool) error {
	name := WitnessName(d)
	path := filepath.Join(dir, "witness", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir witness: %w", err)
	}

	labels := d.Match.Evidence.Labels()
	marks := make(map[int]bool, len(labels))
	for i := range labels {
		marks[i] = true
	}
	text := fmt.Sprintf("# %s %s [%d,%d)\n", d.VulnType, d.Witness.Source, d.Witness.Start, d.Witness.Start+d.Witness.Len())
	text += insn.Format(d.Witness, marks)
	keys := make([]int, 0, len(labels))
	for i := range labels {
		keys = append(keys, i)
	}
	sort.Ints(keys)
	for _, i := range keys {
		text += fmt.Sprintf("# %d: %s\n", d.Witness.Insts[i].Line, labels[i])
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("output: write witness %s: %w", name, err)
	}
	if !dot {
		return nil
	}
	g := witness.DOT(name, d.Witness, labels)
	if err := os.WriteFile(filepath.Join(dir, "witness", name+".dot"), []byte(g), 0644); err != nil {
		return fmt.Errorf("output: write witness graph %s: %w", name, err)
	}
	c := witness.BuildCFG(name, d.Witness.Insts, 0)
	g = witness.AnnotatedDOT(c, labels, witness.NASA)
	if err := os.WriteFile(filepath.Join(dir, "witness", name+".cfg.dot"), []byte(g), 0644); err != nil {
		return fmt.Errorf("output: write witness cfg %s: %w", name, err)
	}
	return nil
}

// WriteJSON writes v to path as indented JSON.
func WriteJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL[T any](w io.Writer, items []T) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return fmt.Errorf("output: encode: %w", err)
		}
	}
	return bw.Flush()
}

func writeJSONLFile[T any](path string, items []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	if err := WriteJSONL(f, items); err != nil {
		f.Close()
		return fmt.Errorf("output: %s: %w", path, err)
	}
	return f.Close()
}
