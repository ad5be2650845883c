package match

import (
	"fmt"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/rules"
)

// StepMatch records the window index that satisfied sequence step Step.
type StepMatch struct {
	Step  int
	Tag   insn.Tag
	Index int
}

// Key is the evidence key for the step, e.g. "seq_1_BRANCH_CONDITIONAL".
func (s StepMatch) Key() string {
	return fmt.Sprintf("seq_%d_%s", s.Step, s.Tag)
}

// Fact is the supporting observation for a satisfied property. Index is the
// instruction that satisfied it and Ref the earlier instruction of a pair;
// both are -1 when not applicable. Count is set for counted properties.
type Fact struct {
	Kind  rules.PropertyKind
	Index int
	Ref   int
	Count int
}

// Evidence explains a match or a rejection.
type Evidence struct {
	Steps       []StepMatch
	Facts       []Fact
	Missing     string
	AntiPattern string
}

// Indices returns the matched step indices in step order.
func (e Evidence) Indices() []int {
	out := make([]int, len(e.Steps))
	for i, s := range e.Steps {
		out[i] = s.Index
	}
	return out
}

// Map flattens evidence to string keys: one entry per matched step, one per
// satisfied property, plus "missing" and "anti_pattern" when set.
func (e Evidence) Map() map[string]any {
	m := make(map[string]any, len(e.Steps)+len(e.Facts)+2)
	for _, s := range e.Steps {
		m[s.Key()] = s.Index
	}
	for _, f := range e.Facts {
		switch {
		case f.Kind.Counted():
			m[f.Kind.String()] = f.Count
		case f.Ref >= 0:
			m[f.Kind.String()] = []int{f.Ref, f.Index}
		default:
			m[f.Kind.String()] = f.Index
		}
	}
	if e.Missing != "" {
		m["missing"] = e.Missing
	}
	if e.AntiPattern != "" {
		m["anti_pattern"] = e.AntiPattern
	}
	return m
}

// Map returns the evidence map with the rejection reason under "reason".
func (r Result) Map() map[string]any {
	m := r.Evidence.Map()
	if r.Reason != "" {
		m["reason"] = string(r.Reason)
	}
	return m
}

// Labels maps each window index named by the evidence to its step and fact
// keys, joined with ", ".
func (e Evidence) Labels() map[int]string {
	m := make(map[int]string)
	add := func(i int, label string) {
		if i < 0 {
			return
		}
		if m[i] != "" {
			label = m[i] + ", " + label
		}
		m[i] = label
	}
	for _, s := range e.Steps {
		add(s.Index, s.Key())
	}
	for _, f := range e.Facts {
		if f.Kind.Counted() {
			continue
		}
		add(f.Ref, f.Kind.String())
		add(f.Index, f.Kind.String())
	}
	return m
}
