// Package match evaluates instruction windows against detection rules.
package match

import (
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/rules"
)

// Reason explains why a window did not match.
type Reason string

const (
	UnknownVulnType      Reason = "unknown_vuln_type"
	AntiPatternTriggered Reason = "anti_pattern_triggered"
	SequenceFailed       Reason = "sequence_constraints_failed"
	MaxDistanceExceeded  Reason = "max_distance_exceeded"
	PropertyFailed       Reason = "property_constraints_failed"
	NotMatchingInitial   Reason = "not_matching_initial"
)

// Options adjusts validation.
type Options struct {
	// IgnoreAntiPatterns skips the anti-pattern check. Only for building
	// deliberate near-miss examples.
	IgnoreAntiPatterns bool
}

// Result is the outcome of validating one window against one rule.
type Result struct {
	Rule     string
	Matched  bool
	Reason   Reason
	Evidence Evidence
}

// Validate checks w against the rule registered as vulnType. An unregistered
// type is reported as a non-match with reason unknown_vuln_type.
func Validate(w insn.Window, store *rules.Store, vulnType string, arch insn.Arch, opts Options) Result {
	r, ok := store.Get(vulnType)
	if !ok {
		return Result{Rule: vulnType, Reason: UnknownVulnType}
	}
	return ValidateRule(w, r, arch, opts)
}

// ValidateRule checks w against r: anti-patterns, then the ordered sequence
// and length bound, then property predicates over the whole window.
func ValidateRule(w insn.Window, r *rules.Rule, arch insn.Arch, opts Options) Result {
	res := Result{Rule: r.Name}

	if !opts.IgnoreAntiPatterns {
		if ap, ok := findAntiPattern(w, r.AntiPatterns, arch); ok {
			res.Reason = AntiPatternTriggered
			res.Evidence.AntiPattern = ap.String()
			return res
		}
	}

	steps, ok := matchSequence(w, r.Sequence)
	res.Evidence.Steps = steps
	if !ok {
		res.Reason = SequenceFailed
		return res
	}
	if r.MaxDistance > 0 && w.Len() > r.MaxDistance {
		res.Reason = MaxDistanceExceeded
		return res
	}

	for _, p := range r.Properties {
		f, ok := checkProperty(w, p)
		if !ok {
			res.Reason = PropertyFailed
			res.Evidence.Missing = p.Kind.String()
			return res
		}
		res.Evidence.Facts = append(res.Evidence.Facts, f)
	}

	res.Matched = true
	return res
}

func findAntiPattern(w insn.Window, aps []rules.AntiPattern, arch insn.Arch) (rules.AntiPattern, bool) {
	if len(aps) == 0 {
		return rules.AntiPattern{}, false
	}
	raw := w.RawText()
	for _, ap := range aps {
		if !ap.Applies(arch) {
			continue
		}
		if ap.Opcode != "" {
			for _, in := range w.Insts {
				if strings.ToLower(in.Opcode) == ap.Opcode || in.Mnemonic() == ap.Opcode {
					return ap, true
				}
			}
		}
		if ap.Token != "" && strings.Contains(raw, ap.Token) {
			return ap, true
		}
	}
	return rules.AntiPattern{}, false
}

// matchSequence finds each step at the first satisfying index after the
// previous match. Bounded steps stop Within+1 instructions later.
func matchSequence(w insn.Window, seq []rules.Step) ([]StepMatch, bool) {
	if len(seq) == 0 {
		return nil, true
	}
	tags := make([]insn.Tag, w.Len())
	for i, in := range w.Insts {
		tags[i] = insn.Tags(in.Semantics)
	}

	var out []StepMatch
	pos := -1
	for k, st := range seq {
		start := pos + 1
		end := len(tags)
		if st.Bounded && start+st.Within+1 < end {
			end = start + st.Within + 1
		}
		found := -1
		for j := start; j < end; j++ {
			if tags[j].Has(st.Tag) {
				found = j
				break
			}
		}
		if found < 0 {
			return out, false
		}
		pos = found
		out = append(out, StepMatch{Step: k, Tag: st.Tag, Index: found})
	}
	return out, true
}
