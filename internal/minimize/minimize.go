// Package minimize shrinks a matching window to a smaller contiguous span
// that still satisfies the same rule.
package minimize

import (
	"gadgetscan/internal/insn"
	"gadgetscan/internal/match"
	"gadgetscan/internal/rules"
)

type Config struct {
	// MaxSteps limits the number of validations. When hit, shrinking stops
	// and the last validated span is returned. 0 means no limit.
	MaxSteps int
	// Logf is used for sharing debugging output.
	Logf func(string, ...interface{})
}

// Result is a minimized window and the evidence of its final validation.
// When the input did not match, Window is empty and Reason says why.
type Result struct {
	Window insn.Window
	Match  match.Result
	Reason match.Reason
	Steps  int // validations performed
}

// Minimize looks up vulnType and minimizes w against it.
func Minimize(w insn.Window, store *rules.Store, vulnType string, arch insn.Arch, cfg Config) Result {
	r, ok := store.Get(vulnType)
	if !ok {
		return Result{
			Window: w.Slice(0, 0),
			Match:  match.Result{Rule: vulnType, Reason: match.UnknownVulnType},
			Reason: match.UnknownVulnType,
		}
	}
	return MinimizeRule(w, r, arch, cfg)
}

// MinimizeRule shrinks w greedily: first the left boundary advances while the
// rule still holds, then the right boundary retracts while it still holds.
// Every candidate span is fully re-validated. The result is locally minimal
// at both ends but not necessarily the smallest matching span.
func MinimizeRule(w insn.Window, r *rules.Rule, arch insn.Arch, cfg Config) Result {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	var res Result
	validate := func(l, r2 int) (match.Result, bool) {
		if cfg.MaxSteps > 0 && res.Steps >= cfg.MaxSteps {
			return match.Result{}, false
		}
		res.Steps++
		m := match.ValidateRule(w.Slice(l, r2), r, arch, match.Options{})
		return m, m.Matched
	}

	initial, ok := validate(0, w.Len())
	if !ok {
		logf("minimize %s: %s does not match (%s)", r.Name, w.ID(), initial.Reason)
		res.Window = w.Slice(0, 0)
		res.Match = initial
		res.Reason = match.NotMatchingInitial
		return res
	}

	left, right := 0, w.Len()
	last := initial
	for left+1 < right {
		m, ok := validate(left+1, right)
		if !ok {
			break
		}
		left++
		last = m
	}
	logf("minimize %s: left boundary %d after %d steps", r.Name, left, res.Steps)

	for right-1 > left {
		m, ok := validate(left, right-1)
		if !ok {
			break
		}
		right--
		last = m
	}
	logf("minimize %s: [%d,%d) of %d after %d steps", r.Name, left, right, w.Len(), res.Steps)

	res.Window = w.Slice(left, right)
	res.Match = last
	return res
}
