package match

import (
	"math/rand"
	"strings"
	"testing"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/normalize"
	"gadgetscan/internal/rules"

	"github.com/google/go-cmp/cmp"
)

func window(t *testing.T, arch insn.Arch, lines ...string) insn.Window {
	t.Helper()
	w := insn.Window{Source: "test.s", Arch: arch, Strategy: "test"}
	for i, l := range lines {
		in, ok := normalize.Parse(i+1, l, arch)
		if !ok {
			t.Fatalf("parse %q", l)
		}
		w.Insts = append(w.Insts, in)
	}
	return w
}

func defaultRules(t *testing.T) *rules.Store {
	t.Helper()
	s, err := rules.Default()
	if err != nil {
		t.Fatalf("rules.Default: %v", err)
	}
	return s
}

func mustRules(t *testing.T, doc string) *rules.Store {
	t.Helper()
	s, err := rules.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("rules.Parse: %v", err)
	}
	return s
}

var scenarioA = []string{"cmp x0, x1", "b.lt L1", "ldr w2, [x2, x0, lsl #2]"}

func TestValidateScenarioA(t *testing.T) {
	w := window(t, insn.ARM64, scenarioA...)
	res := Validate(w, defaultRules(t), "SPECTRE_V1", insn.ARM64, Options{})
	if !res.Matched {
		t.Fatalf("not matched: reason %s, evidence %v", res.Reason, res.Map())
	}
	if diff := cmp.Diff([]int{0, 1, 2}, res.Evidence.Indices()); diff != "" {
		t.Errorf("step indices mismatch (-want +got):\n%s", diff)
	}
	m := res.Map()
	for key, want := range map[string]int{
		"seq_0_COMPARISON":         0,
		"seq_1_BRANCH_CONDITIONAL": 1,
		"seq_2_MEMORY_LOAD":        2,
	} {
		if got, ok := m[key]; !ok || got != want {
			t.Errorf("evidence[%s] = %v, want %d", key, got, want)
		}
	}
	if _, ok := m["branch_then_memory"]; !ok {
		t.Error("branch_then_memory fact missing")
	}
	if _, ok := m["reason"]; ok {
		t.Error("matched result carries a reason")
	}
}

func TestValidateScenarioB(t *testing.T) {
	store := defaultRules(t)
	for pos := 0; pos <= len(scenarioA); pos++ {
		lines := append([]string{}, scenarioA[:pos]...)
		lines = append(lines, "dsb sy")
		lines = append(lines, scenarioA[pos:]...)
		w := window(t, insn.ARM64, lines...)

		res := Validate(w, store, "SPECTRE_V1", insn.ARM64, Options{})
		if res.Matched || res.Reason != AntiPatternTriggered {
			t.Errorf("dsb at %d: matched=%v reason=%s, want anti_pattern_triggered", pos, res.Matched, res.Reason)
		}
		res = Validate(w, store, "SPECTRE_V1", insn.ARM64, Options{IgnoreAntiPatterns: true})
		if !res.Matched {
			t.Errorf("dsb at %d with anti-patterns ignored: reason %s", pos, res.Reason)
		}
	}
}

func TestValidateScenarioD(t *testing.T) {
	w := window(t, insn.ARM64, scenarioA...)
	res := Validate(w, defaultRules(t), "SPECTRE_V99", insn.ARM64, Options{})
	if res.Matched || res.Reason != UnknownVulnType {
		t.Fatalf("matched=%v reason=%s, want unknown_vuln_type", res.Matched, res.Reason)
	}
	if res.Map()["reason"] != "unknown_vuln_type" {
		t.Errorf("map = %v", res.Map())
	}
}

func TestAntiPatternScope(t *testing.T) {
	store := mustRules(t, `
vulnerabilities:
  R:
    constraints:
      sequence: [{semantic: COMPARISON}]
    anti_patterns:
      - {opcode: lfence, arch: x86_64}
      - {token: "__x86_indirect_thunk"}
`)
	w := window(t, insn.X86_64, "cmp %rax, %rbx", "lfence")
	if res := Validate(w, store, "R", insn.X86_64, Options{}); res.Reason != AntiPatternTriggered {
		t.Errorf("x86 lfence: reason %s, want anti_pattern_triggered", res.Reason)
	}
	if res := Validate(w, store, "R", insn.ARM64, Options{}); !res.Matched {
		t.Errorf("lfence scoped to x86 fired on arm64: reason %s", res.Reason)
	}
	w = window(t, insn.X86_64, "cmp %rax, %rbx", "call __x86_indirect_thunk_rax")
	if res := Validate(w, store, "R", insn.ARM64, Options{}); res.Reason != AntiPatternTriggered {
		t.Errorf("unscoped token: reason %s, want anti_pattern_triggered", res.Reason)
	}
}

func TestSequenceWithin(t *testing.T) {
	store := mustRules(t, `
vulnerabilities:
  R:
    constraints:
      sequence:
        - semantic: COMPARISON
        - semantic: BRANCH_CONDITIONAL
          within: 1
`)
	tests := []struct {
		lines []string
		want  bool
	}{
		{[]string{"cmp x0, x1", "b.eq L"}, true},
		{[]string{"cmp x0, x1", "add x0, x0, #1", "b.eq L"}, true},
		{[]string{"cmp x0, x1", "add x0, x0, #1", "add x0, x0, #1", "b.eq L"}, false},
		{[]string{"b.eq L", "cmp x0, x1"}, false},
	}
	for _, tt := range tests {
		res := Validate(window(t, insn.ARM64, tt.lines...), store, "R", insn.ARM64, Options{})
		if res.Matched != tt.want {
			t.Errorf("%v: matched=%v, want %v (reason %s)", tt.lines, res.Matched, tt.want, res.Reason)
		}
		if !tt.want && res.Reason != SequenceFailed {
			t.Errorf("%v: reason %s, want sequence_constraints_failed", tt.lines, res.Reason)
		}
	}
}

func TestSequencePartialEvidence(t *testing.T) {
	w := window(t, insn.ARM64, "cmp x0, x1", "add x0, x0, #1")
	res := Validate(w, defaultRules(t), "SPECTRE_V1", insn.ARM64, Options{})
	if res.Reason != SequenceFailed {
		t.Fatalf("reason %s, want sequence_constraints_failed", res.Reason)
	}
	if diff := cmp.Diff([]int{0}, res.Evidence.Indices()); diff != "" {
		t.Errorf("partial evidence mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxDistance(t *testing.T) {
	store := mustRules(t, `
vulnerabilities:
  R:
    constraints:
      sequence: [{semantic: COMPARISON}]
      max_distance: 3
`)
	ok := window(t, insn.ARM64, "cmp x0, x1", "nop", "nop")
	if res := Validate(ok, store, "R", insn.ARM64, Options{}); !res.Matched {
		t.Errorf("len 3: reason %s", res.Reason)
	}
	long := window(t, insn.ARM64, "cmp x0, x1", "nop", "nop", "nop")
	if res := Validate(long, store, "R", insn.ARM64, Options{}); res.Reason != MaxDistanceExceeded {
		t.Errorf("len 4: reason %s, want max_distance_exceeded", res.Reason)
	}
}

func TestProperties(t *testing.T) {
	tests := []struct {
		prop  string
		lines []string
		want  bool
	}{
		{"requires_dependent_load: true", []string{"ldr x0, [x1]", "add x0, x0, #1", "ldr x2, [x0]"}, true},
		{"requires_dependent_load: true", []string{"ldr x0, [x1]", "nop", "nop", "nop", "nop", "nop", "ldr x2, [x0]"}, false},
		{"requires_branch_then_memory: true", []string{"b.ne L", "nop", "nop", "nop", "nop", "nop", "str x0, [x1]"}, true},
		{"requires_branch_then_memory: true", []string{"b.ne L", "nop", "nop", "nop", "nop", "nop", "nop", "str x0, [x1]"}, false},
		{"requires_branch_then_memory: true", []string{"b L", "ldr x0, [x1]"}, false},
		{"requires_store_then_load: true", []string{"str x0, [x1]", "nop", "nop", "nop", "nop", "ldr x2, [x1]"}, true},
		{"requires_store_then_load: true", []string{"str x0, [x1]", "nop", "nop", "nop", "nop", "nop", "ldr x2, [x1]"}, false},
		{"requires_indirect_branch: true", []string{"br x16"}, true},
		{"requires_indirect_branch: true", []string{"b L"}, false},
		{"requires_branch_target_computed: true", []string{"blr x8"}, true},
		{"requires_privileged_access: true", []string{"mrs x0, ttbr0_el1"}, true},
		{"requires_privileged_access: true", []string{"mrs x0, cntvct_el0"}, false},
		{"requires_memory_access: true", []string{"ldr x0, [x1]"}, true},
		{"requires_memory_access: true", []string{"add x0, x1, x2"}, false},
		{"min_branch_count: 2", []string{"b.eq L", "bl f"}, true},
		{"min_branch_count: 2", []string{"b.eq L", "ret"}, false},
		{"min_branch_count: 0", []string{"nop"}, true},
		{"requires_return_instruction: true", []string{"ret"}, true},
		{"requires_call_or_indirect_call: true", []string{"blr x1"}, true},
		{"requires_call_or_indirect_call: true", []string{"br x1"}, false},
		{"min_memory_ops: 2", []string{"ldr x0, [x1]", "str x0, [x2]"}, true},
		{"min_memory_ops: 2", []string{"ldr x0, [x1]"}, false},
		{"requires_exception_or_fault_context: true", []string{"svc #0"}, true},
		{"requires_exception_or_fault_context: true", []string{"nop"}, false},
	}
	for _, tt := range tests {
		store := mustRules(t, "vulnerabilities:\n  R:\n    constraints:\n      "+tt.prop+"\n")
		res := Validate(window(t, insn.ARM64, tt.lines...), store, "R", insn.ARM64, Options{})
		if res.Matched != tt.want {
			t.Errorf("%s on %v: matched=%v, want %v", tt.prop, tt.lines, res.Matched, tt.want)
			continue
		}
		if !tt.want {
			if res.Reason != PropertyFailed {
				t.Errorf("%s: reason %s, want property_constraints_failed", tt.prop, res.Reason)
			}
			name := strings.TrimPrefix(strings.SplitN(tt.prop, ":", 2)[0], "requires_")
			name = strings.TrimSuffix(name, "_context")
			if res.Evidence.Missing != name {
				t.Errorf("%s: missing = %q, want %q", tt.prop, res.Evidence.Missing, name)
			}
		}
	}
}

func TestPropertyFacts(t *testing.T) {
	store := mustRules(t, `
vulnerabilities:
  R:
    constraints:
      requires_dependent_load: true
      min_memory_ops: 2
`)
	w := window(t, insn.ARM64, "nop", "ldr x0, [x1]", "ldr x2, [x0]")
	res := Validate(w, store, "R", insn.ARM64, Options{})
	if !res.Matched {
		t.Fatalf("reason %s", res.Reason)
	}
	want := []Fact{
		{Kind: rules.DependentLoad, Index: 2, Ref: 1},
		{Kind: rules.MinMemoryOps, Index: -1, Ref: -1, Count: 2},
	}
	if diff := cmp.Diff(want, res.Evidence.Facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
	m := res.Map()
	if diff := cmp.Diff([]int{1, 2}, m["dependent_load"]); diff != "" {
		t.Errorf("dependent_load evidence mismatch (-want +got):\n%s", diff)
	}
	if m["min_memory_ops"] != 2 {
		t.Errorf("min_memory_ops = %v, want 2", m["min_memory_ops"])
	}
}

var pool = []string{
	"cmp x0, x1", "b.lt L1", "b.ne L2", "ldr w2, [x2, x0, lsl #2]", "ldrb w3, [x4]",
	"str x0, [sp, #8]", "add x0, x0, #1", "mov x1, x2", "dsb sy", "isb", "csdb",
	"hint #0x14", "br x16", "blr x8", "ret", "subs x0, x0, #1", "nop",
}

func randomWindow(t *testing.T, rng *rand.Rand) insn.Window {
	n := 1 + rng.Intn(12)
	lines := make([]string, n)
	for i := range lines {
		lines[i] = pool[rng.Intn(len(pool))]
	}
	return window(t, insn.ARM64, lines...)
}

func TestAntiPatternExclusivity(t *testing.T) {
	store := defaultRules(t)
	rng := rand.New(rand.NewSource(1))
	matched := 0
	for iter := 0; iter < 2000; iter++ {
		w := randomWindow(t, rng)
		for _, r := range store.Rules() {
			res := ValidateRule(w, r, insn.ARM64, Options{})
			if !res.Matched {
				continue
			}
			matched++
			raw := w.RawText()
			for _, ap := range r.AntiPatterns {
				if !ap.Applies(insn.ARM64) {
					continue
				}
				for _, in := range w.Insts {
					if ap.Opcode != "" && (in.Opcode == ap.Opcode || in.Mnemonic() == ap.Opcode) {
						t.Fatalf("%s matched window containing opcode %s: %v", r.Name, ap.Opcode, w.Opcodes())
					}
				}
				if ap.Token != "" && strings.Contains(raw, ap.Token) {
					t.Fatalf("%s matched window containing token %q", r.Name, ap.Token)
				}
			}
		}
	}
	if matched == 0 {
		t.Fatal("no random window matched any rule")
	}
}

func TestOrderingMonotonic(t *testing.T) {
	store := defaultRules(t)
	rng := rand.New(rand.NewSource(2))
	for iter := 0; iter < 2000; iter++ {
		w := randomWindow(t, rng)
		for _, r := range store.Rules() {
			res := ValidateRule(w, r, insn.ARM64, Options{IgnoreAntiPatterns: true})
			idx := res.Evidence.Indices()
			for i := 1; i < len(idx); i++ {
				if idx[i] <= idx[i-1] {
					t.Fatalf("%s: indices not increasing: %v", r.Name, idx)
				}
			}
			if res.Matched && len(idx) != len(r.Sequence) {
				t.Fatalf("%s: matched with %d of %d steps", r.Name, len(idx), len(r.Sequence))
			}
		}
	}
}
