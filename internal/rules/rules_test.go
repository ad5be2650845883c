package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gadgetscan/internal/insn"

	"github.com/google/go-cmp/cmp"
)

const sampleRules = `
vulnerabilities:
  TEST_V1:
    description: test rule
    constraints:
      sequence:
        - semantic: COMPARISON
        - semantic: BRANCH_CONDITIONAL
          within: 3
        - semantic: memory_load
      max_distance: 12
      requires_branch_then_memory: true
      min_branch_count: 1
      requires_dependent_load: false
    anti_patterns:
      - {opcode: DSB, arch: arm64}
      - {token: "hint #0x14"}
    signatures:
      - [CMP, "b.*", ldr]
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleRules))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, ok := s.Get("TEST_V1")
	if !ok {
		t.Fatal("TEST_V1 missing")
	}
	wantSeq := []Step{
		{Tag: insn.TagComparison},
		{Tag: insn.TagBranchConditional, Within: 3, Bounded: true},
		{Tag: insn.TagMemoryLoad},
	}
	if diff := cmp.Diff(wantSeq, r.Sequence); diff != "" {
		t.Errorf("sequence mismatch (-want +got):\n%s", diff)
	}
	if r.MaxDistance != 12 {
		t.Errorf("max distance = %d, want 12", r.MaxDistance)
	}
	wantProps := []Property{{Kind: BranchThenMemory}, {Kind: MinBranchCount, N: 1}}
	if diff := cmp.Diff(wantProps, r.Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}
	wantAnti := []AntiPattern{{Opcode: "dsb", Arch: "arm64"}, {Token: "hint #0x14"}}
	if diff := cmp.Diff(wantAnti, r.AntiPatterns); diff != "" {
		t.Errorf("anti-patterns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"cmp", "b.*", "ldr"}}, r.Signatures); diff != "" {
		t.Errorf("signatures mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJSON(t *testing.T) {
	js := `{"vulnerabilities": {"J": {"constraints": {"sequence": [{"semantic": "RETURN"}], "requires_return_instruction": true}}}}`
	s, err := Parse([]byte(js))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, _ := s.Get("J")
	if len(r.Sequence) != 1 || r.Sequence[0].Tag != insn.TagReturn {
		t.Errorf("sequence = %+v", r.Sequence)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", ``, "empty"},
		{"no vulns", `vulnerabilities: {}`, "no vulnerabilities"},
		{"misspelled property", `
vulnerabilities:
  X:
    constraints:
      requires_dependant_load: true
`, "requires_dependant_load"},
		{"unknown semantic", `
vulnerabilities:
  X:
    constraints:
      sequence: [{semantic: MEMORY_STORE}]
`, "MEMORY_STORE"},
		{"negative within", `
vulnerabilities:
  X:
    constraints:
      sequence: [{semantic: RETURN, within: -1}]
`, "negative within"},
		{"zero max distance", `
vulnerabilities:
  X:
    constraints:
      max_distance: 0
`, "max_distance"},
		{"empty anti-pattern", `
vulnerabilities:
  X:
    anti_patterns: [{arch: arm64}]
`, "opcode or token"},
		{"bad arch", `
vulnerabilities:
  X:
    anti_patterns: [{opcode: dsb, arch: mips}]
`, "unknown arch"},
		{"malformed", `vulnerabilities: [`, "decode"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.doc))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(sampleRules), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestLookup(t *testing.T) {
	s, err := Parse([]byte(sampleRules))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lookup("NOPE"); !errors.Is(err, ErrUnknownVulnType) {
		t.Errorf("Lookup(NOPE) err = %v, want ErrUnknownVulnType", err)
	}
	var nilStore *Store
	if _, ok := nilStore.Get("TEST_V1"); ok {
		t.Error("nil store returned a rule")
	}
}

func TestDefault(t *testing.T) {
	s, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	want := []string{
		"BRANCH_HISTORY_INJECTION", "INCEPTION", "L1TF", "MDS", "MELTDOWN",
		"RETBLEED", "SPECTRE_V1", "SPECTRE_V2", "SPECTRE_V4",
	}
	if diff := cmp.Diff(want, s.Types()); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
	v1, _ := s.Get("SPECTRE_V1")
	if len(v1.Sequence) != 3 || v1.Sequence[0].Tag != insn.TagComparison {
		t.Errorf("SPECTRE_V1 sequence = %+v", v1.Sequence)
	}
	for _, r := range s.Rules() {
		if len(r.Sequence) == 0 {
			t.Errorf("%s has no sequence", r.Name)
		}
	}
}
