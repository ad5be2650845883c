package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gadgetscan/internal/insn"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultRules []byte

// Default returns the built-in rule set.
func Default() (*Store, error) {
	s, err := Parse(defaultRules)
	if err != nil {
		return nil, fmt.Errorf("rules: default set: %w", err)
	}
	return s, nil
}

// Load reads a rule file. JSON input is accepted since it is valid YAML.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rules: %s: %w", path, err)
	}
	return s, nil
}

type fileDoc struct {
	Vulnerabilities map[string]ruleDoc `yaml:"vulnerabilities"`
}

type ruleDoc struct {
	Description  string           `yaml:"description"`
	Constraints  constraintDoc    `yaml:"constraints"`
	AntiPatterns []antiPatternDoc `yaml:"anti_patterns"`
	Signatures   [][]string       `yaml:"signatures"`
}

// constraintDoc lists every accepted constraint key. Strict decoding turns a
// misspelled key into a load error.
type constraintDoc struct {
	Sequence    []stepDoc `yaml:"sequence"`
	MaxDistance *int      `yaml:"max_distance"`

	RequiresDependentLoad           bool `yaml:"requires_dependent_load"`
	RequiresBranchThenMemory        bool `yaml:"requires_branch_then_memory"`
	RequiresIndirectBranch          bool `yaml:"requires_indirect_branch"`
	RequiresBranchTargetComputed    bool `yaml:"requires_branch_target_computed"`
	RequiresPrivilegedAccess        bool `yaml:"requires_privileged_access"`
	RequiresMemoryAccess            bool `yaml:"requires_memory_access"`
	MinBranchCount                  *int `yaml:"min_branch_count"`
	RequiresReturnInstruction       bool `yaml:"requires_return_instruction"`
	RequiresCallOrIndirectCall      bool `yaml:"requires_call_or_indirect_call"`
	MinMemoryOps                    *int `yaml:"min_memory_ops"`
	RequiresStoreThenLoad           bool `yaml:"requires_store_then_load"`
	RequiresExceptionOrFaultContext bool `yaml:"requires_exception_or_fault_context"`
}

type stepDoc struct {
	Semantic string `yaml:"semantic"`
	Within   *int   `yaml:"within"`
}

type antiPatternDoc struct {
	Opcode string `yaml:"opcode"`
	Token  string `yaml:"token"`
	Arch   string `yaml:"arch"`
}

// Parse decodes a rule document.
func Parse(data []byte) (*Store, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc fileDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty rule document")
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(doc.Vulnerabilities) == 0 {
		return nil, fmt.Errorf("no vulnerabilities defined")
	}

	rs := make([]*Rule, 0, len(doc.Vulnerabilities))
	for name, rd := range doc.Vulnerabilities {
		r, err := rd.rule(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		rs = append(rs, r)
	}
	return NewStore(rs...)
}

func (rd ruleDoc) rule(name string) (*Rule, error) {
	r := &Rule{Name: name, Description: rd.Description}
	c := rd.Constraints

	for i, sd := range c.Sequence {
		tag, ok := insn.ParseTag(sd.Semantic)
		if !ok {
			return nil, fmt.Errorf("sequence[%d]: unknown semantic %q", i, sd.Semantic)
		}
		st := Step{Tag: tag}
		if sd.Within != nil {
			if *sd.Within < 0 {
				return nil, fmt.Errorf("sequence[%d]: negative within %d", i, *sd.Within)
			}
			st.Within, st.Bounded = *sd.Within, true
		}
		r.Sequence = append(r.Sequence, st)
	}

	if c.MaxDistance != nil {
		if *c.MaxDistance <= 0 {
			return nil, fmt.Errorf("max_distance must be positive, got %d", *c.MaxDistance)
		}
		r.MaxDistance = *c.MaxDistance
	}

	flags := []struct {
		on   bool
		kind PropertyKind
	}{
		{c.RequiresDependentLoad, DependentLoad},
		{c.RequiresBranchThenMemory, BranchThenMemory},
		{c.RequiresIndirectBranch, IndirectBranch},
		{c.RequiresBranchTargetComputed, BranchTargetComputed},
		{c.RequiresPrivilegedAccess, PrivilegedAccess},
		{c.RequiresMemoryAccess, MemoryAccess},
		{c.RequiresReturnInstruction, ReturnInstruction},
		{c.RequiresCallOrIndirectCall, CallOrIndirectCall},
		{c.RequiresStoreThenLoad, StoreThenLoad},
		{c.RequiresExceptionOrFaultContext, ExceptionOrFault},
	}
	for _, f := range flags {
		if f.on {
			r.Properties = append(r.Properties, Property{Kind: f.kind})
		}
	}
	for _, cnt := range []struct {
		n    *int
		kind PropertyKind
	}{
		{c.MinBranchCount, MinBranchCount},
		{c.MinMemoryOps, MinMemoryOps},
	} {
		if cnt.n == nil {
			continue
		}
		if *cnt.n < 0 {
			return nil, fmt.Errorf("%s must not be negative", cnt.kind)
		}
		r.Properties = append(r.Properties, Property{Kind: cnt.kind, N: *cnt.n})
	}
	sort.SliceStable(r.Properties, func(i, j int) bool {
		return r.Properties[i].Kind < r.Properties[j].Kind
	})

	for i, ad := range rd.AntiPatterns {
		ap := AntiPattern{
			Opcode: strings.ToLower(strings.TrimSpace(ad.Opcode)),
			Token:  strings.ToLower(ad.Token),
			Arch:   strings.TrimSpace(ad.Arch),
		}
		if ap.Opcode == "" && ap.Token == "" {
			return nil, fmt.Errorf("anti_patterns[%d]: needs opcode or token", i)
		}
		if ap.Arch != "" && insn.ParseArch(ap.Arch) == insn.ArchUnknown {
			return nil, fmt.Errorf("anti_patterns[%d]: unknown arch %q", i, ap.Arch)
		}
		r.AntiPatterns = append(r.AntiPatterns, ap)
	}

	for i, sig := range rd.Signatures {
		if len(sig) == 0 {
			return nil, fmt.Errorf("signatures[%d]: empty pattern", i)
		}
		p := make([]string, len(sig))
		for j, op := range sig {
			p[j] = strings.ToLower(strings.TrimSpace(op))
		}
		r.Signatures = append(r.Signatures, p)
	}
	return r, nil
}
