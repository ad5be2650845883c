// Package rules holds declarative vulnerability patterns: ordered semantic
// sequences, property predicates and disqualifying anti-patterns.
package rules

import (
	"errors"
	"fmt"
	"sort"

	"gadgetscan/internal/insn"
)

// ErrUnknownVulnType is returned when a rule name is not registered.
var ErrUnknownVulnType = errors.New("unknown vulnerability type")

// PropertyKind enumerates the predicates a rule may require.
type PropertyKind uint8

const (
	DependentLoad PropertyKind = iota + 1
	BranchThenMemory
	IndirectBranch
	BranchTargetComputed
	PrivilegedAccess
	MemoryAccess
	MinBranchCount
	ReturnInstruction
	CallOrIndirectCall
	MinMemoryOps
	StoreThenLoad
	ExceptionOrFault
)

var propertyNames = [...]string{
	DependentLoad:        "dependent_load",
	BranchThenMemory:     "branch_then_memory",
	IndirectBranch:       "indirect_branch",
	BranchTargetComputed: "branch_target_computed",
	PrivilegedAccess:     "privileged_access",
	MemoryAccess:         "memory_access",
	MinBranchCount:       "min_branch_count",
	ReturnInstruction:    "return_instruction",
	CallOrIndirectCall:   "call_or_indirect_call",
	MinMemoryOps:         "min_memory_ops",
	StoreThenLoad:        "store_then_load",
	ExceptionOrFault:     "exception_or_fault",
}

func (k PropertyKind) String() string {
	if k > 0 && int(k) < len(propertyNames) {
		return propertyNames[k]
	}
	return fmt.Sprintf("property(%d)", k)
}

// Counted reports whether the property carries a threshold N.
func (k PropertyKind) Counted() bool {
	return k == MinBranchCount || k == MinMemoryOps
}

// Property is one required predicate. N is the threshold for counted kinds.
type Property struct {
	Kind PropertyKind
	N    int
}

func (p Property) String() string {
	if p.Kind.Counted() {
		return fmt.Sprintf("%s>=%d", p.Kind, p.N)
	}
	return p.Kind.String()
}

// Step is one element of an ordered sequence. A bounded step searches at
// most Within+1 instructions past the previous step's match.
type Step struct {
	Tag     insn.Tag
	Within  int
	Bounded bool
}

// AntiPattern disqualifies a window when its opcode or token is present.
// Arch, when set, scopes it to one architecture.
type AntiPattern struct {
	Opcode string
	Token  string
	Arch   string
}

// Applies reports whether the anti-pattern is in scope for arch.
func (a AntiPattern) Applies(arch insn.Arch) bool {
	return arch.Matches(a.Arch)
}

func (a AntiPattern) String() string {
	s := a.Opcode
	if s == "" {
		s = fmt.Sprintf("%q", a.Token)
	}
	if a.Arch != "" {
		s += "@" + a.Arch
	}
	return s
}

// Rule is one named vulnerability pattern.
type Rule struct {
	Name         string
	Description  string
	Sequence     []Step
	MaxDistance  int // 0 = unbounded
	Properties   []Property
	AntiPatterns []AntiPattern
	Signatures   [][]string
}

// Store is an immutable set of rules keyed by vulnerability type.
type Store struct {
	rules map[string]*Rule
}

// NewStore builds a Store from rules. Duplicate names are an error.
func NewStore(rs ...*Rule) (*Store, error) {
	s := &Store{rules: make(map[string]*Rule, len(rs))}
	for _, r := range rs {
		if r.Name == "" {
			return nil, fmt.Errorf("rules: rule without name")
		}
		if _, dup := s.rules[r.Name]; dup {
			return nil, fmt.Errorf("rules: duplicate rule %s", r.Name)
		}
		s.rules[r.Name] = r
	}
	return s, nil
}

// Get returns the rule registered under name.
func (s *Store) Get(name string) (*Rule, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.rules[name]
	return r, ok
}

// Lookup is Get with an error wrapping ErrUnknownVulnType.
func (s *Store) Lookup(name string) (*Rule, error) {
	r, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("rules: %s: %w", name, ErrUnknownVulnType)
	}
	return r, nil
}

// Types returns every registered vulnerability type, sorted.
func (s *Store) Types() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.rules))
	for n := range s.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Rules returns every rule in Types order.
func (s *Store) Rules() []*Rule {
	names := s.Types()
	out := make([]*Rule, len(names))
	for i, n := range names {
		out[i] = s.rules[n]
	}
	return out
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
