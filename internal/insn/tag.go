package insn

import "strings"

// Tag is a semantic class derived from Semantics and referenced by rule
// sequences.
type Tag uint8

const (
	TagComparison Tag = 1 << iota
	TagBranchConditional
	TagMemoryLoad
	TagIndirectBranch
	TagReturn
)

var tagNames = []struct {
	tag  Tag
	name string
}{
	{TagComparison, "COMPARISON"},
	{TagBranchConditional, "BRANCH_CONDITIONAL"},
	{TagMemoryLoad, "MEMORY_LOAD"},
	{TagIndirectBranch, "INDIRECT_BRANCH"},
	{TagReturn, "RETURN"},
}

func (t Tag) String() string {
	for _, tn := range tagNames {
		if tn.tag == t {
			return tn.name
		}
	}
	var parts []string
	for _, tn := range tagNames {
		if t&tn.tag != 0 {
			parts = append(parts, tn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseTag resolves a tag name. The lookup is case-insensitive.
func ParseTag(s string) (Tag, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, tn := range tagNames {
		if tn.name == s {
			return tn.tag, true
		}
	}
	return 0, false
}

// TagNames returns every known tag name.
func TagNames() []string {
	out := make([]string, len(tagNames))
	for i, tn := range tagNames {
		out[i] = tn.name
	}
	return out
}

// Tags derives the tag set an instruction satisfies. Several tags may hold at
// once, so the result is a bit set.
func Tags(s Semantics) Tag {
	var t Tag
	if s.IsComparison {
		t |= TagComparison
	}
	if s.IsBranch && s.IsConditional {
		t |= TagBranchConditional
	}
	if s.LoadClass() {
		t |= TagMemoryLoad
	}
	if s.IsIndirect && s.IsBranch {
		t |= TagIndirectBranch
	}
	if s.IsReturn {
		t |= TagReturn
	}
	return t
}

// Has reports whether every bit of want is set in t.
func (t Tag) Has(want Tag) bool {
	return want != 0 && t&want == want
}
