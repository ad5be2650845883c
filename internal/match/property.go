package match

import (
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/rules"
)

const (
	dependentLoadGap  = 5
	branchMemoryReach = 6
	storeLoadReach    = 5
)

// faultTokens approximate an exception or fault context in raw text.
var faultTokens = []string{"brk", "hvc", "svc", "ud2", "int"}

// checkProperty evaluates one predicate over the whole window and returns the
// fact that satisfied it.
func checkProperty(w insn.Window, p rules.Property) (Fact, bool) {
	ins := w.Insts
	f := Fact{Kind: p.Kind, Index: -1, Ref: -1}

	first := func(pred func(insn.Semantics) bool) (Fact, bool) {
		for i, in := range ins {
			if pred(in.Semantics) {
				f.Index = i
				return f, true
			}
		}
		return f, false
	}
	count := func(pred func(insn.Semantics) bool) (Fact, bool) {
		for _, in := range ins {
			if pred(in.Semantics) {
				f.Count++
			}
		}
		return f, f.Count >= p.N
	}

	switch p.Kind {
	case rules.DependentLoad:
		prev := -1
		for i, in := range ins {
			if !in.Semantics.LoadClass() {
				continue
			}
			if prev >= 0 && i-prev <= dependentLoadGap {
				f.Ref, f.Index = prev, i
				return f, true
			}
			prev = i
		}
		return f, false

	case rules.BranchThenMemory:
		for i, in := range ins {
			if !in.Semantics.IsBranch || !in.Semantics.IsConditional {
				continue
			}
			for j := i + 1; j < len(ins) && j <= i+branchMemoryReach; j++ {
				if ins[j].Semantics.AccessesMemory {
					f.Ref, f.Index = i, j
					return f, true
				}
			}
		}
		return f, false

	case rules.StoreThenLoad:
		for i, in := range ins {
			if !in.Semantics.IsStore {
				continue
			}
			for j := i + 1; j < len(ins) && j <= i+storeLoadReach; j++ {
				if ins[j].Semantics.LoadClass() {
					f.Ref, f.Index = i, j
					return f, true
				}
			}
		}
		return f, false

	case rules.IndirectBranch:
		return first(func(s insn.Semantics) bool { return s.IsIndirect })
	case rules.BranchTargetComputed:
		return first(func(s insn.Semantics) bool { return s.IsIndirect && s.IsBranch })
	case rules.PrivilegedAccess:
		return first(func(s insn.Semantics) bool { return s.IsPrivileged })
	case rules.MemoryAccess:
		return first(func(s insn.Semantics) bool { return s.AccessesMemory })
	case rules.ReturnInstruction:
		return first(func(s insn.Semantics) bool { return s.IsReturn })
	case rules.CallOrIndirectCall:
		return first(func(s insn.Semantics) bool { return s.IsCall })
	case rules.MinBranchCount:
		return count(func(s insn.Semantics) bool { return s.IsBranch })
	case rules.MinMemoryOps:
		return count(func(s insn.Semantics) bool { return s.AccessesMemory })

	case rules.ExceptionOrFault:
		for i, in := range ins {
			text := strings.ToLower(in.Text())
			for _, tok := range faultTokens {
				if strings.Contains(text, tok) {
					f.Index = i
					return f, true
				}
			}
		}
		return f, false
	}
	return f, false
}
