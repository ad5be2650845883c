package insn

// SemType is the coarse per-instruction class used by similarity metrics and
// the heuristic flow graph.
type SemType uint8

const (
	SemCompute SemType = iota
	SemLoad
	SemStore
	SemArithmetic
	SemCall
	SemBranch
	SemCompare
	SemCache
	SemBarrier
	SemTiming
	SemNop
)

var semTypeNames = [...]string{
	SemCompute:    "COMPUTE",
	SemLoad:       "LOAD",
	SemStore:      "STORE",
	SemArithmetic: "ARITHMETIC",
	SemCall:       "CALL",
	SemBranch:     "BRANCH",
	SemCompare:    "COMPARE",
	SemCache:      "CACHE",
	SemBarrier:    "BARRIER",
	SemTiming:     "TIMING",
	SemNop:        "NOP",
}

func (t SemType) String() string {
	if int(t) < len(semTypeNames) {
		return semTypeNames[t]
	}
	return "COMPUTE"
}

// SemType classifies the instruction. Calls are checked before branches and
// returns count as branches.
func (in Instruction) SemType() SemType {
	s := in.Semantics
	switch {
	case s.IsSpeculationBarrier:
		return SemBarrier
	case s.IsCacheOperation:
		return SemCache
	case s.IsTimingSensitive:
		return SemTiming
	case s.IsCall:
		return SemCall
	case s.IsBranch || s.IsReturn:
		return SemBranch
	case s.IsComparison:
		return SemCompare
	case s.LoadClass():
		return SemLoad
	case s.IsStore:
		return SemStore
	case s.IsArithmetic:
		return SemArithmetic
	case in.Opcode == "nop" || in.Opcode == "hint":
		return SemNop
	}
	return SemCompute
}
