package normalize

import (
	"strings"

	"gadgetscan/internal/insn"
)

var (
	arm64CondBranches = set("cbz", "cbnz", "tbz", "tbnz")

	arm64IndirectBranches = set("br", "braa", "brab", "braaz", "brabz")

	arm64IndirectCalls = set("blr", "blraa", "blrab", "blraaz", "blrabz")

	arm64Returns = set("ret", "retaa", "retab")

	arm64ExceptionReturns = set("eret", "eretaa", "eretab")

	arm64Arith = set("add", "adds", "sub", "subs", "mul", "madd", "msub", "smull", "umull",
		"smulh", "umulh", "sdiv", "udiv", "and", "ands", "orr", "orn", "eor", "eon", "lsl", "lsr",
		"asr", "ror", "neg", "negs", "mvn", "bic", "bics", "adc", "adcs", "sbc", "sbcs", "movk",
		"movz", "movn", "adr", "adrp", "ubfx", "sbfx", "ubfiz", "sbfiz", "bfi", "bfxil", "extr",
		"clz", "rbit", "rev", "sxtw", "uxtw", "sxtb", "sxth", "uxtb", "uxth")

	arm64Compare = set("cmp", "cmn", "tst", "subs", "adds", "ands", "bics", "negs",
		"ccmp", "ccmn", "fcmp", "fcmpe", "fccmp")

	arm64Barrier = set("dsb", "dmb", "isb", "csdb", "ssbb", "pssbb", "sb")

	arm64Cache = set("prfm", "prfum", "dc", "ic")

	arm64Privileged = set("hvc", "smc", "tlbi", "at", "wfi", "wfe")

	arm64TimingRegs = []string{"cntvct_el0", "cntpct_el0", "cntvctss_el0", "cntpctss_el0", "pmccntr_el0"}

	// Atomic read-modify-write families load and store.
	arm64Atomics = []string{"ldadd", "ldclr", "ldeor", "ldset", "ldsmax", "ldsmin", "ldumax", "ldumin", "swp", "cas"}
)

// arm64Canonical strips the condition from "b.cond" and "bc.cond".
// Flag-setting forms such as subs stay distinct from sub.
func arm64Canonical(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	if strings.HasPrefix(op, "b.") || strings.HasPrefix(op, "bc.") {
		return "b"
	}
	return op
}

func arm64Semantics(mnemonic string, ops []insn.Operand) insn.Semantics {
	op := strings.ToLower(strings.TrimSpace(mnemonic))
	var s insn.Semantics

	switch {
	case strings.HasPrefix(op, "b.") || strings.HasPrefix(op, "bc."):
		s.IsBranch, s.IsConditional = true, true
	case arm64CondBranches[op]:
		s.IsBranch, s.IsConditional = true, true
	case op == "b":
		s.IsBranch = true
	case arm64IndirectBranches[op]:
		s.IsBranch, s.IsIndirect = true, true
	case op == "bl":
		s.IsBranch, s.IsCall = true, true
	case arm64IndirectCalls[op]:
		s.IsBranch, s.IsCall, s.IsIndirect = true, true, true
	case arm64Returns[op]:
		s.IsReturn = true
	case arm64ExceptionReturns[op]:
		s.IsReturn, s.IsPrivileged = true, true
	}

	s.IsArithmetic = arm64Arith[op]
	s.IsComparison = arm64Compare[op]
	s.IsSpeculationBarrier = arm64Barrier[op] || (op == "hint" && csdbHint(ops))
	s.IsCacheOperation = arm64Cache[op]
	if arm64Privileged[op] {
		s.IsPrivileged = true
	}

	switch {
	case atomic(op):
		s.IsLoad, s.IsStore, s.AccessesMemory = true, true, true
	case strings.HasPrefix(op, "ld"):
		s.IsLoad, s.AccessesMemory = true, true
	case strings.HasPrefix(op, "st"):
		s.IsStore, s.AccessesMemory = true, true
	}

	if op == "mrs" || op == "msr" {
		for _, o := range ops {
			r := strings.ToLower(o.Text)
			if !isSysReg(r) {
				continue
			}
			if !strings.HasSuffix(r, "_el0") {
				s.IsPrivileged = true
			}
			for _, t := range arm64TimingRegs {
				if r == t {
					s.IsTimingSensitive = true
				}
			}
		}
	}
	return s
}

func atomic(op string) bool {
	for _, p := range arm64Atomics {
		if strings.HasPrefix(op, p) {
			return true
		}
	}
	return false
}

// csdbHint matches "hint #0x14" and "hint #20", the CSDB encoding.
func csdbHint(ops []insn.Operand) bool {
	for _, o := range ops {
		switch strings.ToLower(strings.TrimSpace(o.Text)) {
		case "#0x14", "#20", "0x14", "20":
			return true
		}
	}
	return false
}
