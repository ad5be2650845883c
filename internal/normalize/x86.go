package normalize

import (
	"strings"

	"gadgetscan/internal/insn"
)

var (
	x86CondJumps = set("ja", "jae", "jb", "jbe", "jc", "je", "jg", "jge", "jl", "jle",
		"jna", "jnae", "jnb", "jnbe", "jnc", "jne", "jng", "jnge", "jnl", "jnle",
		"jno", "jnp", "jns", "jnz", "jo", "jp", "jpe", "jpo", "js", "jz",
		"jcxz", "jecxz", "jrcxz", "loop", "loope", "loopne", "loopz", "loopnz")

	x86Arith = set("add", "sub", "adc", "sbb", "imul", "mul", "idiv", "div", "inc", "dec",
		"neg", "not", "and", "or", "xor", "shl", "shr", "sal", "sar", "rol", "ror", "rcl", "rcr",
		"lea", "xadd", "andn", "bzhi", "popcnt", "lzcnt", "tzcnt", "shld", "shrd", "bswap",
		"shlx", "shrx", "sarx", "mulx", "adcx", "adox")

	x86Compare = set("cmp", "test", "bt", "cmpxchg", "ucomiss", "ucomisd", "comiss", "comisd", "ptest")

	x86Barrier = set("lfence", "mfence", "sfence", "cpuid", "serialize")

	x86Cache = set("clflush", "clflushopt", "clwb", "clzero", "prefetch", "prefetcht0",
		"prefetcht1", "prefetcht2", "prefetchnta", "prefetchw", "invd", "wbinvd")

	x86Timing = set("rdtsc", "rdtscp", "rdpmc")

	x86Privileged = set("rdmsr", "wrmsr", "invlpg", "hlt", "swapgs", "sysret", "sysexit",
		"iret", "iretd", "iretq", "cli", "sti", "lgdt", "lidt", "lldt", "ltr", "invd",
		"wbinvd", "in", "out", "invpcid", "clts", "rdpkru")

	x86Moves = set("mov", "movabs", "movzx", "movsx", "movsxd", "movaps", "movups",
		"movapd", "movupd", "movdqa", "movdqu", "movd", "movss", "movnti", "movbe",
		"vmovdqa", "vmovdqu", "vmovaps", "vmovups")

	x86Other = set("push", "pop", "jmp", "call", "ret", "nop", "leave", "enter", "xchg",
		"int", "int3", "ud2", "syscall", "sysenter", "cwd", "cdq", "cqo", "cltq", "cqto",
		"pause", "stos", "lods", "movs", "scas", "cmps", "lock")

	x86Prefixes = set("lock", "rep", "repe", "repz", "repne", "repnz", "notrack", "bnd", "data16", "addr32")
)

func x86Known(op string) bool {
	return x86CondJumps[op] || x86Arith[op] || x86Compare[op] || x86Barrier[op] ||
		x86Cache[op] || x86Timing[op] || x86Privileged[op] || x86Moves[op] || x86Other[op]
}

// x86Canonical lowercases op and strips AT&T size suffixes when the stripped
// form is a known mnemonic, so "movq" becomes "mov" but "sub" is untouched.
// Conditional jump mnemonics keep their condition.
func x86Canonical(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	if op == "subs" {
		return "sub"
	}
	if len(op) == 6 && (strings.HasPrefix(op, "movz") || strings.HasPrefix(op, "movs")) &&
		strings.ContainsRune("bwl", rune(op[4])) && strings.ContainsRune("wlq", rune(op[5])) {
		if op == "movslq" {
			return "movsxd"
		}
		return op[:4] + "x"
	}
	if x86Known(op) || strings.HasPrefix(op, "cmov") || strings.HasPrefix(op, "set") {
		return op
	}
	if n := len(op); n > 1 && strings.ContainsRune("qlwbs", rune(op[n-1])) && x86Known(op[:n-1]) {
		return op[:n-1]
	}
	return op
}

// attSyntax guesses AT&T operand order from register and immediate sigils.
func attSyntax(ops []insn.Operand) bool {
	for _, op := range ops {
		t := strings.TrimPrefix(op.Text, "*")
		if strings.HasPrefix(t, "%") || strings.HasPrefix(t, "$") || strings.Contains(t, "(%") {
			return true
		}
	}
	return false
}

func indirectTarget(ops []insn.Operand) bool {
	for _, op := range ops {
		if strings.HasPrefix(op.Text, "*") || op.Kind == insn.Register || op.Kind.IsMemory() {
			return true
		}
	}
	return false
}

func x86Semantics(mnemonic string, ops []insn.Operand) insn.Semantics {
	op := x86Canonical(mnemonic)
	var s insn.Semantics

	switch {
	case op == "jmp":
		s.IsBranch = true
		s.IsIndirect = indirectTarget(ops)
	case x86CondJumps[op]:
		s.IsBranch = true
		s.IsConditional = true
	case op == "call":
		s.IsBranch = true
		s.IsCall = true
		s.IsIndirect = indirectTarget(ops)
	case op == "ret" || op == "retn" || op == "retf":
		s.IsReturn = true
	case op == "iret" || op == "iretd" || op == "iretq" || op == "sysret" || op == "sysexit":
		s.IsReturn = true
	}

	s.IsArithmetic = x86Arith[op]
	s.IsComparison = x86Compare[op]
	s.IsSpeculationBarrier = x86Barrier[op]
	s.IsCacheOperation = x86Cache[op]
	s.IsTimingSensitive = x86Timing[op]
	s.IsPrivileged = x86Privileged[op]
	for _, o := range ops {
		r := strings.TrimPrefix(strings.ToLower(o.Text), "%")
		if strings.HasPrefix(r, "cr") || strings.HasPrefix(r, "dr") {
			if fam, ok := Register(r, insn.X86_64); ok && fam == r {
				s.IsPrivileged = true
			}
		}
	}

	x86Memory(op, ops, &s)
	return s
}

func x86Memory(op string, ops []insn.Operand, s *insn.Semantics) {
	switch op {
	case "push":
		s.IsStore, s.AccessesMemory = true, true
		return
	case "pop":
		s.IsLoad, s.AccessesMemory = true, true
		return
	case "stos":
		s.IsStore, s.AccessesMemory = true, true
		return
	case "lods", "scas", "cmps":
		s.IsLoad, s.AccessesMemory = true, true
		return
	case "movs":
		s.IsLoad, s.IsStore, s.AccessesMemory = true, true, true
		return
	case "lea", "nop":
		return
	}
	if s.IsCacheOperation || op == "invlpg" {
		return
	}

	memIdx := -1
	for i, o := range ops {
		if o.Kind.IsMemory() {
			memIdx = i
			break
		}
	}
	if memIdx < 0 {
		return
	}
	s.AccessesMemory = true

	dest := 0
	if attSyntax(ops) {
		dest = len(ops) - 1
	}
	switch {
	case memIdx != dest || s.IsComparison || s.IsBranch:
		s.IsLoad = true
	case x86Moves[op] || strings.HasPrefix(op, "set"):
		s.IsStore = true
	default:
		s.IsLoad = true
		s.IsStore = true
	}
}
