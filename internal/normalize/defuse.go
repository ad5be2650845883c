package normalize

import (
	"strings"

	"gadgetscan/internal/insn"
)

var (
	x86NoDef = set("cmp", "test", "bt", "push", "jmp", "call", "ptest", "ucomiss", "ucomisd", "comiss", "comisd")
	x86Write = set("mov", "movabs", "movzx", "movsx", "movsxd", "lea", "pop", "movaps", "movups",
		"movapd", "movupd", "movdqa", "movdqu", "movd", "movss")
	arm64NoDef = set("cmp", "cmn", "tst", "ccmp", "ccmn", "fcmp", "fcmpe", "cbz", "cbnz",
		"tbz", "tbnz", "br", "blr", "ret", "prfm", "dc", "ic", "msr")
)

// DefUse returns the architectural registers an instruction writes and reads.
// Registers inside memory operands are always reads. On ARM64 a base with
// writeback, pre-indexed ("[x0, #8]!") or post-indexed ("[x0], #8"), is also
// a write.
func DefUse(in insn.Instruction, arch insn.Arch) (defs, uses []string) {
	ops := in.Operands
	if len(ops) == 0 {
		return nil, nil
	}
	switch arch {
	case insn.X86_64:
		return x86DefUse(in.Opcode, ops)
	case insn.ARM64:
		return arm64DefUse(in.Opcode, ops)
	}
	return nil, nil
}

func x86DefUse(op string, ops []insn.Operand) (defs, uses []string) {
	dest := 0
	if attSyntax(ops) {
		dest = len(ops) - 1
	}
	for i, o := range ops {
		regs := registersIn(o.Text, insn.X86_64)
		if o.Kind.IsMemory() || i != dest || x86NoDef[op] {
			uses = append(uses, regs...)
			continue
		}
		defs = append(defs, regs...)
		if !x86Write[op] {
			uses = append(uses, regs...)
		}
	}
	return defs, uses
}

func arm64DefUse(op string, ops []insn.Operand) (defs, uses []string) {
	ndefs := 1
	switch {
	case arm64NoDef[op] || strings.HasPrefix(op, "st") || op == "b" || op == "bl":
		ndefs = 0
	case op == "ldp" || op == "ldpsw" || op == "ldnp" || op == "ldaxp" || op == "ldxp":
		ndefs = 2
	}
	for i, o := range ops {
		regs := registersIn(o.Text, insn.ARM64)
		if o.Kind.IsMemory() {
			uses = append(uses, regs...)
			// Writeback: pre-index "[x1, #8]!" or post-index "[x1], #8".
			writeback := strings.HasSuffix(strings.TrimSpace(o.Text), "!") || i+1 < len(ops)
			if writeback && len(regs) > 0 {
				defs = append(defs, regs[0])
			}
			continue
		}
		if i < ndefs && o.Kind == insn.Register {
			defs = append(defs, regs...)
			continue
		}
		uses = append(uses, regs...)
	}
	return defs, uses
}

// registersIn extracts the register families named in an operand.
func registersIn(text string, arch insn.Arch) []string {
	var out []string
	f := func(r rune) bool {
		return !(r == '%' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}
	for _, tok := range strings.FieldsFunc(text, f) {
		fam, ok := Register(tok, arch)
		if !ok || fam == "xzr" || fam == "rip" {
			continue
		}
		out = append(out, fam)
	}
	return out
}
