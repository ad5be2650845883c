// Package normalize maps architecture-specific instructions to canonical
// opcodes and semantic flags. x86-64 and ARM64 tables are kept separate.
package normalize

import (
	"strings"

	"gadgetscan/internal/insn"
)

// Normalize derives the semantic flags of one instruction. Unknown opcodes and
// unknown architectures yield all-false semantics.
func Normalize(opcode string, operands []string, arch insn.Arch) insn.Semantics {
	return semantics(opcode, Classify(operands, arch), arch)
}

func semantics(opcode string, ops []insn.Operand, arch insn.Arch) insn.Semantics {
	switch arch {
	case insn.X86_64:
		return x86Semantics(opcode, ops)
	case insn.ARM64:
		return arm64Semantics(opcode, ops)
	}
	return insn.Semantics{}
}

// Canonical returns the base mnemonic used for opcode comparisons.
func Canonical(opcode string, arch insn.Arch) string {
	switch arch {
	case insn.X86_64:
		return x86Canonical(opcode)
	case insn.ARM64:
		return arm64Canonical(opcode)
	}
	return strings.ToLower(strings.TrimSpace(opcode))
}

// Build assembles an Instruction from record fields. When sem is nil the
// semantics are inferred from the opcode and operands.
func Build(opcode string, operands []string, line int, raw string, arch insn.Arch, sem *insn.Semantics) insn.Instruction {
	ops := Classify(operands, arch)
	in := insn.Instruction{
		Opcode:   Canonical(opcode, arch),
		Operands: ops,
		Line:     line,
		Raw:      raw,
	}
	if sem != nil {
		in.Semantics = *sem
	} else {
		in.Semantics = semantics(opcode, ops, arch)
	}
	return in
}

// Parse builds an Instruction from one line of assembly text such as
// "ldr w2, [x2, x0, lsl #2]". It returns false for blank text.
func Parse(line int, text string, arch insn.Arch) (insn.Instruction, bool) {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)
	for len(fields) > 1 && arch != insn.ARM64 && x86Prefixes[strings.ToLower(fields[0])] {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return insn.Instruction{}, false
	}
	mnemonic := fields[0]
	rest := ""
	if i := strings.Index(text, mnemonic); i >= 0 {
		rest = text[i+len(mnemonic):]
	}
	return Build(mnemonic, SplitOperands(rest), line, text, arch, nil), true
}
