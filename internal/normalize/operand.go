package normalize

import (
	"strconv"
	"strings"

	"gadgetscan/internal/insn"
)

var arm64Conds = set("eq", "ne", "cs", "hs", "cc", "lo", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "al", "nv")

var arm64Shifts = set("lsl", "lsr", "asr", "ror", "msl", "uxtb", "uxth", "uxtw", "uxtx",
	"sxtb", "sxth", "sxtw", "sxtx")

// ClassifyOperand assigns an addressing form to one operand string.
func ClassifyOperand(op string, arch insn.Arch) insn.OperandKind {
	s := strings.ToLower(strings.TrimSpace(op))
	s = strings.TrimPrefix(s, "*")
	s = strings.TrimSuffix(s, "!")
	if s == "" {
		return insn.KindUnknown
	}

	if i := strings.IndexByte(s, '['); i >= 0 {
		j := strings.LastIndexByte(s, ']')
		if j < i {
			j = len(s)
		}
		if bareBase(s[i+1:j], arch) {
			return insn.MemoryDirect
		}
		return insn.MemoryOffset
	}
	if arch != insn.ARM64 {
		if i := strings.IndexByte(s, '('); i >= 0 {
			j := strings.LastIndexByte(s, ')')
			if j < i {
				j = len(s)
			}
			disp := strings.TrimSpace(s[:i])
			if k := strings.LastIndexByte(disp, ':'); k >= 0 {
				disp = disp[k+1:]
			}
			if disp == "" && bareBase(s[i+1:j], arch) {
				return insn.MemoryDirect
			}
			return insn.MemoryOffset
		}
		if segmentRef(s) {
			return insn.MemoryDirect
		}
	}

	if isImmediate(s) {
		return insn.Immediate
	}
	if _, ok := Register(s, arch); ok {
		return insn.Register
	}
	if arch == insn.ARM64 {
		head, _, _ := strings.Cut(s, " ")
		if arm64Shifts[head] || arm64Conds[s] {
			return insn.Immediate
		}
		if isSysReg(s) {
			return insn.Register
		}
	}
	return insn.Label
}

// bareBase reports whether an address expression is a single base register.
func bareBase(inner string, arch insn.Arch) bool {
	inner = strings.TrimSpace(inner)
	if strings.ContainsAny(inner, "+-,* ") {
		return false
	}
	_, ok := Register(inner, arch)
	return ok
}

// segmentRef matches "gs:0x10" or "%fs:0x28" style absolute references.
func segmentRef(s string) bool {
	seg, _, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	switch strings.TrimPrefix(seg, "%") {
	case "cs", "ds", "es", "fs", "gs", "ss":
		return true
	}
	return false
}

func isImmediate(s string) bool {
	switch s[0] {
	case '#', '$':
		return true
	}
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "0x") {
		_, err := strconv.ParseUint(s[2:], 16, 64)
		return err == nil
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// isSysReg matches ARM64 system register names such as cntvct_el0 or ttbr0_el1.
func isSysReg(s string) bool {
	i := strings.LastIndex(s, "_el")
	return i > 0 && i+3 < len(s) && s[i+3] >= '0' && s[i+3] <= '3'
}

// SplitOperands splits an operand list on top-level commas.
// Commas inside brackets, parentheses and braces do not split.
func SplitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return dropEmpty(out)
}

func dropEmpty(ops []string) []string {
	out := ops[:0]
	for _, op := range ops {
		if op != "" {
			out = append(out, op)
		}
	}
	return out
}

// Classify classifies each operand string.
func Classify(ops []string, arch insn.Arch) []insn.Operand {
	if len(ops) == 0 {
		return nil
	}
	out := make([]insn.Operand, len(ops))
	for i, op := range ops {
		out[i] = insn.Operand{Text: op, Kind: ClassifyOperand(op, arch)}
	}
	return out
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
