package normalize

import (
	"strconv"
	"strings"

	"gadgetscan/internal/insn"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Register vocabularies come from the decoder packages' register
// enumerations, lowercased and mapped to assembler spellings.
var (
	arm64Regs = buildARM64Regs()
	x86Regs   = buildX86Regs()
)

func buildARM64Regs() map[string]string {
	regs := make(map[string]string)
	for r := arm64asm.W0; r <= arm64asm.V31; r++ {
		name := strings.ToLower(r.String())
		regs[name] = arm64Family(name)
	}
	for _, name := range []string{"sp", "wsp", "fp", "lr", "xzr", "wzr", "pc"} {
		regs[name] = arm64Family(name)
	}
	return regs
}

// arm64Family maps a register name to the architectural register it aliases:
// w3 and x3 are both x3, b0..q0 and v0 are v0.
func arm64Family(name string) string {
	switch name {
	case "fp":
		return "x29"
	case "lr":
		return "x30"
	case "wsp", "sp":
		return "sp"
	case "wzr", "xzr":
		return "xzr"
	}
	if len(name) < 2 {
		return name
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil {
		return name
	}
	switch name[0] {
	case 'w', 'x':
		return "x" + strconv.Itoa(n)
	case 'b', 'h', 's', 'd', 'q', 'v':
		return "v" + strconv.Itoa(n)
	}
	return name
}

var x86Legacy = map[string]string{
	"al": "rax", "ah": "rax", "ax": "rax", "eax": "rax", "rax": "rax",
	"bl": "rbx", "bh": "rbx", "bx": "rbx", "ebx": "rbx", "rbx": "rbx",
	"cl": "rcx", "ch": "rcx", "cx": "rcx", "ecx": "rcx", "rcx": "rcx",
	"dl": "rdx", "dh": "rdx", "dx": "rdx", "edx": "rdx", "rdx": "rdx",
	"spl": "rsp", "sp": "rsp", "esp": "rsp", "rsp": "rsp",
	"bpl": "rbp", "bp": "rbp", "ebp": "rbp", "rbp": "rbp",
	"sil": "rsi", "si": "rsi", "esi": "rsi", "rsi": "rsi",
	"dil": "rdi", "di": "rdi", "edi": "rdi", "rdi": "rdi",
	"ip": "rip", "eip": "rip", "rip": "rip",
}

func buildX86Regs() map[string]string {
	regs := make(map[string]string)
	for r := x86asm.AL; r <= x86asm.TR7; r++ {
		for _, name := range x86Spellings(strings.ToLower(r.String())) {
			regs[name] = x86Family(name)
		}
	}
	for i := 0; i < 32; i++ {
		n := strconv.Itoa(i)
		regs["xmm"+n] = "xmm" + n
		regs["ymm"+n] = "xmm" + n
		regs["zmm"+n] = "xmm" + n
	}
	for i := 0; i < 8; i++ {
		regs["k"+strconv.Itoa(i)] = "k" + strconv.Itoa(i)
		regs["st"+strconv.Itoa(i)] = "st" + strconv.Itoa(i)
	}
	for name := range x86Legacy {
		regs[name] = x86Legacy[name]
	}
	return regs
}

// x86Spellings converts a decoder register name to the names assemblers print.
func x86Spellings(name string) []string {
	switch name {
	case "spb":
		return []string{"spl"}
	case "bpb":
		return []string{"bpl"}
	case "sib":
		return []string{"sil"}
	case "dib":
		return []string{"dil"}
	}
	if strings.HasPrefix(name, "r") && strings.HasSuffix(name, "l") && len(name) > 2 {
		if _, err := strconv.Atoi(name[1 : len(name)-1]); err == nil {
			return []string{name, name[:len(name)-1] + "d"}
		}
	}
	if len(name) >= 2 && (name[0] == 'x' || name[0] == 'm' || name[0] == 'f') {
		if n, err := strconv.Atoi(name[1:]); err == nil {
			switch name[0] {
			case 'x':
				return []string{"xmm" + strconv.Itoa(n)}
			case 'm':
				return []string{"mm" + strconv.Itoa(n)}
			case 'f':
				return []string{"st" + strconv.Itoa(n)}
			}
		}
	}
	return []string{name}
}

func x86Family(name string) string {
	if f, ok := x86Legacy[name]; ok {
		return f
	}
	if strings.HasPrefix(name, "r") && len(name) > 1 {
		digits := strings.TrimRight(name[1:], "bwdl")
		if _, err := strconv.Atoi(digits); err == nil {
			return "r" + digits
		}
	}
	return name
}

// Register reports whether s names a register of arch and returns the
// architectural register it aliases. A leading '%' is accepted.
func Register(s string, arch insn.Arch) (family string, ok bool) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "%")
	switch arch {
	case insn.ARM64:
		family, ok = arm64Regs[s]
	case insn.X86_64:
		family, ok = x86Regs[s]
	default:
		if family, ok = x86Regs[s]; !ok {
			family, ok = arm64Regs[s]
		}
	}
	return family, ok
}
