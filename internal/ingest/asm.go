package ingest

import (
	"io"
	"regexp"
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/normalize"
)

var (
	// "  401000:" address column of objdump output.
	addrCol = regexp.MustCompile(`^\s*[0-9a-fA-F]+:\s`)
	// "48 89 e5" or "d10043ff" instruction byte column.
	bytesCol = regexp.MustCompile(`^([0-9a-fA-F]{2}\s)*[0-9a-fA-F]{2,8}$`)
	// " <puts@plt>" symbol annotation after a branch target.
	symRef = regexp.MustCompile(`\s*<[^>]*>\s*$`)
)

// ParseAsm reads an assembly listing, compiler output or objdump
// disassembly, one instruction per line. Addresses, byte columns, comments,
// labels and directives are dropped. Line numbers are 1-based positions in
// the input.
func ParseAsm(r io.Reader, arch insn.Arch) ([]insn.Instruction, error) {
	var out []insn.Instruction
	sc := newScanner(r)
	for n := 1; sc.Scan(); n++ {
		text, ok := cleanLine(sc.Text(), arch)
		if !ok {
			continue
		}
		if in, ok := normalize.Parse(n, text, arch); ok {
			out = append(out, in)
		}
	}
	return out, sc.Err()
}

// cleanLine reduces one listing line to "mnemonic operands".
func cleanLine(line string, arch insn.Arch) (string, bool) {
	if loc := addrCol.FindStringIndex(line); loc != nil {
		line = line[loc[1]:]
		if bytesCol.MatchString(strings.TrimSpace(line)) {
			return "", false
		}
		if f := strings.SplitN(line, "\t", 2); len(f) == 2 && bytesCol.MatchString(strings.TrimSpace(f[0])) {
			line = f[1]
		}
	}
	line = stripComment(line, arch)
	line = symRef.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return "", false
	case strings.HasPrefix(line, "."):
		return "", false
	case strings.HasSuffix(line, ":"):
		return "", false
	case strings.HasPrefix(line, "Disassembly of"):
		return "", false
	}
	return line, true
}

func stripComment(line string, arch insn.Arch) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return ""
	}
	for _, m := range []string{"//", ";"} {
		if i := strings.Index(line, m); i >= 0 {
			line = line[:i]
		}
	}
	// '#' starts an immediate on arm64.
	if arch != insn.ARM64 {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
	}
	return line
}
