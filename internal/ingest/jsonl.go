package ingest

import (
	"fmt"
	"io"
	"strings"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/normalize"

	"github.com/valyala/fastjson"
)

// ParseJSONL reads one JSON object per line. A line is either a single
// instruction record
//
//	{"opcode": "ldr", "operands": ["x0", "[x1]"], "line_num": 3, "raw_line": "...", "semantics": {...}}
//
// or a stream object carrying its own instruction list
//
//	{"file": "a.s", "arch": "arm64", "vuln_type": "SPECTRE_V1", "instructions": [...]}
//
// Bare records are collected into one stream named src. Missing semantics
// keys read as false; a record without a semantics object has its semantics
// inferred. Malformed lines are skipped and logged.
func ParseJSONL(r io.Reader, src string, arch insn.Arch, opts Options) ([]Stream, error) {
	var (
		p       fastjson.Parser
		out     []Stream
		bare    = Stream{Source: src, Arch: arch}
		skipped int
	)
	sc := newScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := p.Parse(line)
		if err != nil {
			skipped++
			opts.logf("ingest: %s:%d: %v", src, n, err)
			continue
		}
		if list := instructionList(v); list != nil {
			out = append(out, parseStream(v, list, src, arch, opts))
			continue
		}
		in, ok := parseRecord(v, len(bare.Insts)+1, arch)
		if !ok {
			skipped++
			opts.logf("ingest: %s:%d: record without opcode", src, n)
			continue
		}
		bare.Insts = append(bare.Insts, in)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		opts.logf("ingest: %s: skipped %d malformed lines", src, skipped)
	}
	if len(bare.Insts) > 0 {
		out = append([]Stream{bare}, out...)
	}
	return out, nil
}

func instructionList(v *fastjson.Value) []*fastjson.Value {
	for _, k := range []string{"instructions", "raw_instructions"} {
		if a := v.Get(k); a != nil && a.Type() == fastjson.TypeArray {
			list, _ := a.Array()
			if list == nil {
				list = []*fastjson.Value{}
			}
			return list
		}
	}
	return nil
}

func firstString(v *fastjson.Value, keys ...string) string {
	for _, k := range keys {
		if s := v.GetStringBytes(k); s != nil {
			return string(s)
		}
	}
	return ""
}

func parseStream(v *fastjson.Value, list []*fastjson.Value, src string, arch insn.Arch, opts Options) Stream {
	s := Stream{
		Source: firstString(v, "file", "filename", "file_path", "source"),
		Label:  firstString(v, "vuln_type", "vulnerability_type", "label"),
		Arch:   arch,
	}
	if s.Source == "" {
		s.Source = src
	}
	if opts.Arch == insn.ArchUnknown {
		if a := insn.ParseArch(firstString(v, "arch", "architecture")); a != insn.ArchUnknown {
			s.Arch = a
		}
	}
	for _, rv := range list {
		in, ok := parseRecord(rv, len(s.Insts)+1, s.Arch)
		if !ok {
			opts.logf("ingest: %s: record %d without opcode", s.Source, len(s.Insts)+1)
			continue
		}
		s.Insts = append(s.Insts, in)
	}
	return s
}

// parseRecord builds an instruction from one record. def is the line number
// used when the record carries none.
func parseRecord(v *fastjson.Value, def int, arch insn.Arch) (insn.Instruction, bool) {
	if v.Type() != fastjson.TypeObject {
		return insn.Instruction{}, false
	}
	opcode := firstString(v, "opcode", "mnemonic")
	if opcode == "" {
		return insn.Instruction{}, false
	}

	var operands []string
	for _, o := range v.GetArray("operands") {
		if b, err := o.StringBytes(); err == nil {
			operands = append(operands, string(b))
		}
	}

	line := def
	for _, k := range []string{"line_num", "line"} {
		if lv := v.Get(k); lv != nil {
			if n, err := lv.Int(); err == nil {
				line = n
				break
			}
		}
	}
	raw := firstString(v, "raw_line", "raw")

	var sem *insn.Semantics
	if sv := v.GetObject("semantics"); sv != nil {
		sem = new(insn.Semantics)
		sv.Visit(func(k []byte, x *fastjson.Value) {
			if b, err := x.Bool(); err == nil {
				sem.Set(string(k), b)
			}
		})
	}
	return normalize.Build(opcode, operands, line, raw, arch, sem), true
}

// String renders a stream summary for progress output.
func (s Stream) String() string {
	label := ""
	if s.Label != "" {
		label = " " + s.Label
	}
	return fmt.Sprintf("%s [%s]%s %d instructions", s.Source, s.Arch, label, len(s.Insts))
}
