package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gadgetscan/internal/insn"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
)

func TestParseJSONLRecords(t *testing.T) {
	in := `{"opcode": "cmp", "operands": ["x0", "x1"], "line_num": 10, "raw_line": "cmp x0, x1", "semantics": {"is_comparison": true}}
{"opcode": "b.lt", "operands": ["L1"], "line": 11, "raw": "b.lt L1", "semantics": {"is_branch": true, "is_conditional": true, "bogus": 1}}
not json
{"operands": ["x0"]}

{"opcode": "ldr", "operands": ["w2", "[x2, x0, lsl #2]"]}
`
	var logs []string
	opts := Options{Logf: func(f string, a ...any) { logs = append(logs, f) }}
	ss, err := ParseJSONL(strings.NewReader(in), "a.jsonl", insn.ARM64, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(ss) != 1 {
		t.Fatalf("streams = %d, want 1", len(ss))
	}
	s := ss[0]
	if s.Source != "a.jsonl" || s.Arch != insn.ARM64 || len(s.Insts) != 3 {
		t.Fatalf("stream = %v", s)
	}

	cmpIns, b, ldr := s.Insts[0], s.Insts[1], s.Insts[2]
	if !cmpIns.Semantics.IsComparison || cmpIns.Semantics.IsBranch || cmpIns.Line != 10 {
		t.Errorf("cmp = %+v", cmpIns)
	}
	if !b.Semantics.IsBranch || !b.Semantics.IsConditional || b.Line != 11 || b.Raw != "b.lt L1" {
		t.Errorf("b.lt = %+v", b)
	}
	if b.Opcode != "b" || b.Mnemonic() != "b.lt" {
		t.Errorf("b.lt opcode %q mnemonic %q", b.Opcode, b.Mnemonic())
	}
	// No semantics object: inferred.
	if !ldr.Semantics.IsLoad || !ldr.Semantics.AccessesMemory {
		t.Errorf("ldr semantics not inferred: %+v", ldr.Semantics)
	}
	if ldr.Operands[1].Kind != insn.MemoryOffset {
		t.Errorf("ldr operand kind = %v", ldr.Operands[1].Kind)
	}
	if len(logs) != 3 {
		t.Errorf("logs = %d, want 3 (two bad lines and a summary)", len(logs))
	}
}

func TestParseJSONLStreams(t *testing.T) {
	in := `{"file": "v1.c", "arch": "aarch64", "vuln_type": "SPECTRE_V1", "instructions": [{"opcode": "cmp", "operands": ["x0", "x1"]}, {"opcode": "ret"}]}
{"filename": "v2.c", "architecture": "x86_64", "raw_instructions": [{"opcode": "jmp", "operands": ["rax"]}]}
`
	ss, err := ParseJSONL(strings.NewReader(in), "lib.jsonl", insn.ArchUnknown, Options{})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range ss {
		got = append(got, s.String())
	}
	want := []string{
		"v1.c [arm64] SPECTRE_V1 2 instructions",
		"v2.c [x86_64] 1 instructions",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("streams mismatch (-want +got):\n%s", diff)
	}
	if !ss[1].Insts[0].Semantics.IsIndirect {
		t.Errorf("jmp rax not indirect: %+v", ss[1].Insts[0].Semantics)
	}
	if ss[0].Insts[1].Line != 2 {
		t.Errorf("default line = %d, want 2", ss[0].Insts[1].Line)
	}
}

func TestParseAsm(t *testing.T) {
	objdump := `
Disassembly of section .text:

0000000000401126 <victim>:
  401126:	55                   	push   %rbp
  401127:	48 89 e5             	mov    %rsp,%rbp
  40112a:	48 3b 05 d7 2e 00 00 	cmp    0x2ed7(%rip),%rax        # 404008 <size>
  401131:	73 0f                	jae    401142 <victim+0x1c>
  401133:	0f b6 04 07          	movzbl (%rdi,%rax,1),%eax
  401137:	c3                   	ret
`
	ins, err := ParseAsm(strings.NewReader(objdump), insn.X86_64)
	if err != nil {
		t.Fatal(err)
	}
	var ops []string
	for _, in := range ins {
		ops = append(ops, in.Opcode)
	}
	if diff := cmp.Diff([]string{"push", "mov", "cmp", "jae", "movzx", "ret"}, ops); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	if ins[3].Raw != "jae    401142" {
		t.Errorf("jae raw = %q", ins[3].Raw)
	}
	if !ins[4].Semantics.IsLoad {
		t.Errorf("movzbl not a load: %+v", ins[4].Semantics)
	}

	gcc := `	.text
	.globl	victim
victim:
.LFB0:
	cmp	x0, x1	// bounds
	b.hs	.L2
	ldr	w2, [x2, x0, lsl #2]
.L2:
	ret
`
	ins, err = ParseAsm(strings.NewReader(gcc), insn.ARM64)
	if err != nil {
		t.Fatal(err)
	}
	ops = ops[:0]
	for _, in := range ins {
		ops = append(ops, in.Mnemonic())
	}
	if diff := cmp.Diff([]string{"cmp", "b.hs", "ldr", "ret"}, ops); diff != "" {
		t.Fatalf("mnemonics mismatch (-want +got):\n%s", diff)
	}
	if ins[2].Line != 7 {
		t.Errorf("ldr line = %d, want 7", ins[2].Line)
	}
}

func TestInferArch(t *testing.T) {
	tests := map[string]insn.Arch{
		"corpus/arm64/a.s":        insn.ARM64,
		"out/AArch64-linux.jsonl": insn.ARM64,
		"x86_64/b.s":              insn.X86_64,
		"build-amd64/c.s":         insn.X86_64,
		"riscv/d.s":               insn.ArchUnknown,
	}
	for p, want := range tests {
		if got := InferArch(p); got != want {
			t.Errorf("InferArch(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestReadFileAndExpand(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "arm64")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	asm := "cmp x0, x1\nb.hs 0x40\nldr x2, [x3]\n"
	if err := os.WriteFile(filepath.Join(sub, "a.s"), []byte(asm), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "notes.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	enc.Write([]byte(`{"opcode": "ret"}` + "\n"))
	enc.Close()
	if err := os.WriteFile(filepath.Join(sub, "b.jsonl.zst"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := Expand([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(sub, "a.s"), filepath.Join(sub, "b.jsonl.zst")}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	if files, err := Expand([]string{filepath.Join(dir, "**", "*.s")}); err != nil || len(files) != 1 {
		t.Fatalf("glob = %v, %v", files, err)
	}
	if _, err := Expand([]string{filepath.Join(dir, "missing.s")}); err == nil {
		t.Fatal("missing file: want error")
	}

	ss, err := ReadFile(files[0], Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ss) != 1 || ss[0].Arch != insn.ARM64 || len(ss[0].Insts) != 3 {
		t.Fatalf("asm streams = %v", ss)
	}
	ss, err = ReadFile(files[1], Options{Arch: insn.X86_64})
	if err != nil {
		t.Fatal(err)
	}
	if len(ss) != 1 || ss[0].Arch != insn.X86_64 || !ss[0].Insts[0].Semantics.IsReturn {
		t.Fatalf("zst streams = %v", ss)
	}
}
