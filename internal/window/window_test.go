package window

import (
	"testing"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/normalize"
	"gadgetscan/internal/rules"

	"github.com/google/go-cmp/cmp"
)

func stream(t *testing.T, arch insn.Arch, lines ...string) []insn.Instruction {
	t.Helper()
	out := make([]insn.Instruction, 0, len(lines))
	for i, l := range lines {
		in, ok := normalize.Parse(i+1, l, arch)
		if !ok {
			t.Fatalf("parse %q failed", l)
		}
		out = append(out, in)
	}
	return out
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestSlidingShortStream(t *testing.T) {
	ins := stream(t, insn.ARM64, "cmp x0, x1", "b.hs 0x40", "ldr x2, [x3]", "ret")
	if got := Sliding(ins, []int{10, 15, 20, 25}); len(got) != 0 {
		t.Fatalf("spans = %v, want none", got)
	}
}

func TestSlidingInteresting(t *testing.T) {
	arith := stream(t, insn.ARM64, repeat("add x0, x0, #1", 12)...)
	if got := Sliding(arith, []int{10}); len(got) != 0 {
		t.Fatalf("arithmetic-only spans = %v, want none", got)
	}

	// A single opcode repeated is rejected even when it touches memory.
	loads := stream(t, insn.ARM64, repeat("ldr x0, [x1]", 12)...)
	if got := Sliding(loads, []int{10}); len(got) != 0 {
		t.Fatalf("single-opcode spans = %v, want none", got)
	}

	lines := repeat("add x0, x0, #1", 12)
	lines[11] = "ldr x2, [x3]"
	got := Sliding(stream(t, insn.ARM64, lines...), []int{10, 12})
	want := []Span{{2, 12}, {0, 12}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestFlowGraph(t *testing.T) {
	ins := stream(t, insn.ARM64,
		"cmp x0, x1",
		"b.hs 0x40",
		"add x2, x2, #1",
		"ldr x3, [x4]",
		"ret",
	)
	g := BuildFlowGraph(ins, 0)
	want := []Edge{
		{0, 1, Sequential},
		{1, 2, Sequential},
		{1, 3, Branch},
		{2, 3, Sequential},
		{3, 4, Sequential},
	}
	if diff := cmp.Diff(want, g.Edges); diff != "" {
		t.Fatalf("edges mismatch (-want +got):\n%s", diff)
	}
	if g.OutDegree(1) != 2 {
		t.Fatalf("outdegree(1) = %d, want 2", g.OutDegree(1))
	}

	paths := g.ShortestPaths(1, 15)
	wantPaths := [][]int{{1}, {1, 2}, {1, 3}, {1, 3, 4}}
	if diff := cmp.Diff(wantPaths, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	if got := g.ShortestPaths(1, 1); len(got) != 3 {
		t.Fatalf("cutoff 1 paths = %v, want 3", got)
	}

	kinds := g.EdgeKinds()
	if !kinds[Sequential] || !kinds[Branch] {
		t.Fatalf("edge kinds = %v", kinds)
	}
	types := g.NodeTypes()
	for _, st := range []insn.SemType{insn.SemCompare, insn.SemBranch, insn.SemArithmetic, insn.SemLoad} {
		if !types[st] {
			t.Errorf("node types missing %v", st)
		}
	}
}

func TestFlowGraphLookahead(t *testing.T) {
	lines := []string{"b.eq 0x80"}
	lines = append(lines, repeat("cmp x0, x1", 12)...)
	lines = append(lines, "ldr x0, [x1]")
	g := BuildFlowGraph(stream(t, insn.ARM64, lines...), 0)
	if g.OutDegree(0) != 1 {
		t.Fatalf("outdegree(0) = %d, want 1 (target beyond lookahead)", g.OutDegree(0))
	}
}

func TestControlFlow(t *testing.T) {
	lines := []string{"cmp x0, x1", "b.hs 0x40", "add x2, x2, #1", "ldr x3, [x4]"}
	lines = append(lines, repeat("nop", 6)...)
	got := ControlFlow(stream(t, insn.ARM64, lines...), DefaultConfig())
	want := []Span{{1, 7}, {1, 8}, {1, 9}, {1, 10}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestDataFlow(t *testing.T) {
	lines := repeat("nop", 12)
	lines[2] = "ldr x1, [x0]"
	lines[4] = "ldr x2, [x1]"
	got := DataFlow(stream(t, insn.ARM64, lines...), insn.ARM64, DefaultConfig())
	want := []Span{{0, 10}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

// A post-indexed load advances its base, so the next load through it
// depends on the first.
func TestDataFlowPostIndex(t *testing.T) {
	lines := repeat("nop", 12)
	lines[2] = "ldr x1, [x0], #8"
	lines[4] = "ldr x2, [x0]"
	got := DataFlow(stream(t, insn.ARM64, lines...), insn.ARM64, DefaultConfig())
	want := []Span{{0, 10}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestDataFlowRedefinition(t *testing.T) {
	lines := repeat("nop", 20)
	lines[1] = "mov rax, rbx"
	lines[8] = "mov rax, rcx"
	lines[10] = "mov rdx, rax"
	got := DataFlow(stream(t, insn.X86_64, lines...), insn.X86_64, DefaultConfig())
	want := []Span{{3, 16}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestSignature(t *testing.T) {
	lines := repeat("nop", 40)
	lines[12] = "cmp x0, x1"
	lines[13] = "b.ne 0x100"
	lines[14] = "ldr x2, [x3]"
	lines[30] = "cmp x0, x1"
	lines[31] = "ldr x2, [x3]"
	ins := stream(t, insn.ARM64, lines...)

	got := Signature(ins, [][]string{{"cmp", "b*", "ldr"}}, 10)
	if diff := cmp.Diff([]Span{{2, 25}}, got); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
	got = Signature(ins, [][]string{{"b.ne"}}, 2)
	if diff := cmp.Diff([]Span{{11, 16}}, got); diff != "" {
		t.Fatalf("mnemonic spans mismatch (-want +got):\n%s", diff)
	}
	if got := Signature(ins, [][]string{{"cmp", "b.eq"}}, 10); len(got) != 0 {
		t.Fatalf("spans = %v, want none", got)
	}
}

func TestParseStrategies(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "all", want: AllStrategies},
		{in: "sliding, Signature", want: StrategySliding | StrategySignature},
		{in: "dataflow", want: StrategyDataFlow},
		{in: "", wantErr: true},
		{in: "sliding,bogus", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStrategies(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseStrategies(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseStrategies(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if s := (StrategySliding | StrategyControlFlow).String(); s != "sliding,controlflow" {
		t.Errorf("String = %q", s)
	}
}

func TestGenerateAndDedup(t *testing.T) {
	lines := repeat("nop", 30)
	lines[10] = "cmp x0, x1"
	lines[11] = "b.hs 0x100"
	lines[12] = "ldr x2, [x3]"
	lines[13] = "ldr x5, [x2]"
	ins := stream(t, insn.ARM64, lines...)

	cfg := DefaultConfig()
	store, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	gen := NewGenerator(cfg, store)
	ws := gen.Generate("a.s", insn.ARM64, ins)
	if len(ws) == 0 {
		t.Fatal("no windows")
	}
	strategies := map[string]bool{}
	for _, w := range ws {
		strategies[w.Strategy] = true
		if w.Source != "a.s" || w.Arch != insn.ARM64 {
			t.Fatalf("window %s has source %q arch %v", w.ID(), w.Source, w.Arch)
		}
		if w.Start < 0 || w.Start+w.Len() > len(ins) {
			t.Fatalf("window %s out of range", w.ID())
		}
		if w.Insts[0].Line != w.Start+1 {
			t.Fatalf("window %s first line = %d", w.ID(), w.Insts[0].Line)
		}
	}
	for _, s := range []string{"sliding", "controlflow", "dataflow", "signature"} {
		if !strategies[s] {
			t.Errorf("no %s windows", s)
		}
	}

	deduped := Dedup(ws)
	if len(deduped) >= len(ws) {
		t.Fatalf("dedup kept %d of %d", len(deduped), len(ws))
	}
	seen := map[uint64]bool{}
	for _, w := range deduped {
		if seen[w.Hash()] {
			t.Fatalf("duplicate hash for %s", w.ID())
		}
		seen[w.Hash()] = true
	}

	cfg.Strategies = StrategySliding
	only := NewGenerator(cfg, nil).Generate("a.s", insn.ARM64, ins[:5])
	if len(only) != 0 {
		t.Fatalf("short stream windows = %d, want 0", len(only))
	}
}
