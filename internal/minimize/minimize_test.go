package minimize

import (
	"math/rand"
	"testing"

	"gadgetscan/internal/insn"
	"gadgetscan/internal/match"
	"gadgetscan/internal/normalize"
	"gadgetscan/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(t *testing.T, lines ...string) insn.Window {
	t.Helper()
	w := insn.Window{Source: "test.s", Arch: insn.ARM64, Strategy: "test"}
	for i, l := range lines {
		in, ok := normalize.Parse(i+1, l, insn.ARM64)
		require.True(t, ok, "parse %q", l)
		w.Insts = append(w.Insts, in)
	}
	return w
}

func defaultRules(t *testing.T) *rules.Store {
	t.Helper()
	s, err := rules.Default()
	require.NoError(t, err)
	return s
}

func TestMinimizeScenarioC(t *testing.T) {
	t.Parallel()
	w := window(t,
		"add x3, x3, #1",
		"add x4, x4, #2",
		"mul x5, x5, x6",
		"cmp x0, x1",
		"b.lt L1",
		"ldr w2, [x2, x0, lsl #2]",
		"add x7, x7, #1",
		"eor x8, x8, x9",
		"sub x3, x3, #4",
		"lsl x4, x4, #1",
	)
	res := Minimize(w, defaultRules(t), "SPECTRE_V1", insn.ARM64, Config{Logf: t.Logf})
	require.True(t, res.Match.Matched, "reason %s", res.Match.Reason)
	assert.Empty(t, res.Reason)
	assert.Equal(t, []string{"cmp", "b", "ldr"}, res.Window.Opcodes())
	assert.Equal(t, 3, res.Window.Start)
	assert.Equal(t, []int{0, 1, 2}, res.Match.Evidence.Indices())
}

func TestMinimizeNotMatching(t *testing.T) {
	t.Parallel()
	w := window(t, "cmp x0, x1", "dsb sy", "b.lt L1", "ldr w2, [x2]")
	res := Minimize(w, defaultRules(t), "SPECTRE_V1", insn.ARM64, Config{})
	assert.Equal(t, match.NotMatchingInitial, res.Reason)
	assert.Equal(t, 0, res.Window.Len())
	assert.Equal(t, match.AntiPatternTriggered, res.Match.Reason)
	assert.Equal(t, 1, res.Steps)
}

func TestMinimizeUnknownType(t *testing.T) {
	t.Parallel()
	w := window(t, "cmp x0, x1")
	res := Minimize(w, defaultRules(t), "NOPE", insn.ARM64, Config{})
	assert.Equal(t, match.UnknownVulnType, res.Reason)
	assert.Equal(t, 0, res.Window.Len())
}

const storeLoadRule = `
vulnerabilities:
  SSB:
    constraints:
      sequence:
        - semantic: COMPARISON
        - semantic: BRANCH_CONDITIONAL
        - semantic: MEMORY_LOAD
      requires_store_then_load: true
`

// The greedy search keeps the left boundary at the first position that
// cannot advance, so a shorter matching span further left is never found.
func TestMinimizeNotGloballyOptimal(t *testing.T) {
	t.Parallel()
	store, err := rules.Parse([]byte(storeLoadRule))
	require.NoError(t, err)
	w := window(t,
		"str x0, [x1]",
		"cmp x0, x1",
		"b.lt L1",
		"add x3, x3, #1",
		"add x4, x4, #1",
		"ldr x2, [x1]",
		"add x5, x5, #1",
		"add x6, x6, #1",
		"str x2, [x3]",
		"ldr x4, [x3]",
	)
	res := Minimize(w, store, "SSB", insn.ARM64, Config{Logf: t.Logf})
	require.True(t, res.Match.Matched)
	assert.Equal(t, 1, res.Window.Start)
	assert.Equal(t, 9, res.Window.Len())

	smaller := w.Slice(0, 6)
	require.True(t, match.Validate(smaller, store, "SSB", insn.ARM64, match.Options{}).Matched)
	assert.Less(t, smaller.Len(), res.Window.Len())
}

func TestMinimizeMaxSteps(t *testing.T) {
	t.Parallel()
	w := window(t, "add x3, x3, #1", "add x4, x4, #1", "cmp x0, x1", "b.lt L1", "ldr w2, [x2]", "add x7, x7, #1")
	res := Minimize(w, defaultRules(t), "SPECTRE_V1", insn.ARM64, Config{MaxSteps: 2})
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 5, res.Window.Len())
	assert.True(t, match.Validate(res.Window, defaultRules(t), "SPECTRE_V1", insn.ARM64, match.Options{}).Matched)
}

var pool = []string{
	"cmp x0, x1", "b.lt L1", "b.ne L2", "ldr w2, [x2, x0, lsl #2]", "ldrb w3, [x4]",
	"str x0, [sp, #8]", "add x0, x0, #1", "mov x1, x2", "br x16", "blr x8", "ret",
	"subs x0, x0, #1", "nop", "mrs x0, ttbr0_el1", "svc #0",
}

// Soundness and idempotence over random windows and every default rule.
func TestMinimizeProperties(t *testing.T) {
	t.Parallel()
	store := defaultRules(t)
	rng := rand.New(rand.NewSource(7))
	checked := 0
	for iter := 0; iter < 1500; iter++ {
		lines := make([]string, 3+rng.Intn(15))
		for i := range lines {
			lines[i] = pool[rng.Intn(len(pool))]
		}
		w := window(t, lines...)
		for _, r := range store.Rules() {
			if !match.ValidateRule(w, r, insn.ARM64, match.Options{}).Matched {
				continue
			}
			checked++
			res := MinimizeRule(w, r, insn.ARM64, Config{})
			require.True(t, res.Match.Matched, "%s: minimized window does not match", r.Name)
			require.True(t, match.ValidateRule(res.Window, r, insn.ARM64, match.Options{}).Matched)
			require.LessOrEqual(t, res.Window.Len(), w.Len())
			off := res.Window.Start - w.Start
			require.GreaterOrEqual(t, off, 0)
			require.Equal(t, w.Slice(off, off+res.Window.Len()).Opcodes(), res.Window.Opcodes())

			again := MinimizeRule(res.Window, r, insn.ARM64, Config{})
			require.Equal(t, res.Window.Start, again.Window.Start, "%s: not idempotent", r.Name)
			require.Equal(t, res.Window.Len(), again.Window.Len(), "%s: not idempotent", r.Name)
		}
	}
	require.NotZero(t, checked)
}
