package insn

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Window is an ordered run of instructions taken from one source stream.
// Windows are never modified in place; Slice returns a new Window.
type Window struct {
	Source   string        `json:"source"`
	Arch     Arch          `json:"arch"`
	Start    int           `json:"start"`
	Strategy string        `json:"strategy,omitempty"`
	Insts    []Instruction `json:"instructions"`
}

func (w Window) Len() int { return len(w.Insts) }

// Slice returns the sub-window [i, j). Provenance is kept and Start shifted.
func (w Window) Slice(i, j int) Window {
	if i < 0 {
		i = 0
	}
	if j > len(w.Insts) {
		j = len(w.Insts)
	}
	if i > j {
		i = j
	}
	return Window{
		Source:   w.Source,
		Arch:     w.Arch,
		Start:    w.Start + i,
		Strategy: w.Strategy,
		Insts:    w.Insts[i:j:j],
	}
}

// ID names the window by provenance: source, start offset, length and strategy.
func (w Window) ID() string {
	return fmt.Sprintf("%s:%d+%d:%s", w.Source, w.Start, len(w.Insts), w.Strategy)
}

// Less orders windows by source, start, length and strategy.
func (w Window) Less(o Window) bool {
	if w.Source != o.Source {
		return w.Source < o.Source
	}
	if w.Start != o.Start {
		return w.Start < o.Start
	}
	if len(w.Insts) != len(o.Insts) {
		return len(w.Insts) < len(o.Insts)
	}
	return w.Strategy < o.Strategy
}

// Hash is a content hash over architecture and, per instruction, the raw
// mnemonic, canonical opcode, semantic flags and operand text. Provenance is
// excluded so identical spans from different strategies collide.
func (w Window) Hash() uint64 {
	d := xxhash.New()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(w.Arch))
	d.Write(b[:])
	for _, in := range w.Insts {
		d.WriteString(in.Mnemonic())
		d.WriteString("\x1f")
		d.WriteString(in.Opcode)
		binary.LittleEndian.PutUint64(b[:], uint64(in.Semantics.Bits()))
		d.Write(b[:])
		for _, op := range in.Operands {
			d.WriteString("\x1f")
			d.WriteString(op.Text)
		}
		d.WriteString("\x1e")
	}
	return d.Sum64()
}

// RawText joins the lowercased text of every instruction with spaces.
func (w Window) RawText() string {
	var b strings.Builder
	for i, in := range w.Insts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.ToLower(in.Text()))
	}
	return b.String()
}

// Opcodes returns the canonical opcode of every instruction.
func (w Window) Opcodes() []string {
	out := make([]string, len(w.Insts))
	for i, in := range w.Insts {
		out[i] = in.Opcode
	}
	return out
}
