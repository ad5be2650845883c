package similarity

import (
	"errors"
	"fmt"
	"strings"

	"gadgetscan/internal/insn"

	"github.com/cespare/xxhash/v2"
)

const (
	// MaxGadgetLen caps the instructions kept from a reference example.
	MaxGadgetLen = 20
	// MinGadgetLen is the shortest usable reference gadget.
	MinGadgetLen = 3
)

var ErrGadgetTooShort = errors.New("gadget too short")

// Gadget is a labelled reference sequence known to exhibit a vulnerability.
type Gadget struct {
	Name      string             `json:"name"`
	VulnType  string             `json:"vuln_type"`
	Arch      insn.Arch          `json:"arch"`
	Insts     []insn.Instruction `json:"instructions"`
	Signature string             `json:"signature"`
	Source    string             `json:"source,omitempty"`
}

// NewGadget keeps the first MaxGadgetLen instructions of ins and computes
// the signature hash over vulnerability type, architecture and opcodes.
func NewGadget(name, vulnType string, arch insn.Arch, ins []insn.Instruction) (*Gadget, error) {
	if len(ins) < MinGadgetLen {
		return nil, fmt.Errorf("similarity: %s: %d instructions: %w", name, len(ins), ErrGadgetTooShort)
	}
	if len(ins) > MaxGadgetLen {
		ins = ins[:MaxGadgetLen]
	}
	g := &Gadget{
		Name:     name,
		VulnType: vulnType,
		Arch:     arch,
		Insts:    append([]insn.Instruction(nil), ins...),
	}
	g.Signature = g.signature()
	return g, nil
}

func (g *Gadget) signature() string {
	parts := append([]string{g.VulnType, g.Arch.String()}, g.Opcodes()...)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(parts, "_")))
}

func (g *Gadget) Opcodes() []string {
	out := make([]string, len(g.Insts))
	for i, in := range g.Insts {
		out[i] = in.Opcode
	}
	return out
}
