// Package insn defines the normalized instruction model shared by the
// detection engine: instructions, operands, semantic flags and windows.
package insn

import "strings"

// Arch identifies the instruction set a stream was produced for.
type Arch uint8

const (
	ArchUnknown Arch = iota
	X86_64
	ARM64
)

func (a Arch) String() string {
	switch a {
	case X86_64:
		return "x86_64"
	case ARM64:
		return "arm64"
	}
	return "unknown"
}

func (a Arch) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Arch) UnmarshalText(b []byte) error {
	*a = ParseArch(string(b))
	return nil
}

// ParseArch maps the common spellings of an architecture name to an Arch.
// Unrecognized names return ArchUnknown.
func ParseArch(s string) Arch {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86_64", "x86-64", "amd64", "x64":
		return X86_64
	case "arm64", "aarch64", "armv8", "arm64e":
		return ARM64
	}
	return ArchUnknown
}

// Matches reports whether an architecture scope written as a string applies
// to a. An empty scope applies to every architecture.
func (a Arch) Matches(scope string) bool {
	if scope == "" {
		return true
	}
	return ParseArch(scope) == a
}

// OperandKind classifies an operand by addressing form.
type OperandKind uint8

const (
	KindUnknown OperandKind = iota
	Register
	MemoryDirect
	MemoryOffset
	Immediate
	Label
)

var kindNames = [...]string{
	KindUnknown:  "UNKNOWN",
	Register:     "REGISTER",
	MemoryDirect: "MEMORY_DIRECT",
	MemoryOffset: "MEMORY_OFFSET",
	Immediate:    "IMMEDIATE",
	Label:        "LABEL",
}

func (k OperandKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// IsMemory reports whether the operand addresses memory.
func (k OperandKind) IsMemory() bool {
	return k == MemoryDirect || k == MemoryOffset
}

// Operand is one classified operand. Text keeps the source spelling.
type Operand struct {
	Text string      `json:"text"`
	Kind OperandKind `json:"kind"`
}

// MarshalText lets OperandKind appear by name in JSON output.
func (k OperandKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OperandKind) UnmarshalText(b []byte) error {
	*k = KindUnknown
	for i, name := range kindNames {
		if name == string(b) {
			*k = OperandKind(i)
			break
		}
	}
	return nil
}

// Semantics is the fixed set of boolean flags attached to every instruction.
type Semantics struct {
	IsBranch             bool `json:"is_branch"`
	IsConditional        bool `json:"is_conditional"`
	IsIndirect           bool `json:"is_indirect"`
	IsCall               bool `json:"is_call"`
	IsReturn             bool `json:"is_return"`
	IsLoad               bool `json:"is_load"`
	IsStore              bool `json:"is_store"`
	AccessesMemory       bool `json:"accesses_memory"`
	IsArithmetic         bool `json:"is_arithmetic"`
	IsComparison         bool `json:"is_comparison"`
	IsSpeculationBarrier bool `json:"is_speculation_barrier"`
	IsCacheOperation     bool `json:"is_cache_operation"`
	IsTimingSensitive    bool `json:"is_timing_sensitive"`
	IsPrivileged         bool `json:"is_privileged"`
}

// SemanticKeys lists the record keys of Semantics in declaration order.
var SemanticKeys = []string{
	"is_branch", "is_conditional", "is_indirect", "is_call", "is_return",
	"is_load", "is_store", "accesses_memory", "is_arithmetic", "is_comparison",
	"is_speculation_barrier", "is_cache_operation", "is_timing_sensitive", "is_privileged",
}

// Set assigns the flag named by a record key. Unknown keys are ignored.
func (s *Semantics) Set(key string, v bool) {
	switch key {
	case "is_branch":
		s.IsBranch = v
	case "is_conditional":
		s.IsConditional = v
	case "is_indirect":
		s.IsIndirect = v
	case "is_call":
		s.IsCall = v
	case "is_return":
		s.IsReturn = v
	case "is_load":
		s.IsLoad = v
	case "is_store":
		s.IsStore = v
	case "accesses_memory":
		s.AccessesMemory = v
	case "is_arithmetic":
		s.IsArithmetic = v
	case "is_comparison":
		s.IsComparison = v
	case "is_speculation_barrier":
		s.IsSpeculationBarrier = v
	case "is_cache_operation":
		s.IsCacheOperation = v
	case "is_timing_sensitive":
		s.IsTimingSensitive = v
	case "is_privileged":
		s.IsPrivileged = v
	}
}

// Bits packs the flags into a mask, one bit per SemanticKeys entry.
func (s Semantics) Bits() uint16 {
	var m uint16
	for i, v := range [...]bool{
		s.IsBranch, s.IsConditional, s.IsIndirect, s.IsCall, s.IsReturn,
		s.IsLoad, s.IsStore, s.AccessesMemory, s.IsArithmetic, s.IsComparison,
		s.IsSpeculationBarrier, s.IsCacheOperation, s.IsTimingSensitive, s.IsPrivileged,
	} {
		if v {
			m |= 1 << i
		}
	}
	return m
}

// LoadClass reports whether the instruction reads memory for the purpose of
// sequence and property checks.
func (s Semantics) LoadClass() bool {
	return s.IsLoad || (s.AccessesMemory && !s.IsStore)
}

// ControlFlow reports whether the instruction transfers control.
func (s Semantics) ControlFlow() bool {
	return s.IsBranch || s.IsCall || s.IsReturn
}

// Instruction is one decoded operation. Instructions are immutable once built.
type Instruction struct {
	Opcode    string    `json:"opcode"`
	Operands  []Operand `json:"operands"`
	Semantics Semantics `json:"semantics"`
	Line      int       `json:"line_num"`
	Raw       string    `json:"raw_line"`
}

// Mnemonic returns the first token of the raw text, lowercased, falling back
// to the canonical opcode. ARM64 condition suffixes survive here ("b.lt").
func (in Instruction) Mnemonic() string {
	f := strings.Fields(in.Raw)
	if len(f) == 0 {
		return in.Opcode
	}
	return strings.ToLower(f[0])
}

// Text renders the instruction as "opcode op1, op2" when no raw text exists.
func (in Instruction) Text() string {
	if in.Raw != "" {
		return in.Raw
	}
	if len(in.Operands) == 0 {
		return in.Opcode
	}
	parts := make([]string, len(in.Operands))
	for i, op := range in.Operands {
		parts[i] = op.Text
	}
	return in.Opcode + " " + strings.Join(parts, ", ")
}
