package insn

import "sync"

// Interner assigns dense uint32 IDs to string tokens. It is owned by whoever
// creates it and passed explicitly to the code that needs stable IDs.
// Safe for concurrent use.
type Interner struct {
	mu   sync.RWMutex
	ids  map[string]uint32
	toks []string
}

func NewInterner() *Interner {
	return &Interner{ids: make(map[string]uint32)}
}

// ID returns the ID for tok, assigning the next free one on first sight.
func (in *Interner) ID(tok string) uint32 {
	in.mu.RLock()
	id, ok := in.ids[tok]
	in.mu.RUnlock()
	if ok {
		return id
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.ids[tok]; ok {
		return id
	}
	id = uint32(len(in.toks))
	in.ids[tok] = id
	in.toks = append(in.toks, tok)
	return id
}

// IDs interns every token of seq.
func (in *Interner) IDs(seq []string) []uint32 {
	out := make([]uint32, len(seq))
	for i, tok := range seq {
		out[i] = in.ID(tok)
	}
	return out
}

// Lookup returns the token for id.
func (in *Interner) Lookup(id uint32) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(id) >= len(in.toks) {
		return "", false
	}
	return in.toks[id], true
}

func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.toks)
}
