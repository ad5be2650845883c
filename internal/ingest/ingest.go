// Package ingest reads instruction streams from JSONL records and plain
// assembly listings.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gadgetscan/internal/insn"

	"github.com/klauspost/compress/zstd"
)

// Stream is one file's (or one record group's) instruction sequence.
type Stream struct {
	Source string
	Arch   insn.Arch
	// Label is the vulnerability type of a labelled example, if given.
	Label string
	Insts []insn.Instruction
}

// Options controls reading.
type Options struct {
	// Arch overrides per-record and path-inferred architectures when known.
	Arch insn.Arch
	Logf func(format string, args ...any)
}

func (o Options) logf(format string, args ...any) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

// maxLine bounds a single JSONL record.
const maxLine = 64 << 20

// ReadFile reads path by extension: .jsonl and .json hold instruction
// records, anything else is treated as an assembly listing. A trailing .zst
// is decompressed first.
func ReadFile(path string, opts Options) ([]Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	name := path
	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("ingest: %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
		name = strings.TrimSuffix(name, ".zst")
	}

	arch := opts.Arch
	if arch == insn.ArchUnknown {
		arch = InferArch(path)
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".json", ".ndjson":
		ss, err := ParseJSONL(r, path, arch, opts)
		if err != nil {
			return nil, fmt.Errorf("ingest: %s: %w", path, err)
		}
		return ss, nil
	}
	ins, err := ParseAsm(r, arch)
	if err != nil {
		return nil, fmt.Errorf("ingest: %s: %w", path, err)
	}
	return []Stream{{Source: path, Arch: arch, Insts: ins}}, nil
}

// InferArch guesses the architecture from tokens in a path.
func InferArch(path string) insn.Arch {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "aarch64"), strings.Contains(p, "arm64"):
		return insn.ARM64
	case strings.Contains(p, "x86_64"), strings.Contains(p, "x86-64"), strings.Contains(p, "amd64"):
		return insn.X86_64
	}
	return insn.ArchUnknown
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLine)
	return sc
}
