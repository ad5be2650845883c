package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Extensions lists the file types picked up when a directory is expanded.
var Extensions = []string{".jsonl", ".json", ".ndjson", ".s", ".asm", ".dis", ".txt"}

// Expand resolves file names, directories and doublestar patterns
// ("corpus/**/*.jsonl") into a sorted list of distinct files. Directories
// are searched recursively for Extensions, with or without a .zst suffix.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, pat := range patterns {
		if fi, err := os.Stat(pat); err == nil {
			if !fi.IsDir() {
				add(pat)
				continue
			}
			matches, err := doublestar.FilepathGlob(filepath.Join(pat, "**", "*"))
			if err != nil {
				return nil, fmt.Errorf("ingest: %s: %w", pat, err)
			}
			for _, m := range matches {
				if known(m) {
					add(m)
				}
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(pat)
		if err != nil {
			return nil, fmt.Errorf("ingest: pattern %q: %w", pat, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("ingest: %s: no such file", pat)
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
				add(m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func known(path string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".zst")))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
