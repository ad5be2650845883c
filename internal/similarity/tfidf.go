package similarity

import (
	"math"
	"sort"
	"strings"
)

// DefaultMaxFeatures caps the TF-IDF vocabulary.
const DefaultMaxFeatures = 1000

// Model is a TF-IDF term weighting fitted once over a corpus of token
// documents. Terms are 1..3-grams of lowercased tokens. A fitted Model is
// read-only and safe for concurrent use.
type Model struct {
	vocab map[string]int
	idf   []float64
}

// Fit builds the model from docs. The vocabulary keeps the maxFeatures
// terms with the highest corpus frequency, ties broken lexicographically.
// Inverse document frequency is smoothed: ln((1+n)/(1+df)) + 1.
func Fit(docs [][]string, maxFeatures int) *Model {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	freq := make(map[string]int)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, t := range terms(doc) {
			freq[t]++
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	all := make([]string, 0, len(freq))
	for t := range freq {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if freq[all[i]] != freq[all[j]] {
			return freq[all[i]] > freq[all[j]]
		}
		return all[i] < all[j]
	})
	if len(all) > maxFeatures {
		all = all[:maxFeatures]
	}
	sort.Strings(all)

	m := &Model{vocab: make(map[string]int, len(all)), idf: make([]float64, len(all))}
	n := float64(len(docs))
	for i, t := range all {
		m.vocab[t] = i
		m.idf[i] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}
	return m
}

func (m *Model) Features() int {
	if m == nil {
		return 0
	}
	return len(m.vocab)
}

// vector is an L2-normalized sparse TF-IDF vector ordered by feature index.
type vector []feature

type feature struct {
	idx int
	w   float64
}

// Vector weights doc by raw term count times idf and normalizes it.
// Terms outside the vocabulary are ignored.
func (m *Model) Vector(doc []string) vector {
	if m == nil {
		return nil
	}
	counts := make(map[int]float64)
	for _, t := range terms(doc) {
		if i, ok := m.vocab[t]; ok {
			counts[i]++
		}
	}
	v := make(vector, 0, len(counts))
	for i, tf := range counts {
		v = append(v, feature{i, tf * m.idf[i]})
	}
	sort.Slice(v, func(a, b int) bool { return v[a].idx < v[b].idx })
	var norm float64
	for _, f := range v {
		norm += f.w * f.w
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i].w /= norm
	}
	return v
}

// cosine of two normalized vectors; zero when either is empty.
func cosine(a, b vector) float64 {
	var dot float64
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i].idx < b[j].idx:
			i++
		case a[i].idx > b[j].idx:
			j++
		default:
			dot += a[i].w * b[j].w
			i++
			j++
		}
	}
	return dot
}

// terms returns the 1..3-grams of the lowercased tokens of doc.
func terms(doc []string) []string {
	toks := make([]string, 0, len(doc))
	for _, t := range doc {
		toks = append(toks, strings.Fields(strings.ToLower(t))...)
	}
	out := make([]string, 0, 3*len(toks))
	for n := 1; n <= 3; n++ {
		for i := 0; i+n <= len(toks); i++ {
			out = append(out, strings.Join(toks[i:i+n], " "))
		}
	}
	return out
}
