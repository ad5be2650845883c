package similarity

import "math"

// Scores holds the per-metric similarities of one pair. A NaN entry marks a
// metric that could not be computed.
type Scores struct {
	NGram     float64 `json:"ngram"`
	Alignment float64 `json:"alignment"`
	LCS       float64 `json:"lcs"`
	Graph     float64 `json:"graph"`
	Semantic  float64 `json:"semantic"`
}

// Weights are the fusion weights per metric.
type Weights struct {
	NGram, Alignment, LCS, Graph, Semantic float64
}

func DefaultWeights() Weights {
	return Weights{NGram: 0.30, Alignment: 0.25, LCS: 0.20, Graph: 0.15, Semantic: 0.10}
}

func (s Scores) values() [5]float64 {
	return [5]float64{s.NGram, s.Alignment, s.LCS, s.Graph, s.Semantic}
}

func (w Weights) values() [5]float64 {
	return [5]float64{w.NGram, w.Alignment, w.LCS, w.Graph, w.Semantic}
}

// Map returns the computed metrics by name, omitting NaN entries.
func (s Scores) Map() map[string]float64 {
	names := [5]string{"ngram", "alignment", "lcs", "graph", "semantic"}
	m := make(map[string]float64, len(names))
	for i, v := range s.values() {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			m[names[i]] = v
		}
	}
	return m
}

// Fuse returns the weighted mean of the computed metrics, clamped to [0,1].
// Metrics that are NaN or infinite drop out together with their weight.
func Fuse(s Scores, w Weights) float64 {
	var sum, total float64
	ws := w.values()
	for i, v := range s.values() {
		if math.IsNaN(v) || math.IsInf(v, 0) || ws[i] <= 0 {
			continue
		}
		sum += ws[i] * v
		total += ws[i]
	}
	if total == 0 {
		return 0
	}
	return min(max(sum/total, 0), 1)
}
