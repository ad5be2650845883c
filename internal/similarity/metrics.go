package similarity

import "gadgetscan/internal/window"

// NGram is the Jaccard overlap of 2..5-gram sets, each n weighted by n.
// An n with an empty set on either side scores zero but keeps its weight.
func NGram(a, b *Sequence) float64 {
	var sum, total float64
	for n := 2; n <= MaxGram; n++ {
		w := float64(n)
		total += w
		ga, gb := a.grams[n], b.grams[n]
		if len(ga) == 0 || len(gb) == 0 {
			continue
		}
		inter := 0
		for g := range ga {
			if _, ok := gb[g]; ok {
				inter++
			}
		}
		union := len(ga) + len(gb) - inter
		sum += w * float64(inter) / float64(union)
	}
	return sum / total
}

// Alignment is the Ratcliff/Obershelp ratio 2*M/(len(a)+len(b)), where M
// is the total size of matching blocks found by repeatedly taking the
// longest common block and recursing on both flanks.
func Alignment(a, b []uint32) float64 {
	if len(a)+len(b) == 0 {
		return 0
	}
	matched := 0
	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		i, j, k := longestMatch(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return 2 * float64(matched) / float64(len(a)+len(b))
}

// longestMatch finds the longest common block of a[alo:ahi] and b[blo:bhi].
// Among equal lengths the one starting earliest in a, then in b, wins.
func longestMatch(a, b []uint32, alo, ahi, blo, bhi int) (besti, bestj, bestk int) {
	besti, bestj = alo, blo
	prev := make([]int, bhi-blo+1)
	cur := make([]int, bhi-blo+1)
	for i := alo; i < ahi; i++ {
		for j := blo; j < bhi; j++ {
			c := j - blo + 1
			if a[i] != b[j] {
				cur[c] = 0
				continue
			}
			cur[c] = prev[c-1] + 1
			if cur[c] > bestk {
				bestk = cur[c]
				besti, bestj = i-bestk+1, j-bestk+1
			}
		}
		prev, cur = cur, prev
	}
	return besti, bestj, bestk
}

// LCS is the longest common subsequence length over the longer length.
func LCS(a, b []uint32) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return float64(prev[len(b)]) / float64(longest)
}

// Graph averages the Jaccard overlap of node semantic types and of edge
// kinds. A graph without nodes scores zero.
func Graph(a, b *window.FlowGraph) float64 {
	if len(a.Nodes) == 0 || len(b.Nodes) == 0 {
		return 0
	}
	return (jaccard(a.NodeTypes(), b.NodeTypes()) + jaccard(a.EdgeKinds(), b.EdgeKinds())) / 2
}

func jaccard[K comparable](a, b map[K]bool) float64 {
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
