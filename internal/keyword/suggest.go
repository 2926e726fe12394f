package keyword

import (
	"sort"
	"strings"
)

// Distance is the Damerau-Levenshtein (optimal string alignment) distance between a and b:
// the number of insertions, deletions, substitutions and adjacent transpositions needed to
// turn one into the other. It compares runes, so multi-byte text counts per character.
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Three rolling rows: two back for transpositions.
	prev2 := make([]int, len(rb)+1)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				curr[j] = min(curr[j], prev2[j-2]+cost)
			}
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(rb)]
}

// Suggest returns up to limit candidates close to term, nearest first. Comparison ignores
// case. A candidate qualifies when its distance is at most a third of term's length
// (at least 1), or when one contains the other. Ties keep candidate order.
func Suggest(term string, candidates []string, limit int) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || limit <= 0 {
		return nil
	}
	maxDist := max(len([]rune(term))/3, 1)

	type scored struct {
		name string
		dist int
	}
	var hits []scored
	for _, c := range candidates {
		lc := strings.ToLower(c)
		d := Distance(term, lc)
		if d == 0 {
			continue
		}
		if d > maxDist && !strings.Contains(lc, term) && !strings.Contains(term, lc) {
			continue
		}
		hits = append(hits, scored{c, d})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	out := make([]string, 0, min(limit, len(hits)))
	for _, h := range hits[:min(limit, len(hits))] {
		out = append(out, h.name)
	}
	return out
}
