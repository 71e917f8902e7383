package dedup

import (
	"strings"

	"sentiment-pipeline/internal/idhash"
)

// Tokens returns the set of normalized word tokens of s.
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(idhash.NormalizeText(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Similarity returns the token Jaccard similarity of a and b in [0, 1].
// Two empty texts have similarity 0.
func Similarity(a, b string) float64 {
	return jaccard(Tokens(a), Tokens(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
