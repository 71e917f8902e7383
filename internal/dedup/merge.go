// Package dedup reconciles sentiment items reported by both providers into
// canonical events.
package dedup

import (
	"math"
	"sort"
	"time"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/idhash"
)

// Config tunes collision detection.
type Config struct {
	// CollisionWindow bounds the publication time difference of a fuzzy match.
	CollisionWindow time.Duration
	// SimilarityThreshold is the minimum token Jaccard similarity of
	// title+body for a fuzzy match. Best effort; exact hash matches are
	// authoritative.
	SimilarityThreshold float64
}

// DefaultConfig returns the default collision settings.
func DefaultConfig() Config {
	return Config{
		CollisionWindow:     5 * time.Minute,
		SimilarityThreshold: 0.6,
	}
}

// Stats describes one merge.
type Stats struct {
	TotalRaw      int
	ByProvider    map[domain.Provider]int
	Collisions    int // raw items that belong to a group of two or more
	ExactMatches  int // group joins caused by equal content hashes
	FuzzyMatches  int // group joins caused by the similarity rule
	Events        int
	CollisionRate float64
}

// MergeItems collapses colliding items into canonical events for symbol.
// Items for other symbols are ignored. The result is sorted by
// (Timestamp, EventID) and depends only on the set of inputs.
func MergeItems(symbol string, items []domain.RawItem, cfg Config) ([]*domain.CanonicalEvent, Stats) {
	stats := Stats{ByProvider: make(map[domain.Provider]int)}

	var in []domain.RawItem
	for _, it := range items {
		if it.Symbol != symbol {
			continue
		}
		if it.ContentHash == "" {
			it.ContentHash = idhash.ComputeContentHash(it.Title, it.Body)
		}
		in = append(in, it)
		stats.ByProvider[it.Provider]++
	}
	stats.TotalRaw = len(in)
	if len(in) == 0 {
		return nil, stats
	}

	sort.Slice(in, func(i, j int) bool { return itemLess(in[i], in[j]) })

	uf := newUnionFind(len(in))

	byHash := make(map[string]int, len(in))
	for i, it := range in {
		if j, ok := byHash[it.ContentHash]; ok {
			if uf.union(j, i) {
				stats.ExactMatches++
			}
			continue
		}
		byHash[it.ContentHash] = i
	}

	window := cfg.CollisionWindow.Milliseconds()
	tokens := make([]map[string]struct{}, len(in))
	for i, it := range in {
		tokens[i] = Tokens(it.Title + " " + it.Body)
	}
	for i := range in {
		for j := i + 1; j < len(in) && in[j].PublishedAt-in[i].PublishedAt < window; j++ {
			if in[i].Provider == in[j].Provider || uf.find(i) == uf.find(j) {
				continue
			}
			if jaccard(tokens[i], tokens[j]) >= cfg.SimilarityThreshold {
				if uf.union(i, j) {
					stats.FuzzyMatches++
				}
			}
		}
	}

	groups := make(map[int][]domain.RawItem)
	var roots []int
	for i, it := range in {
		r := uf.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], it)
	}

	events := make([]*domain.CanonicalEvent, 0, len(roots))
	for _, r := range roots {
		g := groups[r]
		if len(g) > 1 {
			stats.Collisions += len(g)
		}
		events = append(events, mergeGroup(symbol, g))
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].EventID < events[j].EventID
	})

	stats.Events = len(events)
	stats.CollisionRate = float64(stats.Collisions) / float64(stats.TotalRaw)
	return events, stats
}

// mergeGroup builds the canonical event for one group. g is in itemLess
// order, so g[0] is the earliest item. The EventID therefore depends on which
// providers answered; stores reconcile ids across cycles through MatchHashes.
func mergeGroup(symbol string, g []domain.RawItem) *domain.CanonicalEvent {
	first := g[0]

	var (
		weighted, weights float64
		plain             float64
		scored            int
		confidence        float64
		sources           []domain.Provider
		hashes            []string
	)
	for _, it := range g {
		sources = domain.MergeSources(sources, []domain.Provider{it.Provider})
		hashes = appendHash(hashes, it.ContentHash)
		if it.Confidence != nil && *it.Confidence > confidence {
			confidence = *it.Confidence
		}
		if it.RawScore == nil {
			continue
		}
		w := 1.0
		if it.Confidence != nil {
			w = *it.Confidence
		}
		weighted += w * *it.RawScore
		weights += w
		plain += *it.RawScore
		scored++
	}

	var score float64
	switch {
	case weights > 0:
		score = weighted / weights
	case scored > 0:
		// every contributor reported zero confidence
		score = plain / float64(scored)
	}
	score = math.Max(-1, math.Min(1, score))

	return &domain.CanonicalEvent{
		EventID:        idhash.ComputeEventID(symbol, first.PublishedAt, first.ContentHash),
		Symbol:         symbol,
		SentimentScore: score,
		Confidence:     confidence,
		Sources:        sources,
		Timestamp:      first.PublishedAt,
		ContentHash:    first.ContentHash,
		Title:          first.Title,
		MatchHashes:    hashes,
	}
}

// appendHash inserts h into the sorted set hs.
func appendHash(hs []string, h string) []string {
	i := sort.SearchStrings(hs, h)
	if i < len(hs) && hs[i] == h {
		return hs
	}
	hs = append(hs, "")
	copy(hs[i+1:], hs[i:])
	hs[i] = h
	return hs
}

func itemLess(a, b domain.RawItem) bool {
	if a.PublishedAt != b.PublishedAt {
		return a.PublishedAt < b.PublishedAt
	}
	if a.Provider != b.Provider {
		return a.Provider < b.Provider
	}
	return a.ContentHash < b.ContentHash
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union joins the groups of a and b, keeping the smaller index as root.
// Returns false if they were already joined.
func (u *unionFind) union(a, b int) bool {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	return true
}
