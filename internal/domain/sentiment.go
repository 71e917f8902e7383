package domain

import "sort"

// RawItem is a single sentiment/news record as returned by one provider.
// Lives within one ingestion cycle only.
type RawItem struct {
	Provider    Provider
	Symbol      string
	PublishedAt int64    // Unix timestamp in milliseconds
	ContentHash string   // hash of normalized title+body
	Title       string   // headline, used for fuzzy matching
	Body        string   // summary text, used for fuzzy matching
	RawScore    *float64 // provider sentiment in [-1, 1] (nullable)
	Confidence  *float64 // provider confidence in [0, 1] (nullable)
	FetchedAt   int64    // Unix timestamp in milliseconds
}

// CanonicalEvent is the deduplicated, merged sentiment event.
// Exactly one record exists per EventID.
type CanonicalEvent struct {
	EventID        string
	Symbol         string
	SentimentScore float64    // merged score in [-1, 1]
	Confidence     float64    // merged confidence in [0, 1]
	Sources        []Provider // sorted, no duplicates
	Timestamp      int64      // Unix timestamp in milliseconds
	ContentHash    string
	Title          string

	// MatchHashes holds the content hash of every merged item. Stores use it
	// to find a record of the same item written by an earlier cycle under a
	// different EventID. Not persisted.
	MatchHashes []string
}

// Hashes returns MatchHashes, or ContentHash alone when it is empty.
func (e *CanonicalEvent) Hashes() []string {
	if len(e.MatchHashes) > 0 {
		return e.MatchHashes
	}
	if e.ContentHash == "" {
		return nil
	}
	return []string{e.ContentHash}
}

// HasSource reports whether p contributed to the event.
func (e *CanonicalEvent) HasSource(p Provider) bool {
	for _, s := range e.Sources {
		if s == p {
			return true
		}
	}
	return false
}

// MergeSources returns the sorted union of two source sets.
func MergeSources(a, b []Provider) []Provider {
	seen := make(map[Provider]struct{}, len(a)+len(b))
	out := make([]Provider, 0, len(a)+len(b))
	for _, list := range [][]Provider{a, b} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
