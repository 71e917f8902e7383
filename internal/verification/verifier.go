// Package verification checks stored time buckets against the canonical
// events they were built from.
package verification

import (
	"context"
	"fmt"
	"math"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/storage"
)

// FloatTolerance is the tolerance for aggregate score comparisons.
// Running means drift from a fresh recomputation by rounding only.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and recomputed values.
type FieldDivergence struct {
	Field    string      `json:"field"`
	Expected interface{} `json:"expected"` // recomputed from events
	Actual   interface{} `json:"actual"`   // stored bucket
}

// BucketResult is the verdict for one bucket.
type BucketResult struct {
	BucketStart int64             `json:"bucketStart"`
	Match       bool              `json:"match"`
	Missing     bool              `json:"missing,omitempty"` // events exist, bucket does not
	Orphan      bool              `json:"orphan,omitempty"`  // bucket exists, no events
	Divergences []FieldDivergence `json:"divergences,omitempty"`
}

// Report contains the results for one symbol and resolution.
type Report struct {
	Symbol           string         `json:"symbol"`
	Resolution       string         `json:"resolution"`
	From             int64          `json:"from"`
	To               int64          `json:"to"`
	Events           int            `json:"events"`
	TotalBuckets     int            `json:"totalBuckets"`
	MatchedBuckets   int            `json:"matchedBuckets"`
	DivergentBuckets int            `json:"divergentBuckets"`
	Results          []BucketResult `json:"results"`
}

// Consistent reports whether every bucket matched.
func (r *Report) Consistent() bool {
	return r.DivergentBuckets == 0
}

// Verifier recomputes buckets from stored events.
type Verifier struct {
	events  storage.CanonicalEventStore
	buckets storage.TimeBucketStore
}

// NewVerifier creates a Verifier.
func NewVerifier(events storage.CanonicalEventStore, buckets storage.TimeBucketStore) *Verifier {
	return &Verifier{events: events, buckets: buckets}
}

// Verify compares every res bucket of symbol overlapping [from, to).
// The range is widened to whole buckets so partial buckets are not
// reported as divergent.
func (v *Verifier) Verify(ctx context.Context, symbol string, res domain.Resolution, from, to int64) (*Report, error) {
	if !res.IsValid() {
		return nil, fmt.Errorf("unknown resolution %q", res)
	}
	if from >= to {
		return nil, fmt.Errorf("empty range [%d, %d)", from, to)
	}

	start := res.BucketStart(from)
	end := res.BucketStart(to-1) + res.Duration().Milliseconds()

	events, err := v.events.GetBySymbol(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	stored, err := v.buckets.GetRange(ctx, symbol, res, start, end)
	if err != nil {
		return nil, fmt.Errorf("load buckets: %w", err)
	}

	expected := Recompute(symbol, res, events)
	storedByStart := make(map[int64]*domain.TimeBucket, len(stored))
	for _, b := range stored {
		storedByStart[b.BucketStart] = b
	}

	report := &Report{
		Symbol:     symbol,
		Resolution: string(res),
		From:       start,
		To:         end,
		Events:     len(events),
	}

	// expected is ordered by bucket start; orphans are appended after it.
	for _, exp := range expected {
		result := BucketResult{BucketStart: exp.BucketStart}
		got, ok := storedByStart[exp.BucketStart]
		if ok {
			delete(storedByStart, exp.BucketStart)
			result.Divergences = CompareBuckets(exp, got)
		} else {
			result.Missing = true
		}
		result.Match = !result.Missing && len(result.Divergences) == 0
		report.add(result)
	}
	for _, b := range stored {
		if _, orphan := storedByStart[b.BucketStart]; orphan {
			report.add(BucketResult{BucketStart: b.BucketStart, Orphan: true})
		}
	}

	return report, nil
}

func (r *Report) add(result BucketResult) {
	r.TotalBuckets++
	if result.Match {
		r.MatchedBuckets++
	} else {
		r.DivergentBuckets++
	}
	r.Results = append(r.Results, result)
}

// Recompute builds the expected buckets from events, ordered by bucket start.
func Recompute(symbol string, res domain.Resolution, events []*domain.CanonicalEvent) []*domain.TimeBucket {
	var out []*domain.TimeBucket
	byStart := make(map[int64]*domain.TimeBucket)
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, dup := seen[e.EventID]; dup {
			continue
		}
		seen[e.EventID] = struct{}{}

		bs := res.BucketStart(e.Timestamp)
		b, ok := byStart[bs]
		if !ok {
			b = &domain.TimeBucket{Symbol: symbol, Resolution: res, BucketStart: bs}
			byStart[bs] = b
			out = append(out, b)
		}
		b.AddSample(e.SentimentScore)
	}
	// Events arrive ordered by timestamp, so out is already ordered.
	return out
}

// CompareBuckets returns the divergences between an expected and a stored bucket.
func CompareBuckets(expected, stored *domain.TimeBucket) []FieldDivergence {
	var divergences []FieldDivergence

	if expected.SampleCount != stored.SampleCount {
		divergences = append(divergences, FieldDivergence{
			Field:    "SampleCount",
			Expected: expected.SampleCount,
			Actual:   stored.SampleCount,
		})
	}

	if !floatEquals(expected.AggregateScore, stored.AggregateScore) {
		divergences = append(divergences, FieldDivergence{
			Field:    "AggregateScore",
			Expected: expected.AggregateScore,
			Actual:   stored.AggregateScore,
		})
	}

	return divergences
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}
