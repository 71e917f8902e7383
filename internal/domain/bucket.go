package domain

import (
	"fmt"
	"time"
)

// Resolution is a time bucket width.
type Resolution string

const (
	Resolution1m  Resolution = "1m"
	Resolution5m  Resolution = "5m"
	Resolution15m Resolution = "15m"
	Resolution30m Resolution = "30m"
	Resolution1h  Resolution = "1h"
	Resolution4h  Resolution = "4h"
	Resolution1d  Resolution = "1d"
	Resolution1w  Resolution = "1w"
)

// Resolutions lists every resolution an event is fanned out to, finest first.
var Resolutions = []Resolution{
	Resolution1m, Resolution5m, Resolution15m, Resolution30m,
	Resolution1h, Resolution4h, Resolution1d, Resolution1w,
}

var resolutionDurations = map[Resolution]time.Duration{
	Resolution1m:  time.Minute,
	Resolution5m:  5 * time.Minute,
	Resolution15m: 15 * time.Minute,
	Resolution30m: 30 * time.Minute,
	Resolution1h:  time.Hour,
	Resolution4h:  4 * time.Hour,
	Resolution1d:  24 * time.Hour,
	Resolution1w:  7 * 24 * time.Hour,
}

// String returns the string representation of Resolution.
func (r Resolution) String() string {
	return string(r)
}

// IsValid checks if the resolution is one of the supported widths.
func (r Resolution) IsValid() bool {
	_, ok := resolutionDurations[r]
	return ok
}

// Duration returns the bucket width.
func (r Resolution) Duration() time.Duration {
	return resolutionDurations[r]
}

// ParseResolution parses a resolution string such as "15m".
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown resolution %q", s)
	}
	return r, nil
}

// 1970-01-01 was a Thursday; the first Monday 00:00 UTC is 4 days later.
const epochMondayOffsetMs = 4 * 24 * int64(time.Hour/time.Millisecond)

// BucketStart floors a Unix millisecond timestamp to the start of its bucket in UTC.
// Weekly buckets start on Monday 00:00 UTC.
func (r Resolution) BucketStart(ts int64) int64 {
	width := r.Duration().Milliseconds()
	if width <= 0 {
		return ts
	}
	if r == Resolution1w {
		return floorMod(ts-epochMondayOffsetMs, width) + epochMondayOffsetMs
	}
	return floorMod(ts, width)
}

// floorMod floors v to a multiple of width, rounding towards negative infinity.
func floorMod(v, width int64) int64 {
	rem := v % width
	if rem < 0 {
		rem += width
	}
	return v - rem
}

// BucketKey identifies a single time bucket.
type BucketKey struct {
	Symbol      string
	Resolution  Resolution
	BucketStart int64 // Unix timestamp in milliseconds
}

// TimeBucket holds the running aggregate for one symbol/resolution/bucket.
// Mutated only by incremental sample addition.
type TimeBucket struct {
	Symbol         string
	Resolution     Resolution
	BucketStart    int64   // Unix timestamp in milliseconds
	AggregateScore float64 // running mean of sample scores
	SampleCount    int64
	UpdatedAt      int64 // Unix timestamp in milliseconds
}

// Key returns the bucket identity.
func (b *TimeBucket) Key() BucketKey {
	return BucketKey{Symbol: b.Symbol, Resolution: b.Resolution, BucketStart: b.BucketStart}
}

// AddSample folds one score into the running mean.
func (b *TimeBucket) AddSample(score float64) {
	b.SampleCount++
	b.AggregateScore += (score - b.AggregateScore) / float64(b.SampleCount)
}
