package ingestion

import (
	"errors"
	"sort"

	"sentiment-pipeline/internal/domain"
)

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortEvents orders canonical events by (timestamp ASC, event_id ASC).
// Per-symbol fan-out relies on this order.
func SortEvents(events []*domain.CanonicalEvent) {
	sort.Slice(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// ValidateEventOrdering checks that events are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateEventOrdering(events []*domain.CanonicalEvent) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, event_id ASC)
func compareEvents(a, b *domain.CanonicalEvent) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	if a.EventID != b.EventID {
		if a.EventID < b.EventID {
			return -1
		}
		return 1
	}
	return 0
}
