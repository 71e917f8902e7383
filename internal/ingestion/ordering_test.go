package ingestion

import (
	"errors"
	"testing"

	"sentiment-pipeline/internal/domain"
)

func TestSortEvents(t *testing.T) {
	// Intentionally unordered events
	events := []*domain.CanonicalEvent{
		{Timestamp: 2000, EventID: "b"},
		{Timestamp: 1000, EventID: "c"},
		{Timestamp: 1000, EventID: "a"},
		{Timestamp: 3000, EventID: "a"},
	}

	SortEvents(events)

	expected := []struct {
		ts int64
		id string
	}{
		{1000, "a"},
		{1000, "c"},
		{2000, "b"},
		{3000, "a"},
	}

	for i, exp := range expected {
		if events[i].Timestamp != exp.ts || events[i].EventID != exp.id {
			t.Errorf("Index %d: got (%d, %s), want (%d, %s)",
				i, events[i].Timestamp, events[i].EventID, exp.ts, exp.id)
		}
	}
}

func TestSortEvents_Empty(t *testing.T) {
	var events []*domain.CanonicalEvent
	SortEvents(events) // Should not panic
}

func TestValidateEventOrdering(t *testing.T) {
	tests := []struct {
		name    string
		events  []*domain.CanonicalEvent
		wantErr bool
	}{
		{"empty", nil, false},
		{"single", []*domain.CanonicalEvent{{Timestamp: 1, EventID: "a"}}, false},
		{"ordered", []*domain.CanonicalEvent{
			{Timestamp: 1, EventID: "b"},
			{Timestamp: 2, EventID: "a"},
		}, false},
		{"same timestamp ordered by id", []*domain.CanonicalEvent{
			{Timestamp: 1, EventID: "a"},
			{Timestamp: 1, EventID: "b"},
		}, false},
		{"out of order", []*domain.CanonicalEvent{
			{Timestamp: 2, EventID: "a"},
			{Timestamp: 1, EventID: "b"},
		}, true},
		{"duplicate", []*domain.CanonicalEvent{
			{Timestamp: 1, EventID: "a"},
			{Timestamp: 1, EventID: "a"},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEventOrdering(tt.events)
			if tt.wantErr && !errors.Is(err, ErrInvalidOrdering) {
				t.Errorf("expected ErrInvalidOrdering, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
