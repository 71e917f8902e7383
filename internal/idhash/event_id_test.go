package idhash

import (
	"testing"
	"time"
)

func TestComputeEventID(t *testing.T) {
	base := time.Date(2024, 1, 10, 13, 47, 0, 0, time.UTC).UnixMilli()
	hash := ComputeContentHash("title", "body")

	tests := []struct {
		name  string
		a, b  int64
		equal bool
	}{
		{"same timestamp", base, base, true},
		{"same minute", base + 1_000, base + 59_999, true},
		{"next minute", base, base + 60_000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idA := ComputeEventID("AAPL", tt.a, hash)
			idB := ComputeEventID("AAPL", tt.b, hash)

			if len(idA) != 64 {
				t.Errorf("ComputeEventID() length = %d, want 64", len(idA))
			}
			if (idA == idB) != tt.equal {
				t.Errorf("ComputeEventID equality = %v, want %v", idA == idB, tt.equal)
			}
		})
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	ts := time.Date(2024, 1, 10, 13, 47, 0, 0, time.UTC).UnixMilli()
	hash := ComputeContentHash("title", "body")

	base := ComputeEventID("AAPL", ts, hash)

	if base == ComputeEventID("MSFT", ts, hash) {
		t.Error("different symbols should produce different event IDs")
	}
	if base == ComputeEventID("AAPL", ts, ComputeContentHash("other", "body")) {
		t.Error("different content hashes should produce different event IDs")
	}
}
