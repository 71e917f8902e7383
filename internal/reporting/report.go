// Package reporting renders an operations report of provider health and
// collision telemetry as Markdown or CSV.
package reporting

import "time"

// Report is a point-in-time operations summary.
type Report struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Health      string       `json:"health"`
	Breakers    []BreakerRow `json:"breakers"`
	// Symbols is sorted by symbol.
	Symbols []CollisionRow `json:"symbols"`
	Cycle   *CycleRow      `json:"lastCycle,omitempty"`
}

// BreakerRow summarizes one provider circuit.
type BreakerRow struct {
	Provider            string        `json:"provider"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	Trips               int           `json:"trips"`
	CurrentTimeout      time.Duration `json:"currentTimeout"`
	Transitions         int           `json:"transitions"` // retained history only
}

// CollisionRow summarizes retained merge samples for one symbol.
type CollisionRow struct {
	Symbol     string  `json:"symbol"`
	Samples    int     `json:"samples"`
	TotalRaw   int     `json:"totalRaw"`
	Collisions int     `json:"collisions"`
	PooledRate float64 `json:"pooledRate"` // collisions / raw over all samples
	LastRate   float64 `json:"lastRate"`
	Anomaly    string  `json:"anomaly,omitempty"`
}

// CycleRow summarizes the last ingestion cycle.
type CycleRow struct {
	CycleID        string   `json:"cycleId"`
	Outcome        string   `json:"outcome"`
	Duration       string   `json:"duration"`
	Symbols        int      `json:"symbols"`
	Inserted       int      `json:"inserted"`
	Published      int      `json:"published"`
	PartialSymbols []string `json:"partialSymbols,omitempty"`
}
