package dedup

import (
	"sort"
	"sync"
)

// Anomaly is the direction of an abnormal collision rate streak.
type Anomaly string

const (
	AnomalyNone Anomaly = ""
	AnomalyHigh Anomaly = "high"
	AnomalyLow  Anomaly = "low"
)

// AnomalyConfig sets the collision rate watermarks and streak lengths.
type AnomalyConfig struct {
	HighWater  float64 // rate strictly above flags a high cycle
	LowWater   float64 // rate strictly below flags a low cycle
	HighCycles int     // consecutive high cycles before flagging
	LowCycles  int     // consecutive low cycles before flagging
}

// DefaultAnomalyConfig returns the default thresholds.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		HighWater:  0.40,
		LowWater:   0.05,
		HighCycles: 3,
		LowCycles:  6,
	}
}

// AnomalyDetector tracks consecutive abnormal collision rates.
// Not safe for concurrent use; Telemetry serializes access.
type AnomalyDetector struct {
	cfg        AnomalyConfig
	highStreak int
	lowStreak  int
}

// NewAnomalyDetector creates a detector.
func NewAnomalyDetector(cfg AnomalyConfig) *AnomalyDetector {
	return &AnomalyDetector{cfg: cfg}
}

// Observe folds one cycle's rate and returns the flagged anomaly, if any.
// A normal cycle resets both streaks.
func (d *AnomalyDetector) Observe(rate float64) Anomaly {
	switch {
	case rate > d.cfg.HighWater:
		d.highStreak++
		d.lowStreak = 0
	case rate < d.cfg.LowWater:
		d.lowStreak++
		d.highStreak = 0
	default:
		d.highStreak, d.lowStreak = 0, 0
	}

	switch {
	case d.cfg.HighCycles > 0 && d.highStreak >= d.cfg.HighCycles:
		return AnomalyHigh
	case d.cfg.LowCycles > 0 && d.lowStreak >= d.cfg.LowCycles:
		return AnomalyLow
	}
	return AnomalyNone
}

// Streaks returns the current high and low streak lengths.
func (d *AnomalyDetector) Streaks() (high, low int) {
	return d.highStreak, d.lowStreak
}

// Sample is one recorded merge outcome.
type Sample struct {
	Symbol        string  `json:"symbol"`
	At            int64   `json:"at"`
	TotalRaw      int     `json:"totalRaw"`
	Collisions    int     `json:"collisions"`
	CollisionRate float64 `json:"collisionRate"`
	Anomaly       Anomaly `json:"anomaly,omitempty"`
}

// SymbolStatus is the current anomaly state of one symbol.
type SymbolStatus struct {
	Symbol      string  `json:"symbol"`
	LastRate    float64 `json:"lastRate"`
	HighStreak  int     `json:"highStreak"`
	LowStreak   int     `json:"lowStreak"`
	Anomaly     Anomaly `json:"anomaly,omitempty"`
	LastUpdated int64   `json:"lastUpdated"`
}

// Telemetry keeps one AnomalyDetector per symbol and a bounded history of
// samples.
type Telemetry struct {
	mu        sync.Mutex
	cfg       AnomalyConfig
	detectors map[string]*AnomalyDetector
	status    map[string]*SymbolStatus
	history   []Sample
	next      int
	full      bool
}

// DefaultHistorySize is the number of samples retained.
const DefaultHistorySize = 512

// NewTelemetry creates a Telemetry retaining historySize samples.
func NewTelemetry(cfg AnomalyConfig, historySize int) *Telemetry {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Telemetry{
		cfg:       cfg,
		detectors: make(map[string]*AnomalyDetector),
		status:    make(map[string]*SymbolStatus),
		history:   make([]Sample, historySize),
	}
}

// Record folds a merge result for symbol. Empty batches carry no signal and
// are ignored; the returned anomaly is then AnomalyNone.
func (t *Telemetry) Record(symbol string, stats Stats, at int64) Anomaly {
	if stats.TotalRaw == 0 {
		return AnomalyNone
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.detectors[symbol]
	if !ok {
		d = NewAnomalyDetector(t.cfg)
		t.detectors[symbol] = d
	}
	a := d.Observe(stats.CollisionRate)
	high, low := d.Streaks()

	t.status[symbol] = &SymbolStatus{
		Symbol:      symbol,
		LastRate:    stats.CollisionRate,
		HighStreak:  high,
		LowStreak:   low,
		Anomaly:     a,
		LastUpdated: at,
	}

	t.history[t.next] = Sample{
		Symbol:        symbol,
		At:            at,
		TotalRaw:      stats.TotalRaw,
		Collisions:    stats.Collisions,
		CollisionRate: stats.CollisionRate,
		Anomaly:       a,
	}
	t.next = (t.next + 1) % len(t.history)
	if t.next == 0 {
		t.full = true
	}
	return a
}

// History returns retained samples, oldest first.
func (t *Telemetry) History() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]Sample(nil), t.history[:t.next]...)
	}
	out := make([]Sample, 0, len(t.history))
	out = append(out, t.history[t.next:]...)
	out = append(out, t.history[:t.next]...)
	return out
}

// Status returns the current per-symbol state.
func (t *Telemetry) Status() []SymbolStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SymbolStatus, 0, len(t.status))
	for _, s := range t.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
