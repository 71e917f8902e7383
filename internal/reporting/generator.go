package reporting

import (
	"sort"
	"time"

	"sentiment-pipeline/internal/breaker"
	"sentiment-pipeline/internal/dedup"
)

// Input carries the state a report is built from.
type Input struct {
	Now         time.Time
	Health      string
	Breakers    []breaker.Snapshot
	Transitions []breaker.Transition
	Samples     []dedup.Sample
	Status      []dedup.SymbolStatus
	Cycle       *CycleRow
}

// Generate builds a Report. Symbols that only appear in Status (their samples
// have aged out of history) are still listed with zero samples.
func Generate(in Input) *Report {
	r := &Report{
		GeneratedAt: in.Now.UTC(),
		Health:      in.Health,
		Cycle:       in.Cycle,
	}

	transitions := make(map[string]int)
	for _, t := range in.Transitions {
		transitions[string(t.Provider)]++
	}
	for _, s := range in.Breakers {
		r.Breakers = append(r.Breakers, BreakerRow{
			Provider:            string(s.Provider),
			State:               s.State.String(),
			ConsecutiveFailures: s.ConsecutiveFailures,
			Trips:               s.Trips,
			CurrentTimeout:      s.CurrentTimeout,
			Transitions:         transitions[string(s.Provider)],
		})
	}

	rows := make(map[string]*CollisionRow)
	row := func(symbol string) *CollisionRow {
		if cr, ok := rows[symbol]; ok {
			return cr
		}
		cr := &CollisionRow{Symbol: symbol}
		rows[symbol] = cr
		return cr
	}
	for _, s := range in.Samples {
		cr := row(s.Symbol)
		cr.Samples++
		cr.TotalRaw += s.TotalRaw
		cr.Collisions += s.Collisions
	}
	for _, st := range in.Status {
		cr := row(st.Symbol)
		cr.LastRate = st.LastRate
		cr.Anomaly = string(st.Anomaly)
	}

	for _, cr := range rows {
		if cr.TotalRaw > 0 {
			cr.PooledRate = float64(cr.Collisions) / float64(cr.TotalRaw)
		}
		r.Symbols = append(r.Symbols, *cr)
	}
	sort.Slice(r.Symbols, func(i, j int) bool { return r.Symbols[i].Symbol < r.Symbols[j].Symbol })

	return r
}
