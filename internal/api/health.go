package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"sentiment-pipeline/internal/breaker"
	"sentiment-pipeline/internal/ingestion"
)

// HealthStatus is the overall service health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    HealthStatus      `json:"status"`
	Providers map[string]string `json:"providers"`
	LastCycle *CycleStatus      `json:"lastCycle,omitempty"`
}

// EvaluateHealth derives service health from breaker states: healthy when
// every breaker is closed, unhealthy when every breaker is open, degraded
// otherwise.
func EvaluateHealth(snapshots []breaker.Snapshot) HealthStatus {
	if len(snapshots) == 0 {
		return HealthHealthy
	}
	closed, open := 0, 0
	for _, s := range snapshots {
		switch s.State {
		case breaker.StateClosed:
			closed++
		case breaker.StateOpen:
			open++
		}
	}
	switch {
	case closed == len(snapshots):
		return HealthHealthy
	case open == len(snapshots):
		return HealthUnhealthy
	default:
		return HealthDegraded
	}
}

// Health serves GET /health. Unhealthy answers 503.
func (h *Handler) Health(c *gin.Context) {
	resp := HealthResponse{Status: HealthHealthy, Providers: map[string]string{}}
	if h.breakers != nil {
		snaps := h.breakers.Snapshots()
		for _, s := range snaps {
			resp.Providers[string(s.Provider)] = s.State.String()
		}
		resp.Status = EvaluateHealth(snaps)
	}
	if h.cycles != nil {
		resp.LastCycle = h.cycles.Status().LastCycle
	}

	code := http.StatusOK
	if resp.Status == HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// CycleStatus summarizes one finished ingestion cycle.
type CycleStatus struct {
	CycleID   string    `json:"cycleId"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Outcome   string    `json:"outcome"`
	Symbols   int       `json:"symbols"`
	Inserted  int       `json:"inserted"`
	Published int       `json:"published"`
	Partial   []string  `json:"partialSymbols,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status    string       `json:"status"`
	Uptime    string       `json:"uptime"`
	Cycles    int          `json:"cycles"`
	LastCycle *CycleStatus `json:"lastCycle,omitempty"`
}

// CycleTracker keeps the latest ingestion cycle for status endpoints.
// Observe is meant to be passed as ingestion.RunnerOptions.OnCycle.
type CycleTracker struct {
	mu      sync.Mutex
	started time.Time
	cycles  int
	last    *CycleStatus
}

// NewCycleTracker creates a tracker; started marks the service start.
func NewCycleTracker(started time.Time) *CycleTracker {
	return &CycleTracker{started: started}
}

// Observe records a finished cycle.
func (t *CycleTracker) Observe(report *ingestion.CycleReport) {
	cs := &CycleStatus{
		CycleID:   report.CycleID,
		StartedAt: report.StartedAt,
		Duration:  report.Duration.String(),
		Outcome:   report.Outcome,
		Symbols:   report.Symbols,
	}
	for _, sr := range report.Reports {
		cs.Inserted += sr.Inserted
		cs.Published += sr.Published
		if sr.Partial {
			cs.Partial = append(cs.Partial, sr.Symbol)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	t.last = cs
}

// Status returns the current status.
func (t *CycleTracker) Status() StatusResponse {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(t.started).Truncate(time.Second).String(),
		Cycles: t.cycles,
	}
	if t.last != nil {
		last := *t.last
		resp.LastCycle = &last
	}
	return resp
}
