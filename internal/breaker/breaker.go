// Package breaker implements per-provider circuit breakers that gate calls
// to unreliable upstream providers.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"sentiment-pipeline/internal/domain"
)

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds breaker thresholds.
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Window bounds how far apart counted failures may be. A failure arriving
	// after Window has elapsed since the first counted failure restarts the count.
	Window time.Duration
	// ResetTimeout is the initial OPEN duration before a probe is admitted.
	ResetTimeout time.Duration
	// MaxResetTimeout caps the doubled OPEN duration after repeated probe failures.
	MaxResetTimeout time.Duration
}

// DefaultConfig returns default breaker configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:       5,
		Window:          60 * time.Second,
		ResetTimeout:    60 * time.Second,
		MaxResetTimeout: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.MaxResetTimeout < c.ResetTimeout {
		c.MaxResetTimeout = c.ResetTimeout
	}
	return c
}

// Transition records a single state change.
type Transition struct {
	Provider domain.Provider `json:"provider"`
	From     State           `json:"from"`
	To       State           `json:"to"`
	At       time.Time       `json:"at"`
	Failures int             `json:"failures"`
	Timeout  time.Duration   `json:"timeout"`
}

// Snapshot is a point-in-time copy of breaker state.
type Snapshot struct {
	Provider              domain.Provider `json:"provider"`
	State                 State           `json:"state"`
	ConsecutiveFailures   int             `json:"consecutiveFailures"`
	OpenedAt              time.Time       `json:"openedAt,omitempty"`
	HalfOpenProbeInFlight bool            `json:"halfOpenProbeInFlight"`
	Trips                 int             `json:"trips"`
	CurrentTimeout        time.Duration   `json:"currentTimeout"`
}

// Breaker is the circuit breaker for a single provider.
// It never retries; it only decides whether a call may proceed.
type Breaker struct {
	provider domain.Provider
	config   Config
	now      func() time.Time
	notify   func(Transition)

	mu             sync.Mutex
	state          State
	failures       int
	firstFailureAt time.Time
	openedAt       time.Time
	trips          int
	currentTimeout time.Duration

	// probeInFlight admits exactly one HALF_OPEN probe.
	probeInFlight atomic.Bool
}

func newBreaker(p domain.Provider, cfg Config, now func() time.Time, notify func(Transition)) *Breaker {
	return &Breaker{
		provider:       p,
		config:         cfg,
		now:            now,
		notify:         notify,
		state:          StateClosed,
		currentTimeout: cfg.ResetTimeout,
	}
}

// Allow reports whether a call to the provider may proceed.
// In HALF_OPEN only the caller that wins the probe slot gets true.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var pending []Transition

	allowed := false
	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.currentTimeout {
			pending = append(pending, b.setState(StateHalfOpen))
			allowed = b.probeInFlight.CompareAndSwap(false, true)
		}
	case StateHalfOpen:
		allowed = b.probeInFlight.CompareAndSwap(false, true)
	}
	b.mu.Unlock()

	b.emit(pending)
	return allowed
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var pending []Transition

	switch b.state {
	case StateClosed:
		b.failures = 0
		b.firstFailureAt = time.Time{}
	case StateHalfOpen:
		b.failures = 0
		b.firstFailureAt = time.Time{}
		b.trips = 0
		b.currentTimeout = b.config.ResetTimeout
		b.probeInFlight.Store(false)
		pending = append(pending, b.setState(StateClosed))
	case StateOpen:
		// Late result from a call admitted before the trip.
	}
	b.mu.Unlock()

	b.emit(pending)
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var pending []Transition
	now := b.now()

	switch b.state {
	case StateClosed:
		if b.failures > 0 && now.Sub(b.firstFailureAt) > b.config.Window {
			b.failures = 0
		}
		if b.failures == 0 {
			b.firstFailureAt = now
		}
		b.failures++
		if b.failures >= b.config.Threshold {
			b.openedAt = now
			b.trips++
			b.currentTimeout = b.config.ResetTimeout
			pending = append(pending, b.setState(StateOpen))
		}
	case StateHalfOpen:
		b.failures++
		b.openedAt = now
		b.trips++
		b.currentTimeout *= 2
		if b.currentTimeout > b.config.MaxResetTimeout {
			b.currentTimeout = b.config.MaxResetTimeout
		}
		b.probeInFlight.Store(false)
		pending = append(pending, b.setState(StateOpen))
	case StateOpen:
	}
	b.mu.Unlock()

	b.emit(pending)
}

// Release gives back a call admitted by Allow without a verdict, as when the
// caller abandoned it. A HALF_OPEN probe slot is freed; counters and state
// are unchanged.
func (b *Breaker) Release() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probeInFlight.Store(false)
	}
	b.mu.Unlock()
}

// State returns the current state without advancing OPEN to HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Provider:              b.provider,
		State:                 b.state,
		ConsecutiveFailures:   b.failures,
		OpenedAt:              b.openedAt,
		HalfOpenProbeInFlight: b.probeInFlight.Load(),
		Trips:                 b.trips,
		CurrentTimeout:        b.currentTimeout,
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) Transition {
	t := Transition{
		Provider: b.provider,
		From:     b.state,
		To:       to,
		At:       b.now(),
		Failures: b.failures,
		Timeout:  b.currentTimeout,
	}
	b.state = to
	return t
}

func (b *Breaker) emit(ts []Transition) {
	if b.notify == nil {
		return
	}
	for _, t := range ts {
		b.notify(t)
	}
}
