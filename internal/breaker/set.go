package breaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/domain"
)

const defaultHistorySize = 256

// Set holds one Breaker per provider. Each breaker has its own lock.
type Set struct {
	breakers map[domain.Provider]*Breaker
	logger   logrus.FieldLogger

	listeners []func(Transition)

	histMu      sync.Mutex
	history     []Transition
	historyNext int
	historyFull bool
}

// Option configures a Set.
type Option func(*setOptions)

type setOptions struct {
	now         func() time.Time
	logger      logrus.FieldLogger
	listeners   []func(Transition)
	historySize int
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *setOptions) {
		o.now = now
	}
}

// WithLogger sets the logger used for transition logs.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *setOptions) {
		o.logger = l
	}
}

// WithListener registers a callback invoked on every transition.
// Listeners run synchronously on the caller's goroutine and must not block.
func WithListener(fn func(Transition)) Option {
	return func(o *setOptions) {
		o.listeners = append(o.listeners, fn)
	}
}

// WithHistorySize bounds the transition history ring.
func WithHistorySize(n int) Option {
	return func(o *setOptions) {
		o.historySize = n
	}
}

// NewSet creates breakers for the given providers.
func NewSet(cfg Config, providers []domain.Provider, opts ...Option) *Set {
	o := setOptions{
		now:         time.Now,
		historySize: defaultHistorySize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		o.logger = l
	}
	if o.historySize <= 0 {
		o.historySize = defaultHistorySize
	}

	s := &Set{
		breakers:  make(map[domain.Provider]*Breaker, len(providers)),
		logger:    o.logger,
		listeners: o.listeners,
		history:   make([]Transition, o.historySize),
	}

	cfg = cfg.withDefaults()
	for _, p := range providers {
		s.breakers[p] = newBreaker(p, cfg, o.now, s.onTransition)
	}
	return s
}

// Get returns the breaker for a provider, or nil if unknown.
func (s *Set) Get(p domain.Provider) *Breaker {
	return s.breakers[p]
}

// Allow reports whether a call to p may proceed. Unknown providers are never allowed.
func (s *Set) Allow(p domain.Provider) bool {
	b := s.breakers[p]
	if b == nil {
		return false
	}
	return b.Allow()
}

// RecordSuccess records a successful call to p.
func (s *Set) RecordSuccess(p domain.Provider) {
	if b := s.breakers[p]; b != nil {
		b.RecordSuccess()
	}
}

// RecordFailure records a failed call to p.
func (s *Set) RecordFailure(p domain.Provider) {
	if b := s.breakers[p]; b != nil {
		b.RecordFailure()
	}
}

// Release frees a call to p admitted by Allow without recording a result.
func (s *Set) Release(p domain.Provider) {
	if b := s.breakers[p]; b != nil {
		b.Release()
	}
}

// Snapshots returns the state of every breaker in provider order.
func (s *Set) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(s.breakers))
	for _, p := range domain.Providers {
		if b, ok := s.breakers[p]; ok {
			out = append(out, b.Snapshot())
		}
	}
	for p, b := range s.breakers {
		if !p.IsValid() {
			out = append(out, b.Snapshot())
		}
	}
	return out
}

// Transitions returns retained transitions, oldest first.
func (s *Set) Transitions() []Transition {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	if !s.historyFull {
		out := make([]Transition, s.historyNext)
		copy(out, s.history[:s.historyNext])
		return out
	}
	out := make([]Transition, 0, len(s.history))
	out = append(out, s.history[s.historyNext:]...)
	out = append(out, s.history[:s.historyNext]...)
	return out
}

func (s *Set) onTransition(t Transition) {
	s.histMu.Lock()
	s.history[s.historyNext] = t
	s.historyNext++
	if s.historyNext == len(s.history) {
		s.historyNext = 0
		s.historyFull = true
	}
	s.histMu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{
		"provider": t.Provider,
		"from":     t.From.String(),
		"to":       t.To.String(),
		"failures": t.Failures,
		"timeout":  t.Timeout.String(),
	})
	if t.To == StateOpen {
		entry.Warn("circuit breaker opened")
	} else {
		entry.Info("circuit breaker state changed")
	}

	for _, fn := range s.listeners {
		fn(t)
	}
}
