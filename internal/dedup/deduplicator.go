package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/fallback"
	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/provider"
)

// ErrNoSources is returned when neither provider produced items.
var ErrNoSources = errors.New("no provider answered")

// MergeResult is the outcome of one dual-source merge.
type MergeResult struct {
	Symbol  string
	Events  []*domain.CanonicalEvent
	Stats   Stats
	Anomaly Anomaly
	// Partial is set when at least one provider was skipped or failed.
	Partial bool
	// Errors holds the failure of each provider that did not answer.
	// fallback.ErrBreakerOpen marks a provider skipped by its breaker.
	Errors map[domain.Provider]error
}

// Deduplicator queries both providers concurrently and merges their items.
type Deduplicator struct {
	adapters  []provider.Adapter
	gate      fallback.Gate
	cfg       Config
	telemetry *Telemetry
	logger    logrus.FieldLogger
	now       func() time.Time
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithConfig sets collision settings.
func WithConfig(cfg Config) Option {
	return func(d *Deduplicator) {
		d.cfg = cfg
	}
}

// WithTelemetry sets the collision telemetry sink.
func WithTelemetry(t *Telemetry) Option {
	return func(d *Deduplicator) {
		d.telemetry = t
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Deduplicator) {
		d.logger = l
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) {
		d.now = now
	}
}

// New creates a Deduplicator over the primary and secondary adapters.
func New(primary, secondary provider.Adapter, gate fallback.Gate, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		adapters: []provider.Adapter{primary, secondary},
		gate:     gate,
		cfg:      DefaultConfig(),
		logger:   logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.telemetry == nil {
		d.telemetry = NewTelemetry(DefaultAnomalyConfig(), DefaultHistorySize)
	}
	return d
}

// Telemetry returns the collision telemetry.
func (d *Deduplicator) Telemetry() *Telemetry {
	return d.telemetry
}

// Merge fetches sentiment for symbol from every provider whose breaker
// allows it and merges the union of their items. Returns ErrNoSources,
// along with a result carrying the per-provider errors, when no provider
// answered.
func (d *Deduplicator) Merge(ctx context.Context, symbol string, window time.Duration) (*MergeResult, error) {
	items := make([][]domain.RawItem, len(d.adapters))
	errs := make([]error, len(d.adapters))

	var g errgroup.Group
	for i, a := range d.adapters {
		i, a := i, a
		g.Go(func() error {
			items[i], errs[i] = d.fetch(ctx, a, symbol, window)
			return nil
		})
	}
	_ = g.Wait()

	res := &MergeResult{Symbol: symbol, Errors: make(map[domain.Provider]error)}
	var all []domain.RawItem
	answered := 0
	for i, a := range d.adapters {
		if errs[i] != nil {
			res.Errors[a.Name()] = errs[i]
			continue
		}
		answered++
		all = append(all, items[i]...)
	}
	res.Partial = answered < len(d.adapters)

	if answered == 0 {
		return res, fmt.Errorf("merge %s: %w", symbol, ErrNoSources)
	}

	res.Events, res.Stats = MergeItems(symbol, all, d.cfg)
	res.Anomaly = d.telemetry.Record(symbol, res.Stats, d.now().UnixMilli())

	byProvider := make(map[string]int, len(res.Stats.ByProvider))
	for p, n := range res.Stats.ByProvider {
		byProvider[string(p)] = n
	}
	observability.RecordMerge(byProvider, res.Stats.Events, res.Stats.CollisionRate)
	if res.Anomaly != AnomalyNone {
		observability.RecordCollisionAnomaly(string(res.Anomaly))
		d.logger.WithFields(logrus.Fields{
			"symbol":         symbol,
			"collision_rate": res.Stats.CollisionRate,
			"anomaly":        res.Anomaly,
		}).Warn("collision rate anomaly")
	}

	return res, nil
}

func (d *Deduplicator) fetch(ctx context.Context, a provider.Adapter, symbol string, window time.Duration) ([]domain.RawItem, error) {
	p := a.Name()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.gate.Allow(p) {
		return nil, fallback.ErrBreakerOpen
	}

	items, err := a.FetchSentiment(ctx, symbol, window)
	fallback.Settle(ctx, d.gate, p, err)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"provider":   p,
			"symbol":     symbol,
			"op":         provider.OpSentiment,
			"error_kind": provider.ErrorKind(err),
		}).WithError(err).Warn("provider call failed")
		return nil, err
	}
	return items, nil
}
