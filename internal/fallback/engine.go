// Package fallback queries the primary provider and, when it fails or its
// breaker is open, the secondary provider.
package fallback

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/cache"
	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/provider"
)

// DefaultCacheTTL is the default expiry hint attached to OHLC responses.
const DefaultCacheTTL = 5 * time.Minute

// Gate decides whether a provider may be called and receives call outcomes.
// Implemented by *breaker.Set.
type Gate interface {
	Allow(p domain.Provider) bool
	RecordSuccess(p domain.Provider)
	RecordFailure(p domain.Provider)
	// Release returns an admitted call without a verdict.
	Release(p domain.Provider)
}

// Abandoned reports whether err is the result of the caller giving up on
// ctx rather than of the provider failing.
func Abandoned(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	var te *provider.TimeoutError
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &te)
}

// Settle reports the outcome of an admitted call to gate. Calls the caller
// abandoned are released instead of being counted as failures.
func Settle(ctx context.Context, gate Gate, p domain.Provider, err error) {
	switch {
	case err == nil:
		gate.RecordSuccess(p)
	case Abandoned(ctx, err):
		gate.Release(p)
	default:
		gate.RecordFailure(p)
	}
}

// Result carries whichever payload the operation produced.
type Result struct {
	Items   []domain.RawItem
	Candles []domain.Candle
}

// Op is a single provider operation.
type Op interface {
	Name() string
	Call(ctx context.Context, a provider.Adapter, symbol string) (Result, error)
}

// OHLCOp fetches daily candles within Range.
type OHLCOp struct {
	Range domain.TimeRange
}

// Name returns the operation name.
func (OHLCOp) Name() string { return provider.OpOHLC }

// Call invokes FetchOHLC.
func (o OHLCOp) Call(ctx context.Context, a provider.Adapter, symbol string) (Result, error) {
	candles, err := a.FetchOHLC(ctx, symbol, o.Range)
	return Result{Candles: candles}, err
}

// SentimentOp fetches sentiment items published within Window.
type SentimentOp struct {
	Window time.Duration
}

// Name returns the operation name.
func (SentimentOp) Name() string { return provider.OpSentiment }

// Call invokes FetchSentiment.
func (o SentimentOp) Call(ctx context.Context, a provider.Adapter, symbol string) (Result, error) {
	items, err := a.FetchSentiment(ctx, symbol, o.Window)
	return Result{Items: items}, err
}

// Engine runs sequential primary-then-secondary queries.
type Engine struct {
	primary   provider.Adapter
	secondary provider.Adapter
	gate      Gate
	cache     cache.OHLCCache
	cacheTTL  time.Duration
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option configures Engine.
type Option func(*Engine)

// WithCache enables last-known OHLC caching with the given expiry hint.
func WithCache(c cache.OHLCCache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a fallback engine. Breaker state is owned by gate.
func NewEngine(primary, secondary provider.Adapter, gate Gate, opts ...Option) *Engine {
	e := &Engine{
		primary:   primary,
		secondary: secondary,
		gate:      gate,
		cacheTTL:  DefaultCacheTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	return e
}

// Query runs op against the primary provider and falls back to the secondary.
// It never retries a provider and never waits for a breaker to close.
func (e *Engine) Query(ctx context.Context, symbol string, op Op) (Result, domain.Provider, error) {
	var errs [2]error

	for i, a := range []provider.Adapter{e.primary, e.secondary} {
		p := a.Name()

		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		if !e.gate.Allow(p) {
			errs[i] = ErrBreakerOpen
			continue
		}

		res, err := op.Call(ctx, a, symbol)
		Settle(ctx, e.gate, p, err)
		if err == nil {
			observability.RecordFallbackQuery(op.Name(), string(p))
			return res, p, nil
		}

		errs[i] = err
		e.logger.WithFields(logrus.Fields{
			"provider":   p,
			"symbol":     symbol,
			"op":         op.Name(),
			"error_kind": provider.ErrorKind(err),
		}).WithError(err).Warn("provider call failed")
	}

	observability.RecordFallbackQuery(op.Name(), "none")
	return Result{}, "", &NoDataAvailableError{
		Symbol:       symbol,
		Op:           op.Name(),
		PrimaryErr:   errs[0],
		SecondaryErr: errs[1],
	}
}

// FetchOHLC returns sorted, date-deduplicated candles annotated with their
// source and an expiry hint. When no provider can answer, the last-known
// cached response is returned with Stale set.
func (e *Engine) FetchOHLC(ctx context.Context, symbol string, rng domain.TimeRange) (*domain.OHLCResponse, error) {
	res, src, err := e.Query(ctx, symbol, OHLCOp{Range: rng})
	if err != nil {
		if errors.Is(err, ErrNoDataAvailable) {
			if stale := e.staleFromCache(ctx, symbol, rng); stale != nil {
				return stale, nil
			}
		}
		return nil, err
	}

	now := e.now()
	resp := &domain.OHLCResponse{
		Symbol:    symbol,
		Candles:   NormalizeCandles(res.Candles),
		Source:    src,
		FetchedAt: now.UnixMilli(),
		ExpiresAt: now.Add(e.cacheTTL).UnixMilli(),
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, resp); err != nil {
			e.logger.WithField("symbol", symbol).WithError(err).Warn("cache ohlc response")
		}
	}
	return resp, nil
}

func (e *Engine) staleFromCache(ctx context.Context, symbol string, rng domain.TimeRange) *domain.OHLCResponse {
	if e.cache == nil {
		return nil
	}
	cached, err := e.cache.Get(ctx, symbol)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.WithField("symbol", symbol).WithError(err).Warn("read ohlc cache")
		}
		return nil
	}

	var candles []domain.Candle
	for _, c := range cached.Candles {
		if rng.Contains(c.Date) {
			candles = append(candles, c)
		}
	}
	if len(candles) == 0 {
		return nil
	}
	cached.Candles = candles
	cached.Stale = true
	return cached
}

// NormalizeCandles sorts candles ascending by date and keeps one candle per
// date. Within one answer the later entry for a date wins.
func NormalizeCandles(candles []domain.Candle) []domain.Candle {
	if len(candles) == 0 {
		return []domain.Candle{}
	}
	sorted := append([]domain.Candle(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})

	out := make([]domain.Candle, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].Date == c.Date {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}
