package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/alert"
	"sentiment-pipeline/internal/dedup"
	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/fanout"
	"sentiment-pipeline/internal/storage"
	"sentiment-pipeline/internal/stream"
)

// Merger produces canonical events for one symbol from both providers.
type Merger interface {
	Merge(ctx context.Context, symbol string, window time.Duration) (*dedup.MergeResult, error)
}

// BucketWriter folds canonical events into time buckets.
type BucketWriter interface {
	Apply(ctx context.Context, event *domain.CanonicalEvent) (fanout.Result, error)
	ApplyResolutions(ctx context.Context, event *domain.CanonicalEvent, rs []domain.Resolution) (fanout.Result, error)
}

// Publisher pushes messages to stream subscribers.
type Publisher interface {
	Publish(msg stream.Message) (stream.Message, error)
}

// OHLCFetcher answers OHLC queries through the fallback path.
type OHLCFetcher interface {
	FetchOHLC(ctx context.Context, symbol string, rng domain.TimeRange) (*domain.OHLCResponse, error)
}

// Manager runs the ingestion steps for a single symbol:
// merge, persist, fan out, publish, alert and OHLC refresh.
type Manager struct {
	merger    Merger
	events    storage.CanonicalEventStore
	writer    BucketWriter
	publisher Publisher
	alerts    alert.Sink
	ohlc      OHLCFetcher
	candles   storage.CandleStore

	sentimentWindow time.Duration
	ohlcRange       time.Duration
	writeRetries    int
	retryInterval   time.Duration
	commitGrace     time.Duration
	logger          logrus.FieldLogger
	now             func() time.Time
}

// ManagerOptions contains configuration for creating a Manager.
// Publisher, Alerts, OHLC and Candles are optional.
type ManagerOptions struct {
	Merger    Merger
	Events    storage.CanonicalEventStore
	Writer    BucketWriter
	Publisher Publisher
	Alerts    alert.Sink
	OHLC      OHLCFetcher
	Candles   storage.CandleStore

	SentimentWindow time.Duration // Default: 1h
	OHLCRange       time.Duration // Default: 30 days
	WriteRetries    int           // Default: 3; negative disables retries
	RetryInterval   time.Duration // Default: 100ms, doubled per retry
	CommitGrace     time.Duration // Default: 5s; bounds commits after ctx is done
	Logger          logrus.FieldLogger
	Now             func() time.Time
}

// NewManager creates a new ingestion manager.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		merger:          opts.Merger,
		events:          opts.Events,
		writer:          opts.Writer,
		publisher:       opts.Publisher,
		alerts:          opts.Alerts,
		ohlc:            opts.OHLC,
		candles:         opts.Candles,
		sentimentWindow: opts.SentimentWindow,
		ohlcRange:       opts.OHLCRange,
		writeRetries:    opts.WriteRetries,
		retryInterval:   opts.RetryInterval,
		commitGrace:     opts.CommitGrace,
		logger:          opts.Logger,
		now:             opts.Now,
	}
	if m.sentimentWindow <= 0 {
		m.sentimentWindow = time.Hour
	}
	if m.ohlcRange <= 0 {
		m.ohlcRange = 30 * 24 * time.Hour
	}
	if m.writeRetries == 0 {
		m.writeRetries = 3
	}
	if m.writeRetries < 0 {
		m.writeRetries = 0
	}
	if m.retryInterval <= 0 {
		m.retryInterval = 100 * time.Millisecond
	}
	if m.commitGrace <= 0 {
		m.commitGrace = 5 * time.Second
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SymbolReport summarizes one symbol's ingestion.
type SymbolReport struct {
	Symbol   string
	Events   int // canonical events produced by the merge
	Inserted int // events that were new to the store
	Merged   int // events whose stored sources were extended
	// Published counts sentiment_update messages, one per config id per
	// inserted event.
	Published int
	// FailedWrites counts bucket resolutions still failing after retries.
	FailedWrites int
	Candles      int
	Stale        bool // OHLC served from the last-known cache
	Partial      bool
	Errors       []error
}

func (r *SymbolReport) fail(err error) {
	r.Partial = true
	r.Errors = append(r.Errors, err)
}

// IngestSymbol runs one cycle for symbol. configIDs are the tracking
// configurations that receive stream updates for it.
//
// Failures of individual events, buckets or the OHLC refresh are recorded
// in the report and never stop the remaining steps.
func (m *Manager) IngestSymbol(ctx context.Context, symbol string, configIDs []string) SymbolReport {
	report := SymbolReport{Symbol: symbol}
	log := m.logger.WithField("symbol", symbol)

	m.ingestSentiment(ctx, symbol, configIDs, &report, log)
	m.refreshOHLC(ctx, symbol, &report, log)

	return report
}

func (m *Manager) ingestSentiment(ctx context.Context, symbol string, configIDs []string, report *SymbolReport, log logrus.FieldLogger) {
	if m.merger == nil || m.events == nil {
		return
	}

	res, err := m.merger.Merge(ctx, symbol, m.sentimentWindow)
	if err != nil {
		report.fail(err)
		log.WithError(err).Warn("sentiment merge produced no data")
		return
	}
	if res.Partial {
		report.Partial = true
	}

	events := res.Events
	report.Events = len(events)
	if len(events) == 0 {
		return
	}

	// Enforce deterministic ordering
	SortEvents(events)
	if err := ValidateEventOrdering(events); err != nil {
		// Upserts stay idempotent, so the cycle continues.
		report.fail(err)
		log.WithError(err).Error("merge produced duplicate event ids")
	}

	// Events already merged are committed even when ctx ends mid-way, under
	// a detached context bounded by commitGrace.
	var (
		wctx      = ctx
		detached  bool
		stopGrace context.CancelFunc = func() {}
	)
	defer func() { stopGrace() }()
	detach := func() {
		if detached || ctx.Err() == nil {
			return
		}
		detached = true
		wctx, stopGrace = context.WithTimeout(context.WithoutCancel(ctx), m.commitGrace)
		report.fail(fmt.Errorf("commit after cycle end: %w", ctx.Err()))
		log.WithField("grace", m.commitGrace).Warn("cycle ended before persistence, committing merged events")
	}

	detach()
	prev, err := m.latestScore(wctx, symbol)
	if err != nil {
		report.fail(err)
		log.WithError(err).Warn("failed to read previous sentiment")
	}

	for i, e := range events {
		detach()
		if err := wctx.Err(); err != nil {
			report.fail(fmt.Errorf("%d events not committed: %w", len(events)-i, err))
			return
		}

		inserted, err := m.events.Upsert(wctx, e)
		if err != nil {
			report.fail(fmt.Errorf("upsert %s: %w", e.EventID, err))
			log.WithField("event_id", e.EventID).WithError(err).Error("failed to store canonical event")
			continue
		}
		if inserted {
			report.Inserted++
		} else {
			report.Merged++
		}

		// Buckets are applied even for known events so resolutions that failed
		// in an earlier cycle are completed.
		if failed, err := m.applyBuckets(wctx, e); err != nil {
			report.FailedWrites += len(failed)
			report.fail(err)
			log.WithFields(logrus.Fields{
				"event_id":    e.EventID,
				"resolutions": failed,
			}).WithError(err).Error("bucket fan-out incomplete")
		}

		if !inserted {
			continue
		}
		report.Published += m.publish(e, prev, configIDs, log)
		if m.alerts != nil && !m.alerts.Offer(e) {
			log.WithField("event_id", e.EventID).Debug("alert dropped")
		}
		score := e.SentimentScore
		prev = &score
	}
}

func (m *Manager) latestScore(ctx context.Context, symbol string) (*float64, error) {
	latest, err := m.events.GetLatestBySymbol(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s: %w", symbol, err)
	}
	score := latest.SentimentScore
	return &score, nil
}

// applyBuckets writes e to every resolution, retrying only the failed ones
// with exponential backoff. Returns the resolutions still failing.
func (m *Manager) applyBuckets(ctx context.Context, e *domain.CanonicalEvent) ([]domain.Resolution, error) {
	var pending []domain.Resolution
	write := func() error {
		var err error
		if pending == nil {
			_, err = m.writer.Apply(ctx, e)
		} else {
			_, err = m.writer.ApplyResolutions(ctx, e, pending)
		}
		if err == nil {
			pending = nil
			return nil
		}
		var werr *fanout.WriteError
		if !errors.As(err, &werr) {
			return backoff.Permanent(err)
		}
		pending = werr.Failed
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.retryInterval
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(m.writeRetries)), ctx)

	if err := backoff.Retry(write, b); err != nil {
		return pending, err
	}
	return nil, nil
}

// publish emits one sentiment_update per config id and returns the number
// published.
func (m *Manager) publish(e *domain.CanonicalEvent, prev *float64, configIDs []string, log logrus.FieldLogger) int {
	if m.publisher == nil {
		return 0
	}

	sources := make([]string, len(e.Sources))
	for i, s := range e.Sources {
		sources[i] = string(s)
	}

	n := 0
	now := m.now().UnixMilli()
	for _, configID := range configIDs {
		msg, err := stream.NewSentimentMessage(stream.SentimentUpdate{
			ConfigID:          configID,
			Ticker:            e.Symbol,
			Source:            strings.Join(sources, ","),
			Sentiment:         e.SentimentScore,
			PreviousSentiment: prev,
			Timestamp:         e.Timestamp,
			EventID:           e.EventID,
		}, now)
		if err != nil {
			log.WithError(err).Error("failed to build stream message")
			continue
		}
		if _, err := m.publisher.Publish(msg); err != nil {
			log.WithField("config_id", configID).WithError(err).Warn("stream publish failed")
			continue
		}
		n++
	}
	return n
}

// refreshOHLC pulls recent candles through the fallback engine and stores
// fresh answers. Stale cache answers are not written back.
func (m *Manager) refreshOHLC(ctx context.Context, symbol string, report *SymbolReport, log logrus.FieldLogger) {
	if m.ohlc == nil {
		return
	}

	now := m.now()
	rng := domain.TimeRange{From: now.Add(-m.ohlcRange).UnixMilli(), To: now.UnixMilli()}
	resp, err := m.ohlc.FetchOHLC(ctx, symbol, rng)
	if err != nil {
		report.fail(err)
		log.WithError(err).Warn("ohlc refresh failed")
		return
	}

	report.Candles = len(resp.Candles)
	if resp.Stale {
		report.Stale = true
		report.Partial = true
		log.Info("serving stale ohlc from cache")
		return
	}
	if m.candles == nil || len(resp.Candles) == 0 {
		return
	}
	if err := m.candles.UpsertBulk(ctx, resp.Candles); err != nil {
		report.fail(fmt.Errorf("store candles %s: %w", symbol, err))
		log.WithError(err).Error("failed to store candles")
	}
}
