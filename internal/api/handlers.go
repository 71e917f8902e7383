package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/breaker"
	"sentiment-pipeline/internal/configstore"
	"sentiment-pipeline/internal/dedup"
	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/fallback"
	"sentiment-pipeline/internal/reporting"
	"sentiment-pipeline/internal/storage"
	"sentiment-pipeline/internal/stream"
	"sentiment-pipeline/internal/verification"
)

// OHLCService answers OHLC queries.
type OHLCService interface {
	FetchOHLC(ctx context.Context, symbol string, rng domain.TimeRange) (*domain.OHLCResponse, error)
}

// BreakerView exposes breaker state.
type BreakerView interface {
	Snapshots() []breaker.Snapshot
	Transitions() []breaker.Transition
}

// TelemetryView exposes collision telemetry.
type TelemetryView interface {
	History() []dedup.Sample
	Status() []dedup.SymbolStatus
}

// SubscriptionView exposes live stream subscriptions.
type SubscriptionView interface {
	Subscriptions() []stream.SubscriptionInfo
	LastID() uint64
}

// BucketVerifier checks stored buckets against canonical events.
type BucketVerifier interface {
	Verify(ctx context.Context, symbol string, res domain.Resolution, from, to int64) (*verification.Report, error)
}

// Handler serves the JSON API.
type Handler struct {
	ohlc          OHLCService
	breakers      BreakerView
	telemetry     TelemetryView
	subscriptions SubscriptionView
	events        storage.CanonicalEventStore
	buckets       storage.TimeBucketStore
	verifier      BucketVerifier
	cycles        *CycleTracker
	defaultRange  time.Duration
	logger        logrus.FieldLogger
	now           func() time.Time
}

// HandlerOptions contains configuration for creating a Handler.
// Any dependency left nil makes its endpoints answer 503.
type HandlerOptions struct {
	OHLC          OHLCService
	Breakers      BreakerView
	Telemetry     TelemetryView
	Subscriptions SubscriptionView
	Events        storage.CanonicalEventStore
	Buckets       storage.TimeBucketStore
	Verifier      BucketVerifier
	Cycles        *CycleTracker
	DefaultRange  time.Duration // Default: 30 days, used when from is omitted
	Logger        logrus.FieldLogger
	Now           func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{
		ohlc:          opts.OHLC,
		breakers:      opts.Breakers,
		telemetry:     opts.Telemetry,
		subscriptions: opts.Subscriptions,
		events:        opts.Events,
		buckets:       opts.Buckets,
		verifier:      opts.Verifier,
		cycles:        opts.Cycles,
		defaultRange:  opts.DefaultRange,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if h.defaultRange <= 0 {
		h.defaultRange = 30 * 24 * time.Hour
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

var errUnavailable = errors.New("not configured")

// GetOHLC serves GET /api/ohlc/:symbol?from&to.
func (h *Handler) GetOHLC(c *gin.Context) {
	if h.ohlc == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	symbol, rng, err := h.symbolRange(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	resp, err := h.ohlc.FetchOHLC(c.Request.Context(), symbol, rng)
	if err != nil {
		if errors.Is(err, fallback.ErrNoDataAvailable) {
			abort(c, http.StatusServiceUnavailable, err)
			return
		}
		h.logger.WithField("symbol", symbol).WithError(err).Error("ohlc query failed")
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type eventResponse struct {
	EventID     string   `json:"eventId"`
	Symbol      string   `json:"symbol"`
	Sentiment   float64  `json:"sentiment"`
	Confidence  float64  `json:"confidence"`
	Sources     []string `json:"sources"`
	Timestamp   int64    `json:"timestamp"`
	ContentHash string   `json:"contentHash"`
	Title       string   `json:"title,omitempty"`
}

// GetEvents serves GET /api/events/:symbol?from&to.
func (h *Handler) GetEvents(c *gin.Context) {
	if h.events == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	symbol, rng, err := h.symbolRange(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	events, err := h.events.GetBySymbol(c.Request.Context(), symbol, rng.From, rng.To)
	if err != nil {
		h.logger.WithField("symbol", symbol).WithError(err).Error("event query failed")
		abort(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]eventResponse, len(events))
	for i, e := range events {
		sources := make([]string, len(e.Sources))
		for j, s := range e.Sources {
			sources[j] = string(s)
		}
		out[i] = eventResponse{
			EventID:     e.EventID,
			Symbol:      e.Symbol,
			Sentiment:   e.SentimentScore,
			Confidence:  e.Confidence,
			Sources:     sources,
			Timestamp:   e.Timestamp,
			ContentHash: e.ContentHash,
			Title:       e.Title,
		}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "events": out})
}

type bucketResponse struct {
	BucketStart int64   `json:"bucketStart"`
	Score       float64 `json:"score"`
	SampleCount int64   `json:"sampleCount"`
}

// GetBuckets serves GET /api/buckets/:symbol?resolution&from&to.
func (h *Handler) GetBuckets(c *gin.Context) {
	if h.buckets == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	symbol, rng, err := h.symbolRange(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	res, err := domain.ParseResolution(c.DefaultQuery("resolution", string(domain.Resolution1h)))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	buckets, err := h.buckets.GetRange(c.Request.Context(), symbol, res, rng.From, rng.To)
	if err != nil {
		h.logger.WithFields(logrus.Fields{"symbol": symbol, "resolution": res}).WithError(err).Error("bucket query failed")
		abort(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]bucketResponse, len(buckets))
	for i, b := range buckets {
		out[i] = bucketResponse{BucketStart: b.BucketStart, Score: b.AggregateScore, SampleCount: b.SampleCount}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "resolution": res, "buckets": out})
}

// VerifyBuckets serves GET /api/verify/:symbol?resolution&from&to.
// Divergent buckets answer 200 with consistent=false.
func (h *Handler) VerifyBuckets(c *gin.Context) {
	if h.verifier == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	symbol, rng, err := h.symbolRange(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	res, err := domain.ParseResolution(c.DefaultQuery("resolution", string(domain.Resolution1h)))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	report, err := h.verifier.Verify(c.Request.Context(), symbol, res, rng.From, rng.To)
	if err != nil {
		h.logger.WithFields(logrus.Fields{"symbol": symbol, "resolution": res}).WithError(err).Error("bucket verification failed")
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if !report.Consistent() {
		h.logger.WithFields(logrus.Fields{
			"symbol":     symbol,
			"resolution": res,
			"divergent":  report.DivergentBuckets,
		}).Warn("bucket divergence detected")
	}
	c.JSON(http.StatusOK, gin.H{"consistent": report.Consistent(), "report": report})
}

// GetBreakers serves GET /api/breakers.
func (h *Handler) GetBreakers(c *gin.Context) {
	if h.breakers == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"breakers":    h.breakers.Snapshots(),
		"transitions": h.breakers.Transitions(),
	})
}

// GetTelemetry serves GET /api/telemetry.
func (h *Handler) GetTelemetry(c *gin.Context) {
	if h.telemetry == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"history": h.telemetry.History(),
		"symbols": h.telemetry.Status(),
	})
}

// GetSubscriptions serves GET /api/stream/subscriptions.
func (h *Handler) GetSubscriptions(c *gin.Context) {
	if h.subscriptions == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lastEventId":   h.subscriptions.LastID(),
		"subscriptions": h.subscriptions.Subscriptions(),
	})
}

// GetReport serves GET /api/report?format=json|markdown|csv.
// The CSV form holds the per-symbol collision rows only.
func (h *Handler) GetReport(c *gin.Context) {
	in := reporting.Input{Now: h.now(), Health: string(HealthHealthy)}
	if h.breakers != nil {
		in.Breakers = h.breakers.Snapshots()
		in.Transitions = h.breakers.Transitions()
		in.Health = string(EvaluateHealth(in.Breakers))
	}
	if h.telemetry != nil {
		in.Samples = h.telemetry.History()
		in.Status = h.telemetry.Status()
	}
	if h.cycles != nil {
		if last := h.cycles.Status().LastCycle; last != nil {
			in.Cycle = &reporting.CycleRow{
				CycleID:        last.CycleID,
				Outcome:        last.Outcome,
				Duration:       last.Duration,
				Symbols:        last.Symbols,
				Inserted:       last.Inserted,
				Published:      last.Published,
				PartialSymbols: last.Partial,
			}
		}
	}
	report := reporting.Generate(in)

	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		c.JSON(http.StatusOK, report)
	case "markdown", "md":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(reporting.RenderMarkdown(report)))
	case "csv":
		c.Header("Content-Disposition", `attachment; filename="collisions.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(reporting.RenderCSV(report.Symbols)))
	default:
		abort(c, http.StatusBadRequest, fmt.Errorf("unknown format %q", format))
	}
}

// GetStatus serves GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	if h.cycles == nil {
		abort(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, h.cycles.Status())
}

// symbolRange reads :symbol plus the optional from/to query parameters.
// to defaults to now and from to to minus the default range.
func (h *Handler) symbolRange(c *gin.Context) (string, domain.TimeRange, error) {
	symbol := configstore.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		return "", domain.TimeRange{}, configstore.ErrInvalidSymbol
	}

	to := h.now().UnixMilli()
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return "", domain.TimeRange{}, fmt.Errorf("to: %w", err)
		}
		to = t
	}
	from := to - h.defaultRange.Milliseconds()
	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return "", domain.TimeRange{}, fmt.Errorf("from: %w", err)
		}
		from = t
	}
	if from >= to {
		return "", domain.TimeRange{}, fmt.Errorf("from must be before to")
	}
	return symbol, domain.TimeRange{From: from, To: to}, nil
}

// parseTime accepts Unix milliseconds, RFC 3339 or a YYYY-MM-DD date (UTC).
func parseTime(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time %q", v)
}
