package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-pipeline/internal/breaker"
	"sentiment-pipeline/internal/cache"
	"sentiment-pipeline/internal/dedup"
	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/fallback"
	"sentiment-pipeline/internal/ingestion"
	"sentiment-pipeline/internal/provider"
	"sentiment-pipeline/internal/provider/stub"
	"sentiment-pipeline/internal/reporting"
	"sentiment-pipeline/internal/storage/memory"
	"sentiment-pipeline/internal/stream"
	"sentiment-pipeline/internal/verification"
)

var (
	testNow = time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	jan1    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	dayMs   = int64(24 * time.Hour / time.Millisecond)
)

type fixture struct {
	primary   *stub.Adapter
	secondary *stub.Adapter
	breakers  *breaker.Set
	telemetry *dedup.Telemetry
	events    *memory.CanonicalEventStore
	buckets   *memory.TimeBucketStore
	hub       *stream.Hub
	cycles    *CycleTracker
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	clock := func() time.Time { return testNow }

	f := &fixture{
		primary:   stub.NewAdapter(domain.ProviderPrimary),
		secondary: stub.NewAdapter(domain.ProviderSecondary),
		breakers:  breaker.NewSet(breaker.Config{Threshold: 1}, domain.Providers, breaker.WithClock(clock)),
		telemetry: dedup.NewTelemetry(dedup.DefaultAnomalyConfig(), 16),
		events:    memory.NewCanonicalEventStore(),
		buckets:   memory.NewTimeBucketStore(),
		hub:       stream.NewHub(stream.DefaultHubConfig(), stream.WithHubLogger(logger)),
		cycles:    NewCycleTracker(testNow),
	}
	t.Cleanup(f.hub.Close)

	engine := fallback.NewEngine(f.primary, f.secondary, f.breakers,
		fallback.WithCache(cache.NewMemory(), time.Minute),
		fallback.WithClock(clock),
		fallback.WithLogger(logger),
	)
	h := NewHandler(HandlerOptions{
		OHLC:          engine,
		Breakers:      f.breakers,
		Telemetry:     f.telemetry,
		Subscriptions: f.hub,
		Events:        f.events,
		Buckets:       f.buckets,
		Verifier:      verification.NewVerifier(f.events, f.buckets),
		Cycles:        f.cycles,
		Logger:        logger,
		Now:           clock,
	})
	f.router = NewRouter(&Config{
		Handler: h,
		Stream:  stream.NewServer(f.hub, stream.DefaultServerConfig(), logger),
		Logger:  logger,
	})
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// trip opens the breaker of p (threshold 1).
func (f *fixture) trip(p domain.Provider) {
	f.breakers.Allow(p)
	f.breakers.RecordFailure(p)
}

func candle(date int64, px float64) domain.Candle {
	return domain.Candle{Symbol: "AAPL", Date: date, Open: px, High: px, Low: px, Close: px, Volume: 1}
}

func TestGetOHLC(t *testing.T) {
	f := newFixture(t)
	f.primary.SetCandles("AAPL", candle(jan1+2*dayMs, 12), candle(jan1, 10), candle(jan1+dayMs, 11))

	w := f.get(t, "/api/ohlc/aapl?from=2024-01-01&to=2024-01-05")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp domain.OHLCResponse
	decode(t, w, &resp)
	assert.Equal(t, "AAPL", resp.Symbol)
	assert.Equal(t, domain.ProviderPrimary, resp.Source)
	assert.False(t, resp.Stale)
	assert.Equal(t, testNow.Add(time.Minute).UnixMilli(), resp.ExpiresAt)
	require.Len(t, resp.Candles, 3)
	assert.Equal(t, jan1, resp.Candles[0].Date)
	assert.Equal(t, jan1+2*dayMs, resp.Candles[2].Date)
}

func TestGetOHLC_NoProviderAnswers(t *testing.T) {
	f := newFixture(t)
	f.primary.SetOHLCError(&provider.ServerError{Op: provider.OpOHLC, Status: 500})
	f.secondary.SetOHLCError(&provider.TimeoutError{Op: provider.OpOHLC})

	w := f.get(t, "/api/ohlc/AAPL")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp errorResponse
	decode(t, w, &resp)
	assert.Contains(t, resp.Error, "AAPL")
}

func TestGetOHLC_BadRange(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
	}{
		{"unparseable from", "/api/ohlc/AAPL?from=yesterday"},
		{"unparseable to", "/api/ohlc/AAPL?to=soon"},
		{"from after to", "/api/ohlc/AAPL?from=2024-01-05&to=2024-01-01"},
		{"empty range", "/api/ohlc/AAPL?from=1000&to=1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Zero(t, f.primary.OHLCCalls())
}

func TestGetEventsAndBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := jan1 + 90_000
	_, err := f.events.Upsert(ctx, &domain.CanonicalEvent{
		EventID:        "e1",
		Symbol:         "AAPL",
		SentimentScore: 0.4,
		Confidence:     0.9,
		Sources:        []domain.Provider{domain.ProviderPrimary, domain.ProviderSecondary},
		Timestamp:      ts,
	})
	require.NoError(t, err)
	key := domain.BucketKey{Symbol: "AAPL", Resolution: domain.Resolution1h, BucketStart: domain.Resolution1h.BucketStart(ts)}
	_, err = f.buckets.AddSample(ctx, key, "e1", 0.4)
	require.NoError(t, err)

	w := f.get(t, "/api/events/AAPL?from=2024-01-01&to=2024-01-02")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var events struct {
		Events []eventResponse `json:"events"`
	}
	decode(t, w, &events)
	require.Len(t, events.Events, 1)
	assert.Equal(t, []string{"primary", "secondary"}, events.Events[0].Sources)

	w = f.get(t, "/api/buckets/AAPL?resolution=1h&from=2024-01-01&to=2024-01-02")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var buckets struct {
		Resolution string           `json:"resolution"`
		Buckets    []bucketResponse `json:"buckets"`
	}
	decode(t, w, &buckets)
	assert.Equal(t, "1h", buckets.Resolution)
	require.Len(t, buckets.Buckets, 1)
	assert.Equal(t, jan1, buckets.Buckets[0].BucketStart)
	assert.Equal(t, int64(1), buckets.Buckets[0].SampleCount)

	w = f.get(t, "/api/buckets/AAPL?resolution=2h")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBreakers(t *testing.T) {
	f := newFixture(t)
	f.trip(domain.ProviderPrimary)

	w := f.get(t, "/api/breakers")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Breakers []struct {
			Provider string `json:"provider"`
			State    string `json:"state"`
		} `json:"breakers"`
		Transitions []struct {
			Provider string `json:"provider"`
			From     string `json:"from"`
			To       string `json:"to"`
		} `json:"transitions"`
	}
	decode(t, w, &resp)

	states := map[string]string{}
	for _, b := range resp.Breakers {
		states[b.Provider] = b.State
	}
	assert.Equal(t, map[string]string{"primary": "OPEN", "secondary": "CLOSED"}, states)
	require.Len(t, resp.Transitions, 1)
	assert.Equal(t, "CLOSED", resp.Transitions[0].From)
	assert.Equal(t, "OPEN", resp.Transitions[0].To)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	var resp HealthResponse
	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, HealthHealthy, resp.Status)

	f.trip(domain.ProviderPrimary)
	w = f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, HealthDegraded, resp.Status)
	assert.Equal(t, "OPEN", resp.Providers["primary"])

	f.trip(domain.ProviderSecondary)
	w = f.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, HealthUnhealthy, resp.Status)
}

func TestEvaluateHealth(t *testing.T) {
	snap := func(s breaker.State) breaker.Snapshot { return breaker.Snapshot{State: s} }

	tests := []struct {
		name  string
		snaps []breaker.Snapshot
		want  HealthStatus
	}{
		{"no breakers", nil, HealthHealthy},
		{"all closed", []breaker.Snapshot{snap(breaker.StateClosed), snap(breaker.StateClosed)}, HealthHealthy},
		{"one open", []breaker.Snapshot{snap(breaker.StateOpen), snap(breaker.StateClosed)}, HealthDegraded},
		{"half open", []breaker.Snapshot{snap(breaker.StateHalfOpen), snap(breaker.StateClosed)}, HealthDegraded},
		{"open and half open", []breaker.Snapshot{snap(breaker.StateOpen), snap(breaker.StateHalfOpen)}, HealthDegraded},
		{"all open", []breaker.Snapshot{snap(breaker.StateOpen), snap(breaker.StateOpen)}, HealthUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateHealth(tt.snaps))
		})
	}
}

func TestGetTelemetry(t *testing.T) {
	f := newFixture(t)
	f.telemetry.Record("AAPL", dedup.Stats{TotalRaw: 4, Collisions: 2, CollisionRate: 0.5}, jan1)

	w := f.get(t, "/api/telemetry")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		History []dedup.Sample       `json:"history"`
		Symbols []dedup.SymbolStatus `json:"symbols"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.History, 1)
	assert.Equal(t, 0.5, resp.History[0].CollisionRate)
	require.Len(t, resp.Symbols, 1)
	assert.Equal(t, "AAPL", resp.Symbols[0].Symbol)
	assert.Equal(t, 1, resp.Symbols[0].HighStreak)
}

func TestGetSubscriptionsAndStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.hub.Subscribe(stream.SubscribeOptions{ClientID: "dash-1", Symbols: []string{"AAPL"}})
	require.NoError(t, err)

	w := f.get(t, "/api/stream/subscriptions")
	require.Equal(t, http.StatusOK, w.Code)
	var subs struct {
		Subscriptions []stream.SubscriptionInfo `json:"subscriptions"`
	}
	decode(t, w, &subs)
	require.Len(t, subs.Subscriptions, 1)
	assert.Equal(t, "dash-1", subs.Subscriptions[0].ClientID)

	f.cycles.Observe(&ingestion.CycleReport{
		CycleID:  "c-1",
		Outcome:  ingestion.OutcomePartial,
		Symbols:  2,
		Duration: 2 * time.Second,
		Reports: []ingestion.SymbolReport{
			{Symbol: "AAPL", Inserted: 3, Published: 3},
			{Symbol: "MSFT", Partial: true},
		},
	})
	w = f.get(t, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status StatusResponse
	decode(t, w, &status)
	assert.Equal(t, 1, status.Cycles)
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, "c-1", status.LastCycle.CycleID)
	assert.Equal(t, 3, status.LastCycle.Inserted)
	assert.Equal(t, []string{"MSFT"}, status.LastCycle.Partial)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentiment_pipeline")
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1704067200000", jan1, false},
		{"2024-01-01", jan1, false},
		{"2024-01-01T00:00:00Z", jan1, false},
		{"2024-01-01T02:00:00+02:00", jan1, false},
		{"jan 1", 0, true},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestVerifyBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := jan1 + 90_000
	_, err := f.events.Upsert(ctx, &domain.CanonicalEvent{
		EventID:        "e1",
		Symbol:         "AAPL",
		SentimentScore: 0.4,
		Confidence:     0.9,
		Sources:        []domain.Provider{domain.ProviderPrimary},
		Timestamp:      ts,
	})
	require.NoError(t, err)

	// Event stored, bucket never written.
	w := f.get(t, "/api/verify/AAPL?resolution=1h&from=2024-01-01&to=2024-01-02")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Consistent bool                `json:"consistent"`
		Report     verification.Report `json:"report"`
	}
	decode(t, w, &resp)
	assert.False(t, resp.Consistent)
	require.Len(t, resp.Report.Results, 1)
	assert.True(t, resp.Report.Results[0].Missing)

	key := domain.BucketKey{Symbol: "AAPL", Resolution: domain.Resolution1h, BucketStart: domain.Resolution1h.BucketStart(ts)}
	_, err = f.buckets.AddSample(ctx, key, "e1", 0.4)
	require.NoError(t, err)

	w = f.get(t, "/api/verify/AAPL?resolution=1h&from=2024-01-01&to=2024-01-02")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var healed struct {
		Consistent bool                `json:"consistent"`
		Report     verification.Report `json:"report"`
	}
	decode(t, w, &healed)
	assert.True(t, healed.Consistent)
	assert.Equal(t, 1, healed.Report.MatchedBuckets)

	w = f.get(t, "/api/verify/AAPL?resolution=2m")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport(t *testing.T) {
	f := newFixture(t)
	f.telemetry.Record("AAPL", dedup.Stats{TotalRaw: 4, Collisions: 2, CollisionRate: 0.5}, jan1)

	w := f.get(t, "/api/report")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report reporting.Report
	decode(t, w, &report)
	assert.Equal(t, "healthy", report.Health)
	require.Len(t, report.Symbols, 1)
	assert.Equal(t, 0.5, report.Symbols[0].PooledRate)
	assert.Len(t, report.Breakers, 2)

	w = f.get(t, "/api/report?format=markdown")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "| AAPL | 1 | 4 | 2 | 50.00% | 50.00% |")

	w = f.get(t, "/api/report?format=csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AAPL,1,4,2,0.500000,0.500000,")

	w = f.get(t, "/api/report?format=pdf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
