package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-pipeline/internal/breaker"
	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/fallback"
	"sentiment-pipeline/internal/provider"
	"sentiment-pipeline/internal/provider/stub"
	"sentiment-pipeline/internal/storage/memory"
)

type fixture struct {
	primary   *stub.Adapter
	secondary *stub.Adapter
	breakers  *breaker.Set
	dedup     *Deduplicator
	logs      *test.Hook
}

func newFixture(t *testing.T, threshold int) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	cfg := breaker.DefaultConfig()
	cfg.Threshold = threshold

	f := &fixture{
		primary:   stub.NewAdapter(domain.ProviderPrimary),
		secondary: stub.NewAdapter(domain.ProviderSecondary),
		breakers:  breaker.NewSet(cfg, domain.Providers, breaker.WithLogger(logger)),
		logs:      hook,
	}
	f.dedup = New(f.primary, f.secondary, f.breakers, WithLogger(logger))
	return f
}

func TestMerge_IdenticalItemsFromBothProviders(t *testing.T) {
	f := newFixture(t, 5)
	shared := item(domain.ProviderPrimary, baseTS, "Apple beats earnings", "Strong quarter", ptr(0.6), ptr(0.8))
	f.primary.SetItems("AAPL", shared)
	f.secondary.SetItems("AAPL", shared)

	res, err := f.dedup.Merge(context.Background(), "AAPL", time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	require.Len(t, res.Events, 1)
	assert.Equal(t, []domain.Provider{domain.ProviderPrimary, domain.ProviderSecondary}, res.Events[0].Sources)
	assert.Equal(t, 1.0, res.Stats.CollisionRate)
	assert.Equal(t, 1, f.primary.SentimentCalls())
	assert.Equal(t, 1, f.secondary.SentimentCalls())
}

func TestMerge_PartialWhenOneProviderFails(t *testing.T) {
	f := newFixture(t, 5)
	f.primary.SetSentimentError(&provider.ServerError{Op: provider.OpSentiment, Status: 500})
	f.secondary.SetItems("AAPL", item(domain.ProviderSecondary, baseTS, "news", "", ptr(0.1), nil))

	res, err := f.dedup.Merge(context.Background(), "AAPL", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Events, 1)
	assert.Equal(t, []domain.Provider{domain.ProviderSecondary}, res.Events[0].Sources)

	var serr *provider.ServerError
	assert.True(t, errors.As(res.Errors[domain.ProviderPrimary], &serr))
	assert.Equal(t, 1, f.breakers.Get(domain.ProviderPrimary).Snapshot().ConsecutiveFailures)

	var warned bool
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["error_kind"] == provider.ErrorKind(serr) {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestMerge_OpenBreakerSkipsProvider(t *testing.T) {
	f := newFixture(t, 1)
	f.primary.SetSentimentError(&provider.ServerError{Op: provider.OpSentiment, Status: 503})
	f.secondary.SetItems("AAPL", item(domain.ProviderSecondary, baseTS, "news", "", nil, nil))

	_, err := f.dedup.Merge(context.Background(), "AAPL", time.Hour)
	require.NoError(t, err)
	require.Equal(t, breaker.StateOpen, f.breakers.Get(domain.ProviderPrimary).State())

	res, err := f.dedup.Merge(context.Background(), "AAPL", time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Errors[domain.ProviderPrimary], fallback.ErrBreakerOpen)
	assert.Equal(t, 1, f.primary.SentimentCalls())
	assert.Equal(t, 2, f.secondary.SentimentCalls())
}

func TestMerge_NoSources(t *testing.T) {
	f := newFixture(t, 5)
	f.primary.SetSentimentError(&provider.TimeoutError{Op: provider.OpSentiment})
	f.secondary.SetSentimentError(&provider.ConnectionError{Op: provider.OpSentiment, Err: errors.New("refused")})

	res, err := f.dedup.Merge(context.Background(), "AAPL", time.Hour)
	require.ErrorIs(t, err, ErrNoSources)
	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.Len(t, res.Errors, 2)
	assert.Empty(t, res.Events)
}

func TestMerge_EmptyBatchNotRecorded(t *testing.T) {
	f := newFixture(t, 5)

	res, err := f.dedup.Merge(context.Background(), "AAPL", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, 0.0, res.Stats.CollisionRate)
	assert.Empty(t, f.dedup.Telemetry().History())
}

func TestMerge_QueriesProvidersConcurrently(t *testing.T) {
	f := newFixture(t, 5)
	f.primary.SetDelay(200 * time.Millisecond)
	f.secondary.SetDelay(200 * time.Millisecond)

	start := time.Now()
	_, err := f.dedup.Merge(context.Background(), "AAPL", time.Hour)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 380*time.Millisecond)
}

func TestMerge_ConcurrentCyclesProduceOneRecord(t *testing.T) {
	f := newFixture(t, 5)
	shared := item(domain.ProviderPrimary, baseTS, "Apple beats earnings", "Strong quarter", ptr(0.6), nil)
	f.primary.SetItems("AAPL", shared)
	f.secondary.SetItems("AAPL", shared)

	store := memory.NewCanonicalEventStore()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.dedup.Merge(ctx, "AAPL", time.Hour)
			if err != nil {
				return
			}
			for _, e := range res.Events {
				ok, err := store.Upsert(ctx, e)
				if err == nil && ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	events, err := store.GetBySymbol(ctx, "AAPL", 0, baseTS+1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Len(t, events[0].Sources, 2)
}

// A primary-only cycle followed by a dual cycle in which the secondary
// carries the same story two minutes earlier must leave one record.
func TestMerge_LateSecondaryJoinsStoredEvent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	store := memory.NewCanonicalEventStore()

	p := item(domain.ProviderPrimary, baseTS+3*time.Minute.Milliseconds(), "Apple beats earnings", "Strong quarter", ptr(0.6), nil)
	q := p
	q.Provider = domain.ProviderSecondary
	q.PublishedAt = baseTS + time.Minute.Milliseconds()

	f.primary.SetItems("AAPL", p)
	first, err := f.dedup.Merge(ctx, "AAPL", time.Hour)
	require.NoError(t, err)
	require.Len(t, first.Events, 1)
	inserted, err := store.Upsert(ctx, first.Events[0])
	require.NoError(t, err)
	require.True(t, inserted)
	storedID := first.Events[0].EventID

	f.secondary.SetItems("AAPL", q)
	second, err := f.dedup.Merge(ctx, "AAPL", time.Hour)
	require.NoError(t, err)
	require.Len(t, second.Events, 1)
	e := second.Events[0]
	assert.NotEqual(t, storedID, e.EventID, "merge output moves with the earliest item")

	inserted, err = store.Upsert(ctx, e)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, storedID, e.EventID)
	assert.Equal(t, p.PublishedAt, e.Timestamp)

	events, err := store.GetBySymbol(ctx, "AAPL", baseTS, baseTS+time.Hour.Milliseconds())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []domain.Provider{domain.ProviderPrimary, domain.ProviderSecondary}, events[0].Sources)
}

func TestMerge_CallerCancellationIsNotAProviderFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.primary.SetDelay(time.Second)
	f.secondary.SetDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	defer cancel()

	res, err := f.dedup.Merge(ctx, "AAPL", time.Hour)
	require.ErrorIs(t, err, ErrNoSources)
	assert.ErrorIs(t, res.Errors[domain.ProviderPrimary], context.Canceled)

	for _, p := range domain.Providers {
		snap := f.breakers.Get(p).Snapshot()
		assert.Equal(t, breaker.StateClosed, snap.State, p)
		assert.Zero(t, snap.ConsecutiveFailures, p)
	}
}
