package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-pipeline/internal/domain"
)

func TestCandleStore_UpsertAndGetRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(conn)

	day := int64(86_400_000)
	candles := []domain.Candle{
		{Symbol: "AAPL", Date: 2 * day, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1000, Source: domain.ProviderPrimary},
		{Symbol: "AAPL", Date: day, Open: 9, High: 10, Low: 8, Close: 10, Volume: 900, Source: domain.ProviderPrimary},
		{Symbol: "MSFT", Date: day, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Source: domain.ProviderSecondary},
	}
	require.NoError(t, store.UpsertBulk(ctx, candles))

	got, err := store.GetRange(ctx, "AAPL", 0, 10*day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day, got[0].Date)
	assert.Equal(t, 2*day, got[1].Date)
	assert.Equal(t, domain.ProviderPrimary, got[0].Source)
	assert.InDelta(t, 11.0, got[1].Close, 0.0001)
}

func TestCandleStore_LaterWriteReplaces(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(conn)

	tick := time.Unix(1700000000, 0)
	store.now = func() time.Time { return tick }

	day := int64(86_400_000)
	require.NoError(t, store.UpsertBulk(ctx, []domain.Candle{
		{Symbol: "AAPL", Date: day, Open: 1, High: 2, Low: 1, Close: 2, Volume: 5, Source: domain.ProviderPrimary},
	}))

	tick = tick.Add(time.Second)
	require.NoError(t, store.UpsertBulk(ctx, []domain.Candle{
		{Symbol: "AAPL", Date: day, Open: 1, High: 3, Low: 1, Close: 3, Volume: 6, Source: domain.ProviderSecondary},
	}))

	got, err := store.GetRange(ctx, "AAPL", 0, 2*day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 3.0, got[0].Close, 0.0001)
	assert.Equal(t, domain.ProviderSecondary, got[0].Source)
}
