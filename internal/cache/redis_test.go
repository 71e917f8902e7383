package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"sentiment-pipeline/internal/domain"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedis_GetSet(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	c := NewRedis(client, time.Hour)

	_, err := c.Get(ctx, "AAPL")
	require.True(t, errors.Is(err, ErrMiss))

	resp := &domain.OHLCResponse{
		Symbol:    "AAPL",
		Source:    domain.ProviderSecondary,
		FetchedAt: 1000,
		ExpiresAt: 2000,
		Candles: []domain.Candle{
			{Symbol: "AAPL", Date: 86_400_000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, Source: domain.ProviderSecondary},
		},
	}
	require.NoError(t, c.Set(ctx, resp))

	got, err := c.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, resp, got)

	ttl, err := client.TTL(ctx, "sentiment:ohlc:last:AAPL").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}
