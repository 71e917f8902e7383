package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sentiment-pipeline/internal/domain"
)

// DefaultRetention bounds how long a last-known response is kept in Redis.
const DefaultRetention = 7 * 24 * time.Hour

// Redis is a Redis-backed OHLCCache shared across ingestion instances.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedis creates a Redis cache. A non-positive retention uses DefaultRetention.
func NewRedis(client redis.UniversalClient, retention time.Duration) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{
		client:    client,
		prefix:    "sentiment:ohlc:last:",
		retention: retention,
	}
}

// Get returns the stored response for symbol.
func (r *Redis) Get(ctx context.Context, symbol string) (*domain.OHLCResponse, error) {
	data, err := r.client.Get(ctx, r.prefix+symbol).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get ohlc from redis: %w", err)
	}

	var resp domain.OHLCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal ohlc: %w", err)
	}
	return &resp, nil
}

// Set stores resp under its symbol.
func (r *Redis) Set(ctx context.Context, resp *domain.OHLCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal ohlc: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+resp.Symbol, data, r.retention).Err(); err != nil {
		return fmt.Errorf("set ohlc in redis: %w", err)
	}
	return nil
}

var _ OHLCCache = (*Redis)(nil)
