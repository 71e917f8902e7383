// Package cache keeps the last successfully fetched OHLC response per symbol
// so it can be served, marked stale, when no provider can answer.
package cache

import (
	"context"
	"errors"

	"sentiment-pipeline/internal/domain"
)

// ErrMiss is returned when no entry exists for a symbol.
var ErrMiss = errors.New("cache miss")

// OHLCCache stores the last-known OHLC response per symbol.
type OHLCCache interface {
	// Get returns the last stored response for symbol, or ErrMiss.
	Get(ctx context.Context, symbol string) (*domain.OHLCResponse, error)

	// Set replaces the stored response for resp.Symbol.
	Set(ctx context.Context, resp *domain.OHLCResponse) error
}

func cloneResponse(r *domain.OHLCResponse) *domain.OHLCResponse {
	out := *r
	out.Candles = append([]domain.Candle(nil), r.Candles...)
	return &out
}
