// Package provider defines the uniform adapter interface over external
// sentiment and price providers together with an HTTP implementation.
package provider

import (
	"context"
	"time"

	"sentiment-pipeline/internal/domain"
)

// Adapter is a single external provider.
// Implementations make exactly one attempt per call and never retry.
type Adapter interface {
	// Name returns the provider identity.
	Name() domain.Provider

	// FetchSentiment returns items for symbol published within the trailing window.
	FetchSentiment(ctx context.Context, symbol string, window time.Duration) ([]domain.RawItem, error)

	// FetchOHLC returns daily candles for symbol whose date lies in rng.
	FetchOHLC(ctx context.Context, symbol string, rng domain.TimeRange) ([]domain.Candle, error)
}

// Operation names used in errors, logs and metrics.
const (
	OpSentiment = "fetch_sentiment"
	OpOHLC      = "fetch_ohlc"
)
