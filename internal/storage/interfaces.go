package storage

import (
	"context"
	"time"

	"sentiment-pipeline/internal/domain"
)

// DefaultMatchWindow bounds the timestamp distance at which a stored event
// with a shared content hash is treated as the same item.
const DefaultMatchWindow = 5 * time.Minute

// CanonicalEventStore provides access to canonical_events storage.
// One record exists per event_id.
type CanonicalEventStore interface {
	// Upsert inserts the event, or merges its Sources into the existing record
	// for the same item: the record with the same event_id, else the earliest
	// record of the symbol that shares one of e.Hashes() and whose timestamp
	// lies within the store's match window of e.Timestamp. No other field of
	// an existing record changes. On merge, e.EventID and e.Timestamp are
	// rewritten to the stored record's values.
	// Returns true when the event was newly inserted.
	Upsert(ctx context.Context, e *domain.CanonicalEvent) (bool, error)

	// GetByID retrieves an event by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, eventID string) (*domain.CanonicalEvent, error)

	// GetBySymbol retrieves events for a symbol within [start, end),
	// ordered by timestamp ASC, event_id ASC.
	GetBySymbol(ctx context.Context, symbol string, start, end int64) ([]*domain.CanonicalEvent, error)

	// GetLatestBySymbol retrieves the most recent event for a symbol.
	// Returns ErrNotFound if the symbol has no events.
	GetLatestBySymbol(ctx context.Context, symbol string) (*domain.CanonicalEvent, error)
}

// TimeBucketStore provides access to time_buckets storage.
type TimeBucketStore interface {
	// AddSample folds score into the bucket identified by key, creating it if
	// needed. The update is all-or-nothing and idempotent per (key, eventID):
	// returns false without changing the bucket if eventID was already applied.
	AddSample(ctx context.Context, key domain.BucketKey, eventID string, score float64) (bool, error)

	// Get retrieves a single bucket. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key domain.BucketKey) (*domain.TimeBucket, error)

	// GetRange retrieves buckets for (symbol, resolution) with bucket_start in
	// [start, end), ordered by bucket_start ASC.
	GetRange(ctx context.Context, symbol string, res domain.Resolution, start, end int64) ([]*domain.TimeBucket, error)
}

// CandleStore provides access to daily OHLC candles.
type CandleStore interface {
	// UpsertBulk stores candles, replacing any existing candle for the same
	// (symbol, date).
	UpsertBulk(ctx context.Context, candles []domain.Candle) error

	// GetRange retrieves candles for a symbol with date in [start, end),
	// ordered by date ASC.
	GetRange(ctx context.Context, symbol string, start, end int64) ([]domain.Candle, error)
}
