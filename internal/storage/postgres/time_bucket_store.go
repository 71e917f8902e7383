package postgres

import (
	"context"
	"fmt"
	"time"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/storage"
)

// TimeBucketStore implements storage.TimeBucketStore using PostgreSQL.
// Idempotency comes from the bucket_events primary key; the aggregate is
// updated with a conditional upsert rather than read-modify-write.
type TimeBucketStore struct {
	pool *Pool
}

// NewTimeBucketStore creates a new TimeBucketStore.
func NewTimeBucketStore(pool *Pool) *TimeBucketStore {
	return &TimeBucketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TimeBucketStore = (*TimeBucketStore)(nil)

// AddSample records eventID in the bucket's processed set and folds score
// into the running mean, in one transaction.
func (s *TimeBucketStore) AddSample(ctx context.Context, key domain.BucketKey, eventID string, score float64) (bool, error) {
	start := time.Now()
	applied, err := s.addSample(ctx, key, eventID, score)
	observability.RecordDBQuery("postgres", "add_bucket_sample", time.Since(start).Seconds(), err)
	return applied, err
}

func (s *TimeBucketStore) addSample(ctx context.Context, key domain.BucketKey, eventID string, score float64) (bool, error) {
	if key.Symbol == "" || !key.Resolution.IsValid() || eventID == "" {
		return false, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	markQuery := `
		INSERT INTO bucket_events (symbol, resolution, bucket_start, event_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`
	tag, err := tx.Exec(ctx, markQuery, key.Symbol, string(key.Resolution), key.BucketStart, eventID)
	if err != nil {
		return false, fmt.Errorf("mark bucket event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	upsertQuery := `
		INSERT INTO time_buckets (
			symbol, resolution, bucket_start, aggregate_score, sample_count, updated_at
		) VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (symbol, resolution, bucket_start) DO UPDATE SET
			aggregate_score = time_buckets.aggregate_score
				+ (EXCLUDED.aggregate_score - time_buckets.aggregate_score) / (time_buckets.sample_count + 1),
			sample_count = time_buckets.sample_count + 1,
			updated_at = EXCLUDED.updated_at
	`
	_, err = tx.Exec(ctx, upsertQuery,
		key.Symbol,
		string(key.Resolution),
		key.BucketStart,
		score,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert time bucket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// Get retrieves a single bucket. Returns ErrNotFound if not exists.
func (s *TimeBucketStore) Get(ctx context.Context, key domain.BucketKey) (*domain.TimeBucket, error) {
	query := `
		SELECT symbol, resolution, bucket_start, aggregate_score, sample_count, updated_at
		FROM time_buckets
		WHERE symbol = $1 AND resolution = $2 AND bucket_start = $3
	`

	var b domain.TimeBucket
	var res string
	err := s.pool.QueryRow(ctx, query, key.Symbol, string(key.Resolution), key.BucketStart).Scan(
		&b.Symbol,
		&res,
		&b.BucketStart,
		&b.AggregateScore,
		&b.SampleCount,
		&b.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get time bucket: %w", err)
	}
	b.Resolution = domain.Resolution(res)
	return &b, nil
}

// GetRange retrieves buckets with bucket_start in [start, end).
func (s *TimeBucketStore) GetRange(ctx context.Context, symbol string, r domain.Resolution, start, end int64) ([]*domain.TimeBucket, error) {
	query := `
		SELECT symbol, resolution, bucket_start, aggregate_score, sample_count, updated_at
		FROM time_buckets
		WHERE symbol = $1 AND resolution = $2 AND bucket_start >= $3 AND bucket_start < $4
		ORDER BY bucket_start ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, string(r), start, end)
	if err != nil {
		return nil, fmt.Errorf("get time buckets by range: %w", err)
	}
	defer rows.Close()

	var buckets []*domain.TimeBucket
	for rows.Next() {
		var b domain.TimeBucket
		var res string
		if err := rows.Scan(&b.Symbol, &res, &b.BucketStart, &b.AggregateScore, &b.SampleCount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan time bucket row: %w", err)
		}
		b.Resolution = domain.Resolution(res)
		buckets = append(buckets, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time bucket rows: %w", err)
	}
	return buckets, nil
}
