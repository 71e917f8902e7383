package clickhouse

import (
	"context"
	"fmt"
	"time"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
// The candles table is a ReplacingMergeTree keyed by (symbol, date); each
// write carries a version so the latest write wins after merges.
type CandleStore struct {
	conn *Conn
	now  func() time.Time
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertBulk appends candles as a new version of each (symbol, date).
func (s *CandleStore) UpsertBulk(ctx context.Context, candles []domain.Candle) error {
	start := time.Now()
	err := s.upsertBulk(ctx, candles)
	observability.RecordDBQuery("clickhouse", "upsert_candles", time.Since(start).Seconds(), err)
	return err
}

func (s *CandleStore) upsertBulk(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for _, c := range candles {
		if c.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			symbol, date, open, high, low, close, volume, source, version
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	// Nanosecond versions keep successive batches ordered; rows within one
	// batch share a version and are distinct keys after caller dedup.
	version := s.now().UnixNano()
	for _, c := range candles {
		err = batch.Append(
			c.Symbol, c.Date,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			string(c.Source), version,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRange retrieves candles with date in [start, end), ordered by date ASC.
func (s *CandleStore) GetRange(ctx context.Context, symbol string, start, end int64) ([]domain.Candle, error) {
	query := `
		SELECT symbol, date, open, high, low, close, volume, source
		FROM candles FINAL
		WHERE symbol = ? AND date >= ? AND date < ?
		ORDER BY date ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query candles by range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// scanCandles scans multiple rows.
func scanCandles(rows chRows) ([]domain.Candle, error) {
	var candles []domain.Candle

	for rows.Next() {
		var c domain.Candle
		var source string

		err := rows.Scan(
			&c.Symbol, &c.Date,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&source,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		c.Source = domain.Provider(source)
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
