package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/storage"
)

// CanonicalEventStore implements storage.CanonicalEventStore using PostgreSQL.
type CanonicalEventStore struct {
	pool   *Pool
	window time.Duration
}

// EventStoreOption configures a CanonicalEventStore.
type EventStoreOption func(*CanonicalEventStore)

// WithMatchWindow sets how far apart two events sharing a content hash may
// be and still resolve to one row. Default: storage.DefaultMatchWindow.
func WithMatchWindow(d time.Duration) EventStoreOption {
	return func(s *CanonicalEventStore) {
		s.window = d
	}
}

// NewCanonicalEventStore creates a new CanonicalEventStore.
func NewCanonicalEventStore(pool *Pool, opts ...EventStoreOption) *CanonicalEventStore {
	s := &CanonicalEventStore{pool: pool, window: storage.DefaultMatchWindow}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface check.
var _ storage.CanonicalEventStore = (*CanonicalEventStore)(nil)

// Upsert inserts the event or unions its sources into the stored row of the
// same item. Upserts of one symbol are serialized by a transaction-scoped
// advisory lock so the hash lookup and the insert cannot interleave.
func (s *CanonicalEventStore) Upsert(ctx context.Context, e *domain.CanonicalEvent) (bool, error) {
	start := time.Now()
	inserted, err := s.upsert(ctx, e)
	observability.RecordDBQuery("postgres", "upsert_canonical_event", time.Since(start).Seconds(), err)
	return inserted, err
}

func (s *CanonicalEventStore) upsert(ctx context.Context, e *domain.CanonicalEvent) (bool, error) {
	if e == nil || e.EventID == "" || e.Symbol == "" {
		return false, storage.ErrInvalidInput
	}

	var (
		inserted  bool
		eventID   = e.EventID
		timestamp = e.Timestamp
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.Symbol); err != nil {
			return fmt.Errorf("lock symbol: %w", err)
		}

		hashes := e.Hashes()
		matched := false
		if s.window > 0 && len(hashes) > 0 {
			w := s.window.Milliseconds()
			err := tx.QueryRow(ctx, `
				SELECT c.event_id, c.timestamp
				FROM canonical_event_hashes h
				JOIN canonical_events c ON c.event_id = h.event_id
				WHERE h.symbol = $1 AND h.content_hash = ANY($2)
				  AND c.timestamp > $3 AND c.timestamp < $4
				ORDER BY c.timestamp ASC, c.event_id ASC
				LIMIT 1
			`, e.Symbol, hashes, e.Timestamp-w, e.Timestamp+w).Scan(&eventID, &timestamp)
			switch {
			case err == nil:
				matched = true
			case !isNotFoundError(err):
				return fmt.Errorf("match content hash: %w", err)
			}
		}

		if matched {
			if _, err := tx.Exec(ctx, `
				UPDATE canonical_events SET sources = ARRAY(
					SELECT DISTINCT src FROM unnest(sources || $2::text[]) AS src ORDER BY src
				)
				WHERE event_id = $1
			`, eventID, providersToStrings(e.Sources)); err != nil {
				return fmt.Errorf("merge sources: %w", err)
			}
		} else {
			// xmax is zero only for a freshly inserted row version.
			err := tx.QueryRow(ctx, `
				INSERT INTO canonical_events (
					event_id, symbol, sentiment_score, confidence, sources, timestamp, content_hash, title
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (event_id) DO UPDATE SET
					sources = ARRAY(
						SELECT DISTINCT src
						FROM unnest(canonical_events.sources || EXCLUDED.sources) AS src
						ORDER BY src
					)
				RETURNING (xmax = 0) AS inserted, timestamp
			`,
				e.EventID,
				e.Symbol,
				e.SentimentScore,
				e.Confidence,
				providersToStrings(e.Sources),
				e.Timestamp,
				e.ContentHash,
				e.Title,
			).Scan(&inserted, &timestamp)
			if err != nil {
				return err
			}
		}

		if len(hashes) > 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO canonical_event_hashes (symbol, content_hash, event_id)
				SELECT $1, h, $3 FROM unnest($2::text[]) AS h
				ON CONFLICT DO NOTHING
			`, e.Symbol, hashes, eventID); err != nil {
				return fmt.Errorf("index content hashes: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert canonical event: %w", err)
	}

	e.EventID = eventID
	e.Timestamp = timestamp
	return inserted, nil
}

// GetByID retrieves an event by its ID. Returns ErrNotFound if not exists.
func (s *CanonicalEventStore) GetByID(ctx context.Context, eventID string) (*domain.CanonicalEvent, error) {
	query := `
		SELECT event_id, symbol, sentiment_score, confidence, sources, timestamp, content_hash, title
		FROM canonical_events
		WHERE event_id = $1
	`

	e, err := scanCanonicalEvent(s.pool.QueryRow(ctx, query, eventID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get canonical event by id: %w", err)
	}
	return e, nil
}

// GetBySymbol retrieves events for a symbol within [start, end).
func (s *CanonicalEventStore) GetBySymbol(ctx context.Context, symbol string, start, end int64) ([]*domain.CanonicalEvent, error) {
	query := `
		SELECT event_id, symbol, sentiment_score, confidence, sources, timestamp, content_hash, title
		FROM canonical_events
		WHERE symbol = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, event_id ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("get canonical events by symbol: %w", err)
	}
	defer rows.Close()

	var events []*domain.CanonicalEvent
	for rows.Next() {
		e, err := scanCanonicalEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan canonical event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canonical event rows: %w", err)
	}
	return events, nil
}

// GetLatestBySymbol retrieves the most recent event for a symbol.
func (s *CanonicalEventStore) GetLatestBySymbol(ctx context.Context, symbol string) (*domain.CanonicalEvent, error) {
	query := `
		SELECT event_id, symbol, sentiment_score, confidence, sources, timestamp, content_hash, title
		FROM canonical_events
		WHERE symbol = $1
		ORDER BY timestamp DESC, event_id DESC
		LIMIT 1
	`

	e, err := scanCanonicalEvent(s.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest canonical event: %w", err)
	}
	return e, nil
}

// scanCanonicalEvent scans a single row into a CanonicalEvent.
func scanCanonicalEvent(row pgx.Row) (*domain.CanonicalEvent, error) {
	var e domain.CanonicalEvent
	var sources []string

	err := row.Scan(
		&e.EventID,
		&e.Symbol,
		&e.SentimentScore,
		&e.Confidence,
		&sources,
		&e.Timestamp,
		&e.ContentHash,
		&e.Title,
	)
	if err != nil {
		return nil, err
	}

	e.Sources = make([]domain.Provider, len(sources))
	for i, src := range sources {
		e.Sources[i] = domain.Provider(src)
	}
	return &e, nil
}

func providersToStrings(ps []domain.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
