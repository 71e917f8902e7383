package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite reads tracked symbols from the tracked_symbols table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted
// for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; one connection also keeps :memory: alive
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_symbols (
			config_id   TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 1,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (config_id, symbol)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_symbols_symbol ON tracked_symbols(symbol)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert stores or updates a tracked symbol.
func (s *SQLite) Upsert(ctx context.Context, t TrackedSymbol) error {
	t.Symbol = NormalizeSymbol(t.Symbol)
	if t.Symbol == "" || t.ConfigID == "" {
		return ErrInvalidSymbol
	}

	enabled := 0
	if t.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_symbols (config_id, symbol, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (config_id, symbol) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		t.ConfigID, t.Symbol, enabled, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert tracked symbol: %w", err)
	}
	return nil
}

// Remove deletes a tracked symbol. Removing a missing row is not an error.
func (s *SQLite) Remove(ctx context.Context, configID, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tracked_symbols WHERE config_id = ? AND symbol = ?`,
		configID, NormalizeSymbol(symbol),
	)
	if err != nil {
		return fmt.Errorf("remove tracked symbol: %w", err)
	}
	return nil
}

// ListTrackedSymbols returns enabled rows ordered by symbol, config id.
func (s *SQLite) ListTrackedSymbols(ctx context.Context) ([]TrackedSymbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config_id, symbol, enabled
		FROM tracked_symbols
		WHERE enabled = 1
		ORDER BY symbol, config_id`)
	if err != nil {
		return nil, fmt.Errorf("query tracked symbols: %w", err)
	}
	defer rows.Close()

	var out []TrackedSymbol
	for rows.Next() {
		var (
			t       TrackedSymbol
			enabled int
		)
		if err := rows.Scan(&t.ConfigID, &t.Symbol, &enabled); err != nil {
			return nil, fmt.Errorf("scan tracked symbol: %w", err)
		}
		t.Enabled = enabled == 1
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked symbols: %w", err)
	}
	return out, nil
}
