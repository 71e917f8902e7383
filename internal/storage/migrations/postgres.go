package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"

	"sentiment-pipeline/internal/storage/postgres"
)

const createVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// PostgresFiles lists the embedded migration files in apply order.
func PostgresFiles() ([]string, error) {
	return sqlFiles(PostgresFS, "postgres")
}

// RunPostgresMigrations applies every embedded file not yet recorded in
// schema_migrations, each in its own transaction together with its version
// row. Returns the versions applied by this call.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	if _, err := pool.Exec(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := PostgresFiles()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		ran, err := applyPostgres(ctx, pool, file, string(data))
		if err != nil {
			return applied, err
		}
		if ran {
			applied = append(applied, file)
		}
	}

	return applied, nil
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, version, sql string) (bool, error) {
	ran := false
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`,
			version,
		)
		if err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		ran = true
		return nil
	})
	return ran, err
}
