// Package main applies storage schemas and manages tracked symbols.
//
// Usage:
//
//	migrate -config config.yaml                      # postgres + clickhouse schemas
//	migrate -config config.yaml -track AAPL -config-id dash-1
//	migrate -config config.yaml -untrack AAPL -config-id dash-1
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/config"
	"sentiment-pipeline/internal/configstore"
	"sentiment-pipeline/internal/logging"
	"sentiment-pipeline/internal/storage/migrations"
	pgstore "sentiment-pipeline/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	track := flag.String("track", "", "Symbol to add to the SQLite config store")
	untrack := flag.String("untrack", "", "Symbol to remove from the SQLite config store")
	configID := flag.String("config-id", "", "Dashboard configuration id for -track/-untrack")
	disabled := flag.Bool("disabled", false, "Store the tracked symbol as disabled")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *track != "" || *untrack != "" {
		if err := editTracked(ctx, cfg.ConfigStore, *configID, *track, *untrack, !*disabled, logger); err != nil {
			logger.WithError(err).Fatal("update tracked symbols")
		}
		return
	}

	if err := migrate(ctx, cfg.Storage, logger); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}
	logger.Info("migrations complete")
}

func migrate(ctx context.Context, cfg config.StorageConfig, logger logrus.FieldLogger) error {
	ran := false

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return err
		}
		logger.WithField("applied", applied).Info("postgres schema up to date")
		ran = true
	}

	if cfg.ClickhouseDSN != "" {
		conn, applied, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return err
		}
		_ = conn.Close()
		logger.WithField("applied", applied).Info("clickhouse schema up to date")
		ran = true
	}

	if !ran {
		logger.Warn("no postgres_dsn or clickhouse_dsn configured; nothing to migrate")
	}
	return nil
}

func editTracked(ctx context.Context, cfg config.ConfigStoreConfig, configID, track, untrack string, enabled bool, logger logrus.FieldLogger) error {
	if cfg.Backend != "sqlite" {
		return fmt.Errorf("configstore.backend is %q; tracked symbols are editable only with sqlite", cfg.Backend)
	}
	if configID == "" {
		return fmt.Errorf("-config-id is required")
	}

	db, err := configstore.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if track != "" {
		if err := db.Upsert(ctx, configstore.TrackedSymbol{ConfigID: configID, Symbol: track, Enabled: enabled}); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"config_id": configID, "symbol": configstore.NormalizeSymbol(track), "enabled": enabled}).Info("symbol tracked")
	}
	if untrack != "" {
		if err := db.Remove(ctx, configID, untrack); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"config_id": configID, "symbol": configstore.NormalizeSymbol(untrack)}).Info("symbol untracked")
	}
	return nil
}
