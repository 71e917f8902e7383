// Package main runs the sentiment ingestion service:
// - Ingestion (scheduled): dual-provider merge, fan-out, OHLC refresh
// - Push stream: SSE and WebSocket with resume
// - HTTP API: OHLC, breakers, telemetry, health, metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sentiment-pipeline/internal/alert"
	"sentiment-pipeline/internal/api"
	"sentiment-pipeline/internal/breaker"
	"sentiment-pipeline/internal/cache"
	"sentiment-pipeline/internal/config"
	"sentiment-pipeline/internal/configstore"
	"sentiment-pipeline/internal/dedup"
	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/fallback"
	"sentiment-pipeline/internal/fanout"
	"sentiment-pipeline/internal/ingestion"
	"sentiment-pipeline/internal/logging"
	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/provider"
	"sentiment-pipeline/internal/storage"
	chstore "sentiment-pipeline/internal/storage/clickhouse"
	"sentiment-pipeline/internal/storage/memory"
	pgstore "sentiment-pipeline/internal/storage/postgres"
	"sentiment-pipeline/internal/stream"
	"sentiment-pipeline/internal/verification"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional; SENTIMENT_* env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cleanup, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build service")
	}
	defer cleanup()

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = a.run(ctx)
	done <- err

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("service error")
	}
	logger.Info("shutdown complete")
}

// app holds the wired service components.
type app struct {
	logger *logrus.Logger
	runner *ingestion.Runner
	hub    *stream.Hub
	server *http.Server
}

// run starts the hub heartbeat, the ingestion runner and the HTTP server and
// stops all of them when ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return a.runner.Run(gctx)
	})

	g.Go(func() error {
		a.logger.WithField("addr", a.server.Addr).Info("starting HTTP server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Close the hub first so open streams end before Shutdown waits on them.
		a.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type stores struct {
	events  storage.CanonicalEventStore
	buckets storage.TimeBucketStore
	candles storage.CandleStore
}

// buildApp wires every component from cfg. The returned cleanup releases
// connections in reverse order of creation.
func buildApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, nil, err
	}

	st, closeStores, err := createStores(ctx, cfg.Storage, cfg.Dedup.CollisionWindow, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStores)

	symbols, closeSymbols, err := createSymbolSource(ctx, cfg.ConfigStore)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeSymbols)

	ohlcCache, closeCache, err := createCache(ctx, cfg.Cache)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeCache)

	alerts := createAlertSink(cfg.Alert, logger)
	closers = append(closers, func() {
		if err := alerts.Close(); err != nil {
			logger.WithError(err).Warn("close alert sink")
		}
	})

	primary := newAdapter(domain.ProviderPrimary, cfg.Providers.Primary, logger)
	secondary := newAdapter(domain.ProviderSecondary, cfg.Providers.Secondary, logger)

	breakers := breaker.NewSet(breaker.Config{
		Threshold:       cfg.Breaker.Threshold,
		Window:          cfg.Breaker.Window,
		ResetTimeout:    cfg.Breaker.ResetTimeout,
		MaxResetTimeout: cfg.Breaker.MaxResetTimeout,
	}, domain.Providers,
		breaker.WithLogger(logger),
		breaker.WithListener(func(t breaker.Transition) {
			observability.RecordBreakerTransition(string(t.Provider), t.From.String(), t.To.String(), int(t.To))
		}),
	)

	telemetry := dedup.NewTelemetry(dedup.AnomalyConfig{
		HighWater:  cfg.Telemetry.HighWater,
		LowWater:   cfg.Telemetry.LowWater,
		HighCycles: cfg.Telemetry.HighCycles,
		LowCycles:  cfg.Telemetry.LowCycles,
	}, cfg.Telemetry.HistorySize)

	deduplicator := dedup.New(primary, secondary, breakers,
		dedup.WithConfig(dedup.Config{
			CollisionWindow:     cfg.Dedup.CollisionWindow,
			SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		}),
		dedup.WithTelemetry(telemetry),
		dedup.WithLogger(logger),
	)

	engine := fallback.NewEngine(primary, secondary, breakers,
		fallback.WithCache(ohlcCache, cfg.Cache.TTL),
		fallback.WithLogger(logger),
	)

	hub := stream.NewHub(stream.HubConfig{
		BufferSize:        cfg.Stream.BufferSize,
		ClientBuffer:      cfg.Stream.ClientBuffer,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
	}, stream.WithHubLogger(logger))

	manager := ingestion.NewManager(ingestion.ManagerOptions{
		Merger:          deduplicator,
		Events:          st.events,
		Writer:          fanout.NewWriter(st.buckets, fanout.WithLogger(logger)),
		Publisher:       hub,
		Alerts:          alerts,
		OHLC:            engine,
		Candles:         st.candles,
		SentimentWindow: cfg.Ingestion.SentimentWindow,
		OHLCRange:       cfg.Ingestion.OHLCRange,
		WriteRetries:    writeRetries(cfg.Ingestion.WriteRetries),
		CommitGrace:     cfg.Ingestion.CommitGrace,
		Logger:          logger,
	})

	cycles := api.NewCycleTracker(time.Now())
	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Ingester:    manager,
		Symbols:     symbols,
		Interval:    cfg.Ingestion.Interval,
		CycleBudget: cfg.Ingestion.CycleBudget,
		Concurrency: cfg.Ingestion.Concurrency,
		Logger:      logger,
		OnCycle:     cycles.Observe,
	})

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.Config{
		Handler: api.NewHandler(api.HandlerOptions{
			OHLC:          engine,
			Breakers:      breakers,
			Telemetry:     telemetry,
			Subscriptions: hub,
			Events:        st.events,
			Buckets:       st.buckets,
			Verifier:      verification.NewVerifier(st.events, st.buckets),
			Cycles:        cycles,
			DefaultRange:  cfg.Ingestion.OHLCRange,
			Logger:        logger,
		}),
		Stream: stream.NewServer(hub, stream.DefaultServerConfig(), logger),
		Logger: logger,
	})

	return &app{
		logger: logger,
		runner: runner,
		hub:    hub,
		server: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, cleanup, nil
}

// writeRetries maps the config value, where 0 means no retries, onto the
// manager option, where 0 means the default.
func writeRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func newAdapter(name domain.Provider, cfg config.ProviderConfig, logger logrus.FieldLogger) *provider.HTTPAdapter {
	opts := []provider.Option{
		provider.WithTimeout(cfg.Timeout),
		provider.WithLogger(logger),
	}
	if cfg.APIKey != "" {
		opts = append(opts, provider.WithAPIKey(cfg.APIKey))
	}
	if cfg.RatePerSecond > 0 {
		opts = append(opts, provider.WithRateLimiter(cfg.RatePerSecond, cfg.Burst))
	}
	return provider.NewHTTPAdapter(name, cfg.BaseURL, opts...)
}

// createStores opens the configured persistence backends. Candles go to
// ClickHouse when a DSN is set and stay in memory otherwise.
func createStores(ctx context.Context, cfg config.StorageConfig, matchWindow time.Duration, logger logrus.FieldLogger) (*stores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st := &stores{}
	switch cfg.Backend {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		st.events = pgstore.NewCanonicalEventStore(pool, pgstore.WithMatchWindow(matchWindow))
		st.buckets = pgstore.NewTimeBucketStore(pool)
	default:
		logger.Warn("using in-memory event and bucket storage")
		st.events = memory.NewCanonicalEventStore(memory.WithMatchWindow(matchWindow))
		st.buckets = memory.NewTimeBucketStore()
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		st.candles = chstore.NewCandleStore(conn)
	} else {
		st.candles = memory.NewCandleStore()
	}

	return st, cleanup, nil
}

func createSymbolSource(ctx context.Context, cfg config.ConfigStoreConfig) (configstore.SymbolSource, func(), error) {
	if cfg.Backend == "sqlite" {
		db, err := configstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open config store: %w", err)
		}
		return db, func() { _ = db.Close() }, nil
	}
	return configstore.NewStatic(cfg.Symbols), func() {}, nil
}

func createCache(ctx context.Context, cfg config.CacheConfig) (cache.OHLCCache, func(), error) {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return cache.NewRedis(client, cfg.Retention), func() { _ = client.Close() }, nil
	}
	return cache.NewMemory(), func() {}, nil
}

func createAlertSink(cfg config.AlertConfig, logger logrus.FieldLogger) alert.Sink {
	if cfg.Backend == "kafka" {
		cfgK := alert.DefaultKafkaConfig()
		if cfg.QueueSize > 0 {
			cfgK.QueueSize = cfg.QueueSize
		}
		return alert.NewKafkaSink(alert.NewKafkaWriter(cfg.Brokers, cfg.Topic), cfgK, logger)
	}
	return alert.NewLogSink(logger)
}
