package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"MarginIndexer/internal/config"
	"MarginIndexer/internal/core"
	"MarginIndexer/internal/ingestion"
	"MarginIndexer/internal/observability"
	"MarginIndexer/internal/persistence"
	"MarginIndexer/internal/projection"
	"MarginIndexer/internal/query"
	"MarginIndexer/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	rawEventChanSize      = 4096
	projectionBatchSize   = 256
	projectionFlushPeriod = 200 * time.Millisecond
	healthSyncInterval    = 5 * time.Second
)

func main() {
	logger := observability.NewLogger("marginindexer")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("marginindexer stopped")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info().
		Str("network", cfg.Network.Name).
		Str("margin", cfg.Network.MarginAddress.Hex()).
		Str("expiry", cfg.Network.ExpiryAddress.Hex()).
		Bool("track_supply", cfg.TrackSupply).
		Str("store", cfg.StoreBackend).
		Msg("MarginIndexer starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Store and history sink ---
	store, sink, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	healthChecker.AddCheck("store", store.Ping)

	// --- Indexer ---
	indexer := core.NewIndexer(core.Config{
		MarginAddress:       cfg.Network.MarginAddress,
		ExpiryAddress:       cfg.Network.ExpiryAddress,
		TrackSupply:         cfg.TrackSupply,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
	}, store, metrics, logger.With().Str("component", "core").Logger())

	if err := indexer.Restore(ctx, cfg.IdempotencyLRUCapacity); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	projectionChan := make(chan core.Output, cfg.ProjectionChanSize)
	publishChan := make(chan core.Output, cfg.PublishChanSize)
	indexer.AttachOutput("projection", projectionChan)
	indexer.AttachOutput("publish", publishChan)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, rawEventChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, logger.With().Str("component", "nats").Logger())
	if err := subscriber.Subscribe(ctx, ingestion.OrderedSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer subscriber.Stop()

	// --- Query + servers ---
	queryService := query.NewQueryService(store, sink, indexer, cfg.Network.MarginAddress)
	deps := &server.Deps{
		Query:    queryService,
		Health:   healthChecker,
		Metrics:  metrics,
		Gatherer: registry,
		Logger:   logger.With().Str("component", "http").Logger(),
	}
	if cfg.AdminInject {
		deps.Ingest = ingestion.NewManualIngestService(rawEventChan)
		logger.Warn().Msg("manual event injection enabled")
	}
	handler, err := server.NewHandler(deps)
	if err != nil {
		return fmt.Errorf("http routes: %w", err)
	}
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, handler, deps.Logger)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, healthChecker, logger.With().Str("component", "grpc").Logger())

	// --- Start goroutines ---
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	errChan := make(chan error, 8)

	// 1. Consumer loop: the single goroutine that owns the indexer
	loop := ingestion.NewConsumerLoop(rawEventChan, indexer, logger.With().Str("component", "consumer").Logger())
	loop.OnFatal = func(err error) {
		healthChecker.SetReady(false)
	}
	go func() {
		if err := loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("consumer loop: %w", err)
		}
	}()

	// 2. Projection worker
	worker := projection.NewWorker(sink, projectionChan, projectionBatchSize, projectionFlushPeriod,
		metrics, logger.With().Str("component", "projection").Logger())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	// 3. Outbound publisher
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, logger.With().Str("component", "publisher").Logger())
	go func() {
		if err := publisher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("publisher: %w", err)
		}
	}()

	// 4. gRPC server + health sync
	go func() {
		if err := grpcServer.Start(runCtx); err != nil {
			errChan <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go grpcServer.SyncHealth(runCtx, healthSyncInterval)

	// 5. HTTP routes
	go func() {
		if err := httpServer.Start(runCtx); err != nil {
			errChan <- err
		}
	}()

	// 6. Prometheus metrics server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.HTTPAddr {
		go func() {
			if err := serveMetrics(runCtx, cfg.MetricsAddr, registry, logger); err != nil {
				errChan <- err
			}
		}()
	}

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", indexer.Sequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("MarginIndexer ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake first so nothing new reaches the indexer, then let the
	// projection worker make its final flush.
	healthChecker.SetReady(false)
	subscriber.Stop()
	stop()

	select {
	case <-workerDone:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Msg("projection worker did not finish before shutdown timeout")
	}

	logger.Info().Int64("sequence", indexer.Sequence()).Msg("MarginIndexer shutdown complete")
	return runErr
}

// openStore builds the store backend. The postgres backend runs pending
// migrations before returning.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (persistence.Store, projection.Sink, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn().Msg("memory store backend: state is lost on restart")
		return persistence.NewMemoryStore(), projection.NewMemorySink(), nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger.With().Str("component", "migrator").Logger())
	applied, err := migrator.Up(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	return persistence.NewPostgresStore(db), projection.NewPostgresSink(db), nil
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
