package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/cache"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/clickhouse"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/config"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/db"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
	grpcserver "github.com/spbu-ds-practicum-2025/retail-ledger/internal/grpc"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/handlers"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/kvstore"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/lock"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/logging"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/messaging"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/ratelimit"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/rates"
)

const (
	healthServiceName = "ledger.v1.Ledger"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("ledger server stopped with error")
	}
	logger.Info("ledger server stopped gracefully")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(registry)

	// Shared key-value store backs the lock, the rate cache and the limiter
	store, err := openStore(ctx, cfg.KV)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.WithField("backend", cfg.KV.Backend).Info("key-value store initialized")

	// Initialize database connection pool
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool.Pool); err != nil {
		return err
	}
	logger.Info("database connection pool initialized")

	checks := map[string]grpcserver.Check{
		"postgres": pool.Ready,
		"kv":       store.Ping,
	}

	repo := db.NewTransactionRepository(pool.Pool)
	txManager := db.NewTransactionManager(pool.Pool, logger)

	locker := lock.NewManager(store, logger, met,
		lock.WithTTL(cfg.Lock.TTL),
		lock.WithRetryDelay(cfg.Lock.RetryDelay),
		lock.WithMaxAttempts(cfg.Lock.MaxAttempts),
	)

	converter := rates.NewConverter(
		rates.NewProvider(cfg.Rates.URL, cfg.Rates.Timeout, logger, met),
		cache.New(store, logger, met),
		cfg.Rates.TTL,
		cfg.Rates.ReferenceCurrency,
	)

	var publisher domain.EventPublisher
	if cfg.RabbitMQ.Enabled {
		rmq, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQ, logger)
		if err != nil {
			return fmt.Errorf("failed to create RabbitMQ publisher: %w", err)
		}
		defer rmq.Close()
		publisher = rmq
		logger.WithField("exchange", cfg.RabbitMQ.Exchange).Info("event publishing enabled")
	}

	var reportSource domain.ReportSource = repo
	if cfg.ReportSource == "clickhouse" {
		chClient, err := clickhouse.NewClient(ctx, cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer chClient.Close()
		if err := chClient.EnsureSchema(ctx); err != nil {
			return err
		}
		reportSource = clickhouse.NewTransactionRepository(chClient)
		checks["clickhouse"] = chClient.Ready
	}
	logger.WithField("source", cfg.ReportSource).Info("report source selected")

	transactionService := domain.NewTransactionService(locker, converter, repo, txManager, publisher, logger, met)
	reportService := domain.NewReportService(reportSource, logger)
	limiter := ratelimit.New(store, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger, met)

	readyChecks := make(map[string]handlers.ReadinessCheck, len(checks))
	for name, check := range checks {
		readyChecks[name] = handlers.ReadinessCheck(check)
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: handlers.NewRouter(handlers.NewHandler(transactionService, reportService, logger), handlers.RouterConfig{
			Limiter:  limiter,
			Checks:   readyChecks,
			Gatherer: registry,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpcserver.NewGRPCServer(logger, healthServer)
	reporter := grpcserver.NewHealthReporter(healthServer, healthServiceName, checks, 5*time.Second, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen on port %s: %w", cfg.GRPCPort, err)
		}
		logger.WithField("port", cfg.GRPCPort).Info("gRPC server starting")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return reporter.Run(gctx)
	})

	// Wait for a signal or a failed server, then stop both servers
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Publishes still in flight must finish before the deferred publisher close
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if drainErr := transactionService.WaitForEvents(drainCtx); drainErr != nil {
		logger.WithError(drainErr).Warn("gave up waiting for in-flight events")
	}

	return err
}

// openStore connects the configured key-value backend
func openStore(ctx context.Context, cfg config.KVConfig) (kvstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		return kvstore.NewMemory(), nil
	case "redis", "":
		store, err := kvstore.DialRedis(ctx, cfg.Addr, cfg.Password, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown KV_BACKEND %q", cfg.Backend)
	}
}
