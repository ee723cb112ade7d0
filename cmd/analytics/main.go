package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/clickhouse"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/config"
	grpcserver "github.com/spbu-ds-practicum-2025/retail-ledger/internal/grpc"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/logging"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/messaging"
)

const healthServiceName = "ledger.v1.Analytics"

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.WithFields(logrus.Fields{
		"clickhouse": cfg.ClickHouse.Host + "/" + cfg.ClickHouse.Database,
		"exchange":   cfg.RabbitMQ.Exchange,
		"queue":      cfg.RabbitMQ.Queue,
		"grpc_port":  cfg.GRPCPort,
	}).Info("starting analytics projector")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("analytics projector stopped with error")
	}
	logger.Info("analytics projector stopped gracefully")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize ClickHouse client
	client, err := clickhouse.NewClient(ctx, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to initialize ClickHouse client: %w", err)
	}
	defer client.Close()
	if err := client.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("successfully connected to ClickHouse")

	repo := clickhouse.NewTransactionRepository(client)

	consumer, err := messaging.NewRabbitMQConsumer(cfg.RabbitMQ, repo, logger)
	if err != nil {
		return fmt.Errorf("failed to create RabbitMQ consumer: %w", err)
	}
	defer consumer.Close()

	healthServer := health.NewServer()
	grpcServer := grpcserver.NewGRPCServer(logger, healthServer)
	reporter := grpcserver.NewHealthReporter(healthServer, healthServiceName, map[string]grpcserver.Check{
		"clickhouse": client.Ready,
	}, 5*time.Second, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil {
			return fmt.Errorf("RabbitMQ consumer error: %w", err)
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

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}
