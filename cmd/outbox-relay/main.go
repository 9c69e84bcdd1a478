// Package main provides the outbox relay service entry point.
// It publishes response and intake events written by the API to Redpanda.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/app"
	"github.com/drfirst/go-intake/internal/config"
	"github.com/drfirst/go-intake/internal/infrastructure/postgres"
	"github.com/drfirst/go-intake/internal/infrastructure/redpanda"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/internal/observability/tracing"
)

const serviceName = "outbox-relay"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return errors.New("outbox relay needs STORE=postgres; the memory store relays in-process")
	}
	logger, err := app.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	}, logger)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)
	deps, err := app.Open(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.Brokers()), logger, redpanda.WithSentHook(m.MessageSent))
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Brokers()))

	outbox := postgres.NewOutbox(deps.Pool, producer, postgres.DefaultOutboxConfig(), m, logger)
	outbox.Start()
	defer outbox.Stop()

	if err := deps.ServeOps(ctx, serviceName, func(ctx context.Context) error {
		if err := deps.Ping(ctx); err != nil {
			return err
		}
		return redpanda.HealthCheck(ctx, cfg.Brokers())
	}); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}
