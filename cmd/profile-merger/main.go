// Package main provides the profile merger entry point.
// It consumes completed responses and intakes and folds them into patient profiles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/app"
	"github.com/drfirst/go-intake/internal/config"
	"github.com/drfirst/go-intake/internal/infrastructure/redpanda"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/internal/observability/tracing"
)

const (
	serviceName  = "profile-merger"
	lagInterval  = 30 * time.Second
	lagQueryTime = 10 * time.Second
)

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
		return fmt.Errorf("profile merger needs STORE=%s; the memory store merges in-process", config.StorePostgres)
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

	handle := deps.Merger().ConsumerHandler()
	consumer, err := redpanda.NewConsumer(
		redpanda.DefaultConsumerConfig(cfg.Brokers(), cfg.ConsumerGroup),
		func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
			m.MessageConsumed(msg.Topic)
			return handle(ctx, msg)
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	consumer.Start()
	logger.Info("profile merger started",
		zap.String("group", cfg.ConsumerGroup),
		zap.String("topic", redpanda.TopicResponseCompleted))

	admin, err := redpanda.NewAdmin(cfg.Brokers(), logger)
	if err != nil {
		_ = consumer.Stop()
		return fmt.Errorf("admin client: %w", err)
	}
	defer admin.Close()
	go reportLag(ctx, admin, cfg.ConsumerGroup, m, logger)

	err = deps.ServeOps(ctx, serviceName, func(ctx context.Context) error {
		if err := deps.Ping(ctx); err != nil {
			return err
		}
		return redpanda.HealthCheck(ctx, cfg.Brokers())
	})

	logger.Info("shutting down")
	_ = consumer.Stop()
	stats := consumer.Stats()
	logger.Info("profile merger stopped",
		zap.Int64("merged", stats.MessagesRead),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("errors", stats.ErrorCount))
	return err
}

// reportLag publishes the group's lag until ctx ends
func reportLag(ctx context.Context, admin *redpanda.Admin, group string, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(lagInterval)
	defer ticker.Stop()
	for {
		qctx, cancel := context.WithTimeout(ctx, lagQueryTime)
		lag, err := admin.GetConsumerGroupLag(qctx, group)
		cancel()
		if err != nil {
			logger.Warn("consumer lag unavailable", zap.String("group", group), zap.Error(err))
		} else {
			m.SetConsumerLag(group, lag)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
