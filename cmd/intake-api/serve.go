package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/api/handlers"
	"github.com/drfirst/go-intake/internal/api/middleware"
	"github.com/drfirst/go-intake/internal/app"
	"github.com/drfirst/go-intake/internal/infrastructure/postgres"
	"github.com/drfirst/go-intake/internal/intake"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/internal/observability/tracing"
	"github.com/drfirst/go-intake/pkg/circuitbreaker"
)

const serviceName = "intake-api"

func runServer(ctx context.Context, migrateFirst bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
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
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	m := metrics.New(nil)
	deps, err := app.Open(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if migrateFirst && deps.Pool != nil {
		if err := postgres.Migrate(deps.Pool, logger); err != nil {
			return err
		}
	}

	objects, err := deps.Objects()
	if err != nil {
		return err
	}
	breakers := deps.Breakers("attachments")
	uploader, err := intake.NewAttachmentUploader(objects, breakers, intake.UploaderConfig{
		Bucket:  "attachments",
		Workers: cfg.UploadWorkers,
		Retries: cfg.UploadRetries,
	}, m, logger)
	if err != nil {
		return err
	}
	defer uploader.Close()

	merger := deps.Merger()
	submitter := intake.NewSubmitter(deps.Templates, deps.Responses, uploader, merger,
		intake.SubmitterConfig{InlineMerge: cfg.InlineMerge}, m, logger)

	// with STORE=memory there is no relay process; drain the outbox here
	if deps.Memory != nil {
		go deps.Memory.Outbox.Run(ctx, 200*time.Millisecond, intake.NewLocalPublisher(merger, logger))
	}

	apiKeys, err := cfg.APIKeyMap()
	if err != nil {
		return err
	}
	api := handlers.New(
		intake.NewTemplateService(deps.Templates, deps.Responses, m, logger),
		submitter,
		deps.Profiles,
		handlers.Options{Checks: map[string]handlers.Checker{
			"store":        deps.Ping,
			"object_store": breakersClosed(breakers),
		}},
		logger,
	)
	router := api.Router(handlers.RouterConfig{
		ServiceName: serviceName,
		Metrics:     m,
		Auth: middleware.AuthConfig{
			APIKeys:      apiKeys,
			AdminClients: cfg.AdminClientList(),
			JWTSecret:    []byte(cfg.JWTSecret),
		},
	})
	if len(apiKeys) == 0 && cfg.JWTSecret == "" {
		logger.Warn("no API_KEYS or JWT_SECRET configured; every request runs as the dev admin")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting intake API", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// breakersClosed fails readiness while any upload breaker is open
func breakersClosed(m *circuitbreaker.Manager) handlers.Checker {
	return func(context.Context) error {
		for _, h := range m.GetHealthStatus() {
			if !h.Healthy {
				return fmt.Errorf("circuit breaker %s is open", h.Name)
			}
		}
		return nil
	}
}
