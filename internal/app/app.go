// Package app assembles the stores, locks and services shared by the intake binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/config"
	"github.com/drfirst/go-intake/internal/domain/profile"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
	"github.com/drfirst/go-intake/internal/infrastructure/lock"
	"github.com/drfirst/go-intake/internal/infrastructure/memory"
	"github.com/drfirst/go-intake/internal/infrastructure/objectstore"
	"github.com/drfirst/go-intake/internal/infrastructure/postgres"
	"github.com/drfirst/go-intake/internal/intake"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/pkg/circuitbreaker"
	"github.com/drfirst/go-intake/pkg/idempotency"
)

// NewLogger builds the process logger. Development mode logs in console format.
func NewLogger(level, env string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// Deps is everything a binary needs to run the intake services
type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	Templates template.Repository
	Responses response.Repository
	Profiles  profile.Repository
	Inbox     *idempotency.Inbox
	Locker    lock.Locker

	// Pool is nil with STORE=memory; Memory is nil with STORE=postgres
	Pool   *pgxpool.Pool
	Memory *memory.Store

	closers []func()
}

// Open connects the configured store backend and the patient locker
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*Deps, error) {
	d := &Deps{Config: cfg, Logger: logger, Metrics: m}

	var inboxStore idempotency.Store
	switch cfg.Store {
	case config.StoreMemory:
		d.Memory = memory.NewStore(logger)
		d.Templates, d.Responses, d.Profiles = d.Memory.Templates, d.Memory.Responses, d.Memory.Profiles
		inboxStore = idempotency.NewMemoryStore()
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		d.Pool = pool
		d.closers = append(d.closers, pool.Close)
		d.Templates = postgres.NewTemplateRepository(pool, logger)
		d.Responses = postgres.NewResponseRepository(pool, logger)
		d.Profiles = postgres.NewProfileRepository(pool, logger)
		inboxStore = idempotency.NewPostgresStore(pool)
		logger.Info("connected to database")
	}

	icfg := idempotency.DefaultInboxConfig()
	icfg.IsTerminal = apperrors.IsTerminal
	d.Inbox = idempotency.NewInbox(inboxStore, icfg, logger)
	d.Inbox.StartCleanup()
	d.closers = append(d.closers, d.Inbox.Stop)

	if cfg.RedisAddr == "" {
		d.Locker = lock.NewLocal()
		if cfg.Store == config.StorePostgres {
			logger.Warn("REDIS_ADDR not set; profile merges are only serialized within this process")
		}
		return d, nil
	}
	rl, err := lock.NewRedis(ctx, lock.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.LockTTL,
	}, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Locker = rl
	d.closers = append(d.closers, func() { _ = rl.Close() })
	return d, nil
}

// Merger builds the profile merger over the opened stores
func (d *Deps) Merger() *intake.ProfileMerger {
	return intake.NewProfileMerger(d.Templates, d.Responses, d.Profiles, d.Inbox, d.Locker,
		intake.MergerConfig{DiagramWidth: d.Config.BodyMapWidth}, d.Metrics, d.Logger)
}

// Objects returns S3 when a bucket is configured, otherwise an in-memory store
func (d *Deps) Objects() (objectstore.Store, error) {
	if d.Config.S3Bucket == "" {
		d.Logger.Warn("S3_BUCKET not set; attachments are kept in memory")
		return objectstore.NewMemoryStore(""), nil
	}
	return objectstore.NewS3Store(objectstore.S3Config{
		Bucket:        d.Config.S3Bucket,
		Region:        d.Config.S3Region,
		Endpoint:      d.Config.S3Endpoint,
		PublicBaseURL: d.Config.S3PublicBaseURL,
	}, d.Logger)
}

// Breakers returns a manager whose breakers report their state to Prometheus
func (d *Deps) Breakers(name string) *circuitbreaker.Manager {
	base := circuitbreaker.DefaultConfig(name)
	base.IsSuccessful = func(err error) bool { return err == nil || apperrors.IsTerminal(err) }
	base.OnStateChange = func(name string, _, to circuitbreaker.State) {
		d.Metrics.BreakerState(name, to.Gauge())
	}
	return circuitbreaker.NewManager(base, d.Logger)
}

// Ping checks the store backend
func (d *Deps) Ping(ctx context.Context) error {
	if d.Pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.Pool.Ping(ctx)
}

// Close releases connections in reverse order
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
