package app

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/config"
	"github.com/drfirst/go-intake/internal/infrastructure/lock"
	"github.com/drfirst/go-intake/internal/infrastructure/objectstore"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/pkg/circuitbreaker"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "development")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("warn", "production")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud", "production")
	assert.Error(t, err)
}

func TestOpenMemory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreMemory, BodyMapWidth: 100}
	d, err := Open(context.Background(), cfg, metrics.New(nil), zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	assert.NotNil(t, d.Memory)
	assert.Nil(t, d.Pool)
	assert.IsType(t, &lock.Local{}, d.Locker)
	assert.NoError(t, d.Ping(context.Background()))
	assert.NotNil(t, d.Merger())

	objects, err := d.Objects()
	require.NoError(t, err)
	assert.IsType(t, &objectstore.MemoryStore{}, objects)
}

func TestBreakersReportState(t *testing.T) {
	d := &Deps{Config: &config.Config{}, Logger: zap.NewNop(), Metrics: metrics.New(nil)}
	cb, err := d.Breakers("attachments").Get("attachments")
	require.NoError(t, err)
	ctx := context.Background()

	// validation failures are the caller's fault and never trip the breaker
	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(ctx, func() (interface{}, error) {
			return nil, apperrors.Invalid("file", apperrors.CodeInvalidValue, "bad file")
		})
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.GetState())

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(ctx, func() (interface{}, error) { return nil, errors.New("s3 unavailable") })
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState())
	var gauge dto.Metric
	require.NoError(t, d.Metrics.CircuitBreakerState.WithLabelValues("attachments").Write(&gauge))
	assert.Equal(t, circuitbreaker.StateOpen.Gauge(), gauge.GetGauge().GetValue())
}
