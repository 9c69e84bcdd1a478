package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/infrastructure/redpanda"
	"github.com/drfirst/go-intake/pkg/idempotency"
)

// LocalPublisher stands in for the broker when everything runs in one process:
// merge triggers go straight to the merger, other records are only logged.
type LocalPublisher struct {
	merger *ProfileMerger
	logger *zap.Logger
}

// NewLocalPublisher creates a publisher feeding merger
func NewLocalPublisher(merger *ProfileMerger, logger *zap.Logger) *LocalPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalPublisher{merger: merger, logger: logger}
}

// Publish delivers one outbox record. Terminal merge errors are logged and
// swallowed, so the outbox does not retry what can never succeed.
func (p *LocalPublisher) Publish(ctx context.Context, rec redpanda.Record) error {
	if rec.Topic != redpanda.TopicResponseCompleted {
		p.logger.Debug("event published",
			zap.String("topic", rec.Topic),
			zap.String("event_type", rec.Headers[redpanda.HeaderEventType]))
		return nil
	}

	ev := &response.Event{}
	if err := json.Unmarshal(rec.Value, ev); err != nil {
		p.logger.Error("undecodable merge trigger", zap.String("key", rec.Key), zap.Error(err))
		return nil
	}
	if err := p.merger.HandleEvent(ctx, ev); err != nil {
		if apperrors.IsTerminal(err) || errors.Is(err, idempotency.ErrPreviouslyFailed) {
			p.logger.Error("merge trigger dropped",
				zap.String("aggregate_id", ev.AggregateID),
				zap.String("event_type", string(ev.EventType)),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("merge %s: %w", ev.AggregateID, err)
	}
	return nil
}

// ConsumerHandler adapts the merger to the Redpanda consumer. Records that can
// never merge are skipped; anything else is retried in place.
func (m *ProfileMerger) ConsumerHandler() redpanda.MessageHandler {
	return func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		ev, err := redpanda.DecodeEvent(msg)
		if err != nil {
			return err
		}
		if err := m.HandleEvent(ctx, ev); err != nil {
			if apperrors.IsTerminal(err) || errors.Is(err, idempotency.ErrPreviouslyFailed) {
				return fmt.Errorf("%w: %v", redpanda.ErrSkip, err)
			}
			return err
		}
		return nil
	}
}
