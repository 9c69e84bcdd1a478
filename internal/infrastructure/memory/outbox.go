// Package memory provides in-process repositories and an outbox for tests and
// single-node deployments (STORE=memory). They honour the same contracts as the
// Postgres implementations: optimistic versions, NotFound errors and events
// queued atomically with the write.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/infrastructure/redpanda"
)

// Publisher receives relayed records
type Publisher interface {
	Publish(ctx context.Context, rec redpanda.Record) error
}

type pendingRecord struct {
	rec     redpanda.Record
	retries int
}

// Outbox queues records written by the memory repositories
type Outbox struct {
	mu         sync.Mutex
	pending    []*pendingRecord
	dead       []redpanda.Record
	maxRetries int
	logger     *zap.Logger
}

// NewOutbox creates an empty outbox
func NewOutbox(logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{maxRetries: 5, logger: logger}
}

// append converts events to records; callers hold their own store lock so the
// record write and the queueing happen together
func (o *Outbox) append(events []*response.Event) error {
	recs := make([]*pendingRecord, 0, len(events))
	for _, ev := range events {
		rec, err := redpanda.EventRecord(ev)
		if err != nil {
			return err
		}
		recs = append(recs, &pendingRecord{rec: rec})
	}
	o.mu.Lock()
	o.pending = append(o.pending, recs...)
	o.mu.Unlock()
	return nil
}

// Pending returns a copy of the unpublished records
func (o *Outbox) Pending() []redpanda.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]redpanda.Record, len(o.pending))
	for i, p := range o.pending {
		out[i] = p.rec
	}
	return out
}

// DeadLetters returns records that ran out of retries
func (o *Outbox) DeadLetters() []redpanda.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]redpanda.Record(nil), o.dead...)
}

// RunOnce publishes every pending record in order. Failed records stay queued
// until they exceed the retry budget.
func (o *Outbox) RunOnce(ctx context.Context, pub Publisher) int {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	var keep []*pendingRecord
	published := 0
	for _, p := range batch {
		if ctx.Err() != nil {
			keep = append(keep, p)
			continue
		}
		if err := pub.Publish(ctx, p.rec); err != nil {
			p.retries++
			o.logger.Warn("outbox publish failed",
				zap.String("topic", p.rec.Topic),
				zap.Int("retries", p.retries),
				zap.Error(err))
			if p.retries >= o.maxRetries {
				o.mu.Lock()
				o.dead = append(o.dead, p.rec)
				o.mu.Unlock()
				continue
			}
			keep = append(keep, p)
			continue
		}
		published++
	}

	o.mu.Lock()
	o.pending = append(keep, o.pending...)
	o.mu.Unlock()
	return published
}

// Run relays on every tick until ctx ends
func (o *Outbox) Run(ctx context.Context, interval time.Duration, pub Publisher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunOnce(ctx, pub)
		}
	}
}
