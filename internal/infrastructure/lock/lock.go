// Package lock serializes profile merges per patient. Redis (redislock) is used
// across processes; the local locker covers a single process.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotObtained is returned when the lock could not be taken before ctx or the retry budget ran out
var ErrNotObtained = errors.New("lock not obtained")

// Release frees an obtained lock
type Release func(ctx context.Context) error

// Locker obtains named locks
type Locker interface {
	Obtain(ctx context.Context, key string) (Release, error)
}

// PatientKey is the lock name guarding one patient profile
func PatientKey(patientID string) string {
	return "lock:profile:" + patientID
}

// Local is an in-process Locker
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal creates a local locker
func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

var _ Locker = (*Local)(nil)

// Obtain blocks until key is free or ctx ends
func (l *Local) Obtain(ctx context.Context, key string) (Release, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotObtained, ctx.Err())
		case <-wait:
		}
	}
}
