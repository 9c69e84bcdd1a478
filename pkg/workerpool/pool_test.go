package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(ctx context.Context, task *Task) *Result {
	return &Result{Success: true, Data: task.Payload}
}

func startPool(t *testing.T, cfg Config, fn WorkerFunc) *Pool {
	t.Helper()
	p, err := New(cfg, fn, nil)
	require.NoError(t, err)
	p.Start()
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestNewRequiresFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestDoPreservesOrder(t *testing.T) {
	p := startPool(t, Config{Workers: 3, QueueSize: 4}, func(ctx context.Context, task *Task) *Result {
		// later tasks finish first
		time.Sleep(time.Duration(10-task.Payload.(int)) * time.Millisecond)
		return echo(ctx, task)
	})

	tasks := make([]*Task, 10)
	for i := range tasks {
		tasks[i] = &Task{ID: fmt.Sprintf("t%d", i), Payload: i}
	}

	results := p.Do(context.Background(), tasks)
	require.Len(t, results, 10)
	for i, r := range results {
		require.True(t, r.Success)
		assert.Equal(t, fmt.Sprintf("t%d", i), r.TaskID)
		assert.Equal(t, i, r.Data)
	}
	assert.Equal(t, int64(10), p.Stats().TasksCompleted)
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls int32
	p := startPool(t, Config{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &Result{Error: errors.New("flaky")}
		}
		return &Result{Success: true}
	})

	r, err := p.SubmitWait(context.Background(), &Task{ID: "x"})
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, int64(2), p.Stats().TasksRetried)
}

func TestRetryableStopsEarly(t *testing.T) {
	permanent := errors.New("bad input")
	var calls int32
	p := startPool(t, Config{
		Workers:    1,
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	}, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt32(&calls, 1)
		return &Result{Error: permanent}
	})

	r, err := p.SubmitWait(context.Background(), &Task{ID: "x"})
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Error, permanent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExhaustedRetriesWrapError(t *testing.T) {
	cause := errors.New("s3 down")
	p := startPool(t, Config{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond}, func(ctx context.Context, task *Task) *Result {
		return &Result{Error: cause}
	})

	r, err := p.SubmitWait(context.Background(), &Task{ID: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Error, cause)
	assert.Equal(t, 2, r.Attempts)
}

func TestPanicBecomesFailure(t *testing.T) {
	p := startPool(t, Config{Workers: 1}, func(ctx context.Context, task *Task) *Result {
		panic("boom")
	})

	r, err := p.SubmitWait(context.Background(), &Task{ID: "x"})
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error.Error(), "panicked")
}

func TestSubmitDeliversOnResults(t *testing.T) {
	p := startPool(t, Config{Workers: 2}, echo)
	require.NoError(t, p.Submit(&Task{ID: "async", Payload: "v"}))

	select {
	case r := <-p.Results():
		assert.Equal(t, "async", r.TaskID)
		assert.Equal(t, "v", r.Data)
	case <-time.After(time.Second):
		t.Fatal("no result")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p, err := New(Config{Workers: 1}, echo, nil)
	require.NoError(t, err)
	p.Start()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	assert.ErrorIs(t, p.Submit(&Task{ID: "late"}), ErrShuttingDown)
	results := p.Do(context.Background(), []*Task{{ID: "late"}})
	assert.ErrorIs(t, results[0].Error, ErrShuttingDown)
}

func TestDoHonoursContext(t *testing.T) {
	block := make(chan struct{})
	p := startPool(t, Config{Workers: 1}, func(ctx context.Context, task *Task) *Result {
		<-block
		return &Result{Success: true}
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	results := p.Do(ctx, []*Task{{ID: "a"}, {ID: "b"}})
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Error(t, r.Error)
	}
}
