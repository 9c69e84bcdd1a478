package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSerializesHolders(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Obtain(ctx, PatientKey("p1"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, release(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalKeysAreIndependent(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	r1, err := l.Obtain(ctx, PatientKey("p1"))
	require.NoError(t, err)
	r2, err := l.Obtain(ctx, PatientKey("p2"))
	require.NoError(t, err)
	require.NoError(t, r1(ctx))
	require.NoError(t, r2(ctx))
}

func TestLocalObtainHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Obtain(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Obtain(ctx, "k")
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, release(context.Background()))
	require.NoError(t, release(context.Background()), "release is idempotent")

	again, err := l.Obtain(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, again(context.Background()))
}
