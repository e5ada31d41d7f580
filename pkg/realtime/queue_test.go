package realtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *opQueue {
	t.Helper()
	q := newOpQueue(logging.NewNopLogger())
	t.Cleanup(func() {
		q.Close()
		<-q.Stopped()
	})
	return q
}

func TestQueueRunsInSubmissionOrder(t *testing.T) {
	q := newTestQueue(t)

	var (
		mu    sync.Mutex
		order []int
	)
	var last <-chan error
	for i := 0; i < 50; i++ {
		i := i
		last = q.Submit(func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, <-last)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestQueueNeverRunsTwoOperationsAtOnce(t *testing.T) {
	q := newTestQueue(t)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestQueueIsolatesFailures(t *testing.T) {
	q := newTestQueue(t)
	boom := stderrors.New("boom")

	err := q.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = q.Do(context.Background(), func(context.Context) error { panic("bad op") })
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))
	assert.Equal(t, "realtime queue", errors.ToHTTPError(err, "").Details["operation"])

	ran := false
	err = q.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestQueueSkipsOperationsCancelledBeforeStart(t *testing.T) {
	q := newTestQueue(t)

	gate := make(chan struct{})
	started := make(chan struct{})
	blocker := q.Submit(func(context.Context) error {
		close(started)
		<-gate
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := q.Do(ctx, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	require.NoError(t, <-blocker)
	require.NoError(t, q.Do(context.Background(), func(context.Context) error { return nil }))
	assert.False(t, ran.Load())
}

func TestQueueSubmitRunsWithoutWaiter(t *testing.T) {
	q := newTestQueue(t)

	var ran atomic.Bool
	q.Submit(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, q.Do(context.Background(), func(context.Context) error { return nil }))
	assert.True(t, ran.Load())
}

func TestQueueCloseDrainsAndRejects(t *testing.T) {
	q := newOpQueue(logging.NewNopLogger())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		q.Submit(func(context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		})
	}
	q.Close()

	err := q.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.ErrorIs(t, <-q.Submit(func(context.Context) error { return nil }), errors.ErrClosed)

	select {
	case <-q.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not stop")
	}
	assert.Equal(t, int32(5), ran.Load())
}
