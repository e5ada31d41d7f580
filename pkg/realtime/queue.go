package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"go.uber.org/zap"
)

type opFunc func(ctx context.Context) error

const (
	opPending int32 = iota
	opRunning
	opAbandoned
)

type queuedOp struct {
	ctx      context.Context
	fn       opFunc
	detached bool
	state    atomic.Int32
	done     chan error
}

// opQueue runs submitted operations one at a time, in submission order, on a
// single worker goroutine. It is the only writer of registry state.
type opQueue struct {
	logger *logging.ColoredLogger

	mu      sync.Mutex
	pending []*queuedOp
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

func newOpQueue(logger *logging.ColoredLogger) *opQueue {
	q := &opQueue{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Do runs fn on the worker and returns its error. If ctx ends before fn has
// started, fn is skipped and ctx.Err() is returned. Once started, Do waits
// for fn to return.
func (q *opQueue) Do(ctx context.Context, fn opFunc) error {
	op := &queuedOp{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := q.push(op); err != nil {
		return err
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		if op.state.CompareAndSwap(opPending, opAbandoned) {
			return ctx.Err()
		}
		return <-op.done
	}
}

// Submit enqueues fn so that it always runs, even if nobody waits for it.
// The returned channel receives fn's error.
func (q *opQueue) Submit(fn opFunc) <-chan error {
	op := &queuedOp{ctx: context.Background(), fn: fn, detached: true, done: make(chan error, 1)}
	if err := q.push(op); err != nil {
		op.done <- err
	}
	return op.done
}

// Close stops accepting operations. Already queued operations still run.
func (q *opQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
	q.mu.Unlock()
}

// Stopped is closed once the worker has drained the queue after Close.
func (q *opQueue) Stopped() <-chan struct{} {
	return q.stopped
}

func (q *opQueue) push(op *queuedOp) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.ErrClosed
	}
	q.pending = append(q.pending, op)
	q.signal()
	return nil
}

// signal must be called with q.mu held.
func (q *opQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *opQueue) next() (*queuedOp, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			op := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return op, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		<-q.wake
	}
}

func (q *opQueue) run() {
	defer close(q.stopped)
	for {
		op, ok := q.next()
		if !ok {
			return
		}
		if !op.detached {
			if err := op.ctx.Err(); err != nil {
				if op.state.CompareAndSwap(opPending, opAbandoned) {
					op.done <- err
				}
				continue
			}
			if !op.state.CompareAndSwap(opPending, opRunning) {
				continue
			}
		}
		op.done <- q.execute(op)
	}
}

// execute isolates failures: a panicking operation is reported as an error
// and the worker moves on.
func (q *opQueue) execute(op *queuedOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.ComponentError(logging.ComponentRealtime, "queued operation panicked",
				zap.Any("panic", r))
			ierr := errors.NewInternalError(fmt.Sprintf("operation panicked: %v", r), nil)
			ierr.Operation = "realtime queue"
			err = ierr
		}
	}()
	return op.fn(op.ctx)
}
