package realtime

import (
	"context"
	"sync"

	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"go.uber.org/zap"
)

// Registry shares one transport channel per name between any number of
// holders and tears it down when the last holder releases it.
type Registry struct {
	cfg       Config
	transport Transport
	factory   *Factory
	cleaner   *cleaner
	queue     *opQueue
	metrics   *metrics
	logger    *logging.ColoredLogger

	// The maps below are written only from queue operations. mu exists so
	// Status and Health can read a consistent snapshot without queueing.
	mu       sync.RWMutex
	channels map[string]Channel
	refs     map[string]int
	pending  map[string]struct{}
}

// NewRegistry creates a registry over tr. A nil logger discards output.
func NewRegistry(tr Transport, cfg Config, logger *logging.ColoredLogger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = cfg.withDefaults()
	m := newMetrics()
	cl := newCleaner(tr, cfg.Clock, cfg.CleanupDelay, m.teardownFailures, logger)

	return &Registry{
		cfg:       cfg,
		transport: tr,
		factory:   newFactory(tr, cfg, cl, logger),
		cleaner:   cl,
		queue:     newOpQueue(logger),
		metrics:   m,
		logger:    logger,
		channels:  make(map[string]Channel),
		refs:      make(map[string]int),
		pending:   make(map[string]struct{}),
	}
}

// Acquire returns the shared, ready channel for name, creating it with setup
// when no usable channel exists. setup runs at most once per creation and is
// not called for a channel that is already joined. Every successful Acquire
// must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, name string, setup SetupFunc) (Channel, error) {
	if name == "" {
		return nil, errors.NewValidationError("channel", "name must not be empty", name)
	}
	if setup == nil {
		return nil, errors.NewValidationError("setup", "setup function is required", nil)
	}

	var ch Channel
	err := r.queue.Do(ctx, func(ctx context.Context) error {
		var err error
		ch, err = r.acquire(ctx, name, setup)
		return err
	})
	if err != nil {
		r.metrics.acquireFailed(err)
		return nil, err
	}
	return ch, nil
}

func (r *Registry) acquire(ctx context.Context, name string, setup SetupFunc) (Channel, error) {
	// Reserve first so nothing queued after us can tear down the channel we
	// are about to return.
	r.mu.Lock()
	r.refs[name]++
	existing, ok := r.channels[name]
	r.mu.Unlock()

	if ok {
		state := existing.State()
		if state == StateJoined {
			r.metrics.acquires.WithLabelValues("reused").Inc()
			return existing, nil
		}

		r.logger.ComponentWarn(logging.ComponentRealtime, "recycling stale channel",
			zap.String("channel", name),
			zap.String("state", string(state)))
		r.cleaner.teardown(ctx, name, existing, false)
		r.mu.Lock()
		delete(r.channels, name)
		r.mu.Unlock()
		r.metrics.recycled.Inc()
	}

	r.mu.RLock()
	active := len(r.channels)
	r.mu.RUnlock()
	if active >= r.cfg.MaxChannels {
		r.unreserve(name)
		r.logger.ComponentError(logging.ComponentRealtime, "channel limit reached",
			zap.String("channel", name),
			zap.Int("active", active),
			zap.Int("max", r.cfg.MaxChannels))
		return nil, errors.NewCapacityExceededError("realtime channels", r.cfg.MaxChannels, active)
	}

	ch, err := r.factory.Create(ctx, name, setup)
	if err != nil {
		r.unreserve(name)
		r.logger.ComponentWarn(logging.ComponentRealtime, "channel creation failed",
			zap.String("channel", name),
			zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	r.channels[name] = ch
	refs := r.refs[name]
	active = len(r.channels)
	r.mu.Unlock()

	r.metrics.acquires.WithLabelValues("created").Inc()
	r.logger.ComponentInfo(logging.ComponentRealtime, "channel created",
		zap.String("channel", name),
		zap.Int("refs", refs),
		zap.Int("active", active))
	return ch, nil
}

func (r *Registry) unreserve(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs[name] <= 1 {
		delete(r.refs, name)
		return
	}
	r.refs[name]--
}

// Release drops one reference to name. When the last reference goes the
// channel is unsubscribed and removed from the transport. Release never
// fails: transport errors during teardown are logged and surfaced through
// Health. It waits for the bookkeeping to finish or for ctx to end; the
// release itself always runs.
func (r *Registry) Release(ctx context.Context, name string) {
	if name == "" {
		return
	}
	done := r.queue.Submit(func(ctx context.Context) error {
		r.release(ctx, name)
		return nil
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (r *Registry) release(ctx context.Context, name string) {
	r.mu.Lock()
	count := r.refs[name]
	if count > 0 {
		count--
	}
	if count > 0 {
		r.refs[name] = count
		r.mu.Unlock()
		return
	}
	ch, ok := r.channels[name]
	if !ok {
		delete(r.refs, name)
		r.mu.Unlock()
		return
	}
	r.refs[name] = 0
	r.pending[name] = struct{}{}
	r.mu.Unlock()

	defer r.forget(name)

	if r.cleaner.teardown(ctx, name, ch, true) {
		r.logger.ComponentInfo(logging.ComponentRealtime, "channel removed",
			zap.String("channel", name))
	}
}

// forget drops every trace of name from the registry.
func (r *Registry) forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
	delete(r.refs, name)
	delete(r.pending, name)
}

// Close tears down every registered channel and stops the queue. Operations
// queued before Close still run; later ones fail with errors.ErrClosed.
func (r *Registry) Close(ctx context.Context) error {
	done := r.queue.Submit(func(ctx context.Context) error {
		r.mu.RLock()
		names := make([]string, 0, len(r.channels))
		for name := range r.channels {
			names = append(names, name)
		}
		r.mu.RUnlock()

		for _, name := range names {
			r.mu.Lock()
			ch := r.channels[name]
			r.pending[name] = struct{}{}
			r.mu.Unlock()
			if !r.cleaner.teardown(ctx, name, ch, true) {
				r.metrics.teardownFailures.Inc()
			}
			r.forget(name)
		}
		return nil
	})
	r.queue.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.queue.Stopped():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
