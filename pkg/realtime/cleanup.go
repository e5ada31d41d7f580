package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// maxTeardownFailures bounds how many channel names keep a failure record.
// The oldest record is dropped to make room.
const maxTeardownFailures = 256

// TeardownFailure records transport errors seen while tearing a channel down.
// The registry forgets the channel regardless; these are kept so a leak on
// the transport side stays visible through Health.
type TeardownFailure struct {
	Count     int       `json:"count"`
	LastError string    `json:"last_error"`
	At        time.Time `json:"at"`
}

// cleaner unsubscribes and removes channels from the transport. Every step
// is best-effort: errors are logged and recorded, never returned. A clean
// teardown of a name clears its earlier record.
type cleaner struct {
	transport Transport
	clock     clock.Clock
	delay     time.Duration
	failed    prometheus.Counter
	logger    *logging.ColoredLogger

	mu       sync.Mutex
	failures map[string]TeardownFailure
}

func newCleaner(tr Transport, clk clock.Clock, delay time.Duration, failed prometheus.Counter, logger *logging.ColoredLogger) *cleaner {
	return &cleaner{
		transport: tr,
		clock:     clk,
		delay:     delay,
		failed:    failed,
		logger:    logger,
		failures:  make(map[string]TeardownFailure),
	}
}

// teardown unsubscribes ch, optionally waits the settle delay, then removes
// it from the transport. It reports whether every step succeeded.
func (c *cleaner) teardown(ctx context.Context, name string, ch Channel, settle bool) bool {
	clean := true

	if err := ch.Unsubscribe(ctx); err != nil {
		clean = false
		c.record(name, "unsubscribe", err)
	}

	if settle && c.delay > 0 {
		select {
		case <-c.clock.After(c.delay):
		case <-ctx.Done():
		}
	}

	if err := c.transport.RemoveChannel(ctx, ch); err != nil {
		clean = false
		c.record(name, "remove", err)
	}

	if clean {
		c.mu.Lock()
		delete(c.failures, name)
		c.mu.Unlock()
	} else {
		c.failed.Inc()
	}
	return clean
}

func (c *cleaner) record(name, step string, err error) {
	c.logger.ComponentWarn(logging.ComponentRealtime, "channel teardown step failed",
		zap.String("channel", name),
		zap.String("step", step),
		zap.Error(err))

	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.failures[name]
	if !ok && len(c.failures) >= maxTeardownFailures {
		c.evictOldestLocked()
	}
	f.Count++
	f.LastError = step + ": " + err.Error()
	f.At = c.clock.Now()
	c.failures[name] = f
}

func (c *cleaner) evictOldestLocked() {
	var oldest string
	var at time.Time
	for name, f := range c.failures {
		if oldest == "" || f.At.Before(at) {
			oldest, at = name, f.At
		}
	}
	delete(c.failures, oldest)
}

func (c *cleaner) snapshot() map[string]TeardownFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]TeardownFailure, len(c.failures))
	for k, v := range c.failures {
		out[k] = v
	}
	return out
}
