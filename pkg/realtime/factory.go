package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"go.uber.org/zap"
)

// Factory creates channels and blocks until they are ready to hand out.
type Factory struct {
	transport Transport
	cfg       Config
	cleaner   *cleaner
	logger    *logging.ColoredLogger
}

func newFactory(tr Transport, cfg Config, cl *cleaner, logger *logging.ColoredLogger) *Factory {
	return &Factory{transport: tr, cfg: cfg, cleaner: cl, logger: logger}
}

// Create obtains a fresh channel for name, runs setup on it and waits for it
// to become ready. On any failure the channel is torn down before returning,
// so nothing half-created survives.
func (f *Factory) Create(ctx context.Context, name string, setup SetupFunc) (Channel, error) {
	fresh := f.transport.Channel(name)

	ch, err := setup(fresh)
	if err != nil {
		f.discard(name, fresh, nil)
		return nil, errors.NewSubscriptionError(name, string(fresh.State()), err)
	}
	if ch == nil {
		f.discard(name, fresh, nil)
		return nil, errors.NewSubscriptionError(name, "", fmt.Errorf("setup returned no channel"))
	}

	started := f.cfg.Clock.Now()
	if err := f.waitReady(ctx, name, ch); err != nil {
		f.discard(name, ch, fresh)
		return nil, err
	}

	f.logger.ComponentInfo(logging.ComponentRealtime, "channel ready",
		zap.String("channel", name),
		zap.Duration("join_time", f.cfg.Clock.Since(started)))
	return ch, nil
}

func (f *Factory) waitReady(ctx context.Context, name string, ch Channel) error {
	clk := f.cfg.Clock
	timeout := clk.Timer(f.cfg.JoinTimeout)
	defer timeout.Stop()
	poll := clk.Ticker(f.cfg.PollInterval)
	defer poll.Stop()

	var changes <-chan struct{}
	if n, ok := ch.(StateNotifier); ok {
		changes = n.StateChanges()
	}

	var joiningSince time.Time
	for {
		var joiningFor time.Duration
		if ch.State() == StateJoining {
			if joiningSince.IsZero() {
				joiningSince = clk.Now()
			}
			joiningFor = clk.Since(joiningSince)
		} else {
			joiningSince = time.Time{}
		}

		switch readinessOf(f.transport, ch, joiningFor, f.cfg.StuckThreshold) {
		case ready:
			if ch.State() != StateJoined {
				f.logger.ComponentWarn(logging.ComponentRealtime, "treating stuck joining channel as ready",
					zap.String("channel", name),
					zap.Duration("joining_for", joiningFor))
			}
			return nil
		case failed:
			return errors.NewSubscriptionError(name, string(ch.State()), nil)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for channel %q: %w", name, ctx.Err())
		case <-timeout.C:
			if readinessOf(f.transport, ch, clk.Since(joiningSince), f.cfg.StuckThreshold) == ready {
				return nil
			}
			f.logger.ComponentWarn(logging.ComponentRealtime, "channel join timed out",
				zap.String("channel", name),
				zap.String("state", string(ch.State())),
				zap.Duration("timeout", f.cfg.JoinTimeout))
			return errors.NewChannelJoinTimeout(name, f.cfg.JoinTimeout.String())
		case <-poll.C:
		case <-changes:
		}
	}
}

// discard tears down channels that never made it into the registry. extra is
// the original handle when setup swapped it for another one.
func (f *Factory) discard(name string, ch, extra Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.JoinTimeout)
	defer cancel()
	f.cleaner.teardown(ctx, name, ch, false)
	if extra != nil && extra != ch {
		f.cleaner.teardown(ctx, name, extra, false)
	}
}
