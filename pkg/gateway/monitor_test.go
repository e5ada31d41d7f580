package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixedHealthRegistry struct {
	Registry
	health realtime.HealthReport
}

func (r fixedHealthRegistry) Health() realtime.HealthReport { return r.health }

func TestMonitorWarnsWhenUnhealthy(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := &logging.ColoredLogger{Logger: zap.New(core)}

	reg := fixedHealthRegistry{health: realtime.HealthReport{
		ActiveChannelCount: 12,
		Warning:            "high channel count: 12 active channels",
	}}
	g := New(Config{}, reg, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Monitor(ctx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("[REALTIME] realtime registry unhealthy").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	entry := logs.FilterMessage("[REALTIME] realtime registry unhealthy").All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, int64(12), entry.ContextMap()["active_channels"])
}

func TestMonitorDisabledWithZeroInterval(t *testing.T) {
	g := New(Config{}, nil, nil, nil, nil)
	g.Monitor(context.Background(), 0)
}
