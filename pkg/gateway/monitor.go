package gateway

import (
	"context"
	"time"

	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
	"go.uber.org/zap"
)

// SystemUsage is a host resource snapshot reported next to channel health.
type SystemUsage struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	CPUUsedPercent    float64 `json:"cpu_used_percent,omitempty"`
}

func memoryUsedPercent() (float64, bool) {
	mem, err := memory.Get()
	if err != nil || mem.Total == 0 {
		return 0, false
	}
	return float64(mem.Used) / float64(mem.Total) * 100, true
}

// cpuSampler turns successive cumulative CPU counters into a usage percent.
type cpuSampler struct {
	prev *cpu.Stats
}

func (s *cpuSampler) sample() (float64, bool) {
	cur, err := cpu.Get()
	if err != nil {
		return 0, false
	}
	prev := s.prev
	s.prev = cur
	if prev == nil {
		return 0, false
	}
	total := float64(cur.Total - prev.Total)
	if total == 0 {
		return 0, false
	}
	idle := float64(cur.Idle - prev.Idle)
	return (1 - idle/total) * 100, true
}

// Monitor logs registry health alongside host usage every interval until
// ctx ends. Unhealthy reports are logged as warnings so a subscription leak
// shows up without anyone polling the health route.
func (g *Gateway) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sampler cpuSampler
	sampler.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		health := g.registry.Health()
		fields := []zap.Field{
			zap.Int("active_channels", health.ActiveChannelCount),
			zap.Int("topics", len(g.hub.counts())),
		}
		if pct, ok := memoryUsedPercent(); ok {
			fields = append(fields, zap.Float64("memory_usage_percent", pct))
		}
		if pct, ok := sampler.sample(); ok {
			fields = append(fields, zap.Float64("cpu_usage_percent", pct))
		}

		if !health.IsHealthy {
			fields = append(fields, zap.String("warning", health.Warning))
			g.logger.ComponentWarn(logging.ComponentRealtime, "realtime registry unhealthy", fields...)
			continue
		}
		g.logger.ComponentDebug(logging.ComponentRealtime, "realtime registry status", fields...)
	}
}
