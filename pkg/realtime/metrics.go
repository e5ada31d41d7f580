package realtime

import (
	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "aurelia_realtime"

type metrics struct {
	acquires         *prometheus.CounterVec
	recycled         prometheus.Counter
	teardownFailures prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "acquires_total",
			Help:      "Channel acquires by outcome.",
		}, []string{"result"}),
		recycled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stale_channels_recycled_total",
			Help:      "Registered channels found in a non-joined state and replaced.",
		}),
		teardownFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "teardown_failures_total",
			Help:      "Channel teardowns (release, stale recycle or failed create) in which at least one transport call failed.",
		}),
	}
}

func (m *metrics) acquireFailed(err error) {
	result := "failed"
	switch {
	case errors.IsCapacityExceeded(err):
		result = "capacity_exceeded"
	case errors.IsTimeout(err):
		result = "timeout"
	case errors.IsSubscriptionFailed(err):
		result = "subscription_failed"
	}
	m.acquires.WithLabelValues(result).Inc()
}

// registryCollector exposes the registry's counters and a gauge snapshot
// taken at scrape time.
type registryCollector struct {
	r *Registry

	active  *prometheus.Desc
	refs    *prometheus.Desc
	pending *prometheus.Desc
	healthy *prometheus.Desc
}

// Collector returns a prometheus.Collector for this registry.
func (r *Registry) Collector() prometheus.Collector {
	return &registryCollector{
		r: r,
		active: prometheus.NewDesc(metricsNamespace+"_active_channels",
			"Channels currently registered.", nil, nil),
		refs: prometheus.NewDesc(metricsNamespace+"_channel_refs",
			"Reference count per channel.", []string{"channel"}, nil),
		pending: prometheus.NewDesc(metricsNamespace+"_pending_cleanups",
			"Channels currently being torn down.", nil, nil),
		healthy: prometheus.NewDesc(metricsNamespace+"_healthy",
			"1 when the active channel count is below the warning threshold.", nil, nil),
	}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.refs
	ch <- c.pending
	ch <- c.healthy
	c.r.metrics.acquires.Describe(ch)
	c.r.metrics.recycled.Describe(ch)
	c.r.metrics.teardownFailures.Describe(ch)
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	health := c.r.Health()
	status := c.r.Status()

	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(health.ActiveChannelCount))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(len(status.PendingCleanupNames)))
	healthy := 0.0
	if health.IsHealthy {
		healthy = 1
	}
	ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, healthy)
	for name, n := range health.PerChannelRefCounts {
		ch <- prometheus.MustNewConstMetric(c.refs, prometheus.GaugeValue, float64(n), name)
	}

	c.r.metrics.acquires.Collect(ch)
	c.r.metrics.recycled.Collect(ch)
	c.r.metrics.teardownFailures.Collect(ch)
}
