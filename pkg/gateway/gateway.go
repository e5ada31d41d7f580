// Package gateway serves the realtime multiplexer to browser clients: each
// websocket connection subscribes to one topic, and all connections on a
// topic share a single upstream channel.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josecentenodev/crm-aurelia/pkg/cache"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Registry is the part of realtime.Registry the gateway depends on.
type Registry interface {
	Acquire(ctx context.Context, name string, setup realtime.SetupFunc) (realtime.Channel, error)
	Release(ctx context.Context, name string)
	Status() realtime.StatusReport
	Health() realtime.HealthReport
}

// Config tunes the websocket endpoint.
type Config struct {
	AllowedOrigins []string      // Empty accepts any origin
	PingInterval   time.Duration // Keepalive ping period
	WriteTimeout   time.Duration // Per-message write deadline
	SendBuffer     int           // Queued messages per client before dropping
	ReleaseTimeout time.Duration // How long a disconnect waits for its release
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 128
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 10 * time.Second
	}
	return c
}

// Gateway holds the HTTP handlers and the per-topic subscriber hub.
type Gateway struct {
	cfg      Config
	registry Registry
	cache    *cache.QueryCache
	metrics  *prometheus.Registry
	logger   *logging.ColoredLogger

	hub      *hub
	upgrader websocket.Upgrader

	clients   prometheus.Gauge
	delivered *prometheus.CounterVec
}

// New builds a gateway. cache and metrics may be nil; without metrics the
// /metrics route is not mounted.
func New(cfg Config, registry Registry, qc *cache.QueryCache, metrics *prometheus.Registry, logger *logging.ColoredLogger) *Gateway {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		cfg:      cfg,
		registry: registry,
		cache:    qc,
		metrics:  metrics,
		logger:   logger,
		hub:      newHub(),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aurelia_gateway",
			Name:      "ws_clients",
			Help:      "Connected websocket clients.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aurelia_gateway",
			Name:      "messages_total",
			Help:      "Change events fanned out to clients by outcome.",
		}, []string{"result"}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}

	if metrics != nil {
		if err := metrics.Register(g.clients); err != nil {
			logger.ComponentWarn(logging.ComponentGateway, "gateway metric not registered", zap.Error(err))
		}
		if err := metrics.Register(g.delivered); err != nil {
			logger.ComponentWarn(logging.ComponentGateway, "gateway metric not registered", zap.Error(err))
		}
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
