package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the http.Handler with all routes and middleware configured
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(g.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(g.corsMiddleware)

	r.Get("/health", g.healthHandler)

	r.Route("/v1/realtime", func(r chi.Router) {
		r.Get("/status", g.realtimeStatusHandler)
		r.Get("/health", g.realtimeHealthHandler)
		r.Get("/topics", g.topicsHandler)
		r.Get("/ws", g.realtimeWebsocketHandler)
	})

	r.Route("/v1/cache", func(r chi.Router) {
		r.Get("/stats", g.cacheStatsHandler)
		r.Get("/{topic}/{key}", g.cacheGetHandler)
		r.Put("/{topic}/{key}", g.cachePutHandler)
		r.Delete("/{topic}", g.cacheInvalidateHandler)
	})

	if g.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.metrics, promhttp.HandlerOpts{}))
	}
	return r
}
