package gateway

import (
	"net/http"
)

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if pct, ok := memoryUsedPercent(); ok {
		resp["system"] = SystemUsage{MemoryUsedPercent: pct}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) realtimeStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.registry.Status())
}

// realtimeHealthHandler answers 503 while the registry reports itself
// unhealthy so load balancers and alerting can key off the status code.
func (g *Gateway) realtimeHealthHandler(w http.ResponseWriter, r *http.Request) {
	report := g.registry.Health()
	code := http.StatusOK
	if !report.IsHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (g *Gateway) topicsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": g.hub.counts()})
}
