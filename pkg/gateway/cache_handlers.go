package gateway

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/josecentenodev/crm-aurelia/pkg/errors"
)

// maxCacheValue bounds PUT bodies.
const maxCacheValue = 1 << 20

// Cache HTTP handlers for the topic-scoped query cache. Entries are dropped
// automatically when a change event arrives on their topic.

func (g *Gateway) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	if g.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	writeJSON(w, http.StatusOK, g.cache.Stats())
}

func (g *Gateway) cacheGetHandler(w http.ResponseWriter, r *http.Request) {
	if g.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	topic, key := chi.URLParam(r, "topic"), chi.URLParam(r, "key")
	v, ok := g.cache.Get(topic, key)
	if !ok {
		errors.WriteHTTPError(w, errors.NewNotFoundError("cache entry", topic+"/"+key), middleware.GetReqID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}

func (g *Gateway) cachePutHandler(w http.ResponseWriter, r *http.Request) {
	if g.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCacheValue+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxCacheValue {
		writeError(w, http.StatusRequestEntityTooLarge, "value too large")
		return
	}
	g.cache.Put(chi.URLParam(r, "topic"), chi.URLParam(r, "key"), body)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) cacheInvalidateHandler(w http.ResponseWriter, r *http.Request) {
	if g.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	n := g.cache.Invalidate(chi.URLParam(r, "topic"))
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
}
