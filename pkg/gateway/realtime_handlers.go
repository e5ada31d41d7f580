package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
	"go.uber.org/zap"
)

// Envelope is what websocket clients receive for every change event.
type Envelope struct {
	Topic     string          `json:"topic"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// realtimeWebsocketHandler subscribes the client to ?topic= through the
// shared registry and streams change events until either side hangs up.
func (g *Gateway) realtimeWebsocketHandler(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		g.logger.ComponentWarn(logging.ComponentGateway, "realtime ws: missing topic")
		writeError(w, http.StatusBadRequest, "missing 'topic'")
		return
	}

	// Register before acquiring so no event between join and upgrade is lost.
	sub := newSubscriber(topic, g.cfg.SendBuffer)
	g.hub.add(sub)

	if _, err := g.registry.Acquire(r.Context(), topic, g.setupFor(topic)); err != nil {
		g.hub.remove(sub)
		g.logger.ComponentWarn(logging.ComponentGateway, "realtime ws: acquire failed",
			zap.String("topic", topic),
			zap.Error(err))
		errors.WriteHTTPError(w, err, middleware.GetReqID(r.Context()))
		return
	}
	defer func() {
		g.hub.remove(sub)
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ReleaseTimeout)
		defer cancel()
		g.registry.Release(ctx, topic)
	}()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "realtime ws: upgrade failed",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}
	defer conn.Close()

	g.clients.Inc()
	defer g.clients.Dec()
	g.logger.ComponentInfo(logging.ComponentGateway, "realtime ws: client subscribed",
		zap.String("topic", topic),
		zap.String("client", sub.id))

	// Writer loop
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(g.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case b := <-sub.send:
				_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					_ = conn.Close()
					return
				}
			case <-ticker.C:
				// Ping keepalive
				_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			case <-stop:
				_ = conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(5*time.Second))
				return
			}
		}
	}()

	// Reader loop: clients do not publish, so anything they send is ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(stop)
	<-done

	g.logger.ComponentInfo(logging.ComponentGateway, "realtime ws: client left",
		zap.String("topic", topic),
		zap.String("client", sub.id),
		zap.Uint64("dropped", sub.dropped.Load()))
}

// setupFor wires a new upstream channel to the cache and the local hub.
func (g *Gateway) setupFor(topic string) realtime.SetupFunc {
	return func(ch realtime.Channel) (realtime.Channel, error) {
		ch.On("*", func(ev realtime.Event) { g.onEvent(topic, ev) })
		err := ch.Subscribe(func(status realtime.SubscribeStatus, err error) {
			if err != nil {
				g.logger.ComponentWarn(logging.ComponentGateway, "upstream channel status",
					zap.String("topic", topic),
					zap.String("status", string(status)),
					zap.Error(err))
				return
			}
			g.logger.ComponentDebug(logging.ComponentGateway, "upstream channel status",
				zap.String("topic", topic),
				zap.String("status", string(status)))
		})
		return ch, err
	}
}

func (g *Gateway) onEvent(topic string, ev realtime.Event) {
	if g.cache != nil {
		g.cache.Invalidate(topic)
	}

	data, err := json.Marshal(Envelope{
		Topic:     topic,
		Event:     ev.Type,
		Payload:   ev.Payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "realtime ws: failed to marshal envelope",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}

	delivered, dropped := g.hub.broadcast(topic, data)
	g.delivered.WithLabelValues("delivered").Add(float64(delivered))
	if dropped > 0 {
		g.delivered.WithLabelValues("dropped").Add(float64(dropped))
		g.logger.ComponentWarn(logging.ComponentGateway, "realtime ws: client slow, dropping message",
			zap.String("topic", topic),
			zap.Int("dropped", dropped))
	}
}
