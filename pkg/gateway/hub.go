package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscriber is one websocket client waiting for events on a topic.
type subscriber struct {
	id      string
	topic   string
	send    chan []byte
	dropped atomic.Uint64
}

func newSubscriber(topic string, buffer int) *subscriber {
	return &subscriber{
		id:    uuid.NewString(),
		topic: topic,
		send:  make(chan []byte, buffer),
	}
}

// hub maps topics to their local subscribers.
type hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber
}

func newHub() *hub {
	return &hub{topics: make(map[string]map[string]*subscriber)}
}

func (h *hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[s.topic]
	if !ok {
		subs = make(map[string]*subscriber)
		h.topics[s.topic] = subs
	}
	subs[s.id] = s
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(h.topics, s.topic)
		}
	}
}

// broadcast queues data for every subscriber of topic. Slow subscribers
// whose buffers are full miss the message. It returns the delivered and
// dropped counts.
func (h *hub) broadcast(topic string, data []byte) (delivered, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.topics[topic] {
		select {
		case s.send <- data:
			delivered++
		default:
			s.dropped.Add(1)
			dropped++
		}
	}
	return delivered, dropped
}

// counts returns the number of subscribers per topic.
func (h *hub) counts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.topics))
	for topic, subs := range h.topics {
		out[topic] = len(subs)
	}
	return out
}
