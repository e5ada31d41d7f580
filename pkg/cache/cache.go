// Package cache holds query results keyed by realtime topic so that a change
// notification on a topic can drop everything fetched for it.
package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"go.uber.org/zap"
)

// DefaultSize is used when no size is configured.
const DefaultSize = 1024

type entryKey struct {
	topic string
	key   string
}

// Stats counts cache activity since creation.
type Stats struct {
	Entries       int    `json:"entries"`
	Topics        int    `json:"topics"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Invalidations uint64 `json:"invalidations"`
}

// QueryCache is a size-bounded LRU of query results grouped by topic.
type QueryCache struct {
	logger *logging.ColoredLogger

	mu     sync.Mutex
	lru    *simplelru.LRU[entryKey, []byte]
	topics map[string]map[string]struct{}
	// invalidating suppresses eviction accounting while Invalidate removes keys.
	invalidating bool
	stats        Stats
}

// New creates a cache holding at most size entries.
func New(size int, logger *logging.ColoredLogger) (*QueryCache, error) {
	if size <= 0 {
		return nil, errors.NewValidationError("cache.size", "must be positive", size)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &QueryCache{
		logger: logger,
		topics: make(map[string]map[string]struct{}),
	}
	l, err := simplelru.NewLRU[entryKey, []byte](size, c.onEvict)
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	c.lru = l
	return c, nil
}

// onEvict runs with c.mu held.
func (c *QueryCache) onEvict(k entryKey, _ []byte) {
	if keys, ok := c.topics[k.topic]; ok {
		delete(keys, k.key)
		if len(keys) == 0 {
			delete(c.topics, k.topic)
		}
	}
	if !c.invalidating {
		c.stats.Evictions++
	}
}

// Put stores value under key within topic, replacing any previous value.
func (c *QueryCache) Put(topic, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(entryKey{topic: topic, key: key}, value)
	keys, ok := c.topics[topic]
	if !ok {
		keys = make(map[string]struct{})
		c.topics[topic] = keys
	}
	keys[key] = struct{}{}
}

// Get returns the value stored under key within topic.
func (c *QueryCache) Get(topic, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(entryKey{topic: topic, key: key})
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return v, ok
}

// Invalidate drops every entry of topic and reports how many were dropped.
func (c *QueryCache) Invalidate(topic string) int {
	c.mu.Lock()
	keys := c.topics[topic]
	delete(c.topics, topic)
	c.invalidating = true
	for key := range keys {
		c.lru.Remove(entryKey{topic: topic, key: key})
	}
	c.invalidating = false
	n := len(keys)
	if n > 0 {
		c.stats.Invalidations++
	}
	c.mu.Unlock()

	if n > 0 {
		c.logger.ComponentDebug(logging.ComponentCache, "topic invalidated",
			zap.String("topic", topic),
			zap.Int("entries", n))
	}
	return n
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	s.Topics = len(c.topics)
	return s
}
