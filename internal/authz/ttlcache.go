package authz

import (
	"strings"
	"sync"
	"time"
)

// ttlCache is a bounded cache of resolved decisions, grounded on the
// source's generic app/core/cache.py TTLCache[T]. Entries expire after
// ttl and the cache evicts arbitrarily (oldest-inserted-first, tracked
// via insertion order) once maxEntries is reached.
type ttlCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
	order      []string
}

type cacheEntry struct {
	value   Decision
	expires time.Time
}

func newTTLCache(ttl time.Duration, maxEntries int) *ttlCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &ttlCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

func (c *ttlCache) get(key string, now time.Time) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if now.After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, value Decision, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{value: value, expires: now.Add(c.ttl)}
}

func (c *ttlCache) evictOldest() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

// invalidateTopic drops every cached decision referencing topic,
// called eagerly on update_topic/grant_access/revoke_access/delete_topic
// per SPEC_FULL §4.2.
func (c *ttlCache) invalidateTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if decisionKeyTopic(key) == topic {
			delete(c.entries, key)
		}
	}
}

func decisionKey(userID, topic string, action Action) string {
	return userID + "\x00" + topic + "\x00" + string(action)
}

func decisionKeyTopic(key string) string {
	parts := strings.SplitN(key, "\x00", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
