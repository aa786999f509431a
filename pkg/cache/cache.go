package cache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Cache is a weight bounded LRU cache. Entries additionally expire once they
// are older than the configured TTL, when it's non-zero.
type Cache[K comparable, V any] struct {
	log *logrus.Entry

	mu     sync.Mutex
	head   *node[K, V]
	tail   *node[K, V]
	lookup map[K]*node[K, V]
	weight int
	budget int
	ttl    time.Duration
	now    func() time.Time
}

type node[K comparable, V any] struct {
	next      *node[K, V]
	prev      *node[K, V]
	key       K
	value     V
	weight    int
	expiresAt time.Time
}

// New returns a cache that evicts least recently used entries once the total
// weight exceeds budget
func New[K comparable, V any](budget int, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		log:    logrus.StandardLogger().WithField("type", "cache"),
		lookup: make(map[K]*node[K, V]),
		budget: budget,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Weight returns the current total weight of cached entries
func (c *Cache[K, V]) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weight
}

// Insert adds or replaces the entry for key as the most recently used one
func (c *Cache[K, V]) Insert(key K, value V, weight int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lookup[key]; ok {
		c.remove(existing)
	}

	n := &node[K, V]{
		key:    key,
		value:  value,
		weight: weight,
	}
	if c.ttl > 0 {
		n.expiresAt = c.now().Add(c.ttl)
	}
	c.pushFront(n)
	c.lookup[key] = n
	c.weight += weight

	for c.weight > c.budget && c.tail != nil {
		evicted := c.tail
		c.remove(evicted)

		c.log.WithFields(logrus.Fields{
			"key":          evicted.key,
			"weight":       evicted.weight,
			"spare_weight": c.budget - c.weight,
		}).Trace("evicted cache entry")
	}
}

// Retrieve returns the live entry for key, marking it as recently used
func (c *Cache[K, V]) Retrieve(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V

	n, ok := c.lookup[key]
	if !ok {
		return zero, false
	}

	if !n.expiresAt.IsZero() && !c.now().Before(n.expiresAt) {
		c.remove(n)
		return zero, false
	}

	if n != c.head {
		c.unlink(n)
		c.pushFront(n)
	}
	return n.value, true
}

// Clear removes every entry
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head = nil
	c.tail = nil
	c.lookup = make(map[K]*node[K, V])
	c.weight = 0
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.next = nil
	n.prev = nil
}

func (c *Cache[K, V]) remove(n *node[K, V]) {
	c.unlink(n)
	delete(c.lookup, n.key)
	c.weight -= n.weight
}
