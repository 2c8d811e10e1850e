// Package validationcache caches the outcome of an expensive per-token
// validation (JWT signature + claims decode) so the hot subscribe path on
// every websocket connection doesn't re-verify a token it already checked
// recently. Grounded on the original JwtCache (5-minute TTL, 10000-entry
// cap, 60-second sweep) and built on top of the teacher's
// infrastructure/cache.Cache for storage and TTL expiry, which this
// package extends with the one thing it lacks: a hard cap on entry count,
// enforced with an access-ordered eviction list kept alongside it.
package validationcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/greybox/hackcore/infrastructure/cache"
)

const (
	// MaxEntries bounds memory use regardless of TTL: once reached, the
	// least-recently-validated token is evicted to make room.
	MaxEntries = 10000

	// TTL is how long a validated token stays trusted without
	// re-verification.
	TTL = 5 * time.Minute

	// CleanupInterval is how often expired entries are swept proactively.
	CleanupInterval = 60 * time.Second
)

// Identity is the cached outcome of validating one token.
type Identity struct {
	UserID string
	Roles  []string
}

// Cache wraps infrastructure/cache.Cache with an LRU eviction list so its
// size never exceeds MaxEntries, something the underlying cache leaves to
// its caller.
type Cache struct {
	mu      sync.Mutex
	order   *list.List // front = most recently validated
	keyElem map[string]*list.Element
	backing *cache.Cache
}

func New() *Cache {
	c := &Cache{
		order:   list.New(),
		keyElem: make(map[string]*list.Element),
		backing: cache.NewCache(cache.CacheConfig{DefaultTTL: TTL, MaxSize: MaxEntries, CleanupInterval: CleanupInterval}),
	}
	go c.runSweep()
	return c
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached identity for token if present and unexpired.
func (c *Cache) Get(token string) (Identity, bool) {
	key := hashToken(token)

	v, ok := c.backing.Get(key)
	if !ok {
		c.mu.Lock()
		c.forgetLocked(key)
		c.mu.Unlock()
		return Identity{}, false
	}

	c.mu.Lock()
	if elem, ok := c.keyElem[key]; ok {
		c.order.MoveToFront(elem)
	}
	c.mu.Unlock()

	return v.(Identity), true
}

// Put records a freshly validated identity, evicting the least-recently
// validated entry first if the cache is at capacity.
func (c *Cache) Put(token string, id Identity) {
	key := hashToken(token)

	c.mu.Lock()
	if elem, ok := c.keyElem[key]; ok {
		c.order.MoveToFront(elem)
	} else {
		if len(c.keyElem) >= MaxEntries {
			c.evictOldestLocked()
		}
		c.keyElem[key] = c.order.PushFront(key)
	}
	c.mu.Unlock()

	c.backing.Set(key, id, TTL)
}

// Invalidate drops a single token's cached validation, used when a client
// explicitly logs out.
func (c *Cache) Invalidate(token string) {
	key := hashToken(token)
	c.backing.Invalidate(key)
	c.mu.Lock()
	c.forgetLocked(key)
	c.mu.Unlock()
}

// Size reports the current entry count.
func (c *Cache) Size() int {
	return c.backing.Size()
}

// Clear drops every cached validation, used when the signing key rotates
// and every previously-cached identity must be re-verified (SPEC_FULL.md
// §4.7).
func (c *Cache) Clear() {
	c.backing.InvalidateAll()
	c.mu.Lock()
	c.order.Init()
	c.keyElem = make(map[string]*list.Element)
	c.mu.Unlock()
}

func (c *Cache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	key := oldest.Value.(string)
	c.order.Remove(oldest)
	delete(c.keyElem, key)
	c.backing.Invalidate(key)
}

func (c *Cache) forgetLocked(key string) {
	if elem, ok := c.keyElem[key]; ok {
		c.order.Remove(elem)
		delete(c.keyElem, key)
	}
}

// Sweep drops bookkeeping for any key the backing cache has already
// expired, keeping the LRU list from drifting out of sync with it.
// Registered with engine.Maintenance as a periodic job.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.order.Back(); e != nil; {
		prev := e.Prev()
		key := e.Value.(string)
		if _, ok := c.backing.Get(key); !ok {
			c.order.Remove(e)
			delete(c.keyElem, key)
		}
		e = prev
	}
}

func (c *Cache) runSweep() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.Sweep()
	}
}
