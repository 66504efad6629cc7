package routecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/ferro-labs/llm-router/providers"
)

const (
	// DefaultTTL bounds how long a routing decision stays valid without any
	// channel-state signal.
	DefaultTTL = 60 * time.Second

	// DefaultMaxEntries bounds the cache size before LRU eviction.
	DefaultMaxEntries = 1000

	// MaxBackups caps how many non-primary candidates a selection retains.
	MaxBackups = 5
)

// Selection is one cached routing decision: the primary candidate plus up to
// MaxBackups ranked backups, with its bookkeeping counters.
type Selection struct {
	Candidates []providers.Candidate
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int64
}

type entry struct {
	fingerprint string
	candidates  []providers.Candidate
	channelIDs  []string
	ttl         time.Duration
	createdAt   time.Time
	lastUsedAt  time.Time
	useCount    int64
}

// recency is the LRU ordering key: an entry is as recent as its last touch.
func (e *entry) recency() time.Time {
	if e.lastUsedAt.After(e.createdAt) {
		return e.lastUsedAt
	}
	return e.createdAt
}

// Cache memoises ranked candidate lists by request fingerprint. Entries
// expire by TTL, are evicted LRU past the size bound, and are dropped when
// any channel they reference changes state.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	byChannel  map[string]map[string]struct{} // channel id -> fingerprints
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits   int64
	misses int64
}

// New creates a Cache. Zero ttl or maxEntries select the defaults.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		byChannel:  make(map[string]map[string]struct{}),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached selection for a fingerprint, or nil on miss or
// expiry. Hits increment the selection's use count and refresh the LRU
// position.
func (c *Cache) Get(fingerprint string) *Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.createdAt) > e.ttl {
		c.removeLocked(el)
		c.misses++
		return nil
	}
	e.lastUsedAt = c.now()
	e.useCount++
	c.order.MoveToFront(el)
	c.hits++
	return &Selection{
		Candidates: e.candidates,
		CreatedAt:  e.createdAt,
		LastUsedAt: e.lastUsedAt,
		UseCount:   e.useCount,
	}
}

// Put stores a ranked candidate list, truncated to the primary plus
// MaxBackups, indexing it by every retained channel so channel-state changes
// can invalidate it. ttl overrides the cache default when positive.
func (c *Cache) Put(fingerprint string, candidates []providers.Candidate, ttl time.Duration) {
	if len(candidates) == 0 {
		return
	}
	if len(candidates) > 1+MaxBackups {
		candidates = append([]providers.Candidate(nil), candidates[:1+MaxBackups]...)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	channelIDs := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		channelIDs = append(channelIDs, cand.Channel.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[fingerprint]; ok {
		c.removeLocked(el)
	}
	e := &entry{
		fingerprint: fingerprint,
		candidates:  candidates,
		channelIDs:  channelIDs,
		ttl:         ttl,
		createdAt:   c.now(),
	}
	c.entries[fingerprint] = c.order.PushFront(e)
	for _, id := range channelIDs {
		fps, ok := c.byChannel[id]
		if !ok {
			fps = make(map[string]struct{})
			c.byChannel[id] = fps
		}
		fps[fingerprint] = struct{}{}
	}
	for len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// InvalidateChannel drops every entry whose candidate list references the
// channel. Called on blacklist trips, registry refreshes, and config changes.
func (c *Cache) InvalidateChannel(channelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	fps := c.byChannel[channelID]
	removed := 0
	for fp := range fps {
		if el, ok := c.entries[fp]; ok {
			c.removeLocked(el)
			removed++
		}
	}
	return removed
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.byChannel = make(map[string]map[string]struct{})
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); now.Sub(e.createdAt) > e.ttl {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Stats returns hit/miss counters and the current size.
func (c *Cache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// evictLocked removes the least recently touched entry.
func (c *Cache) evictLocked() {
	victim := c.order.Back()
	if victim == nil {
		return
	}
	// MoveToFront on hit keeps the list in recency order, so the back element
	// already has the minimal max(created, lastUsed).
	for el := victim.Prev(); el != nil; el = el.Prev() {
		if el.Value.(*entry).recency().Before(victim.Value.(*entry).recency()) {
			victim = el
		}
	}
	c.removeLocked(victim)
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.fingerprint)
	for _, id := range e.channelIDs {
		if fps := c.byChannel[id]; fps != nil {
			delete(fps, e.fingerprint)
			if len(fps) == 0 {
				delete(c.byChannel, id)
			}
		}
	}
}
