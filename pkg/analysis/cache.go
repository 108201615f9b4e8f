package analysis

import (
	"sync"
	"time"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
)

// cache is a process-local TTL cache of finished analyses keyed by bill id.
// Entries are immutable snapshots; readers never see a partially written
// record.
type cache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[uint]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	insertedAt time.Time
	record     *models.Analysis
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl: ttl,
		m:   make(map[uint]cacheEntry),
		now: time.Now,
	}
}

// get returns the cached record when its age is under the TTL. Expired
// entries are removed on access.
func (c *cache) get(billID uint) (*models.Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[billID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.m, billID)
		return nil, false
	}
	return e.record, true
}

func (c *cache) put(billID uint, record *models.Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, e := range c.m {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.m, id)
		}
	}
	c.m[billID] = cacheEntry{insertedAt: now, record: record}
}

// evict drops one bill's entry; used when a sync replaces the bill's text.
func (c *cache) evict(billID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, billID)
}
