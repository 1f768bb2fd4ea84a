package capability

import (
	"sync"
	"time"
)

const (
	catalogTTL          = time.Hour
	catalogFailureTTL   = time.Minute
	endpointsTTL        = 5 * time.Minute
	endpointsFailureTTL = time.Minute
)

type catalogKey struct {
	apiBase string
	apiKey  string
}

type endpointsKey struct {
	apiBase string
	model   string
}

type catalogEntry struct {
	deadline time.Time
	models   map[string]*ModelMetadata
}

type endpointsEntry struct {
	deadline time.Time
	items    []Endpoint
}

// Cache holds fetched catalog and endpoint listings until their deadlines
// pass. A failed fetch is cached empty under a short deadline so a flapping
// upstream is not hammered. Lookups never hold a lock across a fetch, so
// concurrent misses may fetch twice; the last writer wins.
type Cache struct {
	now func() time.Time

	catalogMu sync.Mutex
	catalog   map[catalogKey]catalogEntry

	endpointsMu sync.Mutex
	endpoints   map[endpointsKey]endpointsEntry
}

// NewCache returns an empty cache on the real clock.
func NewCache() *Cache {
	return newCacheWithClock(time.Now)
}

func newCacheWithClock(now func() time.Time) *Cache {
	return &Cache{
		now:       now,
		catalog:   make(map[catalogKey]catalogEntry),
		endpoints: make(map[endpointsKey]endpointsEntry),
	}
}

// Sizes reports how many catalog and endpoint entries are held, expired or
// not. Used by the metrics endpoint.
func (c *Cache) Sizes() (catalogEntries, endpointEntries int) {
	c.catalogMu.Lock()
	catalogEntries = len(c.catalog)
	c.catalogMu.Unlock()
	c.endpointsMu.Lock()
	endpointEntries = len(c.endpoints)
	c.endpointsMu.Unlock()
	return catalogEntries, endpointEntries
}

func (c *Cache) catalogFor(key catalogKey) (map[string]*ModelMetadata, bool) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	entry, ok := c.catalog[key]
	if !ok || !entry.deadline.After(c.now()) {
		return nil, false
	}
	return entry.models, true
}

func (c *Cache) storeCatalog(key catalogKey, models map[string]*ModelMetadata, ttl time.Duration) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	c.catalog[key] = catalogEntry{deadline: c.now().Add(ttl), models: models}
}

func (c *Cache) endpointsFor(key endpointsKey) ([]Endpoint, bool) {
	c.endpointsMu.Lock()
	defer c.endpointsMu.Unlock()
	entry, ok := c.endpoints[key]
	if !ok || !entry.deadline.After(c.now()) {
		return nil, false
	}
	return entry.items, true
}

func (c *Cache) storeEndpoints(key endpointsKey, items []Endpoint, ttl time.Duration) {
	c.endpointsMu.Lock()
	defer c.endpointsMu.Unlock()
	c.endpoints[key] = endpointsEntry{deadline: c.now().Add(ttl), items: items}
}
