package transport

import (
	"net/http"
	"sync"

	"query-enhancements/internal/domain"
)

// ClientCache manages DataSourceClient instances keyed by data source id so
// that every request for the same data source shares one client.
type ClientCache struct {
	mu      sync.RWMutex
	entries map[string]*DataSourceClient
	http    *http.Client
}

// NewClientCache creates an empty cache. Clients share hc.
func NewClientCache(hc *http.Client) *ClientCache {
	return &ClientCache{
		entries: make(map[string]*DataSourceClient),
		http:    hc,
	}
}

// GetOrCreate returns an existing client for the data source or creates a
// new one. Uses double-checked locking to minimise lock contention.
func (c *ClientCache) GetOrCreate(ds *domain.DataSource) *DataSourceClient {
	c.mu.RLock()
	if client, ok := c.entries[ds.ID]; ok {
		c.mu.RUnlock()
		return client
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := c.entries[ds.ID]; ok {
		return client
	}

	client := NewDataSourceClient(ds, c.http)
	c.entries[ds.ID] = client
	return client
}

// Invalidate drops the cached client for id. The next GetOrCreate rebuilds
// it from the current data source record.
func (c *ClientCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len returns the number of cached clients.
func (c *ClientCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
