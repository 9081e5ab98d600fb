// Package objcache holds fetched listing records shared by all tenants and
// tracks, per tenant, which listings that tenant has already been shown.
//
// A record stays cached exactly as long as at least one tenant holds it in
// its seen set: cache occupancy is the union of all tenants' references.
package objcache

import (
	"strconv"
	"sync"

	"listingbot/internal/catalog"
)

// Tenant identifies one chat consuming notifications.
type Tenant string

func ChatTenant(chatID int64) Tenant { return Tenant(strconv.FormatInt(chatID, 10)) }

type set map[string]struct{}

type Cache struct {
	mu      sync.Mutex
	records map[string]catalog.Record
	seen    map[Tenant]set                 // tenant -> ids shown to it
	refs    map[string]map[Tenant]struct{} // id -> tenants holding it
}

type Stats struct {
	Records    int
	Tenants    int
	References int
}

func New() *Cache {
	return &Cache{
		records: map[string]catalog.Record{},
		seen:    map[Tenant]set{},
		refs:    map[string]map[Tenant]struct{}{},
	}
}

func (c *Cache) HasSeen(t Tenant, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[t][id]
	return ok
}

// Get looks up a record by id regardless of which tenant fetched it.
func (c *Cache) Get(id string) (catalog.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[id]
	return r, ok
}

// Put marks id as seen by t and stores rec unless a record for id is already
// cached. Repeating a Put for the same (t, id) has no effect.
func (c *Cache) Put(t Tenant, id string, rec catalog.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		c.records[id] = rec
	}
	s := c.seen[t]
	if s == nil {
		s = set{}
		c.seen[t] = s
	}
	s[id] = struct{}{}

	holders := c.refs[id]
	if holders == nil {
		holders = map[Tenant]struct{}{}
		c.refs[id] = holders
	}
	holders[t] = struct{}{}
}

// Clear drops every reference held by t, evicting records no other tenant
// holds, and returns how many ids t had seen.
func (c *Cache) Clear(t Tenant) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.seen[t]
	for id := range s {
		holders := c.refs[id]
		delete(holders, t)
		if len(holders) == 0 {
			delete(c.refs, id)
			delete(c.records, id)
		}
	}
	delete(c.seen, t)
	return len(s)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Cache) Empty() bool { return c.Len() == 0 }

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Records: len(c.records), Tenants: len(c.seen)}
	for _, holders := range c.refs {
		st.References += len(holders)
	}
	return st
}
