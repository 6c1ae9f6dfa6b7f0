// Package cache holds the in-memory read caches behind catalogd's catalog views.
//
// Cache is a generic TTL map with bounded size. Views layers named, tagged
// entries on top of it so the orchestrator can drop every view that depends
// on catalog contents after a run.
package cache

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long an entry lives when Options.TTL is zero.
const DefaultTTL = 60 * time.Second

// DefaultMaxEntries bounds a cache when Options.MaxEntries is zero.
const DefaultMaxEntries = 1000

// Options configures a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL cache. When full it drops expired entries first, then the
// oldest by insertion order.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]entry[V]
	order      []K
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a Cache; zero options fall back to the defaults.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	c := &Cache[K, V]{
		entries:    make(map[K]entry[V]),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultMaxEntries
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get returns the live value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, refreshing its expiry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = e
		return
	}
	if len(c.entries) >= c.maxEntries {
		c.dropExpiredLocked()
	}
	if len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// DeleteFunc removes every entry whose key satisfies match and returns how many went.
func (c *Cache[K, V]) DeleteFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	n := 0
	for _, k := range c.order {
		if match(k) {
			delete(c.entries, k)
			n++
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
	return n
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
	c.order = nil
}

// Len counts entries, including expired ones not yet dropped.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }

func (c *Cache[K, V]) removeLocked(key K) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache[K, V]) dropExpiredLocked() {
	now := c.now()
	kept := c.order[:0]
	for _, k := range c.order {
		if now.After(c.entries[k].expiresAt) {
			delete(c.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
}

// Views caches rendered catalog views. Each view is registered with the tags
// whose invalidation must drop it; entries are keyed "view|key".
type Views struct {
	store *Cache[string, []byte]

	mu   sync.RWMutex
	tags map[string][]string // tag -> views
}

// View identifiers for the catalog read API.
const (
	ViewTools      = "tools"
	ViewToolDetail = "tool-detail"
	ViewCategories = "categories"
	ViewTrending   = "trending"
	ViewNews       = "news"
)

// Tags invalidated after orchestrator runs.
const (
	TagTools = "tools-data"
	TagNews  = "news-data"
)

// CatalogViews lists every view that depends on catalog contents.
var CatalogViews = []string{ViewTools, ViewToolDetail, ViewCategories, ViewTrending}

// NewViews creates a view cache with the catalog views registered under TagTools.
func NewViews(opts Options) *Views {
	v := &Views{
		store: New[string, []byte](opts),
		tags:  make(map[string][]string),
	}
	for _, name := range CatalogViews {
		v.Register(name, TagTools)
	}
	v.Register(ViewNews, TagNews)
	return v
}

// Register attaches view to tags. Registering twice is harmless.
func (v *Views) Register(view string, tags ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range tags {
		if !slices.Contains(v.tags[t], view) {
			v.tags[t] = append(v.tags[t], view)
		}
	}
}

func viewKey(view, key string) string { return view + "|" + key }

// Get returns the cached body for key within view.
func (v *Views) Get(view, key string) ([]byte, bool) {
	return v.store.Get(viewKey(view, key))
}

// Set stores body for key within view.
func (v *Views) Set(view, key string, body []byte) {
	v.store.Set(viewKey(view, key), body)
}

// InvalidateView drops every entry of view and returns the number removed.
func (v *Views) InvalidateView(view string) int {
	prefix := view + "|"
	return v.store.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

// InvalidateTag drops every view registered under tag.
func (v *Views) InvalidateTag(tag string) int {
	v.mu.RLock()
	views := append([]string(nil), v.tags[tag]...)
	v.mu.RUnlock()
	n := 0
	for _, view := range views {
		n += v.InvalidateView(view)
	}
	return n
}
