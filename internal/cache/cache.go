// Package cache implements the multi-layer scan cache: an in-memory LRU
// with TTL (L1), an on-disk store (L2), and an optional remote key-value
// store (L3). Reads check layers in order; a value hit repeatedly at a
// lower layer is promoted up one layer. Writes go through all enabled
// layers. Concurrent fills for the same key are coalesced with
// singleflight so only one caller ever does the work.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a single cached value with the bookkeeping the layers need.
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
	Hits      int64
}

// Expired reports whether the entry has outlived its TTL as of now.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Layer is a single cache tier. Get returns (value, true, nil) on a hit,
// (nil, false, nil) on a clean miss, and a non-nil error only on an actual
// failure (disk I/O error, network error) distinct from a miss.
type Layer interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Name() string
}

// Fetcher computes the value for a key on a full cache miss.
type Fetcher func(ctx context.Context, key string) ([]byte, time.Duration, error)

// DefaultPromoteAfter is how many hits a key needs at a lower layer
// before its value is copied up one layer.
const DefaultPromoteAfter = 3

// Layered chains an ordered list of Layers (fastest first: L1, L2, L3).
// Reads fall back through the layers in order; writes go through every
// layer. A key served repeatedly from a lower layer is promoted up one
// layer after promoteAfter hits, so hot keys migrate toward L1 without
// write-storming it on every read.
type Layered struct {
	layers       []Layer
	promoteAfter int
	group        singleflight.Group

	mu        sync.Mutex
	metrics   Metrics
	lowerHits map[string]int
}

// Metrics counts hits/misses per layer for observability.
type Metrics struct {
	Hits   map[string]int64
	Misses map[string]int64
	Fills  int64
}

// NewLayered builds a Layered cache over layers. promoteAfter <= 0 uses
// DefaultPromoteAfter.
func NewLayered(layers []Layer, promoteAfter int) *Layered {
	if promoteAfter <= 0 {
		promoteAfter = DefaultPromoteAfter
	}
	return &Layered{
		layers:       layers,
		promoteAfter: promoteAfter,
		metrics: Metrics{
			Hits:   make(map[string]int64),
			Misses: make(map[string]int64),
		},
		lowerHits: make(map[string]int),
	}
}

// Get returns the value for key, checking each layer in order. ttl is the
// remaining lifetime a promoted copy should carry; a hit at a lower layer
// counts toward that layer's promotion threshold.
func (c *Layered) Get(ctx context.Context, key string, ttl time.Duration) ([]byte, bool) {
	for i, layer := range c.layers {
		val, ok, err := layer.Get(ctx, key)
		if err != nil || !ok {
			c.record(layer.Name(), false)
			continue // a broken layer degrades to a miss, not a failure
		}
		c.record(layer.Name(), true)
		if i > 0 {
			c.maybePromote(ctx, key, i, val, ttl)
		}
		return val, true
	}
	return nil, false
}

// maybePromote counts a hit at layers[layerIdx] and, once the count
// reaches promoteAfter, copies the value up exactly one layer and resets
// the counter.
func (c *Layered) maybePromote(ctx context.Context, key string, layerIdx int, val []byte, ttl time.Duration) {
	counterKey := key + "\x00" + c.layers[layerIdx].Name()

	c.mu.Lock()
	c.lowerHits[counterKey]++
	promote := c.lowerHits[counterKey] >= c.promoteAfter
	if promote {
		delete(c.lowerHits, counterKey)
	}
	c.mu.Unlock()

	if promote {
		_ = c.layers[layerIdx-1].Set(ctx, key, val, ttl)
	}
}

// Set writes value through every layer with the requested TTL.
func (c *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	for _, layer := range c.layers {
		_ = layer.Set(ctx, key, value, ttl)
	}
}

// GetOrFill returns the cached value for key, or computes it with fetch
// on a miss across every layer. Concurrent fills for the same key are
// coalesced: at most one fetch runs and every waiter shares its result.
func (c *Layered) GetOrFill(ctx context.Context, key string, defaultTTL time.Duration, fetch Fetcher) ([]byte, error) {
	if val, ok := c.Get(ctx, key, defaultTTL); ok {
		return val, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent filler may have landed
		// the value while this caller was queued.
		if v, ok := c.Get(ctx, key, defaultTTL); ok {
			return v, nil
		}
		v, ttl, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		if ttl <= 0 {
			ttl = defaultTTL
		}
		c.Set(ctx, key, v, ttl)
		c.mu.Lock()
		c.metrics.Fills++
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// Invalidate removes key from every layer.
func (c *Layered) Invalidate(ctx context.Context, key string) {
	for _, layer := range c.layers {
		_ = layer.Set(ctx, key, nil, -1)
	}
}

// Stats returns a snapshot of layer hit/miss counts.
func (c *Layered) Stats() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Metrics{Hits: make(map[string]int64), Misses: make(map[string]int64), Fills: c.metrics.Fills}
	for k, v := range c.metrics.Hits {
		out.Hits[k] = v
	}
	for k, v := range c.metrics.Misses {
		out.Misses[k] = v
	}
	return out
}

func (c *Layered) record(layer string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.metrics.Hits[layer]++
	} else {
		c.metrics.Misses[layer]++
	}
}

// ═══════════════════════════════════════════════════════════════════════
// L1: in-memory LRU with TTL
// ═══════════════════════════════════════════════════════════════════════

type lruNode struct {
	key   string
	entry Entry
}

// MemoryLayer is a bounded LRU cache with per-entry TTL.
type MemoryLayer struct {
	mu       sync.Mutex
	maxItems int
	defTTL   time.Duration
	ll       *list.List
	items    map[string]*list.Element
}

// NewMemoryLayer creates an L1 layer holding at most maxItems entries.
func NewMemoryLayer(maxItems int, defaultTTL time.Duration) *MemoryLayer {
	return &MemoryLayer{
		maxItems: maxItems,
		defTTL:   defaultTTL,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (m *MemoryLayer) Name() string { return "l1-memory" }

func (m *MemoryLayer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	node := el.Value.(*lruNode)
	if node.entry.Expired(time.Now()) {
		m.ll.Remove(el)
		delete(m.items, key)
		return nil, false, nil
	}
	node.entry.Hits++
	m.ll.MoveToFront(el)
	return node.entry.Value, true, nil
}

func (m *MemoryLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if value == nil {
		if el, ok := m.items[key]; ok {
			m.ll.Remove(el)
			delete(m.items, key)
		}
		return nil
	}

	if ttl <= 0 {
		ttl = m.defTTL
	}
	entry := Entry{Key: key, Value: value, CreatedAt: time.Now(), TTL: ttl}

	if el, ok := m.items[key]; ok {
		el.Value = &lruNode{key: key, entry: entry}
		m.ll.MoveToFront(el)
		return nil
	}

	el := m.ll.PushFront(&lruNode{key: key, entry: entry})
	m.items[key] = el

	for m.maxItems > 0 && m.ll.Len() > m.maxItems {
		back := m.ll.Back()
		if back == nil {
			break
		}
		m.ll.Remove(back)
		delete(m.items, back.Value.(*lruNode).key)
	}
	return nil
}
