// Package contentcache sits between the HTTP handlers and the storage
// coordinator: GET requests consult it first, POST/PUT/UPDATE write
// through it, and it collapses concurrent loads of the same key into one
// coordinator call.
package contentcache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/lucko/bytebin/internal/content"
	"github.com/lucko/bytebin/internal/coordinator"
	"github.com/lucko/bytebin/internal/metrics"
)

// Loader is the shape the HTTP handlers depend on: load a record by key,
// or accept one that was just durably written.
type Loader interface {
	Get(ctx context.Context, key string) (*content.Record, error)
	Put(rec *content.Record)
}

// Direct delegates every read straight to the coordinator, consulting each
// record's save-completion signal so a GET racing an uncommitted write
// waits for it rather than observing a half-written backend object.
// Selected when the cache is disabled (records fall straight through to
// storage).
type Direct struct {
	coord   *coordinator.Coordinator
	log     *slog.Logger
	mu      sync.Mutex
	pending map[string]*content.Record
}

// NewDirect builds a cache-disabled loader backed directly by coord.
func NewDirect(coord *coordinator.Coordinator, log *slog.Logger) *Direct {
	if log == nil {
		log = slog.Default()
	}
	return &Direct{coord: coord, log: log, pending: make(map[string]*content.Record)}
}

func (d *Direct) Get(ctx context.Context, key string) (*content.Record, error) {
	d.mu.Lock()
	inFlight, ok := d.pending[key]
	d.mu.Unlock()
	if ok {
		select {
		case <-inFlight.Saved():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.coord.Load(ctx, key)
}

func (d *Direct) Put(rec *content.Record) {
	d.mu.Lock()
	d.pending[rec.Key] = rec
	d.mu.Unlock()
	go func() {
		<-rec.Saved()
		d.mu.Lock()
		if d.pending[rec.Key] == rec {
			delete(d.pending, rec.Key)
		}
		d.mu.Unlock()
	}()
}

// Cached is a byte-weighted, single-flighted in-memory front for the
// coordinator. Entries evict oldest-first once the tracked weight exceeds
// MaxBytes, using groupcache's lru.Cache.OnEvicted hook to keep the
// tracked weight in sync as entries fall out.
type Cached struct {
	coord    *coordinator.Coordinator
	metrics  *metrics.Registry
	log      *slog.Logger
	group    singleflight.Group
	maxBytes int64

	mu         sync.Mutex
	store      *lru.Cache
	usedBytes  int64
}

// NewCached builds a byte-weighted content cache capped at maxBytes total,
// backed by coord for misses.
func NewCached(coord *coordinator.Coordinator, maxBytes int64, m *metrics.Registry, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	c := &Cached{coord: coord, metrics: m, log: log, maxBytes: maxBytes}
	c.store = lru.New(0) // unbounded by entry count; c.evict enforces byte weight
	c.store.OnEvicted = func(key lru.Key, value interface{}) {
		if rec, ok := value.(*content.Record); ok {
			c.usedBytes -= rec.ContentLength
		}
	}
	return c
}

// Get returns the record for key, serving from cache when present and
// otherwise loading through the coordinator — concurrent Gets for the same
// missing key collapse into a single coordinator.Load call.
func (c *Cached) Get(ctx context.Context, key string) (*content.Record, error) {
	c.mu.Lock()
	if v, ok := c.store.Get(key); ok {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return v.(*content.Record), nil
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		rec, err := c.coord.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		c.insert(rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*content.Record), nil
}

// Put inserts a freshly written record into the cache immediately, ahead
// of its durable write completing; GET requests racing the write observe
// it straight away rather than waiting on Saved().
func (c *Cached) Put(rec *content.Record) {
	c.insert(rec)
}

func (c *Cached) insert(rec *content.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.store.Get(rec.Key); ok {
		c.usedBytes -= existing.(*content.Record).ContentLength
	}
	c.store.Add(rec.Key, rec)
	c.usedBytes += rec.ContentLength

	for c.maxBytes > 0 && c.usedBytes > c.maxBytes && c.store.Len() > 0 {
		c.store.RemoveOldest()
	}
	if c.metrics != nil {
		c.metrics.CacheBytes.Set(float64(c.usedBytes))
	}
}

// Invalidate drops key from the cache without touching the coordinator.
// The UPDATE and admin bulk-delete paths call it; records deleted by the
// housekeeper are not dropped here and stay cached until evicted.
func (c *Cached) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Remove(key)
}
