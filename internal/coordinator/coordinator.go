// Package coordinator composes the content index and the registered
// storage backends into the single object that owns reads, writes and
// deletes of content records.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucko/bytebin/internal/backend"
	"github.com/lucko/bytebin/internal/content"
	"github.com/lucko/bytebin/internal/index"
	"github.com/lucko/bytebin/internal/metrics"
	"github.com/lucko/bytebin/internal/selector"
)

// ErrNotFound is returned by Load when the key is absent, points at an
// unknown backend, or its stored bytes are corrupt — all three are
// indistinguishable to callers.
var ErrNotFound = errors.New("coordinator: not found")

// Coordinator composes the durable index with the registered backends.
type Coordinator struct {
	idx      *index.Index
	backends map[string]backend.Backend
	chain    selector.Chain
	metrics  *metrics.Registry
	log      *slog.Logger
}

// New constructs a Coordinator. backends must contain every ID the
// selector chain can produce.
func New(idx *index.Index, backends map[string]backend.Backend, chain selector.Chain, m *metrics.Registry, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{idx: idx, backends: backends, chain: chain, metrics: m, log: log}
}

func (c *Coordinator) backendOp(backendID, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if c.metrics != nil {
		c.metrics.BackendOpDuration.WithLabelValues(backendID, op).Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.BackendOpErrors.WithLabelValues(backendID, op).Inc()
		}
	}
	return err
}

// Load resolves key via the index, then reads the bytes from the backend
// the index says holds them.
func (c *Coordinator) Load(ctx context.Context, key string) (*content.Record, error) {
	meta, err := c.idx.Get(ctx, key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("coordinator: index lookup: %w", err)
	}

	b, ok := c.backends[meta.BackendID]
	if !ok {
		c.log.Error("record references unknown backend", "key", key, "backend_id", meta.BackendID)
		if c.metrics != nil {
			c.metrics.ComponentErrors.WithLabelValues("coordinator").Inc()
		}
		return nil, ErrNotFound
	}

	var full *content.Record
	err = c.backendOp(meta.BackendID, "load", func() error {
		var loadErr error
		full, loadErr = b.Load(ctx, key)
		return loadErr
	})
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) || errors.Is(err, backend.ErrCorrupt) {
			// Backend-level corruption or loss is treated the same as
			// expiry: the record is gone, and we best-effort delete it
			// from the backend and the index so future lookups don't
			// repeat this work.
			c.log.Warn("record missing or corrupt at backend, deleting", "key", key, "backend_id", meta.BackendID, "error", err)
			_ = c.Delete(ctx, meta)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("coordinator: backend load: %w", err)
	}
	return full, nil
}

// Save routes rec to a backend via the selector chain, updates the index,
// then writes the bytes. The index is updated before the backend write, so
// a crash between the two leaves an index row with no backend object;
// Load treats that as a missing record and deletes the row.
func (c *Coordinator) Save(ctx context.Context, rec *content.Record) error {
	rec.BackendID = c.chain.Select(rec)

	if err := c.idx.Put(ctx, rec); err != nil {
		return fmt.Errorf("coordinator: index put: %w", err)
	}

	b, ok := c.backends[rec.BackendID]
	if !ok {
		return fmt.Errorf("coordinator: unknown backend %q", rec.BackendID)
	}

	return c.backendOp(rec.BackendID, "save", func() error {
		return b.Save(ctx, rec)
	})
}

// Delete removes rec from its backend, then from the index. The index
// removal is the operation that makes the record officially gone: a GET
// racing this call sees 404 as soon as the index entry is removed,
// independent of how long the backend delete takes.
func (c *Coordinator) Delete(ctx context.Context, rec *content.Record) error {
	if b, ok := c.backends[rec.BackendID]; ok {
		if err := c.backendOp(rec.BackendID, "delete", func() error {
			return b.Delete(ctx, rec.Key)
		}); err != nil {
			c.log.Error("backend delete failed, removing from index anyway", "key", rec.Key, "error", err)
		}
	}
	return c.idx.Remove(ctx, rec.Key)
}

// BulkDelete deletes every key that exists in the index. When force is
// true, keys absent from the index are also attempted against every
// registered backend, to clean up index/backend orphans an audit found.
// Returns the count of records actually deleted.
func (c *Coordinator) BulkDelete(ctx context.Context, keys []string, force bool) (int, error) {
	deleted := 0
	for _, key := range keys {
		meta, err := c.idx.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, index.ErrNotFound) {
				return deleted, fmt.Errorf("coordinator: index lookup for %s: %w", key, err)
			}
			if force {
				for id, b := range c.backends {
					_ = c.backendOp(id, "delete", func() error {
						return b.Delete(ctx, key)
					})
				}
			}
			continue
		}
		if err := c.Delete(ctx, meta); err != nil {
			return deleted, fmt.Errorf("coordinator: deleting %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}

// RunInvalidationAndRecordMetrics implements the housekeeper's per-tick
// work: delete every expired record, then refresh the index's aggregate
// gauges. Returns the number of records expired this run.
func (c *Coordinator) RunInvalidationAndRecordMetrics(ctx context.Context) (int, error) {
	expired, err := c.idx.GetExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("coordinator: listing expired: %w", err)
	}

	for _, rec := range expired {
		if err := c.Delete(ctx, rec); err != nil {
			c.log.Error("failed to delete expired record", "key", rec.Key, "error", err)
			if c.metrics != nil {
				c.metrics.ComponentErrors.WithLabelValues("coordinator").Inc()
			}
		}
	}

	if err := c.refreshGauges(ctx); err != nil {
		return len(expired), err
	}
	return len(expired), nil
}

func (c *Coordinator) refreshGauges(ctx context.Context) error {
	if c.metrics == nil {
		return nil
	}
	stats, err := c.idx.GroupByContentTypeAndBackend(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: grouping stats: %w", err)
	}

	c.metrics.StoredCount.Reset()
	c.metrics.StoredBytes.Reset()
	for _, s := range stats {
		c.metrics.StoredCount.WithLabelValues(s.ContentType, s.BackendID).Set(float64(s.Count))
		c.metrics.StoredBytes.WithLabelValues(s.ContentType, s.BackendID).Set(float64(s.TotalBytes))
	}
	return nil
}

// RebuildIndex repopulates the index from every backend's List stream, if
// the index is currently empty. Called once at startup.
func (c *Coordinator) RebuildIndex(ctx context.Context) error {
	n, err := indexCount(ctx, c.idx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	c.log.Info("index empty at startup, rebuilding from backends")
	return c.idx.RebuildFromBackends(ctx, c.backends)
}

func indexCount(ctx context.Context, ix *index.Index) (int, error) {
	return ix.Count(ctx)
}
