// Package housekeeper runs bytebin's periodic expiry sweep: a ticker that
// asks the coordinator to delete expired records and refreshes the stored
// record gauges.
package housekeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/lucko/bytebin/internal/coordinator"
	"github.com/lucko/bytebin/internal/ioexec"
	"github.com/lucko/bytebin/internal/metrics"
)

// Housekeeper periodically invalidates expired content.
type Housekeeper struct {
	coord    *coordinator.Coordinator
	pool     *ioexec.Pool
	metrics  *metrics.Registry
	log      *slog.Logger
	interval time.Duration
	warmup   time.Duration
}

// New builds a Housekeeper. interval is the scan period; warmup delays the
// first scan after Run starts, so a freshly booted process doesn't compete
// with startup traffic for worker pool slots.
func New(coord *coordinator.Coordinator, pool *ioexec.Pool, m *metrics.Registry, log *slog.Logger, interval, warmup time.Duration) *Housekeeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Housekeeper{coord: coord, pool: pool, metrics: m, log: log, interval: interval, warmup: warmup}
}

// Run blocks, ticking until ctx is cancelled. Each tick's scan is submitted
// to the shared worker pool rather than run inline, so a slow backend
// sweep never delays the next tick from being scheduled.
func (h *Housekeeper) Run(ctx context.Context) {
	if h.warmup > 0 {
		select {
		case <-time.After(h.warmup):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pool.Submit(func(jobCtx context.Context) {
				h.scan(jobCtx)
			})
		}
	}
}

func (h *Housekeeper) scan(ctx context.Context) {
	if h.metrics != nil {
		h.metrics.HousekeeperRuns.Inc()
	}

	expired, err := h.coord.RunInvalidationAndRecordMetrics(ctx)
	if err != nil {
		h.log.Error("housekeeper scan failed", "error", err)
		if h.metrics != nil {
			h.metrics.ComponentErrors.WithLabelValues("housekeeper").Inc()
		}
		return
	}

	if expired > 0 {
		h.log.Info("housekeeper expired records", "count", expired)
	}
	if h.metrics != nil {
		h.metrics.HousekeeperExpired.Add(float64(expired))
	}
}
