package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/lucko/bytebin/internal/backend"
	"github.com/lucko/bytebin/internal/config"
	"github.com/lucko/bytebin/internal/contentcache"
	"github.com/lucko/bytebin/internal/coordinator"
	"github.com/lucko/bytebin/internal/expiry"
	"github.com/lucko/bytebin/internal/housekeeper"
	"github.com/lucko/bytebin/internal/httpapi"
	"github.com/lucko/bytebin/internal/index"
	"github.com/lucko/bytebin/internal/ioexec"
	"github.com/lucko/bytebin/internal/logsink"
	"github.com/lucko/bytebin/internal/metrics"
	"github.com/lucko/bytebin/internal/ratelimit"
	"github.com/lucko/bytebin/internal/selector"
	"github.com/lucko/bytebin/internal/token"
)

const (
	notFoundBackoffInitial = time.Second
	notFoundBackoffMax     = 5 * time.Minute
)

func main() {
	// Self-contained healthcheck for scratch containers (no curl/wget available).
	// Usage: bytebin -healthcheck
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		resp, err := http.Get("http://127.0.0.1:8080/health")
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfgPath := os.Getenv("BYTEBIN_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	indexPath := filepath.Join(cfg.DiskRoot, "index.db")
	if err := os.MkdirAll(cfg.DiskRoot, 0o755); err != nil {
		slog.Error("failed to create storage root", "path", cfg.DiskRoot, "error", err)
		os.Exit(1)
	}
	idx, err := index.Open(indexPath, m)
	if err != nil {
		slog.Error("failed to open content index", "path", indexPath, "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	backends, err := buildBackends(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise storage backends", "error", err)
		os.Exit(1)
	}

	chain := buildSelectorChain(cfg)
	coord := coordinator.New(idx, backends, chain, m, slog.Default())

	if err := coord.RebuildIndex(ctx); err != nil {
		slog.Error("failed to rebuild content index from backends", "error", err)
		os.Exit(1)
	}

	pool := ioexec.New(cfg.WorkerPoolSize)
	defer pool.Close()

	var cache contentcache.Loader
	if cfg.CacheEnabled {
		cache = contentcache.NewCached(coord, cfg.CacheMaxSizeBytes, m, slog.Default())
	} else {
		cache = contentcache.NewDirect(coord, slog.Default())
	}

	hk := housekeeper.New(coord, pool, m, slog.Default(), 5*time.Minute, 10*time.Second)
	go hk.Run(ctx)

	sink := logsink.New(cfg.LogSinkURI, cfg.LogSinkFlushPeriod, 100, slog.Default())
	go sink.Run(ctx)

	h := &httpapi.Handlers{
		Cache:                 cache,
		Coord:                 coord,
		Pool:                  pool,
		Tokens:                token.NewGenerator(cfg.KeyLength),
		Expiry:                expiryPolicyOf(cfg),
		RateLimitPost:         ratelimit.New(cfg.RateLimitPost.Period, cfg.RateLimitPost.Max),
		RateLimitUpdate:       ratelimit.New(cfg.RateLimitUpdate.Period, cfg.RateLimitUpdate.Max),
		RateLimitGet:          ratelimit.New(cfg.RateLimitGet.Period, cfg.RateLimitGet.Max),
		NotFound:              ratelimit.NewNotFoundLimiter(notFoundBackoffInitial, notFoundBackoffMax),
		TrustedProxyAPIKeys:   cfg.TrustedProxyAPIKeys,
		AdminAPIKeys:          cfg.AdminAPIKeys,
		MaxContentLengthBytes: cfg.MaxContentLengthBytes,
		HostAliases:           cfg.HostAliases,
		Sink:                  sink,
		Metrics:               m,
		Log:                   slog.Default(),
	}
	if !cfg.MetricsEnabled {
		h.Metrics = nil
	}

	router := httpapi.NewRouter(h)

	h2s := &http2.Server{}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: h2c.NewHandler(router, h2s),
	}

	go func() {
		slog.Info("starting server", "addr", server.Addr, "backend", cfg.StorageBackend, "cache", cfg.CacheEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func buildBackends(ctx context.Context, cfg config.Config) (map[string]backend.Backend, error) {
	backends := map[string]backend.Backend{}

	disk := backend.NewDisk("disk", cfg.DiskRoot)
	if err := disk.Init(ctx); err != nil {
		return nil, fmt.Errorf("disk backend: %w", err)
	}
	backends["disk"] = disk

	if cfg.S3Enabled {
		s3, err := backend.NewS3(ctx, "s3", cfg.S3Bucket, cfg.S3Prefix, cfg.S3ForcePathStyle)
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		backends["s3"] = s3
	}

	return backends, nil
}

// buildSelectorChain routes large records to S3 (when configured) and
// everything else to disk, per the storage.s3.sizeThresholdMb config key.
func buildSelectorChain(cfg config.Config) selector.Chain {
	if cfg.S3Enabled {
		return selector.NewChain(selector.IfSizeGt{
			ThresholdBytes: cfg.S3SizeThreshold,
			BackendID:      "s3",
			Next:           selector.Static{BackendID: "disk"},
		})
	}
	return selector.NewChain(selector.Static{BackendID: "disk"})
}

func expiryPolicyOf(cfg config.Config) expiry.Policy {
	overrides := map[expiry.OverrideKind]map[string]time.Duration{}
	if len(cfg.LifetimeOverridesUA) > 0 {
		overrides[expiry.UserAgent] = cfg.LifetimeOverridesUA
	}
	if len(cfg.LifetimeOverridesOri) > 0 {
		overrides[expiry.Origin] = cfg.LifetimeOverridesOri
	}
	if len(cfg.LifetimeOverridesHost) > 0 {
		overrides[expiry.Host] = cfg.LifetimeOverridesHost
	}
	return expiry.Policy{Default: cfg.DefaultLifetime, Overrides: overrides}
}
