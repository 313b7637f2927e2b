// Package config loads bytebin's configuration from an optional JSON file
// plus BYTEBIN_-prefixed environment variables via spf13/viper, giving
// every key both a dotted name (JSON/viper) and an upper-snake
// environment-variable name.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateLimit is one (period, max actions) pair.
type RateLimit struct {
	Period time.Duration
	Max    int64
}

// Config is bytebin's full runtime configuration surface.
type Config struct {
	Host string
	Port int

	KeyLength      int
	WorkerPoolSize int

	CacheEnabled      bool
	CacheExpiry       time.Duration
	CacheMaxSizeBytes int64

	MaxContentLengthBytes int64

	DefaultLifetime      time.Duration
	LifetimeOverridesUA  map[string]time.Duration
	LifetimeOverridesOri map[string]time.Duration
	LifetimeOverridesHost map[string]time.Duration

	RateLimitPost   RateLimit
	RateLimitUpdate RateLimit
	RateLimitGet    RateLimit

	TrustedProxyAPIKeys map[string]struct{}
	AdminAPIKeys        map[string]struct{}

	StorageBackend string
	DiskRoot       string

	S3Enabled        bool
	S3Bucket         string
	S3Prefix         string
	S3ForcePathStyle bool
	S3SizeThreshold  int64

	MetricsEnabled bool

	HostAliases []string

	LogSinkURI         string
	LogSinkFlushPeriod time.Duration

	LogLevel slog.Level
}

// Load builds a Config from an optional JSON file at path (pass "" to
// skip) and BYTEBIN_-prefixed environment variables, e.g.
// BYTEBIN_CACHE_EXPIRYMINUTES overrides cache.expiryMinutes.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BYTEBIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := Config{
		Host: v.GetString("host"),
		Port: v.GetInt("port"),

		KeyLength:      v.GetInt("key.length"),
		WorkerPoolSize: v.GetInt("worker.poolSize"),

		CacheEnabled:      v.GetBool("cache.enabled"),
		CacheExpiry:       v.GetDuration("cache.expiryMinutes") * time.Minute,
		CacheMaxSizeBytes: v.GetInt64("cache.maxSizeMb") * 1024 * 1024,

		MaxContentLengthBytes: v.GetInt64("content.maxLengthMb") * 1024 * 1024,

		DefaultLifetime: v.GetDuration("lifetime.defaultMinutes") * time.Minute,

		RateLimitPost:   rateLimitFrom(v, "rateLimit.post"),
		RateLimitUpdate: rateLimitFrom(v, "rateLimit.update"),
		RateLimitGet:    rateLimitFrom(v, "rateLimit.get"),

		TrustedProxyAPIKeys: toSet(v.GetStringSlice("trustedProxy.apiKeys")),
		AdminAPIKeys:        toSet(v.GetStringSlice("admin.apiKeys")),

		StorageBackend: v.GetString("storage.backend"),
		DiskRoot:       v.GetString("storage.disk.root"),

		S3Enabled:        v.GetBool("storage.s3.enabled"),
		S3Bucket:         v.GetString("storage.s3.bucket"),
		S3Prefix:         v.GetString("storage.s3.prefix"),
		S3ForcePathStyle: v.GetBool("storage.s3.forcePathStyle"),
		S3SizeThreshold:  v.GetInt64("storage.s3.sizeThresholdMb") * 1024 * 1024,

		MetricsEnabled: v.GetBool("metrics.enabled"),

		HostAliases: v.GetStringSlice("http.hostAliases"),

		LogSinkURI:         v.GetString("logSink.uri"),
		LogSinkFlushPeriod: v.GetDuration("logSink.flushPeriodSeconds") * time.Second,

		LogLevel: parseLogLevel(v.GetString("logLevel")),
	}

	cfg.LifetimeOverridesUA = durationMapFrom(v, "lifetime.overrides.userAgent")
	cfg.LifetimeOverridesOri = durationMapFrom(v, "lifetime.overrides.origin")
	cfg.LifetimeOverridesHost = durationMapFrom(v, "lifetime.overrides.host")

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("key.length", 7)
	v.SetDefault("worker.poolSize", 16)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.expiryMinutes", 60)
	v.SetDefault("cache.maxSizeMb", 256)
	v.SetDefault("content.maxLengthMb", 10)
	v.SetDefault("lifetime.defaultMinutes", 0) // 0 => never, resolved by internal/expiry
	v.SetDefault("rateLimit.post.periodSeconds", 60)
	v.SetDefault("rateLimit.post.max", 30)
	v.SetDefault("rateLimit.update.periodSeconds", 60)
	v.SetDefault("rateLimit.update.max", 30)
	v.SetDefault("rateLimit.get.periodSeconds", 60)
	v.SetDefault("rateLimit.get.max", 300)
	v.SetDefault("storage.backend", "disk")
	v.SetDefault("storage.disk.root", "/data/bytebin")
	v.SetDefault("storage.s3.forcePathStyle", true)
	v.SetDefault("storage.s3.sizeThresholdMb", 5)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("logSink.flushPeriodSeconds", 30)
	v.SetDefault("logLevel", "info")
}

func rateLimitFrom(v *viper.Viper, prefix string) RateLimit {
	return RateLimit{
		Period: v.GetDuration(prefix+".periodSeconds") * time.Second,
		Max:    v.GetInt64(prefix + ".max"),
	}
}

func durationMapFrom(v *viper.Viper, key string) map[string]time.Duration {
	raw := v.GetStringMap(key)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(raw))
	for k, val := range raw {
		switch n := val.(type) {
		case int:
			out[k] = time.Duration(n) * time.Minute
		case int64:
			out[k] = time.Duration(n) * time.Minute
		case float64:
			out[k] = time.Duration(n) * time.Minute
		}
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
