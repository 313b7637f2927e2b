package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.KeyLength != 7 {
		t.Errorf("expected default key length 7, got %d", cfg.KeyLength)
	}
	if cfg.CacheExpiry != 60*time.Minute {
		t.Errorf("expected default cache expiry 60m, got %v", cfg.CacheExpiry)
	}
	if cfg.StorageBackend != "disk" {
		t.Errorf("expected default storage backend disk, got %s", cfg.StorageBackend)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	os.Setenv("BYTEBIN_PORT", "9090")
	os.Setenv("BYTEBIN_KEY_LENGTH", "12")
	defer os.Unsetenv("BYTEBIN_PORT")
	defer os.Unsetenv("BYTEBIN_KEY_LENGTH")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected env override port 9090, got %d", cfg.Port)
	}
	if cfg.KeyLength != 12 {
		t.Errorf("expected env override key length 12, got %d", cfg.KeyLength)
	}
}

func TestLoadRateLimitDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitPost.Max != 30 {
		t.Errorf("expected default post rate limit max 30, got %d", cfg.RateLimitPost.Max)
	}
	if cfg.RateLimitPost.Period != time.Minute {
		t.Errorf("expected default post rate limit period 1m, got %v", cfg.RateLimitPost.Period)
	}
}
