package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/foire")
	t.Setenv("WAVE_API_KEY", "")
	t.Setenv("STRIPE_SECRET_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Wave.BaseURL != "https://api.wave.com" {
		t.Fatalf("unexpected wave base url %q", cfg.Wave.BaseURL)
	}
	if cfg.WaveEnabled() || cfg.StripeEnabled() || cfg.OrangeMoneyEnabled() {
		t.Fatalf("providers should be disabled without credentials")
	}
	if cfg.Redis.LockTTL != 30*time.Second {
		t.Fatalf("unexpected lock ttl %s", cfg.Redis.LockTTL)
	}
	if cfg.Reconcile.Batch != 50 || cfg.Reconcile.MaxAttempts != 10 {
		t.Fatalf("unexpected reconcile config %#v", cfg.Reconcile)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/foire")
	t.Setenv("SCAN_RATE_WINDOW", "30s")
	t.Setenv("SCAN_RATE_LIMIT", "10")
	t.Setenv("WAVE_API_KEY", "wave_sn_prod_x")
	t.Setenv("BASE_URL", "https://foire.example/")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scan.RateWindow != 30*time.Second || cfg.Scan.RateLimit != 10 {
		t.Fatalf("unexpected scan config %#v", cfg.Scan)
	}
	if !cfg.WaveEnabled() {
		t.Fatalf("wave should be enabled")
	}
	if cfg.BaseURL != "https://foire.example" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if cfg.Reconcile.MaxAttempts != 3 {
		t.Fatalf("unexpected reconcile max attempts %d", cfg.Reconcile.MaxAttempts)
	}
}

func TestLoadRejectsNonPositiveScanLimit(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/foire")
	t.Setenv("SCAN_RATE_LIMIT", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero scan limit")
	}
}
