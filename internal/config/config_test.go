package config

import (
	"testing"
	"time"
)

func TestDefaultProvidesSafeFallbacks(t *testing.T) {
	cfg := Default()

	if cfg.Analytics.MaxAnalyticsDays != 90 {
		t.Errorf("max analytics days: want 90, got %d", cfg.Analytics.MaxAnalyticsDays)
	}
	if cfg.Analytics.LargeRangeWarningDays != 30 {
		t.Errorf("warning days: want 30, got %d", cfg.Analytics.LargeRangeWarningDays)
	}
	if cfg.Pagination.PerPage != 50 {
		t.Errorf("per page: want 50, got %d", cfg.Pagination.PerPage)
	}
	if cfg.Pagination.SortOrder != "desc" {
		t.Errorf("sort order: want desc, got %q", cfg.Pagination.SortOrder)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache ttl: want 5m, got %s", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("max retries: want 3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialBackoff != time.Second {
		t.Errorf("initial backoff: want 1s, got %s", cfg.Retry.InitialBackoff)
	}
	if cfg.Retry.MaxBackoff != 30*time.Second {
		t.Errorf("max backoff: want 30s, got %s", cfg.Retry.MaxBackoff)
	}
}

func TestValidateRepairsOutOfRangeValues(t *testing.T) {
	cfg := Default()
	cfg.Analytics.MaxAnalyticsDays = -1
	cfg.Analytics.LargeRangeWarningDays = 0
	cfg.Pagination.PerPage = 33
	cfg.Cache.TTL = 0
	cfg.Retry.MaxRetries = -2
	cfg.Retry.InitialBackoff = -time.Second

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Analytics.MaxAnalyticsDays != 90 {
		t.Errorf("max analytics days: want 90, got %d", cfg.Analytics.MaxAnalyticsDays)
	}
	if cfg.Analytics.LargeRangeWarningDays != 30 {
		t.Errorf("warning days: want 30, got %d", cfg.Analytics.LargeRangeWarningDays)
	}
	if cfg.Pagination.PerPage != 50 {
		t.Errorf("per page outside accepted set should fall back to 50, got %d", cfg.Pagination.PerPage)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache ttl: want 5m, got %s", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxRetries != 0 {
		t.Errorf("negative retries should clamp to 0, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialBackoff != time.Second {
		t.Errorf("initial backoff: want 1s, got %s", cfg.Retry.InitialBackoff)
	}
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cache store", func(c *Config) { c.Cache.Store = "memcached" }},
		{"export storage", func(c *Config) { c.Export.Storage = "ftp" }},
		{"sort order", func(c *Config) { c.Pagination.SortOrder = "sideways" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"per page options", func(c *Config) { c.Pagination.PerPageOptions = []int{10, 33} }},
		{"timezone", func(c *Config) { c.Analytics.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("USAGEDECK_GATEWAY_BASE_URL", "https://gateway.example.com/")
	t.Setenv("USAGEDECK_ANALYTICS_MAX_ANALYTICS_DAYS", "45")
	t.Setenv("USAGEDECK_CACHE_TTL", "90s")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.BaseURL != "https://gateway.example.com" {
		t.Errorf("base url: want trailing slash trimmed, got %q", cfg.Gateway.BaseURL)
	}
	if cfg.Analytics.MaxAnalyticsDays != 45 {
		t.Errorf("max analytics days: want 45, got %d", cfg.Analytics.MaxAnalyticsDays)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("cache ttl: want 90s, got %s", cfg.Cache.TTL)
	}
}
