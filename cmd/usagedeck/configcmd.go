package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Config loads the configuration exactly as the other commands do,
applies defaults and validation, and prints the result with secrets
redacted. Useful for checking which file and environment values won.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.Options{ConfigFile: cfgFile, EnvFile: envFile})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if jsonOut {
		return printJSON(configDump(cfg))
	}

	fmt.Printf("gateway:\n")
	fmt.Printf("  base_url: %s\n", cfg.Gateway.BaseURL)
	fmt.Printf("  token: %s\n", redactSecret(cfg.Gateway.Token))
	fmt.Printf("  timeout: %s\n", cfg.Gateway.Timeout)
	fmt.Printf("analytics:\n")
	fmt.Printf("  max_analytics_days: %d\n", cfg.Analytics.MaxAnalyticsDays)
	fmt.Printf("  large_range_warning_days: %d\n", cfg.Analytics.LargeRangeWarningDays)
	fmt.Printf("  default_preset: %s\n", cfg.Analytics.DefaultPreset)
	fmt.Printf("  timezone: %s\n", cfg.Analytics.Timezone)
	fmt.Printf("pagination:\n")
	fmt.Printf("  per_page: %d\n", cfg.Pagination.PerPage)
	fmt.Printf("  per_page_options: %v\n", cfg.Pagination.PerPageOptions)
	fmt.Printf("  sort_by: %s\n", cfg.Pagination.SortBy)
	fmt.Printf("  sort_order: %s\n", cfg.Pagination.SortOrder)
	fmt.Printf("cache:\n")
	fmt.Printf("  store: %s\n", cfg.Cache.Store)
	fmt.Printf("  ttl: %s\n", cfg.Cache.TTL)
	fmt.Printf("  max_cost_bytes: %d\n", cfg.Cache.MaxCostBytes)
	if cfg.Cache.Store == "redis" {
		fmt.Printf("  redis.addr: %s\n", cfg.Cache.Redis.Addr)
		fmt.Printf("  redis.db: %d\n", cfg.Cache.Redis.DB)
		fmt.Printf("  redis.password: %s\n", redactSecret(cfg.Cache.Redis.Password))
		fmt.Printf("  redis.key_prefix: %s\n", cfg.Cache.Redis.KeyPrefix)
	}
	fmt.Printf("retry:\n")
	fmt.Printf("  max_retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Printf("  initial_backoff: %s\n", cfg.Retry.InitialBackoff)
	fmt.Printf("  max_backoff: %s\n", cfg.Retry.MaxBackoff)
	fmt.Printf("export:\n")
	fmt.Printf("  storage: %s\n", cfg.Export.Storage)
	fmt.Printf("  filename_prefix: %s\n", cfg.Export.FilenamePrefix)
	if cfg.Export.Storage == "s3" {
		fmt.Printf("  s3.bucket: %s\n", cfg.Export.S3.Bucket)
		fmt.Printf("  s3.prefix: %s\n", cfg.Export.S3.Prefix)
		fmt.Printf("  s3.region: %s\n", cfg.Export.S3.Region)
		fmt.Printf("  s3.endpoint: %s\n", cfg.Export.S3.Endpoint)
	} else {
		fmt.Printf("  local.directory: %s\n", cfg.Export.Local.Directory)
	}
	fmt.Printf("observability:\n")
	fmt.Printf("  enable_metrics: %t\n", cfg.Observability.EnableMetrics)
	fmt.Printf("  enable_otlp: %t\n", cfg.Observability.EnableOTLP)
	fmt.Printf("  otlp_endpoint: %s\n", cfg.Observability.OTLPEndpoint)
	fmt.Printf("log:\n")
	fmt.Printf("  level: %s\n", cfg.Log.Level)
	fmt.Printf("  format: %s\n", cfg.Log.Format)
	fmt.Printf("mock:\n")
	fmt.Printf("  listen_addr: %s\n", cfg.Mock.ListenAddr)
	fmt.Printf("  token: %s\n", redactSecret(cfg.Mock.Token))
	fmt.Printf("  seed: %d\n", cfg.Mock.Seed)
	fmt.Printf("  users: %d\n", cfg.Mock.Users)
	fmt.Printf("  days: %d\n", cfg.Mock.Days)
	fmt.Printf("  rate_limit_every: %d\n", cfg.Mock.RateLimitEvery)
	fmt.Printf("  fail_every: %d\n", cfg.Mock.FailEvery)
	return nil
}

func configDump(cfg *config.Config) map[string]any {
	return map[string]any{
		"gateway": map[string]any{
			"baseUrl": cfg.Gateway.BaseURL,
			"token":   redactSecret(cfg.Gateway.Token),
			"timeout": cfg.Gateway.Timeout.String(),
		},
		"analytics": map[string]any{
			"maxAnalyticsDays":      cfg.Analytics.MaxAnalyticsDays,
			"largeRangeWarningDays": cfg.Analytics.LargeRangeWarningDays,
			"defaultPreset":         cfg.Analytics.DefaultPreset,
			"timezone":              cfg.Analytics.Timezone,
		},
		"pagination": map[string]any{
			"perPage":        cfg.Pagination.PerPage,
			"perPageOptions": cfg.Pagination.PerPageOptions,
			"sortBy":         cfg.Pagination.SortBy,
			"sortOrder":      cfg.Pagination.SortOrder,
		},
		"cache": map[string]any{
			"store":        cfg.Cache.Store,
			"ttl":          cfg.Cache.TTL.String(),
			"maxCostBytes": cfg.Cache.MaxCostBytes,
			"redis": map[string]any{
				"addr":      cfg.Cache.Redis.Addr,
				"db":        cfg.Cache.Redis.DB,
				"password":  redactSecret(cfg.Cache.Redis.Password),
				"keyPrefix": cfg.Cache.Redis.KeyPrefix,
			},
		},
		"retry": map[string]any{
			"maxRetries":     cfg.Retry.MaxRetries,
			"initialBackoff": cfg.Retry.InitialBackoff.String(),
			"maxBackoff":     cfg.Retry.MaxBackoff.String(),
		},
		"export": map[string]any{
			"storage":        cfg.Export.Storage,
			"filenamePrefix": cfg.Export.FilenamePrefix,
			"local":          map[string]any{"directory": cfg.Export.Local.Directory},
			"s3": map[string]any{
				"bucket":   cfg.Export.S3.Bucket,
				"prefix":   cfg.Export.S3.Prefix,
				"region":   cfg.Export.S3.Region,
				"endpoint": cfg.Export.S3.Endpoint,
			},
		},
		"observability": map[string]any{
			"enableMetrics": cfg.Observability.EnableMetrics,
			"enableOtlp":    cfg.Observability.EnableOTLP,
			"otlpEndpoint":  cfg.Observability.OTLPEndpoint,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"mock": map[string]any{
			"listenAddr":     cfg.Mock.ListenAddr,
			"token":          redactSecret(cfg.Mock.Token),
			"seed":           cfg.Mock.Seed,
			"users":          cfg.Mock.Users,
			"days":           cfg.Mock.Days,
			"rateLimitEvery": cfg.Mock.RateLimitEvery,
			"failEvery":      cfg.Mock.FailEvery,
		},
	}
}

// redactSecret keeps the last four characters so two configs can be told
// apart without exposing the value.
func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
