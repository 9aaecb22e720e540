package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the usage console.
type Config struct {
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Analytics     AnalyticsConfig     `mapstructure:"analytics"`
	Pagination    PaginationConfig    `mapstructure:"pagination"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Export        ExportConfig        `mapstructure:"export"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Log           LogConfig           `mapstructure:"log"`
	Mock          MockConfig          `mapstructure:"mock"`
}

// GatewayConfig points the console at the platform's admin API.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AnalyticsConfig bounds date-range selection.
type AnalyticsConfig struct {
	MaxAnalyticsDays      int    `mapstructure:"max_analytics_days"`
	LargeRangeWarningDays int    `mapstructure:"large_range_warning_days"`
	DefaultPreset         string `mapstructure:"default_preset"`
	Timezone              string `mapstructure:"timezone"`
}

// PaginationConfig holds the initial pagination state for breakdown tables.
type PaginationConfig struct {
	PerPage        int    `mapstructure:"per_page"`
	PerPageOptions []int  `mapstructure:"per_page_options"`
	SortBy         string `mapstructure:"sort_by"`
	SortOrder      string `mapstructure:"sort_order"`
}

// CacheConfig configures the query result cache.
type CacheConfig struct {
	TTL          time.Duration    `mapstructure:"ttl"`
	Store        string           `mapstructure:"store"`
	MaxCostBytes int64            `mapstructure:"max_cost_bytes"`
	Redis        CacheRedisConfig `mapstructure:"redis"`
}

// CacheRedisConfig is only consulted when cache.store is "redis".
type CacheRedisConfig struct {
	Addr      string `mapstructure:"addr"`
	DB        int    `mapstructure:"db"`
	Password  string `mapstructure:"password"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RetryConfig bounds automatic retries of retryable gateway errors.
// MaxRetries counts retries after the first attempt; zero disables them.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ExportConfig selects where finished exports are written.
type ExportConfig struct {
	Storage        string            `mapstructure:"storage"`
	FilenamePrefix string            `mapstructure:"filename_prefix"`
	Local          ExportLocalConfig `mapstructure:"local"`
	S3             ExportS3Config    `mapstructure:"s3"`
}

type ExportLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type ExportS3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type ObservabilityConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MockConfig drives the local development gateway.
type MockConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	Token                 string        `mapstructure:"token"`
	Seed                  int64         `mapstructure:"seed"`
	Users                 int           `mapstructure:"users"`
	Days                  int           `mapstructure:"days"`
	RateLimitEvery        int           `mapstructure:"rate_limit_every"`
	FailEvery             int           `mapstructure:"fail_every"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("USAGEDECK_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("usagedeck")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("USAGEDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the hard-coded fallback configuration used when loading fails.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		panic(fmt.Sprintf("decode built-in defaults: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("validate built-in defaults: %v", err))
	}
	return &cfg
}

// Validate normalizes the configuration, replacing out-of-range values with
// the built-in fallbacks and rejecting values that cannot be interpreted.
func (c *Config) Validate() error {
	c.Gateway.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gateway.BaseURL), "/")
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "http://localhost:8787"
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 30 * time.Second
	}

	if err := c.Analytics.validate(); err != nil {
		return err
	}
	if err := c.Pagination.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	c.Retry.validate()
	if err := c.Export.validate(); err != nil {
		return err
	}
	if err := c.Log.validate(); err != nil {
		return err
	}
	c.Mock.validate()
	return nil
}

func (c *AnalyticsConfig) validate() error {
	if c.MaxAnalyticsDays <= 0 {
		c.MaxAnalyticsDays = 90
	}
	if c.LargeRangeWarningDays <= 0 {
		c.LargeRangeWarningDays = 30
	}
	if c.LargeRangeWarningDays > c.MaxAnalyticsDays {
		c.LargeRangeWarningDays = c.MaxAnalyticsDays
	}
	c.DefaultPreset = strings.TrimSpace(c.DefaultPreset)
	if c.DefaultPreset == "" {
		c.DefaultPreset = "7d"
	}
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("analytics.timezone: %w", err)
	}
	c.Timezone = tz
	return nil
}

// Location resolves the configured timezone. Validate guarantees it parses.
func (c AnalyticsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PerPageChoices is the set of page sizes the backend accepts.
var PerPageChoices = []int{10, 25, 50, 100}

func (c *PaginationConfig) validate() error {
	if len(c.PerPageOptions) == 0 {
		c.PerPageOptions = slices.Clone(PerPageChoices)
	}
	for _, n := range c.PerPageOptions {
		if !slices.Contains(PerPageChoices, n) {
			return fmt.Errorf("pagination.per_page_options: %d is not an accepted page size", n)
		}
	}
	if !slices.Contains(c.PerPageOptions, c.PerPage) {
		c.PerPage = 50
	}
	c.SortBy = strings.TrimSpace(c.SortBy)
	if c.SortBy == "" {
		c.SortBy = "cost"
	}
	switch strings.ToLower(strings.TrimSpace(c.SortOrder)) {
	case "", "desc":
		c.SortOrder = "desc"
	case "asc":
		c.SortOrder = "asc"
	default:
		return fmt.Errorf("pagination.sort_order: %q is not asc or desc", c.SortOrder)
	}
	return nil
}

func (c *CacheConfig) validate() error {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxCostBytes <= 0 {
		c.MaxCostBytes = 64 << 20
	}
	switch strings.ToLower(strings.TrimSpace(c.Store)) {
	case "", "memory":
		c.Store = "memory"
	case "redis":
		c.Store = "redis"
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("cache.redis.addr must be provided when cache.store is redis")
		}
	default:
		return fmt.Errorf("cache.store: %q is not memory or redis", c.Store)
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "usagedeck:query"
	}
	return nil
}

func (c *RetryConfig) validate() {
	// Zero is a legal setting: it turns automatic retries off.
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
}

func (c *ExportConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage)) {
	case "", "local":
		c.Storage = "local"
	case "s3":
		c.Storage = "s3"
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return fmt.Errorf("export.s3.bucket must be provided when export.storage is s3")
		}
	default:
		return fmt.Errorf("export.storage: %q is not local or s3", c.Storage)
	}
	if strings.TrimSpace(c.Local.Directory) == "" {
		c.Local.Directory = "./exports"
	}
	c.FilenamePrefix = strings.TrimSpace(c.FilenamePrefix)
	if c.FilenamePrefix == "" {
		c.FilenamePrefix = "usage"
	}
	return nil
}

func (c *LogConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "":
		c.Level = "info"
	case "debug", "info", "warn", "error":
		c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	default:
		return fmt.Errorf("log.level: %q is not debug, info, warn, or error", c.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", "text":
		c.Format = "text"
	case "json":
		c.Format = "json"
	default:
		return fmt.Errorf("log.format: %q is not text or json", c.Format)
	}
	return nil
}

func (c *MockConfig) validate() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8787"
	}
	if strings.TrimSpace(c.Token) == "" {
		c.Token = "dev-token"
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Users <= 0 {
		c.Users = 12
	}
	if c.Days <= 0 {
		c.Days = 120
	}
	if c.RateLimitEvery < 0 {
		c.RateLimitEvery = 0
	}
	if c.FailEvery < 0 {
		c.FailEvery = 0
	}
	if c.GracefulShutdownDelay <= 0 {
		c.GracefulShutdownDelay = 5 * time.Second
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.base_url", "http://localhost:8787")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.timeout", "30s")

	v.SetDefault("analytics.max_analytics_days", 90)
	v.SetDefault("analytics.large_range_warning_days", 30)
	v.SetDefault("analytics.default_preset", "7d")
	v.SetDefault("analytics.timezone", "UTC")

	v.SetDefault("pagination.per_page", 50)
	v.SetDefault("pagination.per_page_options", []int{10, 25, 50, 100})
	v.SetDefault("pagination.sort_by", "cost")
	v.SetDefault("pagination.sort_order", "desc")

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.store", "memory")
	v.SetDefault("cache.max_cost_bytes", 64<<20)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "usagedeck:query")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff", "1s")
	v.SetDefault("retry.max_backoff", "30s")

	v.SetDefault("export.storage", "local")
	v.SetDefault("export.filename_prefix", "usage")
	v.SetDefault("export.local.directory", "./exports")

	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("mock.listen_addr", ":8787")
	v.SetDefault("mock.token", "dev-token")
	v.SetDefault("mock.seed", 42)
	v.SetDefault("mock.users", 12)
	v.SetDefault("mock.days", 120)
	v.SetDefault("mock.rate_limit_every", 0)
	v.SetDefault("mock.fail_every", 0)
	v.SetDefault("mock.graceful_shutdown_delay", "5s")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
