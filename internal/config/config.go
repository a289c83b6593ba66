package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/resilience"
	"github.com/sells-group/directory-cli/internal/runner"
	"github.com/sells-group/directory-cli/internal/throttle"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Media      MediaConfig      `yaml:"media" mapstructure:"media"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Throttle   ThrottleConfig   `yaml:"throttle" mapstructure:"throttle"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres | sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GoogleConfig holds Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// MediaConfig configures the FTP media host for entity photos. Photos are
// referenced but not uploaded when FTPAddr is empty.
type MediaConfig struct {
	FTPAddr     string `yaml:"ftp_addr" mapstructure:"ftp_addr"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	BaseDir     string `yaml:"base_dir" mapstructure:"base_dir"`
	PublicURL   string `yaml:"public_url" mapstructure:"public_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// NotionConfig holds Notion credentials. ReviewDB receives probable
// duplicates; RegistryDB holds per-type step overrides.
type NotionConfig struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	ReviewDB   string  `yaml:"review_db" mapstructure:"review_db"`
	RegistryDB string  `yaml:"registry_db" mapstructure:"registry_db"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ExtractionConfig tunes step adapters, duplicate detection and publication.
type ExtractionConfig struct {
	MaxPhotos          int      `yaml:"max_photos" mapstructure:"max_photos"`
	MaxReviews         int      `yaml:"max_reviews" mapstructure:"max_reviews"`
	MaxScrapePages     int      `yaml:"max_scrape_pages" mapstructure:"max_scrape_pages"`
	ScrapeExcludePaths []string `yaml:"scrape_exclude_paths" mapstructure:"scrape_exclude_paths"`
	FuzzyThreshold     float64  `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	PublishMinScore    float64  `yaml:"publish_min_score" mapstructure:"publish_min_score"`
}

// RunnerConfig configures background execution.
type RunnerConfig struct {
	Dispatcher        string `yaml:"dispatcher" mapstructure:"dispatcher"` // local | temporal
	PoolSize          int    `yaml:"pool_size" mapstructure:"pool_size"`
	OrphanTimeoutMins int    `yaml:"orphan_timeout_mins" mapstructure:"orphan_timeout_mins"`
	SweepIntervalMins int    `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
	SweepBatchSize    int    `yaml:"sweep_batch_size" mapstructure:"sweep_batch_size"`
	ShutdownSecs      int    `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
}

// TemporalConfig configures the durable dispatcher and worker.
type TemporalConfig struct {
	HostPort       string `yaml:"host_port" mapstructure:"host_port"`
	Namespace      string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue      string `yaml:"task_queue" mapstructure:"task_queue"`
	JobTimeoutMins int    `yaml:"job_timeout_mins" mapstructure:"job_timeout_mins"`
	HeartbeatSecs  int    `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
}

// RateConfig is one service token bucket.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second" mapstructure:"per_second"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// ThrottleConfig configures pacing.
type ThrottleConfig struct {
	StepDelayMs    int                   `yaml:"step_delay_ms" mapstructure:"step_delay_ms"`
	JobDelayMs     int                   `yaml:"job_delay_ms" mapstructure:"job_delay_ms"`
	BatchSize      int                   `yaml:"batch_size" mapstructure:"batch_size"`
	BatchPauseSecs int                   `yaml:"batch_pause_secs" mapstructure:"batch_pause_secs"`
	ServiceRates   map[string]RateConfig `yaml:"service_rates" mapstructure:"service_rates"`
}

// RetryConfig configures step retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	QuotaFactor      float64 `yaml:"quota_factor" mapstructure:"quota_factor"`
}

// CircuitConfig configures per-service breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RegistryConfig points at step override sources.
type RegistryConfig struct {
	OverridesFile string `yaml:"overrides_file" mapstructure:"overrides_file"`
}

// MonitoringConfig configures the alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	// AlertCooldownMins suppresses repeats of an alert type; 0 sends every time.
	AlertCooldownMins int `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
}

// ServerConfig configures the admin API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBulkItems   int      `yaml:"max_bulk_items" mapstructure:"max_bulk_items"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads .env, config.yaml and DIRECTORY_* environment variables, in
// increasing order of precedence.
func Load() (*Config, error) { return LoadFile("") }

// LoadFile is Load with an explicit config file. Unlike the default
// ./config.yaml, a named file must exist.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("DIRECTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing.Anthropic = cost.DefaultRates().Anthropic
	}
	if len(cfg.Throttle.ServiceRates) == 0 {
		cfg.Throttle.ServiceRates = make(map[string]RateConfig)
		for svc, r := range throttle.DefaultServiceRates() {
			cfg.Throttle.ServiceRates[svc] = RateConfig{PerSecond: r.PerSecond, Burst: r.Burst}
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "directory.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_bulk_items", 1000)
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("media.base_dir", "/media")
	v.SetDefault("media.timeout_secs", 30)
	v.SetDefault("media.user_agent", "directory-cli/1.0")
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("extraction.max_photos", 6)
	v.SetDefault("extraction.max_reviews", 10)
	v.SetDefault("extraction.max_scrape_pages", 5)
	v.SetDefault("extraction.scrape_exclude_paths", []string{"/blog/*", "/news/*", "/careers/*", "/privacy*", "/terms*"})
	v.SetDefault("extraction.fuzzy_threshold", 0.8)
	v.SetDefault("extraction.publish_min_score", 50.0)
	v.SetDefault("runner.dispatcher", "local")
	v.SetDefault("runner.pool_size", 4)
	v.SetDefault("runner.orphan_timeout_mins", 30)
	v.SetDefault("runner.sweep_interval_mins", 5)
	v.SetDefault("runner.sweep_batch_size", 200)
	v.SetDefault("runner.shutdown_secs", 60)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", runner.DefaultTaskQueue)
	v.SetDefault("temporal.job_timeout_mins", 60)
	v.SetDefault("temporal.heartbeat_secs", 10)
	v.SetDefault("throttle.step_delay_ms", 250)
	v.SetDefault("throttle.job_delay_ms", 2000)
	v.SetDefault("throttle.batch_size", 10)
	v.SetDefault("throttle.batch_pause_secs", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.quota_factor", 4.0)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)
	v.SetDefault("pricing.google.text_search", 0.032)
	v.SetDefault("pricing.google.details", 0.017)
	v.SetDefault("pricing.google.reviews", 0.02)
	v.SetDefault("pricing.google.photo", 0.007)
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.firecrawl.plan_monthly", 19.00)
	v.SetDefault("pricing.firecrawl.credits_included", 3000)
}

// Validate checks the settings a command needs. mode is one of serve,
// worker, extract, bulk or migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "migrate":
	case "serve", "worker", "extract", "bulk":
		if c.Google.Key == "" {
			errs = append(errs, "google.key is required")
		}
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Runner.PoolSize < 1 || c.Runner.PoolSize > 64 {
			errs = append(errs, "runner.pool_size must be between 1 and 64")
		}
		switch c.Runner.Dispatcher {
		case "local":
		case "temporal":
			if c.Temporal.HostPort == "" {
				errs = append(errs, "temporal.host_port is required for the temporal dispatcher")
			}
		default:
			errs = append(errs, "runner.dispatcher must be local or temporal")
		}
		if c.Extraction.FuzzyThreshold < 0 || c.Extraction.FuzzyThreshold > 1 {
			errs = append(errs, "extraction.fuzzy_threshold must be between 0 and 1")
		}
		if c.Extraction.PublishMinScore < 0 || c.Extraction.PublishMinScore > 100 {
			errs = append(errs, "extraction.publish_min_score must be between 0 and 100")
		}
		if c.Retry.MaxAttempts < 1 {
			errs = append(errs, "retry.max_attempts must be >= 1")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() resilience.RetryConfig {
	r := c.Retry
	p := resilience.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.Multiplier > 0 {
		p.Multiplier = r.Multiplier
	}
	if r.JitterFraction >= 0 {
		p.JitterFraction = r.JitterFraction
	}
	if r.QuotaFactor >= 1 {
		p.QuotaFactor = r.QuotaFactor
	}
	return p
}

// CircuitPolicy converts the circuit section.
func (c *Config) CircuitPolicy() resilience.CircuitBreakerConfig {
	p := resilience.DefaultCircuitBreakerConfig()
	if c.Circuit.FailureThreshold > 0 {
		p.FailureThreshold = c.Circuit.FailureThreshold
	}
	if c.Circuit.ResetTimeoutSecs > 0 {
		p.ResetTimeout = time.Duration(c.Circuit.ResetTimeoutSecs) * time.Second
	}
	return p
}

// ThrottlePolicy converts the throttle section.
func (c *Config) ThrottlePolicy() throttle.Config {
	t := c.Throttle
	rates := make(map[string]throttle.Rate, len(t.ServiceRates))
	for svc, r := range t.ServiceRates {
		rates[svc] = throttle.Rate{PerSecond: r.PerSecond, Burst: r.Burst}
	}
	return throttle.Config{
		StepDelay:    time.Duration(t.StepDelayMs) * time.Millisecond,
		JobDelay:     time.Duration(t.JobDelayMs) * time.Millisecond,
		BatchSize:    t.BatchSize,
		BatchPause:   time.Duration(t.BatchPauseSecs) * time.Second,
		ServiceRates: rates,
	}
}

// ReconcilePolicy converts the runner sweep settings.
func (c *Config) ReconcilePolicy() runner.ReconcileConfig {
	return runner.ReconcileConfig{
		OrphanTimeout: time.Duration(c.Runner.OrphanTimeoutMins) * time.Minute,
		Interval:      time.Duration(c.Runner.SweepIntervalMins) * time.Minute,
		BatchSize:     c.Runner.SweepBatchSize,
	}
}

// WorkflowPolicy converts the temporal section.
func (c *Config) WorkflowPolicy() runner.WorkflowConfig {
	return runner.WorkflowConfig{
		JobTimeout:        time.Duration(c.Temporal.JobTimeoutMins) * time.Minute,
		HeartbeatInterval: time.Duration(c.Temporal.HeartbeatSecs) * time.Second,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
