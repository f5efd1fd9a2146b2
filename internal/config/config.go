package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"commodity-intel/internal/logging"
	"commodity-intel/internal/ratelimit"
	"commodity-intel/internal/stats"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	ResultStore ResultStoreConfig `mapstructure:"result_store"`
	Perplexity  PerplexityConfig  `mapstructure:"perplexity"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	ZScore      stats.Params      `mapstructure:"zscore"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Server      ServerConfig      `mapstructure:"server"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the price store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ResultStoreConfig selects where AI results are persisted.
// An empty DSN with the postgres driver reuses database.dsn.
type ResultStoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// PerplexityConfig covers the external AI service.
type PerplexityConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AnalysisConfig tunes the query orchestrator.
type AnalysisConfig struct {
	ZScoreThreshold     float64          `mapstructure:"zscore_threshold"`
	CacheTTLHours       int              `mapstructure:"cache_ttl_hours"`
	HistoryBackfillDays int              `mapstructure:"history_backfill_days"`
	AdmissionTimeout    time.Duration    `mapstructure:"admission_timeout"`
	MinNewsItems        int              `mapstructure:"min_news_items"`
	MaxNewsItems        int              `mapstructure:"max_news_items"`
	NewsRetention       int              `mapstructure:"news_retention"`
	Timeframes          []string         `mapstructure:"timeframes"`
	RateLimitTiers      []ratelimit.Tier `mapstructure:"rate_limit_tiers"`
}

// CatalogConfig locates the ticker reference and sector sources.
type CatalogConfig struct {
	SectorsPath string        `mapstructure:"sectors_path"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	ForceRefresh    bool          `mapstructure:"force_refresh"`
}

// AlertingConfig defines anomaly thresholds and routing.
type AlertingConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	ZScoreThreshold float64        `mapstructure:"zscore_threshold"`
	Channels        []string       `mapstructure:"channels"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ServerConfig configures the JSON API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMMODITYINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "commodityintel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("result_store.dsn", "")
	v.SetDefault("perplexity.api_key", "")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("result_store.driver", "postgres")

	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("perplexity.temperature", 0.2)
	v.SetDefault("perplexity.max_tokens", 4000)
	v.SetDefault("perplexity.request_timeout", "30s")
	v.SetDefault("perplexity.max_attempts", 3)
	v.SetDefault("perplexity.initial_backoff", "1s")
	v.SetDefault("perplexity.user_agent", "commodityintel/1.0")

	v.SetDefault("analysis.zscore_threshold", 2.0)
	v.SetDefault("analysis.cache_ttl_hours", 24)
	v.SetDefault("analysis.history_backfill_days", 7)
	v.SetDefault("analysis.admission_timeout", "30s")
	v.SetDefault("analysis.min_news_items", 3)
	v.SetDefault("analysis.max_news_items", 6)
	v.SetDefault("analysis.news_retention", 50)
	v.SetDefault("analysis.timeframes", []string{"1 week"})

	v.SetDefault("zscore.lookback_days", 90)
	v.SetDefault("zscore.window", 30)
	v.SetDefault("zscore.daily_threshold", 0.5)

	v.SetDefault("catalog.sectors_path", "configs/news_sources.yaml")
	v.SetDefault("catalog.cache_ttl", "1h")

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f6d6d))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.force_refresh", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.zscore_threshold", 3.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch strings.ToLower(c.ResultStore.Driver) {
	case "postgres", "sqlite", "memory", "none":
	default:
		return fmt.Errorf("result_store.driver %q is not supported", c.ResultStore.Driver)
	}
	if strings.EqualFold(c.ResultStore.Driver, "sqlite") && c.ResultStore.DSN == "" {
		return fmt.Errorf("result_store.dsn is required for sqlite")
	}
	if c.Analysis.ZScoreThreshold < 0 {
		return fmt.Errorf("analysis.zscore_threshold cannot be negative")
	}
	if c.Analysis.CacheTTLHours <= 0 {
		return fmt.Errorf("analysis.cache_ttl_hours must be greater than zero")
	}
	if c.Analysis.HistoryBackfillDays < 0 {
		return fmt.Errorf("analysis.history_backfill_days cannot be negative")
	}
	if c.Analysis.MaxNewsItems < c.Analysis.MinNewsItems {
		return fmt.Errorf("analysis.max_news_items must be >= analysis.min_news_items")
	}
	for _, tier := range c.Analysis.RateLimitTiers {
		if tier.MaxCalls <= 0 || tier.Window <= 0 {
			return fmt.Errorf("analysis.rate_limit_tiers: tier %q needs positive max_calls and window", tier.Name)
		}
	}
	if c.ZScore.Window < 2 {
		return fmt.Errorf("zscore.window must be at least 2")
	}
	if c.ZScore.DailyThreshold < 0 || c.ZScore.DailyThreshold > 1 {
		return fmt.Errorf("zscore.daily_threshold must be within [0,1]")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// Timeframes returns the configured refresh timeframes.
func (c *Config) Timeframes() []string {
	if len(c.Analysis.Timeframes) == 0 {
		return []string{"1 week"}
	}
	return c.Analysis.Timeframes
}

// CacheTTL converts cache_ttl_hours into a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Analysis.CacheTTLHours) * time.Hour
}

// ResultStoreDSN resolves the result store connection string.
func (c *Config) ResultStoreDSN() string {
	if c.ResultStore.DSN == "" && strings.EqualFold(c.ResultStore.Driver, "postgres") {
		return c.Database.DSN
	}
	return c.ResultStore.DSN
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
