package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	GHL        GHLConfig        `yaml:"ghl" mapstructure:"ghl"`
	Meta       MetaConfig       `yaml:"meta" mapstructure:"meta"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Funnel     FunnelConfig     `yaml:"funnel" mapstructure:"funnel"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// GHLConfig holds GoHighLevel API settings.
type GHLConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	PipelineID  string `yaml:"pipeline_id" mapstructure:"pipeline_id"`
	LocationID  string `yaml:"location_id" mapstructure:"location_id"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	PageDelayMS int    `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	RetryBaseMS int    `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// MetaConfig holds Meta Graph API settings.
type MetaConfig struct {
	AccessToken      string `yaml:"access_token" mapstructure:"access_token"`
	AdAccountID      string `yaml:"ad_account_id" mapstructure:"ad_account_id"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	CacheTTLSecs     int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Configured reports whether both credentials are present.
func (m MetaConfig) Configured() bool {
	return m.AccessToken != "" && m.AdAccountID != ""
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
	Since    string `yaml:"since" mapstructure:"since"`
}

// NotionConfig holds Notion API credentials and the report database.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReportDB string `yaml:"report_db" mapstructure:"report_db"`
}

// CRMConfig selects the opportunity source.
type CRMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// FunnelConfig configures metric computation and caching.
type FunnelConfig struct {
	Timezone     string `yaml:"timezone" mapstructure:"timezone"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	TaxonomyFile string `yaml:"taxonomy_file" mapstructure:"taxonomy_file"`
	CrossRefMode string `yaml:"crossref_mode" mapstructure:"crossref_mode"`
	BufferDays   int    `yaml:"buffer_days" mapstructure:"buffer_days"`
}

// CacheTTL is the memory and snapshot freshness window.
func (f FunnelConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheTTLSecs) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures sync health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the variable names used by existing .env files.
var legacyEnv = map[string]string{
	"ghl.token":          "GHL_API_KEY",
	"ghl.pipeline_id":    "GHL_PIPELINE_ID",
	"ghl.location_id":    "GHL_LOCATION_ID",
	"meta.access_token":  "META_ACCESS_TOKEN",
	"meta.ad_account_id": "META_AD_ACCOUNT_ID",
	"anthropic.key":      "ANTHROPIC_API_KEY",
	"server.port":        "PORT",
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "FUNNEL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "funnel.db")
	v.SetDefault("ghl.token", "")
	v.SetDefault("ghl.pipeline_id", "")
	v.SetDefault("ghl.location_id", "")
	v.SetDefault("ghl.base_url", "https://rest.gohighlevel.com/v1")
	v.SetDefault("ghl.page_delay_ms", 500)
	v.SetDefault("ghl.retry_base_ms", 2000)
	v.SetDefault("ghl.max_retries", 3)
	v.SetDefault("meta.access_token", "")
	v.SetDefault("meta.ad_account_id", "")
	v.SetDefault("meta.base_url", "https://graph.facebook.com/v21.0")
	v.SetDefault("meta.cache_ttl_secs", 300)
	v.SetDefault("meta.breaker_threshold", 5)
	v.SetDefault("meta.breaker_reset_secs", 60)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4000)
	v.SetDefault("anthropic.cache_ttl_secs", 600)
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.since", "")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.report_db", "")
	v.SetDefault("crm.provider", "ghl")
	v.SetDefault("funnel.timezone", "America/Mexico_City")
	v.SetDefault("funnel.cache_ttl_secs", 300)
	v.SetDefault("funnel.taxonomy_file", "")
	v.SetDefault("funnel.crossref_mode", "proportional")
	v.SetDefault("funnel.buffer_days", 1)
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stale_after_hours", 24)
	v.SetDefault("monitoring.lookback_window_hours", 72)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "serve", "sync", "analyze" and "report"; the store and funnel checks apply
// to all of them.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Funnel.CacheTTLSecs <= 0 {
		errs = append(errs, "funnel.cache_ttl_secs must be > 0")
	}
	if c.Funnel.BufferDays < 0 {
		errs = append(errs, "funnel.buffer_days must be >= 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.crmErrors()...)
	case "sync":
		errs = append(errs, c.crmErrors()...)
	case "analyze":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "report":
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.ReportDB == "" {
			errs = append(errs, "notion.report_db is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) crmErrors() []string {
	var errs []string
	switch c.CRM.Provider {
	case "ghl":
		if c.GHL.Token == "" {
			errs = append(errs, "ghl.token is required")
		}
		if c.GHL.PipelineID == "" {
			errs = append(errs, "ghl.pipeline_id is required")
		}
	case "salesforce":
		if c.Salesforce.ClientID == "" {
			errs = append(errs, "salesforce.client_id is required")
		}
		if c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.key_path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown crm.provider %q", c.CRM.Provider))
	}
	return errs
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
