// Package config provides configuration management for algotrader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Gateway       GatewayConfig      `mapstructure:"gateway"`
	Workflow      WorkflowConfig     `mapstructure:"workflow"`
	Polling       PollingConfig      `mapstructure:"polling"`
	Security      SecurityConfig     `mapstructure:"security"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	UI            UIConfig           `mapstructure:"ui"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// GatewayConfig describes the remote backend the workflows talk to.
type GatewayConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	AppID            string        `mapstructure:"app_id"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
}

// WorkflowConfig holds defaults for signal and backtest generation.
type WorkflowConfig struct {
	BatchConcurrency int      `mapstructure:"batch_concurrency"` // 1 = sequential
	DefaultCapital   float64  `mapstructure:"default_capital"`
	DefaultSymbols   []string `mapstructure:"default_symbols"`
	DefaultLookback  string   `mapstructure:"default_lookback"` // e.g. "8760h"
}

// PollingConfig holds the refresh intervals and settle delays.
type PollingConfig struct {
	MarketDataInterval time.Duration `mapstructure:"market_data_interval"`
	FundingInterval    time.Duration `mapstructure:"funding_interval"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	RedirectDelay      time.Duration `mapstructure:"redirect_delay"`
	MarketDataRetries  int           `mapstructure:"market_data_retries"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	ReadOnlyMode bool `mapstructure:"read_only_mode"`
	AuditEnabled bool `mapstructure:"audit_enabled"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Level   string        `mapstructure:"level"` // all, workflows_only, errors_only
	Webhook WebhookConfig `mapstructure:"webhook"`
	Email   EmailConfig   `mapstructure:"email"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// KafkaConfig holds the workflow event stream configuration.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// ServerConfig configures the self-hosted backend.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	DatabasePath string        `mapstructure:"database_path"`
	LLMModel     string        `mapstructure:"llm_model"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// StoreConfig configures the local run history database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// Credentials holds API credentials.
type Credentials struct {
	Gateway GatewayCredentials `mapstructure:"gateway"`
	OpenAI  OpenAICredentials  `mapstructure:"openai"`
	Alpaca  AlpacaCredentials  `mapstructure:"alpaca"`
	SMTP    EmailConfig        `mapstructure:"smtp"`
	Auth    AuthCredentials    `mapstructure:"auth"`
}

// GatewayCredentials holds the bearer token for the remote gateway.
type GatewayCredentials struct {
	Token string `mapstructure:"token"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// AlpacaCredentials holds Alpaca trading and broker API credentials.
type AlpacaCredentials struct {
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	Paper         bool   `mapstructure:"paper"`
	BrokerKey     string `mapstructure:"broker_key"`
	BrokerSecret  string `mapstructure:"broker_secret"`
	BrokerBaseURL string `mapstructure:"broker_base_url"`
	Feed          string `mapstructure:"feed"`
}

// AuthCredentials holds the backend signing secret and admin bootstrap.
type AuthCredentials struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/algotrader"
	}
	return filepath.Join(home, ".config", "algotrader")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env files only fill variables that are not already set.
	loadDotEnv(filepath.Join(configDir, ".env"), ".env")

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("gateway.base_url", "http://localhost:8080")
	v.SetDefault("gateway.app_id", "algotrader")
	v.SetDefault("gateway.timeout", 90*time.Second)
	v.SetDefault("gateway.failure_threshold", 5)
	v.SetDefault("gateway.cooldown_period", 30*time.Second)

	v.SetDefault("workflow.batch_concurrency", 1)
	v.SetDefault("workflow.default_capital", 10000.0)
	v.SetDefault("workflow.default_symbols", []string{"SPY"})
	v.SetDefault("workflow.default_lookback", "8760h")

	v.SetDefault("polling.market_data_interval", 60*time.Second)
	v.SetDefault("polling.funding_interval", 30*time.Second)
	v.SetDefault("polling.settle_delay", 2*time.Second)
	v.SetDefault("polling.redirect_delay", 2*time.Second)
	v.SetDefault("polling.market_data_retries", 2)

	v.SetDefault("security.read_only_mode", false)
	v.SetDefault("security.audit_enabled", true)

	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.kafka.topic", "algotrader-events")
	v.SetDefault("notifications.kafka.client_id", "algotrader")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.database_path", filepath.Join(configDir, "backend.db"))
	v.SetDefault("server.llm_model", "gpt-4o-mini")
	v.SetDefault("server.token_ttl", 24*time.Hour)

	v.SetDefault("store.path", filepath.Join(configDir, "runs.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func newCredentialsViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	return v
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := newCredentialsViper(configDir)
	v.SetDefault("alpaca.paper", true)
	v.SetDefault("alpaca.broker_base_url", "https://broker-api.sandbox.alpaca.markets")
	v.SetDefault("alpaca.feed", "iex")
	v.SetDefault("smtp.smtp_port", 587)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "credentials.toml", credentialsTemplate); err != nil {
			return err
		}
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALGOTRADER_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("ALGOTRADER_APP_ID"); v != "" {
		cfg.Gateway.AppID = v
	}
	if v := os.Getenv("ALGOTRADER_TOKEN"); v != "" {
		cfg.Credentials.Gateway.Token = v
	}
	if v := os.Getenv("ALGOTRADER_READ_ONLY"); v != "" {
		cfg.Security.ReadOnlyMode = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Credentials.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Credentials.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BROKER_KEY"); v != "" {
		cfg.Credentials.Alpaca.BrokerKey = v
	}
	if v := os.Getenv("ALPACA_BROKER_SECRET"); v != "" {
		cfg.Credentials.Alpaca.BrokerSecret = v
	}

	if v := os.Getenv("ALGOTRADER_JWT_SECRET"); v != "" {
		cfg.Credentials.Auth.JWTSecret = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Credentials.SMTP.Password = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.Timeout < 0 {
		return fmt.Errorf("gateway.timeout must be non-negative")
	}
	if c.Workflow.BatchConcurrency < 0 {
		return fmt.Errorf("workflow.batch_concurrency must be non-negative")
	}
	if c.Workflow.DefaultCapital < 0 {
		return fmt.Errorf("workflow.default_capital must be non-negative")
	}
	if c.Polling.MarketDataInterval < 0 || c.Polling.FundingInterval < 0 {
		return fmt.Errorf("polling intervals must be non-negative")
	}
	if c.Polling.MarketDataRetries < 0 {
		return fmt.Errorf("polling.market_data_retries must be non-negative")
	}

	switch c.Notifications.Level {
	case "", "all", "workflows_only", "errors_only":
	default:
		return fmt.Errorf("invalid notifications.level: %s", c.Notifications.Level)
	}
	if c.Notifications.Kafka.Enabled && len(c.Notifications.Kafka.Brokers) == 0 {
		return fmt.Errorf("notifications.kafka.brokers is required when kafka is enabled")
	}

	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("invalid server.mode: %s", c.Server.Mode)
	}

	return nil
}

// Lookback parses the default backtest lookback window.
func (c *Config) Lookback() time.Duration {
	d, err := time.ParseDuration(c.Workflow.DefaultLookback)
	if err != nil || d <= 0 {
		return 365 * 24 * time.Hour
	}
	return d
}
