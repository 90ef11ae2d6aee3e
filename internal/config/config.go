package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"coachbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Chat       ChatConfig       `yaml:"chat"`
	Worker     WorkerConfig     `yaml:"worker"`
	// CatalogPath points to the providers/offerings/accounts seed file.
	CatalogPath string `yaml:"catalog_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BookingConfig holds the policy knobs of the reservation engine.
type BookingConfig struct {
	PendingHold   time.Duration `yaml:"pending_hold"`
	MinLeadTime   time.Duration `yaml:"min_lead_time"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// AttemptLimit booking attempts per client within AttemptWindow. 0 disables the throttle.
	AttemptLimit  int           `yaml:"attempt_limit"`
	AttemptWindow time.Duration `yaml:"attempt_window"`
}

// PricingConfig describes the fee schedule applied to gateway-mediated bookings.
// Percentages are plain decimal strings such as "2.9".
type PricingConfig struct {
	Currency             string `yaml:"currency"`
	GatewayPercent       string `yaml:"gateway_percent"`
	GatewayFixed         int64  `yaml:"gateway_fixed"`
	PlatformPercent      string `yaml:"platform_percent"`
	ServicePercent       string `yaml:"service_percent"`
	BundleServicePercent string `yaml:"bundle_service_percent"`
}

type GatewayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SecretKey  string `yaml:"secret_key"`
	SuccessURL string `yaml:"success_url"`
	CancelURL  string `yaml:"cancel_url"`
	// APIBase overrides the Stripe API endpoint (used by tests and mocks).
	APIBase string `yaml:"api_base"`
}

type ChatConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token"`
	ChatID      int64  `yaml:"chat_id"`
	MemberLimit int    `yaml:"member_limit"`
	Debug       bool   `yaml:"debug"`
}

type WorkerConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	BackoffMult  float64       `yaml:"backoff_multiplier"`
	Jitter       float64       `yaml:"jitter"`
	RedisQueue   string        `yaml:"redis_queue"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Booking.PendingHold <= 0 {
		return errors.New("booking.pending_hold must be positive")
	}
	if c.Booking.MinLeadTime < 0 {
		return errors.New("booking.min_lead_time must not be negative")
	}
	if c.Gateway.Enabled && c.Gateway.SecretKey == "" {
		return errors.New("gateway.secret_key is required when the gateway is enabled")
	}
	if c.Chat.Enabled && (c.Chat.BotToken == "" || c.Chat.ChatID == 0) {
		return errors.New("chat.bot_token and chat.chat_id are required when chat is enabled")
	}
	if c.Worker.Jitter < 0 || c.Worker.Jitter > 1 {
		return errors.New("worker.jitter must be between 0 and 1")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	if c.Booking.PendingHold == 0 {
		c.Booking.PendingHold = models.DefaultPendingHold
	}
	if c.Booking.MinLeadTime == 0 {
		c.Booking.MinLeadTime = models.DefaultMinLeadTime
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = models.DefaultSweepInterval
	}
	if c.Booking.AttemptWindow == 0 {
		c.Booking.AttemptWindow = models.DefaultBookingAttemptWindow
	}

	if c.Pricing.Currency == "" {
		c.Pricing.Currency = "usd"
	}

	if c.Chat.MemberLimit == 0 {
		c.Chat.MemberLimit = 2
	}

	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = models.ChannelQueueSize
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Worker.BackoffMult == 0 {
		c.Worker.BackoffMult = 2
	}
	if c.Worker.RedisQueue == "" {
		c.Worker.RedisQueue = "coachbook:channel_jobs"
	}
}
