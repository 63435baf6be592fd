package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Auth     AuthConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
	Billing  BillingConfig
	Limits   LimitsConfig
	Media    MediaConfig
	ASR      ASRConfig
	Dubbing  DubbingConfig
	Worker   WorkerConfig
	Lock     LockConfig
	Webhooks WebhooksConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Driver          string // minio or s3
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	URLExpiry       time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled   bool
	Host      string
	Port      int
	User      string
	Password  string
	Vhost     string
	Exchange  string
	PollQueue string
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	AgentHost   string
	AgentPort   int
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// BillingConfig holds usage pricing
type BillingConfig struct {
	CostPerMinute         string
	DefaultAllowedMinutes string
	MaxReserveAttempts    int // 0 retries until ReserveTimeout
	ReserveTimeout        time.Duration
}

// LimitsConfig holds upload acceptance limits
type LimitsConfig struct {
	MaxUploadBytes     int64
	MaxDurationMinutes int
	AllowedFormats     []string
}

// MediaConfig holds ffmpeg settings
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	CRF         int
	Preset      string
}

// ASRConfig holds the speech recognition provider settings
type ASRConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DubbingConfig holds the dubbing provider settings
type DubbingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// WorkerConfig holds dubbing poller settings
type WorkerConfig struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	Concurrency     int
}

// LockConfig selects the per-video lock backend
type LockConfig struct {
	Backend string // local or redis
	TTL     time.Duration
}

// WebhooksConfig lists the subscribers notified of stage events
type WebhooksConfig struct {
	Timeout   time.Duration
	Endpoints []WebhookEndpoint
}

// WebhookEndpoint is one subscriber; empty Events subscribes to all
type WebhookEndpoint struct {
	URL    string
	Secret string
	Events []string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if _, err := c.Billing.CostPerMinuteDecimal(); err != nil {
		return errors.Wrap(err, "billing.costPerMinute")
	}
	allowed, err := c.Billing.DefaultAllowedDecimal()
	if err != nil {
		return errors.Wrap(err, "billing.defaultAllowedMinutes")
	}
	if allowed.IsNegative() {
		return errors.New("billing.defaultAllowedMinutes must not be negative")
	}
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		return errors.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Lock.Backend {
	case "local", "redis":
	default:
		return errors.Errorf("lock.backend %q is not supported", c.Lock.Backend)
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return errors.New("limits.maxUploadBytes must be positive")
	}
	if c.Limits.MaxDurationMinutes <= 0 {
		return errors.New("limits.maxDurationMinutes must be positive")
	}
	if len(c.Limits.AllowedFormats) == 0 {
		return errors.New("limits.allowedFormats must not be empty")
	}
	for i, ep := range c.Webhooks.Endpoints {
		if ep.URL == "" {
			return errors.Errorf("webhooks.endpoints[%d].url must not be empty", i)
		}
	}
	return nil
}

// ValidateWorker checks the settings the dubbing worker needs on top of
// Validate. The worker mutates videos alongside the API, so both must take
// per-video locks from the same Redis.
func (c *Config) ValidateWorker() error {
	if c.Lock.Backend != "redis" {
		return errors.Errorf("lock.backend must be \"redis\" to run the worker, got %q", c.Lock.Backend)
	}
	return nil
}

// CostPerMinuteDecimal parses the configured rate
func (b BillingConfig) CostPerMinuteDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(b.CostPerMinute)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid decimal %q", b.CostPerMinute)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	return d, nil
}

// DefaultAllowedDecimal parses the free allowance granted to new users
func (b BillingConfig) DefaultAllowedDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(b.DefaultAllowedMinutes)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid decimal %q", b.DefaultAllowedMinutes)
	}
	return d, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "10m")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimit", 10)
	v.SetDefault("server.rateBurst", 20)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "captionforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "captionforge")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlExpiry", "1h")

	// Queue defaults
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.exchange", "captionforge.events")
	v.SetDefault("queue.pollQueue", "captionforge.dubbing.poll")

	v.SetDefault("auth.jwtSecret", "change-me")
	v.SetDefault("auth.tokenTTL", "24h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.maxSizeMB", 100)
	v.SetDefault("logging.maxBackups", 5)
	v.SetDefault("logging.maxAgeDays", 28)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "captionforge")
	v.SetDefault("tracing.agentHost", "localhost")
	v.SetDefault("tracing.agentPort", 6831)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)

	// Billing defaults
	v.SetDefault("billing.costPerMinute", "0.10")
	v.SetDefault("billing.defaultAllowedMinutes", "30")
	v.SetDefault("billing.maxReserveAttempts", 0)
	v.SetDefault("billing.reserveTimeout", "10s")

	v.SetDefault("limits.maxUploadBytes", 100*1024*1024) // 100MB
	v.SetDefault("limits.maxDurationMinutes", 60)
	v.SetDefault("limits.allowedFormats", []string{"mp4", "webm", "wav"})

	v.SetDefault("media.ffmpegPath", "ffmpeg")
	v.SetDefault("media.ffprobePath", "ffprobe")
	v.SetDefault("media.tempDir", "/tmp/captionforge")
	v.SetDefault("media.crf", 23)
	v.SetDefault("media.preset", "medium")

	v.SetDefault("asr.baseURL", "https://api.openai.com/v1")
	v.SetDefault("asr.model", "whisper-1")
	v.SetDefault("asr.timeout", "5m")

	v.SetDefault("dubbing.baseURL", "https://api.elevenlabs.io")
	v.SetDefault("dubbing.timeout", "2m")

	v.SetDefault("worker.pollInterval", "15s")
	v.SetDefault("worker.maxPollDuration", "2h")
	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.ttl", "30m")

	v.SetDefault("webhooks.timeout", "10s")
}
