package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antiprophet/studio/pkg/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Poller    PollerConfig
	Playback  PlaybackConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Webhook   WebhookConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	PublicURL       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SessionIdle     time.Duration
}

// BackendConfig points at the remote REST backend
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PollerConfig controls video-job status polling.
// MaxAttempts and Deadline of zero mean "poll until the job terminates".
type PollerConfig struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	Deadline       time.Duration
}

// PlaybackConfig controls playback fallback and the CORS probe
type PlaybackConfig struct {
	BlobBackend  string // memory, minio
	MaxBlobSize  int64
	FetchTimeout time.Duration
	ProbeHosts   []string
	ProbeOrigin  string
	ProbeTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
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
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// WebhookConfig lists outgoing webhook endpoints
type WebhookConfig struct {
	Endpoints   []models.WebhookEndpoint
	Timeout     time.Duration
	RetryDelays []time.Duration
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	JWTSecret string
}

// RateLimitConfig holds per-user API rate limits
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// MetricsConfig holds the prometheus server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load reads configuration from file and environment variables. A .env file
// in the working directory is applied to the environment first. An empty
// configPath loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("studio")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks values that have no usable default
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.baseURL is required")
	}
	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if c.Poller.MaxAttempts < 0 {
		return errors.New("poller.maxAttempts must not be negative")
	}
	switch c.Playback.BlobBackend {
	case "memory", "minio":
	default:
		return fmt.Errorf("unknown playback.blobBackend %q", c.Playback.BlobBackend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.publicURL", "http://localhost:8080")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.sessionIdle", "30m")

	// Backend defaults
	v.SetDefault("backend.baseURL", "http://localhost:5000")
	v.SetDefault("backend.timeout", "30s")

	// Poller defaults
	v.SetDefault("poller.interval", "10s")
	v.SetDefault("poller.requestTimeout", "30s")
	v.SetDefault("poller.maxAttempts", 0)
	v.SetDefault("poller.deadline", "0s")

	// Playback defaults
	v.SetDefault("playback.blobBackend", "memory")
	v.SetDefault("playback.maxBlobSize", 256*1024*1024) // 256MB
	v.SetDefault("playback.fetchTimeout", "2m")
	v.SetDefault("playback.probeHosts", []string{`(^|\.)s3[.-]?([a-z0-9-]+\.)*amazonaws\.com$`})
	v.SetDefault("playback.probeOrigin", "")
	v.SetDefault("playback.probeTimeout", "10s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "studio-blobs")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlExpiry", "1h")

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Webhook defaults
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.retryDelays", []string{"1m", "5m", "15m", "1h"})

	v.SetDefault("auth.jwtSecret", "")

	v.SetDefault("rateLimit.rps", 20)
	v.SetDefault("rateLimit.burst", 40)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "studio")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}
