package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentpass/agentpass/pkg/observability"
)

// Config holds all daemon configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Vault         VaultConfig         `yaml:"vault"`
	Session       SessionConfig       `yaml:"session"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Screenshots   ScreenshotsConfig   `yaml:"screenshots"`
	Webhooks      WebhooksConfig      `yaml:"webhooks"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Requests per minute per client address; zero disables limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// VaultConfig selects the vault database and the root key material
type VaultConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string `yaml:"driver"`
	// DSN is the database connection string (file path for sqlite)
	DSN string `yaml:"dsn"`
	// KeyFile is the path to the service Ed25519 key the vault key is
	// derived from. Created on first start when missing.
	KeyFile string `yaml:"key_file"`
}

// SessionConfig selects the session cache backend
type SessionConfig struct {
	// Backend is "memory" or "redis"
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// OrchestratorConfig holds authentication flow settings and the
// addresses of the browser and mail sidecars
type OrchestratorConfig struct {
	BrowserURL       string        `yaml:"browser_url"`
	BrowserTimeout   time.Duration `yaml:"browser_timeout"`
	MailURL          string        `yaml:"mail_url"`
	EmailDomain      string        `yaml:"email_domain"`
	EmailWaitTimeout time.Duration `yaml:"email_wait_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
}

// EscalationConfig holds human escalation settings
type EscalationConfig struct {
	CaptchaTimeout time.Duration `yaml:"captcha_timeout"`
}

// ScreenshotsConfig selects the screenshot store backend
type ScreenshotsConfig struct {
	// Backend is "filesystem" or "s3"
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`

	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// WebhooksConfig holds webhook redelivery settings
type WebhooksConfig struct {
	RetryMaxAttempts  int           `yaml:"retry_max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	LogRetention      time.Duration `yaml:"log_retention"`
}

// MaintenanceConfig holds the background sweep schedule
type MaintenanceConfig struct {
	// Schedule is a cron expression; sweeps prune expired sessions,
	// terminal escalations, decided error records, and old delivery logs.
	Schedule string `yaml:"schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// LogLevel is debug, info, warn, or error
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8420",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",

			RateLimitPerMinute: 100,
		},
		Vault: VaultConfig{
			Driver:  "sqlite",
			DSN:     "agentpass.db",
			KeyFile: "agentpass.key",
		},
		Session: SessionConfig{
			Backend:   "memory",
			TTL:       time.Hour,
			RedisAddr: "localhost:6379",
		},
		Orchestrator: OrchestratorConfig{
			BrowserURL:       "http://localhost:3000",
			BrowserTimeout:   2 * time.Minute,
			MailURL:          "http://localhost:8025",
			EmailDomain:      "agents.localhost",
			EmailWaitTimeout: 30 * time.Second,
			MaxRetries:       2,
			BackoffBase:      100 * time.Millisecond,
		},
		Escalation: EscalationConfig{
			CaptchaTimeout: 5 * time.Minute,
		},
		Screenshots: ScreenshotsConfig{
			Backend: "filesystem",
			Dir:     "screenshots",
		},
		Webhooks: WebhooksConfig{
			RetryMaxAttempts:  5,
			RetryInitialDelay: time.Second,
			RetryMaxDelay:     5 * time.Minute,
			LogRetention:      24 * time.Hour,
		},
		Maintenance: MaintenanceConfig{
			Schedule: "*/5 * * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "agentpass",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML
// file at path, and AGENTPASS_* environment variables, in that order of
// precedence (environment wins).
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays AGENTPASS_* environment variables
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("AGENTPASS_HOST", c.Server.Host)
	c.Server.Port = getEnv("AGENTPASS_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("AGENTPASS_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("AGENTPASS_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("AGENTPASS_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("AGENTPASS_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("AGENTPASS_HEALTH_PORT", c.Server.HealthPort)
	c.Server.RateLimitPerMinute = getEnvInt("AGENTPASS_RATE_LIMIT_PER_MINUTE", c.Server.RateLimitPerMinute)

	c.Vault.Driver = getEnv("AGENTPASS_VAULT_DRIVER", c.Vault.Driver)
	c.Vault.DSN = getEnv("AGENTPASS_VAULT_DSN", c.Vault.DSN)
	c.Vault.KeyFile = getEnv("AGENTPASS_KEY_FILE", c.Vault.KeyFile)

	c.Session.Backend = getEnv("AGENTPASS_SESSION_BACKEND", c.Session.Backend)
	c.Session.TTL = getEnvDuration("AGENTPASS_SESSION_TTL", c.Session.TTL)
	c.Session.RedisAddr = getEnv("AGENTPASS_REDIS_ADDR", c.Session.RedisAddr)
	c.Session.RedisPassword = getEnv("AGENTPASS_REDIS_PASSWORD", c.Session.RedisPassword)
	c.Session.RedisDB = getEnvInt("AGENTPASS_REDIS_DB", c.Session.RedisDB)

	c.Orchestrator.BrowserURL = getEnv("AGENTPASS_BROWSER_URL", c.Orchestrator.BrowserURL)
	c.Orchestrator.BrowserTimeout = getEnvDuration("AGENTPASS_BROWSER_TIMEOUT", c.Orchestrator.BrowserTimeout)
	c.Orchestrator.MailURL = getEnv("AGENTPASS_MAIL_URL", c.Orchestrator.MailURL)
	c.Orchestrator.EmailDomain = getEnv("AGENTPASS_EMAIL_DOMAIN", c.Orchestrator.EmailDomain)
	c.Orchestrator.EmailWaitTimeout = getEnvDuration("AGENTPASS_EMAIL_WAIT_TIMEOUT", c.Orchestrator.EmailWaitTimeout)
	c.Orchestrator.MaxRetries = getEnvInt("AGENTPASS_MAX_RETRIES", c.Orchestrator.MaxRetries)
	c.Orchestrator.BackoffBase = getEnvDuration("AGENTPASS_BACKOFF_BASE", c.Orchestrator.BackoffBase)

	c.Escalation.CaptchaTimeout = getEnvDuration("AGENTPASS_CAPTCHA_TIMEOUT", c.Escalation.CaptchaTimeout)

	c.Screenshots.Backend = getEnv("AGENTPASS_SCREENSHOTS_BACKEND", c.Screenshots.Backend)
	c.Screenshots.Dir = getEnv("AGENTPASS_SCREENSHOTS_DIR", c.Screenshots.Dir)
	c.Screenshots.S3Bucket = getEnv("AGENTPASS_S3_BUCKET", c.Screenshots.S3Bucket)
	c.Screenshots.S3Region = getEnv("AGENTPASS_S3_REGION", c.Screenshots.S3Region)
	c.Screenshots.S3Endpoint = getEnv("AGENTPASS_S3_ENDPOINT", c.Screenshots.S3Endpoint)
	c.Screenshots.S3AccessKey = getEnv("AGENTPASS_S3_ACCESS_KEY", c.Screenshots.S3AccessKey)
	c.Screenshots.S3SecretKey = getEnv("AGENTPASS_S3_SECRET_KEY", c.Screenshots.S3SecretKey)
	c.Screenshots.S3UsePathStyle = getEnvBool("AGENTPASS_S3_USE_PATH_STYLE", c.Screenshots.S3UsePathStyle)

	c.Webhooks.RetryMaxAttempts = getEnvInt("AGENTPASS_WEBHOOK_RETRY_MAX_ATTEMPTS", c.Webhooks.RetryMaxAttempts)
	c.Webhooks.RetryInitialDelay = getEnvDuration("AGENTPASS_WEBHOOK_RETRY_INITIAL_DELAY", c.Webhooks.RetryInitialDelay)
	c.Webhooks.RetryMaxDelay = getEnvDuration("AGENTPASS_WEBHOOK_RETRY_MAX_DELAY", c.Webhooks.RetryMaxDelay)
	c.Webhooks.LogRetention = getEnvDuration("AGENTPASS_WEBHOOK_LOG_RETENTION", c.Webhooks.LogRetention)

	c.Maintenance.Schedule = getEnv("AGENTPASS_MAINTENANCE_SCHEDULE", c.Maintenance.Schedule)

	c.Observability.LogLevel = getEnv("AGENTPASS_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("AGENTPASS_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("AGENTPASS_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("AGENTPASS_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("AGENTPASS_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("AGENTPASS_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("AGENTPASS_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	switch c.Vault.Driver {
	case "sqlite", "postgres":
		if c.Vault.DSN == "" {
			return fmt.Errorf("vault DSN is required")
		}
	default:
		return fmt.Errorf("invalid vault driver: %s (must be sqlite or postgres)", c.Vault.Driver)
	}
	if c.Vault.KeyFile == "" {
		return fmt.Errorf("vault key file is required")
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis session backend")
		}
	default:
		return fmt.Errorf("invalid session backend: %s (must be memory or redis)", c.Session.Backend)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Orchestrator.BrowserURL == "" {
		return fmt.Errorf("browser sidecar URL is required")
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	switch c.Screenshots.Backend {
	case "filesystem":
		if c.Screenshots.Dir == "" {
			return fmt.Errorf("screenshots directory is required for filesystem storage")
		}
	case "s3":
		if c.Screenshots.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 screenshot storage")
		}
	default:
		return fmt.Errorf("invalid screenshots backend: %s (must be filesystem or s3)", c.Screenshots.Backend)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Level resolves the configured log level, defaulting to info
func (o ObservabilityConfig) Level() observability.LogLevel {
	return ParseLogLevel(o.LogLevel)
}

// ParseLogLevel parses a log level string, defaulting to info
func ParseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
