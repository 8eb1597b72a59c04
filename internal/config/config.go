package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/igormart21/milha-alerta-fly/internal/broker"
	"github.com/igormart21/milha-alerta-fly/internal/features"
	"github.com/igormart21/milha-alerta-fly/internal/service"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Cache     CacheConfig     `json:"cache"`
	Tracing   TracingConfig   `json:"tracing"`
	Logging   LoggingConfig   `json:"logging"`
	Auth      AuthConfig      `json:"auth"`
	Notify    NotifyConfig    `json:"notify"`
	Events    EventsConfig    `json:"events"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	// Features overrides the default state of named feature flags.
	Features map[string]bool `json:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `json:"port"`
	Host            string `json:"host"`
	EnableTLS       bool   `json:"enable_tls"`
	CertFile        string `json:"cert_file"`
	KeyFile         string `json:"key_file"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // in seconds
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// CacheConfig selects the stats cache. An empty RedisAddr keeps it in memory.
type CacheConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	StatsTTL      int    `json:"stats_ttl"` // in seconds
	SessionTTL    int    `json:"session_ttl"`
}

// TracingConfig holds the Jaeger exporter settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Environment string `json:"environment"`
}

// LoggingConfig controls log level and the optional rotated log file.
type LoggingConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AuthConfig holds session validation and the internal ingest token.
type AuthConfig struct {
	SupabaseURL string `json:"supabase_url"`
	SupabaseKey string `json:"supabase_key"`
	// StaticTokens is "token:user_id[:phone],..." for local development.
	StaticTokens string `json:"static_tokens"`
	IngestToken  string `json:"ingest_token"`
}

// NotifyConfig holds the WhatsApp gateway settings.
type NotifyConfig struct {
	WhatsAppEndpoint string `json:"whatsapp_endpoint"`
	WhatsAppToken    string `json:"whatsapp_token"`
	Timeout          int    `json:"timeout"`     // in seconds
	MaxElapsed       int    `json:"max_elapsed"` // in seconds
}

// EventsConfig selects the external event sink.
type EventsConfig struct {
	Sink          string `json:"sink"` // none, kafka or nats
	KafkaBrokers  string `json:"kafka_brokers"`
	KafkaTopic    string `json:"kafka_topic"`
	NATSURL       string `json:"nats_url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// LifecycleConfig holds alert lifecycle settings.
type LifecycleConfig struct {
	ReplacementPolicy string `json:"replacement_policy"`
	RetentionDays     int    `json:"retention_days"`
	SweepInterval     int    `json:"sweep_interval"` // in seconds
}

// LoadConfig loads configuration from environment variables and/or config file.
// A .env file in the working directory feeds the environment first.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 15,
		},
		Database: DatabaseConfig{
			Path: "./milha_alerta.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Cache: CacheConfig{
			StatsTTL:   300,
			SessionTTL: 60,
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Notify: NotifyConfig{
			Timeout:    30,
			MaxElapsed: 60,
		},
		Events: EventsConfig{
			Sink:          broker.KindNone,
			KafkaTopic:    "alert-events",
			SubjectPrefix: broker.DefaultSubjectPrefix,
		},
		Lifecycle: LifecycleConfig{
			ReplacementPolicy: string(service.PolicyLatest),
			RetentionDays:     365,
			SweepInterval:     3600,
		},
		Features: map[string]bool{},
	}
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString("SERVER_PORT", &cfg.Server.Port)
	setString("SERVER_HOST", &cfg.Server.Host)
	setBool("SERVER_ENABLE_TLS", &cfg.Server.EnableTLS)
	setString("SERVER_CERT_FILE", &cfg.Server.CertFile)
	setString("SERVER_KEY_FILE", &cfg.Server.KeyFile)
	setInt("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	setString("DATABASE_PATH", &cfg.Database.Path)

	if v := os.Getenv("MAX_REQUEST_BODY_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	setString("ALLOWED_ORIGINS", &cfg.Security.AllowedOrigins)

	setBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("RATE_LIMIT_RATE", &cfg.RateLimit.Rate)
	setInt("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	setString("REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	setInt("REDIS_DB", &cfg.Cache.RedisDB)
	setInt("CACHE_STATS_TTL", &cfg.Cache.StatsTTL)
	setInt("CACHE_SESSION_TTL", &cfg.Cache.SessionTTL)

	setBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("JAEGER_ENDPOINT", &cfg.Tracing.Endpoint)
	setString("ENVIRONMENT", &cfg.Tracing.Environment)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FILE", &cfg.Logging.File)
	setInt("LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	setInt("LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	setInt("LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays)

	setString("SUPABASE_URL", &cfg.Auth.SupabaseURL)
	setString("SUPABASE_KEY", &cfg.Auth.SupabaseKey)
	setString("STATIC_TOKENS", &cfg.Auth.StaticTokens)
	setString("INGEST_TOKEN", &cfg.Auth.IngestToken)

	setString("WHATSAPP_ENDPOINT", &cfg.Notify.WhatsAppEndpoint)
	setString("WHATSAPP_TOKEN", &cfg.Notify.WhatsAppToken)
	setInt("WHATSAPP_TIMEOUT", &cfg.Notify.Timeout)
	setInt("WHATSAPP_MAX_ELAPSED", &cfg.Notify.MaxElapsed)

	setString("EVENTS_SINK", &cfg.Events.Sink)
	setString("EVENTS_KAFKA_BROKERS", &cfg.Events.KafkaBrokers)
	setString("EVENTS_KAFKA_TOPIC", &cfg.Events.KafkaTopic)
	setString("EVENTS_NATS_URL", &cfg.Events.NATSURL)
	setString("EVENTS_SUBJECT_PREFIX", &cfg.Events.SubjectPrefix)

	setString("REPLACEMENT_POLICY", &cfg.Lifecycle.ReplacementPolicy)
	setInt("EXPIRY_RETENTION_DAYS", &cfg.Lifecycle.RetentionDays)
	setInt("SWEEP_INTERVAL", &cfg.Lifecycle.SweepInterval)

	if cfg.Features == nil {
		cfg.Features = map[string]bool{}
	}
	for _, f := range features.Defaults {
		if v := os.Getenv("FEATURE_" + strings.ToUpper(f.Name)); v != "" {
			cfg.Features[f.Name] = parseBool(v)
		}
	}
}

func setString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(key string, dst *bool) {
	if value := os.Getenv(key); value != "" {
		*dst = parseBool(value)
	}
}

func setInt(key string, dst *int) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Auth.SupabaseURL == "" && c.Auth.StaticTokens == "" {
		return fmt.Errorf("either SUPABASE_URL or STATIC_TOKENS is required")
	}
	if c.Auth.SupabaseURL != "" && c.Auth.SupabaseKey == "" {
		return fmt.Errorf("SUPABASE_KEY is required with SUPABASE_URL")
	}
	if _, err := service.ParsePolicy(c.Lifecycle.ReplacementPolicy); err != nil {
		return err
	}
	if c.Lifecycle.RetentionDays <= 0 {
		return fmt.Errorf("expiry retention must be positive")
	}
	if c.Lifecycle.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	switch c.Events.Sink {
	case broker.KindNone, "":
	case broker.KindKafka:
		if len(c.KafkaBrokers()) == 0 {
			return fmt.Errorf("EVENTS_KAFKA_BROKERS is required for the kafka sink")
		}
	case broker.KindNATS:
		if c.Events.NATSURL == "" {
			return fmt.Errorf("EVENTS_NATS_URL is required for the nats sink")
		}
	default:
		return fmt.Errorf("unknown events sink %q", c.Events.Sink)
	}
	return nil
}

// KafkaBrokers splits the comma-separated broker list.
func (c *Config) KafkaBrokers() []string {
	return splitList(c.Events.KafkaBrokers)
}

// Origins splits the comma-separated CORS origins.
func (c *Config) Origins() []string {
	return splitList(c.Security.AllowedOrigins)
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Seconds converts a seconds setting into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Retention is the expiry horizon of alerts without an end date.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Lifecycle.RetentionDays) * 24 * time.Hour
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
