package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mule detection service.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Database DatabaseConfig    `yaml:"database"`
	Redis    RedisConfig       `yaml:"redis"`
	Kafka    KafkaConfig       `yaml:"kafka"`
	Alerts   AlertsConfig      `yaml:"alerts"`
	Engine   heuristics.Config `yaml:"engine"`
	LogLevel string            `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               string        `yaml:"port" validate:"required,numeric"`
	AuthToken          string        `yaml:"auth_token"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	RequestTimeout     time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" validate:"gte=0"`
	MaxUploadBytes     int64         `yaml:"max_upload_bytes" validate:"gt=0"`
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL disables
// session persistence.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
}

// RedisConfig holds result cache configuration. An empty URL disables caching.
type RedisConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

// KafkaConfig holds event stream configuration. No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

// AlertsConfig holds ring alert configuration
type AlertsConfig struct {
	MinSeverity string          `yaml:"min_severity" validate:"omitempty,oneof=info low medium high critical"`
	Webhooks    []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

// WebhookConfig is one outbound alert receiver
type WebhookConfig struct {
	Name        string            `yaml:"name" validate:"required"`
	URL         string            `yaml:"url" validate:"required,url"`
	MinSeverity string            `yaml:"min_severity" validate:"omitempty,oneof=info low medium high critical"`
	Headers     map[string]string `yaml:"headers"`
}

// Default returns a configuration with every optional backend disabled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "5339",
			RequestTimeout:     30 * time.Second,
			RateLimitPerMinute: 30,
			MaxUploadBytes:     20 << 20,
		},
		Database: DatabaseConfig{MaxConns: 10},
		Redis:    RedisConfig{TTL: time.Hour},
		Kafka:    KafkaConfig{Topic: "analysis.completed"},
		Alerts:   AlertsConfig{MinSeverity: "medium"},
		Engine:   heuristics.DefaultConfig(),
		LogLevel: "info",
	}
}

// Load loads configuration from a YAML file on top of Default. Environment
// variables referenced as ${VAR} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	d := Default()
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", d.Server.Port),
			AuthToken:          getEnv("API_AUTH_TOKEN", ""),
			AllowedOrigins:     getEnvList("ALLOWED_ORIGINS"),
			RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", d.Server.RequestTimeout),
			RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", d.Server.RateLimitPerMinute),
			MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", int(d.Server.MaxUploadBytes))),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", int(d.Database.MaxConns))),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
			TTL: getEnvDuration("REDIS_TTL", d.Redis.TTL),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", d.Kafka.Topic),
		},
		Alerts: AlertsConfig{
			MinSeverity: getEnv("ALERT_MIN_SEVERITY", d.Alerts.MinSeverity),
		},
		Engine: heuristics.Config{
			CycleMinLength:            getEnvInt("ENGINE_CYCLE_MIN_LENGTH", d.Engine.CycleMinLength),
			CycleMaxLength:            getEnvInt("ENGINE_CYCLE_MAX_LENGTH", d.Engine.CycleMaxLength),
			MaxCyclesPerAccount:       getEnvInt("ENGINE_MAX_CYCLES_PER_ACCOUNT", d.Engine.MaxCyclesPerAccount),
			SmurfingWindow:            getEnvDuration("ENGINE_SMURFING_WINDOW", d.Engine.SmurfingWindow),
			SmurfingMinCounterparties: getEnvInt("ENGINE_SMURFING_MIN_COUNTERPARTIES", d.Engine.SmurfingMinCounterparties),
			SmurfingNoveltyRatio:      getEnvFloat("ENGINE_SMURFING_NOVELTY_RATIO", d.Engine.SmurfingNoveltyRatio),
			HighVolumeTxCount:         getEnvInt("ENGINE_HIGH_VOLUME_TX_COUNT", d.Engine.HighVolumeTxCount),
			HighVolumeOverlap:         getEnvFloat("ENGINE_HIGH_VOLUME_OVERLAP", d.Engine.HighVolumeOverlap),
			ShellMaxTxCount:           getEnvInt("ENGINE_SHELL_MAX_TX_COUNT", d.Engine.ShellMaxTxCount),
			ShellMinHops:              getEnvInt("ENGINE_SHELL_MIN_HOPS", d.Engine.ShellMinHops),
			ShellMaxHops:              getEnvInt("ENGINE_SHELL_MAX_HOPS", d.Engine.ShellMaxHops),
			VelocityThreshold:         getEnvInt("ENGINE_VELOCITY_THRESHOLD", d.Engine.VelocityThreshold),
		},
		LogLevel: getEnv("LOG_LEVEL", d.LogLevel),
	}
	if url := getEnv("ALERT_WEBHOOK_URL", ""); url != "" {
		cfg.Alerts.Webhooks = append(cfg.Alerts.Webhooks, WebhookConfig{
			Name:        getEnv("ALERT_WEBHOOK_NAME", "default"),
			URL:         url,
			MinSeverity: getEnv("ALERT_WEBHOOK_MIN_SEVERITY", ""),
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
