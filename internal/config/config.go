// Package config provides configuration parsing and validation for the
// security alerts service. Values come from SECURITY_* environment variables,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/afikmenashe/security-alerting/internal/communication"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "SECURITY_"

// Pending store backends.
const (
	StoreNone     = "none"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Recipients is a parsed `level:target` list.
type Recipients []communication.Recipient

// Config holds all configuration parameters for the service.
type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:"127.0.0.1:9050"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	WebhookToken string `env:"WEBHOOK_TOKEN"` // empty disables the CCTV webhook

	Alerts  AlertsConfig
	Pending PendingConfig

	MetricsRedisAddr string `env:"METRICS_REDIS_ADDR"`

	Kafka KafkaConfig `envPrefix:"KAFKA_"`
	NATS  NATSConfig  `envPrefix:"NATS_"`

	Pushover PushoverConfig `envPrefix:"PUSHOVER_"`
	SMS      SMSConfig      `envPrefix:"SMS_"`
	Email    EmailConfig
	Slack    SlackConfig `envPrefix:"SLACK_"`
}

// AlertsConfig tunes the dispatcher and the retry loop.
type AlertsConfig struct {
	AlarmCooldown    time.Duration `env:"ALARM_COOLDOWN" envDefault:"5m"`
	RetryMax         int           `env:"ALERTS_RETRY_MAX" envDefault:"8"`
	RetryBaseDelay   time.Duration `env:"ALERTS_RETRY_BASE_DELAY" envDefault:"2s"`
	RetryMaxDelay    time.Duration `env:"ALERTS_RETRY_MAX_DELAY" envDefault:"90s"`
	ConcurrencyLimit int           `env:"ALERTS_CONCURRENCY_LIMIT" envDefault:"3"`
	QueueSize        int           `env:"ALERTS_QUEUE_SIZE" envDefault:"256"`
}

// PendingConfig selects the crash-recovery store.
type PendingConfig struct {
	Store       string `env:"PENDING_STORE" envDefault:"file"`
	Dir         string `env:"PENDING_DIR" envDefault:"pending-alerts"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisKey    string `env:"PENDING_REDIS_KEY" envDefault:"security-alerts:pending"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

// KafkaConfig enables the Kafka ingestion bridge when Brokers is set.
type KafkaConfig struct {
	Brokers string `env:"BROKERS"`
	Topic   string `env:"TOPIC" envDefault:"security.alerts"`
	GroupID string `env:"GROUP_ID" envDefault:"security-alerts"`
}

// NATSConfig enables the NATS ingestion bridge when URL is set.
type NATSConfig struct {
	URL     string `env:"URL"`
	Subject string `env:"SUBJECT" envDefault:"security.alerts"`
}

type PushoverConfig struct {
	Token      string     `env:"TOKEN"`
	Recipients Recipients `env:"RECIPIENTS"`
}

type SMSConfig struct {
	HTTPBase        string     `env:"HTTP_BASE"`
	Auth            string     `env:"AUTH"`
	CertificatePath string     `env:"CERTIFICATE_PATH"`
	Recipients      Recipients `env:"RECIPIENTS"`
	MaxLength       int        `env:"MAX_LENGTH" envDefault:"160"`
}

type EmailConfig struct {
	Backend      string     `env:"EMAIL_BACKEND" envDefault:"ses"`
	From         string     `env:"EMAIL_FROM"`
	Recipients   Recipients `env:"EMAIL_RECIPIENTS"`
	ResendAPIKey string     `env:"RESEND_API_KEY"`
	AWSRegion    string     `env:"AWS_REGION"`
}

type SlackConfig struct {
	Recipients Recipients `env:"RECIPIENTS"`
}

// Load reads an optional .env file and parses the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil, and validates it.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(Recipients{}): parseRecipients,
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRecipients(value string) (any, error) {
	list, err := communication.ParseRecipients(value)
	if err != nil {
		return nil, err
	}
	return Recipients(list), nil
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr cannot be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Alerts.AlarmCooldown < 0 {
		return fmt.Errorf("alarm-cooldown cannot be negative")
	}
	if c.Alerts.RetryMax < 1 {
		return fmt.Errorf("alerts-retry-max must be at least 1")
	}
	if c.Alerts.RetryBaseDelay < 0 || c.Alerts.RetryMaxDelay < 0 {
		return fmt.Errorf("alerts retry delays cannot be negative")
	}
	if c.Alerts.ConcurrencyLimit < 1 {
		return fmt.Errorf("alerts-concurrency-limit must be at least 1")
	}
	if c.Alerts.QueueSize < 1 {
		return fmt.Errorf("alerts-queue-size must be at least 1")
	}

	switch c.Pending.Store {
	case StoreNone:
	case StoreFile:
		if c.Pending.Dir == "" {
			return fmt.Errorf("pending-dir cannot be empty")
		}
	case StoreRedis:
		if c.Pending.RedisAddr == "" {
			return fmt.Errorf("redis-addr cannot be empty")
		}
	case StorePostgres:
		if c.Pending.PostgresDSN == "" {
			return fmt.Errorf("postgres-dsn cannot be empty")
		}
	default:
		return fmt.Errorf("unknown pending store %q", c.Pending.Store)
	}

	if c.Kafka.Brokers != "" {
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka-topic cannot be empty")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka-group-id cannot be empty")
		}
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats-subject cannot be empty")
	}
	if c.SMS.MaxLength < 0 {
		return fmt.Errorf("sms-max-length cannot be negative")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}
