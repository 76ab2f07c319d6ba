package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/rolegate/pkg/observability"
)

// Prefix is prepended to every environment variable name
const Prefix = "ROLEGATE"

// Config holds all daemon configuration
type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Store         StoreConfig         `envconfig:"STORE"`
	Cache         CacheConfig         `envconfig:"CACHE"`
	Sweep         SweepConfig         `envconfig:"SWEEP"`
	Seed          SeedConfig          `envconfig:"SEED"`
	Audit         AuditConfig         `envconfig:"AUDIT"`

	// Embedded so its variables sit directly under the prefix
	ObservabilityConfig
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080" validate:"required"`
	MetricsAddr     string        `envconfig:"METRICS_ADDR" default:":9090" validate:"required,nefield=Addr"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`

	// UserHeader names a header set by a trusted proxy carrying the caller's
	// user id. When set, administrative routes require AdminAction on
	// AdminResource.
	UserHeader    string `envconfig:"USER_HEADER"`
	AdminResource string `envconfig:"ADMIN_RESOURCE" default:"rolegate" validate:"required_with=UserHeader"`
	AdminAction   string `envconfig:"ADMIN_ACTION" default:"admin" validate:"required_with=UserHeader"`
}

// StoreConfig selects and tunes the backing database
type StoreConfig struct {
	URL          string        `envconfig:"URL" validate:"required"`
	Dialect      string        `envconfig:"DIALECT" default:"postgres" validate:"oneof=postgres sqlite3"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"gt=0"`
	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" default:"25" validate:"gte=1"`
	MaxIdleConns int           `envconfig:"MAX_IDLE_CONNS" default:"5" validate:"gte=0,ltefield=MaxOpenConns"`
}

// CacheConfig selects the permission cache backend
type CacheConfig struct {
	Backend     string        `envconfig:"BACKEND" default:"memory" validate:"oneof=memory redis"`
	TTL         time.Duration `envconfig:"TTL" default:"15m" validate:"gt=0"`
	MaxEntries  int           `envconfig:"MAX_ENTRIES" default:"65536" validate:"gte=1"`
	Shards      int           `envconfig:"SHARDS" default:"32" validate:"gte=1,lte=4096"`
	RedisURL    string        `envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
	RedisPrefix string        `envconfig:"REDIS_PREFIX" default:"rolegate:perm"`
}

// SweepConfig schedules the expiration sweeper
type SweepConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"true"`
	Schedule string `envconfig:"SCHEDULE" default:"@every 5m" validate:"required"`
}

// SeedConfig points at an optional YAML seed document
type SeedConfig struct {
	File  string `envconfig:"FILE"`
	Watch bool   `envconfig:"WATCH" default:"true"`

	// GrantedBy is recorded as the granter of seeded role permissions
	GrantedBy int64 `envconfig:"GRANTED_BY" default:"0" validate:"gte=0"`
}

// AuditConfig adds a JSON-lines file sink next to the database sink when Dir is set
type AuditConfig struct {
	Dir      string `envconfig:"DIR"`
	MaxSize  int64  `envconfig:"MAX_SIZE" default:"104857600" validate:"gte=0"`
	MaxFiles int    `envconfig:"MAX_FILES" default:"10" validate:"gte=0"`
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	OTelEnabled        bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint       string  `envconfig:"OTEL_ENDPOINT" default:"localhost:4317" validate:"required_if=OTelEnabled true"`
	OTelServiceName    string  `envconfig:"OTEL_SERVICE_NAME" default:"rolegate" validate:"required_if=OTelEnabled true"`
	OTelServiceVersion string  `envconfig:"OTEL_SERVICE_VERSION" default:"1.0.0"`
	OTelInsecure       bool    `envconfig:"OTEL_INSECURE" default:"true"`
	OTelSampleRatio    float64 `envconfig:"OTEL_SAMPLE_RATIO" default:"1" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// LoadConfig reads configuration from ROLEGATE_* environment variables and
// validates it
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks struct tags plus the values tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, err := observability.ParseLogLevel(c.ObservabilityConfig.LogLevel); err != nil {
		return err
	}

	if c.Sweep.Enabled {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", c.Sweep.Schedule, err)
		}
	}

	return nil
}

// Level returns the parsed log level
func (c *Config) Level() observability.LogLevel {
	level, _ := observability.ParseLogLevel(c.ObservabilityConfig.LogLevel)
	return level
}

// OTel returns the tracing settings in the form InitOTel takes
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.ObservabilityConfig.OTelEnabled,
		Endpoint:       c.ObservabilityConfig.OTelEndpoint,
		ServiceName:    c.ObservabilityConfig.OTelServiceName,
		ServiceVersion: c.ObservabilityConfig.OTelServiceVersion,
		Insecure:       c.ObservabilityConfig.OTelInsecure,
		SampleRatio:    c.ObservabilityConfig.OTelSampleRatio,
	}
}
