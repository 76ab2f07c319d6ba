package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rolegate/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ROLEGATE_STORE_URL", "postgres://localhost/rolegate")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, "postgres", cfg.Store.Dialect)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 65536, cfg.Cache.MaxEntries)
	assert.Equal(t, "@every 5m", cfg.Sweep.Schedule)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Empty(t, cfg.Server.UserHeader)
	assert.Equal(t, "rolegate", cfg.Server.AdminResource)
	assert.Equal(t, "admin", cfg.Server.AdminAction)
	assert.Zero(t, cfg.Seed.GrantedBy)
	assert.Equal(t, observability.InfoLevel, cfg.Level())
	assert.False(t, cfg.OTel().Enabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ROLEGATE_STORE_URL", "file:rolegate.db")
	t.Setenv("ROLEGATE_STORE_DIALECT", "sqlite3")
	t.Setenv("ROLEGATE_STORE_TIMEOUT", "750ms")
	t.Setenv("ROLEGATE_CACHE_BACKEND", "redis")
	t.Setenv("ROLEGATE_CACHE_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("ROLEGATE_SWEEP_SCHEDULE", "*/10 * * * *")
	t.Setenv("ROLEGATE_SEED_FILE", "/etc/rolegate/seed.yaml")
	t.Setenv("ROLEGATE_LOG_LEVEL", "debug")
	t.Setenv("ROLEGATE_OTEL_ENABLED", "true")
	t.Setenv("ROLEGATE_OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Store.Dialect)
	assert.Equal(t, 750*time.Millisecond, cfg.Store.Timeout)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Cache.RedisURL)
	assert.Equal(t, "*/10 * * * *", cfg.Sweep.Schedule)
	assert.Equal(t, "/etc/rolegate/seed.yaml", cfg.Seed.File)
	assert.Equal(t, observability.DebugLevel, cfg.Level())

	otel := cfg.OTel()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "localhost:4317", otel.Endpoint)
	assert.Equal(t, 0.25, otel.SampleRatio)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing store url", map[string]string{}},
		{"unknown dialect", map[string]string{"ROLEGATE_STORE_DIALECT": "mysql"}},
		{"redis without url", map[string]string{"ROLEGATE_CACHE_BACKEND": "redis"}},
		{"unknown backend", map[string]string{"ROLEGATE_CACHE_BACKEND": "memcached"}},
		{"bad schedule", map[string]string{"ROLEGATE_SWEEP_SCHEDULE": "every now and then"}},
		{"bad log level", map[string]string{"ROLEGATE_LOG_LEVEL": "loud"}},
		{"same ports", map[string]string{"ROLEGATE_SERVER_METRICS_ADDR": ":8080"}},
		{"zero timeout", map[string]string{"ROLEGATE_STORE_TIMEOUT": "0s"}},
		{"unparseable duration", map[string]string{"ROLEGATE_CACHE_TTL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name != "missing store url" {
				t.Setenv("ROLEGATE_STORE_URL", "postgres://localhost/rolegate")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestValidate_SweepDisabledSkipsSchedule(t *testing.T) {
	t.Setenv("ROLEGATE_STORE_URL", "postgres://localhost/rolegate")
	t.Setenv("ROLEGATE_SWEEP_ENABLED", "false")
	t.Setenv("ROLEGATE_SWEEP_SCHEDULE", "not a schedule")

	_, err := LoadConfig()
	assert.NoError(t, err)
}
