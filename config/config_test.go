package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/generic"
)

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".env")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FEES_CALCULATION_STRATEGY", "discountable")

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchPause)
	assert.Equal(t, 10, cfg.DueDay)
	assert.Equal(t, "0 2 * * *", cfg.Schedule)
	assert.Empty(t, cfg.Schools)
	assert.Equal(t, "discountable", cfg.Strategy().Name())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEES_CALCULATION_STRATEGY", "terminal")
	t.Setenv("FEES_DB_DRIVER", "POSTGRES")
	t.Setenv("FEES_DB_DSN", "postgres://fees@localhost/fees")
	t.Setenv("FEES_GENERATION_BATCH_SIZE", "25")
	t.Setenv("FEES_GENERATION_BATCH_PAUSE", "2s")
	t.Setenv("FEES_GENERATION_DUE_DAY", "31")
	t.Setenv("FEES_GENERATION_SCHOOLS", "sch-1, sch-2,,")
	t.Setenv("FEES_HTTP_ALLOWED_ORIGINS", "https://admin.example.org")

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.BatchPause)
	assert.Equal(t, 31, cfg.DueDay)
	assert.Equal(t, []string{"sch-1", "sch-2"}, cfg.Schools)
	assert.Equal(t, []string{"https://admin.example.org"}, cfg.AllowedOrigins)
	assert.Equal(t, "terminal", cfg.Strategy().Name())
}

func TestLoad_ReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	// GIVEN: A .env file setting strategy and port, and FEES_HTTP_PORT in the environment
	// WHEN: Loading
	// THEN: The file fills the gap, the environment wins on conflict

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FEES_CALCULATION_STRATEGY=terminal\nFEES_HTTP_PORT=9000\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FEES_CALCULATION_STRATEGY") })
	t.Setenv("FEES_HTTP_PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "terminal", cfg.CalculationStrategy)
	assert.Equal(t, 7000, cfg.HTTPPort)
}

func TestLoad_StrategyIsRequired(t *testing.T) {
	t.Setenv("FEES_CALCULATION_STRATEGY", "")

	_, err := Load(noDotEnv(t))
	assert.ErrorIs(t, err, generic.ErrInvalidStrategy)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{DBDriver: "sqlite", DBDSN: ":memory:", CalculationStrategy: "terminal", BatchSize: 10, DueDay: 10}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing dsn", func(c *Config) { c.DBDSN = "" }, ErrMissingDSN},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, ErrUnknownDriver},
		{"unknown strategy", func(c *Config) { c.CalculationStrategy = "greedy" }, generic.ErrInvalidStrategy},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, ErrInvalidBatch},
		{"due day out of range", func(c *Config) { c.DueDay = 32 }, ErrInvalidDueDay},
	}

	base := valid()
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	c := Config{LogLevel: "debug", LogFormat: "json"}
	logger, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	c.LogFormat = "xml"
	_, err = c.NewLogger()
	assert.Error(t, err)

	c = Config{LogLevel: "loud"}
	_, err = c.NewLogger()
	assert.Error(t, err)
}
