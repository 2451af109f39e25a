// Package config loads service settings from defaults, an optional .env
// file and FEES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/warp/fee-engine/fees"
)

const EnvPrefix = "FEES"

type Config struct {
	HTTPPort            int
	AllowedOrigins      []string
	DBDriver            string
	DBDSN               string
	RedisURL            string
	Schedule            string
	Schools             []string
	BatchSize           int
	Parallelism         int
	BatchPause          time.Duration
	DueDay              int
	CacheSize           int
	CacheTTL            time.Duration
	CalculationStrategy string
	LogLevel            string
	LogFormat           string
}

var (
	ErrMissingDSN    = errors.New("db.dsn is required")
	ErrUnknownDriver = errors.New("db.driver must be sqlite or postgres")
	ErrInvalidBatch  = errors.New("generation.batch_size must be positive")
	ErrInvalidDueDay = errors.New("generation.due_day must be between 1 and 31")
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("http.port", 8080)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "./data/fees.db")
	v.SetDefault("http.allowed_origins", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("generation.schedule", "0 2 * * *")
	v.SetDefault("generation.schools", "")
	v.SetDefault("generation.batch_size", fees.DefaultBatchSize)
	v.SetDefault("generation.parallelism", fees.DefaultParallelism)
	v.SetDefault("generation.batch_pause", fees.DefaultBatchPause)
	v.SetDefault("generation.due_day", fees.DefaultDueDay)
	v.SetDefault("generation.cache_size", fees.DefaultCacheSize)
	v.SetDefault("generation.cache_ttl", fees.DefaultCacheTTL)
	v.SetDefault("calculation_strategy", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads dotEnvPath when it exists (empty means ".env"), then the
// environment, and validates the result.
func Load(dotEnvPath string) (*Config, error) {
	if dotEnvPath == "" {
		dotEnvPath = ".env"
	}
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, fmt.Errorf("config.godotenv(%s): %w", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config.os.Stat(%s): %w", dotEnvPath, err)
	}

	v := newViper()
	cfg := &Config{
		HTTPPort:            v.GetInt("http.port"),
		AllowedOrigins:      splitList(v.GetString("http.allowed_origins")),
		DBDriver:            strings.ToLower(v.GetString("db.driver")),
		DBDSN:               v.GetString("db.dsn"),
		RedisURL:            v.GetString("redis.url"),
		Schedule:            v.GetString("generation.schedule"),
		Schools:             splitList(v.GetString("generation.schools")),
		BatchSize:           v.GetInt("generation.batch_size"),
		Parallelism:         v.GetInt("generation.parallelism"),
		BatchPause:          v.GetDuration("generation.batch_pause"),
		DueDay:              v.GetInt("generation.due_day"),
		CacheSize:           v.GetInt("generation.cache_size"),
		CacheTTL:            v.GetDuration("generation.cache_ttl"),
		CalculationStrategy: v.GetString("calculation_strategy"),
		LogLevel:            v.GetString("log.level"),
		LogFormat:           v.GetString("log.format"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return ErrMissingDSN
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.DBDriver)
	}
	if _, err := fees.StrategyByName(c.CalculationStrategy); err != nil {
		return fmt.Errorf("calculation_strategy %q: %w", c.CalculationStrategy, err)
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatch
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return ErrInvalidDueDay
	}
	return nil
}

// Strategy returns the configured override strategy. Validate has already
// checked the name.
func (c *Config) Strategy() fees.Strategy {
	s, _ := fees.StrategyByName(c.CalculationStrategy)
	return s
}

// NewLogger builds the process logger from log.level and log.format.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	logger.SetLevel(level)
	switch strings.ToLower(c.LogFormat) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log.format must be text or json, got %q", c.LogFormat)
	}
	return logger, nil
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
