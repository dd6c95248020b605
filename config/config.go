package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chartcore/internal/indicator"
	"chartcore/internal/logger"
	"chartcore/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Chart
	Symbol      string
	QuoteScale  int
	BaseScale   int
	Granularity string
	Retain      int
	TimeZone    string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Maintenance
	PruneSchedule string // six-field cron spec, seconds first
	PruneKeepDays int    // 0 disables pruning

	LogLevel       string
	IndicatorsFile string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory, if present, is loaded first; variables
// already set in the environment win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] ignoring .env: %v", err)
	}

	return &Config{
		Symbol:      getEnv("SYMBOL", "BTCUSDT"),
		QuoteScale:  getInt("QUOTE_SCALE", 2),
		BaseScale:   getInt("BASE_SCALE", 4),
		Granularity: getEnv("GRANULARITY", "1m"),
		Retain:      getInt("RETAIN", 1000),
		TimeZone:    getEnv("TIMEZONE", "UTC"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		PruneSchedule: getEnv("PRUNE_SCHEDULE", "0 0 3 * * *"),
		PruneKeepDays: getInt("PRUNE_KEEP_DAYS", 90),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		IndicatorsFile: getEnv("INDICATORS_FILE", ""),
	}
}

// Precision returns the configured display precision, validated.
func (c *Config) Precision() (model.Precision, error) {
	p := model.Precision{Quote: c.QuoteScale, Base: c.BaseScale}
	if err := p.Validate(); err != nil {
		return model.Precision{}, err
	}
	return p, nil
}

// ParseGranularity resolves the GRANULARITY setting.
func (c *Config) ParseGranularity() (model.Granularity, error) {
	return model.ParseGranularity(c.Granularity)
}

// Location resolves the TIMEZONE setting used for time labels.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// SlogLevel maps LOG_LEVEL onto a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	return logger.ParseLevel(c.LogLevel)
}

type indicatorsFile struct {
	Indicators []indicator.IndicatorConfig `yaml:"indicators"`
}

// LoadIndicators reads the indicator set from the YAML file at path:
//
//	indicators:
//	  - type: MA
//	    period: 5
//	  - type: MACD
//
// An empty path or a missing file yields indicator.DefaultConfigs.
func LoadIndicators(path string) ([]indicator.IndicatorConfig, error) {
	if path == "" {
		return defaultIndicators(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] %s not found, using default indicators", path)
		return defaultIndicators(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseIndicators(data)
}

// ParseIndicators decodes a YAML indicator list.
func ParseIndicators(data []byte) ([]indicator.IndicatorConfig, error) {
	var f indicatorsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse indicators: %w", err)
	}
	for i := range f.Indicators {
		f.Indicators[i].Type = strings.ToUpper(strings.TrimSpace(f.Indicators[i].Type))
	}
	return f.Indicators, nil
}

func defaultIndicators() []indicator.IndicatorConfig {
	return append([]indicator.IndicatorConfig(nil), indicator.DefaultConfigs...)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
