// Package config loads the extractor configuration from a YAML file, applies
// USAGECAST_* environment overrides and validates the result. Command-line flags are
// applied on top by the run command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/usagecast/pkg/resample"
	"github.com/HatiCode/usagecast/pkg/samples"
	"github.com/HatiCode/usagecast/pkg/series"
	"github.com/HatiCode/usagecast/pkg/storage"
)

// EnvConfigPath names the environment variable consulted when no path is given.
const EnvConfigPath = "USAGECAST_CONFIG"

// DefaultQuery reads the node metrics table.
const DefaultQuery = "SELECT Timestamp, NodeName, CpuUsage, MemoryUsage FROM NodeMetrics ORDER BY Timestamp"

type Config struct {
	Source      SourceConfig   `yaml:"source"`
	Schema      samples.Schema `yaml:"schema"`
	Resample    ResampleConfig `yaml:"resample"`
	Output      OutputConfig   `yaml:"output"`
	Logging     LoggingConfig  `yaml:"logging"`
	FailOnError bool           `yaml:"failOnError"`
}

// SourceConfig selects a connector. Options is passed to adapters.New unchanged.
type SourceConfig struct {
	Kind    string            `yaml:"kind"`
	Query   string            `yaml:"query"`
	Window  time.Duration     `yaml:"window"`
	Timeout time.Duration     `yaml:"timeout"`
	Options map[string]string `yaml:"options"`
}

type ResampleConfig struct {
	Width time.Duration `yaml:"width"`
}

type OutputConfig struct {
	Dir   string      `yaml:"dir"`
	Table string      `yaml:"table"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig mirrors tables into Redis when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (or $USAGECAST_CONFIG), falling back to defaults when neither is
// set. Unknown YAML keys are rejected.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of the node metrics extraction.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Kind:    "sqlcmd",
			Query:   DefaultQuery,
			Window:  24 * time.Hour,
			Timeout: 5 * time.Minute,
			Options: map[string]string{},
		},
		Schema:   samples.DefaultSchema(),
		Resample: ResampleConfig{Width: resample.DefaultWidth},
		Output: OutputConfig{
			Dir:   ".",
			Table: "node_metrics_series",
			Redis: RedisConfig{TTL: 24 * time.Hour},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// applyEnvOverrides applies USAGECAST_* variables. USAGECAST_SOURCE_OPT_<KEY> sets
// Source.Options[<key>], with the key lowercased.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("USAGECAST_SOURCE_KIND"); v != "" {
		cfg.Source.Kind = v
	}
	if v := os.Getenv("USAGECAST_SOURCE_QUERY"); v != "" {
		cfg.Source.Query = v
	}
	if v := os.Getenv("USAGECAST_SOURCE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("USAGECAST_SOURCE_WINDOW: %w", err)
		}
		cfg.Source.Window = d
	}
	if v := os.Getenv("USAGECAST_RESAMPLE_WIDTH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("USAGECAST_RESAMPLE_WIDTH: %w", err)
		}
		cfg.Resample.Width = d
	}
	if v := os.Getenv("USAGECAST_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("USAGECAST_OUTPUT_TABLE"); v != "" {
		cfg.Output.Table = v
	}
	if v := os.Getenv("USAGECAST_REDIS_ADDR"); v != "" {
		cfg.Output.Redis.Addr = v
	}
	if v := os.Getenv("USAGECAST_REDIS_PASSWORD"); v != "" {
		cfg.Output.Redis.Password = v
	}
	if v := os.Getenv("USAGECAST_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("USAGECAST_REDIS_DB: %w", err)
		}
		cfg.Output.Redis.DB = db
	}
	if v := os.Getenv("USAGECAST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("USAGECAST_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("USAGECAST_FAIL_ON_ERROR"); v != "" {
		cfg.FailOnError = v == "true" || v == "1"
	}

	const optPrefix = "USAGECAST_SOURCE_OPT_"
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, optPrefix) || len(key) == len(optPrefix) {
			continue
		}
		if cfg.Source.Options == nil {
			cfg.Source.Options = map[string]string{}
		}
		cfg.Source.Options[strings.ToLower(key[len(optPrefix):])] = value
	}
	return nil
}

// Validate checks the configuration before any connector is built.
func (c *Config) Validate() error {
	if c.Source.Kind == "" {
		return errors.New("source.kind is required")
	}
	if c.Source.Window < 0 || c.Source.Timeout < 0 {
		return errors.New("source.window and source.timeout cannot be negative")
	}
	if c.Resample.Width <= 0 {
		return fmt.Errorf("resample.width must be > 0, got %v", c.Resample.Width)
	}

	if c.Schema.TimestampColumn == "" || c.Schema.EntityColumn == "" {
		return errors.New("schema.timestamp and schema.entity are required")
	}
	if len(c.Schema.Metrics) == 0 {
		return errors.New("schema.metrics cannot be empty")
	}
	for i, m := range c.Schema.Metrics {
		if m.Column == "" {
			return fmt.Errorf("schema.metrics[%d].column is required", i)
		}
		if err := series.ValidateMetricName(m.Name); err != nil {
			return fmt.Errorf("schema.metrics[%d]: %w", i, err)
		}
	}

	if err := storage.ValidateName(c.Output.Table); err != nil {
		return fmt.Errorf("output.table: %w", err)
	}
	if c.Output.Redis.Addr != "" && c.Output.Redis.TTL < 0 {
		return errors.New("output.redis.ttl cannot be negative")
	}
	return nil
}
