package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extractor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Kind != "sqlcmd" || cfg.Source.Query != DefaultQuery {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Resample.Width != 5*time.Minute {
		t.Errorf("width = %v", cfg.Resample.Width)
	}
	if cfg.Schema.EntityColumn != "NodeName" || len(cfg.Schema.Metrics) != 2 {
		t.Errorf("schema = %+v", cfg.Schema)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
source:
  kind: sql
  query: SELECT * FROM node_usage
  options:
    driver: sqlite
    dsn: file:metrics.db
schema:
  timestamp: ts
  entity: host
  metrics:
    - {column: cpu_pct, name: cpu}
resample:
  width: 15m
output:
  dir: /var/lib/usagecast
  table: host_series
failOnError: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Kind != "sql" || cfg.Source.Options["driver"] != "sqlite" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Schema.TimestampColumn != "ts" || cfg.Schema.Metrics[0].Column != "cpu_pct" {
		t.Errorf("schema = %+v", cfg.Schema)
	}
	if cfg.Resample.Width != 15*time.Minute || cfg.Output.Table != "host_series" || !cfg.FailOnError {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("unset keys should keep defaults, logging = %+v", cfg.Logging)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Kind != "sqlcmd" {
		t.Errorf("empty file should keep defaults, got %+v", cfg.Source)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file error = %v", err)
	}
	if _, err := Load(writeConfig(t, "source:\n  kynd: sql\n")); err == nil {
		t.Error("unknown keys should be rejected")
	}
	if _, err := Load(writeConfig(t, "resample: [\n")); err == nil {
		t.Error("malformed YAML should be rejected")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigPath, writeConfig(t, "source:\n  kind: csv\n"))
	t.Setenv("USAGECAST_SOURCE_OPT_PATH", "/data/raw.csv")
	t.Setenv("USAGECAST_RESAMPLE_WIDTH", "1m")
	t.Setenv("USAGECAST_OUTPUT_TABLE", "from_env")
	t.Setenv("USAGECAST_REDIS_DB", "2")
	t.Setenv("USAGECAST_FAIL_ON_ERROR", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Kind != "csv" || cfg.Source.Options["path"] != "/data/raw.csv" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Resample.Width != time.Minute || cfg.Output.Table != "from_env" || cfg.Output.Redis.DB != 2 || !cfg.FailOnError {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("USAGECAST_SOURCE_WINDOW", "a day")
	if _, err := Load(""); err == nil {
		t.Error("expected error for unparseable window")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no kind", func(c *Config) { c.Source.Kind = "" }},
		{"zero width", func(c *Config) { c.Resample.Width = 0 }},
		{"no entity column", func(c *Config) { c.Schema.EntityColumn = "" }},
		{"no metrics", func(c *Config) { c.Schema.Metrics = nil }},
		{"metric name with underscore", func(c *Config) { c.Schema.Metrics[0].Name = "cpu_usage" }},
		{"metric without column", func(c *Config) { c.Schema.Metrics[0].Column = "" }},
		{"bad table", func(c *Config) { c.Output.Table = "../x" }},
		{"negative window", func(c *Config) { c.Source.Window = -time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
