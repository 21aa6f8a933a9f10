// Package config parses forecaster configuration from command-line flags with
// environment variable fallbacks. Flags take precedence over environment variables,
// which take precedence over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HatiCode/usagecast/pkg/models"
	"github.com/HatiCode/usagecast/pkg/quantile"
	"github.com/HatiCode/usagecast/pkg/shaper"
	"github.com/HatiCode/usagecast/pkg/tls"
)

// Predictor backends.
const (
	PredictorLocal = "local"
	PredictorHTTP  = "http"
	PredictorGRPC  = "grpc"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string
	TLS        tls.Config

	Predictor        string
	ModelPath        string
	ModelName        string
	PredictorURL     string
	PredictorTimeout time.Duration
	SerializePredict bool
	MaxBodyBytes     int64

	// Columns maps the public response fields to forecast frame columns.
	Columns shaper.Columns
}

// Parse reads flags from args (without the program name) and the environment.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	var prediction, lower, upper string

	fs := flag.NewFlagSet("forecaster", flag.ContinueOnError)

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC listen address exposing the loaded predictor (disabled when empty)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mTLS for listeners and predictor clients")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file")

	fs.StringVar(&cfg.Predictor, "predictor", getEnv("PREDICTOR", PredictorLocal), "Predictor backend: local, http, or grpc")
	fs.StringVar(&cfg.ModelPath, "model-path", getEnv("MODEL_PATH", "TrainedModel"), "Directory holding the local predictor manifest")
	fs.StringVar(&cfg.ModelName, "model-name", getEnv("MODEL_NAME", models.DefaultModelName), "Model used for every prediction")
	fs.StringVar(&cfg.PredictorURL, "predictor-url", getEnv("PREDICTOR_URL", ""), "Remote predictor URL (http) or target (grpc)")
	fs.DurationVar(&cfg.PredictorTimeout, "predictor-timeout", getEnvDuration("PREDICTOR_TIMEOUT", 30*time.Second), "Remote predictor call timeout")
	fs.BoolVar(&cfg.SerializePredict, "serialize-predict", getEnvBool("SERIALIZE_PREDICT", false), "Run at most one prediction at a time")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", getEnvInt64("MAX_BODY_BYTES", 10<<20), "Maximum /predict request body size")

	fs.StringVar(&prediction, "prediction-column", getEnv("PREDICTION_COLUMN", quantile.MeanColumn), "Frame column served as prediction")
	fs.StringVar(&lower, "lower-quantile", getEnv("LOWER_QUANTILE", "0.025"), "Quantile served as lowerBound (p2.5 or 0.025)")
	fs.StringVar(&upper, "upper-quantile", getEnv("UPPER_QUANTILE", "0.975"), "Quantile served as upperBound (p97.5 or 0.975)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if cfg.Columns.Prediction, err = quantile.ParseColumn(prediction); err != nil {
		return nil, fmt.Errorf("prediction column: %w", err)
	}
	if cfg.Columns.Lower, err = quantile.ParseColumn(lower); err != nil {
		return nil, fmt.Errorf("lower quantile: %w", err)
	}
	if cfg.Columns.Upper, err = quantile.ParseColumn(upper); err != nil {
		return nil, fmt.Errorf("upper quantile: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Predictor {
	case PredictorLocal:
		if c.ModelPath == "" {
			return errors.New("model path is required for the local predictor")
		}
	case PredictorHTTP, PredictorGRPC:
		if c.PredictorURL == "" {
			return fmt.Errorf("predictor url is required for the %s predictor", c.Predictor)
		}
	default:
		return fmt.Errorf("invalid predictor %q (must be local, http, or grpc)", c.Predictor)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return errors.New("model name cannot be empty")
	}
	if c.PredictorTimeout <= 0 {
		return errors.New("predictor timeout must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be > 0")
	}
	if c.GRPCListen != "" && c.GRPCListen == c.Listen {
		return fmt.Errorf("grpc listen address %q collides with the HTTP listen address", c.GRPCListen)
	}

	if lo, hi, ok := quantileBounds(c.Columns); ok && lo >= hi {
		return fmt.Errorf("lower quantile %s must be below upper quantile %s", c.Columns.Lower, c.Columns.Upper)
	}

	return c.TLS.Validate()
}

func quantileBounds(cols shaper.Columns) (lo, hi float64, ok bool) {
	lo, errLo := quantile.ParseLevel(cols.Lower)
	hi, errHi := quantile.ParseLevel(cols.Upper)
	return lo, hi, errLo == nil && errHi == nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var i int64
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
