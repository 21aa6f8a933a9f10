package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/usagecast/pkg/quantile"
	"github.com/HatiCode/usagecast/pkg/series"
)

// ManifestFile is the manifest read from a model directory.
const ManifestFile = "predictor.yaml"

// DefaultModelName is the model used when the manifest does not name one.
const DefaultModelName = "AutoETS"

// Manifest describes a trained predictor directory:
//
//	prediction_length: 12
//	freq: 5min
//	quantile_levels: [0.025, 0.5, 0.975]
//	default_model: AutoETS
//	non_negative: true
//	models:
//	  AutoETS: {kind: ets}
//	  ARIMA:   {kind: arima, params: {p: 2, d: 1, q: 1}}
type Manifest struct {
	PredictionLength int                  `yaml:"prediction_length"`
	Frequency        string               `yaml:"freq"`
	QuantileLevels   []string             `yaml:"quantile_levels"`
	DefaultModel     string               `yaml:"default_model"`
	NonNegative      bool                 `yaml:"non_negative"`
	Models           map[string]ModelSpec `yaml:"models"`
}

var defaultModels = map[string]ModelSpec{
	DefaultModelName: {Kind: KindETS},
	"ARIMA":          {Kind: KindARIMA},
	"Naive":          {Kind: KindNaive},
}

// LocalPredictor forecasts in-process with statistical estimators. It is immutable after
// LoadLocal and safe for concurrent use.
type LocalPredictor struct {
	horizon     int
	freq        time.Duration
	levels      []float64
	columns     []string
	defaultName string
	nonNegative bool
	models      map[string]ModelSpec
}

// LoadLocal reads dir/predictor.yaml and returns a ready predictor.
func LoadLocal(dir string) (*LocalPredictor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("model path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("model path %s is not a directory", dir)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return NewLocal(m)
}

// NewLocal builds a predictor from an in-memory manifest.
func NewLocal(m Manifest) (*LocalPredictor, error) {
	if m.PredictionLength <= 0 {
		return nil, fmt.Errorf("prediction_length must be > 0, got %d", m.PredictionLength)
	}

	freq, err := ParseFrequency(m.Frequency)
	if err != nil {
		return nil, err
	}

	rawLevels := m.QuantileLevels
	if len(rawLevels) == 0 {
		rawLevels = []string{"0.025", "0.5", "0.975"}
	}
	seen := make(map[string]bool, len(rawLevels))
	levels := make([]float64, 0, len(rawLevels))
	for _, raw := range rawLevels {
		q, err := quantile.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("quantile_levels: %w", err)
		}
		if col := quantile.Column(q); !seen[col] {
			seen[col] = true
			levels = append(levels, q)
		}
	}
	sort.Float64s(levels)

	columns := []string{quantile.MeanColumn}
	for _, q := range levels {
		columns = append(columns, quantile.Column(q))
	}

	models := m.Models
	if len(models) == 0 {
		models = defaultModels
	}
	for name, spec := range models {
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("model %s: %w", name, err)
		}
	}

	defaultName := m.DefaultModel
	if defaultName == "" {
		defaultName = DefaultModelName
	}
	if _, ok := models[defaultName]; !ok {
		return nil, fmt.Errorf("default model %q is not defined", defaultName)
	}

	return &LocalPredictor{
		horizon:     m.PredictionLength,
		freq:        freq,
		levels:      levels,
		columns:     columns,
		defaultName: defaultName,
		nonNegative: m.NonNegative,
		models:      models,
	}, nil
}

func (p *LocalPredictor) Name() string { return "local" }

// Describe implements Predictor.
func (p *LocalPredictor) Describe(ctx context.Context) (Description, error) {
	names := make([]string, 0, len(p.models))
	for name := range p.models {
		names = append(names, name)
	}
	sort.Strings(names)

	return Description{
		Models:           names,
		DefaultModel:     p.defaultName,
		Columns:          append([]string(nil), p.columns...),
		PredictionLength: p.horizon,
		Frequency:        p.freq,
	}, nil
}

// Predict implements Predictor. Each item is fitted independently; the first item that
// cannot be fitted fails the call.
func (p *LocalPredictor) Predict(ctx context.Context, history []series.Record, model string) (QuantileFrame, error) {
	if model == "" {
		model = p.defaultName
	}
	spec, ok := p.models[model]
	if !ok {
		return QuantileFrame{}, fmt.Errorf("unknown model %q", model)
	}
	if len(history) == 0 {
		return QuantileFrame{}, errors.New("history is empty")
	}

	frame := QuantileFrame{Columns: append([]string(nil), p.columns...)}
	for _, s := range series.Group(history) {
		if err := ctx.Err(); err != nil {
			return QuantileFrame{}, err
		}
		rows, err := p.predictItem(s, spec)
		if err != nil {
			return QuantileFrame{}, fmt.Errorf("item %s: %w", s.ItemID, err)
		}
		frame.Rows = append(frame.Rows, rows...)
	}
	return frame, nil
}

func (p *LocalPredictor) predictItem(s series.Series, spec ModelSpec) ([]QuantileRow, error) {
	values := make([]float64, len(s.Records))
	for i, r := range s.Records {
		values[i] = r.Value
	}

	est := spec.newEstimator()
	if len(values) < est.minPoints() {
		return nil, fmt.Errorf("need at least %d points for %s, got %d", est.minPoints(), spec.Kind, len(values))
	}
	if err := est.fit(values); err != nil {
		return nil, err
	}
	means, sigma := est.forecast(p.horizon)

	last := s.Records[len(s.Records)-1].Timestamp
	rows := make([]QuantileRow, p.horizon)
	for k := range p.horizon {
		mean := means[k]
		spread := sigma * sqrtSteps(k+1)

		vals := make(map[string]float64, len(p.columns))
		vals[quantile.MeanColumn] = p.clamp(mean)
		for _, q := range p.levels {
			vals[quantile.Column(q)] = p.clamp(mean + quantile.Z(q)*spread)
		}
		rows[k] = QuantileRow{
			ItemID:    s.ItemID,
			Timestamp: last.Add(time.Duration(k+1) * p.freq),
			Values:    vals,
		}
	}
	return rows, nil
}

// clamp is monotone, so it preserves the ordering of quantile columns.
func (p *LocalPredictor) clamp(v float64) float64 {
	if p.nonNegative && v < 0 {
		return 0
	}
	return v
}

var freqRe = regexp.MustCompile(`^(\d*)\s*([A-Za-z]+)$`)

var freqUnits = map[string]time.Duration{
	"s": time.Second, "S": time.Second, "sec": time.Second,
	"T": time.Minute, "min": time.Minute,
	"h": time.Hour, "H": time.Hour,
	"D": 24 * time.Hour, "d": 24 * time.Hour,
}

// ParseFrequency accepts Go durations ("5m", "1h30m") and frequency offset aliases
// ("5min", "5T", "H", "1D"). An empty string means 5 minutes.
func ParseFrequency(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 5 * time.Minute, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("freq must be positive, got %s", s)
		}
		return d, nil
	}

	m := freqRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid freq %q", s)
	}
	unit, ok := freqUnits[m[2]]
	if !ok {
		return 0, fmt.Errorf("invalid freq unit %q", m[2])
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid freq %q", s)
		}
		n = v
	}
	return time.Duration(n) * unit, nil
}
