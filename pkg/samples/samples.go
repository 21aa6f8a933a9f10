// Package samples turns raw connector rows into clean, typed observations.
package samples

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/usagecast/pkg/adapters"
	"github.com/HatiCode/usagecast/pkg/apperr"
)

// Drop reasons reported by Normalize.
const (
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonMissingEntity    = "missing_entity"
	ReasonMissingMetric    = "missing_metric"
)

// MetricColumn maps a source column to the metric name used in series identifiers.
type MetricColumn struct {
	Column string `yaml:"column"`
	Name   string `yaml:"name"`
}

// Schema names the columns of a raw observation.
type Schema struct {
	TimestampColumn string         `yaml:"timestamp"`
	EntityColumn    string         `yaml:"entity"`
	Metrics         []MetricColumn `yaml:"metrics"`
}

// DefaultSchema matches the NodeMetrics table: Timestamp, NodeName, CpuUsage, MemoryUsage.
func DefaultSchema() Schema {
	return Schema{
		TimestampColumn: "Timestamp",
		EntityColumn:    "NodeName",
		Metrics: []MetricColumn{
			{Column: "CpuUsage", Name: "cpu"},
			{Column: "MemoryUsage", Name: "memory"},
		},
	}
}

// MetricNames returns the metric names in schema order.
func (s Schema) MetricNames() []string {
	names := make([]string, len(s.Metrics))
	for i, m := range s.Metrics {
		names[i] = m.Name
	}
	return names
}

// Observation is one cleaned row: a timestamp, an entity and a finite value per metric.
type Observation struct {
	Timestamp time.Time
	Entity    string
	Values    map[string]float64
}

// Report summarizes a Normalize call. Kept == Total - Dropped.
type Report struct {
	Total   int
	Kept    int
	Dropped int
	Reasons map[string]int
	Errors  []error
}

// maxReportErrors bounds the per-row errors retained in a Report.
const maxReportErrors = 100

// Normalizer parses and coerces raw rows according to a Schema.
type Normalizer struct {
	schema Schema
	logger *slog.Logger
}

// NewNormalizer returns a Normalizer. A nil logger discards output.
func NewNormalizer(schema Schema, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Normalizer{schema: schema, logger: logger.With("component", "normalizer")}
}

// Normalize converts raw rows into observations. A row is dropped when its timestamp
// cannot be parsed, its entity is empty, or any metric is missing, non-numeric or
// non-finite. Each dropped row is recorded as an alignment error in the report; the
// call itself never fails.
func (n *Normalizer) Normalize(rows []adapters.Row) ([]Observation, Report) {
	report := Report{Total: len(rows), Reasons: make(map[string]int)}
	out := make([]Observation, 0, len(rows))

	for i, row := range rows {
		obs, reason, err := n.normalizeRow(row)
		if err != nil {
			report.Dropped++
			report.Reasons[reason]++
			if len(report.Errors) < maxReportErrors {
				report.Errors = append(report.Errors, apperr.Alignment("samples.Normalize", "row %d: %v", i, err))
			}
			continue
		}
		out = append(out, obs)
	}
	report.Kept = len(out)

	if report.Dropped > 0 {
		n.logger.Warn("dropped invalid rows",
			"total", report.Total,
			"dropped", report.Dropped,
			"reasons", report.Reasons,
		)
	} else {
		n.logger.Debug("normalized rows", "total", report.Total)
	}
	return out, report
}

func (n *Normalizer) normalizeRow(row adapters.Row) (Observation, string, error) {
	ts, err := ParseTimestamp(row[n.schema.TimestampColumn])
	if err != nil {
		return Observation{}, ReasonInvalidTimestamp, fmt.Errorf("%s: %w", n.schema.TimestampColumn, err)
	}

	entity := strings.TrimSpace(fmt.Sprint(valueOrEmpty(row[n.schema.EntityColumn])))
	if entity == "" || strings.EqualFold(entity, "null") {
		return Observation{}, ReasonMissingEntity, fmt.Errorf("%s is empty", n.schema.EntityColumn)
	}

	values := make(map[string]float64, len(n.schema.Metrics))
	for _, m := range n.schema.Metrics {
		v, ok := Float(row[m.Column])
		if !ok {
			return Observation{}, ReasonMissingMetric, fmt.Errorf("%s: not a finite number: %v", m.Column, row[m.Column])
		}
		values[m.Name] = v
	}

	return Observation{Timestamp: ts, Entity: entity, Values: values}, "", nil
}

func valueOrEmpty(v any) any {
	switch vv := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(vv)
	default:
		return v
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts a time.Time or a string in RFC3339, "2006-01-02 15:04:05[.fff]",
// "2006-01-02T15:04:05[.fff]", "2006-01-02 15:04" or "2006-01-02" form. Values without a
// zone are taken as UTC. The result is always in UTC.
func ParseTimestamp(v any) (time.Time, error) {
	var s string
	switch vv := v.(type) {
	case time.Time:
		if vv.IsZero() {
			return time.Time{}, fmt.Errorf("zero timestamp")
		}
		return vv.UTC(), nil
	case *time.Time:
		if vv == nil || vv.IsZero() {
			return time.Time{}, fmt.Errorf("zero timestamp")
		}
		return vv.UTC(), nil
	case string:
		s = vv
	case []byte:
		s = string(vv)
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Float coerces a raw value to a finite float64. Numeric kinds, json.Number, numeric
// strings and []byte are accepted; NaN, Inf, empty strings, "NULL" and anything else
// report false.
func Float(v any) (float64, bool) {
	var f float64
	switch vv := v.(type) {
	case float64:
		f = vv
	case float32:
		f = float64(vv)
	case int:
		f = float64(vv)
	case int8:
		f = float64(vv)
	case int16:
		f = float64(vv)
	case int32:
		f = float64(vv)
	case int64:
		f = float64(vv)
	case uint:
		f = float64(vv)
	case uint8:
		f = float64(vv)
	case uint16:
		f = float64(vv)
	case uint32:
		f = float64(vv)
	case uint64:
		f = float64(vv)
	case json.Number:
		parsed, err := vv.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		return parseFloat(vv)
	case []byte:
		return parseFloat(string(vv))
	default:
		return 0, false
	}
	return f, !math.IsNaN(f) && !math.IsInf(f, 0)
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
