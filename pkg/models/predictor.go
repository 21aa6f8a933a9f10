// Package models defines the forecasting contract used by the forecaster and its
// implementations: an in-process statistical predictor loaded from a model directory,
// and clients for external model services over HTTP and gRPC.
package models

import (
	"context"
	"slices"
	"time"

	"github.com/HatiCode/usagecast/pkg/series"
)

// Predictor produces quantile forecasts from per-item history.
//
// Predict receives the full history of one or more items and returns, for every item,
// one row per future step holding a "mean" column and one column per quantile level.
// A failure for any item fails the whole call. Implementations must not retain history.
type Predictor interface {
	// Name identifies the implementation, e.g. "local", "http" or "grpc".
	Name() string
	// Describe reports what the loaded model can produce.
	Describe(ctx context.Context) (Description, error)
	// Predict forecasts every item present in history with the named model.
	// An empty model name selects the default model.
	Predict(ctx context.Context, history []series.Record, model string) (QuantileFrame, error)
}

// Description is the static capability set of a loaded predictor.
type Description struct {
	Models           []string      `json:"models"`
	DefaultModel     string        `json:"default_model"`
	Columns          []string      `json:"columns"`
	PredictionLength int           `json:"prediction_length"`
	Frequency        time.Duration `json:"-"`
}

// HasModel reports whether name is one of the available models.
func (d Description) HasModel(name string) bool {
	return slices.Contains(d.Models, name)
}

// QuantileRow is the forecast of one item at one future timestamp, keyed by column name.
type QuantileRow struct {
	ItemID    string
	Timestamp time.Time
	Values    map[string]float64
}

// QuantileFrame is the tabular output of Predict.
type QuantileFrame struct {
	Columns []string
	Rows    []QuantileRow
}

// MissingColumns returns the entries of required absent from available, in order.
func MissingColumns(available, required []string) []string {
	var missing []string
	for _, c := range required {
		if !slices.Contains(available, c) {
			missing = append(missing, c)
		}
	}
	return missing
}
