// Package main implements the forecasting service.
//
// This file contains the Forecaster type, which binds a loaded predictor to one model
// name and one column mapping and runs the request pipeline:
//
//	validate → predict → shape
//
// Load checks the predictor against the configuration once, at startup. After a
// successful Load the Forecaster is immutable and safe for concurrent use.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/HatiCode/usagecast/cmd/forecaster/metrics"
	"github.com/HatiCode/usagecast/cmd/forecaster/router"
	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/models"
	"github.com/HatiCode/usagecast/pkg/quantile"
	"github.com/HatiCode/usagecast/pkg/series"
	"github.com/HatiCode/usagecast/pkg/shaper"
)

// Forecaster serves predictions for a single model.
type Forecaster struct {
	predictor   models.Predictor
	model       string
	columns     shaper.Columns
	description models.Description
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Load describes the predictor and verifies that it offers model and produces every
// column in cols. A predictor that cannot describe itself is a model_load error; a
// missing model or column is a configuration error.
func Load(ctx context.Context, p models.Predictor, model string, cols shaper.Columns, logger *slog.Logger, m *metrics.Metrics) (*Forecaster, error) {
	if logger == nil {
		logger = slog.Default()
	}

	desc, err := p.Describe(ctx)
	if err != nil {
		return nil, apperr.ModelLoad("forecaster.Load", err)
	}
	if !desc.HasModel(model) {
		return nil, apperr.Configuration("forecaster.Load", "model %q not available (available: %s)",
			model, strings.Join(desc.Models, ", "))
	}
	if err := cols.Check(desc.Columns); err != nil {
		return nil, err
	}

	logger.Info("model loaded",
		"predictor", p.Name(),
		"model", model,
		"columns", desc.Columns,
		"interval", levelLabel(cols.Lower)+".."+levelLabel(cols.Upper),
		"prediction_length", desc.PredictionLength,
	)

	return &Forecaster{
		predictor:   p,
		model:       model,
		columns:     cols,
		description: desc,
		logger:      logger,
		metrics:     m,
	}, nil
}

// levelLabel renders a quantile column in p-notation; other columns are returned as is.
func levelLabel(col string) string {
	if col == quantile.MeanColumn {
		return col
	}
	q, err := quantile.ParseLevel(col)
	if err != nil {
		return col
	}
	return quantile.FormatLevel(q)
}

// Predict forecasts every item in history and returns the public rows.
func (f *Forecaster) Predict(ctx context.Context, history []series.Record) ([]shaper.Row, error) {
	if err := validateHistory(history); err != nil {
		return nil, err
	}

	start := time.Now()
	frame, err := f.predictor.Predict(ctx, history, f.model)
	if f.metrics != nil {
		f.metrics.RecordPredict(f.predictor.Name(), time.Since(start).Seconds())
	}
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Prediction("forecaster.Predict", err)
		}
		return nil, err
	}

	rows, err := shaper.Shape(frame, f.columns)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("prediction complete",
		"items", len(series.Group(history)),
		"history", len(history),
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rows, nil
}

// Info reports the loaded model and column mapping.
func (f *Forecaster) Info() router.ModelInfo {
	return router.ModelInfo{
		Predictor:        f.predictor.Name(),
		Model:            f.model,
		Columns:          append([]string(nil), f.description.Columns...),
		PredictionLength: f.description.PredictionLength,
		Frequency:        f.description.Frequency.String(),
		Mapping: map[string]string{
			"prediction": f.columns.Prediction,
			"lowerBound": f.columns.Lower,
			"upperBound": f.columns.Upper,
		},
	}
}

func validateHistory(history []series.Record) error {
	if len(history) == 0 {
		return apperr.Validation("forecaster.Predict", "request must contain at least one record")
	}

	var details []string
	for i, r := range history {
		if r.ItemID == "" {
			details = append(details, fmt.Sprintf("[%d].item_id: must not be empty", i))
		}
		if r.Timestamp.IsZero() {
			details = append(details, fmt.Sprintf("[%d].timestamp: required", i))
		}
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			details = append(details, fmt.Sprintf("[%d].value: must be finite", i))
		}
	}
	if len(details) > 0 {
		return apperr.Validation("forecaster.Predict", details...)
	}
	return nil
}
