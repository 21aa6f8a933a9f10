package main

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/usagecast/cmd/forecaster/metrics"
	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/logging"
	"github.com/HatiCode/usagecast/pkg/models"
	"github.com/HatiCode/usagecast/pkg/series"
	"github.com/HatiCode/usagecast/pkg/shaper"
)

type stubPredictor struct {
	desc        models.Description
	describeErr error
	frame       models.QuantileFrame
	predictErr  error
}

func (s *stubPredictor) Name() string { return "stub" }

func (s *stubPredictor) Describe(context.Context) (models.Description, error) {
	return s.desc, s.describeErr
}

func (s *stubPredictor) Predict(context.Context, []series.Record, string) (models.QuantileFrame, error) {
	return s.frame, s.predictErr
}

func localPredictor(t *testing.T) models.Predictor {
	t.Helper()
	p, err := models.NewLocal(models.Manifest{PredictionLength: 3, Frequency: "5min"})
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	return p
}

func TestLoad(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f, err := Load(context.Background(), localPredictor(t), "AutoETS", shaper.DefaultColumns(), logging.Discard(), m)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	info := f.Info()
	if info.Predictor != "local" || info.Model != "AutoETS" || info.PredictionLength != 3 {
		t.Errorf("Info() = %+v", info)
	}
	if info.Mapping["lowerBound"] != "0.025" || info.Mapping["upperBound"] != "0.975" {
		t.Errorf("Mapping = %v", info.Mapping)
	}
}

func TestLoad_LogsInterval(t *testing.T) {
	var buf bytes.Buffer
	cols := shaper.Columns{Prediction: "mean", Lower: "0.025", Upper: "0.975"}
	if _, err := Load(context.Background(), localPredictor(t), "AutoETS", cols, logging.New("info", "json", &buf), nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"interval":"p2.5..p97.5"`) {
		t.Errorf("log output missing interval: %s", buf.String())
	}
}

func TestLevelLabel(t *testing.T) {
	tests := map[string]string{"mean": "mean", "0.025": "p2.5", "0.5": "p50", "other": "other"}
	for in, want := range tests {
		if got := levelLabel(in); got != want {
			t.Errorf("levelLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	desc := models.Description{Models: []string{"AutoETS"}, Columns: []string{"mean", "0.025", "0.975"}}

	tests := []struct {
		name     string
		p        models.Predictor
		model    string
		cols     shaper.Columns
		wantKind apperr.Kind
	}{
		{"describe fails", &stubPredictor{describeErr: errors.New("connection refused")}, "AutoETS", shaper.DefaultColumns(), apperr.KindModelLoad},
		{"unknown model", &stubPredictor{desc: desc}, "DeepAR", shaper.DefaultColumns(), apperr.KindConfiguration},
		{"missing quantile column", &stubPredictor{desc: desc}, "AutoETS", shaper.Columns{Prediction: "mean", Lower: "0.1", Upper: "0.975"}, apperr.KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.p, tt.model, tt.cols, logging.Discard(), nil)
			if got := apperr.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %q, want %q (err = %v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestForecaster_PredictTwoPointHistory(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f, err := Load(context.Background(), localPredictor(t), "AutoETS", shaper.DefaultColumns(), logging.Discard(), m)
	if err != nil {
		t.Fatal(err)
	}

	last := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)
	history := []series.Record{
		{Timestamp: last.Add(-5 * time.Minute), ItemID: "nodeA_cpu", Value: 15},
		{Timestamp: last, ItemID: "nodeA_cpu", Value: 17.5},
	}

	rows, err := f.Predict(context.Background(), history)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i, r := range rows {
		if r.ItemID != "nodeA_cpu" {
			t.Errorf("row %d item = %q", i, r.ItemID)
		}
		if want := last.Add(time.Duration(i+1) * 5 * time.Minute); !r.Timestamp.Equal(want) {
			t.Errorf("row %d timestamp = %v, want %v", i, r.Timestamp, want)
		}
		if !(r.LowerBound <= r.Prediction && r.Prediction <= r.UpperBound) {
			t.Errorf("row %d bounds not ordered: %+v", i, r)
		}
	}

	if n := testutil.CollectAndCount(m.ModelPredictSeconds); n != 1 {
		t.Errorf("predict histogram series = %d, want 1", n)
	}
}

func TestForecaster_PredictValidation(t *testing.T) {
	f, err := Load(context.Background(), localPredictor(t), "AutoETS", shaper.DefaultColumns(), logging.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		history []series.Record
	}{
		{"empty", nil},
		{"empty item id", []series.Record{{Timestamp: ts, Value: 1}}},
		{"zero timestamp", []series.Record{{ItemID: "a_cpu", Value: 1}}},
		{"nan value", []series.Record{{Timestamp: ts, ItemID: "a_cpu", Value: math.NaN()}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Predict(context.Background(), tt.history)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestForecaster_PredictErrors(t *testing.T) {
	desc := models.Description{Models: []string{"AutoETS"}, Columns: []string{"mean", "0.025", "0.975"}}
	history := []series.Record{{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ItemID: "a_cpu", Value: 1}}

	tests := []struct {
		name     string
		p        *stubPredictor
		wantKind apperr.Kind
	}{
		{"predictor fails", &stubPredictor{desc: desc, predictErr: errors.New("singular matrix")}, apperr.KindPrediction},
		{"frame lacks column", &stubPredictor{desc: desc, frame: models.QuantileFrame{Columns: []string{"mean"}}}, apperr.KindConfiguration},
		{"non-finite value", &stubPredictor{desc: desc, frame: models.QuantileFrame{
			Columns: desc.Columns,
			Rows: []models.QuantileRow{{ItemID: "a_cpu", Values: map[string]float64{
				"mean": math.Inf(1), "0.025": 0, "0.975": 1,
			}}},
		}}, apperr.KindPrediction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Load(context.Background(), tt.p, "AutoETS", shaper.DefaultColumns(), logging.Discard(), nil)
			if err != nil {
				t.Fatal(err)
			}
			_, err = f.Predict(context.Background(), history)
			if got := apperr.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %q, want %q (err = %v)", got, tt.wantKind, err)
			}
		})
	}
}
