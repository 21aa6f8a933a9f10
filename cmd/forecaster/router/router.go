// Package router configures the forecaster's HTTP API.
//
// Routes:
//   - POST /predict - Forecast the posted history
//   - GET /model - Loaded predictor, model and column mapping
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//
// /predict accepts a JSON array of {timestamp, value, item_id} records and answers with
// one {item_id, timestamp, prediction, lowerBound, upperBound} row per forecast step.
// Malformed requests get 400 with per-field details. Prediction failures get 500 with a
// generic message; the cause is only logged.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/usagecast/cmd/forecaster/metrics"
	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/httpx"
	"github.com/HatiCode/usagecast/pkg/samples"
	"github.com/HatiCode/usagecast/pkg/series"
	"github.com/HatiCode/usagecast/pkg/shaper"
)

// PredictionFailedMessage is the only error text a client sees for a failed prediction.
const PredictionFailedMessage = "Prediction failed due to an internal error."

// Forecaster is the service behind the routes.
type Forecaster interface {
	Predict(ctx context.Context, history []series.Record) ([]shaper.Row, error)
	Info() ModelInfo
}

// ModelInfo is the GET /model response.
type ModelInfo struct {
	Predictor        string            `json:"predictor"`
	Model            string            `json:"model"`
	Columns          []string          `json:"columns"`
	PredictionLength int               `json:"prediction_length"`
	Frequency        string            `json:"frequency,omitempty"`
	Mapping          map[string]string `json:"mapping"`
}

// Options tunes the routes. Zero values select defaults.
type Options struct {
	MaxBodyBytes int64
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
}

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(f Forecaster, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(httpx.LoggingMiddleware(logger))
	r.Use(httpx.RecoveryMiddleware(logger))

	r.Get("/healthz", httpx.HealthHandler())
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/model", handleModel(f))
	r.With(httpx.MaxBodySize(opts.MaxBodyBytes)).Post("/predict", handlePredict(f, opts.Metrics, logger))

	return r
}

func handleModel(f Forecaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := httpx.WriteJSON(w, http.StatusOK, f.Info()); err != nil {
			slog.Error("failed to write model info", "error", err)
		}
	}
}

// handlePredict returns a handler for POST /predict.
func handlePredict(f Forecaster, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		outcome := metrics.OutcomeOK
		defer func() {
			if m != nil {
				m.RecordRequest(outcome, time.Since(start).Seconds())
			}
		}()

		history, err := DecodeRequest(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				outcome = metrics.OutcomeInvalid
				httpx.WriteErrorMessage(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
				return
			}
			outcome = metrics.OutcomeInvalid
			writeValidation(w, err)
			return
		}

		rows, err := f.Predict(r.Context(), history)
		if err != nil {
			reqID := chimw.GetReqID(r.Context())
			kind := apperr.KindOf(err)
			if m != nil {
				m.RecordError("predict", string(kind))
			}

			switch kind {
			case apperr.KindValidation:
				outcome = metrics.OutcomeInvalid
				writeValidation(w, err)
			case apperr.KindConfiguration:
				outcome = metrics.OutcomeMisconfigured
				logger.Error("prediction rejected by column mapping", "error", err, "request_id", reqID)
				httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
					Error: PredictionFailedMessage,
					Kind:  string(apperr.KindConfiguration),
				})
			default:
				outcome = metrics.OutcomeFailed
				logger.Error("prediction failed", "error", err, "request_id", reqID, "records", len(history))
				httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse{
					Error: PredictionFailedMessage,
					Kind:  string(apperr.KindPrediction),
				})
			}
			return
		}

		if m != nil {
			m.RecordRows(len(rows))
		}
		if rows == nil {
			rows = []shaper.Row{}
		}
		if err := httpx.WriteJSON(w, http.StatusOK, rows); err != nil {
			logger.Error("failed to write prediction response", "error", err)
		}
	}
}

func writeValidation(w http.ResponseWriter, err error) {
	details := apperr.DetailsOf(err)
	if len(details) == 0 {
		details = []string{err.Error()}
	}
	httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse{
		Error:   "invalid request",
		Kind:    string(apperr.KindValidation),
		Details: details,
	})
}

type requestRecord struct {
	Timestamp *string  `json:"timestamp"`
	Value     *float64 `json:"value"`
	ItemID    *string  `json:"item_id"`
}

// DecodeRequest strictly decodes a /predict body. Every record must carry exactly the
// timestamp, value and item_id fields. All offending records are reported in one
// validation error; a body that is not a JSON array fails as a whole. Read errors such
// as *http.MaxBytesError are returned unwrapped.
func DecodeRequest(body io.Reader) ([]series.Record, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&items); err != nil {
		return nil, apperr.Validation("router.DecodeRequest", "body: must be a JSON array of records: "+err.Error())
	}
	if dec.More() {
		return nil, apperr.Validation("router.DecodeRequest", "body: unexpected data after the JSON array")
	}
	if len(items) == 0 {
		return nil, apperr.Validation("router.DecodeRequest", "body: request must contain at least one record")
	}

	history := make([]series.Record, 0, len(items))
	var details []string
	for i, item := range items {
		rec, problems := decodeRecord(item)
		for _, p := range problems {
			details = append(details, fmt.Sprintf("[%d].%s", i, p))
		}
		if len(problems) == 0 {
			history = append(history, rec)
		}
	}
	if len(details) > 0 {
		return nil, apperr.Validation("router.DecodeRequest", details...)
	}
	return history, nil
}

func decodeRecord(item json.RawMessage) (series.Record, []string) {
	var in requestRecord
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return series.Record{}, []string{describeDecodeError(err)}
	}

	var problems []string
	var rec series.Record

	switch {
	case in.Timestamp == nil:
		problems = append(problems, "timestamp: required")
	default:
		ts, err := samples.ParseTimestamp(*in.Timestamp)
		if err != nil {
			problems = append(problems, fmt.Sprintf("timestamp: cannot parse %q", *in.Timestamp))
		}
		rec.Timestamp = ts
	}

	if in.Value == nil {
		problems = append(problems, "value: required")
	} else {
		rec.Value = *in.Value
	}

	switch {
	case in.ItemID == nil:
		problems = append(problems, "item_id: required")
	case *in.ItemID == "":
		problems = append(problems, "item_id: must not be empty")
	default:
		rec.ItemID = *in.ItemID
	}

	return rec, problems
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("%s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return fmt.Sprintf("record: expected an object, got %s", typeErr.Value)
	}
	return "record: " + err.Error()
}
