// Package metrics provides Prometheus instrumentation for the forecaster.
//
// Metrics exposed:
//   - usagecast_predict_requests_total: Counter of /predict requests by outcome
//   - usagecast_predict_request_seconds: Histogram of /predict request duration
//   - usagecast_model_predict_seconds: Histogram of predictor call duration
//   - usagecast_forecast_rows: Histogram of rows returned per successful request
//   - usagecast_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeInvalid       = "invalid"
	OutcomeFailed        = "failed"
	OutcomeMisconfigured = "misconfigured"
)

// Metrics holds all Prometheus metrics for the forecaster.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestSeconds      prometheus.Histogram
	ModelPredictSeconds *prometheus.HistogramVec
	ForecastRows        prometheus.Histogram
	ErrorsTotal         *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usagecast_predict_requests_total",
			Help: "Total number of /predict requests by outcome",
		}, []string{"outcome"}),

		RequestSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "usagecast_predict_request_seconds",
			Help:    "Time spent serving /predict requests",
			Buckets: prometheus.DefBuckets,
		}),

		ModelPredictSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usagecast_model_predict_seconds",
			Help:    "Time spent in the predictor",
			Buckets: prometheus.DefBuckets,
		}, []string{"predictor"}),

		ForecastRows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "usagecast_forecast_rows",
			Help:    "Forecast rows returned per successful request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usagecast_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordRequest counts a finished request and its duration.
func (m *Metrics) RecordRequest(outcome string, seconds float64) {
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.RequestSeconds.Observe(seconds)
}

// RecordPredict records the time spent in the named predictor.
func (m *Metrics) RecordPredict(predictor string, seconds float64) {
	m.ModelPredictSeconds.WithLabelValues(predictor).Observe(seconds)
}

// RecordRows records the size of a successful response.
func (m *Metrics) RecordRows(n int) {
	m.ForecastRows.Observe(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
