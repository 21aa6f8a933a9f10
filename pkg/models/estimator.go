package models

import (
	"fmt"
	"math"
)

// estimator is a univariate model fitted to one item's history. Instances are created
// per item per call and are never shared between goroutines.
type estimator interface {
	minPoints() int
	fit(values []float64) error
	// forecast returns h point forecasts and the one-step residual standard deviation.
	forecast(h int) ([]float64, float64)
}

// Estimator kinds accepted in the model manifest.
const (
	KindETS   = "ets"
	KindARIMA = "arima"
	KindNaive = "naive"
)

// ModelSpec configures one named model in the manifest.
type ModelSpec struct {
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"params"`
}

func (s ModelSpec) param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

func (s ModelSpec) validate() error {
	switch s.Kind {
	case KindETS:
		for _, name := range []string{"alpha", "beta"} {
			if v, ok := s.Params[name]; ok && (v <= 0 || v >= 1) {
				return fmt.Errorf("ets %s must be in (0,1), got %v", name, v)
			}
		}
		if v, ok := s.Params["phi"]; ok && (v <= 0 || v > 1) {
			return fmt.Errorf("ets phi must be in (0,1], got %v", v)
		}
	case KindARIMA:
		for _, name := range []string{"p", "d", "q"} {
			v := s.param(name, 0)
			if v < 0 || v != math.Trunc(v) {
				return fmt.Errorf("arima %s must be a non-negative integer, got %v", name, v)
			}
		}
		if s.param("d", 0) > 2 {
			return fmt.Errorf("arima d must be in range [0, 2]")
		}
	case KindNaive:
	default:
		return fmt.Errorf("unknown model kind %q (must be ets, arima or naive)", s.Kind)
	}
	return nil
}

func (s ModelSpec) newEstimator() estimator {
	switch s.Kind {
	case KindARIMA:
		return newARIMA(int(s.param("p", 1)), int(s.param("d", 1)), int(s.param("q", 1)))
	case KindNaive:
		return &naive{}
	default:
		return &holt{alpha: s.param("alpha", 0), beta: s.param("beta", 0), phi: s.param("phi", 1)}
	}
}

// naive forecasts the last observed value.
type naive struct {
	last  float64
	sigma float64
}

func (n *naive) minPoints() int { return 1 }

func (n *naive) fit(values []float64) error {
	n.last = values[len(values)-1]
	diffs := difference(values, 1)
	if len(diffs) >= 2 {
		n.sigma = math.Sqrt(meanSquare(diffs))
	} else {
		n.sigma = stdDev(values)
	}
	return nil
}

func (n *naive) forecast(h int) ([]float64, float64) {
	out := make([]float64, h)
	for i := range out {
		out[i] = n.last
	}
	return out, n.sigma
}

func meanSquare(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x * x
	}
	return s / float64(len(xs))
}

// stdDev is the population standard deviation.
func stdDev(xs []float64) float64 {
	return math.Sqrt(computeVariance(xs))
}

// sqrtSteps widens the predictive spread with the horizon.
func sqrtSteps(k int) float64 {
	return math.Sqrt(float64(k))
}
