package models

import "math"

// holt is Holt's linear exponential smoothing with an optional damped trend. Smoothing
// weights left at zero are chosen by grid search on one-step squared error.
type holt struct {
	alpha, beta, phi float64

	level, trend float64
	sigma        float64
}

var (
	alphaGrid = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	betaGrid  = []float64{0.01, 0.05, 0.1, 0.2, 0.3}
)

const (
	defaultAlpha = 0.5
	defaultBeta  = 0.1
)

func (m *holt) minPoints() int { return 2 }

func (m *holt) fit(values []float64) error {
	if m.phi <= 0 {
		m.phi = 1
	}

	alphas, betas := []float64{m.alpha}, []float64{m.beta}
	if m.alpha == 0 {
		alphas = alphaGrid
	}
	if m.beta == 0 {
		betas = betaGrid
	}
	// too few residuals to rank candidates
	if len(values) < 4 {
		if m.alpha == 0 {
			alphas = []float64{defaultAlpha}
		}
		if m.beta == 0 {
			betas = []float64{defaultBeta}
		}
	}

	bestSSE := math.Inf(1)
	for _, a := range alphas {
		for _, b := range betas {
			level, trend, residuals := m.smooth(values, a, b)
			sse := meanSquare(residuals)
			if sse < bestSSE {
				bestSSE = sse
				m.alpha, m.beta = a, b
				m.level, m.trend = level, trend
				if len(residuals) >= 2 {
					m.sigma = math.Sqrt(sse)
				} else {
					m.sigma = stdDev(values)
				}
			}
		}
	}
	return nil
}

// smooth runs the recursions and returns the final state and the one-step residuals.
// The state is initialized from the first two points, so residuals start at index 2.
func (m *holt) smooth(values []float64, alpha, beta float64) (level, trend float64, residuals []float64) {
	level = values[1]
	trend = values[1] - values[0]

	for t := 2; t < len(values); t++ {
		predicted := level + m.phi*trend
		residuals = append(residuals, values[t]-predicted)

		prevLevel := level
		level = alpha*values[t] + (1-alpha)*predicted
		trend = beta*(level-prevLevel) + (1-beta)*m.phi*trend
	}
	return level, trend, residuals
}

func (m *holt) forecast(h int) ([]float64, float64) {
	out := make([]float64, h)
	damp := 0.0
	pow := 1.0
	for k := range out {
		pow *= m.phi
		damp += pow
		out[k] = m.level + damp*m.trend
	}
	return out, m.sigma
}
