package models

import (
	"errors"
	"fmt"
	"math"
)

// arima is an ARIMA(p,d,q) estimator:
//   - p: autoregressive order
//   - d: differencing order (0, 1 or 2)
//   - q: moving average order
//
// AR weights come from the Yule-Walker equations solved with Levinson-Durbin; MA weights
// are approximated from residual autocorrelations.
type arima struct {
	p, d, q int

	levels   [][]float64 // levels[k] is the series differenced k times
	mean     float64
	arCoeffs []float64
	maCoeffs []float64
	centered []float64
	errs     []float64
	sigma    float64
}

func newARIMA(p, d, q int) *arima {
	return &arima{p: p, d: d, q: q}
}

func (m *arima) minPoints() int {
	return max(max(m.p+m.d, m.q+m.d), 10)
}

func (m *arima) fit(values []float64) error {
	if len(values) < m.minPoints() {
		return fmt.Errorf("need at least %d points for ARIMA(%d,%d,%d), got %d",
			m.minPoints(), m.p, m.d, m.q, len(values))
	}

	m.levels = make([][]float64, m.d+1)
	m.levels[0] = values
	for k := 1; k <= m.d; k++ {
		m.levels[k] = difference(m.levels[k-1], 1)
	}
	stationary := m.levels[m.d]

	m.mean = computeMean(stationary)
	m.centered = make([]float64, len(stationary))
	for i, v := range stationary {
		m.centered[i] = v - m.mean
	}

	arCoeffs, err := fitAR(m.centered, m.p)
	if err != nil {
		return fmt.Errorf("fit AR coefficients: %w", err)
	}
	residuals := computeResiduals(m.centered, arCoeffs, m.p)

	maCoeffs, err := fitMA(residuals, m.q)
	if err != nil {
		return fmt.Errorf("fit MA coefficients: %w", err)
	}

	m.arCoeffs, m.maCoeffs, m.errs = arCoeffs, maCoeffs, residuals
	if len(residuals) > 1 {
		var sumSq float64
		for _, r := range residuals {
			sumSq += r * r
		}
		m.sigma = math.Sqrt(sumSq / float64(len(residuals)-1))
	}
	return nil
}

// forecast runs the ARMA recursion on the stationary series with future shocks set to
// zero, then integrates d times.
func (m *arima) forecast(h int) ([]float64, float64) {
	hist := append([]float64(nil), m.centered...)
	errs := append([]float64(nil), m.errs...)

	diffs := make([]float64, h)
	for t := range h {
		var pred float64
		for i := 0; i < m.p && i < len(hist); i++ {
			pred += m.arCoeffs[i] * hist[len(hist)-1-i]
		}
		for j := 0; j < m.q && j < len(errs); j++ {
			pred += m.maCoeffs[j] * errs[len(errs)-1-j]
		}
		hist = append(hist, pred)
		errs = append(errs, 0)
		diffs[t] = pred + m.mean
	}

	out := diffs
	for k := m.d - 1; k >= 0; k-- {
		level := m.levels[k]
		last := level[len(level)-1]
		integrated := make([]float64, h)
		for t := range h {
			last += out[t]
			integrated[t] = last
		}
		out = integrated
	}
	return out, m.sigma
}

// difference applies d-order differencing to make series stationary
func difference(series []float64, d int) []float64 {
	if d == 0 || len(series) == 0 {
		result := make([]float64, len(series))
		copy(result, series)
		return result
	}

	result := make([]float64, len(series)-1)
	for i := 0; i < len(series)-1; i++ {
		result[i] = series[i+1] - series[i]
	}

	if d > 1 {
		return difference(result, d-1)
	}

	return result
}

// computeMean calculates the arithmetic mean of a series
func computeMean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// computeVariance calculates the variance of a series
func computeVariance(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}

	mean := computeMean(series)
	var sumSq float64
	for _, v := range series {
		diff := v - mean
		sumSq += diff * diff
	}
	return sumSq / float64(len(series))
}

// fitAR estimates AR coefficients using Yule-Walker equations with Levinson-Durbin
func fitAR(centered []float64, p int) ([]float64, error) {
	if p == 0 {
		return []float64{}, nil
	}

	variance := computeVariance(centered)
	if variance < 1e-10 {
		return make([]float64, p), nil
	}

	acf := make([]float64, p+1)
	for k := 0; k <= p; k++ {
		acf[k] = autocorr(centered, k)
	}

	coeffs, err := levinsonDurbin(acf, p)
	if err != nil {
		coeffs = make([]float64, p)
		if p > 0 {
			coeffs[0] = 0.5
		}
	}

	return coeffs, nil
}

// autocorr computes autocorrelation at given lag
func autocorr(series []float64, lag int) float64 {
	if lag < 0 || lag >= len(series) {
		return 0
	}

	n := len(series)
	mean := computeMean(series)

	var c0, ck float64
	for i := range n {
		c0 += (series[i] - mean) * (series[i] - mean)
	}

	for i := 0; i < n-lag; i++ {
		ck += (series[i] - mean) * (series[i+lag] - mean)
	}

	if c0 == 0 {
		return 0
	}

	return ck / c0
}

// levinsonDurbin solves Yule-Walker equations efficiently
func levinsonDurbin(acf []float64, p int) ([]float64, error) {
	if p == 0 {
		return []float64{}, nil
	}

	phi := make([][]float64, p+1)
	for i := range phi {
		phi[i] = make([]float64, p+1)
	}

	var v float64 = acf[0]

	for k := 1; k <= p; k++ {
		var num float64 = acf[k]
		for j := 1; j < k; j++ {
			num -= phi[k-1][j] * acf[k-j]
		}

		if v == 0 {
			return nil, errors.New("numerical instability in Levinson-Durbin")
		}

		phi[k][k] = num / v

		for j := 1; j < k; j++ {
			phi[k][j] = phi[k-1][j] - phi[k][k]*phi[k-1][k-j]
		}

		v = v * (1 - phi[k][k]*phi[k][k])

		if v < 0 {
			return nil, errors.New("negative variance in Levinson-Durbin")
		}
	}

	coeffs := make([]float64, p)
	for i := range p {
		coeffs[i] = phi[p][i+1]
	}

	return coeffs, nil
}

// computeResiduals calculates prediction errors for MA fitting
func computeResiduals(centered []float64, arCoeffs []float64, p int) []float64 {
	if len(centered) <= p {
		return []float64{}
	}

	residuals := make([]float64, len(centered)-p)

	for t := p; t < len(centered); t++ {
		var arPred float64
		for i := 0; i < p && i < len(arCoeffs); i++ {
			arPred += arCoeffs[i] * centered[t-1-i]
		}

		residuals[t-p] = centered[t] - arPred
	}

	return residuals
}

// fitMA estimates MA coefficients using innovations algorithm
func fitMA(residuals []float64, q int) ([]float64, error) {
	if q == 0 || len(residuals) == 0 {
		return []float64{}, nil
	}

	// MA weights approximated by the residual autocorrelations, clamped inside the
	// invertibility region.
	coeffs := make([]float64, q)

	for i := 0; i < q && i < len(residuals); i++ {
		coeffs[i] = autocorr(residuals, i+1)
	}

	for i := range coeffs {
		if math.Abs(coeffs[i]) > 1 {
			coeffs[i] = coeffs[i] / math.Abs(coeffs[i]) * 0.9
		}
	}

	return coeffs, nil
}
