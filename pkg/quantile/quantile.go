// Package quantile handles quantile levels and the forecast column names derived from them.
//
// Forecast frames name their columns after the level they carry: the central estimate is
// "mean" and every quantile column is the shortest decimal form of its level ("0.025",
// "0.5", "0.975"). Levels may be written in p-notation (p2.5, p97.5) or decimal notation.
package quantile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MeanColumn is the name of the central-estimate column.
const MeanColumn = "mean"

// ParseLevel parses a quantile level from either p-notation (p2.5, p97.5)
// or decimal notation (0.025, 0.975).
//
// Examples:
//   - "p2.5" → 0.025
//   - "p50" → 0.50
//   - "0.975" → 0.975
//
// Returns error if the format is invalid or the level is outside the open interval (0, 1).
func ParseLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantile level")
	}

	var level float64
	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		level = percentile / 100.0
	} else {
		q, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid quantile %q: %w", s, err)
		}
		level = q
	}

	if level <= 0 || level >= 1 || math.IsNaN(level) {
		return 0, fmt.Errorf("quantile %q out of range (0, 1)", s)
	}
	return level, nil
}

// Column returns the forecast column name for a quantile level.
func Column(level float64) string {
	return strconv.FormatFloat(level, 'f', -1, 64)
}

// ParseColumn normalizes a user-supplied column reference. "mean" is returned as is;
// anything else is parsed as a level and rendered with Column.
func ParseColumn(s string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(s), MeanColumn) {
		return MeanColumn, nil
	}
	level, err := ParseLevel(s)
	if err != nil {
		return "", err
	}
	return Column(level), nil
}

// FormatLevel formats a quantile level as p-notation for display.
//
// Examples:
//   - 0.025 → "p2.5"
//   - 0.90 → "p90"
func FormatLevel(q float64) string {
	percentile := q * 100
	if percentile == math.Trunc(percentile) {
		return fmt.Sprintf("p%d", int(percentile))
	}
	return "p" + strconv.FormatFloat(percentile, 'f', -1, 64)
}

// Z returns the standard normal quantile for level q, so that a normal forecast with
// mean m and standard deviation s has its q-quantile at m + Z(q)*s.
func Z(q float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*q-1)
}
