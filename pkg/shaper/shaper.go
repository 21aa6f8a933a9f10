// Package shaper turns a quantile forecast frame into the public response rows.
package shaper

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/models"
	"github.com/HatiCode/usagecast/pkg/quantile"
)

// TimestampLayout is the timestamp format of response rows, in UTC.
const TimestampLayout = "2006-01-02T15:04:05"

// Columns selects which frame columns become prediction, lowerBound and upperBound.
// It is fixed by process configuration.
type Columns struct {
	Prediction string
	Lower      string
	Upper      string
}

// DefaultColumns maps mean, 0.025 and 0.975.
func DefaultColumns() Columns {
	return Columns{
		Prediction: quantile.MeanColumn,
		Lower:      quantile.Column(0.025),
		Upper:      quantile.Column(0.975),
	}
}

// Required lists the selected columns in output order.
func (c Columns) Required() []string {
	return []string{c.Prediction, c.Lower, c.Upper}
}

// Check verifies that every selected column is produced by the model.
func (c Columns) Check(available []string) error {
	for _, col := range c.Required() {
		if col == "" {
			return apperr.Configuration("shaper.Check", "column mapping has an empty entry: %+v", c)
		}
	}
	if missing := models.MissingColumns(available, c.Required()); len(missing) > 0 {
		return apperr.Configuration("shaper.Check", "model does not produce columns %s (available: %s)",
			strings.Join(missing, ", "), strings.Join(available, ", "))
	}
	return nil
}

// Row is one public forecast row.
type Row struct {
	ItemID     string    `json:"item_id"`
	Timestamp  time.Time `json:"timestamp"`
	Prediction float64   `json:"prediction"`
	LowerBound float64   `json:"lowerBound"`
	UpperBound float64   `json:"upperBound"`
}

// MarshalJSON writes the timestamp with TimestampLayout.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ItemID     string  `json:"item_id"`
		Timestamp  string  `json:"timestamp"`
		Prediction float64 `json:"prediction"`
		LowerBound float64 `json:"lowerBound"`
		UpperBound float64 `json:"upperBound"`
	}{r.ItemID, r.Timestamp.UTC().Format(TimestampLayout), r.Prediction, r.LowerBound, r.UpperBound})
}

// Shape selects and renames the configured columns, one output row per frame row, in
// frame order. A column missing from the frame is a configuration error; a row without a
// finite value for a selected column is a prediction error.
func Shape(frame models.QuantileFrame, cols Columns) ([]Row, error) {
	if err := cols.Check(frame.Columns); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(frame.Rows))
	for i, r := range frame.Rows {
		var vals [3]float64
		for j, col := range cols.Required() {
			v, ok := r.Values[col]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, apperr.Prediction("shaper.Shape",
					fmt.Errorf("row %d (%s at %s): no finite value for column %s", i, r.ItemID, r.Timestamp.Format(time.RFC3339), col))
			}
			vals[j] = v
		}
		out = append(out, Row{
			ItemID:     r.ItemID,
			Timestamp:  r.Timestamp.UTC(),
			Prediction: vals[0],
			LowerBound: vals[1],
			UpperBound: vals[2],
		})
	}
	return out, nil
}
