// Package series tags resampled points with item identifiers and reads and writes the
// long-form series file consumed by the forecaster.
package series

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/HatiCode/usagecast/pkg/resample"
)

// Record is one value of one series at one instant. It is both the persisted row and the
// forecast request row.
type Record struct {
	Timestamp time.Time
	ItemID    string
	Value     float64
}

var metricNameRe = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

// ValidateMetricName reports whether name can be used in an item id. Underscores are not
// allowed so that ItemID stays injective.
func ValidateMetricName(name string) error {
	if !metricNameRe.MatchString(name) {
		return fmt.Errorf("invalid metric name %q: must match [A-Za-z0-9.-]+", name)
	}
	return nil
}

// ItemID returns the series identifier for an entity and a metric.
func ItemID(entity, metric string) string {
	return entity + "_" + metric
}

// Tagger converts resampled points into records.
type Tagger struct {
	metrics []string
}

// NewTagger returns a Tagger emitting metrics in the given order.
func NewTagger(metrics []string) (*Tagger, error) {
	if len(metrics) == 0 {
		return nil, fmt.Errorf("at least one metric is required")
	}
	seen := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		if err := ValidateMetricName(m); err != nil {
			return nil, err
		}
		if seen[m] {
			return nil, fmt.Errorf("duplicate metric name %q", m)
		}
		seen[m] = true
	}
	return &Tagger{metrics: append([]string(nil), metrics...)}, nil
}

// Tag emits one record per point, grouped metric by metric in the configured order, then
// by entity, then by time. Points for metrics not configured and non-finite means are
// skipped. Every item's records are contiguous and ascending in time.
func (t *Tagger) Tag(points []resample.Point) []Record {
	byMetric := make(map[string][]resample.Point, len(t.metrics))
	for _, p := range points {
		if math.IsNaN(p.Mean) || math.IsInf(p.Mean, 0) {
			continue
		}
		byMetric[p.Metric] = append(byMetric[p.Metric], p)
	}

	out := make([]Record, 0, len(points))
	for _, metric := range t.metrics {
		ps := byMetric[metric]
		sort.SliceStable(ps, func(i, j int) bool {
			if ps[i].Entity != ps[j].Entity {
				return ps[i].Entity < ps[j].Entity
			}
			return ps[i].Start.Before(ps[j].Start)
		})
		for _, p := range ps {
			out = append(out, Record{
				Timestamp: p.Start.UTC(),
				ItemID:    ItemID(p.Entity, metric),
				Value:     p.Mean,
			})
		}
	}
	return out
}

// Series is the ordered history of one item.
type Series struct {
	ItemID  string
	Records []Record
}

// Group splits records by item id, in order of first appearance, and sorts each series by
// timestamp.
func Group(records []Record) []Series {
	index := make(map[string]int)
	var out []Series
	for _, r := range records {
		i, ok := index[r.ItemID]
		if !ok {
			i = len(out)
			index[r.ItemID] = i
			out = append(out, Series{ItemID: r.ItemID})
		}
		out[i].Records = append(out[i].Records, r)
	}
	for i := range out {
		recs := out[i].Records
		sort.SliceStable(recs, func(a, b int) bool { return recs[a].Timestamp.Before(recs[b].Timestamp) })
	}
	return out
}
