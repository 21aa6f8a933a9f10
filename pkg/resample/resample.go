// Package resample aligns irregular observations onto a fixed time grid.
package resample

import (
	"sort"
	"time"

	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/samples"
)

// DefaultWidth is the bucket width used when none is configured.
const DefaultWidth = 5 * time.Minute

// Point is the mean of one metric for one entity over the bucket [Start, Start+width).
type Point struct {
	Start  time.Time
	Entity string
	Metric string
	Mean   float64
	Count  int
}

// Resampler buckets observations into fixed-width, half-open intervals. Bucket
// boundaries follow time.Truncate on the UTC instant.
type Resampler struct {
	width time.Duration
}

// New returns a Resampler with the given bucket width.
func New(width time.Duration) (*Resampler, error) {
	if width <= 0 {
		return nil, apperr.Configuration("resample.New", "bucket width must be positive, got %s", width)
	}
	return &Resampler{width: width}, nil
}

// Width returns the bucket width.
func (r *Resampler) Width() time.Duration { return r.width }

// BucketStart returns the start of the bucket containing t.
func (r *Resampler) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(r.width)
}

type bucketKey struct {
	entity string
	start  time.Time
	metric string
}

// Resample groups observations by (entity, bucket, metric) and averages each group.
// Buckets without observations produce no point. The output is sorted by entity,
// then bucket start, then metric, and resampling already aligned points is a no-op.
func (r *Resampler) Resample(obs []samples.Observation) []Point {
	type acc struct {
		sum   float64
		count int
	}
	groups := make(map[bucketKey]*acc)

	for _, o := range obs {
		start := r.BucketStart(o.Timestamp)
		for metric, v := range o.Values {
			k := bucketKey{entity: o.Entity, start: start, metric: metric}
			a, ok := groups[k]
			if !ok {
				a = &acc{}
				groups[k] = a
			}
			a.sum += v
			a.count++
		}
	}

	points := make([]Point, 0, len(groups))
	for k, a := range groups {
		points = append(points, Point{
			Start:  k.start,
			Entity: k.entity,
			Metric: k.metric,
			Mean:   a.sum / float64(a.count),
			Count:  a.count,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Metric < b.Metric
	})
	return points
}
