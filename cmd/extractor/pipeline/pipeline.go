// Package pipeline runs one batch extraction:
//
//	fetch → normalize → resample → tag → store
//
// A run either writes one complete table or writes nothing. Source failures surface as
// extraction errors and leave any previously written table untouched. Rows that fail to
// parse are dropped and counted; they never fail the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/usagecast/pkg/adapters"
	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/resample"
	"github.com/HatiCode/usagecast/pkg/samples"
	"github.com/HatiCode/usagecast/pkg/series"
	"github.com/HatiCode/usagecast/pkg/storage"
)

// Pipeline wires the extraction stages. Connector, Normalizer, Resampler, Tagger, Store
// and Table are required.
type Pipeline struct {
	Connector  adapters.Connector
	Query      adapters.Query
	Normalizer *samples.Normalizer
	Resampler  *resample.Resampler
	Tagger     *series.Tagger
	Store      storage.Store
	Table      string

	// Timeout bounds the fetch. Zero means no limit beyond ctx.
	Timeout time.Duration
	Logger  *slog.Logger

	// Now and NewRunID default to time.Now and uuid.NewString.
	Now      func() time.Time
	NewRunID func() string
}

// Result summarizes a run.
type Result struct {
	RunID   string
	Fetched int
	Report  samples.Report
	Points  int
	Records int
	Items   int
	Written bool
}

// Run executes one extraction. An empty source, or a source whose rows are all dropped,
// is not an error: Result.Written is false and nothing is stored.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	newRunID := p.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}

	res := Result{RunID: newRunID()}
	logger = logger.With("run_id", res.RunID, "source", p.Connector.Name(), "table", p.Table)

	fetchCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	df, err := p.Connector.Fetch(fetchCtx, p.Query)
	if err != nil {
		return res, apperr.Extraction("pipeline.Run", err)
	}
	res.Fetched = df.Len()
	logger.Info("fetched rows", "rows", res.Fetched, "duration_ms", time.Since(start).Milliseconds())

	if res.Fetched == 0 {
		logger.Info("no data to process")
		return res, nil
	}

	obs, report := p.Normalizer.Normalize(df.Rows)
	res.Report = report

	points := p.Resampler.Resample(obs)
	res.Points = len(points)
	logger.Debug("resampled", "width", p.Resampler.Width().String(), "points", res.Points)

	records := p.Tagger.Tag(points)
	res.Records = len(records)
	if len(records) == 0 {
		logger.Info("no data to process", "kept", report.Kept)
		return res, nil
	}
	res.Items = len(series.Group(records))

	table := storage.Table{
		Name:        p.Table,
		RunID:       res.RunID,
		GeneratedAt: now().UTC(),
		Records:     records,
	}
	if err := p.Store.Put(ctx, table); err != nil {
		return res, fmt.Errorf("store table %s: %w", p.Table, err)
	}
	res.Written = true

	logger.Info("extraction complete",
		"kept", report.Kept,
		"dropped", report.Dropped,
		"buckets", res.Points,
		"records", res.Records,
		"items", res.Items,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
