package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/usagecast/cmd/extractor/config"
	"github.com/HatiCode/usagecast/cmd/extractor/pipeline"
	"github.com/HatiCode/usagecast/pkg/adapters"
	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/logging"
	"github.com/HatiCode/usagecast/pkg/resample"
	"github.com/HatiCode/usagecast/pkg/samples"
	"github.com/HatiCode/usagecast/pkg/series"
	"github.com/HatiCode/usagecast/pkg/storage"
)

type runOptions struct {
	kind        string
	query       string
	sourceOpts  []string
	window      time.Duration
	width       time.Duration
	outputDir   string
	table       string
	redisAddr   string
	failOnError bool
	dryRun      bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one extraction",
		Long: `Run fetches the configured window from the metrics source and replaces the
output table. When the source fails, nothing is written and the previous table
is kept; the command still exits 0 unless --fail-on-error is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, root, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return execute(ctx, cmd, cfg, opts.dryRun, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.kind, "source", "", "connector kind: sqlcmd, sql, http, prometheus, victoriametrics, csv, static")
	f.StringVar(&opts.query, "query", "", "query passed to the connector")
	f.StringArrayVar(&opts.sourceOpts, "source-opt", nil, "connector option as key=value (repeatable)")
	f.DurationVar(&opts.window, "window", 0, "time window to fetch for range-based sources")
	f.DurationVar(&opts.width, "width", 0, "resample bucket width")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "directory of the output table")
	f.StringVar(&opts.table, "table", "", "output table name")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "also mirror the table into Redis at this address")
	f.BoolVar(&opts.failOnError, "fail-on-error", false, "exit non-zero when the source fails")
	f.BoolVar(&opts.dryRun, "dry-run", false, "run the pipeline without writing the table")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (o *runOptions) apply(cmd *cobra.Command, root *rootOptions, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source.Kind = o.kind
	}
	if flags.Changed("query") {
		cfg.Source.Query = o.query
	}
	for _, kv := range o.sourceOpts {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --source-opt %q: expected key=value", kv)
		}
		if cfg.Source.Options == nil {
			cfg.Source.Options = map[string]string{}
		}
		cfg.Source.Options[key] = value
	}
	if flags.Changed("window") {
		cfg.Source.Window = o.window
	}
	if flags.Changed("width") {
		cfg.Resample.Width = o.width
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = o.outputDir
	}
	if flags.Changed("table") {
		cfg.Output.Table = o.table
	}
	if flags.Changed("redis-addr") {
		cfg.Output.Redis.Addr = o.redisAddr
	}
	if flags.Changed("fail-on-error") {
		cfg.FailOnError = o.failOnError
	}
	if root.logLevel != "" {
		cfg.Logging.Level = root.logLevel
	}
	if root.logFormat != "" {
		cfg.Logging.Format = root.logFormat
	}
	return nil
}

func execute(ctx context.Context, cmd *cobra.Command, cfg *config.Config, dryRun bool, logger *slog.Logger) error {
	conn, err := adapters.New(cfg.Source.Kind, cfg.Source.Options)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if closer, ok := conn.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	rs, err := resample.New(cfg.Resample.Width)
	if err != nil {
		return err
	}
	tagger, err := series.NewTagger(cfg.Schema.MetricNames())
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg, dryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	p := &pipeline.Pipeline{
		Connector:  conn,
		Query:      adapters.Query{Text: cfg.Source.Query, Window: cfg.Source.Window},
		Normalizer: samples.NewNormalizer(cfg.Schema, logger),
		Resampler:  rs,
		Tagger:     tagger,
		Store:      store,
		Table:      cfg.Output.Table,
		Timeout:    cfg.Source.Timeout,
		Logger:     logger,
	}

	res, err := p.Run(ctx)
	if err != nil {
		if apperr.Is(err, apperr.KindExtraction) && !cfg.FailOnError {
			logger.Error("extraction failed, previous output kept", "run_id", res.RunID, "error", err)
			return nil
		}
		return err
	}

	status := "written"
	switch {
	case !res.Written:
		status = "no data"
	case dryRun:
		status = "dry run"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s (rows %d, kept %d, dropped %d, series %d, records %d)\n",
		res.RunID, status, res.Fetched, res.Report.Kept, res.Report.Dropped, res.Items, res.Records)
	return err
}

// openStore returns the file store, mirrored into Redis when configured. A dry run keeps
// the table in memory.
func openStore(cfg *config.Config, dryRun bool) (storage.Store, func(), error) {
	if dryRun {
		return storage.NewMemoryStore(), func() {}, nil
	}

	file, err := storage.NewFileStore(cfg.Output.Dir)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Output.Redis.Addr == "" {
		return file, func() {}, nil
	}

	r := cfg.Output.Redis
	redisStore, err := storage.NewRedisStore(r.Addr, r.Password, r.DB, r.TTL)
	if err != nil {
		return nil, nil, err
	}
	return storage.Multi{file, redisStore}, func() { redisStore.Close() }, nil
}
