package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/winrate/internal/config"
	"github.com/banshee-data/winrate/internal/dataset"
	"github.com/banshee-data/winrate/internal/db"
	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/fsutil"
	"github.com/banshee-data/winrate/internal/monitoring"
	"github.com/banshee-data/winrate/internal/pipeline"
	"github.com/banshee-data/winrate/internal/report"
)

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Estimate p for the selected model pairs",
		Long: `Estimate the win rate for every comparison selected by --compare-models:
  All        every pair of generators
  X___All    X against every other generator
  X___Y      a single pair

Settings come from the config file, then WINRATE_* environment variables,
then these flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCompare(ctx, cmd, cfg)
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

func addRunFlags(fs *pflag.FlagSet) {
	// Dataset
	fs.String("dataset", "RandomSamples", "dataset source (RandomSamples, Annotated)")
	fs.String("annotations", "", "annotations CSV for the Annotated dataset")
	fs.Float64("q-prior-data-ratio", 0, "share of tasks exposed as labelled data (default: all)")
	fs.String("q-prior-data-usage", "q_prior", "use labelled data as a q prior or as gold labels (q_prior, gold_labels)")
	fs.Bool("load-cache", false, "read matrices from the cache when present")
	fs.Bool("q-prior-ood", false, "take labelled data from other comparisons")
	fs.String("q-prior-ood-source", "all_others", "comparisons used for out-of-distribution q (all_others, exclude_generators)")
	fs.Float64("dataset-p", 0, "rebalance each pair so the share of A wins is this value (default: natural)")

	// Calibrator
	fs.String("calibrator", "BayesianDawidSkene", "q calibrator, or None")
	fs.Int("calibrator-sample-size", 10000, "calibrator draws")
	fs.Int("calibrator-sample-cores", 4, "independent sampler chains")
	fs.Int("calibrator-burn-in", 500, "sweeps discarded per chain")
	fs.Float64("prior-strength", 100, "pseudo-count behind a point q prior (Inf holds q fixed)")
	fs.String("q-prior", "", "literal q prior, comma separated: one value, one per rater or A,B pairs")

	// Estimator
	fs.String("estimator", "BetaBernoulli", "q estimator, or None")
	fs.String("plot-dir", "results/plots", "report directory, empty to skip plots")
	fs.StringSlice("plot-format", []string{"png"}, "report formats (png, html)")
	fs.Int("p-sample-size", 10000, "p draws")
	fs.Float64("p-confidence", 0.95, "credible interval mass")

	// Control
	fs.String("compare-models", pipeline.AllModels, "comparisons to run: All, X___All or X___Y")
	fs.Int("q-prior-cv-folds", -1, "cross-validation folds over labelled tasks, -1 to disable")
	fs.Uint64("seed", 1, "random seed")
	fs.String("db", "results/winrate.db", "sqlite database for the matrix cache and run history, empty to disable")
}

// flagOverrides returns a config holding only the flags set on the command
// line, so defaults never mask file or environment values.
func flagOverrides(fs *pflag.FlagSet) (*config.RunConfig, error) {
	o := &config.RunConfig{}
	var err error
	str := func(name string, dst **string) {
		if err == nil && fs.Changed(name) {
			var v string
			v, err = fs.GetString(name)
			*dst = &v
		}
	}
	f64 := func(name string, dst **float64) {
		if err == nil && fs.Changed(name) {
			var v float64
			v, err = fs.GetFloat64(name)
			*dst = &v
		}
	}
	integer := func(name string, dst **int) {
		if err == nil && fs.Changed(name) {
			var v int
			v, err = fs.GetInt(name)
			*dst = &v
		}
	}
	boolean := func(name string, dst **bool) {
		if err == nil && fs.Changed(name) {
			var v bool
			v, err = fs.GetBool(name)
			*dst = &v
		}
	}

	str("dataset", &o.Dataset)
	str("annotations", &o.AnnotationsPath)
	f64("q-prior-data-ratio", &o.QPriorDataRatio)
	str("q-prior-data-usage", &o.QPriorDataUsage)
	boolean("load-cache", &o.LoadCache)
	if err == nil && fs.Changed("q-prior-ood") {
		var ood bool
		ood, err = fs.GetBool("q-prior-ood")
		inDist := !ood
		o.QPriorInDistribution = &inDist
	}
	str("q-prior-ood-source", &o.QPriorOODSource)
	f64("dataset-p", &o.DatasetP)
	str("calibrator", &o.Calibrator)
	integer("calibrator-sample-size", &o.CalibratorSampleSize)
	integer("calibrator-sample-cores", &o.CalibratorSampleCores)
	integer("calibrator-burn-in", &o.CalibratorBurnIn)
	f64("prior-strength", &o.PriorStrength)
	str("estimator", &o.Estimator)
	str("plot-dir", &o.PlotDir)
	integer("p-sample-size", &o.PSampleSize)
	f64("p-confidence", &o.PConfidence)
	str("compare-models", &o.CompareModels)
	integer("q-prior-cv-folds", &o.QPriorCVFolds)
	str("db", &o.Database)
	if err != nil {
		return nil, err
	}

	if fs.Changed("q-prior") {
		raw, _ := fs.GetString("q-prior")
		if o.QPrior, err = config.ParseQPrior(raw); err != nil {
			return nil, err
		}
	}
	if fs.Changed("plot-format") {
		if o.PlotFormats, err = fs.GetStringSlice("plot-format"); err != nil {
			return nil, err
		}
	}
	if fs.Changed("seed") {
		seed, err := fs.GetUint64("seed")
		if err != nil {
			return nil, err
		}
		o.Seed = &seed
	}
	return o, nil
}

// resolveConfig layers file, environment and flags and validates the result
// before any data is touched.
func resolveConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	overrides, err := flagOverrides(cmd.Flags())
	if err != nil {
		return nil, errkind.Configurationf("flags: %v", err)
	}
	cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDatabase opens the configured sqlite file, or returns nil when the
// database is disabled.
func openDatabase(cfg *config.RunConfig) (*db.DB, error) {
	path := cfg.GetDatabase()
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := (fsutil.OSFileSystem{}).MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return db.Open(path)
}

func runCompare(ctx context.Context, cmd *cobra.Command, cfg *config.RunConfig) error {
	target, err := pipeline.ParseTarget(cfg.GetCompareModels())
	if err != nil {
		return err
	}

	fsys := fsutil.OSFileSystem{}
	src, err := dataset.DefaultRegistry().Open(cfg.GetDataset(), dataset.Options{
		FS:              fsys,
		AnnotationsPath: cfg.GetAnnotationsPath(),
	})
	if err != nil {
		return err
	}
	loader := &dataset.Loader{Source: src}

	var opts []pipeline.Option
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
		loader.Cache = db.NewMatrixCache(database)
		opts = append(opts, pipeline.WithStore(db.NewComparisonStore(database)))
	}

	formats := make([]report.Format, 0, len(cfg.GetPlotFormats()))
	for _, f := range cfg.GetPlotFormats() {
		formats = append(formats, report.Format(f))
	}
	sink, err := report.New(fsys, cfg.GetPlotDir(), formats...)
	if err != nil {
		return err
	}
	opts = append(opts, pipeline.WithSink(sink))

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return err
	}
	batch := &pipeline.Batch{Config: cfg, Loader: loader, Pipeline: p}
	summary, err := batch.Run(ctx, target)
	if summary != nil {
		printSummary(cmd, summary)
	}
	if err != nil {
		return err
	}
	if n := len(summary.Failed); n > 0 {
		return fmt.Errorf("%d of %d comparisons failed", n, n+len(summary.Results))
	}
	monitoring.Logf("done: %d comparisons", len(summary.Results))
	return nil
}

func printSummary(cmd *cobra.Command, s *pipeline.BatchSummary) {
	for _, r := range s.Results {
		switch {
		case r.Estimate != nil:
			e := r.Estimate
			printf(cmd, "%s\tp=%.4f mode=%.4f %.0f%%CI=[%.4f, %.4f] k=%.4f\n",
				r.Comparison, e.Mean, e.Mode, e.Confidence*100, e.Lower, e.Upper, e.K)
		case r.CV != nil:
			printf(cmd, "%s\tcv folds=%d mean_error=%.4f mode_error=%.4f k_error=%.4f\n",
				r.Comparison, len(r.CV.Records), r.CV.MeanError, r.CV.ModeError, r.CV.KError)
		}
	}
	for _, f := range s.Failed {
		printf(cmd, "%s\tFAILED at %s: %v\n", f.Comparison, f.Stage, f.Err)
	}
}
