// Package pipeline runs the estimate for one comparison (q estimation,
// calibration, p estimation, reporting) and drives batches of comparisons.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/winrate/internal/calibration"
	"github.com/banshee-data/winrate/internal/config"
	"github.com/banshee-data/winrate/internal/crossval"
	"github.com/banshee-data/winrate/internal/dataset"
	"github.com/banshee-data/winrate/internal/db"
	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/monitoring"
	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/report"
	"github.com/banshee-data/winrate/internal/votes"
	"github.com/banshee-data/winrate/internal/winrate"
)

// RunStore persists finished estimates.
type RunStore interface {
	Insert(run *db.ComparisonRun) error
}

// Pipeline holds the resolved configuration for every comparison of a run.
type Pipeline struct {
	cfg        *config.RunConfig
	estimator  reliability.Estimator
	calibrator calibration.Calibrator
	sink       report.Sink
	store      RunStore
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSink renders every estimate to s. A nil sink disables reports.
func WithSink(s report.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithStore records every estimate in s.
func WithStore(s RunStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// New validates cfg and resolves the estimator and calibrator it names.
func New(cfg *config.RunConfig, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	if name := cfg.GetEstimator(); name != reliability.NoEstimator {
		est, err := reliability.DefaultRegistry().Lookup(name)
		if err != nil {
			return nil, err
		}
		p.estimator = est
	}
	cal, err := calibration.DefaultRegistry().Lookup(cfg.GetCalibrator())
	if err != nil {
		return nil, err
	}
	p.calibrator = cal
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// model is the q model shared by estimator and calibrator.
func (p *Pipeline) model() reliability.Model {
	if p.cfg.OneCoinEstimator() || p.cfg.OneCoinCalibrator() {
		return reliability.OneCoin
	}
	return reliability.ConfusionMatrix
}

// scalarQ reports whether p is estimated from a single q value rather than
// from q samples: a literal q prior, a non-Bayesian calibrator or the
// Scalar estimator all force it.
func (p *Pipeline) scalarQ() bool {
	if p.cfg.QPrior != nil {
		return true
	}
	if p.calibrator != nil && !p.calibrator.Bayesian() {
		return true
	}
	return p.cfg.GetEstimator() == "Scalar"
}

func (p *Pipeline) goldLabels() bool {
	return dataset.PriorUsage(p.cfg.GetQPriorDataUsage()) == dataset.UsageGoldLabels
}

// Estimate produces the p estimate for one comparison from its voting and
// truth matrices.
func (p *Pipeline) Estimate(ctx context.Context, cmp Comparison, voting, truth *votes.Matrix) (*winrate.Estimate, error) {
	cfg := p.cfg
	scalar := p.scalarQ()
	bayesGold := p.calibrator != nil && !scalar && p.goldLabels()

	// q estimation, or the literal prior.
	logq := monitoring.Stagef(cmp.String(), string(StageEstimateQ))
	var point *reliability.PointValue
	var prior reliability.Estimate
	switch {
	case p.estimator != nil && !bayesGold:
		est, err := p.estimator.Estimate(truth)
		if err != nil {
			if cfg.QPrior == nil || !errors.Is(err, errkind.ErrInsufficientData) {
				return nil, wrapStage(cmp, StageEstimateQ, err)
			}
			logq("%v; falling back to q_prior", err)
			if point, err = p.literalQ(voting); err != nil {
				return nil, wrapStage(cmp, StageEstimateQ, err)
			}
			break
		}
		if scalar {
			point = collapse(est)
		} else {
			prior = est
		}
		logq("estimated q: %s", reliability.Describe(est))
	case cfg.QPrior != nil:
		var err error
		if point, err = p.literalQ(voting); err != nil {
			return nil, wrapStage(cmp, StageEstimateQ, err)
		}
		logq("literal q prior: %s", reliability.Describe(point))
	}
	logq("phat by human label error: %s", labelError(voting, truth))

	// Calibration. Each branch leaves exactly one of point, samples or
	// pSamples for the p estimator.
	var samples *reliability.SampleSet
	var pSamples []float64
	logc := monitoring.Stagef(cmp.String(), string(StageCalibrateQ))
	if p.calibrator != nil {
		req := calibration.Request{
			Voting:        voting,
			Samples:       cfg.GetCalibratorSampleSize(),
			Workers:       cfg.GetCalibratorSampleCores(),
			BurnIn:        cfg.GetCalibratorBurnIn(),
			PriorStrength: cfg.GetPriorStrength(),
			Seed:          cfg.GetSeed(),
		}
		switch {
		case scalar:
			req.Point = true
			if point != nil {
				req.Prior = point
			}
		case bayesGold:
			req.Gold = truth
		default:
			if prior != nil {
				req.Prior = prior
			}
		}
		res, err := p.calibrator.Calibrate(ctx, req)
		if err != nil {
			return nil, wrapStage(cmp, StageCalibrateQ, err)
		}
		logc("after calibration: %s", reliability.Describe(res.Q))
		switch q := res.Q.(type) {
		case *reliability.PointValue:
			point = q
		case *reliability.SampleSet:
			samples, pSamples = q, res.P
		default:
			return nil, wrapStage(cmp, StageCalibrateQ, errkind.Calibrationf("calibrator %s returned %T", p.calibrator.Name(), res.Q))
		}
	} else if !scalar {
		dist, ok := prior.(*reliability.Distribution)
		if !ok {
			return nil, wrapStage(cmp, StageEstimateQ, errkind.Configurationf("estimator %s gives no q distribution to sample", cfg.GetEstimator()))
		}
		samples = dist.Sample(cfg.GetPSampleSize(), rand.NewPCG(cfg.GetSeed(), 0x9e3779b9))
	}

	// p estimation.
	opts := winrate.Options{
		Confidence: cfg.GetPConfidence(),
		SampleSize: cfg.GetPSampleSize(),
		Seed:       cfg.GetSeed(),
	}
	var est *winrate.Estimate
	var err error
	switch {
	case pSamples != nil:
		est, err = winrate.FromPSamples(voting, truth, pSamples, opts)
	case samples != nil:
		est, err = winrate.FromSamples(voting, truth, samples, opts)
	case point != nil:
		est, err = winrate.FromPoint(voting, truth, point, opts)
	default:
		err = errkind.Configurationf("no q available for p estimation")
	}
	if err != nil {
		return nil, wrapStage(cmp, StageEstimateP, err)
	}
	monitoring.Stagef(cmp.String(), string(StageEstimateP))(
		"%s: mean %.4f, mode %.4f, %.0f%% CI [%.4f, %.4f], k %.4f, errors mean %.4f mode %.4f k %.4f",
		est.Method, est.Mean, est.Mode, est.Confidence*100, est.Lower, est.Upper, est.K,
		est.MeanError, est.ModeError, est.KError)
	return est, nil
}

// literalQ expands the configured q_prior list for the voting raters.
func (p *Pipeline) literalQ(voting *votes.Matrix) (*reliability.PointValue, error) {
	return reliability.PointFromList(p.model(), voting.NumRaters(), p.cfg.QPrior)
}

func collapse(est reliability.Estimate) *reliability.PointValue {
	switch v := est.(type) {
	case *reliability.PointValue:
		return v
	case *reliability.Distribution:
		return v.Mean()
	}
	return nil
}

// labelError is |p(truth) - p(voting)|, the error a perfect q would still
// carry from labelling noise.
func labelError(voting, truth *votes.Matrix) string {
	tp, ok1 := truth.TrueP()
	vp, ok2 := voting.TrueP()
	if !ok1 || !ok2 {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", math.Abs(tp-vp))
}

// Result is the outcome of one comparison.
type Result struct {
	Comparison Comparison
	// Estimate is the full-run estimate, nil when cross-validating.
	Estimate *winrate.Estimate
	CV       *crossval.Summary
}

// Compare runs cross-validation when folds are configured and a single
// estimate otherwise. Every estimate is recorded and rendered; neither side
// effect changes the result.
func (p *Pipeline) Compare(ctx context.Context, cmp Comparison, voting, truth *votes.Matrix) (*Result, error) {
	logf := monitoring.Stagef(cmp.String(), "compare")
	logf("comparing %s and %s (%d rows, %d raters, %d labelled rows)",
		cmp.ModelA, cmp.ModelB, voting.Len(), voting.NumRaters(), truth.Len())

	res := &Result{Comparison: cmp}
	if k := p.cfg.GetQPriorCVFolds(); k != crossval.Disabled {
		summary, err := crossval.Run(ctx, voting, truth, k, func(ctx context.Context, fold crossval.Fold, v, tr *votes.Matrix) (*winrate.Estimate, error) {
			est, err := p.Estimate(ctx, cmp, v, tr)
			if err != nil {
				return nil, err
			}
			logf("CV #%d/%d p_hat_error: %.4f, p_mode_error: %.4f, k_error: %.4f",
				fold.Index+1, k, est.MeanError, est.ModeError, est.KError)
			p.publish(cmp, fold.Index, est)
			return est, nil
		})
		if err != nil {
			return nil, wrapStage(cmp, StageCrossValid, err)
		}
		logf("CV average: mean error %.4f, mode error %.4f, k error %.4f",
			summary.MeanError, summary.ModeError, summary.KError)
		res.CV = summary
	} else {
		est, err := p.Estimate(ctx, cmp, voting, truth)
		if err != nil {
			return nil, err
		}
		p.publish(cmp, crossval.Disabled, est)
		res.Estimate = est
	}

	logf("true q: %s", reliability.Describe(reliability.Realised(voting, p.model())))
	if tp, ok := voting.TrueP(); ok {
		logf("true p: %.4f", tp)
	} else {
		logf("true p: unknown")
	}
	return res, nil
}

// publish stores and renders one estimate. Failures are logged only.
func (p *Pipeline) publish(cmp Comparison, fold int, est *winrate.Estimate) {
	logf := monitoring.Stagef(cmp.String(), string(StageReport))
	if p.store != nil {
		if err := p.store.Insert(p.run(cmp, fold, est)); err != nil {
			logf("record run: %v", err)
		}
	}
	if err := report.Render(p.sink, report.Name(cmp.String(), fold), est); err != nil {
		logf("render: %v", err)
	}
}

func (p *Pipeline) run(cmp Comparison, fold int, est *winrate.Estimate) *db.ComparisonRun {
	run := &db.ComparisonRun{
		Comparison: cmp.String(),
		Dataset:    p.cfg.GetDataset(),
		Estimator:  p.cfg.GetEstimator(),
		Calibrator: p.cfg.GetCalibrator(),
		Method:     string(est.Method),
		PMean:      est.Mean,
		PMode:      est.Mode,
		PLower:     est.Lower,
		PUpper:     est.Upper,
		K:          est.K,
		MeanError:  est.MeanError,
		ModeError:  est.ModeError,
		KError:     est.KError,
	}
	run.TrueP, _ = est.Reference()
	if fold != crossval.Disabled {
		f := fold
		run.Fold = &f
	}
	if params, err := json.Marshal(p.cfg); err == nil {
		run.ParamsJSON = params
	}
	return run
}
