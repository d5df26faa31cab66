package pipeline

import (
	"context"

	"github.com/banshee-data/winrate/internal/config"
	"github.com/banshee-data/winrate/internal/dataset"
	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/monitoring"
)

// Failure is a comparison that did not produce an estimate.
type Failure struct {
	Comparison Comparison
	Stage      Stage
	Err        error
}

// BatchSummary lists what happened to every comparison of a batch.
type BatchSummary struct {
	Results []*Result
	Failed  []Failure
}

// Succeeded returns the comparisons that produced a result.
func (s *BatchSummary) Succeeded() []Comparison {
	out := make([]Comparison, len(s.Results))
	for i, r := range s.Results {
		out[i] = r.Comparison
	}
	return out
}

// Batch runs the pipeline over the comparisons a target names.
type Batch struct {
	Config   *config.RunConfig
	Loader   *dataset.Loader
	Pipeline *Pipeline
}

// Run loads and compares every pair of target in order. Data and
// calibration failures are logged and the batch moves on; a configuration
// error or a cancelled context stops it and is returned with the partial
// summary.
func (b *Batch) Run(ctx context.Context, target Target) (*BatchSummary, error) {
	generators, err := b.Loader.Source.Generators(ctx)
	if err != nil {
		return nil, errkind.Configurationf("list generators of %s: %v", b.Loader.Source.Name(), err)
	}
	comparisons, err := target.Comparisons(generators)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("running %d comparisons on %s", len(comparisons), b.Loader.Source.Name())

	summary := &BatchSummary{}
	for i, cmp := range comparisons {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		monitoring.Logf("comparison %d/%d: %s", i+1, len(comparisons), cmp)
		res, err := b.one(ctx, cmp)
		if err == nil {
			summary.Results = append(summary.Results, res)
			continue
		}
		if errkind.IsFatal(err) || ctx.Err() != nil {
			return summary, err
		}
		monitoring.Logf("skipping %s: %v", cmp, err)
		summary.Failed = append(summary.Failed, Failure{Comparison: cmp, Stage: StageOf(err), Err: err})
	}
	return summary, nil
}

func (b *Batch) one(ctx context.Context, cmp Comparison) (*Result, error) {
	m, err := b.Loader.Load(ctx, b.Config.DatasetRequest(cmp.ModelA, cmp.ModelB))
	if err != nil {
		return nil, wrapStage(cmp, StageLoad, err)
	}
	monitoring.Stagef(cmp.String(), string(StageLoad))("matrices %s (cache %s)", cmp, m.Cache)
	return b.Pipeline.Compare(ctx, cmp, m.Voting, m.Truth)
}
