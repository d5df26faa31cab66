package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/winrate/internal/config"
	"github.com/banshee-data/winrate/internal/dataset"
	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/votes"
)

func TestParseTarget(t *testing.T) {
	testCases := []struct {
		input     string
		expected  Target
		expectErr bool
	}{
		{"All", Target{Kind: TargetAll}, false},
		{"All___All", Target{Kind: TargetAll}, false},
		{"gpt4___All", Target{Kind: TargetBaseline, Baseline: "gpt4"}, false},
		{"All___gpt4", Target{Kind: TargetBaseline, Baseline: "gpt4"}, false},
		{"gpt4___llama", Target{Kind: TargetPair, Pair: Comparison{ModelA: "gpt4", ModelB: "llama"}}, false},
		{"gpt4", Target{}, true},
		{"gpt4___", Target{}, true},
		{"a___b___c", Target{}, true},
		{"gpt4___gpt4", Target{}, true},
	}
	for _, tc := range testCases {
		got, err := ParseTarget(tc.input)
		if tc.expectErr {
			if err == nil || !errors.Is(err, errkind.ErrConfiguration) {
				t.Errorf("ParseTarget(%q) error = %v, want configuration error", tc.input, err)
			}
			continue
		}
		if err != nil || got != tc.expected {
			t.Errorf("ParseTarget(%q) = %+v, %v; want %+v", tc.input, got, err, tc.expected)
		}
	}
}

func TestTargetComparisons(t *testing.T) {
	gens := []string{"a", "b", "c", "d"}

	all, err := Target{Kind: TargetAll}.Comparisons(gens)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, Comparison{ModelA: "a", ModelB: "b"}, all[0])
	assert.Equal(t, Comparison{ModelA: "c", ModelB: "d"}, all[5])

	base, err := Target{Kind: TargetBaseline, Baseline: "c"}.Comparisons(gens)
	require.NoError(t, err)
	assert.Equal(t, []Comparison{{"c", "a"}, {"c", "b"}, {"c", "d"}}, base)

	one, err := Target{Kind: TargetPair, Pair: Comparison{"d", "a"}}.Comparisons(gens)
	require.NoError(t, err)
	assert.Equal(t, []Comparison{{"d", "a"}}, one)

	_, err = Target{Kind: TargetBaseline, Baseline: "z"}.Comparisons(gens)
	assert.True(t, errors.Is(err, errkind.ErrConfiguration))
	_, err = Target{Kind: TargetPair, Pair: Comparison{"a", "z"}}.Comparisons(gens)
	assert.True(t, errors.Is(err, errkind.ErrConfiguration))
	_, err = Target{Kind: TargetAll}.Comparisons([]string{"a"})
	assert.True(t, errors.Is(err, errkind.ErrInsufficientData))
}

func randomSource(t *testing.T) *dataset.RandomSamples {
	t.Helper()
	rs, err := dataset.NewRandomSamples(dataset.RandomConfig{
		Strengths: map[string]float64{"gen-a": 0, "gen-b": 0.5, "gen-c": 1},
		Raters:    3,
		Tasks:     60,
		QMin:      0.8,
		QMax:      0.9,
		Coverage:  1,
		Seed:      5,
	})
	require.NoError(t, err)
	return rs
}

// flakySource fails every comparison against one model.
type flakySource struct {
	dataset.Source
	fail string
	err  error
}

func (f flakySource) Build(ctx context.Context, req dataset.Request) (*votes.Matrix, *votes.Matrix, error) {
	if req.ModelB == f.fail {
		return nil, nil, f.err
	}
	return f.Source.Build(ctx, req)
}

// sparseTruthSource keeps gold labels for only two tasks on comparisons
// against one model.
type sparseTruthSource struct {
	dataset.Source
	thin string
}

func (s sparseTruthSource) Build(ctx context.Context, req dataset.Request) (*votes.Matrix, *votes.Matrix, error) {
	voting, truth, err := s.Source.Build(ctx, req)
	if err != nil || req.ModelB != s.thin {
		return voting, truth, err
	}
	keep := make(map[string]bool)
	for _, task := range truth.Tasks()[:2] {
		keep[task] = true
	}
	return voting, truth.OnlyTasks(keep), nil
}

func newBatch(t *testing.T, src dataset.Source, mod func(*config.RunConfig)) *Batch {
	t.Helper()
	cfg := smallConfig(func(c *config.RunConfig) {
		c.Estimator = ptr("Scalar")
		c.Calibrator = ptr("None")
		if mod != nil {
			mod(c)
		}
	})
	p, err := New(cfg)
	require.NoError(t, err)
	return &Batch{Config: cfg, Loader: &dataset.Loader{Source: src}, Pipeline: p}
}

func TestBatchRunAll(t *testing.T) {
	b := newBatch(t, randomSource(t), nil)
	summary, err := b.Run(context.Background(), Target{Kind: TargetAll})
	require.NoError(t, err)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, []Comparison{{"gen-a", "gen-b"}, {"gen-a", "gen-c"}, {"gen-b", "gen-c"}}, summary.Succeeded())
	for _, r := range summary.Results {
		require.NotNil(t, r.Estimate)
		assert.True(t, r.Estimate.HasTrueP)
	}
}

func TestBatchContinuesPastDataErrors(t *testing.T) {
	src := flakySource{Source: randomSource(t), fail: "gen-c", err: errkind.InsufficientDataf("no annotations")}
	b := newBatch(t, src, nil)

	summary, err := b.Run(context.Background(), Target{Kind: TargetBaseline, Baseline: "gen-a"})
	require.NoError(t, err)
	assert.Equal(t, []Comparison{{"gen-a", "gen-b"}}, summary.Succeeded())
	require.Len(t, summary.Failed, 1)
	f := summary.Failed[0]
	assert.Equal(t, Comparison{"gen-a", "gen-c"}, f.Comparison)
	assert.Equal(t, StageLoad, f.Stage)
	assert.True(t, errors.Is(f.Err, errkind.ErrInsufficientData))
}

func TestBatchContinuesPastTooFewFoldTasks(t *testing.T) {
	src := sparseTruthSource{Source: randomSource(t), thin: "gen-b"}
	b := newBatch(t, src, func(c *config.RunConfig) {
		c.QPriorCVFolds = ptr(3)
	})

	summary, err := b.Run(context.Background(), Target{Kind: TargetAll})
	require.NoError(t, err)
	assert.Equal(t, []Comparison{{"gen-a", "gen-c"}, {"gen-b", "gen-c"}}, summary.Succeeded())
	require.Len(t, summary.Failed, 1)
	f := summary.Failed[0]
	assert.Equal(t, Comparison{"gen-a", "gen-b"}, f.Comparison)
	assert.Equal(t, StageCrossValid, f.Stage)
	assert.ErrorIs(t, f.Err, errkind.ErrInsufficientData)
}

func TestBatchAbortsOnConfigurationError(t *testing.T) {
	src := flakySource{Source: randomSource(t), fail: "gen-b", err: errkind.Configurationf("bad request")}
	b := newBatch(t, src, nil)

	summary, err := b.Run(context.Background(), Target{Kind: TargetAll})
	require.Error(t, err)
	assert.True(t, errkind.IsFatal(err))
	assert.Empty(t, summary.Results, "the first comparison already failed")
}

func TestBatchStopsWhenCancelled(t *testing.T) {
	b := newBatch(t, randomSource(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := b.Run(ctx, Target{Kind: TargetAll})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Results)
}
