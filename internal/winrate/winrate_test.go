package winrate

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/testutil"
	"github.com/banshee-data/winrate/internal/votes"
)

func point(model reliability.Model, raters int, q float64) *reliability.PointValue {
	coins := make(reliability.Coins, raters)
	for j := range coins {
		coins[j] = reliability.Coin{A: q, B: q}
	}
	return &reliability.PointValue{Model: model, Coins: coins}
}

// allA is 100 tasks where a single rater always votes A, but only 70 of the
// tasks really are A.
func allA() *votes.Matrix {
	rows := make([]votes.Row, 100)
	for i := range rows {
		truth := votes.LabelA
		if i >= 70 {
			truth = votes.LabelB
		}
		rows[i] = votes.Row{Task: fmt.Sprintf("t%d", i), Votes: []votes.Vote{votes.VoteA}, Truth: truth}
	}
	return votes.MustMatrix([]string{"r0"}, rows)
}

func TestAllAVotesWithOneCoin(t *testing.T) {
	voting := allA()
	est, err := FromPoint(voting, nil, point(reliability.OneCoin, 1, 0.9), DefaultOptions())
	require.NoError(t, err)
	assert.Less(t, math.Abs(est.Mean-0.7), 0.3)
	assert.InDelta(t, 1.0, est.K, 1e-12)
	assert.InDelta(t, 0.7, est.TrueP, 1e-12)
	assert.InDelta(t, math.Abs(est.Mean-0.7), est.MeanError, 1e-12)
	assert.InDelta(t, 0.3, est.KError, 1e-12)
	// Inversion saturates at the boundary.
	require.True(t, est.HasInversion)
	assert.InDelta(t, 1.0, est.Inversion, 1e-12)
}

func TestFromPointConverges(t *testing.T) {
	q := []float64{0.9, 0.8, 0.75}
	pv := &reliability.PointValue{Coins: reliability.Coins{{A: 0.9, B: 0.9}, {A: 0.8, B: 0.8}, {A: 0.75, B: 0.75}}}
	seeds := []uint64{11, 21, 31, 41, 51, 61}
	prevErr, prevWidth := math.Inf(1), math.Inf(1)
	for _, tasks := range []int{50, 500, 5000} {
		var meanErr, width float64
		for _, seed := range seeds {
			voting := testutil.Crowd(t, testutil.CrowdConfig{Tasks: tasks, P: 0.35, Q: q, Seed: seed})
			est, err := FromPoint(voting, nil, pv, DefaultOptions())
			require.NoError(t, err)
			meanErr += est.MeanError / float64(len(seeds))
			width += (est.Upper - est.Lower) / float64(len(seeds))
			if tasks == 5000 {
				assert.InDelta(t, est.Mean, est.Inversion, 0.03)
			}
		}
		assert.LessOrEqual(t, meanErr, prevErr, "average error should not grow at %d tasks", tasks)
		assert.Less(t, width, prevWidth, "interval should shrink with %d tasks", tasks)
		prevErr, prevWidth = meanErr, width
	}
	assert.Less(t, prevErr, 0.03)
}

func TestFromPointIsIdempotent(t *testing.T) {
	voting := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 80, P: 0.6, Q: testutil.Repeat(0.8, 3), Seed: 12})
	pv := point(reliability.ConfusionMatrix, 3, 0.8)
	a, err := FromPoint(voting, voting, pv, DefaultOptions())
	require.NoError(t, err)
	b, err := FromPoint(voting, voting, pv, DefaultOptions())
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("estimate changed between runs (-first +second):\n%s", diff)
	}
	assert.Len(t, a.Samples, DefaultOptions().SampleSize)
	assert.Len(t, a.Grid, gridPoints)
}

func TestGridPosteriorIsNormalised(t *testing.T) {
	voting := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 40, P: 0.5, Q: testutil.Repeat(0.7, 2), Seed: 13})
	post := gridPosterior(taskLikelihoods(voting, point(reliability.ConfusionMatrix, 2, 0.7).Coins))
	var total float64
	for _, m := range post.mass {
		total += m
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	lo, hi := post.interval(0.9)
	assert.LessOrEqual(t, lo, post.mean())
	assert.GreaterOrEqual(t, hi, post.mean())
}

func TestEmptyVotingMatrix(t *testing.T) {
	empty := votes.MustMatrix([]string{"r0"}, nil)
	abstained := votes.MustMatrix([]string{"r0"}, []votes.Row{{Task: "t0", Votes: []votes.Vote{votes.VoteTie}}})
	testCases := []struct {
		name string
		run  func(*votes.Matrix) error
	}{
		{name: "point", run: func(m *votes.Matrix) error {
			_, err := FromPoint(m, nil, point(reliability.OneCoin, 1, 0.8), DefaultOptions())
			return err
		}},
		{name: "samples", run: func(m *votes.Matrix) error {
			set := &reliability.SampleSet{Draws: []reliability.Coins{{{A: 0.8, B: 0.8}}}}
			_, err := FromSamples(m, nil, set, DefaultOptions())
			return err
		}},
		{name: "p samples", run: func(m *votes.Matrix) error {
			_, err := FromPSamples(m, nil, []float64{0.5}, DefaultOptions())
			return err
		}},
	}
	for _, tc := range testCases {
		for _, m := range []*votes.Matrix{empty, abstained, nil} {
			t.Run(tc.name, func(t *testing.T) {
				if err := tc.run(m); !errors.Is(err, errkind.ErrInsufficientData) {
					t.Errorf("error = %v, want ErrInsufficientData", err)
				}
			})
		}
	}
}

func TestOptionsValidation(t *testing.T) {
	voting := allA()
	for _, c := range []float64{0, 1, -0.5, math.NaN()} {
		_, err := FromPoint(voting, nil, point(reliability.OneCoin, 1, 0.9), Options{Confidence: c})
		assert.ErrorIs(t, err, errkind.ErrConfiguration, "confidence %v", c)
	}
	_, err := FromPoint(voting, nil, point(reliability.OneCoin, 2, 0.9), DefaultOptions())
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
}

func TestInversion(t *testing.T) {
	// 66 A votes of 100 with a symmetric 0.8 coin: (0.66 - 0.2) / 0.6.
	rows := make([]votes.Row, 100)
	for i := range rows {
		v := votes.VoteB
		if i < 66 {
			v = votes.VoteA
		}
		rows[i] = votes.Row{Task: fmt.Sprintf("t%d", i), Votes: []votes.Vote{v, votes.VoteA}}
	}
	voting := votes.MustMatrix([]string{"r0", "chance"}, rows)
	coins := reliability.Coins{{A: 0.8, B: 0.8}, {A: 0.5, B: 0.5}}
	inv, ok := invert(voting, coins, 0.95)
	require.True(t, ok)
	assert.InDelta(t, 0.46/0.6, inv.p, 1e-9)
	assert.Less(t, inv.lower, inv.p)
	assert.Greater(t, inv.upper, inv.p)

	_, ok = invert(voting, reliability.Coins{{A: 0.5, B: 0.5}, {A: 0.3, B: 0.7}}, 0.95)
	assert.False(t, ok)
}

func TestFromSamples(t *testing.T) {
	voting := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 400, P: 0.7, Q: testutil.Repeat(0.85, 3), Seed: 14})
	set := &reliability.SampleSet{}
	for _, q := range []float64{0.83, 0.84, 0.85, 0.86, 0.87, 0.5} {
		draw := make(reliability.Coins, 3)
		for j := range draw {
			draw[j] = reliability.Coin{A: q, B: q}
		}
		set.Draws = append(set.Draws, draw)
	}
	est, err := FromSamples(voting, nil, set, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, MethodSampledQ, est.Method)
	assert.Len(t, est.Samples, 5, "the chance draw is skipped")
	assert.InDelta(t, 0.7, est.Mean, 0.08)
	for _, p := range est.Samples {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestFromPSamples(t *testing.T) {
	voting := allA()
	ps := make([]float64, 1000)
	for i := range ps {
		ps[i] = float64(i) / 999
	}
	est, err := FromPSamples(voting, voting, ps, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, MethodJoint, est.Method)
	assert.InDelta(t, 0.5, est.Mean, 1e-9)
	assert.InDelta(t, 0.025, est.Lower, 0.002)
	assert.InDelta(t, 0.975, est.Upper, 0.002)
	assert.True(t, est.HasTruthMatrixP)
}

func TestKDEModeNearBoundary(t *testing.T) {
	ps := make([]float64, 500)
	for i := range ps {
		ps[i] = 1 - 0.0002*float64(i%50)
	}
	assert.Greater(t, kdeMode(ps), 0.97)
	assert.Equal(t, 0.4, kdeMode([]float64{0.4, 0.4, 0.4}))
}

func TestWilson(t *testing.T) {
	k, lo, hi := wilson(50, 100, 0.95)
	assert.InDelta(t, 0.5, k, 1e-12)
	assert.InDelta(t, 0.4038, lo, 1e-3)
	assert.InDelta(t, 0.5962, hi, 1e-3)

	k, lo, hi = wilson(0, 0, 0.95)
	assert.True(t, math.IsNaN(k))
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestReferenceFallsBackToTruthMatrix(t *testing.T) {
	voting := testutil.Unlabelled(t, allA())
	truth := allA()
	est, err := FromPoint(voting, truth, point(reliability.OneCoin, 1, 0.9), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, est.HasTrueP)
	ref, ok := est.Reference()
	require.True(t, ok)
	assert.InDelta(t, 0.7, ref, 1e-12)

	est, err = FromPoint(voting, nil, point(reliability.OneCoin, 1, 0.9), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, math.IsNaN(est.MeanError))
}
