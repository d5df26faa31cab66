package calibration

import (
	"context"
	"errors"
	"fmt"
		"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/monitoring"
	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/testutil"
	"github.com/banshee-data/winrate/internal/votes"
)

func init() {
	monitoring.SetLogger(nil)
}

func crowd(t *testing.T, tasks, raters int, p, q float64, seed uint64) *votes.Matrix {
	t.Helper()
	return testutil.Crowd(t, testutil.CrowdConfig{Tasks: tasks, P: p, Q: testutil.Repeat(q, raters), Seed: seed})
}

func baseRequest(voting *votes.Matrix) Request {
	return Request{Voting: voting, Samples: 60, Workers: 3, BurnIn: 20, PriorStrength: 50, Seed: 42}
}

func TestRequestValidation(t *testing.T) {
	voting := crowd(t, 10, 2, 0.5, 0.8, 1)
	testCases := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{name: "no samples", mutate: func(r *Request) { r.Samples = 0 }, want: errkind.ErrCalibration},
		{name: "no workers", mutate: func(r *Request) { r.Workers = 0 }, want: errkind.ErrCalibration},
		{name: "empty voting", mutate: func(r *Request) { r.Voting = votes.MustMatrix([]string{"r0", "r1"}, nil) }, want: errkind.ErrCalibration},
		{name: "prior and gold", mutate: func(r *Request) {
			r.Prior = &reliability.PointValue{Coins: reliability.Coins{{A: 0.8, B: 0.8}, {A: 0.8, B: 0.8}}}
			r.Gold = voting
		}, want: errkind.ErrConfiguration},
		{name: "prior rater mismatch", mutate: func(r *Request) {
			r.Prior = &reliability.PointValue{Coins: reliability.Coins{{A: 0.8, B: 0.8}}}
		}, want: errkind.ErrConfiguration},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest(voting)
			tc.mutate(&req)
			_, err := NewBayesianDawidSkene().Calibrate(context.Background(), req)
			if !errors.Is(err, tc.want) {
				t.Errorf("Calibrate() error = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("em no samples", func(t *testing.T) {
		req := baseRequest(voting)
		req.Samples = 0
		res, err := DawidSkene{}.Calibrate(context.Background(), req)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, errkind.ErrCalibration)
	})
}

func TestChainShare(t *testing.T) {
	got := []int{chainShare(10, 3, 0), chainShare(10, 3, 1), chainShare(10, 3, 2)}
	assert.Equal(t, []int{4, 3, 3}, got)
	assert.Equal(t, 0, chainShare(2, 4, 3))
}

func TestDrawCountAcrossWorkers(t *testing.T) {
	voting := crowd(t, 40, 3, 0.6, 0.8, 2)
	for _, workers := range []int{1, 3, 7, 80} {
		t.Run(fmt.Sprint(workers), func(t *testing.T) {
			req := baseRequest(voting)
			req.Samples = 25
			req.Workers = workers
			res, err := NewBayesianDawidSkene().Calibrate(context.Background(), req)
			require.NoError(t, err)
			set, ok := res.Q.(*reliability.SampleSet)
			require.True(t, ok)
			assert.Equal(t, 25, set.Len())
			assert.Len(t, res.P, 25)
		})
	}
}

func TestDrawsAreProbabilities(t *testing.T) {
	voting := crowd(t, 50, 4, 0.3, 0.75, 3)
	for _, c := range []Calibrator{NewBayesianDawidSkene(), NewOneCoinBayesianDawidSkene()} {
		t.Run(c.Name(), func(t *testing.T) {
			res, err := c.Calibrate(context.Background(), baseRequest(voting))
			require.NoError(t, err)
			set := res.Q.(*reliability.SampleSet)
			for _, draw := range set.Draws {
				for _, coin := range draw {
					require.True(t, coin.Valid(), "coin %+v", coin)
				}
				if c.Model() == reliability.OneCoin {
					assert.Equal(t, draw[0], draw[len(draw)-1])
				}
			}
			for _, p := range res.P {
				require.GreaterOrEqual(t, p, 0.0)
				require.LessOrEqual(t, p, 1.0)
			}
		})
	}
}

func TestSameSeedSameDraws(t *testing.T) {
	voting := crowd(t, 30, 3, 0.5, 0.8, 4)
	a, err := NewBayesianDawidSkene().Calibrate(context.Background(), baseRequest(voting))
	require.NoError(t, err)
	b, err := NewBayesianDawidSkene().Calibrate(context.Background(), baseRequest(voting))
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("calibration not reproducible (-first +second):\n%s", diff)
	}
}

func TestDegeneratePriorRoundTrip(t *testing.T) {
	voting := crowd(t, 30, 2, 0.5, 0.8, 5)
	prior := &reliability.PointValue{Model: reliability.ConfusionMatrix, Coins: reliability.Coins{{A: 0.9, B: 0.6}, {A: 0.7, B: 0.8}}}

	req := baseRequest(voting)
	req.Prior = prior
	req.PriorStrength = Degenerate
	res, err := NewBayesianDawidSkene().Calibrate(context.Background(), req)
	require.NoError(t, err)
	for _, draw := range res.Q.(*reliability.SampleSet).Draws {
		if diff := cmp.Diff(prior.Coins, draw); diff != "" {
			t.Fatalf("draw moved off the prior (-want +got):\n%s", diff)
		}
	}

	req.Point = true
	res, err = NewBayesianDawidSkene().Calibrate(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res.P)
	if diff := cmp.Diff(prior, res.Q); diff != "" {
		t.Errorf("point calibration mismatch (-want +got):\n%s", diff)
	}

	res, err = DawidSkene{}.Calibrate(context.Background(), req)
	require.NoError(t, err)
	if diff := cmp.Diff(prior, res.Q); diff != "" {
		t.Errorf("EM calibration mismatch (-want +got):\n%s", diff)
	}
}

func TestRecoversPAndQ(t *testing.T) {
	voting := crowd(t, 300, 5, 0.7, 0.85, 6)
	trueP, _ := voting.TrueP()
	req := baseRequest(voting)
	req.Samples = 400
	req.Workers = 4
	res, err := NewBayesianDawidSkene().Calibrate(context.Background(), req)
	require.NoError(t, err)

	var mean float64
	for _, p := range res.P {
		mean += p
	}
	mean /= float64(len(res.P))
	assert.InDelta(t, trueP, mean, 0.06)

	for _, coin := range res.Q.(*reliability.SampleSet).Mean().Coins {
		assert.InDelta(t, 0.85, coin.A, 0.1)
		assert.InDelta(t, 0.85, coin.B, 0.1)
	}
}

func TestGoldOnlyTasksInformQ(t *testing.T) {
	voting := crowd(t, 40, 3, 0.5, 0.9, 8)
	gold := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 80, P: 0.5, Q: testutil.Repeat(0.9, 3), Seed: 9, TaskPrefix: "gold"})

	items := buildItems(voting, gold)
	require.Len(t, items, 120)
	counted := 0
	for _, it := range items {
		if it.counted {
			counted++
			assert.Equal(t, votes.LabelUnknown, it.clamp)
		} else {
			assert.True(t, it.clamp.Known())
		}
	}
	assert.Equal(t, 40, counted)

	req := baseRequest(voting)
	req.Gold = gold
	res, err := NewBayesianDawidSkene().Calibrate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.P, req.Samples)
}

func TestGoldClampsOverlappingTasks(t *testing.T) {
	voting := crowd(t, 10, 2, 0.5, 0.9, 10)
	items := buildItems(voting, voting)
	require.Len(t, items, 10)
	for i, it := range items {
		assert.True(t, it.counted)
		assert.Equal(t, voting.Truth(i), it.clamp)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBayesianDawidSkene().Calibrate(ctx, baseRequest(crowd(t, 10, 2, 0.5, 0.8, 11)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDawidSkeneEM(t *testing.T) {
	voting := crowd(t, 400, 5, 0.6, 0.8, 12)
	res, err := DawidSkene{}.Calibrate(context.Background(), Request{Voting: voting, Samples: 1})
	require.NoError(t, err)
	assert.Nil(t, res.P)
	pv, ok := res.Q.(*reliability.PointValue)
	require.True(t, ok)
	for _, coin := range pv.Coins {
		assert.InDelta(t, 0.8, coin.A, 0.08)
		assert.InDelta(t, 0.8, coin.B, 0.08)
	}
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "BayesianDawidSkene", infos[0].Name)
	assert.True(t, infos[0].Bayesian)
	assert.Equal(t, "DawidSkene", infos[1].Name)
	assert.False(t, infos[1].Bayesian)
	assert.Equal(t, "one_coin", infos[2].Model)

	c, err := reg.Lookup(NoCalibrator)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = reg.Lookup("Bogus")
	assert.ErrorIs(t, err, errkind.ErrConfiguration)
}
