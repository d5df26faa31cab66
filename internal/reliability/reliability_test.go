package reliability

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/votes"
)

// truthFixture: r1 is right on 3 of 4 A rows and 1 of 2 B rows, r2 is always
// right but abstains once.
func truthFixture() *votes.Matrix {
	A, B, T := votes.VoteA, votes.VoteB, votes.VoteTie
	return votes.MustMatrix([]string{"r1", "r2"}, []votes.Row{
		{Task: "t1", Votes: []votes.Vote{A, A}, Truth: votes.LabelA},
		{Task: "t2", Votes: []votes.Vote{A, A}, Truth: votes.LabelA},
		{Task: "t3", Votes: []votes.Vote{A, T}, Truth: votes.LabelA},
		{Task: "t4", Votes: []votes.Vote{B, A}, Truth: votes.LabelA},
		{Task: "t5", Votes: []votes.Vote{B, B}, Truth: votes.LabelB},
		{Task: "t6", Votes: []votes.Vote{A, B}, Truth: votes.LabelB},
		{Task: "t7", Votes: []votes.Vote{A, A}},
	})
}

func TestBetaBernoulliCounts(t *testing.T) {
	est, err := BetaBernoulli{}.Estimate(truthFixture())
	require.NoError(t, err)
	d, ok := est.(*Distribution)
	require.True(t, ok)

	want := []CoinPrior{
		{A: BetaParams{Alpha: 4, Beta: 2}, B: BetaParams{Alpha: 2, Beta: 2}},
		{A: BetaParams{Alpha: 4, Beta: 1}, B: BetaParams{Alpha: 3, Beta: 1}},
	}
	if diff := cmp.Diff(want, d.Raters); diff != "" {
		t.Errorf("posterior mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ConfusionMatrix, d.Model)
}

func TestScalarIsPosteriorMean(t *testing.T) {
	est, err := Scalar{}.Estimate(truthFixture())
	require.NoError(t, err)
	pv, ok := est.(*PointValue)
	require.True(t, ok)
	require.Len(t, pv.Coins, 2)
	assert.InDelta(t, 4.0/6.0, pv.Coins[0].A, 1e-12)
	assert.InDelta(t, 0.5, pv.Coins[0].B, 1e-12)
	assert.InDelta(t, 0.8, pv.Coins[1].A, 1e-12)
	assert.InDelta(t, 0.75, pv.Coins[1].B, 1e-12)
}

func TestOneCoinPoolsEveryVote(t *testing.T) {
	est, err := OneCoinBetaBernoulli{}.Estimate(truthFixture())
	require.NoError(t, err)
	d := est.(*Distribution)
	// 4 of 6 for r1 plus 5 of 5 for r2.
	want := BetaParams{Alpha: 10, Beta: 3}
	for _, r := range d.Raters {
		assert.Equal(t, want, r.A)
		assert.Equal(t, want, r.B)
	}
}

func TestEstimatorsRejectMissingData(t *testing.T) {
	noLabels := votes.MustMatrix([]string{"r1", "r2"}, []votes.Row{
		{Task: "t1", Votes: []votes.Vote{votes.VoteA, votes.VoteMissing}, Truth: votes.LabelA},
	})
	testCases := []struct {
		name  string
		truth *votes.Matrix
	}{
		{name: "empty", truth: votes.MustMatrix([]string{"r1"}, nil)},
		{name: "nil", truth: nil},
		{name: "rater without labelled votes", truth: noLabels},
	}
	for _, est := range []Estimator{BetaBernoulli{}, Scalar{}, OneCoinBetaBernoulli{}} {
		for _, tc := range testCases {
			t.Run(est.Name()+"/"+tc.name, func(t *testing.T) {
				_, err := est.Estimate(tc.truth)
				if !errors.Is(err, errkind.ErrInsufficientData) {
					t.Errorf("Estimate() error = %v, want ErrInsufficientData", err)
				}
			})
		}
	}
}

func TestMissingRaterNamedInError(t *testing.T) {
	truth := votes.MustMatrix([]string{"alice", "bob"}, []votes.Row{
		{Task: "t1", Votes: []votes.Vote{votes.VoteA, votes.VoteTie}, Truth: votes.LabelA},
	})
	_, err := BetaBernoulli{}.Estimate(truth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
}

func TestDistributionSampling(t *testing.T) {
	d := &Distribution{Model: ConfusionMatrix, Raters: []CoinPrior{
		{A: BetaParams{Alpha: 90, Beta: 10}, B: BetaParams{Alpha: 10, Beta: 90}},
	}}
	set := d.Sample(4000, rand.NewPCG(1, 2))
	require.Equal(t, 4000, set.Len())
	mean := set.Mean()
	assert.InDelta(t, 0.9, mean.Coins[0].A, 0.01)
	assert.InDelta(t, 0.1, mean.Coins[0].B, 0.01)
	for _, draw := range set.Draws {
		require.True(t, draw[0].Valid())
	}

	assert.Zero(t, d.Sample(0, rand.NewPCG(1, 2)).Len())
}

func TestOneCoinSamplesShareOneValue(t *testing.T) {
	shared := BetaParams{Alpha: 5, Beta: 5}
	d := &Distribution{Model: OneCoin, Raters: []CoinPrior{{A: shared, B: shared}, {A: shared, B: shared}}}
	n := 0
	for coins := range d.Samples(rand.NewPCG(3, 4)) {
		assert.Equal(t, coins[0], coins[1])
		assert.Equal(t, coins[0].A, coins[0].B)
		n++
		if n == 50 {
			break
		}
	}
	assert.Equal(t, 50, n)
}

func TestPointFromList(t *testing.T) {
	testCases := []struct {
		name    string
		model   Model
		values  []float64
		want    Coins
		wantErr bool
	}{
		{name: "shared", model: OneCoin, values: []float64{0.9}, want: Coins{{0.9, 0.9}, {0.9, 0.9}}},
		{name: "per rater", model: ConfusionMatrix, values: []float64{0.8, 0.7}, want: Coins{{0.8, 0.8}, {0.7, 0.7}}},
		{name: "pairs", model: ConfusionMatrix, values: []float64{0.8, 0.6, 0.7, 0.5}, want: Coins{{0.8, 0.6}, {0.7, 0.5}}},
		{name: "wrong length", model: ConfusionMatrix, values: []float64{0.8, 0.6, 0.7}, wantErr: true},
		{name: "one coin list", model: OneCoin, values: []float64{0.8, 0.7}, wantErr: true},
		{name: "out of range", model: ConfusionMatrix, values: []float64{1.2}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pv, err := PointFromList(tc.model, 2, tc.values)
			if tc.wantErr {
				if !errors.Is(err, errkind.ErrConfiguration) {
					t.Errorf("PointFromList() error = %v, want ErrConfiguration", err)
				}
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, pv.Coins); diff != "" {
				t.Errorf("coins mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRealised(t *testing.T) {
	pv := Realised(truthFixture(), ConfusionMatrix)
	assert.InDelta(t, 0.75, pv.Coins[0].A, 1e-12)
	assert.InDelta(t, 0.5, pv.Coins[0].B, 1e-12)
	assert.InDelta(t, 1.0, pv.Coins[1].A, 1e-12)

	onlyA := votes.MustMatrix([]string{"r1"}, []votes.Row{
		{Task: "t1", Votes: []votes.Vote{votes.VoteA}, Truth: votes.LabelA},
	})
	assert.True(t, math.IsNaN(Realised(onlyA, ConfusionMatrix).Coins[0].B))
	assert.InDelta(t, 1.0, Realised(onlyA, OneCoin).Coins[0].B, 1e-12)
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "BetaBernoulli", infos[0].Name)
	assert.Equal(t, "OneCoinBetaBernoulli", infos[1].Name)
	assert.Equal(t, "Scalar", infos[2].Name)

	est, err := reg.Lookup("Scalar")
	require.NoError(t, err)
	assert.Equal(t, "Scalar", est.Name())

	_, err = reg.Lookup("Bogus")
	assert.ErrorIs(t, err, errkind.ErrConfiguration)

	assert.True(t, reg.Known(NoEstimator))
	assert.False(t, reg.Known("Bogus"))
}
