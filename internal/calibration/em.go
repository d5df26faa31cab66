package calibration

import (
	"context"
	"math"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/reliability"
)

const (
	emMaxIter   = 200
	emTolerance = 1e-8
	emInitCoin  = 0.7
)

// DawidSkene is the classic expectation-maximisation calibrator. It returns
// a point value and no p draws.
type DawidSkene struct{}

func (DawidSkene) Name() string             { return "DawidSkene" }
func (DawidSkene) Model() reliability.Model { return reliability.ConfusionMatrix }
func (DawidSkene) Bayesian() bool           { return false }

// Calibrate iterates until no coin moves by more than the tolerance. The
// worker count is ignored.
func (d DawidSkene) Calibrate(ctx context.Context, req Request) (*Result, error) {
	if req.Workers < 1 {
		req.Workers = 1
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	items := buildItems(req.Voting, req.Gold)
	fixed, isFixed := req.fixedCoins()
	coins := make(reliability.Coins, req.Voting.NumRaters())
	switch prior := req.Prior.(type) {
	case *reliability.PointValue:
		copy(coins, prior.Coins)
	case *reliability.Distribution:
		copy(coins, prior.Mean().Coins)
	default:
		for j := range coins {
			coins[j] = reliability.Coin{A: emInitCoin, B: emInitCoin}
		}
	}
	if isFixed {
		return &Result{Q: &reliability.PointValue{Model: d.Model(), Coins: fixed}}, nil
	}

	p := 0.5
	post := make([]float64, len(items))
	for iter := 0; iter < emMaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var mass, n float64
		for i, it := range items {
			post[i] = it.posteriorA(p, coins)
			if it.counted {
				mass += post[i]
				n++
			}
		}
		if n > 0 {
			p = mass / n
		}

		next := make(reliability.Coins, len(coins))
		type tally struct{ hitA, totA, hitB, totB float64 }
		counts := make([]tally, len(coins))
		for i, it := range items {
			for _, o := range it.obs {
				t := &counts[o.rater]
				t.totA += post[i]
				t.totB += 1 - post[i]
				if o.voteA {
					t.hitA += post[i]
				} else {
					t.hitB += 1 - post[i]
				}
			}
		}
		delta := 0.0
		for j, t := range counts {
			// Half a pseudo-vote each way keeps coins off 0 and 1.
			next[j] = reliability.Coin{
				A: (t.hitA + 0.5) / (t.totA + 1),
				B: (t.hitB + 0.5) / (t.totB + 1),
			}
			delta = math.Max(delta, math.Max(math.Abs(next[j].A-coins[j].A), math.Abs(next[j].B-coins[j].B)))
		}
		coins = next
		for j, c := range coins {
			if !c.Valid() {
				return nil, errkind.Calibrationf("iteration %d: rater %d coin %+v", iter, j, c)
			}
		}
		if delta < emTolerance {
			break
		}
	}
	return &Result{Q: &reliability.PointValue{Model: d.Model(), Coins: coins}}, nil
}
