package calibration

import (
	"context"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/monitoring"
	"github.com/banshee-data/winrate/internal/reliability"
)

// BayesianDawidSkene is a Gibbs sampler over the latent truth of every
// task, p and the rater coins.
type BayesianDawidSkene struct {
	model reliability.Model
}

// NewBayesianDawidSkene returns the confusion-matrix sampler.
func NewBayesianDawidSkene() *BayesianDawidSkene {
	return &BayesianDawidSkene{model: reliability.ConfusionMatrix}
}

// NewOneCoinBayesianDawidSkene returns the sampler with one shared coin.
func NewOneCoinBayesianDawidSkene() *BayesianDawidSkene {
	return &BayesianDawidSkene{model: reliability.OneCoin}
}

func (c *BayesianDawidSkene) Name() string {
	if c.model == reliability.OneCoin {
		return "OneCoinBayesianDawidSkene"
	}
	return "BayesianDawidSkene"
}

func (c *BayesianDawidSkene) Model() reliability.Model { return c.model }
func (c *BayesianDawidSkene) Bayesian() bool           { return true }

// chainShare returns how many draws chain i of workers produces.
func chainShare(samples, workers, i int) int {
	n := samples / workers
	if i < samples%workers {
		n++
	}
	return n
}

type chainResult struct {
	coins []reliability.Coins
	p     []float64
}

// Calibrate runs req.Workers independent chains and concatenates their
// draws in chain order.
func (c *BayesianDawidSkene) Calibrate(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	items := buildItems(req.Voting, req.Gold)
	priors := req.coinPriors(c.model)
	fixed, isFixed := req.fixedCoins()

	results := make([]chainResult, req.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < req.Workers; i++ {
		n := chainShare(req.Samples, req.Workers, i)
		if n == 0 {
			continue
		}
		g.Go(func() error {
			ch := &chain{
				model:  c.model,
				items:  items,
				priors: priors,
				fixed:  isFixed,
				rng:    rand.New(rand.NewPCG(req.Seed, uint64(i))),
			}
			ch.init(fixed)
			res, err := ch.run(gctx, req.BurnIn, n)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := &reliability.SampleSet{Model: c.model, Draws: make([]reliability.Coins, 0, req.Samples)}
	p := make([]float64, 0, req.Samples)
	for _, r := range results {
		set.Draws = append(set.Draws, r.coins...)
		p = append(p, r.p...)
	}
	monitoring.Logf("calibration: %s drew %d samples over %d chains", c.Name(), set.Len(), req.Workers)

	if req.Point {
		if isFixed {
			return &Result{Q: &reliability.PointValue{Model: c.model, Coins: fixed}}, nil
		}
		return &Result{Q: set.Mean()}, nil
	}
	return &Result{Q: set, P: p}, nil
}

// chain is one Gibbs sampler. It owns its rng and state.
type chain struct {
	model  reliability.Model
	items  []item
	priors []reliability.CoinPrior
	fixed  bool
	rng    *rand.Rand

	truthA []bool
	p      float64
	coins  reliability.Coins
}

func (ch *chain) init(fixed reliability.Coins) {
	ch.truthA = make([]bool, len(ch.items))
	var a, n int
	for i, it := range ch.items {
		ch.truthA[i] = it.majority()
		if it.counted {
			n++
			if ch.truthA[i] {
				a++
			}
		}
	}
	ch.p = float64(a+1) / float64(n+2)
	if ch.fixed {
		ch.coins = fixed
		return
	}
	ch.coins = make(reliability.Coins, len(ch.priors))
	for j, pr := range ch.priors {
		ch.coins[j] = reliability.Coin{A: pr.A.Mean(), B: pr.B.Mean()}
	}
}

func (ch *chain) run(ctx context.Context, burnIn, n int) (chainResult, error) {
	res := chainResult{coins: make([]reliability.Coins, 0, n), p: make([]float64, 0, n)}
	for sweep := 0; sweep < burnIn+n; sweep++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ch.sweep()
		if err := ch.check(sweep); err != nil {
			return res, err
		}
		if sweep >= burnIn {
			res.coins = append(res.coins, append(reliability.Coins(nil), ch.coins...))
			res.p = append(res.p, ch.p)
		}
	}
	return res, nil
}

func (ch *chain) sweep() {
	var a, n int
	for i, it := range ch.items {
		ch.truthA[i] = ch.rng.Float64() < it.posteriorA(ch.p, ch.coins)
		if it.counted {
			n++
			if ch.truthA[i] {
				a++
			}
		}
	}
	ch.p = reliability.Uniform.Update(a, n-a).Dist(ch.rng).Rand()
	if ch.fixed {
		return
	}
	ch.sampleCoins()
}

// sampleCoins draws every coin from its Beta posterior given the current
// truth assignment.
func (ch *chain) sampleCoins() {
	type tally struct{ correctA, wrongA, correctB, wrongB int }
	counts := make([]tally, len(ch.coins))
	for i, it := range ch.items {
		for _, o := range it.obs {
			t := &counts[o.rater]
			switch {
			case ch.truthA[i] && o.voteA:
				t.correctA++
			case ch.truthA[i]:
				t.wrongA++
			case !o.voteA:
				t.correctB++
			default:
				t.wrongB++
			}
		}
	}
	if ch.model == reliability.OneCoin {
		var correct, wrong int
		for _, t := range counts {
			correct += t.correctA + t.correctB
			wrong += t.wrongA + t.wrongB
		}
		q := ch.priors[0].A.Update(correct, wrong).Dist(ch.rng).Rand()
		for j := range ch.coins {
			ch.coins[j] = reliability.Coin{A: q, B: q}
		}
		return
	}
	for j, t := range counts {
		ch.coins[j] = reliability.Coin{
			A: ch.priors[j].A.Update(t.correctA, t.wrongA).Dist(ch.rng).Rand(),
			B: ch.priors[j].B.Update(t.correctB, t.wrongB).Dist(ch.rng).Rand(),
		}
	}
}

func (ch *chain) check(sweep int) error {
	if math.IsNaN(ch.p) || math.IsInf(ch.p, 0) {
		return errkind.Calibrationf("sweep %d: p is %v", sweep, ch.p)
	}
	for j, c := range ch.coins {
		if math.IsNaN(c.A) || math.IsNaN(c.B) || math.IsInf(c.A, 0) || math.IsInf(c.B, 0) {
			return errkind.Calibrationf("sweep %d: rater %d coin %+v", sweep, j, c)
		}
	}
	return nil
}
