// Package calibration re-estimates rater reliability jointly with the
// latent truth of every evaluated task.
package calibration

import (
	"context"
	"math"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/votes"
)

// Degenerate is the prior strength that holds point-value coins fixed.
var Degenerate = math.Inf(1)

// Request describes one calibration run.
type Request struct {
	Voting *votes.Matrix
	// Prior is a *reliability.Distribution, a *reliability.PointValue or nil.
	Prior reliability.Estimate
	// Gold clamps the latent truth of its labelled tasks. Exclusive with Prior.
	Gold *votes.Matrix

	Samples int
	Workers int
	BurnIn  int
	// PriorStrength is the pseudo-count behind a point-value prior.
	PriorStrength float64
	Seed          uint64
	// Point returns the posterior mean instead of the draws.
	Point bool
}

// Result is a calibrated q and, in sampling mode, the p drawn alongside it.
type Result struct {
	Q reliability.Q
	P []float64
}

// Calibrator turns a voting matrix plus prior knowledge into q.
type Calibrator interface {
	Name() string
	Model() reliability.Model
	// Bayesian reports whether the calibrator produces posterior draws.
	Bayesian() bool
	Calibrate(ctx context.Context, req Request) (*Result, error)
}

func (r Request) validate() error {
	if r.Voting.Empty() {
		return errkind.Calibrationf("voting matrix is empty")
	}
	if r.Samples < 1 {
		return errkind.Calibrationf("sample count %d, need at least 1", r.Samples)
	}
	if r.Workers < 1 {
		return errkind.Calibrationf("worker count %d, need at least 1", r.Workers)
	}
	if r.BurnIn < 0 {
		return errkind.Calibrationf("negative burn-in %d", r.BurnIn)
	}
	if r.Prior != nil && r.Gold != nil {
		return errkind.Configurationf("calibration takes a q prior or gold labels, not both")
	}
	if r.Gold != nil && r.Gold.NumRaters() != r.Voting.NumRaters() {
		return errkind.Configurationf("gold matrix has %d raters, voting matrix %d", r.Gold.NumRaters(), r.Voting.NumRaters())
	}
	switch prior := r.Prior.(type) {
	case *reliability.PointValue:
		if err := prior.Validate(); err != nil {
			return errkind.Configurationf("q prior: %v", err)
		}
		if len(prior.Coins) != r.Voting.NumRaters() {
			return errkind.Configurationf("q prior has %d raters, voting matrix %d", len(prior.Coins), r.Voting.NumRaters())
		}
		if !(r.PriorStrength > 0) {
			return errkind.Configurationf("prior strength %v must be positive", r.PriorStrength)
		}
	case *reliability.Distribution:
		if len(prior.Raters) != r.Voting.NumRaters() {
			return errkind.Configurationf("q prior has %d raters, voting matrix %d", len(prior.Raters), r.Voting.NumRaters())
		}
	}
	return nil
}

// fixedCoins returns the held coins when the prior is degenerate.
func (r Request) fixedCoins() (reliability.Coins, bool) {
	pv, ok := r.Prior.(*reliability.PointValue)
	if !ok || !math.IsInf(r.PriorStrength, 1) {
		return nil, false
	}
	return append(reliability.Coins(nil), pv.Coins...), true
}

// coinPriors converts the request prior into Beta parameters per rater.
// Without a prior every coin starts at Beta(2,1), which keeps the sampler
// away from the label-swapped mode.
func (r Request) coinPriors(model reliability.Model) []reliability.CoinPrior {
	n := r.Voting.NumRaters()
	priors := make([]reliability.CoinPrior, n)
	switch prior := r.Prior.(type) {
	case *reliability.Distribution:
		copy(priors, prior.Raters)
	case *reliability.PointValue:
		for j, c := range prior.Coins {
			priors[j] = reliability.CoinPrior{
				A: pseudoCounts(c.A, r.PriorStrength),
				B: pseudoCounts(c.B, r.PriorStrength),
			}
		}
	default:
		lean := reliability.BetaParams{Alpha: 2, Beta: 1}
		for j := range priors {
			priors[j] = reliability.CoinPrior{A: lean, B: lean}
		}
	}
	if model == reliability.OneCoin {
		shared := pooledPrior(priors)
		for j := range priors {
			priors[j] = reliability.CoinPrior{A: shared, B: shared}
		}
	}
	return priors
}

func pseudoCounts(q, strength float64) reliability.BetaParams {
	const eps = 1e-3
	q = math.Min(math.Max(q, eps), 1-eps)
	return reliability.BetaParams{Alpha: strength * q, Beta: strength * (1 - q)}
}

// pooledPrior averages the per-side priors for the shared one-coin model.
func pooledPrior(priors []reliability.CoinPrior) reliability.BetaParams {
	if len(priors) == 0 {
		return reliability.Uniform
	}
	var a, b float64
	for _, p := range priors {
		a += p.A.Alpha + p.B.Alpha
		b += p.A.Beta + p.B.Beta
	}
	n := float64(2 * len(priors))
	return reliability.BetaParams{Alpha: a / n, Beta: b / n}
}
