package winrate

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/votes"
)

const (
	gridPoints = 2001
	logEps     = 1e-12
)

func safeLog(x float64) float64 {
	return math.Log(math.Min(math.Max(x, logEps), 1-logEps))
}

// taskLikelihood is log P(votes | A) and log P(votes | B) for one task.
type taskLikelihood struct{ la, lb float64 }

// taskLikelihoods groups rows by task and sums the vote log likelihoods.
func taskLikelihoods(voting *votes.Matrix, coins reliability.Coins) []taskLikelihood {
	index := make(map[string]int)
	var out []taskLikelihood
	for i := 0; i < voting.Len(); i++ {
		k, ok := index[voting.Task(i)]
		if !ok {
			k = len(out)
			index[voting.Task(i)] = k
			out = append(out, taskLikelihood{})
		}
		for j, c := range coins {
			switch voting.Vote(i, j) {
			case votes.VoteA:
				out[k].la += safeLog(c.A)
				out[k].lb += safeLog(1 - c.B)
			case votes.VoteB:
				out[k].la += safeLog(1 - c.A)
				out[k].lb += safeLog(c.B)
			}
		}
	}
	return out
}

type posterior struct {
	x       []float64
	density []float64
	// mass is the normalised probability of each grid point.
	mass []float64
}

// gridPosterior evaluates the posterior of p under a uniform prior on an
// evenly spaced grid over [0,1].
func gridPosterior(tasks []taskLikelihood) posterior {
	x := make([]float64, gridPoints)
	floats.Span(x, 0, 1)
	logp := make([]float64, gridPoints)
	for g, p := range x {
		lp, lq := math.Log(p), math.Log(1-p)
		var s float64
		for _, t := range tasks {
			s += logAddExp(lp+t.la, lq+t.lb)
		}
		logp[g] = s
	}
	mass := make([]float64, gridPoints)
	top := floats.Max(logp)
	for g, l := range logp {
		mass[g] = math.Exp(l - top)
	}
	floats.Scale(1/floats.Sum(mass), mass)
	density := make([]float64, gridPoints)
	copy(density, mass)
	floats.Scale(float64(gridPoints-1), density)
	return posterior{x: x, density: density, mass: mass}
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

func (p posterior) mean() float64 {
	return floats.Dot(p.x, p.mass)
}

func (p posterior) mode() float64 {
	return p.x[floats.MaxIdx(p.mass)]
}

func (p posterior) cdf() []float64 {
	c := make([]float64, len(p.mass))
	floats.CumSum(c, p.mass)
	return c
}

// interval returns the equal-tailed credible interval.
func (p posterior) interval(confidence float64) (lo, hi float64) {
	tail := (1 - confidence) / 2
	c := p.cdf()
	return p.x[searchCDF(c, tail)], p.x[searchCDF(c, 1-tail)]
}

func searchCDF(c []float64, u float64) int {
	i := sort.SearchFloat64s(c, u)
	if i >= len(c) {
		i = len(c) - 1
	}
	return i
}

// sample draws n values by inverse-CDF sampling on the grid.
func (p posterior) sample(n int, seed uint64) []float64 {
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	c := p.cdf()
	out := make([]float64, n)
	for i := range out {
		out[i] = p.x[searchCDF(c, rng.Float64())]
	}
	return out
}
