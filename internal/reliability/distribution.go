package reliability

import (
	"iter"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// BetaParams are the shape parameters of a Beta distribution.
type BetaParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Uniform is the Beta(1,1) prior.
var Uniform = BetaParams{Alpha: 1, Beta: 1}

// Mean returns alpha / (alpha + beta).
func (b BetaParams) Mean() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// Update returns the posterior after observing successes and failures.
func (b BetaParams) Update(successes, failures int) BetaParams {
	return BetaParams{Alpha: b.Alpha + float64(successes), Beta: b.Beta + float64(failures)}
}

// Dist returns the gonum distribution drawing from src.
func (b BetaParams) Dist(src rand.Source) distuv.Beta {
	return distuv.Beta{Alpha: b.Alpha, Beta: b.Beta, Src: src}
}

// CoinPrior is a Beta distribution over each side of a Coin.
type CoinPrior struct {
	A BetaParams `json:"a"`
	B BetaParams `json:"b"`
}

// Distribution is a closed-form Beta posterior over every rater's coin.
// For OneCoin every entry holds the same shared parameters.
type Distribution struct {
	Model  Model       `json:"model"`
	Raters []CoinPrior `json:"raters"`
}

func (d *Distribution) model() Model { return d.Model }

// Mean returns the posterior mean as a point value.
func (d *Distribution) Mean() *PointValue {
	coins := make(Coins, len(d.Raters))
	for j, r := range d.Raters {
		coins[j] = Coin{A: r.A.Mean(), B: r.B.Mean()}
	}
	return &PointValue{Model: d.Model, Coins: coins}
}

// Samples returns an endless lazy sequence of coin draws. Each yielded
// slice is freshly allocated.
func (d *Distribution) Samples(src rand.Source) iter.Seq[Coins] {
	return func(yield func(Coins) bool) {
		dists := make([][2]distuv.Beta, len(d.Raters))
		for j, r := range d.Raters {
			dists[j] = [2]distuv.Beta{r.A.Dist(src), r.B.Dist(src)}
		}
		for {
			coins := make(Coins, len(d.Raters))
			if d.Model == OneCoin && len(dists) > 0 {
				x := dists[0][0].Rand()
				for j := range coins {
					coins[j] = Coin{A: x, B: x}
				}
			} else {
				for j := range coins {
					coins[j] = Coin{A: dists[j][0].Rand(), B: dists[j][1].Rand()}
				}
			}
			if !yield(coins) {
				return
			}
		}
	}
}

// Sample draws n coin vectors into a SampleSet.
func (d *Distribution) Sample(n int, src rand.Source) *SampleSet {
	set := &SampleSet{Model: d.Model, Draws: make([]Coins, 0, n)}
	if n <= 0 {
		return set
	}
	for coins := range d.Samples(src) {
		set.Draws = append(set.Draws, coins)
		if len(set.Draws) == n {
			break
		}
	}
	return set
}
