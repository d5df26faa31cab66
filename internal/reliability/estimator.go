package reliability

import (
	"fmt"
	"math"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/votes"
)

// Estimator turns a truth matrix into an estimate of q.
type Estimator interface {
	Name() string
	Model() Model
	Estimate(truth *votes.Matrix) (Estimate, error)
}

// classCounts are one rater's agreements with the truth, split by class.
type classCounts struct {
	correctA, totalA int
	correctB, totalB int
}

func (c classCounts) total() int { return c.totalA + c.totalB }

// countAgreement tallies, for every rater, how often a non-abstaining vote
// on a labelled row matched the truth.
func countAgreement(truth *votes.Matrix) ([]classCounts, error) {
	if truth.Empty() {
		return nil, errkind.InsufficientDataf("truth matrix is empty")
	}
	counts := make([]classCounts, truth.NumRaters())
	for i := 0; i < truth.Len(); i++ {
		label := truth.Truth(i)
		if !label.Known() {
			continue
		}
		for j := range counts {
			v := truth.Vote(i, j)
			if !v.Counts() {
				continue
			}
			if label == votes.LabelA {
				counts[j].totalA++
				if v.Matches(label) {
					counts[j].correctA++
				}
			} else {
				counts[j].totalB++
				if v.Matches(label) {
					counts[j].correctB++
				}
			}
		}
	}
	for j, c := range counts {
		if c.total() == 0 {
			return nil, errkind.InsufficientDataf("rater %q has no labelled votes", truth.Rater(j))
		}
	}
	return counts, nil
}

func confusionPosterior(truth *votes.Matrix) (*Distribution, error) {
	counts, err := countAgreement(truth)
	if err != nil {
		return nil, err
	}
	d := &Distribution{Model: ConfusionMatrix, Raters: make([]CoinPrior, len(counts))}
	for j, c := range counts {
		d.Raters[j] = CoinPrior{
			A: Uniform.Update(c.correctA, c.totalA-c.correctA),
			B: Uniform.Update(c.correctB, c.totalB-c.correctB),
		}
	}
	return d, nil
}

// BetaBernoulli is the conjugate per-rater, per-class estimator.
type BetaBernoulli struct{}

func (BetaBernoulli) Name() string { return "BetaBernoulli" }
func (BetaBernoulli) Model() Model { return ConfusionMatrix }

func (BetaBernoulli) Estimate(truth *votes.Matrix) (Estimate, error) {
	return confusionPosterior(truth)
}

// Scalar collapses the BetaBernoulli posterior to its mean.
type Scalar struct{}

func (Scalar) Name() string { return "Scalar" }
func (Scalar) Model() Model { return ConfusionMatrix }

func (Scalar) Estimate(truth *votes.Matrix) (Estimate, error) {
	d, err := confusionPosterior(truth)
	if err != nil {
		return nil, err
	}
	return d.Mean(), nil
}

// OneCoinBetaBernoulli pools every labelled vote into one shared coin.
type OneCoinBetaBernoulli struct{}

func (OneCoinBetaBernoulli) Name() string { return "OneCoinBetaBernoulli" }
func (OneCoinBetaBernoulli) Model() Model { return OneCoin }

func (OneCoinBetaBernoulli) Estimate(truth *votes.Matrix) (Estimate, error) {
	counts, err := countAgreement(truth)
	if err != nil {
		return nil, err
	}
	var correct, total int
	for _, c := range counts {
		correct += c.correctA + c.correctB
		total += c.total()
	}
	shared := Uniform.Update(correct, total-correct)
	d := &Distribution{Model: OneCoin, Raters: make([]CoinPrior, len(counts))}
	for j := range d.Raters {
		d.Raters[j] = CoinPrior{A: shared, B: shared}
	}
	return d, nil
}

// Realised returns the empirical agreement rates in truth without any
// prior. Sides with no labelled votes are NaN. It is reported as the
// "true q" next to estimates.
func Realised(truth *votes.Matrix, model Model) *PointValue {
	pv := &PointValue{Model: model, Coins: make(Coins, truth.NumRaters())}
	counts := make([]classCounts, truth.NumRaters())
	for i := 0; i < truth.Len(); i++ {
		label := truth.Truth(i)
		if !label.Known() {
			continue
		}
		for j := range counts {
			v := truth.Vote(i, j)
			if !v.Counts() {
				continue
			}
			hit := 0
			if v.Matches(label) {
				hit = 1
			}
			if label == votes.LabelA {
				counts[j].totalA++
				counts[j].correctA += hit
			} else {
				counts[j].totalB++
				counts[j].correctB += hit
			}
		}
	}
	if model == OneCoin {
		var correct, total int
		for _, c := range counts {
			correct += c.correctA + c.correctB
			total += c.total()
		}
		r := ratio(correct, total)
		for j := range pv.Coins {
			pv.Coins[j] = Coin{A: r, B: r}
		}
		return pv
	}
	for j, c := range counts {
		pv.Coins[j] = Coin{A: ratio(c.correctA, c.totalA), B: ratio(c.correctB, c.totalB)}
	}
	return pv
}

func ratio(a, n int) float64 {
	if n == 0 {
		return math.NaN()
	}
	return float64(a) / float64(n)
}

// PointFromList builds a point value from a literal list of reliabilities.
// One value is shared by every rater and class, one value per rater gives
// symmetric coins, and two per rater are read as (A, B) pairs.
func PointFromList(model Model, raters int, values []float64) (*PointValue, error) {
	for _, v := range values {
		if !validProb(v) {
			return nil, errkind.Configurationf("q prior %v outside [0,1]", v)
		}
	}
	if raters < 1 {
		return nil, errkind.Configurationf("q prior needs at least one rater")
	}
	coins := make(Coins, raters)
	switch {
	case len(values) == 1:
		for j := range coins {
			coins[j] = Coin{A: values[0], B: values[0]}
		}
	case model == OneCoin:
		return nil, errkind.Configurationf("one-coin q prior takes a single value, got %d", len(values))
	case len(values) == raters:
		for j, v := range values {
			coins[j] = Coin{A: v, B: v}
		}
	case len(values) == 2*raters:
		for j := range coins {
			coins[j] = Coin{A: values[2*j], B: values[2*j+1]}
		}
	default:
		return nil, errkind.Configurationf("q prior has %d values for %d raters", len(values), raters)
	}
	return &PointValue{Model: model, Coins: coins}, nil
}

// Describe renders q compactly for logs.
func Describe(q Q) string {
	switch v := q.(type) {
	case *PointValue:
		return fmt.Sprintf("%s point %v", v.Model, v.Coins)
	case *SampleSet:
		return fmt.Sprintf("%s %d draws, mean %v", v.Model, v.Len(), v.Mean().Coins)
	case *Distribution:
		return fmt.Sprintf("%s beta, mean %v", v.Model, v.Mean().Coins)
	}
	return "none"
}
