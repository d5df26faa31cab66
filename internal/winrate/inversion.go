package winrate

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/votes"
)

type inversion struct {
	p, lower, upper float64
}

func zScore(confidence float64) float64 {
	return distuv.UnitNormal.Quantile(1 - (1-confidence)/2)
}

// invert solves k_r = p*qA + (1-p)*(1-qB) for p per rater and pools the
// results weighted by vote count. The interval propagates an Agresti-Coull
// interval on k_r through the same map. ok is false when no rater with
// votes is informative.
func invert(voting *votes.Matrix, coins reliability.Coins, confidence float64) (inversion, bool) {
	z := zScore(confidence)
	var total, pooled, variance float64
	type rater struct{ n, p, se float64 }
	var raters []rater
	for j, c := range coins {
		if !c.Informative() {
			continue
		}
		var a, n int
		for i := 0; i < voting.Len(); i++ {
			switch voting.Vote(i, j) {
			case votes.VoteA:
				a++
				n++
			case votes.VoteB:
				n++
			}
		}
		if n == 0 {
			continue
		}
		slope := c.A + c.B - 1
		k := float64(a) / float64(n)
		nt := float64(n) + z*z
		pt := (float64(a) + z*z/2) / nt
		seK := math.Sqrt(pt * (1 - pt) / nt)
		raters = append(raters, rater{
			n:  float64(n),
			p:  (k - (1 - c.B)) / slope,
			se: seK / math.Abs(slope),
		})
		total += float64(n)
	}
	if len(raters) == 0 {
		return inversion{}, false
	}
	for _, r := range raters {
		w := r.n / total
		pooled += w * r.p
		variance += w * w * r.se * r.se
	}
	half := z * math.Sqrt(variance)
	return inversion{
		p:     clamp01(pooled),
		lower: clamp01(pooled - half),
		upper: clamp01(pooled + half),
	}, true
}

func clamp01(x float64) float64 {
	return math.Min(math.Max(x, 0), 1)
}
