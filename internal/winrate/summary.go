package winrate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const kdePoints = 512

type sampleSummary struct {
	mean, mode, lower, upper float64
}

func describeSamples(ps []float64, confidence float64) sampleSummary {
	sorted := append([]float64(nil), ps...)
	sort.Float64s(sorted)
	tail := (1 - confidence) / 2
	return sampleSummary{
		mean:  stat.Mean(sorted, nil),
		mode:  kdeMode(sorted),
		lower: stat.Quantile(tail, stat.Empirical, sorted, nil),
		upper: stat.Quantile(1-tail, stat.Empirical, sorted, nil),
	}
}

// kdeMode is the peak of a Gaussian kernel density estimate on [0,1] with
// Silverman's bandwidth. Kernels are reflected at both bounds so mass near
// 0 or 1 is not lost.
func kdeMode(ps []float64) float64 {
	if len(ps) == 1 {
		return ps[0]
	}
	sd := stat.StdDev(ps, nil)
	if sd == 0 || math.IsNaN(sd) {
		return ps[0]
	}
	h := 1.06 * sd * math.Pow(float64(len(ps)), -0.2)
	x := make([]float64, kdePoints)
	floats.Span(x, 0, 1)
	density := make([]float64, kdePoints)
	for g, xg := range x {
		var s float64
		for _, p := range ps {
			s += kernel((xg-p)/h) + kernel((xg+p)/h) + kernel((xg-(2-p))/h)
		}
		density[g] = s
	}
	return x[floats.MaxIdx(density)]
}

func kernel(u float64) float64 {
	return math.Exp(-0.5 * u * u)
}

// wilson returns the share a/n with its Wilson score interval.
func wilson(a, n int, confidence float64) (k, lo, hi float64) {
	if n <= 0 {
		return math.NaN(), 0, 1
	}
	z := zScore(confidence)
	nf := float64(n)
	k = float64(a) / nf
	den := 1 + z*z/nf
	center := k + z*z/(2*nf)
	half := z * math.Sqrt(k*(1-k)/nf+z*z/(4*nf*nf))
	return k, clamp01((center - half) / den), clamp01((center + half) / den)
}
