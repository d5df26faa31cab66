// Package winrate estimates p, the probability that model A beats model B,
// from a voting matrix and rater reliability.
package winrate

import (
	"math"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/votes"
)

// Method names how an Estimate was produced.
type Method string

const (
	MethodGrid     Method = "grid"
	MethodSampledQ Method = "sampled-q"
	MethodJoint    Method = "joint"
)

// Options control interval width and posterior sampling.
type Options struct {
	// Confidence is the credible interval mass, e.g. 0.95.
	Confidence float64
	// SampleSize is the number of p draws taken from a grid posterior.
	SampleSize int
	Seed       uint64
}

// DefaultOptions returns a 95% interval with 1000 draws.
func DefaultOptions() Options {
	return Options{Confidence: 0.95, SampleSize: 1000}
}

func (o Options) validate() error {
	if !(o.Confidence > 0 && o.Confidence < 1) {
		return errkind.Configurationf("confidence %v outside (0,1)", o.Confidence)
	}
	if o.SampleSize < 0 {
		return errkind.Configurationf("negative p sample size %d", o.SampleSize)
	}
	return nil
}

// Estimate is the p posterior summary for one comparison.
type Estimate struct {
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`

	Mean  float64 `json:"mean"`
	Mode  float64 `json:"mode"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`

	// Inversion is the moment estimate (k - (1-qB)) / (qA + qB - 1) for
	// point q. HasInversion is false when every rater is at chance.
	HasInversion   bool    `json:"has_inversion"`
	Inversion      float64 `json:"inversion,omitempty"`
	InversionLower float64 `json:"inversion_lower,omitempty"`
	InversionUpper float64 `json:"inversion_upper,omitempty"`

	// K is the raw share of A votes with its Wilson interval.
	K      float64 `json:"k"`
	KLower float64 `json:"k_lower"`
	KUpper float64 `json:"k_upper"`

	HasTrueP        bool    `json:"has_true_p"`
	TrueP           float64 `json:"true_p,omitempty"`
	HasTruthMatrixP bool    `json:"has_truth_matrix_p"`
	TruthMatrixP    float64 `json:"truth_matrix_p,omitempty"`

	// Errors are |estimate - reference p|, NaN without any reference.
	MeanError float64 `json:"mean_error"`
	ModeError float64 `json:"mode_error"`
	KError    float64 `json:"k_error"`

	Samples []float64 `json:"-"`
	// Grid and Density hold the exact posterior for MethodGrid.
	Grid    []float64 `json:"-"`
	Density []float64 `json:"-"`
}

// Reference returns the p the errors are measured against: the voting
// matrix truth first, then the truth matrix.
func (e *Estimate) Reference() (float64, bool) {
	switch {
	case e.HasTrueP:
		return e.TrueP, true
	case e.HasTruthMatrixP:
		return e.TruthMatrixP, true
	}
	return math.NaN(), false
}

// fillBaselines sets K, the reference p values and the error fields.
func (e *Estimate) fillBaselines(voting, truth *votes.Matrix, confidence float64) {
	e.Confidence = confidence
	a, n := voting.VoteCounts()
	e.K, e.KLower, e.KUpper = wilson(a, n, confidence)
	e.TrueP, e.HasTrueP = voting.TrueP()
	e.TruthMatrixP, e.HasTruthMatrixP = truth.TrueP()
	ref, ok := e.Reference()
	if !ok {
		e.MeanError, e.ModeError, e.KError = math.NaN(), math.NaN(), math.NaN()
		return
	}
	e.MeanError = math.Abs(e.Mean - ref)
	e.ModeError = math.Abs(e.Mode - ref)
	e.KError = math.Abs(e.K - ref)
}

func checkVoting(voting *votes.Matrix) error {
	if voting.Empty() {
		return errkind.InsufficientDataf("voting matrix is empty")
	}
	if _, n := voting.VoteCounts(); n == 0 {
		return errkind.InsufficientDataf("voting matrix has no A or B votes")
	}
	return nil
}

func checkCoins(voting *votes.Matrix, coins reliability.Coins) error {
	if len(coins) != voting.NumRaters() {
		return errkind.Configurationf("q has %d raters, voting matrix %d", len(coins), voting.NumRaters())
	}
	return nil
}

// FromPoint computes the exact grid posterior of p under fixed q.
func FromPoint(voting, truth *votes.Matrix, q *reliability.PointValue, opts Options) (*Estimate, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := checkVoting(voting); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errkind.Configurationf("point q is nil")
	}
	if err := checkCoins(voting, q.Coins); err != nil {
		return nil, err
	}
	post := gridPosterior(taskLikelihoods(voting, q.Coins))
	est := &Estimate{Method: MethodGrid, Grid: post.x, Density: post.density}
	est.Mean = post.mean()
	est.Mode = post.mode()
	est.Lower, est.Upper = post.interval(opts.Confidence)
	est.Samples = post.sample(opts.SampleSize, opts.Seed)
	if inv, ok := invert(voting, q.Coins, opts.Confidence); ok {
		est.HasInversion = true
		est.Inversion, est.InversionLower, est.InversionUpper = inv.p, inv.lower, inv.upper
	}
	est.fillBaselines(voting, truth, opts.Confidence)
	return est, nil
}

// FromSamples maps every q draw to p by moment inversion and summarises
// the resulting draws. Draws with every rater at chance are skipped.
func FromSamples(voting, truth *votes.Matrix, q *reliability.SampleSet, opts Options) (*Estimate, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := checkVoting(voting); err != nil {
		return nil, err
	}
	if q == nil || q.Len() == 0 {
		return nil, errkind.InsufficientDataf("no q samples")
	}
	ps := make([]float64, 0, q.Len())
	for _, coins := range q.Draws {
		if err := checkCoins(voting, coins); err != nil {
			return nil, err
		}
		if inv, ok := invert(voting, coins, opts.Confidence); ok {
			ps = append(ps, inv.p)
		}
	}
	if len(ps) == 0 {
		return nil, errkind.InsufficientDataf("every q sample is at chance")
	}
	return summarise(MethodSampledQ, voting, truth, ps, opts)
}

// FromPSamples summarises p draws taken jointly with q by a calibrator.
func FromPSamples(voting, truth *votes.Matrix, p []float64, opts Options) (*Estimate, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := checkVoting(voting); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, errkind.InsufficientDataf("no p samples")
	}
	return summarise(MethodJoint, voting, truth, p, opts)
}

func summarise(method Method, voting, truth *votes.Matrix, ps []float64, opts Options) (*Estimate, error) {
	s := describeSamples(ps, opts.Confidence)
	est := &Estimate{
		Method:  method,
		Mean:    s.mean,
		Mode:    s.mode,
		Lower:   s.lower,
		Upper:   s.upper,
		Samples: append([]float64(nil), ps...),
	}
	est.fillBaselines(voting, truth, opts.Confidence)
	return est, nil
}
