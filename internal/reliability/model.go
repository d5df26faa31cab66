// Package reliability models how often each rater's vote matches the
// truth ("q") and estimates it from labelled tasks.
//
// q takes one of two shapes. A *PointValue holds one Coin per rater. A
// *SampleSet holds posterior draws of those coins. Both satisfy Q, and
// consumers type switch on it once instead of carrying a scalar flag around.
package reliability

import (
	"fmt"
	"math"
)

// Model is the generative model of rater error.
type Model int

const (
	// ConfusionMatrix gives every rater its own P(vote A|A) and P(vote B|B).
	ConfusionMatrix Model = iota
	// OneCoin shares a single correctness probability across raters and
	// outcomes.
	OneCoin
)

func (m Model) String() string {
	switch m {
	case ConfusionMatrix:
		return "conf_mat"
	case OneCoin:
		return "one_coin"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// Coin is one rater's reliability: A = P(vote A | truth A) and
// B = P(vote B | truth B).
type Coin struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Valid reports whether both probabilities are finite and in [0,1].
func (c Coin) Valid() bool {
	return validProb(c.A) && validProb(c.B)
}

// Informative reports whether votes from this coin carry signal about the
// truth. A coin at chance (A+B=1) cannot be inverted.
func (c Coin) Informative() bool {
	return math.Abs(c.A+c.B-1) > 1e-9
}

func validProb(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}

// Coins holds one Coin per rater column.
type Coins []Coin

// Q is rater reliability as a point value or as a sample set.
type Q interface {
	model() Model
}

// Estimate is what a Q-estimator produces and what a calibrator accepts as
// a prior: a *PointValue or a *Distribution.
type Estimate interface {
	model() Model
}

// PointValue is a single reliability value per rater.
type PointValue struct {
	Model Model `json:"model"`
	Coins Coins `json:"coins"`
}

func (p *PointValue) model() Model { return p.Model }

// Validate checks that every coin is a probability.
func (p *PointValue) Validate() error {
	if len(p.Coins) == 0 {
		return fmt.Errorf("point value has no raters")
	}
	for i, c := range p.Coins {
		if !c.Valid() {
			return fmt.Errorf("rater %d: invalid coin %+v", i, c)
		}
	}
	return nil
}

// SampleSet holds posterior draws of the coins, draws x raters.
type SampleSet struct {
	Model Model   `json:"model"`
	Draws []Coins `json:"draws"`
}

func (s *SampleSet) model() Model { return s.Model }

// Len returns the number of draws.
func (s *SampleSet) Len() int { return len(s.Draws) }

// Mean collapses the draws to their per-rater mean.
func (s *SampleSet) Mean() *PointValue {
	if len(s.Draws) == 0 {
		return &PointValue{Model: s.Model}
	}
	coins := make(Coins, len(s.Draws[0]))
	for _, draw := range s.Draws {
		for j, c := range draw {
			coins[j].A += c.A
			coins[j].B += c.B
		}
	}
	n := float64(len(s.Draws))
	for j := range coins {
		coins[j].A /= n
		coins[j].B /= n
	}
	return &PointValue{Model: s.Model, Coins: coins}
}

// ModelOf returns the error model an Estimate or Q was built for.
func ModelOf(v Q) Model {
	return v.model()
}
