package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/winrate/internal/votes"
)

// RandomConfig shapes the synthetic crowd.
type RandomConfig struct {
	// Strengths maps generator name to a latent skill. The chance that A
	// beats B is the logistic of the skill gap.
	Strengths map[string]float64
	Raters    int
	Tasks     int
	// QMin and QMax bound each rater's randomly drawn accuracy.
	QMin, QMax float64
	// Coverage is the chance a rater votes on a given task.
	Coverage float64
	// TieRate is the chance a vote is a tie.
	TieRate float64
	Seed    uint64
}

// DefaultRandomConfig is five generators of rising strength judged by five
// raters on 200 shared prompts.
func DefaultRandomConfig() RandomConfig {
	return RandomConfig{
		Strengths: map[string]float64{
			"gen-a": 0, "gen-b": 0.4, "gen-c": 0.8, "gen-d": 1.2, "gen-e": 1.6,
		},
		Raters:   5,
		Tasks:    200,
		QMin:     0.6,
		QMax:     0.95,
		Coverage: 0.8,
		TieRate:  0.05,
		Seed:     1,
	}
}

// RandomSamples is a seeded synthetic crowd. Every prompt is judged for
// every pair of generators, so task ids are shared across comparisons.
type RandomSamples struct {
	cfg   RandomConfig
	table *Table
	// Coins are the raters' true accuracies, for tests and reports.
	Coins []float64
}

// NewRandomSamples simulates the whole table up front.
func NewRandomSamples(cfg RandomConfig) (*RandomSamples, error) {
	if len(cfg.Strengths) < 2 {
		return nil, fmt.Errorf("random samples need at least two generators")
	}
	if cfg.Raters < 1 || cfg.Tasks < 1 {
		return nil, fmt.Errorf("random samples need raters and tasks, got %d and %d", cfg.Raters, cfg.Tasks)
	}
	if !(cfg.QMin >= 0 && cfg.QMin <= cfg.QMax && cfg.QMax <= 1) {
		return nil, fmt.Errorf("rater accuracy range [%v,%v] invalid", cfg.QMin, cfg.QMax)
	}
	rs := &RandomSamples{cfg: cfg}
	rs.simulate()
	return rs, nil
}

func (rs *RandomSamples) Name() string { return "RandomSamples" }

func (rs *RandomSamples) Generators(context.Context) ([]string, error) {
	return rs.table.Generators(), nil
}

func (rs *RandomSamples) Build(_ context.Context, req Request) (*votes.Matrix, *votes.Matrix, error) {
	return assemble(rs.table, req)
}

// TrueP is the simulated probability that modelA beats modelB.
func (rs *RandomSamples) TrueP(modelA, modelB string) float64 {
	gap := rs.cfg.Strengths[modelA] - rs.cfg.Strengths[modelB]
	return 1 / (1 + math.Exp(-gap))
}

func (rs *RandomSamples) simulate() {
	cfg := rs.cfg
	rng := rand.New(rand.NewPCG(cfg.Seed, 0xc0ffee))
	rs.Coins = make([]float64, cfg.Raters)
	for j := range rs.Coins {
		rs.Coins[j] = cfg.QMin + rng.Float64()*(cfg.QMax-cfg.QMin)
	}
	gens := make([]string, 0, len(cfg.Strengths))
	for g := range cfg.Strengths {
		gens = append(gens, g)
	}
	sort.Strings(gens)

	var rows []Annotation
	for x := 0; x < len(gens); x++ {
		for y := x + 1; y < len(gens); y++ {
			a, b := gens[x], gens[y]
			p := rs.TrueP(a, b)
			for i := 0; i < cfg.Tasks; i++ {
				task := fmt.Sprintf("prompt-%04d", i)
				gold := votes.LabelB
				if rng.Float64() < p {
					gold = votes.LabelA
				}
				for j, q := range rs.Coins {
					if rng.Float64() >= cfg.Coverage {
						continue
					}
					rows = append(rows, Annotation{
						Task:   task,
						ModelA: a,
						ModelB: b,
						Rater:  fmt.Sprintf("rater-%02d", j),
						Vote:   simulateVote(rng, gold, q, cfg.TieRate),
						Gold:   gold,
					})
				}
			}
		}
	}
	rs.table = NewTable(rows)
}

func simulateVote(rng *rand.Rand, gold votes.Label, q, tieRate float64) votes.Vote {
	if rng.Float64() < tieRate {
		return votes.VoteTie
	}
	right := rng.Float64() < q
	if (gold == votes.LabelA) == right {
		return votes.VoteA
	}
	return votes.VoteB
}
