// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the simulated crowds used across estimator,
// calibration and pipeline tests.
package testutil

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/winrate/internal/votes"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// CrowdConfig describes a simulated crowd. Q holds one accuracy per rater;
// the rater count is len(Q).
type CrowdConfig struct {
	Tasks int
	P     float64
	Q     []float64
	Seed  uint64
	// TaskPrefix distinguishes task ids between crowds. Defaults to "t".
	TaskPrefix string
	// Abstain is the chance that a rater skips a task.
	Abstain float64
}

// Crowd simulates a matrix whose truth is A with probability cfg.P and
// where rater j reports the truth with probability cfg.Q[j]. Every row
// carries its truth.
func Crowd(t *testing.T, cfg CrowdConfig) *votes.Matrix {
	t.Helper()
	rng := rand.New(rand.NewPCG(cfg.Seed, 7))
	prefix := cfg.TaskPrefix
	if prefix == "" {
		prefix = "t"
	}
	names := make([]string, len(cfg.Q))
	for j := range names {
		names[j] = fmt.Sprintf("r%d", j)
	}
	rows := make([]votes.Row, cfg.Tasks)
	for i := range rows {
		truth := votes.LabelB
		if rng.Float64() < cfg.P {
			truth = votes.LabelA
		}
		vs := make([]votes.Vote, len(cfg.Q))
		for j, q := range cfg.Q {
			if cfg.Abstain > 0 && rng.Float64() < cfg.Abstain {
				continue
			}
			votesA := truth == votes.LabelA
			if rng.Float64() >= q {
				votesA = !votesA
			}
			vs[j] = votes.VoteB
			if votesA {
				vs[j] = votes.VoteA
			}
		}
		rows[i] = votes.Row{Task: fmt.Sprintf("%s%d", prefix, i), Votes: vs, Truth: truth}
	}
	m, err := votes.NewMatrix(names, rows)
	AssertNoError(t, err)
	return m
}

// Repeat returns n copies of q, one per rater.
func Repeat(q float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = q
	}
	return out
}

// Unlabelled strips the truth column, as a voting matrix would arrive
// without ground truth.
func Unlabelled(t *testing.T, m *votes.Matrix) *votes.Matrix {
	t.Helper()
	rows := make([]votes.Row, m.Len())
	for i := range rows {
		rows[i] = m.Row(i)
		rows[i].Truth = votes.LabelUnknown
	}
	out, err := votes.NewMatrix(m.Raters(), rows)
	AssertNoError(t, err)
	return out
}
