package calibration

import (
	"math"

	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/votes"
)

type observation struct {
	rater int
	voteA bool
}

// item is one task with its latent truth.
type item struct {
	obs []observation
	// clamp is the gold truth, if any.
	clamp votes.Label
	// counted items take part in p. Gold-only tasks inform q alone.
	counted bool
}

// buildItems groups voting rows by task and attaches gold labels. Gold tasks
// that never appear in the voting matrix are appended uncounted.
func buildItems(voting, gold *votes.Matrix) []item {
	index := make(map[string]int)
	var items []item
	add := func(m *votes.Matrix, counted bool, skip map[string]bool) {
		for i := 0; i < m.Len(); i++ {
			task := m.Task(i)
			if skip[task] {
				continue
			}
			k, ok := index[task]
			if !ok {
				k = len(items)
				index[task] = k
				items = append(items, item{counted: counted})
			}
			for j := 0; j < m.NumRaters(); j++ {
				v := m.Vote(i, j)
				if v.Counts() {
					items[k].obs = append(items[k].obs, observation{rater: j, voteA: v == votes.VoteA})
				}
			}
		}
	}
	add(voting, true, nil)
	if gold == nil {
		return items
	}
	inVoting := make(map[string]bool, len(index))
	for task := range index {
		inVoting[task] = true
	}
	add(gold.Labelled(), false, inVoting)
	for i := 0; i < gold.Len(); i++ {
		if l := gold.Truth(i); l.Known() {
			items[index[gold.Task(i)]].clamp = l
		}
	}
	return items
}

const logEps = 1e-12

func safeLog(x float64) float64 {
	return math.Log(math.Min(math.Max(x, logEps), 1-logEps))
}

// logLikelihoods returns log P(votes | A) and log P(votes | B) for an item.
func (it item) logLikelihoods(coins reliability.Coins) (la, lb float64) {
	for _, o := range it.obs {
		c := coins[o.rater]
		if o.voteA {
			la += safeLog(c.A)
			lb += safeLog(1 - c.B)
		} else {
			la += safeLog(1 - c.A)
			lb += safeLog(c.B)
		}
	}
	return la, lb
}

// posteriorA returns P(truth = A | votes) for prior probability p.
func (it item) posteriorA(p float64, coins reliability.Coins) float64 {
	switch it.clamp {
	case votes.LabelA:
		return 1
	case votes.LabelB:
		return 0
	}
	la, lb := it.logLikelihoods(coins)
	d := (safeLog(1-p) + lb) - (safeLog(p) + la)
	return 1 / (1 + math.Exp(d))
}

// majority is the initial truth guess: more A votes than B, ties to A.
func (it item) majority() bool {
	switch it.clamp {
	case votes.LabelA:
		return true
	case votes.LabelB:
		return false
	}
	a := 0
	for _, o := range it.obs {
		if o.voteA {
			a++
		}
	}
	return 2*a >= len(it.obs)
}
