// Package dataset builds the voting and truth matrices for a model pair
// from an annotation source.
package dataset

import (
	"fmt"
	"sort"

	"github.com/banshee-data/winrate/internal/votes"
)

// Annotation is one rater's vote on one task for one ordered model pair.
type Annotation struct {
	Task   string
	ModelA string
	ModelB string
	Rater  string
	Vote   votes.Vote
	Gold   votes.Label
}

// Table is the long-format annotation store a source produces.
type Table struct {
	rows []Annotation
}

// NewTable copies rows into a table.
func NewTable(rows []Annotation) *Table {
	return &Table{rows: append([]Annotation(nil), rows...)}
}

// Len returns the number of annotations.
func (t *Table) Len() int { return len(t.rows) }

// Raters returns every rater, sorted. Matrices built from one table share
// these columns.
func (t *Table) Raters() []string {
	seen := make(map[string]bool)
	for _, r := range t.rows {
		seen[r.Rater] = true
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Generators returns every model that appears on either side, sorted.
func (t *Table) Generators() []string {
	seen := make(map[string]bool)
	for _, r := range t.rows {
		seen[r.ModelA] = true
		seen[r.ModelB] = true
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

type pivotKey struct{ task, a, b string }

// pivot turns the annotations accepted by keep into one matrix row per
// (task, ordered pair). Annotations for which orient returns true are
// flipped and merged into the reversed pair's row.
func (t *Table) pivot(keep func(Annotation) bool, orient func(Annotation) (flip bool), taskID func(Annotation) string) (*votes.Matrix, error) {
	raters := t.Raters()
	col := make(map[string]int, len(raters))
	for j, r := range raters {
		col[r] = j
	}
	index := make(map[pivotKey]int)
	var rows []votes.Row
	for _, a := range t.rows {
		if !keep(a) {
			continue
		}
		v, gold := a.Vote, a.Gold
		key := pivotKey{a.Task, a.ModelA, a.ModelB}
		if orient(a) {
			v, gold = v.Flip(), gold.Flip()
			key = pivotKey{a.Task, a.ModelB, a.ModelA}
		}
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, votes.Row{Task: taskID(a), Votes: make([]votes.Vote, len(raters))})
		}
		if gold.Known() {
			if prev := rows[i].Truth; prev.Known() && prev != gold {
				return nil, fmt.Errorf("task %q: conflicting gold labels", a.Task)
			}
			rows[i].Truth = gold
		}
		rows[i].Votes[col[a.Rater]] = v
	}
	return votes.NewMatrix(raters, rows)
}

// Pair returns the matrix for modelA against modelB. Annotations recorded
// the other way round are flipped into this orientation.
func (t *Table) Pair(modelA, modelB string) (*votes.Matrix, error) {
	return t.pivot(
		func(a Annotation) bool {
			return (a.ModelA == modelA && a.ModelB == modelB) || (a.ModelA == modelB && a.ModelB == modelA)
		},
		func(a Annotation) bool { return a.ModelA == modelB },
		func(a Annotation) string { return a.Task },
	)
}

// Others returns labelled rows from every other comparison, for estimating
// q out of distribution. ExcludeGenerators also drops comparisons where
// either model takes part.
func (t *Table) Others(modelA, modelB string, source OODSource) (*votes.Matrix, error) {
	m, err := t.pivot(
		func(a Annotation) bool {
			if !a.Gold.Known() {
				return false
			}
			samePair := (a.ModelA == modelA && a.ModelB == modelB) || (a.ModelA == modelB && a.ModelB == modelA)
			if samePair {
				return false
			}
			if source == OODExcludeGenerators {
				for _, g := range []string{a.ModelA, a.ModelB} {
					if g == modelA || g == modelB {
						return false
					}
				}
			}
			return true
		},
		func(Annotation) bool { return false },
		func(a Annotation) string { return fmt.Sprintf("%s|%s___%s", a.Task, a.ModelA, a.ModelB) },
	)
	if err != nil {
		return nil, err
	}
	return m.Labelled(), nil
}
