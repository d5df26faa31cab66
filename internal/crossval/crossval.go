// Package crossval splits the labelled data into folds and scores the
// estimator on each held-out fold.
package crossval

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/votes"
	"github.com/banshee-data/winrate/internal/winrate"
)

// Disabled is the fold count that turns cross-validation off.
const Disabled = -1

// Fold is one partition of the truth matrix by task.
type Fold struct {
	Index int
	Tasks map[string]bool
	// Truth holds the fold's rows of the truth matrix.
	Truth *votes.Matrix
}

// Folds partitions truth by task: distinct tasks in order of first
// appearance, task j going to fold j mod k. Every row of a task lands in
// the same fold.
func Folds(truth *votes.Matrix, k int) ([]Fold, error) {
	if k < 2 {
		return nil, errkind.Configurationf("cv folds %d, need at least 2", k)
	}
	tasks := truth.Tasks()
	if k > len(tasks) {
		return nil, errkind.InsufficientDataf("cv folds %d exceed %d distinct tasks", k, len(tasks))
	}
	folds := make([]Fold, k)
	for i := range folds {
		folds[i] = Fold{Index: i, Tasks: make(map[string]bool)}
	}
	for j, task := range tasks {
		folds[j%k].Tasks[task] = true
	}
	for i := range folds {
		folds[i].Truth = truth.OnlyTasks(folds[i].Tasks)
	}
	return folds, nil
}

// EstimateFunc runs one estimate. truth is the labelled data the fold
// exposes and voting excludes the fold's tasks.
type EstimateFunc func(ctx context.Context, fold Fold, voting, truth *votes.Matrix) (*winrate.Estimate, error)

// Record is the error triple of one fold.
type Record struct {
	Fold      int     `json:"fold"`
	MeanError float64 `json:"mean_error"`
	ModeError float64 `json:"mode_error"`
	KError    float64 `json:"k_error"`
}

// Summary holds the per-fold records and their means.
type Summary struct {
	Records   []Record            `json:"records"`
	Estimates []*winrate.Estimate `json:"-"`
	MeanError float64             `json:"mean_error"`
	ModeError float64             `json:"mode_error"`
	KError    float64             `json:"k_error"`
}

// Run estimates once per fold. The first fold error aborts the run.
func Run(ctx context.Context, voting, truth *votes.Matrix, k int, fn EstimateFunc) (*Summary, error) {
	folds, err := Folds(truth, k)
	if err != nil {
		return nil, err
	}
	sum := &Summary{}
	for _, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		heldOut := voting.WithoutTasks(fold.Tasks)
		est, err := fn(ctx, fold, heldOut, fold.Truth)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", fold.Index, err)
		}
		sum.Estimates = append(sum.Estimates, est)
		sum.Records = append(sum.Records, Record{
			Fold:      fold.Index,
			MeanError: est.MeanError,
			ModeError: est.ModeError,
			KError:    est.KError,
		})
	}
	sum.MeanError, sum.ModeError, sum.KError = sum.means()
	return sum, nil
}

func (s *Summary) means() (mean, mode, k float64) {
	if len(s.Records) == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	col := func(get func(Record) float64) float64 {
		vals := make([]float64, len(s.Records))
		for i, r := range s.Records {
			vals[i] = get(r)
		}
		return floats.Sum(vals) / float64(len(vals))
	}
	return col(func(r Record) float64 { return r.MeanError }),
		col(func(r Record) float64 { return r.ModeError }),
		col(func(r Record) float64 { return r.KError })
}
