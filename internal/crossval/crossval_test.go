package crossval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/testutil"
	"github.com/banshee-data/winrate/internal/votes"
	"github.com/banshee-data/winrate/internal/winrate"
)

func TestFoldsPartitionTasks(t *testing.T) {
	truth := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 23, P: 0.5, Q: []float64{0.8, 0.7}, Seed: 1})
	for _, k := range []int{2, 3, 5, 23} {
		folds, err := Folds(truth, k)
		require.NoError(t, err)
		require.Len(t, folds, k)

		seen := make(map[string]int)
		rows := 0
		for _, f := range folds {
			rows += f.Truth.Len()
			for task := range f.Tasks {
				seen[task]++
			}
		}
		assert.Equal(t, truth.Len(), rows, "k=%d: fold rows must cover the truth matrix", k)
		assert.Len(t, seen, 23)
		for task, n := range seen {
			assert.Equal(t, 1, n, "k=%d: task %s in %d folds", k, task, n)
		}
	}
}

func TestFoldsRoundRobin(t *testing.T) {
	truth := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 5, P: 0.5, Q: []float64{0.8}, Seed: 2})
	folds, err := Folds(truth, 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"t0": true, "t2": true, "t4": true}, folds[0].Tasks)
	assert.Equal(t, map[string]bool{"t1": true, "t3": true}, folds[1].Tasks)
}

func TestFoldsKeepTaskGroupsTogether(t *testing.T) {
	rows := []votes.Row{
		{Task: "x", Votes: []votes.Vote{votes.VoteA}, Truth: votes.LabelA},
		{Task: "y", Votes: []votes.Vote{votes.VoteB}, Truth: votes.LabelB},
		{Task: "x", Votes: []votes.Vote{votes.VoteB}, Truth: votes.LabelA},
	}
	folds, err := Folds(votes.MustMatrix([]string{"r"}, rows), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, folds[0].Truth.Len())
	assert.Equal(t, 1, folds[1].Truth.Len())
}

func TestFoldsRejectBadK(t *testing.T) {
	truth := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 4, P: 0.5, Q: []float64{0.8}, Seed: 3})
	for _, k := range []int{1, 0, Disabled} {
		_, err := Folds(truth, k)
		if !errors.Is(err, errkind.ErrConfiguration) {
			t.Errorf("Folds(k=%d) error = %v, want ErrConfiguration", k, err)
		}
	}

	// More folds than labelled tasks is a property of the data, not the run.
	_, err := Folds(truth, 5)
	assert.ErrorIs(t, err, errkind.ErrInsufficientData)
	assert.False(t, errkind.IsFatal(err))
}

func TestRunHoldsOutFoldTasks(t *testing.T) {
	data := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 30, P: 0.6, Q: testutil.Repeat(0.8, 3), Seed: 4})
	calls := 0
	sum, err := Run(context.Background(), data, data, 3, func(_ context.Context, fold Fold, voting, truth *votes.Matrix) (*winrate.Estimate, error) {
		calls++
		for i := 0; i < voting.Len(); i++ {
			if fold.Tasks[voting.Task(i)] {
				t.Errorf("fold %d: task %s leaked into the voting matrix", fold.Index, voting.Task(i))
			}
		}
		assert.Equal(t, 20, voting.Len())
		assert.Equal(t, 10, truth.Len())
		return &winrate.Estimate{MeanError: float64(fold.Index), ModeError: 1, KError: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, sum.Records, 3)
	assert.InDelta(t, 1.0, sum.MeanError, 1e-12)
	assert.InDelta(t, 1.0, sum.ModeError, 1e-12)
	assert.InDelta(t, 2.0, sum.KError, 1e-12)
	assert.Len(t, sum.Estimates, 3)
}

func TestRunStopsOnFoldError(t *testing.T) {
	data := testutil.Crowd(t, testutil.CrowdConfig{Tasks: 10, P: 0.5, Q: []float64{0.8}, Seed: 5})
	boom := errkind.InsufficientDataf("no votes")
	calls := 0
	_, err := Run(context.Background(), data, data, 2, func(context.Context, Fold, *votes.Matrix, *votes.Matrix) (*winrate.Estimate, error) {
		calls++
		return nil, boom
	})
	assert.ErrorIs(t, err, errkind.ErrInsufficientData)
	assert.Contains(t, err.Error(), "fold 0")
	assert.Equal(t, 1, calls)
}
