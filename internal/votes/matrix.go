package votes

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// Row is one evaluated task: one vote per rater column plus the gold
// outcome when it is known.
type Row struct {
	Task  string
	Votes []Vote
	Truth Label
}

// Matrix is a read-only table of votes. The voting matrix and the truth
// matrix share this schema; a truth matrix only holds labelled rows.
type Matrix struct {
	raters []string
	rows   []Row
}

// NewMatrix copies raters and rows into a new matrix. Every row must have
// exactly one vote per rater.
func NewMatrix(raters []string, rows []Row) (*Matrix, error) {
	seen := make(map[string]bool, len(raters))
	for _, r := range raters {
		if seen[r] {
			return nil, fmt.Errorf("duplicate rater %q", r)
		}
		seen[r] = true
	}
	m := &Matrix{
		raters: append([]string(nil), raters...),
		rows:   make([]Row, len(rows)),
	}
	for i, row := range rows {
		if len(row.Votes) != len(raters) {
			return nil, fmt.Errorf("row %d (task %q): %d votes for %d raters", i, row.Task, len(row.Votes), len(raters))
		}
		m.rows[i] = copyRow(row)
	}
	return m, nil
}

// MustMatrix is NewMatrix for fixtures; it panics on malformed input.
func MustMatrix(raters []string, rows []Row) *Matrix {
	m, err := NewMatrix(raters, rows)
	if err != nil {
		panic(err)
	}
	return m
}

func copyRow(r Row) Row {
	return Row{Task: r.Task, Votes: append([]Vote(nil), r.Votes...), Truth: r.Truth}
}

// Len returns the number of rows. A nil matrix is empty.
func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rows)
}

// Empty reports whether the matrix has no rows.
func (m *Matrix) Empty() bool { return m.Len() == 0 }

// NumRaters returns the number of rater columns.
func (m *Matrix) NumRaters() int {
	if m == nil {
		return 0
	}
	return len(m.raters)
}

// Raters returns a copy of the rater column names.
func (m *Matrix) Raters() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.raters...)
}

// Rater returns the name of column j.
func (m *Matrix) Rater(j int) string { return m.raters[j] }

// Row returns a copy of row i.
func (m *Matrix) Row(i int) Row { return copyRow(m.rows[i]) }

// Task returns the task id of row i.
func (m *Matrix) Task(i int) string { return m.rows[i].Task }

// Vote returns rater j's vote on row i.
func (m *Matrix) Vote(i, j int) Vote { return m.rows[i].Votes[j] }

// Truth returns the gold label of row i.
func (m *Matrix) Truth(i int) Label { return m.rows[i].Truth }

// Tasks returns the distinct task ids in order of first appearance.
func (m *Matrix) Tasks() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.rows {
		if !seen[r.Task] {
			seen[r.Task] = true
			out = append(out, r.Task)
		}
	}
	return out
}

// Subset returns a deep copy holding the rows keep accepts.
func (m *Matrix) Subset(keep func(Row) bool) *Matrix {
	out := &Matrix{raters: m.Raters()}
	if m == nil {
		return out
	}
	for _, r := range m.rows {
		if keep(r) {
			out.rows = append(out.rows, copyRow(r))
		}
	}
	return out
}

// OnlyTasks returns the rows whose task is in tasks.
func (m *Matrix) OnlyTasks(tasks map[string]bool) *Matrix {
	return m.Subset(func(r Row) bool { return tasks[r.Task] })
}

// WithoutTasks returns the rows whose task is not in tasks.
func (m *Matrix) WithoutTasks(tasks map[string]bool) *Matrix {
	return m.Subset(func(r Row) bool { return !tasks[r.Task] })
}

// Labelled returns the rows that carry a gold label.
func (m *Matrix) Labelled() *Matrix {
	return m.Subset(func(r Row) bool { return r.Truth.Known() })
}

// Append returns a new matrix with the rows of other appended. Both
// matrices must have the same rater columns.
func (m *Matrix) Append(other *Matrix) (*Matrix, error) {
	if other.Len() == 0 {
		return m.Subset(func(Row) bool { return true }), nil
	}
	if m.NumRaters() != other.NumRaters() {
		return nil, fmt.Errorf("rater columns differ: %d vs %d", m.NumRaters(), other.NumRaters())
	}
	for j := range m.raters {
		if m.raters[j] != other.raters[j] {
			return nil, fmt.Errorf("rater column %d differs: %q vs %q", j, m.raters[j], other.raters[j])
		}
	}
	rows := make([]Row, 0, m.Len()+other.Len())
	rows = append(rows, m.rows...)
	rows = append(rows, other.rows...)
	return NewMatrix(m.raters, rows)
}

// Flip swaps the roles of A and B in every vote and label.
func (m *Matrix) Flip() *Matrix {
	if m == nil {
		return &Matrix{}
	}
	out := &Matrix{raters: m.Raters(), rows: make([]Row, m.Len())}
	for i, r := range m.rows {
		fr := Row{Task: r.Task, Votes: make([]Vote, len(r.Votes)), Truth: r.Truth.Flip()}
		for j, v := range r.Votes {
			fr.Votes[j] = v.Flip()
		}
		out.rows[i] = fr
	}
	return out
}

// K returns the naive estimate of p: the fraction of non-abstaining votes
// that prefer A. ok is false when no rater voted.
func (m *Matrix) K() (k float64, ok bool) {
	a, n := m.VoteCounts()
	if n == 0 {
		return 0, false
	}
	return float64(a) / float64(n), true
}

// VoteCounts returns the number of A votes and of non-abstaining votes.
func (m *Matrix) VoteCounts() (a, n int) {
	if m == nil {
		return 0, 0
	}
	for _, r := range m.rows {
		for _, v := range r.Votes {
			if v.Counts() {
				n++
				if v == VoteA {
					a++
				}
			}
		}
	}
	return a, n
}

// TrueP returns the fraction of labelled rows whose truth is A. ok is
// false when the matrix has no labelled rows.
func (m *Matrix) TrueP() (p float64, ok bool) {
	if m == nil {
		return 0, false
	}
	var a, n int
	for _, r := range m.rows {
		if !r.Truth.Known() {
			continue
		}
		n++
		if r.Truth == LabelA {
			a++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(a) / float64(n), true
}

// Rebalance subsamples labelled tasks so that the fraction whose truth is A
// equals p as closely as the counts allow. Unlabelled rows are dropped.
// Task groups are kept whole.
func (m *Matrix) Rebalance(p float64, rng *rand.Rand) (*Matrix, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("rebalance target %v outside [0,1]", p)
	}
	var aTasks, bTasks []string
	seen := make(map[string]bool)
	for _, r := range m.rows {
		if !r.Truth.Known() || seen[r.Task] {
			continue
		}
		seen[r.Task] = true
		if r.Truth == LabelA {
			aTasks = append(aTasks, r.Task)
		} else {
			bTasks = append(bTasks, r.Task)
		}
	}
	nA, nB := len(aTasks), len(bTasks)
	switch {
	case p == 1:
		nB = 0
	case p == 0:
		nA = 0
	case float64(nA)/(float64(nA)+float64(nB)) > p:
		nA = int(p / (1 - p) * float64(nB))
	default:
		nB = int((1 - p) / p * float64(nA))
	}
	if nA+nB == 0 {
		return nil, fmt.Errorf("rebalance to %v leaves no tasks", p)
	}
	rng.Shuffle(len(aTasks), func(i, j int) { aTasks[i], aTasks[j] = aTasks[j], aTasks[i] })
	rng.Shuffle(len(bTasks), func(i, j int) { bTasks[i], bTasks[j] = bTasks[j], bTasks[i] })
	keep := make(map[string]bool, nA+nB)
	for _, t := range aTasks[:nA] {
		keep[t] = true
	}
	for _, t := range bTasks[:nB] {
		keep[t] = true
	}
	return m.Subset(func(r Row) bool { return r.Truth.Known() && keep[r.Task] }), nil
}

type wireMatrix struct {
	Raters []string  `json:"raters"`
	Rows   []wireRow `json:"rows"`
}

type wireRow struct {
	Task  string   `json:"task"`
	Votes []string `json:"votes"`
	Truth string   `json:"truth,omitempty"`
}

// MarshalJSON encodes the matrix for the on-disk matrix cache.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	w := wireMatrix{Raters: m.Raters(), Rows: make([]wireRow, m.Len())}
	for i, r := range m.rows {
		wr := wireRow{Task: r.Task, Votes: make([]string, len(r.Votes)), Truth: r.Truth.String()}
		for j, v := range r.Votes {
			wr.Votes[j] = v.String()
		}
		w.Rows[i] = wr
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a matrix written by MarshalJSON.
func (m *Matrix) UnmarshalJSON(data []byte) error {
	var w wireMatrix
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	rows := make([]Row, len(w.Rows))
	for i, wr := range w.Rows {
		row := Row{Task: wr.Task, Votes: make([]Vote, len(wr.Votes))}
		for j, s := range wr.Votes {
			v, err := ParseVote(s)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			row.Votes[j] = v
		}
		l, err := ParseLabel(wr.Truth)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		row.Truth = l
		rows[i] = row
	}
	decoded, err := NewMatrix(w.Raters, rows)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}
