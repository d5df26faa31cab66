package votes

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *Matrix {
	t.Helper()
	m, err := NewMatrix([]string{"r1", "r2"}, []Row{
		{Task: "t1", Votes: []Vote{VoteA, VoteA}, Truth: LabelA},
		{Task: "t1", Votes: []Vote{VoteB, VoteA}, Truth: LabelA},
		{Task: "t2", Votes: []Vote{VoteB, VoteTie}, Truth: LabelB},
		{Task: "t3", Votes: []Vote{VoteMissing, VoteA}},
	})
	require.NoError(t, err)
	return m
}

func TestNewMatrixRejectsRaggedRows(t *testing.T) {
	_, err := NewMatrix([]string{"r1", "r2"}, []Row{{Task: "t1", Votes: []Vote{VoteA}}})
	assert.Error(t, err)

	_, err = NewMatrix([]string{"r1", "r1"}, nil)
	assert.Error(t, err)
}

func TestNewMatrixCopiesInput(t *testing.T) {
	rows := []Row{{Task: "t1", Votes: []Vote{VoteA}}}
	m := MustMatrix([]string{"r1"}, rows)
	rows[0].Votes[0] = VoteB
	assert.Equal(t, VoteA, m.Vote(0, 0))

	row := m.Row(0)
	row.Votes[0] = VoteB
	assert.Equal(t, VoteA, m.Vote(0, 0))
}

func TestK(t *testing.T) {
	m := fixture(t)
	k, ok := m.K()
	require.True(t, ok)
	// A votes: t1 (2) + t1 (1) + t3 (1) = 4 of 6 counted votes.
	assert.InDelta(t, 4.0/6.0, k, 1e-12)

	_, ok = MustMatrix([]string{"r1"}, nil).K()
	assert.False(t, ok)
}

func TestTrueP(t *testing.T) {
	m := fixture(t)
	p, ok := m.TrueP()
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, p, 1e-12)

	_, ok = m.Subset(func(r Row) bool { return !r.Truth.Known() }).TrueP()
	assert.False(t, ok)
}

func TestTasksFirstAppearanceOrder(t *testing.T) {
	assert.Equal(t, []string{"t1", "t2", "t3"}, fixture(t).Tasks())
}

func TestSubsetHelpers(t *testing.T) {
	m := fixture(t)
	assert.Equal(t, 3, m.Labelled().Len())
	assert.Equal(t, 2, m.OnlyTasks(map[string]bool{"t1": true}).Len())
	assert.Equal(t, 2, m.WithoutTasks(map[string]bool{"t1": true}).Len())
	assert.Equal(t, 4, m.Len(), "source matrix must not change")
}

func TestFlip(t *testing.T) {
	f := fixture(t).Flip()
	assert.Equal(t, VoteB, f.Vote(0, 0))
	assert.Equal(t, VoteTie, f.Vote(2, 1))
	assert.Equal(t, LabelB, f.Truth(0))
	assert.Equal(t, LabelUnknown, f.Truth(3))
}

func TestAppend(t *testing.T) {
	m := fixture(t)
	joined, err := m.Append(m.OnlyTasks(map[string]bool{"t2": true}))
	require.NoError(t, err)
	assert.Equal(t, 5, joined.Len())

	_, err = m.Append(MustMatrix([]string{"x"}, []Row{{Task: "t9", Votes: []Vote{VoteA}}}))
	assert.Error(t, err)
}

func TestRebalance(t *testing.T) {
	var rows []Row
	for i := 0; i < 60; i++ {
		truth := LabelB
		if i < 40 {
			truth = LabelA
		}
		rows = append(rows, Row{Task: string(rune('a'+i%26)) + string(rune('a'+i/26)), Votes: []Vote{VoteA}, Truth: truth})
	}
	m := MustMatrix([]string{"r1"}, rows)

	testCases := []struct {
		name string
		p    float64
	}{
		{"lower", 0.5},
		{"higher", 0.8},
		{"all_a", 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := m.Rebalance(tc.p, rand.New(rand.NewPCG(1, 2)))
			require.NoError(t, err)
			got, ok := out.TrueP()
			require.True(t, ok)
			assert.InDelta(t, tc.p, got, 0.03)
		})
	}

	_, err := m.Rebalance(1.5, rand.New(rand.NewPCG(1, 2)))
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	m := fixture(t)
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Matrix
	require.NoError(t, json.Unmarshal(data, &decoded))

	if diff := cmp.Diff(m.Raters(), decoded.Raters()); diff != "" {
		t.Errorf("raters mismatch (-want +got):\n%s", diff)
	}
	for i := 0; i < m.Len(); i++ {
		if diff := cmp.Diff(m.Row(i), decoded.Row(i)); diff != "" {
			t.Errorf("row %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestParseVote(t *testing.T) {
	testCases := []struct {
		input     string
		expected  Vote
		expectErr bool
	}{
		{"A", VoteA, false},
		{" model_b ", VoteB, false},
		{"tie", VoteTie, false},
		{"", VoteMissing, false},
		{"maybe", VoteMissing, true},
	}
	for _, tc := range testCases {
		got, err := ParseVote(tc.input)
		if tc.expectErr {
			if err == nil {
				t.Errorf("ParseVote(%q) expected error", tc.input)
			}
			continue
		}
		if err != nil || got != tc.expected {
			t.Errorf("ParseVote(%q) = %v, %v; want %v", tc.input, got, err, tc.expected)
		}
	}

	l, err := ParseLabel("tie")
	require.NoError(t, err)
	assert.Equal(t, LabelUnknown, l)
}
