// Package votes holds the voting and truth matrices that every estimation
// stage reads. Matrices are immutable once built: slicing helpers always
// return deep copies so folds and parallel chains never share rows.
package votes

import (
	"fmt"
	"strings"
)

// Vote is a single rater's report on one task.
type Vote int8

const (
	// VoteMissing means the rater did not see the task.
	VoteMissing Vote = iota
	// VoteA prefers the first model of the comparison.
	VoteA
	// VoteB prefers the second model of the comparison.
	VoteB
	// VoteTie reports no preference. Ties abstain in the binary model.
	VoteTie
)

// Counts reports whether the vote takes part in the binary model.
func (v Vote) Counts() bool {
	return v == VoteA || v == VoteB
}

// Matches reports whether the vote agrees with the truth label.
func (v Vote) Matches(l Label) bool {
	return (v == VoteA && l == LabelA) || (v == VoteB && l == LabelB)
}

func (v Vote) String() string {
	switch v {
	case VoteA:
		return "A"
	case VoteB:
		return "B"
	case VoteTie:
		return "tie"
	default:
		return ""
	}
}

// ParseVote accepts the spellings found in annotation exports.
func ParseVote(s string) (Vote, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "none", "null":
		return VoteMissing, nil
	case "a", "1", "model_a", "output_1":
		return VoteA, nil
	case "b", "0", "model_b", "output_2":
		return VoteB, nil
	case "tie", "draw", "0.5", "equal":
		return VoteTie, nil
	}
	return VoteMissing, fmt.Errorf("invalid vote %q", s)
}

// Label is the gold outcome of a task, when known.
type Label int8

const (
	LabelUnknown Label = iota
	LabelA
	LabelB
)

// Known reports whether the label carries a gold outcome.
func (l Label) Known() bool {
	return l == LabelA || l == LabelB
}

// Flip swaps A and B, used when a pair is stored in the reverse order.
func (l Label) Flip() Label {
	switch l {
	case LabelA:
		return LabelB
	case LabelB:
		return LabelA
	}
	return l
}

func (l Label) String() string {
	switch l {
	case LabelA:
		return "A"
	case LabelB:
		return "B"
	default:
		return ""
	}
}

// ParseLabel parses a gold column. Ties and blanks are unknown.
func ParseLabel(s string) (Label, error) {
	v, err := ParseVote(s)
	if err != nil {
		return LabelUnknown, fmt.Errorf("invalid label %q", s)
	}
	switch v {
	case VoteA:
		return LabelA, nil
	case VoteB:
		return LabelB, nil
	}
	return LabelUnknown, nil
}

// Flip swaps A and B votes and leaves abstentions alone.
func (v Vote) Flip() Vote {
	switch v {
	case VoteA:
		return VoteB
	case VoteB:
		return VoteA
	}
	return v
}
