package pipeline

import (
	"strings"

	"github.com/banshee-data/winrate/internal/errkind"
)

// PairSeparator joins the two model names of a comparison.
const PairSeparator = "___"

// AllModels is the compare-models keyword for "every generator".
const AllModels = "All"

// Comparison is an ordered model pair. A wins are wins for ModelA.
type Comparison struct {
	ModelA string `json:"model_a"`
	ModelB string `json:"model_b"`
}

func (c Comparison) String() string {
	return c.ModelA + PairSeparator + c.ModelB
}

// TargetKind says how a target expands into comparisons.
type TargetKind int

const (
	// TargetAll compares every unordered pair of generators.
	TargetAll TargetKind = iota
	// TargetBaseline compares one baseline against every other generator.
	TargetBaseline
	// TargetPair compares a single pair.
	TargetPair
)

// Target is a parsed compare-models value.
type Target struct {
	Kind     TargetKind
	Baseline string
	Pair     Comparison
}

// ParseTarget parses "All", "X___All" (or "All___X") and "X___Y".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == AllModels {
		return Target{Kind: TargetAll}, nil
	}
	parts := strings.Split(s, PairSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Target{}, errkind.Configurationf("compare models %q: want All, X%sAll or X%sY", s, PairSeparator, PairSeparator)
	}
	switch {
	case parts[0] == AllModels && parts[1] == AllModels:
		return Target{Kind: TargetAll}, nil
	case parts[1] == AllModels:
		return Target{Kind: TargetBaseline, Baseline: parts[0]}, nil
	case parts[0] == AllModels:
		return Target{Kind: TargetBaseline, Baseline: parts[1]}, nil
	case parts[0] == parts[1]:
		return Target{}, errkind.Configurationf("compare models %q: a model cannot be compared with itself", s)
	}
	return Target{Kind: TargetPair, Pair: Comparison{ModelA: parts[0], ModelB: parts[1]}}, nil
}

// Comparisons expands the target over the dataset's generators, in
// generator order.
func (t Target) Comparisons(generators []string) ([]Comparison, error) {
	known := make(map[string]bool, len(generators))
	for _, g := range generators {
		known[g] = true
	}
	var out []Comparison
	switch t.Kind {
	case TargetAll:
		for i := 0; i < len(generators); i++ {
			for j := i + 1; j < len(generators); j++ {
				out = append(out, Comparison{ModelA: generators[i], ModelB: generators[j]})
			}
		}
	case TargetBaseline:
		if !known[t.Baseline] {
			return nil, errkind.Configurationf("unknown baseline model %q", t.Baseline)
		}
		for _, g := range generators {
			if g != t.Baseline {
				out = append(out, Comparison{ModelA: t.Baseline, ModelB: g})
			}
		}
	case TargetPair:
		for _, m := range []string{t.Pair.ModelA, t.Pair.ModelB} {
			if !known[m] {
				return nil, errkind.Configurationf("unknown model %q", m)
			}
		}
		out = append(out, t.Pair)
	}
	if len(out) == 0 {
		return nil, errkind.InsufficientDataf("no comparisons: dataset has %d generators", len(generators))
	}
	return out, nil
}
