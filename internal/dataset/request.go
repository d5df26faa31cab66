package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/votes"
)

// PriorUsage says how the labelled data is used downstream.
type PriorUsage string

const (
	UsageQPrior     PriorUsage = "q_prior"
	UsageGoldLabels PriorUsage = "gold_labels"
)

// OODSource picks the comparisons that supply out-of-distribution truth.
type OODSource string

const (
	OODExcludeGenerators OODSource = "exclude_generators"
	OODAllOthers         OODSource = "all_others"
)

// Request selects the matrices for one comparison.
type Request struct {
	ModelA string `json:"model_a"`
	ModelB string `json:"model_b"`
	// UseOODQ takes the truth matrix from other comparisons.
	UseOODQ bool `json:"use_ood_q"`
	// QPriorDataRatio is the share of tasks exposed as truth. Nil exposes
	// every labelled task.
	QPriorDataRatio *float64   `json:"q_prior_data_ratio,omitempty"`
	QPriorDataUsage PriorUsage `json:"q_prior_data_usage"`
	// LoadCache reads matrices from the cache when present.
	LoadCache bool `json:"-"`
	// DatasetP rebalances the pair so the share of A wins is DatasetP.
	DatasetP        *float64  `json:"dataset_p,omitempty"`
	QPriorOODSource OODSource `json:"q_prior_ood_source"`
	Seed            uint64    `json:"seed"`
}

// Comparison is the request's pair in "A___B" form.
func (r Request) Comparison() string {
	return r.ModelA + "___" + r.ModelB
}

// Validate checks the request fields that do not depend on the source.
func (r Request) Validate() error {
	if r.ModelA == "" || r.ModelB == "" || r.ModelA == r.ModelB {
		return errkind.Configurationf("comparison %q needs two distinct models", r.Comparison())
	}
	if r.QPriorDataRatio != nil && !(*r.QPriorDataRatio > 0 && *r.QPriorDataRatio <= 1) {
		return errkind.Configurationf("q prior data ratio %v outside (0,1]", *r.QPriorDataRatio)
	}
	if r.DatasetP != nil && !(*r.DatasetP >= 0 && *r.DatasetP <= 1) {
		return errkind.Configurationf("dataset p %v outside [0,1]", *r.DatasetP)
	}
	switch r.QPriorDataUsage {
	case "", UsageQPrior, UsageGoldLabels:
	default:
		return errkind.Configurationf("unknown q prior data usage %q", r.QPriorDataUsage)
	}
	switch r.QPriorOODSource {
	case "", OODAllOthers, OODExcludeGenerators:
	default:
		return errkind.Configurationf("unknown q prior ood source %q", r.QPriorOODSource)
	}
	return nil
}

// Key is the content address of the matrices this request yields from the
// named dataset.
func (r Request) Key(dataset string) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	sum := sha256.Sum256(append([]byte(dataset+"\n"), body...))
	return hex.EncodeToString(sum[:]), nil
}

// Source is a named supplier of annotations.
type Source interface {
	Name() string
	Generators(ctx context.Context) ([]string, error)
	Build(ctx context.Context, req Request) (voting, truth *votes.Matrix, err error)
}

// assemble applies the request to a table: pivot the pair, rebalance it,
// and carve the truth matrix from the pair or from other comparisons.
func assemble(t *Table, req Request) (voting, truth *votes.Matrix, err error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	pair, err := t.Pair(req.ModelA, req.ModelB)
	if err != nil {
		return nil, nil, fmt.Errorf("pivot %s: %w", req.Comparison(), err)
	}
	if pair.Empty() {
		return nil, nil, errkind.InsufficientDataf("no annotations for %s", req.Comparison())
	}
	rng := rand.New(rand.NewPCG(req.Seed, 0x5eed))
	voting = pair
	if req.DatasetP != nil {
		voting, err = pair.Rebalance(*req.DatasetP, rng)
		if err != nil {
			return nil, nil, errkind.InsufficientDataf("%s: %v", req.Comparison(), err)
		}
	}

	base := voting
	if req.UseOODQ {
		source := req.QPriorOODSource
		if source == "" {
			source = OODAllOthers
		}
		base, err = t.Others(req.ModelA, req.ModelB, source)
		if err != nil {
			return nil, nil, fmt.Errorf("ood truth for %s: %w", req.Comparison(), err)
		}
	}
	truth = base.Labelled()
	if req.QPriorDataRatio != nil {
		truth = sampleTasks(truth, *req.QPriorDataRatio, rng)
	}
	return voting, truth, nil
}

// sampleTasks keeps ratio of the distinct tasks, chosen at random, with at
// least one task when any exist.
func sampleTasks(m *votes.Matrix, ratio float64, rng *rand.Rand) *votes.Matrix {
	tasks := m.Tasks()
	n := int(math.Round(ratio * float64(len(tasks))))
	if n < 1 && len(tasks) > 0 {
		n = 1
	}
	rng.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })
	keep := make(map[string]bool, n)
	for _, task := range tasks[:n] {
		keep[task] = true
	}
	return m.OnlyTasks(keep)
}
