package reliability

import (
	"sort"
	"sync"

	"github.com/banshee-data/winrate/internal/errkind"
)

// NoEstimator is the reserved name meaning "skip q estimation".
const NoEstimator = "None"

// Definition describes a registered q estimator.
type Definition struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Model       Model     `json:"model"`
	Estimator   Estimator `json:"-"`
}

// Info is a summary of a registered estimator.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Model       string `json:"model"`
}

// Registry holds registered estimator definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition, replacing any with the same name.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Lookup returns the estimator registered under name.
func (r *Registry) Lookup(name string) (Estimator, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, errkind.Configurationf("unknown q estimator %q", name)
	}
	return def.Estimator, nil
}

// Known reports whether name is registered or is the reserved None.
func (r *Registry) Known(name string) bool {
	if name == NoEstimator {
		return true
	}
	_, ok := r.Get(name)
	return ok
}

// List returns every registered estimator sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.defs))
	for _, def := range r.defs {
		infos = append(infos, Info{
			Name:        def.Name,
			Version:     def.Version,
			Description: def.Description,
			Model:       def.Model.String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// DefaultRegistry returns a registry pre-loaded with the built-in estimators.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&Definition{
		Name:        "BetaBernoulli",
		Version:     "v1",
		Description: "Per rater, per class Beta(1+correct, 1+wrong) posterior.",
		Model:       ConfusionMatrix,
		Estimator:   BetaBernoulli{},
	})
	reg.Register(&Definition{
		Name:        "Scalar",
		Version:     "v1",
		Description: "BetaBernoulli posterior mean as a point value.",
		Model:       ConfusionMatrix,
		Estimator:   Scalar{},
	})
	reg.Register(&Definition{
		Name:        "OneCoinBetaBernoulli",
		Version:     "v1",
		Description: "One Beta posterior shared by every rater and class.",
		Model:       OneCoin,
		Estimator:   OneCoinBetaBernoulli{},
	})
	return reg
}
