package calibration

import (
	"sort"
	"sync"

	"github.com/banshee-data/winrate/internal/errkind"
)

// NoCalibrator is the reserved name meaning "use the estimated q as is".
const NoCalibrator = "None"

// Definition describes a registered calibrator.
type Definition struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Calibrator  Calibrator `json:"-"`
}

// Info is a summary of a registered calibrator.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Model       string `json:"model"`
	Bayesian    bool   `json:"bayesian"`
}

// Registry holds registered calibrators.
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

// Lookup returns the calibrator registered under name. NoCalibrator yields
// nil and no error.
func (r *Registry) Lookup(name string) (Calibrator, error) {
	if name == NoCalibrator {
		return nil, nil
	}
	def, ok := r.Get(name)
	if !ok {
		return nil, errkind.Configurationf("unknown q calibrator %q", name)
	}
	return def.Calibrator, nil
}

// Known reports whether name is registered or is the reserved None.
func (r *Registry) Known(name string) bool {
	if name == NoCalibrator {
		return true
	}
	_, ok := r.Get(name)
	return ok
}

// List returns every registered calibrator sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.defs))
	for _, def := range r.defs {
		infos = append(infos, Info{
			Name:        def.Name,
			Version:     def.Version,
			Description: def.Description,
			Model:       def.Calibrator.Model().String(),
			Bayesian:    def.Calibrator.Bayesian(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// DefaultRegistry returns a registry pre-loaded with the built-in calibrators.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&Definition{
		Name:        "BayesianDawidSkene",
		Version:     "v1",
		Description: "Gibbs sampler over latent truth, p and per-rater confusion coins.",
		Calibrator:  NewBayesianDawidSkene(),
	})
	reg.Register(&Definition{
		Name:        "OneCoinBayesianDawidSkene",
		Version:     "v1",
		Description: "Gibbs sampler with one correctness probability shared by all raters.",
		Calibrator:  NewOneCoinBayesianDawidSkene(),
	})
	reg.Register(&Definition{
		Name:        "DawidSkene",
		Version:     "v1",
		Description: "Expectation-maximisation point estimate of the confusion coins.",
		Calibrator:  DawidSkene{},
	})
	return reg
}
