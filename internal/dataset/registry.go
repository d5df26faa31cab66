package dataset

import (
	"sort"
	"sync"

	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/fsutil"
)

// Options carry what a source constructor may need.
type Options struct {
	FS fsutil.FileSystem
	// AnnotationsPath is the CSV read by the Annotated source.
	AnnotationsPath string
	Random          RandomConfig
}

// Definition describes a registered source.
type Definition struct {
	Name        string                        `json:"name"`
	Description string                        `json:"description"`
	New         func(Options) (Source, error) `json:"-"`
}

// Registry holds source constructors by name.
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

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open constructs the named source.
func (r *Registry) Open(name string, opts Options) (Source, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, errkind.Configurationf("unknown dataset %q", name)
	}
	src, err := def.New(opts)
	if err != nil {
		return nil, errkind.Configurationf("dataset %s: %v", name, err)
	}
	return src, nil
}

// DefaultRegistry returns the built-in sources.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&Definition{
		Name:        "RandomSamples",
		Description: "Seeded synthetic crowd over generators of known strength.",
		New: func(o Options) (Source, error) {
			cfg := o.Random
			if len(cfg.Strengths) == 0 {
				cfg = DefaultRandomConfig()
			}
			return NewRandomSamples(cfg)
		},
	})
	reg.Register(&Definition{
		Name:        "Annotated",
		Description: "Long-format CSV of task, model pair, rater, vote and gold label.",
		New: func(o Options) (Source, error) {
			if o.AnnotationsPath == "" {
				return nil, errkind.Configurationf("annotations path is required")
			}
			fs := o.FS
			if fs == nil {
				fs = fsutil.OSFileSystem{}
			}
			return NewAnnotated(fs, o.AnnotationsPath), nil
		},
	})
	return reg
}
