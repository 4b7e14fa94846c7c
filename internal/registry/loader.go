// Package registry is the fixed set of models this process knows about.
package registry

import (
	"sort"

	"chatd/internal/common/fsutil"
	"chatd/internal/config"
)

// Model is a known model. Available records whether its weights file was
// present when the registry was built; it is not refreshed afterwards.
type Model struct {
	ID        string
	Config    config.ModelConfig
	Available bool
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	models map[string]Model
	ids    []string
}

// Build snapshots the configured models and checks their weights on disk.
func Build(models map[string]config.ModelConfig) *Registry {
	r := &Registry{models: make(map[string]Model, len(models))}
	for id, mc := range models {
		r.models[id] = Model{ID: id, Config: mc, Available: fsutil.IsRegularFile(mc.Weights)}
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r
}

func (r *Registry) Lookup(id string) (Model, bool) {
	m, ok := r.models[id]
	return m, ok
}

// List returns every known model ordered by id.
func (r *Registry) List() []Model {
	out := make([]Model, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.models[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.ids) }
