// Package calculators provides the registry of known audio feature
// calculators. The registry is an explicit dependency passed to the diff
// engine and diagnostics store rather than ambient global state, so diff
// computation stays a pure function of its inputs.
package calculators

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Calculator describes one registered feature calculator.
type Calculator struct {
	ID         string
	Version    string
	FeatureKey string
	// Params are the resolved numeric parameters the calculator currently
	// runs with (window size, hop size, and so on). Cached feature tracks
	// computed under different values are considered stale.
	Params map[string]float64
}

func (c Calculator) clone() Calculator {
	out := c
	if c.Params != nil {
		out.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Registry is a mutex-guarded calculator lookup table.
type Registry struct {
	mu          sync.RWMutex
	calculators map[string]Calculator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{calculators: make(map[string]Calculator)}
}

// Register adds or replaces a calculator. The ID is required.
func (r *Registry) Register(calc Calculator) error {
	id := normalizeID(calc.ID)
	if id == "" {
		return errors.New("calculator id is required")
	}
	calc.ID = id
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calculators[id] = calc.clone()
	return nil
}

// Unregister removes a calculator by id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calculators, normalizeID(id))
}

// Lookup returns the calculator registered under id. The returned value is a
// copy; mutating it does not affect the registry.
func (r *Registry) Lookup(id string) (Calculator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	calc, ok := r.calculators[normalizeID(id)]
	if !ok {
		return Calculator{}, false
	}
	return calc.clone(), true
}

// List returns all registered calculators ordered by id.
func (r *Registry) List() []Calculator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Calculator, 0, len(r.calculators))
	for _, calc := range r.calculators {
		out = append(out, calc.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
