package device

import (
	"fmt"
	"sort"
	"sync"
)

// RadioInfo pairs a driver name with its capabilities.
type RadioInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds the available radio drivers and resolves the configured one.
type Registry struct {
	mu     sync.RWMutex
	radios map[string]Radio
}

// NewRegistry creates an empty radio registry.
func NewRegistry() *Registry {
	return &Registry{
		radios: make(map[string]Radio),
	}
}

// Register adds a radio to the registry under the given name.
func (r *Registry) Register(name string, radio Radio) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.radios[name] = radio
}

// Resolve returns the radio registered under name.
func (r *Registry) Resolve(name string) (Radio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	radio, ok := r.radios[name]
	if !ok {
		return nil, fmt.Errorf("radio %q is not registered", name)
	}
	return radio, nil
}

// List returns information about all registered radios, sorted by name
// for a stable API response.
func (r *Registry) List() []RadioInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RadioInfo, 0, len(r.radios))
	for name, radio := range r.radios {
		infos = append(infos, RadioInfo{
			Name:         name,
			Capabilities: radio.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
