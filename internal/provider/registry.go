package provider

import (
	"fmt"
	"sort"
)

// Registry holds the known provider descriptors.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry returns the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{providers: map[string]*Provider{}}
	for _, p := range []*Provider{
		codexProvider(),
		claudeProvider(),
		geminiProvider(),
		antigravityProvider(),
		cursorProvider(),
	} {
		r.providers[p.Name] = p
	}
	return r
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Names returns the provider names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds or replaces a provider descriptor. Exposed so embedders
// can plug in custom providers next to the built-ins.
func (r *Registry) Register(p *Provider) {
	r.providers[p.Name] = p
}
