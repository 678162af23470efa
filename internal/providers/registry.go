package providers

import (
	"fmt"
	"sort"
	"strings"

	"factnews/internal/common/config"
	"factnews/internal/common/logger"
)

// Registry holds one Provider instance per configured service, keyed by
// provider id. Selection by configuration, not inheritance.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds every provider named in the configuration.
func NewRegistry(cfgs map[string]config.ProviderConfig, log logger.Logger) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(cfgs))}
	for name, cfg := range cfgs {
		r.providers[name] = NewOpenAICompat(name, cfg, log)
	}
	return r
}

// Register installs or replaces a provider. Tests use this to inject
// stubs behind real roster names.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns a provider by id.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q; available: %s", name, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

// Names lists registered provider ids in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
