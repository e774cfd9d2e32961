package search

import (
	"log/slog"
	"slices"
	"strings"

	"subtitlehub/searchservice/internal/domain"
)

// Registry is the ordered, immutable set of providers a service fans out to.
// Registration order drives both the join order of a search and the order in
// which fetch ids are matched against provider keys.
type Registry struct {
	providers []Provider
	keys      []string
	byKey     map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	registry := &Registry{
		providers: make([]Provider, 0, len(providers)),
		keys:      make([]string, 0, len(providers)),
		byKey:     make(map[string]Provider, len(providers)),
	}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		key := providerKey(provider)
		if key == "" {
			continue
		}
		if _, exists := registry.byKey[strings.ToLower(key)]; exists {
			slog.Warn("duplicate provider key ignored", slog.String("provider", key))
			continue
		}
		for _, other := range registry.keys {
			if strings.HasPrefix(key, other) || strings.HasPrefix(other, key) {
				slog.Warn("provider keys overlap; fetch ids may resolve to the earlier provider",
					slog.String("provider", key),
					slog.String("conflictsWith", other),
				)
			}
		}
		registry.providers = append(registry.providers, provider)
		registry.keys = append(registry.keys, key)
		registry.byKey[strings.ToLower(key)] = provider
	}
	return registry
}

func (r *Registry) Len() int {
	return len(r.providers)
}

func (r *Registry) Providers() []Provider {
	return append([]Provider(nil), r.providers...)
}

func (r *Registry) Lookup(name string) (Provider, bool) {
	provider, ok := r.byKey[strings.ToLower(strings.TrimSpace(name))]
	return provider, ok
}

// Eligible returns the providers supporting contentType, in registration order.
func (r *Registry) Eligible(contentType domain.ContentType) []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, provider := range r.providers {
		if slices.Contains(provider.ContentTypes(), contentType) {
			out = append(out, provider)
		}
	}
	return out
}

// Resolve finds the first registered provider whose key prefixes id and
// returns it together with the provider-local remainder of the id.
func (r *Registry) Resolve(id string) (Provider, string, bool) {
	for i, key := range r.keys {
		if strings.HasPrefix(id, key) {
			return r.providers[i], strings.TrimPrefix(id, key), true
		}
	}
	return nil, "", false
}
