package provider

import (
	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
)

// Registry maps provider ids to their adapters.
type Registry struct {
	providers map[domain.ProviderID]out.CalendarProvider
	order     []out.CalendarProvider
}

func NewRegistry(providers ...out.CalendarProvider) *Registry {
	r := &Registry{providers: make(map[domain.ProviderID]out.CalendarProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
		r.order = append(r.order, p)
	}
	return r
}

func (r *Registry) Provider(id domain.ProviderID) (out.CalendarProvider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, apperr.NotFound("provider " + string(id))
	}
	return p, nil
}

func (r *Registry) Providers() []out.CalendarProvider {
	return r.order
}

var _ out.ProviderRegistry = (*Registry)(nil)
