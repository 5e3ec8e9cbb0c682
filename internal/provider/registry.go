// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// Registry holds the configured providers and picks one for a chat, falling
// back to the others in registration order when the preferred one is
// cooling down.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under name. Names are unique.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" || p == nil {
		return wardenerr.New(wardenerr.CodeProviderRequestInvalid, "provider name and implementation are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return wardenerr.New(wardenerr.CodeProviderConflict, "provider already registered",
			wardenerr.FieldProvider(name))
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, wardenerr.New(wardenerr.CodeProviderNotFound, "provider not registered",
			wardenerr.FieldProvider(name))
	}
	return p, nil
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Route returns preferred when it is available, otherwise the first
// available provider in registration order.
func (r *Registry) Route(ctx context.Context, preferred string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[preferred]
	order := slices.Clone(r.order)
	r.mu.RUnlock()

	if !ok {
		return nil, wardenerr.New(wardenerr.CodeProviderNotFound, "provider not registered",
			wardenerr.FieldProvider(preferred))
	}
	if p.Available(ctx) {
		return p, nil
	}

	for _, name := range order {
		if name == preferred {
			continue
		}
		fallback, _ := r.Get(name)
		if fallback != nil && fallback.Available(ctx) {
			slog.WarnContext(ctx, "provider unavailable, failing over",
				"provider", preferred,
				"fallback", name,
			)
			return fallback, nil
		}
	}
	return nil, wardenerr.New(wardenerr.CodeProviderUpstreamFailure, "no provider available",
		wardenerr.FieldProvider(preferred))
}

// Close closes every registered provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, name := range r.order {
		if err := r.providers[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.providers = make(map[string]Provider)
	r.order = nil
	if err := errors.Join(errs...); err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeProviderUpstreamFailure, "closing providers")
	}
	return nil
}
