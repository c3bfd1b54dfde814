// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package providers

import (
	"sort"
	"sync"

	"github.com/agext/levenshtein"
)

// Registry is the process-wide mapping from resource-type identifier to
// provider (spec.md §4.1). It is built once at startup by registering every
// provider and is safe to read concurrently from many stack deployments
// afterward.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Interface
}

// NewRegistry returns an empty registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Interface)}
}

// Register publishes a provider under its own TypeName. Registering the
// same type twice replaces the previous entry, which is convenient for
// tests that need to stub a provider.
func (r *Registry) Register(p Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.TypeName()] = p
}

// Lookup returns the provider registered for typeName, or ok=false if none
// is registered. Nothing registers or special-cases the reserved type
// "Parameter", so it is never found here and the deployment loop skips a
// resource of that type like any other unregistered type.
func (r *Registry) Lookup(typeName string) (Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[typeName]
	return p, ok
}

// TypeNames returns every registered type name, sorted, mostly for test
// assertions and for building "did you mean" suggestions.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Suggest returns the closest registered type name to typeName, or "" if
// nothing is close enough to be worth suggesting. It is purely a logging/
// error-message convenience, not used for dispatch.
func (r *Registry) Suggest(typeName string) string {
	names := r.TypeNames()
	best := ""
	bestScore := 0.0
	for _, candidate := range names {
		score := levenshtein.Match(typeName, candidate, nil)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if bestScore < 0.5 {
		return ""
	}
	return best
}
