package aop

import (
	"fmt"
	"sort"
	"sync"
)

// Scope is the tenant-isolation boundary equivalent to a class-loader in a
// JVM-based aspect runtime: each tenant owns a Registry, and
// ResolveAcrossScopes adds the interceptors of every ancestor scope to the
// tenant's own; a tenant registration does not hide a parent-scope
// interceptor of the same name. Scopes form a one-level parent/child
// tree rooted at the process-wide root scope returned by NewRootScope.
type Scope struct {
	name   string
	parent *Scope
}

// NewRootScope creates the process-wide root tenant scope.
func NewRootScope() *Scope {
	return &Scope{name: "root"}
}

// NewChildScope creates a tenant scope whose Registry falls back to s.
func (s *Scope) NewChildScope(name string) *Scope {
	return &Scope{name: name, parent: s}
}

// DuplicateRegistrationError is returned when the same interceptor name is
// registered twice with a different Interceptor value.
type DuplicateRegistrationError struct {
	Name string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("aop: duplicate registration for interceptor %q", e.Name)
}

// registryEntry pairs an interceptor with the monotonic sequence number it
// was registered under, so ties in Order() can be broken by registration
// order rather than by map iteration or name.
type registryEntry struct {
	interceptor Interceptor
	sequence    int64
}

// Registry holds interceptors for one tenant scope: process-wide globals
// (applied to every proxied type) plus per-class registrations.
type Registry struct {
	mu     sync.RWMutex
	scope  *Scope
	seq    int64
	global map[string]registryEntry
	byType map[string]map[string]registryEntry
}

// NewRegistry creates a registry bound to scope. If scope has a parent, a
// Resolve call that finds nothing locally for a given method still only
// searches this registry's own entries — tenant isolation — but callers
// may use ResolveAcrossScopes to honour the "falls back to the parent
// scope" rule from the specification.
func NewRegistry(scope *Scope) *Registry {
	return &Registry{
		scope:  scope,
		global: make(map[string]registryEntry),
		byType: make(map[string]map[string]registryEntry),
	}
}

// RegisterGlobal adds an interceptor applied to all proxied types in this
// registry's scope. Registration is idempotent by name: registering the
// same name with an identical Interceptor value is a no-op; registering a
// different value under the same name fails.
func (r *Registry) RegisterGlobal(i Interceptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return registerInto(r.global, i, r.seq)
}

// RegisterForType adds an interceptor applied only to methods whose
// MethodDescriptor.Type equals typeName.
func (r *Registry) RegisterForType(typeName string, i Interceptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.byType[typeName]
	if !ok {
		bucket = make(map[string]registryEntry)
		r.byType[typeName] = bucket
	}
	r.seq++
	return registerInto(bucket, i, r.seq)
}

func registerInto(bucket map[string]registryEntry, i Interceptor, seq int64) error {
	if existing, ok := bucket[i.Name()]; ok {
		if existing.interceptor != i {
			return &DuplicateRegistrationError{Name: i.Name()}
		}
		return nil
	}
	bucket[i.Name()] = registryEntry{interceptor: i, sequence: seq}
	return nil
}

// Resolve returns the interceptors applicable to method, sorted by Order
// ascending and stable on ties (registration order is preserved by a
// stable sort over the order each interceptor was registered).
func (r *Registry) Resolve(method MethodDescriptor) []Interceptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := orderedValues(r.global, r.byType[method.Type])

	var applicable []Interceptor
	for _, i := range candidates {
		if i.Applies(method) {
			applicable = append(applicable, i)
		}
	}
	sort.SliceStable(applicable, func(a, b int) bool {
		return applicable[a].Order() < applicable[b].Order()
	})
	return applicable
}

// ResolveAcrossScopes resolves interceptors starting at the given scope's
// registry and walking up through parent scopes, honouring "falls back to
// the parent scope" from the specification. Parent-scope interceptors are
// appended after the tenant's own, then the whole set is stably sorted by
// Order.
func ResolveAcrossScopes(registries map[*Scope]*Registry, scope *Scope, method MethodDescriptor) []Interceptor {
	var all []Interceptor
	for s := scope; s != nil; s = s.parent {
		if reg, ok := registries[s]; ok {
			all = append(all, reg.Resolve(method)...)
		}
	}
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].Order() < all[b].Order()
	})
	return all
}

// orderedValues returns the values of all given maps, merged and sorted by
// registration sequence number (insertion order is not tracked by a Go map,
// so each entry carries its own sequence from when it was registered). The
// result feeds a later stable sort by Order(), so ties there are broken by
// registration order rather than by name or undefined map iteration order.
func orderedValues(maps ...map[string]registryEntry) []Interceptor {
	var entries []registryEntry
	for _, m := range maps {
		for _, e := range m {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].sequence < entries[b].sequence
	})
	values := make([]Interceptor, 0, len(entries))
	for _, e := range entries {
		values = append(values, e.interceptor)
	}
	return values
}
