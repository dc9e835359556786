package layer

import "sync"

// Resolver computes effective values across the scopes of a Store.
type Resolver struct {
	store *Store

	mu        sync.Mutex
	merged    map[string]any // cached effective configuration
	mergedRev uint64
	cached    bool
}

// NewResolver creates a resolver over store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the effective value for key and the scope that supplied it.
// Scopes are consulted from TEMPORARY down to GLOBAL; the first present
// value wins. A scalar stored above key in a higher scope hides key in
// every lower scope.
func (r *Resolver) Resolve(key string) (any, Scope, bool) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for i := len(Scopes) - 1; i >= 0; i-- {
		scope := Scopes[i]
		if v, ok := GetByPath(r.store.scopes[scope], key); ok {
			return CloneValue(v), scope, true
		}
		if shadowed(r.store.scopes[scope], key) {
			return nil, 0, false
		}
	}
	return nil, 0, false
}

// shadowed reports whether data holds a non-map value at a proper prefix
// of key.
func shadowed(data map[string]any, key string) bool {
	parts := splitKey(key)
	current := data
	for _, part := range parts[:len(parts)-1] {
		v, ok := current[part]
		if !ok {
			return false
		}
		next, ok := v.(map[string]any)
		if !ok {
			return true
		}
		current = next
	}
	return false
}

// ResolveAllScopes returns the value held for key in every scope that has one.
func (r *Resolver) ResolveAllScopes(key string) map[Scope]any {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make(map[Scope]any)
	for _, scope := range Scopes {
		if v, ok := GetByPath(r.store.scopes[scope], key); ok {
			out[scope] = CloneValue(v)
		}
	}
	return out
}

// MergeEffective returns the effective configuration as a single nested map:
// every leaf key present in any scope is resolved and inserted.
// Results are cached until the store changes.
func (r *Resolver) MergeEffective() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store.mu.RLock()
	rev := r.store.rev
	if r.cached && r.mergedRev == rev {
		r.store.mu.RUnlock()
		return CloneMap(r.merged)
	}

	scopes := make(map[Scope]map[string]any, len(Scopes))
	for _, scope := range Scopes {
		scopes[scope] = r.store.scopes[scope]
	}
	merged := MergeScopes(scopes)
	r.store.mu.RUnlock()

	r.merged = merged
	r.mergedRev = rev
	r.cached = true
	return CloneMap(merged)
}

// WhichScope returns the scope supplying the effective value for key.
func (r *Resolver) WhichScope(key string) (Scope, bool) {
	_, scope, ok := r.Resolve(key)
	return scope, ok
}

// MergeScopes merges scope trees into the effective configuration. A leaf
// is taken from the highest scope that sets it, unless a higher scope sets
// one of its ancestors or descendants: a higher scalar hides a lower
// subtree and a higher subtree hides a lower scalar, as in Resolve.
func MergeScopes(scopes map[Scope]map[string]any) map[string]any {
	leaves := make(map[string]any)
	taken := make(map[string]bool)    // leaves of higher scopes, hidden or not
	interior := make(map[string]bool) // proper prefixes of taken leaves

	for i := len(Scopes) - 1; i >= 0; i-- {
		flat := FlattenMap(scopes[Scopes[i]])
		for key, val := range flat {
			if taken[key] || interior[key] || hasTakenAncestor(key, taken) {
				continue
			}
			leaves[key] = val
		}
		for key := range flat {
			taken[key] = true
			for j := len(key) - 1; j > 0; j-- {
				if key[j] == '.' {
					interior[key[:j]] = true
				}
			}
		}
	}
	return UnflattenMap(leaves)
}

func hasTakenAncestor(key string, taken map[string]bool) bool {
	for i := len(key) - 1; i > 0; i-- {
		if key[i] == '.' && taken[key[:i]] {
			return true
		}
	}
	return false
}
