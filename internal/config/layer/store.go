package layer

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Entry describes a value stored in one scope.
type Entry struct {
	Key      string
	Value    any
	Scope    Scope
	Modified time.Time
	Source   string
}

// Mutation records a single committed write to the store.
// The store never notifies; callers feed mutations to a notifier.
type Mutation struct {
	Key      string
	Scope    Scope
	OldValue any
	NewValue any
	// Existed reports whether the key held a value before the write.
	Existed bool
	// Deleted reports whether the write removed the key.
	Deleted bool
}

type entryMeta struct {
	modified time.Time
	source   string
}

// Store holds one nested map per scope.
//
// Store is safe for concurrent use. Every multi-key operation (Replace,
// ReplaceMany, Overlay) is applied under a single write lock so readers
// never observe a partially applied write.
type Store struct {
	mu     sync.RWMutex
	scopes [scopeCount]map[string]any
	meta   [scopeCount]map[string]entryMeta
	rev    uint64
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source used for entry timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for i := range s.scopes {
		s.scopes[i] = make(map[string]any)
		s.meta[i] = make(map[string]entryMeta)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the value stored at key in scope.
func (s *Store) Get(scope Scope, key string) (any, bool) {
	if !scope.Valid() {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := GetByPath(s.scopes[scope], key)
	if !ok {
		return nil, false
	}
	return CloneValue(v), true
}

// Entry returns the value and metadata stored at key in scope.
// Metadata is taken from the closest ancestor key that was written directly.
func (s *Store) Entry(scope Scope, key string) (Entry, bool) {
	if !scope.Valid() {
		return Entry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := GetByPath(s.scopes[scope], key)
	if !ok {
		return Entry{}, false
	}
	e := Entry{Key: key, Value: CloneValue(v), Scope: scope}
	for k := key; k != ""; k = parentKey(k) {
		if m, ok := s.meta[scope][k]; ok {
			e.Modified = m.modified
			e.Source = m.source
			break
		}
	}
	return e, true
}

// Set stores value at key in scope. The value is stored as given; callers
// are expected to pass normalized values.
func (s *Store) Set(scope Scope, key string, value any, source string) (Mutation, error) {
	if !scope.Valid() {
		return Mutation{}, fmt.Errorf("%w: %d", ErrUnknownScope, scope)
	}
	if err := ValidateEntry(key, value); err != nil {
		return Mutation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.scopes[scope]
	old, existed := GetByPath(data, key)
	if err := SetByPath(data, key, CloneValue(value)); err != nil {
		return Mutation{}, err
	}
	s.touch(scope, key, source)

	return Mutation{
		Key:      key,
		Scope:    scope,
		OldValue: old,
		NewValue: CloneValue(value),
		Existed:  existed,
	}, nil
}

// Delete removes key from scope. The boolean reports whether the key existed.
func (s *Store) Delete(scope Scope, key string) (Mutation, bool, error) {
	if !scope.Valid() {
		return Mutation{}, false, fmt.Errorf("%w: %d", ErrUnknownScope, scope)
	}
	if err := ValidateKey(key); err != nil {
		return Mutation{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := DeleteByPath(s.scopes[scope], key)
	if !existed {
		return Mutation{}, false, nil
	}
	for k := range s.meta[scope] {
		if k == key || IsParentKey(key, k) {
			delete(s.meta[scope], k)
		}
	}
	s.rev++

	return Mutation{
		Key:      key,
		Scope:    scope,
		OldValue: old,
		Existed:  true,
		Deleted:  true,
	}, true, nil
}

// Keys returns the flattened leaf keys of scope in lexical order.
func (s *Store) Keys(scope Scope) []string {
	if !scope.Valid() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SortedKeys(s.scopes[scope])
}

// Len returns the number of leaf keys in scope.
func (s *Store) Len(scope Scope) int {
	if !scope.Valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(FlattenMap(s.scopes[scope]))
}

// Snapshot returns a deep copy of the nested map for scope.
func (s *Store) Snapshot(scope Scope) map[string]any {
	if !scope.Valid() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneMap(s.scopes[scope])
}

// SnapshotAll returns deep copies of every scope.
func (s *Store) SnapshotAll() map[Scope]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Scope]map[string]any, scopeCount)
	for _, scope := range Scopes {
		out[scope] = CloneMap(s.scopes[scope])
	}
	return out
}

// Replace atomically swaps the contents of scope for data and returns one
// mutation per leaf key that changed.
func (s *Store) Replace(scope Scope, data map[string]any, source string) ([]Mutation, error) {
	return s.ReplaceMany(map[Scope]map[string]any{scope: data}, source)
}

// ReplaceMany atomically swaps the contents of several scopes.
// Scopes absent from data are left untouched.
func (s *Store) ReplaceMany(data map[Scope]map[string]any, source string) ([]Mutation, error) {
	for scope, tree := range data {
		if !scope.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownScope, scope)
		}
		if err := ValidateTree(tree); err != nil {
			return nil, fmt.Errorf("scope %s: %w", scope, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var muts []Mutation
	for _, scope := range Scopes {
		next, ok := data[scope]
		if !ok {
			continue
		}
		next = CloneMap(next)
		if next == nil {
			next = make(map[string]any)
		}

		for _, d := range DiffMaps(s.scopes[scope], next) {
			muts = append(muts, Mutation{
				Key:      d.Key,
				Scope:    scope,
				OldValue: d.OldValue,
				NewValue: d.NewValue,
				Existed:  d.Existed,
				Deleted:  d.Removed,
			})
		}

		s.scopes[scope] = next
		s.meta[scope] = make(map[string]entryMeta)
		for _, key := range SortedKeys(next) {
			s.meta[scope][key] = entryMeta{modified: s.now(), source: source}
		}
	}
	s.rev++

	return muts, nil
}

// Overlay writes every leaf key of data into scope, leaving other keys in
// place. Incoming values win per key. Keys are applied in lexical order.
func (s *Store) Overlay(scope Scope, data map[string]any, source string) ([]Mutation, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScope, scope)
	}

	flat := FlattenMap(data)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		if err := ValidateKey(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Work on a copy so a path conflict leaves the scope untouched.
	next := CloneMap(s.scopes[scope])
	var muts []Mutation
	for _, key := range keys {
		val := CloneValue(flat[key])
		old, existed := GetByPath(next, key)
		if err := SetByPath(next, key, val); err != nil {
			return nil, err
		}
		if existed && ValuesEqual(old, val) {
			continue
		}
		muts = append(muts, Mutation{Key: key, Scope: scope, OldValue: old, NewValue: val, Existed: existed})
	}

	s.scopes[scope] = next
	for _, m := range muts {
		s.touch(scope, m.Key, source)
	}
	s.rev++
	return muts, nil
}

// touch records entry metadata; must be called with the write lock held.
func (s *Store) touch(scope Scope, key, source string) {
	s.meta[scope][key] = entryMeta{modified: s.now(), source: source}
	s.rev++
}

func parentKey(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[:i]
		}
	}
	return ""
}
