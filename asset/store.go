package asset

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrFingerprintCollision = errors.New("asset: fingerprint collision")
	ErrDuplicateAlias       = errors.New("asset: duplicate alias")
	ErrInvalidAlias         = errors.New("asset: alias must start with '/'")
)

// Resource is an immutable, pre-compressed blob served as-is.
type Resource struct {
	Name string
	Data []byte
}

func (resource *Resource) Len() int {
	return len(resource.Data)
}

// Entry routes one alias path to a resource. Several entries may share a resource.
type Entry struct {
	Alias    string
	Resource *Resource
}

func Alias(alias string, resource *Resource) Entry {
	return Entry{Alias: alias, Resource: resource}
}

type slot struct {
	alias    string
	resource *Resource
}

// Store maps request paths to resources. It is immutable after NewStore returns
// and safe for concurrent use without locking.
type Store struct {
	hash  func(s string) uint64
	table map[uint64]slot
}

func NewStore(entries ...Entry) (*Store, error) {
	return newStore(Fingerprint, entries...)
}

func newStore(hash func(s string) uint64, entries ...Entry) (*Store, error) {
	store := &Store{
		hash:  hash,
		table: make(map[uint64]slot, len(entries)),
	}

	for _, entry := range entries {
		if entry.Alias == "" || entry.Alias[0] != '/' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAlias, entry.Alias)
		}
		if entry.Resource == nil {
			return nil, fmt.Errorf("asset: alias %q has no resource", entry.Alias)
		}

		key := store.hash(entry.Alias)
		if existing, found := store.table[key]; found {
			if existing.alias == entry.Alias {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateAlias, entry.Alias)
			}
			return nil, fmt.Errorf("%w: %q and %q", ErrFingerprintCollision, existing.alias, entry.Alias)
		}

		store.table[key] = slot{alias: entry.Alias, resource: entry.Resource}
	}

	return store, nil
}

// Lookup returns the bytes routed to path. Unknown paths are reported absent, never as an error.
func (store *Store) Lookup(path string) ([]byte, bool) {
	s, found := store.table[store.hash(path)]
	if !found || s.alias != path {
		return nil, false
	}
	return s.resource.Data, true
}

// Paths returns every routed alias in sorted order.
func (store *Store) Paths() []string {
	paths := make([]string, 0, len(store.table))
	for _, s := range store.table {
		paths = append(paths, s.alias)
	}
	sort.Strings(paths)
	return paths
}

func (store *Store) Len() int {
	return len(store.table)
}
