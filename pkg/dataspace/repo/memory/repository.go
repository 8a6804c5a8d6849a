package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// Repository implements dataspace.SpaceRepository using in-memory storage
type Repository struct {
	mu       sync.RWMutex
	spaces   map[string]*dataspace.DataSpace
	byMember map[string]map[string]struct{} // principal -> space IDs
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		spaces:   make(map[string]*dataspace.DataSpace),
		byMember: make(map[string]map[string]struct{}),
	}
}

func (r *Repository) CreateSpace(ctx context.Context, space *dataspace.DataSpace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.spaces[space.ID]; exists {
		return dataspace.ErrSpaceExists
	}
	r.store(space)
	return nil
}

func (r *Repository) GetSpace(ctx context.Context, id string) (*dataspace.DataSpace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	space, exists := r.spaces[id]
	if !exists {
		return nil, dataspace.ErrSpaceNotFound
	}
	// Return a copy to prevent external modifications
	return space.Clone(), nil
}

func (r *Repository) SaveSpace(ctx context.Context, space *dataspace.DataSpace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.spaces[space.ID]; !exists {
		return dataspace.ErrSpaceNotFound
	}
	r.unindex(space.ID)
	r.store(space)
	return nil
}

func (r *Repository) DeleteSpace(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.spaces[id]; !exists {
		return dataspace.ErrSpaceNotFound
	}
	r.unindex(id)
	delete(r.spaces, id)
	return nil
}

func (r *Repository) ListSpaces(ctx context.Context) ([]*dataspace.DataSpace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*dataspace.DataSpace, 0, len(r.spaces))
	for _, space := range r.spaces {
		result = append(result, space.Clone())
	}
	sortByCreated(result)
	return result, nil
}

func (r *Repository) ListSpacesByMember(ctx context.Context, principal string) ([]*dataspace.DataSpace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*dataspace.DataSpace
	for id := range r.byMember[principal] {
		result = append(result, r.spaces[id].Clone())
	}
	sortByCreated(result)
	return result, nil
}

// store saves a copy of space and indexes its members. Callers hold the lock.
func (r *Repository) store(space *dataspace.DataSpace) {
	stored := space.Clone()
	r.spaces[stored.ID] = stored
	for _, m := range stored.Members {
		if r.byMember[m.Principal] == nil {
			r.byMember[m.Principal] = make(map[string]struct{})
		}
		r.byMember[m.Principal][stored.ID] = struct{}{}
	}
}

func (r *Repository) unindex(id string) {
	old, exists := r.spaces[id]
	if !exists {
		return
	}
	for _, m := range old.Members {
		delete(r.byMember[m.Principal], id)
		if len(r.byMember[m.Principal]) == 0 {
			delete(r.byMember, m.Principal)
		}
	}
}

func sortByCreated(spaces []*dataspace.DataSpace) {
	sort.Slice(spaces, func(i, j int) bool {
		if !spaces[i].CreatedAt.Equal(spaces[j].CreatedAt) {
			return spaces[i].CreatedAt.Before(spaces[j].CreatedAt)
		}
		return spaces[i].ID < spaces[j].ID
	})
}
