package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// Backend is an in-memory implementation of the dataspace.ResourceStore interface.
// It performs no access control; wrap it in an acl.Guard for that.
type Backend struct {
	mu        sync.RWMutex
	resources map[string][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		resources: make(map[string][]byte),
	}
}

// Put creates or replaces a resource
func (b *Backend) Put(ctx context.Context, resource string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resources[resource] = append([]byte(nil), data...)
	return nil
}

// Create writes a new resource, failing if it exists
func (b *Backend) Create(ctx context.Context, resource string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.resources[resource]; exists {
		return dataspace.ErrResourceExists
	}
	b.resources[resource] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the resource contents
func (b *Backend) Get(ctx context.Context, resource string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.resources[resource]
	if !exists {
		return nil, dataspace.ErrResourceNotFound
	}
	return append([]byte(nil), data...), nil
}

// List returns every resource below container
func (b *Backend) List(ctx context.Context, container string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(container, "/") + "/"

	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []string
	for id := range b.resources {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes a resource
func (b *Backend) Delete(ctx context.Context, resource string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.resources[resource]; !exists {
		return dataspace.ErrResourceNotFound
	}
	delete(b.resources, resource)
	return nil
}

// Len returns the number of stored resources
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.resources)
}
