// Package resource stores data space records as JSON resources in the same
// remote store that holds the audit log, for deployments with no database.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// DefaultContainer is the registry container used when none is given.
const DefaultContainer = "registry/spaces"

// Repository implements dataspace.SpaceRepository on a dataspace.ResourceStore.
// Every call acts as the session in ctx, so the registry container's ACL
// decides who may read and write records.
type Repository struct {
	store     dataspace.ResourceStore
	container string
}

// New creates a repository keeping one resource per space in container.
func New(store dataspace.ResourceStore, container string) *Repository {
	if container == "" {
		container = DefaultContainer
	}
	return &Repository{store: store, container: strings.Trim(container, "/")}
}

// Container returns the registry container.
func (r *Repository) Container() string {
	return r.container
}

func (r *Repository) name(id string) string {
	return r.container + "/" + id + ".json"
}

func (r *Repository) CreateSpace(ctx context.Context, space *dataspace.DataSpace) error {
	if err := validID(space.ID); err != nil {
		return err
	}
	data, err := json.Marshal(space)
	if err != nil {
		return err
	}
	err = r.store.Create(ctx, r.name(space.ID), data)
	if errors.Is(err, dataspace.ErrResourceExists) {
		return dataspace.ErrSpaceExists
	}
	return err
}

func (r *Repository) GetSpace(ctx context.Context, id string) (*dataspace.DataSpace, error) {
	if err := validID(id); err != nil {
		return nil, dataspace.ErrSpaceNotFound
	}
	return r.read(ctx, r.name(id))
}

func (r *Repository) SaveSpace(ctx context.Context, space *dataspace.DataSpace) error {
	if _, err := r.GetSpace(ctx, space.ID); err != nil {
		return err
	}
	data, err := json.Marshal(space)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, r.name(space.ID), data)
}

func (r *Repository) DeleteSpace(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return dataspace.ErrSpaceNotFound
	}
	err := r.store.Delete(ctx, r.name(id))
	if errors.Is(err, dataspace.ErrResourceNotFound) {
		return dataspace.ErrSpaceNotFound
	}
	return err
}

// ListSpaces reads every record in the registry. Records that fail to decode
// are skipped.
func (r *Repository) ListSpaces(ctx context.Context) ([]*dataspace.DataSpace, error) {
	ids, err := r.store.List(ctx, r.container)
	if errors.Is(err, dataspace.ErrResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var spaces []*dataspace.DataSpace
	for _, id := range ids {
		if path.Dir(id) != r.container || path.Ext(id) != ".json" {
			continue
		}
		space, err := r.read(ctx, id)
		if errors.Is(err, dataspace.ErrSpaceNotFound) || errors.Is(err, errCorrupt) {
			continue
		}
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, space)
	}
	sort.Slice(spaces, func(i, j int) bool {
		if !spaces[i].CreatedAt.Equal(spaces[j].CreatedAt) {
			return spaces[i].CreatedAt.Before(spaces[j].CreatedAt)
		}
		return spaces[i].ID < spaces[j].ID
	})
	return spaces, nil
}

// ListSpacesByMember filters ListSpaces; the store has no index to query.
func (r *Repository) ListSpacesByMember(ctx context.Context, principal string) ([]*dataspace.DataSpace, error) {
	all, err := r.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	var spaces []*dataspace.DataSpace
	for _, space := range all {
		if _, ok := space.Member(principal); ok {
			spaces = append(spaces, space)
		}
	}
	return spaces, nil
}

var errCorrupt = errors.New("corrupt space record")

func (r *Repository) read(ctx context.Context, name string) (*dataspace.DataSpace, error) {
	data, err := r.store.Get(ctx, name)
	if errors.Is(err, dataspace.ErrResourceNotFound) {
		return nil, dataspace.ErrSpaceNotFound
	}
	if err != nil {
		return nil, err
	}
	var space dataspace.DataSpace
	if err := json.Unmarshal(data, &space); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errCorrupt, name, err)
	}
	return &space, nil
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("invalid space id %q", id)
	}
	return nil
}
