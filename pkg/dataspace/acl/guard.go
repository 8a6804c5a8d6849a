// Package acl enforces access control in front of a plain resource store.
//
// Access-control documents live beside the resources they protect, under a
// reserved prefix. A resource without its own document inherits the nearest
// ancestor's. A document is never seeded from its parent: the first SetAccess
// on a resource replaces everything it inherited, so callers granting
// themselves first keep control throughout.
//
// Modes:
//
//	Read    Get, List
//	Append  Create (never overwrites)
//	Write   Create, Put, Delete
//	Control GetAccess, SetAccess
package acl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

const (
	docPrefix = ".acl"
	docName   = ".acl"
)

// AllModes is the full set of access modes.
const AllModes = dataspace.ModeRead | dataspace.ModeAppend | dataspace.ModeWrite | dataspace.ModeControl

type document struct {
	Entries []dataspace.ACLEntry `json:"entries"`
}

// Guard wraps a ResourceStore and enforces the ACL of each resource against
// the session in the request context. It implements both
// dataspace.ResourceStore and dataspace.ACLClient.
type Guard struct {
	store        dataspace.ResourceStore
	personalRoot string
	logger       *slog.Logger

	mu sync.Mutex
}

// Option configures a Guard
type Option func(*Guard)

// WithPersonalRoot gives every principal full implicit control over
// <root>/<principal> and everything below it.
func WithPersonalRoot(root string) Option {
	return func(g *Guard) {
		g.personalRoot = strings.Trim(root, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a guard over store.
func New(store dataspace.ResourceStore, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, errors.New("resource store is required")
	}
	g := &Guard{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Put requires Write.
func (g *Guard) Put(ctx context.Context, resource string, data []byte) error {
	if err := g.authorize(ctx, "put", resource, func(m dataspace.Mode) bool { return m.Has(dataspace.ModeWrite) }); err != nil {
		return err
	}
	return g.store.Put(ctx, resource, data)
}

// Create requires Append or Write.
func (g *Guard) Create(ctx context.Context, resource string, data []byte) error {
	if err := g.authorize(ctx, "create", resource, dataspace.Mode.CanAppend); err != nil {
		return err
	}
	return g.store.Create(ctx, resource, data)
}

// Get requires Read.
func (g *Guard) Get(ctx context.Context, resource string) ([]byte, error) {
	if err := g.authorize(ctx, "get", resource, func(m dataspace.Mode) bool { return m.Has(dataspace.ModeRead) }); err != nil {
		return nil, err
	}
	return g.store.Get(ctx, resource)
}

// List requires Read on the container.
func (g *Guard) List(ctx context.Context, container string) ([]string, error) {
	if err := g.authorize(ctx, "list", container, func(m dataspace.Mode) bool { return m.Has(dataspace.ModeRead) }); err != nil {
		return nil, err
	}
	ids, err := g.store.List(ctx, container)
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if !isDocument(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Delete requires Write.
func (g *Guard) Delete(ctx context.Context, resource string) error {
	if err := g.authorize(ctx, "delete", resource, func(m dataspace.Mode) bool { return m.Has(dataspace.ModeWrite) }); err != nil {
		return err
	}
	return g.store.Delete(ctx, resource)
}

// SetAccess grants exactly modes on resource to agent. Zero modes removes the
// agent. The caller needs Control over resource.
func (g *Guard) SetAccess(ctx context.Context, resource, agent string, modes dataspace.Mode) error {
	if agent == "" {
		return errors.New("agent is required")
	}
	if err := g.authorize(ctx, "set access", resource, func(m dataspace.Mode) bool { return m.Has(dataspace.ModeControl) }); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	entries, _, err := g.load(ctx, resource)
	if err != nil {
		return err
	}
	next := make([]dataspace.ACLEntry, 0, len(entries)+1)
	for _, entry := range entries {
		if entry.Agent != agent {
			next = append(next, entry)
		}
	}
	if modes != 0 {
		next = append(next, dataspace.ACLEntry{Agent: agent, Modes: modes})
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Agent < next[j].Agent })

	data, err := json.Marshal(document{Entries: next})
	if err != nil {
		return err
	}
	if err := g.store.Put(ctx, documentFor(resource), data); err != nil {
		return &dataspace.StorageError{Resource: resource, Op: "set access", Err: err}
	}
	g.logger.Debug("access updated", "resource", resource, "agent", agent, "modes", modes.String())
	return nil
}

// GetAccess returns the entries set directly on resource. The caller needs
// Control over resource.
func (g *Guard) GetAccess(ctx context.Context, resource string) ([]dataspace.ACLEntry, error) {
	if err := g.authorize(ctx, "get access", resource, func(m dataspace.Mode) bool { return m.Has(dataspace.ModeControl) }); err != nil {
		return nil, err
	}
	entries, _, err := g.load(ctx, resource)
	return entries, err
}

// Bootstrap writes the initial ACL of resource when it has none of its own.
// It bypasses access checks and is meant for deployment setup.
func (g *Guard) Bootstrap(ctx context.Context, resource string, entries ...dataspace.ACLEntry) error {
	data, err := json.Marshal(document{Entries: entries})
	if err != nil {
		return err
	}
	err = g.store.Create(ctx, documentFor(resource), data)
	if err != nil && !errors.Is(err, dataspace.ErrResourceExists) {
		return &dataspace.StorageError{Resource: resource, Op: "bootstrap", Err: err}
	}
	return nil
}

// Effective returns the modes the session in ctx holds on resource.
func (g *Guard) Effective(ctx context.Context, resource string) (dataspace.Mode, error) {
	session := dataspace.SessionFromContext(ctx)
	if !session.IsAuthenticated() || session.Principal() == "" {
		return 0, nil
	}
	principal := session.Principal()

	var modes dataspace.Mode
	if g.owns(principal, resource) {
		modes = AllModes
	}
	for _, r := range ancestors(resource) {
		entries, found, err := g.load(ctx, r)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		for _, entry := range entries {
			if entry.Agent == principal || entry.Agent == dataspace.AuthenticatedAgent {
				modes |= entry.Modes
			}
		}
		break
	}
	return modes, nil
}

func (g *Guard) authorize(ctx context.Context, op, resource string, allowed func(dataspace.Mode) bool) error {
	resource = clean(resource)
	if isDocument(resource) {
		return &dataspace.StorageError{Resource: resource, Op: op, Err: dataspace.ErrStorageForbidden}
	}
	modes, err := g.Effective(ctx, resource)
	if err != nil {
		return &dataspace.StorageError{Resource: resource, Op: op, Err: err}
	}
	if !allowed(modes) {
		return &dataspace.StorageError{
			Resource: resource,
			Op:       op,
			Err:      fmt.Errorf("%w: %s holds %s", dataspace.ErrStorageForbidden, dataspace.SessionFromContext(ctx).Principal(), modes),
		}
	}
	return nil
}

func (g *Guard) load(ctx context.Context, resource string) ([]dataspace.ACLEntry, bool, error) {
	data, err := g.store.Get(ctx, documentFor(resource))
	if errors.Is(err, dataspace.ErrResourceNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("corrupt access document for %q: %w", resource, err)
	}
	return doc.Entries, true, nil
}

func (g *Guard) owns(principal, resource string) bool {
	if g.personalRoot == "" {
		return false
	}
	home := g.personalRoot + "/" + principal
	return resource == home || strings.HasPrefix(resource, home+"/")
}

func clean(resource string) string {
	return strings.Trim(resource, "/")
}

func isDocument(resource string) bool {
	resource = clean(resource)
	return resource == docPrefix || strings.HasPrefix(resource, docPrefix+"/")
}

func documentFor(resource string) string {
	resource = clean(resource)
	if resource == "" {
		return docPrefix + "/" + docName
	}
	return docPrefix + "/" + resource + "/" + docName
}

// ancestors returns resource followed by each parent up to the root "".
func ancestors(resource string) []string {
	resource = clean(resource)
	out := []string{resource}
	for resource != "" {
		i := strings.LastIndex(resource, "/")
		if i < 0 {
			resource = ""
		} else {
			resource = resource[:i]
		}
		out = append(out, resource)
	}
	return out
}
