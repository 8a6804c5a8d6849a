package dataspace

import (
	"context"
)

// ResourceStore is the remote resource store. Every call acts as the session
// carried in ctx.
type ResourceStore interface {
	// Put creates or replaces a resource
	Put(ctx context.Context, resource string, data []byte) error

	// Create writes a new resource and fails with ErrResourceExists if it is already present
	Create(ctx context.Context, resource string, data []byte) error

	// Get returns the resource contents or ErrResourceNotFound
	Get(ctx context.Context, resource string) ([]byte, error)

	// List returns the IDs of all resources under container, in no particular order
	List(ctx context.Context, container string) ([]string, error)

	// Delete removes a resource
	Delete(ctx context.Context, resource string) error
}

// ACLClient manages the store's native access-control entries. Entries set on
// a container apply to its descendants unless a descendant has its own.
type ACLClient interface {
	// SetAccess grants exactly modes on resource to agent; zero modes removes the agent
	SetAccess(ctx context.Context, resource, agent string, modes Mode) error

	// GetAccess returns the entries set directly on resource
	GetAccess(ctx context.Context, resource string) ([]ACLEntry, error)
}

// SpaceRepository persists data space records and their member lists.
type SpaceRepository interface {
	CreateSpace(ctx context.Context, space *DataSpace) error
	GetSpace(ctx context.Context, id string) (*DataSpace, error)
	// SaveSpace replaces the stored record, including its member list
	SaveSpace(ctx context.Context, space *DataSpace) error
	DeleteSpace(ctx context.Context, id string) error
	ListSpaces(ctx context.Context) ([]*DataSpace, error)
	// ListSpacesByMember returns spaces that list principal as a member
	ListSpacesByMember(ctx context.Context, principal string) ([]*DataSpace, error)
}

// Diagnostics receives problems that are recovered locally rather than
// returned to a caller.
type Diagnostics interface {
	// EventSkipped is called for each record List could not read
	EventSkipped(ctx context.Context, handle EventHandle, err error)

	// AuditAppendFailed is called when an access change succeeded but its
	// PermissionChange event could not be recorded
	AuditAppendFailed(ctx context.Context, event AuditEvent, err error)
}

// EventRecorder appends audit events.
type EventRecorder interface {
	Append(ctx context.Context, event AuditEvent) (EventHandle, error)
}
