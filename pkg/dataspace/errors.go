package dataspace

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrUnauthenticated indicates a write was attempted without a valid session
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrWriteRejected indicates the store denied a write despite a valid session
	ErrWriteRejected = errors.New("write rejected by storage")

	// ErrMalformedEvent indicates a stored event record could not be decoded
	ErrMalformedEvent = errors.New("malformed event")

	// ErrPartialSync indicates the membership record and the storage ACL diverged
	ErrPartialSync = errors.New("membership and access control out of sync")

	// ErrPermissionDenied indicates the caller lacks the role required for a membership change
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCreatorImmutable indicates an attempt to remove or demote a space creator
	ErrCreatorImmutable = errors.New("space creator cannot be removed or demoted")

	// ErrSpaceNotFound indicates a data space was not found
	ErrSpaceNotFound = errors.New("data space not found")

	// ErrSpaceExists indicates a data space with the same ID already exists
	ErrSpaceExists = errors.New("data space already exists")

	// ErrMemberNotFound indicates the principal is not a member of the space
	ErrMemberNotFound = errors.New("member not found")

	// ErrMemberExists indicates the principal is already a member of the space
	ErrMemberExists = errors.New("member already exists")

	// ErrInvalidRole indicates an unknown role
	ErrInvalidRole = errors.New("invalid role")

	// ErrResourceNotFound is returned by resource stores for missing resources
	ErrResourceNotFound = errors.New("resource not found")

	// ErrResourceExists is returned by Create when the resource already exists
	ErrResourceExists = errors.New("resource already exists")

	// ErrStorageForbidden is returned by resource stores and ACL clients when
	// the store's own access control denies the request
	ErrStorageForbidden = errors.New("forbidden by storage access control")
)

// SyncError reports a grant, revoke or role change whose storage ACL update
// failed after the membership record had been changed. It always unwraps to
// ErrPartialSync and to the underlying cause.
type SyncError struct {
	SpaceID    string
	Principal  string
	Op         string
	RolledBack bool
	Err        error
}

func (e *SyncError) Error() string {
	state := "membership record rolled back"
	if !e.RolledBack {
		state = "membership record NOT rolled back"
	}
	return fmt.Sprintf("%s for %s in space %s partially applied (%s): %v", e.Op, e.Principal, e.SpaceID, state, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{ErrPartialSync, e.Err}
}

// SpaceError represents an error related to data space operations
type SpaceError struct {
	SpaceID string
	Op      string
	Err     error
}

func (e *SpaceError) Error() string {
	return fmt.Sprintf("space operation %s failed for space %s: %v", e.Op, e.SpaceID, e.Err)
}

func (e *SpaceError) Unwrap() error {
	return e.Err
}

// EventError represents an error reading or writing a single audit event
type EventError struct {
	Handle EventHandle
	Op     string
	Err    error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event operation %s failed for %s: %v", e.Op, e.Handle, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to resource store operations
type StorageError struct {
	Resource string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for resource %s: %v", e.Op, e.Resource, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
