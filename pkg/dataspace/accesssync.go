package dataspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Synchronizer applies role changes to both the membership record and the
// storage ACL of the space's storage location, in that order. It never
// reports success unless both were applied; when the ACL update fails the
// record is restored and a *SyncError is returned.
//
// Concurrent changes for the same space and principal are last-write-wins.
type Synchronizer struct {
	repo        SpaceRepository
	acl         ACLClient
	recorder    EventRecorder
	diagnostics Diagnostics
	logger      *slog.Logger
	now         func() time.Time
}

// NewSynchronizer creates a synchronizer. recorder may be nil, in which case
// no PermissionChange events are written.
func NewSynchronizer(repo SpaceRepository, acl ACLClient, recorder EventRecorder, logger *slog.Logger, diagnostics Diagnostics) (*Synchronizer, error) {
	if repo == nil {
		return nil, errors.New("space repository is required")
	}
	if acl == nil {
		return nil, errors.New("acl client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if diagnostics == nil {
		diagnostics = NoopDiagnostics{}
	}
	return &Synchronizer{
		repo:        repo,
		acl:         acl,
		recorder:    recorder,
		diagnostics: diagnostics,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Grant adds principal to space with role.
func (s *Synchronizer) Grant(ctx context.Context, space *DataSpace, principal string, role Role) (*DataSpace, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.apply(ctx, "grant", space, principal, role, func(next *DataSpace) error {
		if _, ok := next.Member(principal); ok {
			return ErrMemberExists
		}
		next.Members = append(next.Members, Member{Principal: principal, Role: role, JoinedAt: s.now().UTC()})
		return nil
	})
}

// Revoke removes principal from space.
func (s *Synchronizer) Revoke(ctx context.Context, space *DataSpace, principal string) (*DataSpace, error) {
	return s.apply(ctx, "revoke", space, principal, "", func(next *DataSpace) error {
		for i, m := range next.Members {
			if m.Principal == principal {
				next.Members = append(next.Members[:i], next.Members[i+1:]...)
				return nil
			}
		}
		return ErrMemberNotFound
	})
}

// UpdateRole changes the role of an existing member.
func (s *Synchronizer) UpdateRole(ctx context.Context, space *DataSpace, principal string, role Role) (*DataSpace, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.apply(ctx, "update role", space, principal, role, func(next *DataSpace) error {
		for i := range next.Members {
			if next.Members[i].Principal == principal {
				next.Members[i].Role = role
				return nil
			}
		}
		return ErrMemberNotFound
	})
}

func (s *Synchronizer) apply(ctx context.Context, op string, space *DataSpace, principal string, role Role, mutate func(*DataSpace) error) (*DataSpace, error) {
	if space == nil || space.ID == "" {
		return nil, &SpaceError{Op: op, Err: ErrSpaceNotFound}
	}
	if principal == "" {
		return nil, &SpaceError{SpaceID: space.ID, Op: op, Err: errors.New("principal is required")}
	}

	prior, err := s.repo.GetSpace(ctx, space.ID)
	if err != nil {
		return nil, &SpaceError{SpaceID: space.ID, Op: op, Err: err}
	}
	next := prior.Clone()
	if err := mutate(next); err != nil {
		return nil, &SpaceError{SpaceID: space.ID, Op: op, Err: err}
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.repo.SaveSpace(ctx, next); err != nil {
		return nil, &SpaceError{SpaceID: space.ID, Op: op, Err: err}
	}

	if err := s.acl.SetAccess(ctx, next.StorageLocation, principal, role.Modes()); err != nil {
		syncErr := &SyncError{SpaceID: space.ID, Principal: principal, Op: op, Err: err}
		if rbErr := s.repo.SaveSpace(ctx, prior); rbErr != nil {
			syncErr.Err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		} else {
			syncErr.RolledBack = true
		}
		s.logger.Error("access control sync failed",
			"op", op,
			"space_id", space.ID,
			"principal", principal,
			"rolled_back", syncErr.RolledBack,
			"error", err)
		return nil, syncErr
	}

	s.record(ctx, op, next, principal, role)
	return next, nil
}

// record appends the PermissionChange event. A failure here leaves the access
// change in place and is reported through diagnostics.
func (s *Synchronizer) record(ctx context.Context, op string, space *DataSpace, principal string, role Role) {
	if s.recorder == nil {
		return
	}
	event := AuditEvent{
		Action: ActionPermissionChange,
		Object: space.StorageLocation,
		Target: space.ID,
		Extensions: map[string]json.RawMessage{
			"operation": mustRaw(op),
			"principal": mustRaw(principal),
			"role":      mustRaw(string(role)),
		},
	}
	if _, err := s.recorder.Append(ctx, event); err != nil {
		s.logger.Warn("permission change not recorded", "space_id", space.ID, "principal", principal, "error", err)
		s.diagnostics.AuditAppendFailed(ctx, event, err)
	}
}

func mustRaw(v string) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
