package dataspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateSpaceRequest contains parameters for creating a data space
type CreateSpaceRequest struct {
	ID              string // optional, generated when empty
	Title           string
	Description     string
	Purpose         string
	AccessMode      AccessMode // defaults to AccessPrivate
	StorageLocation string
	Tags            []string
}

// MembershipManager is the administrative surface over data spaces. Every
// mutation acts as the session in ctx and is checked against a freshly loaded
// copy of the space before it is handed to the Synchronizer.
type MembershipManager struct {
	repo     SpaceRepository
	acl      ACLClient
	sync     *Synchronizer
	recorder EventRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewMembershipManager creates a membership manager. recorder may be nil.
func NewMembershipManager(repo SpaceRepository, acl ACLClient, sync *Synchronizer, recorder EventRecorder, logger *slog.Logger) (*MembershipManager, error) {
	if repo == nil {
		return nil, errors.New("space repository is required")
	}
	if acl == nil {
		return nil, errors.New("acl client is required")
	}
	if sync == nil {
		return nil, errors.New("synchronizer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MembershipManager{
		repo:     repo,
		acl:      acl,
		sync:     sync,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// CreateSpace creates a data space owned by the calling principal. The caller
// becomes the creator and sole admin, and is granted admin access to the
// storage location. Public spaces are also readable by any authenticated
// principal.
func (m *MembershipManager) CreateSpace(ctx context.Context, req CreateSpaceRequest) (*DataSpace, error) {
	principal, err := authenticatedPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, &SpaceError{SpaceID: req.ID, Op: "create", Err: errors.New("title is required")}
	}
	if req.StorageLocation == "" {
		return nil, &SpaceError{SpaceID: req.ID, Op: "create", Err: errors.New("storage location is required")}
	}
	if req.AccessMode == "" {
		req.AccessMode = AccessPrivate
	}
	if !req.AccessMode.IsValid() {
		return nil, &SpaceError{SpaceID: req.ID, Op: "create", Err: fmt.Errorf("invalid access mode %q", req.AccessMode)}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	now := m.now().UTC()
	space := &DataSpace{
		ID:               req.ID,
		Title:            req.Title,
		Description:      req.Description,
		Purpose:          req.Purpose,
		AccessMode:       req.AccessMode,
		StorageLocation:  req.StorageLocation,
		CreatorPrincipal: principal,
		Members:          []Member{{Principal: principal, Role: RoleAdmin, JoinedAt: now}},
		Tags:             append([]string(nil), req.Tags...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.repo.CreateSpace(ctx, space); err != nil {
		return nil, &SpaceError{SpaceID: space.ID, Op: "create", Err: err}
	}

	if err := m.applyCreatorAccess(ctx, space); err != nil {
		syncErr := &SyncError{SpaceID: space.ID, Principal: principal, Op: "create", Err: err}
		if rbErr := m.repo.DeleteSpace(ctx, space.ID); rbErr != nil {
			syncErr.Err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		} else {
			syncErr.RolledBack = true
		}
		m.logger.Error("space access setup failed", "space_id", space.ID, "rolled_back", syncErr.RolledBack, "error", err)
		return nil, syncErr
	}

	m.record(ctx, AuditEvent{Action: ActionCreate, Object: space.ID, Target: space.StorageLocation})
	m.logger.Info("data space created", "space_id", space.ID, "creator", principal)
	return space.Clone(), nil
}

func (m *MembershipManager) applyCreatorAccess(ctx context.Context, space *DataSpace) error {
	if err := m.acl.SetAccess(ctx, space.StorageLocation, space.CreatorPrincipal, RoleAdmin.Modes()); err != nil {
		return err
	}
	if space.AccessMode == AccessPublic {
		return m.acl.SetAccess(ctx, space.StorageLocation, AuthenticatedAgent, ModeRead)
	}
	return nil
}

// GetSpace returns a data space by ID.
func (m *MembershipManager) GetSpace(ctx context.Context, id string) (*DataSpace, error) {
	space, err := m.repo.GetSpace(ctx, id)
	if err != nil {
		return nil, &SpaceError{SpaceID: id, Op: "get", Err: err}
	}
	return space, nil
}

// ListSpaces returns all data spaces ordered by creation time.
func (m *MembershipManager) ListSpaces(ctx context.Context) ([]*DataSpace, error) {
	spaces, err := m.repo.ListSpaces(ctx)
	if err != nil {
		return nil, &SpaceError{Op: "list", Err: err}
	}
	sortSpaces(spaces)
	return spaces, nil
}

// ListSpacesForMember returns the data spaces principal belongs to.
func (m *MembershipManager) ListSpacesForMember(ctx context.Context, principal string) ([]*DataSpace, error) {
	spaces, err := m.repo.ListSpacesByMember(ctx, principal)
	if err != nil {
		return nil, &SpaceError{Op: "list by member", Err: err}
	}
	sortSpaces(spaces)
	return spaces, nil
}

// ListMembers returns the members of a data space.
func (m *MembershipManager) ListMembers(ctx context.Context, spaceID string) ([]Member, error) {
	space, err := m.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return space.Members, nil
}

// AddMember grants principal role in the space. The caller must be an admin.
func (m *MembershipManager) AddMember(ctx context.Context, spaceID, principal string, role Role) (*DataSpace, error) {
	if !role.IsValid() {
		return nil, &SpaceError{SpaceID: spaceID, Op: "add member", Err: fmt.Errorf("%w: %q", ErrInvalidRole, role)}
	}
	space, err := m.authorize(ctx, "add member", spaceID)
	if err != nil {
		return nil, err
	}
	return m.sync.Grant(ctx, space, principal, role)
}

// RemoveMember revokes principal's membership. The creator can never be
// removed.
func (m *MembershipManager) RemoveMember(ctx context.Context, spaceID, principal string) (*DataSpace, error) {
	space, err := m.load(ctx, "remove member", spaceID)
	if err != nil {
		return nil, err
	}
	if principal == space.CreatorPrincipal {
		return nil, &SpaceError{SpaceID: spaceID, Op: "remove member", Err: ErrCreatorImmutable}
	}
	if err := m.requireAdmin(ctx, "remove member", space); err != nil {
		return nil, err
	}
	return m.sync.Revoke(ctx, space, principal)
}

// SetRole changes principal's role. The creator can never be demoted.
func (m *MembershipManager) SetRole(ctx context.Context, spaceID, principal string, role Role) (*DataSpace, error) {
	if !role.IsValid() {
		return nil, &SpaceError{SpaceID: spaceID, Op: "set role", Err: fmt.Errorf("%w: %q", ErrInvalidRole, role)}
	}
	space, err := m.load(ctx, "set role", spaceID)
	if err != nil {
		return nil, err
	}
	if principal == space.CreatorPrincipal && role != RoleAdmin {
		return nil, &SpaceError{SpaceID: spaceID, Op: "set role", Err: ErrCreatorImmutable}
	}
	if err := m.requireAdmin(ctx, "set role", space); err != nil {
		return nil, err
	}
	return m.sync.UpdateRole(ctx, space, principal, role)
}

func (m *MembershipManager) authorize(ctx context.Context, op, spaceID string) (*DataSpace, error) {
	space, err := m.load(ctx, op, spaceID)
	if err != nil {
		return nil, err
	}
	if err := m.requireAdmin(ctx, op, space); err != nil {
		return nil, err
	}
	return space, nil
}

func (m *MembershipManager) load(ctx context.Context, op, spaceID string) (*DataSpace, error) {
	if _, err := authenticatedPrincipal(ctx); err != nil {
		return nil, err
	}
	space, err := m.repo.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, &SpaceError{SpaceID: spaceID, Op: op, Err: err}
	}
	return space, nil
}

func (m *MembershipManager) requireAdmin(ctx context.Context, op string, space *DataSpace) error {
	principal, err := authenticatedPrincipal(ctx)
	if err != nil {
		return err
	}
	member, ok := space.Member(principal)
	if !ok || member.Role != RoleAdmin {
		return &SpaceError{SpaceID: space.ID, Op: op, Err: ErrPermissionDenied}
	}
	return nil
}

func (m *MembershipManager) record(ctx context.Context, event AuditEvent) {
	if m.recorder == nil {
		return
	}
	if _, err := m.recorder.Append(ctx, event); err != nil {
		m.logger.Warn("audit event not recorded", "action", event.Action, "object", event.Object, "error", err)
	}
}

func sortSpaces(spaces []*DataSpace) {
	sort.SliceStable(spaces, func(i, j int) bool {
		if !spaces[i].CreatedAt.Equal(spaces[j].CreatedAt) {
			return spaces[i].CreatedAt.Before(spaces[j].CreatedAt)
		}
		return spaces[i].ID < spaces[j].ID
	})
}
