package dataspace

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultAuditContainer is the audit log container used when none is configured.
const DefaultAuditContainer = "audit"

// Core holds the long-lived components of a data space deployment. It is
// built once and shared; every component is safe for concurrent use.
type Core struct {
	AuditLog    *AuditLog
	Sync        *Synchronizer
	Members     *MembershipManager
	Activity    *ActivityIndex
	Invitations *InvitationNotifier
}

type coreConfig struct {
	store        ResourceStore
	acl          ACLClient
	repo         SpaceRepository
	container    string
	admins       []string
	logger       *slog.Logger
	now          func() time.Time
	diagnostics  Diagnostics
	hooks        *Hooks
	pollInterval time.Duration
}

// Option represents a functional option for configuring the core
type Option func(*coreConfig)

// WithResourceStore sets the store holding the audit log
func WithResourceStore(store ResourceStore) Option {
	return func(c *coreConfig) {
		c.store = store
	}
}

// WithACLClient sets the storage access-control client
func WithACLClient(acl ACLClient) Option {
	return func(c *coreConfig) {
		c.acl = acl
	}
}

// WithSpaceRepository sets the data space repository
func WithSpaceRepository(repo SpaceRepository) Option {
	return func(c *coreConfig) {
		c.repo = repo
	}
}

// WithAuditContainer sets the audit log container resource
func WithAuditContainer(container string) Option {
	return func(c *coreConfig) {
		c.container = container
	}
}

// WithAdmins sets the principals allowed to read the audit log
func WithAdmins(admins ...string) Option {
	return func(c *coreConfig) {
		c.admins = append(c.admins, admins...)
	}
}

// WithLogger sets the logger shared by all components
func WithLogger(logger *slog.Logger) Option {
	return func(c *coreConfig) {
		c.logger = logger
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(c *coreConfig) {
		c.now = now
	}
}

// WithDiagnostics sets the receiver for locally recovered failures
func WithDiagnostics(d Diagnostics) Option {
	return func(c *coreConfig) {
		c.diagnostics = d
	}
}

// WithHooks sets the audit log hooks
func WithHooks(h *Hooks) Option {
	return func(c *coreConfig) {
		c.hooks = h
	}
}

// WithPollInterval sets the invitation poll interval
func WithPollInterval(d time.Duration) Option {
	return func(c *coreConfig) {
		c.pollInterval = d
	}
}

// New wires the components together.
func New(options ...Option) (*Core, error) {
	c := &coreConfig{
		container: DefaultAuditContainer,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(c)
	}

	if c.store == nil {
		return nil, fmt.Errorf("resource store is required")
	}
	if c.acl == nil {
		return nil, fmt.Errorf("acl client is required")
	}
	if c.repo == nil {
		return nil, fmt.Errorf("space repository is required")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.diagnostics == nil {
		c.diagnostics = NewLoggingDiagnostics(c.logger)
	}

	auditLog, err := NewAuditLog(c.store, c.acl, c.container,
		WithAuditAdmins(c.admins...),
		WithAuditClock(c.now),
		WithAuditLogger(c.logger.With("component", "audit")),
		WithAuditDiagnostics(c.diagnostics),
		WithAuditHooks(c.hooks),
	)
	if err != nil {
		return nil, err
	}

	synchronizer, err := NewSynchronizer(c.repo, c.acl, auditLog, c.logger.With("component", "sync"), c.diagnostics)
	if err != nil {
		return nil, err
	}
	synchronizer.now = c.now

	members, err := NewMembershipManager(c.repo, c.acl, synchronizer, auditLog, c.logger.With("component", "membership"))
	if err != nil {
		return nil, err
	}
	members.now = c.now

	activity, err := NewActivityIndex(auditLog)
	if err != nil {
		return nil, err
	}

	invitations, err := NewInvitationNotifier(members, c.pollInterval, c.logger.With("component", "invitations"))
	if err != nil {
		return nil, err
	}

	return &Core{
		AuditLog:    auditLog,
		Sync:        synchronizer,
		Members:     members,
		Activity:    activity,
		Invitations: invitations,
	}, nil
}
