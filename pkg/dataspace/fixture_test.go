package dataspace_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
	"github.com/tendant/simple-dataspace/pkg/dataspace/acl"
	"github.com/tendant/simple-dataspace/pkg/dataspace/repo/memory"
	memorystorage "github.com/tendant/simple-dataspace/pkg/dataspace/storage/memory"
)

const (
	operator = "operator"
	auditor  = "auditor"
)

func as(principal string) context.Context {
	return dataspace.WithSession(context.Background(), dataspace.AuthenticatedAs(principal))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock advances by one millisecond on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type recordingDiagnostics struct {
	mu           sync.Mutex
	skipped      []dataspace.EventHandle
	appendFailed []dataspace.AuditEvent
}

func (d *recordingDiagnostics) EventSkipped(ctx context.Context, handle dataspace.EventHandle, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.skipped = append(d.skipped, handle)
}

func (d *recordingDiagnostics) AuditAppendFailed(ctx context.Context, event dataspace.AuditEvent, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendFailed = append(d.appendFailed, event)
}

// flakyACL fails SetAccess while failing is set.
type flakyACL struct {
	dataspace.ACLClient
	mu      sync.Mutex
	failing bool
	calls   int
}

func (f *flakyACL) SetAccess(ctx context.Context, resource, agent string, modes dataspace.Mode) error {
	f.mu.Lock()
	f.calls++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("acl service unavailable")
	}
	return f.ACLClient.SetAccess(ctx, resource, agent, modes)
}

func (f *flakyACL) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

type fixture struct {
	backend     *memorystorage.Backend
	guard       *acl.Guard
	acl         *flakyACL
	repo        *memory.Repository
	clock       *stepClock
	diagnostics *recordingDiagnostics
	core        *dataspace.Core
}

// newFixture builds a core over an access-controlled in-memory store. The
// audit container is bootstrapped for operator and protected.
func newFixture(t *testing.T, opts ...dataspace.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	backend := memorystorage.New()
	guard, err := acl.New(backend, acl.WithPersonalRoot("pods"), acl.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, guard.Bootstrap(ctx, dataspace.DefaultAuditContainer,
		dataspace.ACLEntry{Agent: operator, Modes: acl.AllModes}))

	f := &fixture{
		backend:     backend,
		guard:       guard,
		acl:         &flakyACL{ACLClient: guard},
		repo:        memory.New(),
		clock:       newStepClock(),
		diagnostics: &recordingDiagnostics{},
	}
	options := []dataspace.Option{
		dataspace.WithResourceStore(guard),
		dataspace.WithACLClient(f.acl),
		dataspace.WithSpaceRepository(f.repo),
		dataspace.WithAdmins(auditor),
		dataspace.WithClock(f.clock.Now),
		dataspace.WithDiagnostics(f.diagnostics),
		dataspace.WithLogger(discardLogger()),
	}
	f.core, err = dataspace.New(append(options, opts...)...)
	require.NoError(t, err)
	require.NoError(t, f.core.AuditLog.Protect(as(operator)))
	return f
}

// createSpace creates a space owned by creator inside creator's pod.
func (f *fixture) createSpace(t *testing.T, creator, title string) *dataspace.DataSpace {
	t.Helper()
	space, err := f.core.Members.CreateSpace(as(creator), dataspace.CreateSpaceRequest{
		Title:           title,
		StorageLocation: "pods/" + creator + "/spaces/" + title,
	})
	require.NoError(t, err)
	return space
}

// events returns every audit event as read by the auditor.
func (f *fixture) events(t *testing.T) []dataspace.AuditEvent {
	t.Helper()
	events, err := f.core.AuditLog.Events(as(auditor), "")
	require.NoError(t, err)
	return events
}
