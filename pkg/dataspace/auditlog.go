package dataspace

import (
	"context"
	"errors"
	"fmt"
	"encoding/json"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

const defaultMaxNameAttempts = 100

// AuditLog is an append-only log of AuditEvents kept as one resource per
// event inside a single container of a ResourceStore.
type AuditLog struct {
	store       ResourceStore
	acl         ACLClient
	container   string
	admins      []string
	now         func() time.Time
	logger      *slog.Logger
	diagnostics Diagnostics
	hooks       *Hooks
	maxAttempts int

	mu   sync.Mutex
	last time.Time
}

// AuditLogOption configures an AuditLog
type AuditLogOption func(*AuditLog)

// WithAuditAdmins sets the principals allowed to read the log
func WithAuditAdmins(admins ...string) AuditLogOption {
	return func(l *AuditLog) {
		l.admins = append(l.admins[:0], admins...)
	}
}

// WithAuditClock sets the time source used to stamp events
func WithAuditClock(now func() time.Time) AuditLogOption {
	return func(l *AuditLog) {
		if now != nil {
			l.now = now
		}
	}
}

// WithAuditLogger sets the logger
func WithAuditLogger(logger *slog.Logger) AuditLogOption {
	return func(l *AuditLog) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithAuditDiagnostics sets the receiver for skipped records
func WithAuditDiagnostics(d Diagnostics) AuditLogOption {
	return func(l *AuditLog) {
		if d != nil {
			l.diagnostics = d
		}
	}
}

// WithAuditHooks sets the audit log hooks
func WithAuditHooks(h *Hooks) AuditLogOption {
	return func(l *AuditLog) {
		l.hooks = h
	}
}

// NewAuditLog creates an audit log stored in container.
func NewAuditLog(store ResourceStore, acl ACLClient, container string, opts ...AuditLogOption) (*AuditLog, error) {
	if store == nil {
		return nil, errors.New("resource store is required")
	}
	if acl == nil {
		return nil, errors.New("acl client is required")
	}
	if container == "" {
		return nil, errors.New("audit container is required")
	}
	l := &AuditLog{
		store:       store,
		acl:         acl,
		container:   container,
		now:         time.Now,
		logger:      slog.Default(),
		diagnostics: NoopDiagnostics{},
		maxAttempts: defaultMaxNameAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Container returns the resource ID of the log container.
func (l *AuditLog) Container() string {
	return l.container
}

// ClientTimeExtension is the extension under which Append keeps a
// caller-supplied OccurredAt.
const ClientTimeExtension = "clientTime"

// Append persists event as a new resource. The session in ctx must be
// authenticated as the event's actor; an empty actor is filled from it.
// OccurredAt is always assigned from the log's clock, strictly after any
// timestamp this log assigned before. A caller-supplied OccurredAt is kept
// under ClientTimeExtension and has no effect on ordering.
func (l *AuditLog) Append(ctx context.Context, event AuditEvent) (EventHandle, error) {
	principal, err := authenticatedPrincipal(ctx)
	if err != nil {
		return "", err
	}
	if event.Actor == "" {
		event.Actor = principal
	}
	if event.Actor != principal {
		return "", fmt.Errorf("%w: session %q cannot append as %q", ErrUnauthenticated, principal, event.Actor)
	}
	if !event.Action.IsValid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrMalformedEvent, event.Action)
	}
	if err := keepClientTime(&event); err != nil {
		return "", &EventError{Op: "encode", Err: err}
	}
	event.OccurredAt = l.nextTimestamp()

	data, err := EncodeEvent(event)
	if err != nil {
		return "", &EventError{Op: "encode", Err: err}
	}

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		name := EventResourceName(l.container, event.OccurredAt, attempt)
		err := l.store.Create(ctx, name, data)
		switch {
		case err == nil:
			handle := EventHandle(name)
			if err := l.hooks.executeAfterAppend(ctx, handle, event); err != nil {
				l.logger.Warn("audit append hook failed", "handle", handle, "error", err)
			}
			return handle, nil
		case errors.Is(err, ErrResourceExists):
			continue
		case errors.Is(err, ErrStorageForbidden):
			return "", &EventError{Handle: EventHandle(name), Op: "append", Err: fmt.Errorf("%w: %v", ErrWriteRejected, err)}
		default:
			return "", &EventError{Handle: EventHandle(name), Op: "append", Err: err}
		}
	}
	return "", &EventError{Op: "append", Err: fmt.Errorf("no free resource name for %s after %d attempts", event.OccurredAt.Format(EventTimeLayout), l.maxAttempts)}
}

func keepClientTime(event *AuditEvent) error {
	if event.OccurredAt.IsZero() {
		return nil
	}
	if _, ok := event.Extensions[ClientTimeExtension]; ok {
		return nil
	}
	raw, err := json.Marshal(event.OccurredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	extensions := make(map[string]json.RawMessage, len(event.Extensions)+1)
	for k, v := range event.Extensions {
		extensions[k] = v
	}
	extensions[ClientTimeExtension] = raw
	event.Extensions = extensions
	return nil
}

func (l *AuditLog) nextTimestamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.now().UTC()
	if !t.After(l.last) {
		t = l.last.Add(time.Nanosecond)
	}
	l.last = t
	return t
}

// List returns the events written after since (all events when since is
// empty) in chronological order. Names are resolved eagerly; records are
// fetched and decoded lazily as the sequence is consumed. Records that cannot
// be read are skipped and reported to Diagnostics. The sequence can be
// re-listed at any time.
func (l *AuditLog) List(ctx context.Context, since EventHandle) (iter.Seq2[EventHandle, AuditEvent], error) {
	names, err := l.eventNames(ctx, since)
	if err != nil {
		return nil, err
	}
	return func(yield func(EventHandle, AuditEvent) bool) {
		for _, name := range names {
			if ctx.Err() != nil {
				return
			}
			handle := EventHandle(name)
			data, err := l.store.Get(ctx, name)
			if err != nil {
				l.skip(ctx, handle, &EventError{Handle: handle, Op: "read", Err: err})
				continue
			}
			event, err := DecodeEvent(data)
			if err != nil {
				l.skip(ctx, handle, &EventError{Handle: handle, Op: "decode", Err: err})
				continue
			}
			if !yield(handle, event) {
				return
			}
		}
	}, nil
}

// Events collects List into a slice.
func (l *AuditLog) Events(ctx context.Context, since EventHandle) ([]AuditEvent, error) {
	seq, err := l.List(ctx, since)
	if err != nil {
		return nil, err
	}
	var events []AuditEvent
	for _, event := range seq {
		events = append(events, event)
	}
	return events, ctx.Err()
}

func (l *AuditLog) eventNames(ctx context.Context, since EventHandle) ([]string, error) {
	ids, err := l.store.List(ctx, l.container)
	if errors.Is(err, ErrResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Resource: l.container, Op: "list", Err: err}
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if !isEventResource(l.container, id) {
			continue
		}
		if since != "" && CompareEventNames(id, string(since)) <= 0 {
			continue
		}
		names = append(names, id)
	}
	slices.SortFunc(names, CompareEventNames)
	return names, nil
}

func (l *AuditLog) skip(ctx context.Context, handle EventHandle, err error) {
	l.logger.Warn("skipping unreadable audit event", "handle", handle, "error", err)
	l.diagnostics.EventSkipped(ctx, handle, err)
	l.hooks.executeEventSkipped(ctx, handle, err)
}

// Protect establishes the log container and reconciles its access control:
// admins may read it, any authenticated principal may append to it, and the
// calling principal keeps control so it can run Protect again. Nobody holds
// Write, so stored events cannot be overwritten or deleted through the store.
// Entries already in the desired state are left untouched, so repeated calls
// write nothing.
func (l *AuditLog) Protect(ctx context.Context) error {
	principal, err := authenticatedPrincipal(ctx)
	if err != nil {
		return err
	}

	marker := l.container + "/" + containerMarker
	if err := l.store.Create(ctx, marker, []byte("{}")); err != nil && !errors.Is(err, ErrResourceExists) {
		if errors.Is(err, ErrStorageForbidden) {
			err = fmt.Errorf("%w: %v", ErrWriteRejected, err)
		}
		return &StorageError{Resource: l.container, Op: "create container", Err: err}
	}

	current, err := l.acl.GetAccess(ctx, l.container)
	if err != nil {
		return &StorageError{Resource: l.container, Op: "get access", Err: err}
	}
	have := make(map[string]Mode, len(current))
	for _, entry := range current {
		have[entry.Agent] = entry.Modes
	}

	desired, order := l.desiredAccess(principal)
	changed := 0
	for _, agent := range order {
		if mode, ok := have[agent]; ok && mode == desired[agent] {
			continue
		}
		if err := l.acl.SetAccess(ctx, l.container, agent, desired[agent]); err != nil {
			return &StorageError{Resource: l.container, Op: "set access", Err: err}
		}
		changed++
	}
	var stale []string
	for agent := range have {
		if _, ok := desired[agent]; !ok {
			stale = append(stale, agent)
		}
	}
	sort.Strings(stale)
	for _, agent := range stale {
		if err := l.acl.SetAccess(ctx, l.container, agent, 0); err != nil {
			return &StorageError{Resource: l.container, Op: "revoke access", Err: err}
		}
		changed++
	}

	if changed > 0 {
		l.logger.Info("audit container access reconciled", "container", l.container, "changes", changed)
	}
	return nil
}

// desiredAccess returns the target ACL of the container and the order in which
// to apply it. The caller comes first so it never loses control mid-way.
func (l *AuditLog) desiredAccess(caller string) (map[string]Mode, []string) {
	desired := map[string]Mode{AuthenticatedAgent: ModeAppend}
	for _, admin := range l.admins {
		if admin != "" {
			desired[admin] = ModeRead
		}
	}
	desired[caller] |= ModeControl

	order := make([]string, 0, len(desired))
	for agent := range desired {
		if agent != caller {
			order = append(order, agent)
		}
	}
	sort.Strings(order)
	return desired, append([]string{caller}, order...)
}
