package dataspace_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
	"github.com/tendant/simple-dataspace/pkg/dataspace/acl"
)

func TestAuditLogAppend(t *testing.T) {
	f := newFixture(t)
	log := f.core.AuditLog

	t.Run("fills actor and timestamp", func(t *testing.T) {
		handle, err := log.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
		require.NoError(t, err)
		assert.Contains(t, string(handle), "audit/2024-05-01T12:00:00.")

		events := f.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, "alice", events[0].Actor)
		assert.False(t, events[0].OccurredAt.IsZero())
	})

	t.Run("requires session", func(t *testing.T) {
		_, err := log.Append(context.Background(), dataspace.AuditEvent{Actor: "alice", Action: dataspace.ActionLogin})
		assert.ErrorIs(t, err, dataspace.ErrUnauthenticated)

		anonymous := dataspace.WithSession(context.Background(), dataspace.StaticSession{ID: "alice"})
		_, err = log.Append(anonymous, dataspace.AuditEvent{Action: dataspace.ActionLogin})
		assert.ErrorIs(t, err, dataspace.ErrUnauthenticated)
	})

	t.Run("actor must match session", func(t *testing.T) {
		_, err := log.Append(as("alice"), dataspace.AuditEvent{Actor: "bob", Action: dataspace.ActionLogin})
		assert.ErrorIs(t, err, dataspace.ErrUnauthenticated)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := log.Append(as("alice"), dataspace.AuditEvent{Action: "Teleport"})
		assert.ErrorIs(t, err, dataspace.ErrMalformedEvent)
	})

	t.Run("storage denial is write rejected", func(t *testing.T) {
		require.NoError(t, f.guard.SetAccess(as(operator), dataspace.DefaultAuditContainer, dataspace.AuthenticatedAgent, 0))
		defer func() {
			require.NoError(t, log.Protect(as(operator)))
		}()

		_, err := log.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
		assert.ErrorIs(t, err, dataspace.ErrWriteRejected)
	})

	t.Run("timestamps strictly increase", func(t *testing.T) {
		frozen := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		l, err := dataspace.NewAuditLog(f.guard, f.guard, "audit", dataspace.WithAuditClock(func() time.Time { return frozen }))
		require.NoError(t, err)

		first, err := l.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionInteraction})
		require.NoError(t, err)
		second, err := l.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionInteraction})
		require.NoError(t, err)
		assert.Less(t, string(first), string(second))
	})
}

func TestAuditLogListOrdersChronologically(t *testing.T) {
	f := newFixture(t)
	log := f.core.AuditLog

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := log.Append(as("writer"), dataspace.AuditEvent{
				Action: dataspace.ActionUpdate,
				Object: string(rune('a' + i%26)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events := f.events(t)
	require.Len(t, events, n)
	for i := 1; i < n; i++ {
		assert.True(t, events[i-1].OccurredAt.Before(events[i].OccurredAt), "event %d out of order", i)
	}
}

func TestAuditLogStampsEveryEvent(t *testing.T) {
	f := newFixture(t)
	log := f.core.AuditLog

	first, err := log.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
	require.NoError(t, err)

	backdated := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = log.Append(as("mallory"), dataspace.AuditEvent{Action: dataspace.ActionLogin, OccurredAt: backdated})
	require.NoError(t, err)
	_, err = log.Append(as("mallory"), dataspace.AuditEvent{Action: dataspace.ActionLogin, OccurredAt: time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	after, err := log.Events(as(auditor), first)
	require.NoError(t, err)
	require.Len(t, after, 2)
	for _, e := range after {
		assert.Equal(t, 2024, e.OccurredAt.Year())
	}
	assert.JSONEq(t, `"2000-01-01T00:00:00Z"`, string(after[0].Extensions[dataspace.ClientTimeExtension]))

	index, err := f.core.Activity.Rebuild(as(auditor))
	require.NoError(t, err)
	assert.Equal(t, 2024, index["mallory"].LastSeen.Year())
}

// Two logs over one container stand in for two processes sharing a store.
func TestAuditLogIdenticalTimestamps(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 7, 4, 9, 0, 0, 0, time.UTC)

	const n = 12
	handles := make(chan dataspace.EventHandle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		l, err := dataspace.NewAuditLog(f.guard, f.guard, dataspace.DefaultAuditContainer,
			dataspace.WithAuditClock(func() time.Time { return at }))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := l.Append(as("writer"), dataspace.AuditEvent{Action: dataspace.ActionInteraction})
			assert.NoError(t, err)
			handles <- handle
		}()
	}
	wg.Wait()
	close(handles)

	seen := make(map[dataspace.EventHandle]bool)
	for h := range handles {
		assert.False(t, seen[h], "duplicate handle %s", h)
		seen[h] = true
	}
	assert.Len(t, seen, n)

	events := f.events(t)
	require.Len(t, events, n)
	for _, e := range events {
		assert.True(t, at.Equal(e.OccurredAt))
	}
}

func TestAuditLogListSinceCollision(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 7, 4, 9, 0, 0, 0, time.UTC)
	frozen := func() time.Time { return at }

	first, err := dataspace.NewAuditLog(f.guard, f.guard, dataspace.DefaultAuditContainer, dataspace.WithAuditClock(frozen))
	require.NoError(t, err)
	second, err := dataspace.NewAuditLog(f.guard, f.guard, dataspace.DefaultAuditContainer, dataspace.WithAuditClock(frozen))
	require.NoError(t, err)

	cursor, err := first.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
	require.NoError(t, err)
	assert.Equal(t, dataspace.EventResourceName(dataspace.DefaultAuditContainer, at, 0), string(cursor))

	collided, err := second.Append(as("bob"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
	require.NoError(t, err)
	assert.Equal(t, dataspace.EventResourceName(dataspace.DefaultAuditContainer, at, 1), string(collided))

	seq, err := f.core.AuditLog.List(as(auditor), cursor)
	require.NoError(t, err)
	var got []dataspace.EventHandle
	for h := range seq {
		got = append(got, h)
	}
	assert.Equal(t, []dataspace.EventHandle{collided}, got)

	all, err := f.core.AuditLog.Events(as(auditor), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Actor)
	assert.Equal(t, "bob", all[1].Actor)
}

func TestAuditLogListSince(t *testing.T) {
	f := newFixture(t)
	log := f.core.AuditLog

	var handles []dataspace.EventHandle
	for i := 0; i < 3; i++ {
		h, err := log.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	seq, err := log.List(as(auditor), handles[0])
	require.NoError(t, err)
	var got []dataspace.EventHandle
	for h := range seq {
		got = append(got, h)
	}
	assert.Equal(t, handles[1:], got)

	t.Run("restartable", func(t *testing.T) {
		var again []dataspace.EventHandle
		for h := range seq {
			again = append(again, h)
		}
		assert.Equal(t, got, again)
	})

	t.Run("early stop", func(t *testing.T) {
		seq, err := log.List(as(auditor), "")
		require.NoError(t, err)
		count := 0
		for range seq {
			count++
			break
		}
		assert.Equal(t, 1, count)
	})

	t.Run("non-admin cannot read", func(t *testing.T) {
		_, err := log.List(as("alice"), "")
		assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)
	})
}

func TestAuditLogSkipsMalformedRecords(t *testing.T) {
	skippedByHook := 0
	hooks := &dataspace.Hooks{
		OnEventSkipped: []dataspace.EventSkippedHook{
			func(hctx *dataspace.HookContext, handle dataspace.EventHandle, err error) {
				skippedByHook++
			},
		},
	}
	f := newFixture(t, dataspace.WithHooks(hooks))
	log := f.core.AuditLog
	ctx := context.Background()

	_, err := log.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
	require.NoError(t, err)

	corrupt := dataspace.EventResourceName("audit", time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, f.backend.Put(ctx, corrupt, []byte(`{"actor":"mallory","action":"Explode","occurredAt":"2023-01-02T00:00:00Z"}`)))
	truncated := dataspace.EventResourceName("audit", time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, f.backend.Put(ctx, truncated, []byte(`{"actor":"mall`)))
	require.NoError(t, f.backend.Put(ctx, "audit/notes.txt", []byte(`ignored`)))

	_, err = log.Append(as("bob"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
	require.NoError(t, err)

	events := f.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "alice", events[0].Actor)
	assert.Equal(t, "bob", events[1].Actor)

	assert.Equal(t, []dataspace.EventHandle{dataspace.EventHandle(corrupt), dataspace.EventHandle(truncated)}, f.diagnostics.skipped)
	assert.Equal(t, 2, skippedByHook)
}

func TestAuditLogAfterAppendHook(t *testing.T) {
	var seen []dataspace.AuditEvent
	hooks := &dataspace.Hooks{
		AfterAppend: []dataspace.AfterAppendHook{
			func(hctx *dataspace.HookContext, handle dataspace.EventHandle, event dataspace.AuditEvent) error {
				seen = append(seen, event)
				hctx.StopChain = true
				return nil
			},
			func(hctx *dataspace.HookContext, handle dataspace.EventHandle, event dataspace.AuditEvent) error {
				t.Fatal("chain should have stopped")
				return nil
			},
		},
	}
	f := newFixture(t, dataspace.WithHooks(hooks))

	_, err := f.core.AuditLog.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "alice", seen[0].Actor)
}

func TestAuditLogProtect(t *testing.T) {
	f := newFixture(t)
	log := f.core.AuditLog

	entries, err := f.guard.GetAccess(as(operator), dataspace.DefaultAuditContainer)
	require.NoError(t, err)
	assert.ElementsMatch(t, []dataspace.ACLEntry{
		{Agent: operator, Modes: dataspace.ModeControl},
		{Agent: auditor, Modes: dataspace.ModeRead},
		{Agent: dataspace.AuthenticatedAgent, Modes: dataspace.ModeAppend},
	}, entries)

	t.Run("idempotent", func(t *testing.T) {
		calls := f.acl.calls
		require.NoError(t, log.Protect(as(operator)))
		require.NoError(t, log.Protect(as(operator)))
		assert.Equal(t, calls, f.acl.calls)

		again, err := f.guard.GetAccess(as(operator), dataspace.DefaultAuditContainer)
		require.NoError(t, err)
		assert.Equal(t, entries, again)
	})

	t.Run("revokes stray entries", func(t *testing.T) {
		require.NoError(t, f.guard.SetAccess(as(operator), dataspace.DefaultAuditContainer, "mallory", acl.AllModes))
		require.NoError(t, log.Protect(as(operator)))

		again, err := f.guard.GetAccess(as(operator), dataspace.DefaultAuditContainer)
		require.NoError(t, err)
		assert.Equal(t, entries, again)
	})

	t.Run("requires session", func(t *testing.T) {
		err := log.Protect(context.Background())
		assert.ErrorIs(t, err, dataspace.ErrUnauthenticated)
	})

	t.Run("caller without control", func(t *testing.T) {
		err := log.Protect(as("alice"))
		assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)
	})

	t.Run("admins cannot rewrite events", func(t *testing.T) {
		handle, err := log.Append(as("alice"), dataspace.AuditEvent{Action: dataspace.ActionLogin})
		require.NoError(t, err)

		err = f.guard.Put(as(auditor), string(handle), []byte(`{"actor":"bob","action":"Login","occurredAt":"2024-01-01T00:00:00Z"}`))
		assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)
		err = f.guard.Delete(as(auditor), string(handle))
		assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

		events, err := log.Events(as(auditor), "")
		require.NoError(t, err)
		require.NotEmpty(t, events)
		assert.Equal(t, "alice", events[len(events)-1].Actor)
	})

	t.Run("admin caller keeps control", func(t *testing.T) {
		require.NoError(t, f.guard.SetAccess(as(operator), dataspace.DefaultAuditContainer, auditor, dataspace.ModeRead|dataspace.ModeControl))
		require.NoError(t, log.Protect(as(auditor)))

		modes, err := f.guard.Effective(as(auditor), dataspace.DefaultAuditContainer)
		require.NoError(t, err)
		assert.Equal(t, dataspace.ModeRead|dataspace.ModeAppend|dataspace.ModeControl, modes)
	})

	t.Run("creates container marker", func(t *testing.T) {
		_, err := f.backend.Get(context.Background(), "audit/.container")
		assert.NoError(t, err)
	})
}
