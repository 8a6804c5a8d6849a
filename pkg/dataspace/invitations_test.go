package dataspace_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

func TestInvitationPoll(t *testing.T) {
	f := newFixture(t)
	notifier := f.core.Invitations

	own := f.createSpace(t, "bob", "mine")
	shared := f.createSpace(t, "alice", "shared")
	_, err := f.core.Members.AddMember(as("alice"), shared.ID, "bob", dataspace.RoleWrite)
	require.NoError(t, err)

	pending, err := notifier.Poll(as("bob"), "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, shared.ID, pending[0].SpaceID)
	assert.Equal(t, "shared", pending[0].SpaceTitle)
	assert.Equal(t, dataspace.RoleWrite, pending[0].Role)
	assert.NotEqual(t, own.ID, pending[0].SpaceID)

	notifier.Acknowledge("bob", shared.ID)
	pending, err = notifier.Poll(as("bob"), "bob")
	require.NoError(t, err)
	assert.Empty(t, pending)

	t.Run("acknowledgement is per principal", func(t *testing.T) {
		_, err := f.core.Members.AddMember(as("alice"), shared.ID, "carol", dataspace.RoleRead)
		require.NoError(t, err)

		pending, err := notifier.Poll(as("carol"), "carol")
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}

// countingLister counts calls and can be made to fail.
type countingLister struct {
	mu     sync.Mutex
	calls  int
	fail   bool
	spaces []*dataspace.DataSpace
}

func (l *countingLister) ListSpacesForMember(ctx context.Context, principal string) ([]*dataspace.DataSpace, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.fail {
		return nil, errors.New("store offline")
	}
	return l.spaces, nil
}

func (l *countingLister) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *countingLister) setFail(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = v
}

func TestInvitationPollerStop(t *testing.T) {
	lister := &countingLister{
		fail: true,
		spaces: []*dataspace.DataSpace{{
			ID:               "s1",
			Title:            "shared",
			CreatorPrincipal: "alice",
			Members: []dataspace.Member{
				{Principal: "alice", Role: dataspace.RoleAdmin},
				{Principal: "bob", Role: dataspace.RoleRead},
			},
		}},
	}
	notifier, err := dataspace.NewInvitationNotifier(lister, 5*time.Millisecond, discardLogger())
	require.NoError(t, err)

	var delivered atomic.Int32
	poller := notifier.Start(context.Background(), "bob", func(ctx context.Context, invitations []dataspace.Invitation) {
		delivered.Add(1)
	})

	// Errors are swallowed and the loop keeps polling.
	require.Eventually(t, func() bool { return lister.count() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), delivered.Load())

	lister.setFail(false)
	require.Eventually(t, func() bool { return delivered.Load() > 0 }, time.Second, time.Millisecond)

	poller.Stop()
	calls := lister.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, lister.count())

	select {
	case <-poller.Done():
	default:
		t.Fatal("poller still running after Stop")
	}

	poller.Stop()
}

func TestInvitationPollerStopsWithContext(t *testing.T) {
	lister := &countingLister{}
	notifier, err := dataspace.NewInvitationNotifier(lister, time.Millisecond, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	poller := notifier.Start(ctx, "bob", nil)
	cancel()

	select {
	case <-poller.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}

func TestInvitationPollerCancelFromHandler(t *testing.T) {
	lister := &countingLister{
		spaces: []*dataspace.DataSpace{{
			ID:               "s1",
			Title:            "shared",
			CreatorPrincipal: "alice",
			Members: []dataspace.Member{
				{Principal: "alice", Role: dataspace.RoleAdmin},
				{Principal: "bob", Role: dataspace.RoleRead},
			},
		}},
	}
	notifier, err := dataspace.NewInvitationNotifier(lister, time.Millisecond, discardLogger())
	require.NoError(t, err)

	started := make(chan *dataspace.Poller, 1)
	var delivered atomic.Int32
	poller := notifier.Start(context.Background(), "bob", func(ctx context.Context, invitations []dataspace.Invitation) {
		delivered.Add(1)
		(<-started).Cancel()
	})
	started <- poller

	select {
	case <-poller.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after Cancel from handler")
	}
	assert.Equal(t, int32(1), delivered.Load())
	poller.Stop()
}
