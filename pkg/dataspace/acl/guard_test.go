package acl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
	"github.com/tendant/simple-dataspace/pkg/dataspace/acl"
	memorystorage "github.com/tendant/simple-dataspace/pkg/dataspace/storage/memory"
)

func as(principal string) context.Context {
	return dataspace.WithSession(context.Background(), dataspace.AuthenticatedAs(principal))
}

func newGuard(t *testing.T, opts ...acl.Option) (*acl.Guard, *memorystorage.Backend) {
	t.Helper()
	backend := memorystorage.New()
	guard, err := acl.New(backend, opts...)
	require.NoError(t, err)
	return guard, backend
}

func TestGuardDeniesWithoutACL(t *testing.T) {
	guard, _ := newGuard(t)

	err := guard.Put(as("alice"), "docs/a.json", []byte("{}"))
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	err = guard.Create(context.Background(), "docs/a.json", []byte("{}"))
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)
}

func TestGuardInheritance(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()
	require.NoError(t, guard.Bootstrap(ctx, "docs",
		dataspace.ACLEntry{Agent: "alice", Modes: acl.AllModes},
		dataspace.ACLEntry{Agent: "bob", Modes: dataspace.ModeRead},
	))

	require.NoError(t, guard.Put(as("alice"), "docs/deep/a.json", []byte("1")))

	data, err := guard.Get(as("bob"), "docs/deep/a.json")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	err = guard.Put(as("bob"), "docs/deep/a.json", []byte("2"))
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	_, err = guard.Get(as("carol"), "docs/deep/a.json")
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	t.Run("own document replaces inherited one", func(t *testing.T) {
		require.NoError(t, guard.SetAccess(as("alice"), "docs/deep", "alice", acl.AllModes))

		_, err := guard.Get(as("bob"), "docs/deep/a.json")
		assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

		modes, err := guard.Effective(as("bob"), "docs/other.json")
		require.NoError(t, err)
		assert.Equal(t, dataspace.ModeRead, modes)
	})
}

func TestGuardAppendOnly(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()
	require.NoError(t, guard.Bootstrap(ctx, "log",
		dataspace.ACLEntry{Agent: dataspace.AuthenticatedAgent, Modes: dataspace.ModeAppend},
	))

	require.NoError(t, guard.Create(as("bob"), "log/1.json", []byte("a")))

	err := guard.Create(as("carol"), "log/1.json", []byte("b"))
	assert.ErrorIs(t, err, dataspace.ErrResourceExists)

	err = guard.Put(as("bob"), "log/1.json", []byte("b"))
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	err = guard.Delete(as("bob"), "log/1.json")
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	_, err = guard.Get(as("bob"), "log/1.json")
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	_, err = guard.List(as("bob"), "log")
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	err = guard.Create(context.Background(), "log/2.json", []byte("c"))
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)
}

func TestGuardSetAccess(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()
	require.NoError(t, guard.Bootstrap(ctx, "space", dataspace.ACLEntry{Agent: "alice", Modes: acl.AllModes}))

	t.Run("requires control", func(t *testing.T) {
		err := guard.SetAccess(as("bob"), "space", "bob", acl.AllModes)
		assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

		_, err = guard.GetAccess(as("bob"), "space")
		assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)
	})

	t.Run("grant replace revoke", func(t *testing.T) {
		require.NoError(t, guard.SetAccess(as("alice"), "space", "bob", dataspace.ModeRead))
		require.NoError(t, guard.SetAccess(as("alice"), "space", "bob", dataspace.ModeRead|dataspace.ModeWrite))

		entries, err := guard.GetAccess(as("alice"), "space")
		require.NoError(t, err)
		assert.Equal(t, []dataspace.ACLEntry{
			{Agent: "alice", Modes: acl.AllModes},
			{Agent: "bob", Modes: dataspace.ModeRead | dataspace.ModeWrite},
		}, entries)

		require.NoError(t, guard.SetAccess(as("alice"), "space", "bob", 0))
		entries, err = guard.GetAccess(as("alice"), "space")
		require.NoError(t, err)
		assert.Equal(t, []dataspace.ACLEntry{{Agent: "alice", Modes: acl.AllModes}}, entries)
	})

	t.Run("bootstrap does not overwrite", func(t *testing.T) {
		require.NoError(t, guard.Bootstrap(ctx, "space", dataspace.ACLEntry{Agent: "mallory", Modes: acl.AllModes}))

		modes, err := guard.Effective(as("mallory"), "space")
		require.NoError(t, err)
		assert.Equal(t, dataspace.Mode(0), modes)
	})
}

func TestGuardHidesDocuments(t *testing.T) {
	guard, backend := newGuard(t, acl.WithPersonalRoot("pods"))

	require.NoError(t, guard.Put(as("alice"), "pods/alice/notes.json", []byte("{}")))
	require.NoError(t, guard.SetAccess(as("alice"), "pods/alice", "bob", dataspace.ModeRead))

	ids, err := guard.List(as("alice"), "pods/alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"pods/alice/notes.json"}, ids)
	assert.Equal(t, 2, backend.Len())

	_, err = guard.Get(as("alice"), ".acl/pods/alice/.acl")
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)

	err = guard.Put(as("alice"), "pods/bob/notes.json", []byte("{}"))
	assert.ErrorIs(t, err, dataspace.ErrStorageForbidden)
}
