// Package repotest holds the behavior every dataspace.SpaceRepository must share.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// NewSpace returns a space created by creator with creator as sole admin.
func NewSpace(creator string, createdAt time.Time) *dataspace.DataSpace {
	id := uuid.NewString()
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return &dataspace.DataSpace{
		ID:               id,
		Title:            "Space " + id[:8],
		Description:      "test space",
		Purpose:          "testing",
		AccessMode:       dataspace.AccessPrivate,
		StorageLocation:  "pods/" + creator + "/spaces/" + id,
		CreatorPrincipal: creator,
		Members:          []dataspace.Member{{Principal: creator, Role: dataspace.RoleAdmin, JoinedAt: createdAt}},
		Tags:             []string{"test"},
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

// Run exercises repo. ctx carries whatever session the repository needs.
func Run(t *testing.T, ctx context.Context, repo dataspace.SpaceRepository) {
	base := time.Now().UTC().Add(-time.Hour)

	t.Run("CreateAndGet", func(t *testing.T) {
		space := NewSpace("alice", base)
		require.NoError(t, repo.CreateSpace(ctx, space))

		got, err := repo.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		assert.Equal(t, space.Title, got.Title)
		assert.Equal(t, space.CreatorPrincipal, got.CreatorPrincipal)
		assert.Equal(t, space.StorageLocation, got.StorageLocation)
		assert.Equal(t, space.AccessMode, got.AccessMode)
		require.Len(t, got.Members, 1)
		assert.Equal(t, dataspace.RoleAdmin, got.Members[0].Role)
		assert.True(t, space.CreatedAt.Equal(got.CreatedAt))

		err = repo.CreateSpace(ctx, space)
		assert.ErrorIs(t, err, dataspace.ErrSpaceExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.GetSpace(ctx, uuid.NewString())
		assert.ErrorIs(t, err, dataspace.ErrSpaceNotFound)
	})

	t.Run("SaveReplacesMembers", func(t *testing.T) {
		space := NewSpace("alice", base.Add(time.Minute))
		require.NoError(t, repo.CreateSpace(ctx, space))

		space.Members = append(space.Members, dataspace.Member{Principal: "bob", Role: dataspace.RoleRead, JoinedAt: base.Add(2 * time.Minute).Truncate(time.Microsecond)})
		space.UpdatedAt = base.Add(2 * time.Minute).Truncate(time.Microsecond)
		require.NoError(t, repo.SaveSpace(ctx, space))

		got, err := repo.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		m, ok := got.Member("bob")
		require.True(t, ok)
		assert.Equal(t, dataspace.RoleRead, m.Role)

		byBob, err := repo.ListSpacesByMember(ctx, "bob")
		require.NoError(t, err)
		assert.Contains(t, ids(byBob), space.ID)

		space.Members = space.Members[:1]
		require.NoError(t, repo.SaveSpace(ctx, space))

		byBob, err = repo.ListSpacesByMember(ctx, "bob")
		require.NoError(t, err)
		assert.NotContains(t, ids(byBob), space.ID)
	})

	t.Run("SaveMissing", func(t *testing.T) {
		err := repo.SaveSpace(ctx, NewSpace("alice", base))
		assert.ErrorIs(t, err, dataspace.ErrSpaceNotFound)
	})

	t.Run("ReturnedCopiesAreDetached", func(t *testing.T) {
		space := NewSpace("alice", base.Add(3*time.Minute))
		require.NoError(t, repo.CreateSpace(ctx, space))

		got, err := repo.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		got.Members[0].Role = dataspace.RoleRead

		again, err := repo.GetSpace(ctx, space.ID)
		require.NoError(t, err)
		assert.Equal(t, dataspace.RoleAdmin, again.Members[0].Role)
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		first := NewSpace("carol", base.Add(4*time.Minute))
		second := NewSpace("carol", base.Add(5*time.Minute))
		require.NoError(t, repo.CreateSpace(ctx, second))
		require.NoError(t, repo.CreateSpace(ctx, first))

		byCarol, err := repo.ListSpacesByMember(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID, second.ID}, ids(byCarol))

		all, err := repo.ListSpaces(ctx)
		require.NoError(t, err)
		assert.Subset(t, ids(all), []string{first.ID, second.ID})

		require.NoError(t, repo.DeleteSpace(ctx, first.ID))
		_, err = repo.GetSpace(ctx, first.ID)
		assert.ErrorIs(t, err, dataspace.ErrSpaceNotFound)

		byCarol, err = repo.ListSpacesByMember(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, []string{second.ID}, ids(byCarol))

		err = repo.DeleteSpace(ctx, first.ID)
		assert.ErrorIs(t, err, dataspace.ErrSpaceNotFound)
	})
}

func ids(spaces []*dataspace.DataSpace) []string {
	out := make([]string, 0, len(spaces))
	for _, s := range spaces {
		out = append(out, s.ID)
	}
	return out
}
