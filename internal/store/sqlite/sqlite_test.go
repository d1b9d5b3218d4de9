package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetAvatar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAvatar(ctx, "alice", "sunset"))

	seed, err := s.GetAvatar(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "sunset", seed)

	// Second upsert replaces, never duplicates.
	require.NoError(t, s.UpsertAvatar(ctx, "alice", "forest"))

	seed, err = s.GetAvatar(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "forest", seed)
}

func TestGetAvatarMissingIdentity(t *testing.T) {
	s := newTestStore(t)

	seed, err := s.GetAvatar(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, seed)
}

func TestListAvatars(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAvatar(ctx, "alice", "sunset"))
	require.NoError(t, s.UpsertAvatar(ctx, "bob", "ocean"))

	avatars, err := s.ListAvatars(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"alice": "sunset", "bob": "ocean"}, avatars)
}
