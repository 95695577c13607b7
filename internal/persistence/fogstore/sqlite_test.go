package fogstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fog.sqlite"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, ok, err := s.Load(ctx, "cave")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Save(Record{SceneID: "cave", SessionID: "s1", RequestID: 3, Explored: "AAAACAAC"}))
	require.NoError(t, s.Flush(ctx))

	rec, ok, err := s.Load(ctx, "cave")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", rec.SessionID)
	require.Equal(t, uint64(3), rec.RequestID)
	require.Equal(t, "AAAACAAC", rec.Explored)
	require.False(t, rec.UpdatedAt.IsZero())
}

func TestStore_IgnoresOlderRequestWithinSession(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.Save(Record{SceneID: "cave", SessionID: "s1", RequestID: 5, Explored: "new"}))
	require.NoError(t, s.Save(Record{SceneID: "cave", SessionID: "s1", RequestID: 4, Explored: "old"}))
	require.NoError(t, s.Flush(ctx))

	rec, _, err := s.Load(ctx, "cave")
	require.NoError(t, err)
	require.Equal(t, "new", rec.Explored)

	// A new session starts its ids over and still wins.
	require.NoError(t, s.Save(Record{SceneID: "cave", SessionID: "s2", RequestID: 1, Explored: "restart"}))
	require.NoError(t, s.Flush(ctx))
	rec, _, err = s.Load(ctx, "cave")
	require.NoError(t, err)
	require.Equal(t, "restart", rec.Explored)
	require.Equal(t, "s2", rec.SessionID)
}

func TestStore_DeleteAndScenes(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(Record{SceneID: id, SessionID: "s", RequestID: 1}))
	}
	require.NoError(t, s.Delete("b"))
	require.NoError(t, s.Flush(ctx))

	scenes, err := s.Scenes(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "c"}, scenes)
}

func TestStore_ClosedRejectsWrites(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "fog.sqlite"), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Save(Record{SceneID: "a", SessionID: "s", RequestID: 1, Explored: "x"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Save(Record{SceneID: "a"}), ErrClosed)
	require.Error(t, s.Save(Record{}))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fog.sqlite")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Save(Record{SceneID: "a", SessionID: "s", RequestID: 1, Explored: "xyz"}))
	require.NoError(t, s.Close())

	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	rec, ok, err := s.Load(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "xyz", rec.Explored)
}
