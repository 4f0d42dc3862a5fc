package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

func newStore(t *testing.T) *SqliteSnapshotStore {
	t.Helper()
	st, err := NewSqliteSnapshotStore(SqliteOptions{Path: filepath.Join(t.TempDir(), "settings.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func snapshot(id, user string, at time.Time) *setting.Snapshot {
	return &setting.Snapshot{
		ID:        id,
		SessionID: "sess-" + id,
		UserID:    user,
		Prompt:    "a floating archipelago",
		Nodes: []setting.Node{
			{ID: "n1", Name: "Skyreach", Type: setting.TypeLocation, Status: setting.NodeCompleted},
			{ID: "n2", ParentID: "n1", Name: "Wind Guild", Type: setting.TypeFaction, Status: setting.NodeCompleted},
		},
		RootIDs:   []string{"n1"},
		Metadata:  map[string]any{"mode": "text"},
		Timestamp: at,
		Version:   1,
	}
}

func TestSqliteSnapshotStore_SaveLoad(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, snapshot("snap-1", "alice", at)))

	loaded, err := st.Load(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-snap-1", loaded.SessionID)
	assert.Equal(t, "a floating archipelago", loaded.Prompt)
	assert.True(t, at.Equal(loaded.Timestamp))
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, "n1", loaded.Nodes[1].ParentID)
	assert.Equal(t, "text", loaded.Metadata["mode"])

	updated := snapshot("snap-1", "alice", at)
	updated.Version = 2
	require.NoError(t, st.Save(ctx, updated))
	loaded, err = st.Load(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)

	_, err = st.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSqliteSnapshotStore_ListDeleteClear(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, snapshot("snap-2", "alice", base.Add(time.Hour))))
	require.NoError(t, st.Save(ctx, snapshot("snap-1", "alice", base)))
	require.NoError(t, st.Save(ctx, snapshot("snap-3", "bob", base)))

	list, err := st.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snap-1", list[0].ID)
	assert.Equal(t, "snap-2", list[1].ID)

	require.NoError(t, st.Delete(ctx, "snap-1"))
	list, err = st.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.Clear(ctx, "alice"))
	list, err = st.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = st.List(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
