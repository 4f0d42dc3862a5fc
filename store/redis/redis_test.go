package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

func snapshot(id, user string, at time.Time) *setting.Snapshot {
	return &setting.Snapshot{
		ID:        id,
		SessionID: "sess-" + id,
		UserID:    user,
		Nodes: []setting.Node{
			{ID: "n1", Name: "Capital City", Type: setting.TypeLocation, Description: "Seat of the crown."},
		},
		RootIDs:   []string{"n1"},
		Timestamp: at,
		Version:   1,
	}
}

func TestRedisSnapshotStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st := NewRedisSnapshotStore(RedisOptions{Addr: mr.Addr()})
	defer st.Close()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, st.Save(ctx, snapshot("snap-2", "alice", base.Add(time.Minute))))
	require.NoError(t, st.Save(ctx, snapshot("snap-1", "alice", base)))
	assert.True(t, mr.Exists("settinggen:snapshot:snap-1"))

	loaded, err := st.Load(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-snap-1", loaded.SessionID)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, setting.TypeLocation, loaded.Nodes[0].Type)

	list, err := st.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snap-1", list[0].ID)

	require.NoError(t, st.Delete(ctx, "snap-1"))
	_, err = st.Load(ctx, "snap-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, st.Delete(ctx, "snap-1"))

	list, err = st.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.Save(ctx, snapshot("snap-3", "alice", base)))
	require.NoError(t, st.Clear(ctx, "alice"))
	list, err = st.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.False(t, mr.Exists("settinggen:user:alice:snapshots"))
}

func TestRedisSnapshotStore_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st := NewRedisSnapshotStore(RedisOptions{Addr: mr.Addr(), Prefix: "test:", TTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, snapshot("snap-1", "bob", time.Now())))
	assert.Equal(t, time.Hour, mr.TTL("test:snapshot:snap-1"))
	assert.Equal(t, time.Hour, mr.TTL("test:user:bob:snapshots"))

	mr.FastForward(2 * time.Hour)
	list, err := st.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisSnapshotStore_WorksAsPersister(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st := NewRedisSnapshotStore(RedisOptions{Addr: mr.Addr()})
	p := store.NewPersister(st, nil)
	ctx := context.Background()

	require.NoError(t, p.Persist(ctx, snapshot("snap-1", "carol", time.Now())))
	nodes, err := store.KnowledgeBase{Store: st}.Lookup(ctx, []string{"snap-1"})
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
