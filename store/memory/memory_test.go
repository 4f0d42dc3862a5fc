package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

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
		Prompt:    "a kingdom",
		Strategy:  "standard",
		Nodes: []setting.Node{
			{ID: "n1", Name: "Capital City", Type: setting.TypeLocation, Description: "Seat of the crown.",
				Attributes: map[string]any{"tempId": "R1"}},
			{ID: "n2", ParentID: "n1", Name: "Royal Guard", Type: setting.TypeFaction, Description: "Sworn protectors."},
		},
		RootIDs:   []string{"n1"},
		Timestamp: at,
		Version:   1,
	}
}

func TestStore_SaveLoad(t *testing.T) {
	s := New()
	ctx := context.Background()
	snap := snapshot("snap-1", "alice", time.Now())

	require.NoError(t, s.Save(ctx, snap))

	loaded, err := s.Load(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-snap-1", loaded.SessionID)
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, "n1", loaded.Nodes[1].ParentID)
	assert.Equal(t, "R1", loaded.Nodes[0].TempID())

	// Mutating the loaded copy leaves the stored value alone.
	loaded.Nodes[0].Attributes["tempId"] = "changed"
	again, err := s.Load(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "R1", again.Nodes[0].TempID())

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListDeleteClear(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.Save(ctx, snapshot("b", "alice", base.Add(time.Second))))
	require.NoError(t, s.Save(ctx, snapshot("a", "alice", base)))
	require.NoError(t, s.Save(ctx, snapshot("c", "bob", base)))

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, s.Delete(ctx, "a"))
	list, _ = s.List(ctx, "alice")
	assert.Len(t, list, 1)

	require.NoError(t, s.Clear(ctx, "alice"))
	list, _ = s.List(ctx, "alice")
	assert.Empty(t, list)

	list, _ = s.List(ctx, "bob")
	assert.Len(t, list, 1)
}

func TestStore_Concurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Save(ctx, snapshot(fmt.Sprintf("s%d", i), "alice", time.Now()))
			_, _ = s.List(ctx, "alice")
		}(i)
	}
	wg.Wait()

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestPersisterAndKnowledgeBase(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := store.NewPersister(s, nil)

	assert.ErrorIs(t, p.Persist(ctx, &setting.Snapshot{ID: "empty"}), store.ErrEmptySnapshot)
	require.NoError(t, p.Persist(ctx, snapshot("snap-1", "alice", time.Now())))

	kb := store.KnowledgeBase{Store: s}
	nodes, err := kb.Lookup(ctx, []string{"snap-1"})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	_, err = kb.Lookup(ctx, []string{"nope"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
