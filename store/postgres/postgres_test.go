package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

var columns = []string{"id", "session_id", "user_id", "novel_id", "prompt", "strategy", "nodes", "root_ids", "metadata", "timestamp", "version"}

func sampleNodes() []setting.Node {
	return []setting.Node{
		{ID: "n1", Name: "Capital City", Type: setting.TypeLocation, Description: "Seat of the crown.", Status: setting.NodeCompleted},
		{ID: "n2", ParentID: "n1", Name: "Royal Guard", Type: setting.TypeFaction, Status: setting.NodeCompleted},
	}
}

func TestPostgresSnapshotStore_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "")

	snap := &setting.Snapshot{
		ID:        "snap-1",
		SessionID: "sess-1",
		UserID:    "alice",
		Prompt:    "a desert empire",
		Strategy:  "nine-line-method",
		Nodes:     sampleNodes(),
		RootIDs:   []string{"n1"},
		Metadata:  map[string]any{"mode": "structured"},
		Timestamp: time.Now(),
		Version:   1,
	}
	nodesJSON, _ := json.Marshal(snap.Nodes)
	rootsJSON, _ := json.Marshal(snap.RootIDs)
	metadataJSON, _ := json.Marshal(snap.Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO setting_snapshots")).
		WithArgs(
			snap.ID,
			snap.SessionID,
			snap.UserID,
			"",
			snap.Prompt,
			snap.Strategy,
			nodesJSON,
			rootsJSON,
			metadataJSON,
			snap.Timestamp,
			snap.Version,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, st.Save(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotStore_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "snaps")
	nodesJSON, _ := json.Marshal(sampleNodes())
	ts := time.Now()

	rows := pgxmock.NewRows(columns).
		AddRow("snap-1", "sess-1", "alice", "novel-9", "a desert empire", "nine-line-method",
			nodesJSON, []byte(`["n1"]`), []byte(`{"mode":"text"}`), ts, 2)

	mock.ExpectQuery(regexp.QuoteMeta("FROM snaps WHERE id = $1")).
		WithArgs("snap-1").
		WillReturnRows(rows)

	loaded, err := st.Load(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "novel-9", loaded.NovelID)
	assert.Equal(t, []string{"n1"}, loaded.RootIDs)
	assert.Equal(t, 2, loaded.Version)
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, "n1", loaded.Nodes[1].ParentID)
	assert.Equal(t, "text", loaded.Metadata["mode"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotStore_Load_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "")

	mock.ExpectQuery(regexp.QuoteMeta("FROM setting_snapshots WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	loaded, err := st.Load(context.Background(), "missing")
	assert.Nil(t, loaded)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotStore_Load_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "")

	mock.ExpectQuery(regexp.QuoteMeta("FROM setting_snapshots WHERE id = $1")).
		WithArgs("snap-1").
		WillReturnError(errors.New("database connection failed"))

	_, err = st.Load(context.Background(), "snap-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load snapshot")
	assert.NotErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotStore_Load_InvalidNodesJSON(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "")

	rows := pgxmock.NewRows(columns).
		AddRow("snap-1", "sess-1", "alice", "", "", "", []byte("{invalid json"), []byte(`[]`), nil, time.Now(), 1)
	mock.ExpectQuery(regexp.QuoteMeta("FROM setting_snapshots WHERE id = $1")).
		WithArgs("snap-1").
		WillReturnRows(rows)

	_, err = st.Load(context.Background(), "snap-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal nodes")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotStore_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "")
	nodesJSON, _ := json.Marshal(sampleNodes())
	ts := time.Now()

	rows := pgxmock.NewRows(columns).
		AddRow("snap-1", "sess-1", "alice", "", "", "", nodesJSON, []byte(`["n1"]`), nil, ts, 1).
		AddRow("snap-2", "sess-2", "alice", "", "", "", nodesJSON, []byte(`["n1"]`), nil, ts.Add(time.Minute), 1)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 ORDER BY timestamp ASC")).
		WithArgs("alice").
		WillReturnRows(rows)

	list, err := st.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "snap-1", list[0].ID)
	assert.Equal(t, "snap-2", list[1].ID)
	assert.Nil(t, list[0].Metadata)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotStore_DeleteAndClear(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM setting_snapshots WHERE id = $1")).
		WithArgs("snap-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM setting_snapshots WHERE user_id = $1")).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	assert.NoError(t, st.Delete(context.Background(), "snap-1"))
	assert.NoError(t, st.Clear(context.Background(), "alice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotStore_InitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostgresSnapshotStoreWithPool(mock, "")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS setting_snapshots")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, st.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
