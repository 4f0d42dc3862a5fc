package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

// SqliteSnapshotStore implements store.SnapshotStore using SQLite
type SqliteSnapshotStore struct {
	db        *sql.DB
	tableName string
}

var _ store.SnapshotStore = (*SqliteSnapshotStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "setting_snapshots"
}

// NewSqliteSnapshotStore opens the database and creates the schema
func NewSqliteSnapshotStore(opts SqliteOptions) (*SqliteSnapshotStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "setting_snapshots"
	}

	s := &SqliteSnapshotStore{
		db:        db,
		tableName: tableName,
	}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteSnapshotStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			novel_id TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			nodes TEXT NOT NULL,
			root_ids TEXT NOT NULL,
			metadata TEXT,
			timestamp DATETIME NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_user_id ON %s (user_id);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteSnapshotStore) Close() error {
	return s.db.Close()
}

// Save stores a snapshot
func (s *SqliteSnapshotStore) Save(ctx context.Context, snap *setting.Snapshot) error {
	nodesJSON, err := json.Marshal(snap.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	rootsJSON, err := json.Marshal(snap.RootIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal root ids: %w", err)
	}
	metadataJSON, err := json.Marshal(snap.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, user_id, novel_id, prompt, strategy, nodes, root_ids, metadata, timestamp, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			user_id = excluded.user_id,
			novel_id = excluded.novel_id,
			prompt = excluded.prompt,
			strategy = excluded.strategy,
			nodes = excluded.nodes,
			root_ids = excluded.root_ids,
			metadata = excluded.metadata,
			timestamp = excluded.timestamp,
			version = excluded.version
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		snap.ID,
		snap.SessionID,
		snap.UserID,
		snap.NovelID,
		snap.Prompt,
		snap.Strategy,
		string(nodesJSON),
		string(rootsJSON),
		string(metadataJSON),
		snap.Timestamp.UTC(),
		snap.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

const selectColumns = "id, session_id, user_id, novel_id, prompt, strategy, nodes, root_ids, metadata, timestamp, version"

type scanner interface {
	Scan(dest ...any) error
}

// Load retrieves a snapshot by ID
func (s *SqliteSnapshotStore) Load(ctx context.Context, id string) (*setting.Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectColumns, s.tableName)

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snap, nil
}

// List returns all snapshots of a user, oldest first
func (s *SqliteSnapshotStore) List(ctx context.Context, userID string) ([]*setting.Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? ORDER BY timestamp ASC", selectColumns, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*setting.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	return snaps, nil
}

// Delete removes a snapshot
func (s *SqliteSnapshotStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Clear removes all snapshots of a user
func (s *SqliteSnapshotStore) Clear(ctx context.Context, userID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}

func scanSnapshot(row scanner) (*setting.Snapshot, error) {
	var snap setting.Snapshot
	var nodesJSON, rootsJSON string
	var metadataJSON sql.NullString

	err := row.Scan(
		&snap.ID,
		&snap.SessionID,
		&snap.UserID,
		&snap.NovelID,
		&snap.Prompt,
		&snap.Strategy,
		&nodesJSON,
		&rootsJSON,
		&metadataJSON,
		&snap.Timestamp,
		&snap.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(nodesJSON), &snap.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(rootsJSON), &snap.RootIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal root ids: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &snap, nil
}
