package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

// DefaultTableName is used when PostgresOptions.TableName is empty.
const DefaultTableName = "setting_snapshots"

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresSnapshotStore implements store.SnapshotStore using PostgreSQL
type PostgresSnapshotStore struct {
	pool      DBPool
	tableName string
}

var _ store.SnapshotStore = (*PostgresSnapshotStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "setting_snapshots"
}

// NewPostgresSnapshotStore creates a new Postgres snapshot store
func NewPostgresSnapshotStore(ctx context.Context, opts PostgresOptions) (*PostgresSnapshotStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresSnapshotStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresSnapshotStoreWithPool creates a store on an existing pool
func NewPostgresSnapshotStoreWithPool(pool DBPool, tableName string) *PostgresSnapshotStore {
	if tableName == "" {
		tableName = DefaultTableName
	}
	return &PostgresSnapshotStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresSnapshotStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			novel_id TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			nodes JSONB NOT NULL,
			root_ids JSONB NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_user_id ON %s (user_id);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresSnapshotStore) Close() {
	s.pool.Close()
}

// Save stores a snapshot
func (s *PostgresSnapshotStore) Save(ctx context.Context, snap *setting.Snapshot) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			user_id = EXCLUDED.user_id,
			novel_id = EXCLUDED.novel_id,
			prompt = EXCLUDED.prompt,
			strategy = EXCLUDED.strategy,
			nodes = EXCLUDED.nodes,
			root_ids = EXCLUDED.root_ids,
			metadata = EXCLUDED.metadata,
			timestamp = EXCLUDED.timestamp,
			version = EXCLUDED.version
	`, s.tableName)

	_, err = s.pool.Exec(ctx, query,
		snap.ID,
		snap.SessionID,
		snap.UserID,
		snap.NovelID,
		snap.Prompt,
		snap.Strategy,
		nodesJSON,
		rootsJSON,
		metadataJSON,
		snap.Timestamp,
		snap.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

const selectColumns = "id, session_id, user_id, novel_id, prompt, strategy, nodes, root_ids, metadata, timestamp, version"

// Load retrieves a snapshot by ID
func (s *PostgresSnapshotStore) Load(ctx context.Context, id string) (*setting.Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", selectColumns, s.tableName)

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snap, nil
}

// List returns all snapshots of a user, oldest first
func (s *PostgresSnapshotStore) List(ctx context.Context, userID string) ([]*setting.Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = $1 ORDER BY timestamp ASC", selectColumns, s.tableName)

	rows, err := s.pool.Query(ctx, query, userID)
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
func (s *PostgresSnapshotStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Clear removes all snapshots of a user
func (s *PostgresSnapshotStore) Clear(ctx context.Context, userID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (*setting.Snapshot, error) {
	var snap setting.Snapshot
	var nodesJSON, rootsJSON, metadataJSON []byte

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
	if err := json.Unmarshal(nodesJSON, &snap.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(rootsJSON, &snap.RootIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal root ids: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &snap, nil
}
