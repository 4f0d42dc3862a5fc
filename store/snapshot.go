package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
)

var (
	// ErrNotFound is returned by Load for an unknown snapshot id.
	ErrNotFound = errors.New("snapshot not found")
	// ErrEmptySnapshot is returned when asked to persist a graph without nodes.
	ErrEmptySnapshot = errors.New("snapshot has no nodes")
)

// SnapshotStore defines the interface for snapshot persistence
type SnapshotStore interface {
	// Save stores a snapshot, replacing one with the same id
	Save(ctx context.Context, snap *setting.Snapshot) error

	// Load retrieves a snapshot by id
	Load(ctx context.Context, id string) (*setting.Snapshot, error)

	// List returns every snapshot of a user, oldest first
	List(ctx context.Context, userID string) ([]*setting.Snapshot, error)

	// Delete removes a snapshot
	Delete(ctx context.Context, id string) error

	// Clear removes all snapshots of a user
	Clear(ctx context.Context, userID string) error
}

// Persister hands finished session graphs to a SnapshotStore.
type Persister struct {
	store  SnapshotStore
	logger log.Logger
}

// NewPersister wraps s. A nil logger uses the package default.
func NewPersister(s SnapshotStore, logger log.Logger) *Persister {
	return &Persister{store: s, logger: log.OrDefault(logger)}
}

// Persist saves snap. Empty graphs are refused.
func (p *Persister) Persist(ctx context.Context, snap *setting.Snapshot) error {
	if snap == nil || len(snap.Nodes) == 0 {
		return ErrEmptySnapshot
	}
	if err := p.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", snap.SessionID, err)
	}
	p.logger.Debug("[session %s] stored snapshot %s with %d nodes", snap.SessionID, snap.ID, len(snap.Nodes))
	return nil
}

// KnowledgeBase serves the nodes of stored snapshots as seed material. The
// ids it is asked for are snapshot ids.
type KnowledgeBase struct {
	Store SnapshotStore
}

// Lookup returns the nodes of every snapshot in ids, in order.
func (kb KnowledgeBase) Lookup(ctx context.Context, ids []string) ([]setting.Node, error) {
	var out []setting.Node
	for _, id := range ids {
		snap, err := kb.Store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Nodes...)
	}
	return out, nil
}
