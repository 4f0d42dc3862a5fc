// Package memory provides an in-process SnapshotStore.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

// Store keeps snapshots in memory. Values are deep-copied on the way in and
// out so callers never share maps with the store.
type Store struct {
	mu    sync.RWMutex
	snaps map[string][]byte
	users map[string]string
}

var _ store.SnapshotStore = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		snaps: make(map[string][]byte),
		users: make(map[string]string),
	}
}

// Save stores a snapshot
func (s *Store) Save(ctx context.Context, snap *setting.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = data
	s.users[snap.ID] = snap.UserID
	return nil
}

// Load retrieves a snapshot by id
func (s *Store) Load(ctx context.Context, id string) (*setting.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snaps[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return decode(data)
}

// List returns all snapshots of a user, oldest first
func (s *Store) List(ctx context.Context, userID string) ([]*setting.Snapshot, error) {
	s.mu.RLock()
	var raw [][]byte
	for id, uid := range s.users {
		if uid == userID {
			raw = append(raw, s.snaps[id])
		}
	}
	s.mu.RUnlock()

	out := make([]*setting.Snapshot, 0, len(raw))
	for _, data := range raw {
		snap, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Delete removes a snapshot
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	delete(s.users, id)
	return nil
}

// Clear removes all snapshots of a user
func (s *Store) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, uid := range s.users {
		if uid == userID {
			delete(s.snaps, id)
			delete(s.users, id)
		}
	}
	return nil
}

func decode(data []byte) (*setting.Snapshot, error) {
	var snap setting.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
