// Package file stores snapshots as one JSON document per file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

// FileSnapshotStore keeps <path>/<id>.json for every snapshot.
type FileSnapshotStore struct {
	path string
	mu   sync.RWMutex
}

var _ store.SnapshotStore = (*FileSnapshotStore)(nil)

// NewFileSnapshotStore creates the directory if it is missing.
func NewFileSnapshotStore(path string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSnapshotStore{path: path}, nil
}

func (s *FileSnapshotStore) filename(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid snapshot id %q", id)
	}
	return filepath.Join(s.path, id+".json"), nil
}

// Save writes the snapshot through a temp file so readers never see a
// partial document.
func (s *FileSnapshotStore) Save(_ context.Context, snap *setting.Snapshot) error {
	name, err := s.filename(snap.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.path, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads one snapshot.
func (s *FileSnapshotStore) Load(_ context.Context, id string) (*setting.Snapshot, error) {
	name, err := s.filename(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return readSnapshot(name)
}

func readSnapshot(name string) (*setting.Snapshot, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, strings.TrimSuffix(filepath.Base(name), ".json"))
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap setting.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", filepath.Base(name), err)
	}
	return &snap, nil
}

// List scans the directory and returns the user's snapshots, oldest first.
func (s *FileSnapshotStore) List(ctx context.Context, userID string) ([]*setting.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(ctx, userID)
}

func (s *FileSnapshotStore) list(ctx context.Context, userID string) ([]*setting.Snapshot, error) {
	names, err := filepath.Glob(filepath.Join(s.path, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snaps := []*setting.Snapshot{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap, err := readSnapshot(name)
		if err != nil {
			return nil, err
		}
		if snap.UserID == userID {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })
	return snaps, nil
}

// Delete removes a snapshot. A missing file is not an error.
func (s *FileSnapshotStore) Delete(_ context.Context, id string) error {
	name, err := s.filename(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Clear removes every snapshot of the user.
func (s *FileSnapshotStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps, err := s.list(ctx, userID)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := os.Remove(filepath.Join(s.path, snap.ID+".json")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to clear snapshots: %w", err)
		}
	}
	return nil
}
