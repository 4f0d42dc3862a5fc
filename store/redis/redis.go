package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

// RedisSnapshotStore implements store.SnapshotStore using Redis
type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.SnapshotStore = (*RedisSnapshotStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "settinggen:"
	TTL      time.Duration // Expiration for snapshots, default 0 (no expiration)
}

// NewRedisSnapshotStore creates a new Redis snapshot store
func NewRedisSnapshotStore(opts RedisOptions) *RedisSnapshotStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisSnapshotStoreWithClient(client, opts)
}

// NewRedisSnapshotStoreWithClient uses an existing client; connection fields
// of opts are ignored.
func NewRedisSnapshotStoreWithClient(client *redis.Client, opts RedisOptions) *RedisSnapshotStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "settinggen:"
	}
	return &RedisSnapshotStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Close closes the client
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}

func (s *RedisSnapshotStore) snapshotKey(id string) string {
	return fmt.Sprintf("%ssnapshot:%s", s.prefix, id)
}

func (s *RedisSnapshotStore) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s:snapshots", s.prefix, userID)
}

// Save stores a snapshot
func (s *RedisSnapshotStore) Save(ctx context.Context, snap *setting.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(snap.ID), data, s.ttl)
	userKey := s.userKey(snap.UserID)
	pipe.SAdd(ctx, userKey, snap.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, userKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}
	return nil
}

// Load retrieves a snapshot by id
func (s *RedisSnapshotStore) Load(ctx context.Context, id string) (*setting.Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load snapshot from redis: %w", err)
	}

	var snap setting.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// List returns all snapshots of a user, oldest first. Ids whose value has
// expired are skipped.
func (s *RedisSnapshotStore) List(ctx context.Context, userID string) ([]*setting.Snapshot, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for user %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return []*setting.Snapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.snapshotKey(id)
	}
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshots: %w", err)
	}

	snaps := make([]*setting.Snapshot, 0, len(results))
	for _, result := range results {
		raw, ok := result.(string)
		if !ok {
			continue
		}
		var snap setting.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })
	return snaps, nil
}

// Delete removes a snapshot. Deleting an unknown id is not an error.
func (s *RedisSnapshotStore) Delete(ctx context.Context, id string) error {
	snap, err := s.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.snapshotKey(id))
	pipe.SRem(ctx, s.userKey(snap.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Clear removes all snapshots of a user
func (s *RedisSnapshotStore) Clear(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get snapshots for clearing: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.snapshotKey(id))
	}
	pipe.Del(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}
