// Package redis provides a Redis-backed SnapshotStore.
//
// Each snapshot is stored as one JSON value under "<prefix>snapshot:<id>".
// A set under "<prefix>user:<userID>:snapshots" indexes the snapshots of a
// user so List and Clear do not have to scan the keyspace. When a TTL is
// configured both the value and the index expire with it.
//
// # Basic Usage
//
//	st := redis.NewRedisSnapshotStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "settinggen:",
//		TTL:    7 * 24 * time.Hour,
//	})
//	defer st.Close()
//
//	eng := engine.New(engine.Options{
//		TextModel: llm,
//		Persister: store.NewPersister(st, nil),
//	})
//
// An existing client can be shared with NewRedisSnapshotStoreWithClient.
package redis
