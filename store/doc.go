// Package store persists finished setting graphs.
//
// A SnapshotStore keeps setting.Snapshot values keyed by snapshot id and
// indexed by owning user. Implementations live in subpackages:
//
//   - memory: process-local maps, for tests and the CLI default
//   - file: one JSON document per snapshot in a directory
//   - sqlite: a single table in a SQLite file
//   - postgres: a JSONB table behind a pgx pool
//   - redis: one key per snapshot plus a per-user set, with optional TTL
//
// Persister adapts any SnapshotStore to the engine's persistence callback,
// and KnowledgeBase serves stored snapshots back as seed nodes.
//
// Example:
//
//	st := memory.New()
//	eng := engine.New(engine.Options{
//		TextModel:     llm,
//		Persister:     store.NewPersister(st, nil),
//		KnowledgeBase: store.KnowledgeBase{Store: st},
//	})
package store
