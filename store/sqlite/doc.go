// Package sqlite provides a SQLite-backed SnapshotStore built on
// database/sql and github.com/mattn/go-sqlite3.
//
// JSON columns are stored as TEXT. NewSqliteSnapshotStore creates the table
// on open, so a fresh file path is enough to get started:
//
//	st, err := sqlite.NewSqliteSnapshotStore(sqlite.SqliteOptions{Path: "./settings.db"})
//	if err != nil {
//		return err
//	}
//	defer st.Close()
package sqlite
