// Package setting holds the data model of a generation session: typed setting
// nodes, the per-session node graph with its temp-id map, the session itself,
// and the closed set of events a session publishes.
//
// The Graph is safe for concurrent writers. Several orchestration tasks may
// insert nodes into the same session at once; every insert checks that the
// resolved parent already exists, so no dangling parent is ever stored.
package setting
