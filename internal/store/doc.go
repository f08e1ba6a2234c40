// Package store persists the campaign entity tree, script runs, step
// dependencies, and versioned configuration documents.
//
// SQLite (modernc.org/sqlite) is the default backend; PostgreSQL is reached
// through the pgx stdlib driver. Every entity update is guarded by a revision
// column so that concurrent writers observe services.ErrStaleState instead of
// overwriting each other.
package store
