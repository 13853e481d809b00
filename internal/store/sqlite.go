package store

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

func (s Store) openSQLite(ctx context.Context) (*sql.DB, error) {
	if err := s.Ensure(); err != nil {
		return nil, err
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", s.sqlitePath())
	if err != nil {
		return nil, err
	}
	// Pragmas for multi-process local usage.
	// WAL enables one writer + many readers; busy_timeout helps avoid "database is locked" flakiness.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := s.migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (s Store) migrateSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS terms (
			key TEXT PRIMARY KEY,
			label TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS term_edges (
			broader TEXT NOT NULL,
			narrower TEXT NOT NULL,
			PRIMARY KEY(broader, narrower)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_term_edges_narrower ON term_edges(narrower);`,
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS entry_terms (
			entry_id TEXT NOT NULL,
			facet TEXT NOT NULL CHECK(facet IN ('topic','kind','interface')),
			term_key TEXT NOT NULL,
			added_at_unixms INTEGER NOT NULL,
			PRIMARY KEY(entry_id, facet, term_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entry_terms_term ON entry_terms(term_key);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			entry_id TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at_unixms INTEGER NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_terms (
			session_id TEXT NOT NULL,
			term_key TEXT NOT NULL,
			PRIMARY KEY(session_id, term_key)
		);`,
	}
	for _, st := range stmts {
		if _, err := db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Init creates the catalog directory and runs migrations.
func (s Store) Init(ctx context.Context) error {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	return db.Close()
}
