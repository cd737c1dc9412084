// Package store persists the extraction cache and transformation history in
// a single SQLite database. The core pipeline owns no persisted state; the
// CLI opens a Store and hands it to the extractor and the transformer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"scanforge/internal/logging"

	_ "modernc.org/sqlite"
)

// Store is the scanforge database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the database at path and brings its schema up to date.
func Open(path string) (*Store, error) {
	logging.StoreDebug("opening store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	-- Extraction responses keyed by source hash and pattern type
	CREATE TABLE IF NOT EXISTS extraction_cache (
		cache_key TEXT PRIMARY KEY,
		backend TEXT NOT NULL,
		spec_json TEXT NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_hit_at DATETIME
	);

	-- One row per transform call
	CREATE TABLE IF NOT EXISTS transformations (
		run_id TEXT PRIMARY KEY,
		source_hash TEXT NOT NULL,
		proposed_name TEXT,
		class_name TEXT,
		pattern_type TEXT,
		strategy TEXT,
		success INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		corrections_applied INTEGER NOT NULL DEFAULT 0,
		errors_json TEXT NOT NULL DEFAULT '[]',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		generated_code TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transformations_created ON transformations(created_at);
	CREATE INDEX IF NOT EXISTS idx_transformations_source ON transformations(source_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Stats returns row counts per table.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"extraction_cache", "transformations"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
