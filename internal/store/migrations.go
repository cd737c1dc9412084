package store

import (
	"database/sql"
	"fmt"

	"scanforge/internal/logging"
)

// Schema versions:
// v1: extraction_cache and transformations
// v2: transformations.final_state and duration_ms
const CurrentSchemaVersion = 2

// Migration adds one column to an existing table.
type Migration struct {
	Version int
	Table   string
	Column  string
	Def     string
}

// pendingMigrations upgrades databases created before a column existed.
var pendingMigrations = []Migration{
	{2, "transformations", "final_state", "TEXT DEFAULT ''"},
	{2, "transformations", "duration_ms", "INTEGER DEFAULT 0"},
}

// RunMigrations applies missing columns and records the schema version.
func RunMigrations(db *sql.DB) error {
	from := GetSchemaVersion(db)
	if from >= CurrentSchemaVersion {
		logging.StoreDebug("schema at version %d, nothing to migrate", from)
		return nil
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) || columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("migration applied: added %s.%s (v%d)", m.Table, m.Column, m.Version)
		applied++
	}

	if err := SetSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return err
	}
	logging.Store("schema migrated from v%d to v%d (%d columns added)", from, CurrentSchemaVersion, applied)
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.StoreDebug("table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}

// GetSchemaVersion returns the recorded schema version, or 1 for a database
// that predates version tracking.
func GetSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "schema_versions") {
		return 1
	}
	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_versions").Scan(&version); err != nil {
		return 1
	}
	return version
}

// SetSchemaVersion records a schema version.
func SetSchemaVersion(db *sql.DB, version int) error {
	createTable := `
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`
	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}
	_, err := db.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
		version, fmt.Sprintf("Migrated to schema version %d", version),
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
