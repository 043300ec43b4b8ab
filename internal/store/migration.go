package store

import (
	"database/sql"
	"fmt"
)

const currentHistoryVersion = 2

// runMigrations applies any pending history schema migrations
func (h *History) runMigrations() error {
	version, err := h.getSchemaVersion()
	if err != nil {
		return err
	}

	if version < 2 {
		if err := h.migrateToV2(); err != nil {
			return fmt.Errorf("history migration to v2 failed: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the applied history schema version
func (h *History) SchemaVersion() (int, error) {
	return h.getSchemaVersion()
}

// getSchemaVersion returns the current schema version, 1 if not set
func (h *History) getSchemaVersion() (int, error) {
	var tableName string
	err := h.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='history_schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		// Table doesn't exist, this is v1
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = h.db.QueryRow("SELECT COALESCE(MAX(version), 1) FROM history_schema_version").Scan(&version)
	if err != nil {
		return 1, nil
	}
	return version, nil
}

// migrateToV2 adds the per-transaction package list
func (h *History) migrateToV2() error {
	if _, err := h.db.Exec(`CREATE TABLE IF NOT EXISTS history_schema_version (
		version INTEGER PRIMARY KEY
	)`); err != nil {
		return err
	}

	// SQLite doesn't have IF NOT EXISTS for ALTER TABLE, so we check first
	var colCount int
	err := h.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('transactions')
		WHERE name='packages'
	`).Scan(&colCount)
	if err != nil {
		return err
	}
	if colCount == 0 {
		if _, err := h.db.Exec(`ALTER TABLE transactions ADD COLUMN packages TEXT`); err != nil {
			return err
		}
	}

	_, err = h.db.Exec("INSERT OR REPLACE INTO history_schema_version (version) VALUES (?)", 2)
	return err
}
