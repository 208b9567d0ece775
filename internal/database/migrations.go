package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
		Down:        migration001Down,
	},
	{
		Version:     2,
		Description: "Create search_log table",
		Up:          migration002Up,
		Down:        migration002Down,
	},
	{
		Version:     3,
		Description: "Create calibration_log table",
		Up:          migration003Up,
		Down:        migration003Down,
	},
	{
		Version:     4,
		Description: "Create search failure view",
		Up:          migration004Up,
		Down:        migration004Down,
	},
	{
		Version:     5,
		Description: "Tag journal rows with run id",
		Up:          migration005Up,
		Down:        migration005Down,
	},
}

// LatestVersion is the schema version after all migrations run
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations() error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		db.logger.InfoWithContext("Running migration", map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			_, err := tx.Exec(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, migration.Version, migration.Description, time.Now())
			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Rollback reverts migrations down to (but not including) targetVersion
func (db *DB) Rollback(targetVersion int) error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}

		db.logger.InfoWithContext("Reverting migration", map[string]interface{}{
			"version": migration.Version,
		})

		err := db.ExecTx(func(tx *sql.Tx) error {
			// schema_version itself goes away with migration 1
			if migration.Version > 1 {
				if _, err := tx.Exec(`DELETE FROM schema_version WHERE version = ?`, migration.Version); err != nil {
					return err
				}
			}
			if err := migration.Down(tx); err != nil {
				return fmt.Errorf("rollback %d failed: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// getCurrentVersion returns the current schema version
func (db *DB) getCurrentVersion() (int, error) {
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	var version int
	err = db.conn.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// Migration 001: Create schema_version table
func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		);
	`)
	return err
}

func migration001Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS schema_version;`)
	return err
}

// Migration 002: One row per image search
func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE search_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			needle TEXT NOT NULL,
			status INTEGER NOT NULL,
			match_count INTEGER NOT NULL DEFAULT 0,
			first_x INTEGER,
			first_y INTEGER,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX idx_search_log_needle ON search_log(needle);
		CREATE INDEX idx_search_log_created ON search_log(created_at);
	`)
	return err
}

func migration002Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_search_log_created;
		DROP INDEX IF EXISTS idx_search_log_needle;
		DROP TABLE IF EXISTS search_log;
	`)
	return err
}

// Migration 003: One row per calibration attempt
func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE calibration_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pid INTEGER NOT NULL,
			y_offset INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX idx_calibration_log_pid ON calibration_log(pid);
	`)
	return err
}

func migration003Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_calibration_log_pid;
		DROP TABLE IF EXISTS calibration_log;
	`)
	return err
}

// Migration 004: Per-needle failure summary
func migration004Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIEW v_search_failures AS
		SELECT
			needle,
			SUM(CASE WHEN status < 0 THEN 1 ELSE 0 END) AS error_count,
			SUM(CASE WHEN status = 0 THEN 1 ELSE 0 END) AS miss_count,
			SUM(CASE WHEN status > 0 THEN 1 ELSE 0 END) AS hit_count,
			MAX(created_at) AS last_seen
		FROM search_log
		GROUP BY needle;
	`)
	return err
}

func migration004Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP VIEW IF EXISTS v_search_failures;`)
	return err
}

// Migration 005: Rows carry the id of the session run that wrote them
func migration005Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		ALTER TABLE search_log ADD COLUMN run_id TEXT;
		ALTER TABLE calibration_log ADD COLUMN run_id TEXT;

		CREATE INDEX idx_search_log_run ON search_log(run_id);
	`)
	return err
}

func migration005Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_search_log_run;
		ALTER TABLE calibration_log DROP COLUMN run_id;
		ALTER TABLE search_log DROP COLUMN run_id;
	`)
	return err
}
