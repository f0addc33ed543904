package db

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] upgrades a database from version i+1 to i+2. Fresh
// databases get the full schema at the latest version. Append only.
var migrations []string

// SchemaVersion returns the schema version this build writes
func SchemaVersion() int {
	return len(migrations) + 1
}

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	ctx := context.Background()

	// Check if schema_version table exists
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		// First time initialization
		if err := initializeSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	currentVersion, err := Version(db)
	if err != nil {
		return err
	}

	latest := SchemaVersion()
	if currentVersion < 1 || currentVersion > latest {
		return fmt.Errorf("invalid schema version: %d", currentVersion)
	}

	for v := currentVersion; v < latest; v++ {
		if err := migrate(ctx, db, v); err != nil {
			return fmt.Errorf("failed to migrate schema from version %d: %w", v, err)
		}
	}

	return nil
}

// Version returns the schema version recorded in the database
func Version(db *DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current schema version: %w", err)
	}
	return version, nil
}

func migrate(ctx context.Context, db *DB, from int) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := execSQL(tx, migrations[from-1]); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, from+1); err != nil {
		return err
	}

	return tx.Commit()
}

// initializeSchema creates all tables for a new database
func initializeSchema(ctx context.Context, db *DB) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := execSQL(tx, schemaVersionTable); err != nil {
		return err
	}

	// Client usage table
	if err := execSQL(tx, clientUsageTable); err != nil {
		return err
	}

	// Audit logs table
	if err := execSQL(tx, auditLogsTable); err != nil {
		return err
	}
	if err := execSQL(tx, auditLogsIndexes); err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion()); err != nil {
		return err
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

// Schema definitions
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	clientUsageTable = `
CREATE TABLE client_usage (
    name            TEXT PRIMARY KEY,
    total_sent      INTEGER NOT NULL DEFAULT 0,
    total_received  INTEGER NOT NULL DEFAULT 0,
    last_sent       INTEGER NOT NULL DEFAULT 0,
    last_received   INTEGER NOT NULL DEFAULT 0,
    updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	auditLogsTable = `
CREATE TABLE audit_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    action      TEXT NOT NULL,
    username    TEXT,
    client      TEXT,
    client_ip   TEXT NOT NULL,
    user_agent  TEXT,
    success     INTEGER NOT NULL,
    error_msg   TEXT,
    details     TEXT
)`

	auditLogsIndexes = `
CREATE INDEX idx_audit_timestamp ON audit_logs(timestamp);
CREATE INDEX idx_audit_action ON audit_logs(action);
CREATE INDEX idx_audit_client ON audit_logs(client);
CREATE INDEX idx_audit_success ON audit_logs(success)`
)
