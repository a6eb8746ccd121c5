// Package db persists detection runs and their objects to SQLite. Each
// service start opens one run; every detection cycle appends its
// accepted objects under that run in a single transaction.
package db

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL connection with skywatch-specific operations.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the database at path and ensures
// the base schema exists. Use OpenDB instead when migrations manage
// the schema.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS detection_runs (
			run_id            TEXT PRIMARY KEY,
			source            TEXT NOT NULL DEFAULT '',
			preset            TEXT NOT NULL DEFAULT '',
			started_at        DOUBLE NOT NULL,
			ended_at          DOUBLE,
			scan_count        BIGINT NOT NULL DEFAULT 0,
			object_count      BIGINT NOT NULL DEFAULT 0,
			target_count      BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS detections (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id            TEXT NOT NULL,
			scan_id           BIGINT NOT NULL,
			scan_stamp        DOUBLE NOT NULL,
			center_x          DOUBLE NOT NULL,
			center_y          DOUBLE NOT NULL,
			center_z          DOUBLE NOT NULL,
			size_x            DOUBLE NOT NULL,
			size_y            DOUBLE NOT NULL,
			size_z            DOUBLE NOT NULL,
			distance          DOUBLE NOT NULL,
			point_count       BIGINT NOT NULL,
			confidence        DOUBLE NOT NULL,
			is_target         BOOLEAN NOT NULL,
			created_at        DOUBLE NOT NULL,
			FOREIGN KEY(run_id) REFERENCES detection_runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS idx_detections_run_id ON detections(run_id);
		CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// OpenDB opens the database at path without touching the schema, for
// use with migration-managed databases.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}
