// Package cache persists sync state in a local SQLite database so repeated
// sync runs can skip pages that have not changed since they were last pushed.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS synced_pages (
	source_space   TEXT NOT NULL,
	target_space   TEXT NOT NULL,
	title          TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	version_when   TEXT,
	synced_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (source_space, target_space, title)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	source_space  TEXT NOT NULL,
	target_space  TEXT NOT NULL,
	mode          TEXT NOT NULL,
	started_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	finished_at   TIMESTAMP,
	pages_synced  INTEGER NOT NULL DEFAULT 0,
	pages_skipped INTEGER NOT NULL DEFAULT 0,
	pages_failed  INTEGER NOT NULL DEFAULT 0
);
`

// DB is the sync-state store.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the sync-state database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync cache: %w", err)
	}
	// SQLite handles one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sync cache schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SyncRecord is the last-pushed state of one page for a space pair.
type SyncRecord struct {
	Title         string
	VersionNumber int
	VersionWhen   string
	SyncedAt      time.Time
}

// LastSynced returns the record for a page, or nil when it was never synced.
func (d *DB) LastSynced(source, target, title string) (*SyncRecord, error) {
	row := d.db.QueryRow(
		`SELECT title, version_number, COALESCE(version_when, ''), synced_at
		 FROM synced_pages WHERE source_space = ? AND target_space = ? AND title = ?`,
		source, target, title)

	var rec SyncRecord
	err := row.Scan(&rec.Title, &rec.VersionNumber, &rec.VersionWhen, &rec.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync cache: %w", err)
	}
	return &rec, nil
}

// RecordSync upserts the last-pushed version of a page.
func (d *DB) RecordSync(source, target, title string, versionNumber int, versionWhen string) error {
	_, err := d.db.Exec(
		`INSERT INTO synced_pages (source_space, target_space, title, version_number, version_when, synced_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(source_space, target_space, title) DO UPDATE SET
		   version_number = excluded.version_number,
		   version_when   = excluded.version_when,
		   synced_at      = CURRENT_TIMESTAMP`,
		source, target, title, versionNumber, versionWhen)
	if err != nil {
		return fmt.Errorf("failed to record sync state for %q: %w", title, err)
	}
	return nil
}

// StartRun inserts a sync-run history row and returns its id.
func (d *DB) StartRun(source, target, mode string) (int64, error) {
	res, err := d.db.Exec(
		`INSERT INTO sync_runs (source_space, target_space, mode) VALUES (?, ?, ?)`,
		source, target, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to record sync run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stamps a run's end time and counters.
func (d *DB) FinishRun(id int64, synced, skipped, failed int) error {
	_, err := d.db.Exec(
		`UPDATE sync_runs SET finished_at = CURRENT_TIMESTAMP,
		   pages_synced = ?, pages_skipped = ?, pages_failed = ? WHERE id = ?`,
		synced, skipped, failed, id)
	if err != nil {
		return fmt.Errorf("failed to finish sync run %d: %w", id, err)
	}
	return nil
}

// RunRecord is one row of sync-run history.
type RunRecord struct {
	ID           int64
	SourceSpace  string
	TargetSpace  string
	Mode         string
	StartedAt    time.Time
	PagesSynced  int
	PagesSkipped int
	PagesFailed  int
}

// RecentRuns returns the most recent sync runs, newest first.
func (d *DB) RecentRuns(limit int) ([]RunRecord, error) {
	rows, err := d.db.Query(
		`SELECT id, source_space, target_space, mode, started_at,
		        pages_synced, pages_skipped, pages_failed
		 FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.SourceSpace, &r.TargetSpace, &r.Mode, &r.StartedAt,
			&r.PagesSynced, &r.PagesSkipped, &r.PagesFailed); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
