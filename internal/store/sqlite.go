// Package store provides the local reference implementations of the
// graph, vector, document, and cache capabilities. Graph, vector, and
// document data live in per-brain SQLite files under the data directory;
// the cache is Redis with an in-memory variant for tests and
// single-process runs.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"brain/internal/logging"
)

// brainNameRe strips anything that is not filesystem-safe.
var brainNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// sanitizeBrain maps a brain id onto a safe directory name.
func sanitizeBrain(brain string) string {
	brain = strings.TrimLeft(strings.TrimSpace(brain), "/")
	brain = brainNameRe.ReplaceAllString(brain, "_")
	if brain == "" {
		brain = "default"
	}
	return brain
}

// brainPath returns the path of one database file for a brain.
func brainPath(dataDir, brain, file string) string {
	return filepath.Join(dataDir, sanitizeBrain(brain), file)
}

// openDB opens a SQLite database with the standard pragmas. SQLite is a
// single-writer engine; one connection avoids SQLITE_BUSY churn and the
// busy_timeout covers cross-process contention.
func openDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	return db, nil
}

// verifyTable probes for a table after schema creation, retrying up to
// maxProbes times. Lazy database creation can race with a concurrent
// opener of the same file; the probe loop makes creation observable
// before first use.
func verifyTable(db *sql.DB, table string) error {
	const maxProbes = 10
	var lastErr error
	for i := 0; i < maxProbes; i++ {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("table %s not visible after %d probes: %w", table, 10, lastErr)
}
