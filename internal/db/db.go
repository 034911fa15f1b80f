// Package db opens the workspace-local SQLite database that backs the
// engagement store. All state lives in a single file under .fairlance/
// so a workspace can be copied or thrown away wholesale.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFile = "fairlance.db"

type Config struct {
	Workspace string
}

func filePath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".fairlance", dbFile)
}

// EnsureWorkspace creates the .fairlance data directory if missing and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, ".fairlance")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the engagement database. Foreign keys are enforced (the
// milestone and rating tables cascade from engagements) and writers wait
// out short lock contention instead of failing.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filePath(cfg.Workspace))
	return sql.Open("sqlite", dsn)
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	return filePath(workspace)
}
