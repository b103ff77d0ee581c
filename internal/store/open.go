package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Open builds the KV selected by driver. An empty sqlite dsn places the database
// under ~/.respondr.
func Open(driver, dsn string) (KV, error) {
	switch strings.ToLower(driver) {
	case "memory":
		return NewMemory(), nil
	case "redis":
		if dsn == "" {
			dsn = "redis://127.0.0.1:6379/0"
		}
		return OpenRedis(dsn, "respondr:")
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			path, err := defaultSQLitePath()
			if err != nil {
				return nil, err
			}
			dsn = path
		}
		return OpenSQL("sqlite3", dsn)
	default:
		return OpenSQL(driver, dsn)
	}
}

func defaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".respondr")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(dir, "respondr.db"), nil
}
