package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQL is a KV backed by a single "kv" table.
type SQL struct {
	db      *sql.DB
	dialect string
}

// OpenSQL connects to the database, checks it and creates the kv table.
func OpenSQL(driver, dsn string) (*SQL, error) {
	dialect, err := normalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must be provided", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == "sqlite3" {
		// one writer at a time avoids SQLITE_BUSY on the file
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQL{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func normalizeDriver(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	case "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", driver)
	}
}

func (s *SQL) migrate() error {
	var stmt string
	switch s.dialect {
	case "mysql":
		stmt = `CREATE TABLE IF NOT EXISTS kv (
			k VARCHAR(191) NOT NULL PRIMARY KEY,
			v LONGTEXT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	default:
		stmt = `CREATE TABLE IF NOT EXISTS kv (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)`
	}
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to create kv table (%s): %w", s.dialect, err)
	}
	return nil
}

// Get returns the value for key or ErrMissing.
func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT v FROM kv WHERE k = ?"), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMissing
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

// Set inserts or replaces the value for key.
func (s *SQL) Set(ctx context.Context, key, value string) error {
	var stmt string
	switch s.dialect {
	case "mysql":
		stmt = "INSERT INTO kv (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)"
	default:
		stmt = "INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v"
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(stmt), key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM kv WHERE k = ?"), key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database
func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
