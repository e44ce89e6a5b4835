// Package sqlstore persists the sync client's durable state (pending queue
// items, unresolved conflicts and the activity log) in SQLite or Postgres.
package sqlstore

import (
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rpggio/tasksync/migrations"
	_ "modernc.org/sqlite"
)

// DB wraps a database handle together with its driver name.
type DB struct {
	*sqlx.DB
}

// Open connects to the database named by dsn:
//
//	tasksync.db, file:tasksync.db, sqlite://path  SQLite file
//	memory://                                     private in-memory SQLite
//	postgres://..., postgresql://...              Postgres
func Open(dsn string) (*DB, error) {
	driver, source, err := resolveDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// A single connection keeps in-memory databases alive and serializes writers.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{db}, nil
}

func resolveDSN(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("empty database dsn")
	}
	if dsn == ":memory:" {
		return "sqlite", ":memory:", nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.Scheme == "" || len(parsed.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		return "sqlite", dsn, nil
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem":
		return "sqlite", ":memory:", nil
	case "file":
		return "sqlite", dsn, nil
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(dsn, parsed.Scheme+"://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite dsn %q has no path", dsn)
		}
		return "sqlite", path, nil
	case "postgres", "postgresql":
		return "postgres", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database scheme %q", parsed.Scheme)
	}
}

// RunMigrations applies the embedded schema. It is safe to run repeatedly.
func (db *DB) RunMigrations() error {
	names, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
