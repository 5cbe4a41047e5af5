// Package store is the relational persistence layer: jobs, plugin catalogue
// rows, findings, artifacts, trace events, and generic audit events.
//
// Two drivers are supported: postgres (lib/pq) for deployments and sqlite
// (modernc, CGo-free) as the zero-setup default. Queries are written once
// with ? placeholders and rebound per dialect through sqlx.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrTerminal is returned when a lifecycle update targets a job that
	// already reached a final status.
	ErrTerminal = errors.New("store: job already terminal")
)

// DriverPostgres and DriverSQLite are the accepted config values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store wraps the connection pool and the SQL for all six tables.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects, applies pool settings and pragmas, and verifies the
// connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" && !strings.Contains(dsn, ":memory:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("open store: unknown driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if driver == DriverPostgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	} else {
		// modernc/sqlite serialises writers; a single connection avoids
		// SQLITE_BUSY churn under the worker pool and keeps the pragmas
		// applied below in force for every statement.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign_keys: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Driver returns the active driver name.
func (s *Store) Driver() string { return s.driver }

// rebind converts ?-style placeholders to the dialect's form.
func (s *Store) rebind(query string) string { return s.db.Rebind(query) }

// encodeJSON marshals open-ended payload trees for TEXT columns. A nil value
// encodes as the given zero literal so columns stay NOT NULL.
func encodeJSON(v any, zero string) (string, error) {
	if v == nil {
		return zero, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

// decodeJSON unmarshals a TEXT column into out; empty text is left as nil.
func decodeJSON(s string, out any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
