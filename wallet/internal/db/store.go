// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

const (
	// BackendSQLite selects the SQLite backend.
	BackendSQLite = "sqlite"

	// BackendPostgres selects the PostgreSQL backend.
	BackendPostgres = "postgres"

	// sqliteFileName is the database file name inside the data dir.
	sqliteFileName = "walletsync.db"
)

// SQLStore is the database/sql implementation of Store shared by both
// dialects.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// A compile-time assertion to ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// NewSQLiteStore wraps an already migrated SQLite database.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLStore{db: db, dialect: DialectSQLite}, nil
}

// NewPostgresStore wraps an already migrated PostgreSQL database.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLStore{db: db, dialect: DialectPostgres}, nil
}

// Dialect returns the SQL dialect of the store.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// ExecTx runs fn in a read-write transaction and commits once on success.
func (s *SQLStore) ExecTx(ctx context.Context, fn func(Session) error) error {
	return execInTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		return fn(&queries{tx: tx, dialect: s.dialect})
	})
}

// View runs fn in a read-only transaction.
func (s *SQLStore) View(ctx context.Context, fn func(Session) error) error {
	opts := &sql.TxOptions{ReadOnly: s.dialect == DialectPostgres}

	return execInTx(ctx, s.db, opts, func(tx *sql.Tx) error {
		return fn(&queries{tx: tx, dialect: s.dialect})
	})
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SQLiteDSN builds the connection string used for a SQLite file.
func SQLiteDSN(path string) string {
	// Enable foreign keys (required for proper constraint enforcement).
	dsn := path + "?_pragma=foreign_keys=on"

	// WAL allows readers to proceed while a writer is active.
	dsn += "&_pragma=journal_mode=WAL"

	// Take the write lock when the transaction begins to avoid upgrade
	// deadlocks between concurrent scopes.
	dsn += "&_txlock=immediate"

	// Retry for up to 5 seconds on SQLITE_BUSY.
	dsn += "&_pragma=busy_timeout=5000"

	return dsn
}

// OpenSQLite opens (creating if needed) the SQLite database in dataDir and
// applies migrations.
func OpenSQLite(dataDir string) (*SQLStore, error) {
	path := filepath.Join(dataDir, sqliteFileName)

	conn, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, newError(ErrDatabase, "open sqlite", err)
	}

	if err := ApplySQLiteMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, newError(ErrMigration, "migrate sqlite", err)
	}

	log.Infof("Opened sqlite store at %s", path)

	return NewSQLiteStore(conn)
}

// OpenPostgres connects to PostgreSQL and applies migrations.
func OpenPostgres(dsn string) (*SQLStore, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, newError(ErrDatabase, "open postgres", err)
	}

	if err := ApplyPostgresMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, newError(ErrMigration, "migrate postgres", err)
	}

	log.Infof("Opened postgres store")

	return NewPostgresStore(conn)
}

// Open opens the store for the named backend. target is the data directory
// for SQLite and the DSN for PostgreSQL.
func Open(backend, target string) (*SQLStore, error) {
	switch strings.ToLower(backend) {
	case BackendSQLite:
		return OpenSQLite(target)

	case BackendPostgres:
		return OpenPostgres(target)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
