// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour of a store.
type Dialect uint8

const (
	// DialectSQLite is SQLite through modernc.org/sqlite.
	DialectSQLite Dialect = iota

	// DialectPostgres is PostgreSQL through pgx.
	DialectPostgres
)

// String returns the name of the dialect.
func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}

	return "sqlite"
}

// rebind rewrites the '?' placeholders used by the queries of this package
// into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

// execInTx runs fn inside a database transaction. The transaction is
// committed if fn returns nil and rolled back otherwise.
func execInTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions,
	fn func(*sql.Tx) error) error {

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return newError(ErrDatabase, "begin transaction", err)
	}

	if err := fn(tx); err != nil {
		rbErr := tx.Rollback()
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Errorf("Rollback failed after %v: %v", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return newError(ErrCommit, "commit transaction", err)
	}

	return nil
}

// queries implements Session over a single database transaction.
type queries struct {
	tx      *sql.Tx
	dialect Dialect
}

// A compile-time assertion to ensure queries implements Session.
var _ Session = (*queries)(nil)

func (q *queries) exec(ctx context.Context, query string,
	args ...any) (sql.Result, error) {

	return q.tx.ExecContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string,
	args ...any) (*sql.Rows, error) {

	return q.tx.QueryContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string,
	args ...any) *sql.Row {

	return q.tx.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// Wipe deletes every record and resets the sync state.
func (q *queries) Wipe(ctx context.Context) error {
	tables := []string{
		"reserved_outputs", "temporary_sent", "transaction_inputs",
		"transaction_outputs", "transactions", "invitations",
		"server_pool", "gap_indices", "addresses", "derivation_paths",
	}
	for _, table := range tables {
		if _, err := q.exec(ctx, "DELETE FROM "+table); err != nil {
			return newError(ErrDatabase, "wipe "+table, err)
		}
	}

	return q.PutSyncState(ctx, SyncState{
		LastReceiveIndex: -1,
		LastChangeIndex:  -1,
	})
}

// scanUint32s collects a single uint32 column.
func scanUint32s(rows *sql.Rows) ([]uint32, error) {
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}

		u, err := int64ToUint32(v)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}

	return out, rows.Err()
}
