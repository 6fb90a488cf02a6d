// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PutAddress records a derived address and its derivation path.
func (q *queries) PutAddress(ctx context.Context, rec AddressRecord) error {
	p := rec.Path

	_, err := q.exec(ctx, `
		INSERT INTO derivation_paths (purpose, coin, account, branch, idx)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		int64(p.Purpose), int64(p.Coin), int64(p.Account),
		int64(p.Change), int64(p.Index),
	)
	if err != nil {
		return newError(ErrDatabase, "insert derivation path", err)
	}

	_, err = q.exec(ctx, `
		INSERT INTO addresses (address, purpose, coin, account, branch,
			idx, pub_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		rec.Address, int64(p.Purpose), int64(p.Coin), int64(p.Account),
		int64(p.Change), int64(p.Index), rec.PubKey,
		unixOrZero(rec.CreatedAt),
	)
	if err != nil {
		return newError(ErrDatabase, "insert address "+rec.Address, err)
	}

	// A path can only ever map to one address. Catch a derivation that
	// disagrees with what was stored before.
	stored, err := q.GetAddress(ctx, rec.Address)
	if err != nil {
		return err
	}
	if stored.Path != p {
		return newError(ErrConstraint, fmt.Sprintf("address %s stored "+
			"at %v, not %v", rec.Address, stored.Path, p), nil)
	}

	return nil
}

const addressColumns = `address, purpose, coin, account, branch, idx,
	pub_key, created_at`

func scanAddress(row rowScanner) (AddressRecord, error) {
	var (
		rec                                   AddressRecord
		purpose, coin, account, branch, index int64
		createdAt                             int64
	)

	err := row.Scan(
		&rec.Address, &purpose, &coin, &account, &branch, &index,
		&rec.PubKey, &createdAt,
	)
	if err != nil {
		return rec, err
	}

	rec.Path, err = pathFromRow(purpose, coin, account, branch, index)
	rec.CreatedAt = timeOrZero(createdAt)

	return rec, err
}

// GetAddress returns the record for addr or ErrNotFound.
func (q *queries) GetAddress(ctx context.Context,
	addr string) (AddressRecord, error) {

	row := q.queryRow(ctx, `SELECT `+addressColumns+`
		FROM addresses WHERE address = ?`, addr)

	rec, err := scanAddress(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return rec, fmt.Errorf("address %s: %w", addr, ErrNotFound)

	case err != nil:
		return rec, newError(ErrDatabase, "get address", err)
	}

	return rec, nil
}

// ListAddresses returns the addresses of a branch ordered by index.
func (q *queries) ListAddresses(ctx context.Context,
	change uint32) ([]AddressRecord, error) {

	rows, err := q.query(ctx, `SELECT `+addressColumns+`
		FROM addresses WHERE branch = ? ORDER BY idx`, int64(change))
	if err != nil {
		return nil, newError(ErrDatabase, "list addresses", err)
	}
	defer rows.Close()

	var out []AddressRecord
	for rows.Next() {
		rec, err := scanAddress(rows)
		if err != nil {
			return nil, newError(ErrDatabase, "scan address", err)
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// UsedIndices returns the ascending indices of a branch that received an
// output in a non-failed transaction.
func (q *queries) UsedIndices(ctx context.Context,
	change uint32) ([]uint32, error) {

	rows, err := q.query(ctx, `
		SELECT DISTINCT a.idx
		FROM addresses a
		JOIN transaction_outputs o ON o.address = a.address
		JOIN transactions t ON t.txid = o.txid
		WHERE a.branch = ? AND t.broadcast_failed = FALSE
		ORDER BY a.idx`, int64(change))
	if err != nil {
		return nil, newError(ErrDatabase, "list used indices", err)
	}

	indices, err := scanUint32s(rows)
	if err != nil {
		return nil, newError(ErrDatabase, "scan used indices", err)
	}

	return indices, nil
}
