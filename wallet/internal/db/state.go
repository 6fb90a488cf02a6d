// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"fmt"
)

// PutPoolEntry records an address registered in the server pool. The
// address must already be known.
func (q *queries) PutPoolEntry(ctx context.Context, entry PoolEntry) error {
	_, err := q.exec(ctx, `
		INSERT INTO server_pool (address, created_at) VALUES (?, ?)
		ON CONFLICT DO NOTHING`,
		entry.Address, unixOrZero(entry.CreatedAt),
	)
	if err != nil {
		return newError(ErrDatabase, "put pool entry "+entry.Address, err)
	}

	return nil
}

// ListPoolEntries returns every pool entry ordered by index.
func (q *queries) ListPoolEntries(ctx context.Context) ([]PoolEntry, error) {
	rows, err := q.query(ctx, `
		SELECT p.address, a.idx, p.created_at
		FROM server_pool p
		JOIN addresses a ON a.address = p.address
		ORDER BY a.idx`)
	if err != nil {
		return nil, newError(ErrDatabase, "list pool entries", err)
	}
	defer rows.Close()

	var out []PoolEntry
	for rows.Next() {
		var (
			entry            PoolEntry
			index, createdAt int64
		)
		err := rows.Scan(&entry.Address, &index, &createdAt)
		if err == nil {
			entry.Index, err = int64ToUint32(index)
		}
		if err != nil {
			return nil, newError(ErrDatabase, "scan pool entry", err)
		}

		entry.CreatedAt = timeOrZero(createdAt)
		out = append(out, entry)
	}

	return out, rows.Err()
}

// DeletePoolEntry removes a pool entry.
func (q *queries) DeletePoolEntry(ctx context.Context, addr string) error {
	_, err := q.exec(ctx, `DELETE FROM server_pool WHERE address = ?`, addr)
	if err != nil {
		return newError(ErrDatabase, "delete pool entry "+addr, err)
	}

	return nil
}

// GetSyncState returns the sync state.
func (q *queries) GetSyncState(ctx context.Context) (SyncState, error) {
	var (
		s                      SyncState
		height                 int64
		fast, medium, slow     int64
		lastSync, lastFullSync int64
	)

	err := q.queryRow(ctx, `
		SELECT last_receive_index, last_change_index, block_height,
			fee_fast, fee_medium, fee_slow, price_cents, last_sync_at,
			last_full_sync_at
		FROM sync_state WHERE id = 1`).Scan(
		&s.LastReceiveIndex, &s.LastChangeIndex, &height, &fast,
		&medium, &slow, &s.PriceCents, &lastSync, &lastFullSync,
	)
	if err != nil {
		return s, newError(ErrDatabase, "get sync state", err)
	}

	if s.BlockHeight, err = int64ToInt32(height); err != nil {
		return s, newError(ErrDatabase, "block height", err)
	}
	if s.FeeFast, err = int64ToUint64(fast); err != nil {
		return s, newError(ErrDatabase, "fast fee", err)
	}
	if s.FeeMedium, err = int64ToUint64(medium); err != nil {
		return s, newError(ErrDatabase, "medium fee", err)
	}
	if s.FeeSlow, err = int64ToUint64(slow); err != nil {
		return s, newError(ErrDatabase, "slow fee", err)
	}

	s.LastSyncAt = timeOrZero(lastSync)
	s.LastFullSyncAt = timeOrZero(lastFullSync)

	return s, nil
}

// PutSyncState replaces the sync state.
func (q *queries) PutSyncState(ctx context.Context, s SyncState) error {
	if s.LastReceiveIndex < -1 || s.LastChangeIndex < -1 {
		return newError(ErrConstraint, fmt.Sprintf("invalid high-water "+
			"marks %d/%d", s.LastReceiveIndex, s.LastChangeIndex), nil)
	}

	fees := make([]int64, 0, 3)
	for _, fee := range []uint64{s.FeeFast, s.FeeMedium, s.FeeSlow} {
		v, err := uint64ToInt64(fee)
		if err != nil {
			return newError(ErrConstraint, "fee estimate", err)
		}
		fees = append(fees, v)
	}

	_, err := q.exec(ctx, `
		UPDATE sync_state SET last_receive_index = ?,
			last_change_index = ?, block_height = ?, fee_fast = ?,
			fee_medium = ?, fee_slow = ?, price_cents = ?,
			last_sync_at = ?, last_full_sync_at = ?
		WHERE id = 1`,
		s.LastReceiveIndex, s.LastChangeIndex, int64(s.BlockHeight),
		fees[0], fees[1], fees[2], s.PriceCents,
		unixOrZero(s.LastSyncAt), unixOrZero(s.LastFullSyncAt),
	)
	if err != nil {
		return newError(ErrDatabase, "put sync state", err)
	}

	return nil
}

// ListGapIndices returns the recorded gap indices of a branch, ascending.
func (q *queries) ListGapIndices(ctx context.Context,
	change uint32) ([]uint32, error) {

	rows, err := q.query(ctx, `
		SELECT idx FROM gap_indices WHERE branch = ? ORDER BY idx`,
		int64(change))
	if err != nil {
		return nil, newError(ErrDatabase, "list gap indices", err)
	}

	indices, err := scanUint32s(rows)
	if err != nil {
		return nil, newError(ErrDatabase, "scan gap indices", err)
	}

	return indices, nil
}

// ReplaceGapIndices replaces the gap indices of a branch.
func (q *queries) ReplaceGapIndices(ctx context.Context, change uint32,
	indices []uint32) error {

	_, err := q.exec(ctx, `DELETE FROM gap_indices WHERE branch = ?`,
		int64(change))
	if err != nil {
		return newError(ErrDatabase, "clear gap indices", err)
	}

	for _, idx := range indices {
		_, err := q.exec(ctx, `
			INSERT INTO gap_indices (branch, idx) VALUES (?, ?)
			ON CONFLICT DO NOTHING`, int64(change), int64(idx))
		if err != nil {
			return newError(ErrDatabase, "insert gap index", err)
		}
	}

	return nil
}
