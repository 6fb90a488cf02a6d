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

// PutInvitation inserts or replaces an invitation.
func (q *queries) PutInvitation(ctx context.Context, inv *Invitation) error {
	switch inv.Side {
	case SideSender, SideReceiver:
	default:
		return newError(ErrConstraint, fmt.Sprintf("invitation %s has "+
			"unknown side %q", inv.ID, inv.Side), nil)
	}

	_, err := q.exec(ctx, `
		INSERT INTO invitations (id, server_id, side, status, amount, fee,
			counterparty, address, txid, created_at, updated_at,
			completed_at, last_failure_at, failure_count,
			last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			server_id = excluded.server_id,
			status = excluded.status,
			amount = excluded.amount,
			fee = excluded.fee,
			counterparty = excluded.counterparty,
			address = excluded.address,
			txid = excluded.txid,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			last_failure_at = excluded.last_failure_at,
			failure_count = excluded.failure_count,
			last_attempt_at = excluded.last_attempt_at`,
		inv.ID, inv.ServerID, string(inv.Side), int64(inv.Status),
		inv.Amount, inv.Fee, inv.Counterparty, inv.Address, inv.TxID,
		unixOrZero(inv.CreatedAt), unixOrZero(inv.UpdatedAt),
		unixOrZero(inv.CompletedAt), unixOrZero(inv.LastFailureAt),
		int64(inv.FailureCount), unixOrZero(inv.LastAttemptAt),
	)
	if err != nil {
		return newError(ErrDatabase, "put invitation "+inv.ID, err)
	}

	return nil
}

const invitationColumns = `id, server_id, side, status, amount, fee,
	counterparty, address, txid, created_at, updated_at, completed_at,
	last_failure_at, failure_count, last_attempt_at`

func scanInvitation(row rowScanner) (*Invitation, error) {
	var (
		inv                                   Invitation
		side                                  string
		status, failures                      int64
		created, updated, completed, lfa, lta int64
	)

	err := row.Scan(
		&inv.ID, &inv.ServerID, &side, &status, &inv.Amount, &inv.Fee,
		&inv.Counterparty, &inv.Address, &inv.TxID, &created, &updated,
		&completed, &lfa, &failures, &lta,
	)
	if err != nil {
		return nil, err
	}

	if status < 0 || status > int64(StatusExpired) {
		return nil, fmt.Errorf("invitation %s: status %d: %w", inv.ID,
			status, ErrCastingOverflow)
	}

	inv.Side = Side(side)
	inv.Status = InvitationStatus(status)
	inv.FailureCount = int(failures)
	inv.CreatedAt = timeOrZero(created)
	inv.UpdatedAt = timeOrZero(updated)
	inv.CompletedAt = timeOrZero(completed)
	inv.LastFailureAt = timeOrZero(lfa)
	inv.LastAttemptAt = timeOrZero(lta)

	return &inv, nil
}

// GetInvitation returns the invitation with the local id or ErrNotFound.
func (q *queries) GetInvitation(ctx context.Context,
	id string) (*Invitation, error) {

	row := q.queryRow(ctx, `SELECT `+invitationColumns+`
		FROM invitations WHERE id = ?`, id)

	inv, err := scanInvitation(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("invitation %s: %w", id, ErrNotFound)

	case err != nil:
		return nil, newError(ErrDatabase, "get invitation", err)
	}

	return inv, nil
}

// ListInvitations returns every invitation of the side, oldest first.
func (q *queries) ListInvitations(ctx context.Context,
	side Side) ([]*Invitation, error) {

	rows, err := q.query(ctx, `SELECT `+invitationColumns+`
		FROM invitations WHERE side = ?
		ORDER BY created_at, id`, string(side))
	if err != nil {
		return nil, newError(ErrDatabase, "list invitations", err)
	}
	defer rows.Close()

	var out []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, newError(ErrDatabase, "scan invitation", err)
		}
		out = append(out, inv)
	}

	return out, rows.Err()
}
