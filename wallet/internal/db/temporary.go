// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
)

// PutTemporarySent records a temporary sent transaction and its
// reservations.
func (q *queries) PutTemporarySent(ctx context.Context,
	rec *TemporarySent) error {

	_, err := q.exec(ctx, `
		INSERT INTO temporary_sent (id, txid, ledger, amount, fee,
			sent_to_self, invitation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TxID, string(rec.Ledger), rec.Amount, rec.Fee,
		rec.SentToSelf, rec.InvitationID, unixOrZero(rec.CreatedAt),
	)
	if err != nil {
		return newError(ErrDatabase, "insert temporary sent "+rec.TxID,
			err)
	}

	for _, op := range rec.Reserved {
		_, err := q.exec(ctx, `
			INSERT INTO reserved_outputs (temporary_id, txid, idx)
			VALUES (?, ?, ?)`, rec.ID, op.TxID, int64(op.Index))
		if err != nil {
			return newError(ErrDatabase, "reserve "+op.String(), err)
		}
	}

	return nil
}

// ListTemporarySent returns every temporary sent transaction of the ledger,
// oldest first.
func (q *queries) ListTemporarySent(ctx context.Context,
	ledger LedgerType) ([]*TemporarySent, error) {

	rows, err := q.query(ctx, `
		SELECT id, txid, ledger, amount, fee, sent_to_self,
			invitation_id, created_at
		FROM temporary_sent WHERE ledger = ?
		ORDER BY created_at, id`, string(ledger))
	if err != nil {
		return nil, newError(ErrDatabase, "list temporary sent", err)
	}

	var (
		out  []*TemporarySent
		byID = make(map[string]*TemporarySent)
	)
	for rows.Next() {
		var (
			rec       TemporarySent
			ledgerStr string
			createdAt int64
		)
		err := rows.Scan(
			&rec.ID, &rec.TxID, &ledgerStr, &rec.Amount, &rec.Fee,
			&rec.SentToSelf, &rec.InvitationID, &createdAt,
		)
		if err != nil {
			rows.Close()
			return nil, newError(ErrDatabase, "scan temporary sent",
				err)
		}

		rec.Ledger = LedgerType(ledgerStr)
		rec.CreatedAt = timeOrZero(createdAt)
		out = append(out, &rec)
		byID[rec.ID] = &rec
	}
	if err := rows.Close(); err != nil {
		return nil, newError(ErrDatabase, "close temporary sent", err)
	}

	rows, err = q.query(ctx, `
		SELECT r.temporary_id, r.txid, r.idx
		FROM reserved_outputs r
		JOIN temporary_sent s ON s.id = r.temporary_id
		WHERE s.ledger = ?
		ORDER BY r.txid, r.idx`, string(ledger))
	if err != nil {
		return nil, newError(ErrDatabase, "list reservations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			op   OutPoint
			vout int64
		)
		err := rows.Scan(&id, &op.TxID, &vout)
		if err == nil {
			op.Index, err = int64ToUint32(vout)
		}
		if err != nil {
			return nil, newError(ErrDatabase, "scan reservation", err)
		}

		if rec, ok := byID[id]; ok {
			rec.Reserved = append(rec.Reserved, op)
		}
	}

	return out, rows.Err()
}

// DeleteTemporarySent removes the record for txid, releasing its
// reservations. Deleting an unknown txid is a no-op.
func (q *queries) DeleteTemporarySent(ctx context.Context, txid string) error {
	_, err := q.exec(ctx, `
		DELETE FROM reserved_outputs WHERE temporary_id IN (
			SELECT id FROM temporary_sent WHERE txid = ?
		)`, txid)
	if err != nil {
		return newError(ErrDatabase, "release reservations", err)
	}

	_, err = q.exec(ctx, `DELETE FROM temporary_sent WHERE txid = ?`, txid)
	if err != nil {
		return newError(ErrDatabase, "delete temporary sent "+txid, err)
	}

	return nil
}
