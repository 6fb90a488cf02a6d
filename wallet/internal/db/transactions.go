// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertTransaction inserts rec or merges it into the existing record.
func (q *queries) UpsertTransaction(ctx context.Context, rec *TxRecord) error {
	var price sql.NullInt64
	if rec.PriceCents != nil {
		price = sql.NullInt64{Int64: *rec.PriceCents, Valid: true}
	}

	_, err := q.exec(ctx, `
		INSERT INTO transactions (txid, block_height, block_hash, tx_time,
			fee, sent_to_self, broadcast_failed, failed_at, broadcast_at,
			invitation_id, memo, memo_checked, price_cents)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, 0, ?, ?, ?, ?, ?)
		ON CONFLICT (txid) DO UPDATE SET
			block_height = excluded.block_height,
			block_hash = excluded.block_hash,
			tx_time = CASE WHEN excluded.tx_time = 0
				THEN transactions.tx_time
				ELSE excluded.tx_time END,
			fee = excluded.fee,
			sent_to_self = excluded.sent_to_self,
			broadcast_failed = FALSE,
			failed_at = 0,
			broadcast_at = CASE WHEN excluded.broadcast_at = 0
				THEN transactions.broadcast_at
				ELSE excluded.broadcast_at END,
			invitation_id = CASE WHEN excluded.invitation_id = ''
				THEN transactions.invitation_id
				ELSE excluded.invitation_id END,
			memo = CASE WHEN excluded.memo = ''
				THEN transactions.memo
				ELSE excluded.memo END,
			memo_checked = (transactions.memo_checked OR
				excluded.memo_checked),
			price_cents = COALESCE(excluded.price_cents,
				transactions.price_cents)`,
		rec.TxID, int64(rec.BlockHeight), rec.BlockHash,
		unixOrZero(rec.Time), rec.Fee, rec.SentToSelf,
		unixOrZero(rec.BroadcastAt), rec.InvitationID, rec.Memo,
		rec.MemoChecked, price,
	)
	if err != nil {
		return newError(ErrDatabase, "upsert transaction "+rec.TxID, err)
	}

	if err := q.replaceDetails(ctx, rec); err != nil {
		return err
	}

	rec.BroadcastFailed = false
	rec.FailedAt = time.Time{}

	return nil
}

// replaceDetails swaps the stored inputs and outputs of rec for the ones it
// carries.
func (q *queries) replaceDetails(ctx context.Context, rec *TxRecord) error {
	_, err := q.exec(ctx, `DELETE FROM transaction_inputs WHERE txid = ?`,
		rec.TxID)
	if err != nil {
		return newError(ErrDatabase, "delete inputs", err)
	}

	_, err = q.exec(ctx, `DELETE FROM transaction_outputs WHERE txid = ?`,
		rec.TxID)
	if err != nil {
		return newError(ErrDatabase, "delete outputs", err)
	}

	for _, in := range rec.Inputs {
		_, err := q.exec(ctx, `
			INSERT INTO transaction_inputs (txid, idx, prev_txid,
				prev_vout, amount, address, coinbase, owned)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.TxID, int64(in.Index), in.PrevOut.TxID,
			int64(in.PrevOut.Index), in.Amount, in.Address,
			in.Coinbase, in.Owned,
		)
		if err != nil {
			return newError(ErrDatabase, fmt.Sprintf("insert input "+
				"%s:%d", rec.TxID, in.Index), err)
		}
	}

	for _, out := range rec.Outputs {
		pkScript := out.PkScript
		if pkScript == nil {
			pkScript = []byte{}
		}

		_, err := q.exec(ctx, `
			INSERT INTO transaction_outputs (txid, idx, amount, address,
				pk_script, owned)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.TxID, int64(out.Index), out.Amount, out.Address,
			pkScript, out.Owned,
		)
		if err != nil {
			return newError(ErrDatabase, fmt.Sprintf("insert output "+
				"%s:%d", rec.TxID, out.Index), err)
		}
	}

	return nil
}

const txColumns = `txid, block_height, block_hash, tx_time, fee,
	sent_to_self, broadcast_failed, failed_at, broadcast_at, invitation_id,
	memo, memo_checked, price_cents`

func scanTransaction(row rowScanner) (*TxRecord, error) {
	var (
		rec                   TxRecord
		height, txTime        int64
		failedAt, broadcastAt int64
		price                 sql.NullInt64
	)

	err := row.Scan(
		&rec.TxID, &height, &rec.BlockHash, &txTime, &rec.Fee,
		&rec.SentToSelf, &rec.BroadcastFailed, &failedAt, &broadcastAt,
		&rec.InvitationID, &rec.Memo, &rec.MemoChecked, &price,
	)
	if err != nil {
		return nil, err
	}

	rec.BlockHeight, err = int64ToInt32(height)
	if err != nil {
		return nil, err
	}

	rec.Time = timeOrZero(txTime)
	rec.FailedAt = timeOrZero(failedAt)
	rec.BroadcastAt = timeOrZero(broadcastAt)
	if price.Valid {
		cents := price.Int64
		rec.PriceCents = &cents
	}

	return &rec, nil
}

// loadDetails fills the inputs and outputs of rec.
func (q *queries) loadDetails(ctx context.Context, rec *TxRecord) error {
	rows, err := q.query(ctx, `
		SELECT idx, prev_txid, prev_vout, amount, address, coinbase,
			owned
		FROM transaction_inputs WHERE txid = ? ORDER BY idx`, rec.TxID)
	if err != nil {
		return newError(ErrDatabase, "list inputs", err)
	}

	rec.Inputs = nil
	for rows.Next() {
		var (
			in        TxInput
			idx, vout int64
		)
		err := rows.Scan(
			&idx, &in.PrevOut.TxID, &vout, &in.Amount, &in.Address,
			&in.Coinbase, &in.Owned,
		)
		if err == nil {
			in.Index, err = int64ToUint32(idx)
		}
		if err == nil {
			in.PrevOut.Index, err = int64ToUint32(vout)
		}
		if err != nil {
			rows.Close()
			return newError(ErrDatabase, "scan input", err)
		}

		rec.Inputs = append(rec.Inputs, in)
	}
	if err := rows.Close(); err != nil {
		return newError(ErrDatabase, "close inputs", err)
	}

	rows, err = q.query(ctx, `
		SELECT idx, amount, address, pk_script, owned
		FROM transaction_outputs WHERE txid = ? ORDER BY idx`, rec.TxID)
	if err != nil {
		return newError(ErrDatabase, "list outputs", err)
	}
	defer rows.Close()

	rec.Outputs = nil
	for rows.Next() {
		var (
			out TxOutput
			idx int64
		)
		err := rows.Scan(
			&idx, &out.Amount, &out.Address, &out.PkScript, &out.Owned,
		)
		if err == nil {
			out.Index, err = int64ToUint32(idx)
		}
		if err != nil {
			return newError(ErrDatabase, "scan output", err)
		}

		rec.Outputs = append(rec.Outputs, out)
	}

	return rows.Err()
}

// GetTransaction returns the record with inputs and outputs or ErrNotFound.
func (q *queries) GetTransaction(ctx context.Context,
	txid string) (*TxRecord, error) {

	row := q.queryRow(ctx, `SELECT `+txColumns+`
		FROM transactions WHERE txid = ?`, txid)

	rec, err := scanTransaction(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("transaction %s: %w", txid, ErrNotFound)

	case err != nil:
		return nil, newError(ErrDatabase, "get transaction", err)
	}

	if err := q.loadDetails(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// ListTransactions returns the records matching filter, newest first.
func (q *queries) ListTransactions(ctx context.Context,
	filter TxQuery) ([]*TxRecord, error) {

	var where []string
	switch {
	case filter.Failed:
		where = append(where, "broadcast_failed = TRUE")

	case !filter.IncludeFailed:
		where = append(where, "broadcast_failed = FALSE")
	}
	if filter.Unconfirmed {
		where = append(where, "block_height = 0")
	}
	if filter.MissingPrice {
		where = append(where, "price_cents IS NULL")
	}
	if filter.MissingMemo {
		where = append(where, "memo_checked = FALSE")
	}

	stmt := `SELECT ` + txColumns + ` FROM transactions`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY tx_time DESC, txid`

	rows, err := q.query(ctx, stmt)
	if err != nil {
		return nil, newError(ErrDatabase, "list transactions", err)
	}

	var out []*TxRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, newError(ErrDatabase, "scan transaction", err)
		}
		out = append(out, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, newError(ErrDatabase, "close transactions", err)
	}

	// Details are loaded after the cursor is closed since a transaction
	// only allows one open result set on some drivers.
	if filter.WithDetails {
		for _, rec := range out {
			if err := q.loadDetails(ctx, rec); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// LatestTransactionTime returns the time of the newest non-failed record.
func (q *queries) LatestTransactionTime(ctx context.Context) (time.Time, bool,
	error) {

	var latest sql.NullInt64
	err := q.queryRow(ctx, `
		SELECT MAX(tx_time) FROM transactions
		WHERE broadcast_failed = FALSE`).Scan(&latest)
	if err != nil {
		return time.Time{}, false, newError(ErrDatabase,
			"latest transaction time", err)
	}

	if !latest.Valid || latest.Int64 == 0 {
		return time.Time{}, false, nil
	}

	return time.Unix(latest.Int64, 0), true, nil
}

// updateTx runs an UPDATE on a single transaction, mapping a missing row to
// ErrNotFound.
func (q *queries) updateTx(ctx context.Context, txid, stmt string,
	args ...any) error {

	res, err := q.exec(ctx, stmt, append(args, txid)...)
	if err != nil {
		return newError(ErrDatabase, "update transaction "+txid, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return newError(ErrDatabase, "rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", txid, ErrNotFound)
	}

	return nil
}

// SetBroadcastFailed flags or clears a broadcast failure.
func (q *queries) SetBroadcastFailed(ctx context.Context, txid string,
	failed bool, at time.Time) error {

	if !failed {
		at = time.Time{}
	}

	return q.updateTx(ctx, txid, `
		UPDATE transactions SET broadcast_failed = ?, failed_at = ?
		WHERE txid = ?`, failed, unixOrZero(at))
}

// SetPrice stores the day average price of a transaction.
func (q *queries) SetPrice(ctx context.Context, txid string,
	cents int64) error {

	return q.updateTx(ctx, txid, `
		UPDATE transactions SET price_cents = ? WHERE txid = ?`, cents)
}

// SetMemo stores decrypted metadata and marks it checked.
func (q *queries) SetMemo(ctx context.Context, txid, memo string) error {
	return q.updateTx(ctx, txid, `
		UPDATE transactions SET memo = ?, memo_checked = TRUE
		WHERE txid = ?`, memo)
}

// LinkInvitation links a transaction to an invitation.
func (q *queries) LinkInvitation(ctx context.Context,
	txid, invitationID string) error {

	return q.updateTx(ctx, txid, `
		UPDATE transactions SET invitation_id = ? WHERE txid = ?`,
		invitationID)
}

// DeleteTransaction removes a record with its inputs and outputs.
func (q *queries) DeleteTransaction(ctx context.Context, txid string) error {
	for _, table := range []string{
		"transaction_inputs", "transaction_outputs", "transactions",
	} {
		_, err := q.exec(ctx, `DELETE FROM `+table+` WHERE txid = ?`,
			txid)
		if err != nil {
			return newError(ErrDatabase, "delete from "+table, err)
		}
	}

	return nil
}

// FindPayments returns the non-failed transactions paying exactly amount to
// addr.
func (q *queries) FindPayments(ctx context.Context, addr string,
	amount int64) ([]string, error) {

	rows, err := q.query(ctx, `
		SELECT DISTINCT o.txid
		FROM transaction_outputs o
		JOIN transactions t ON t.txid = o.txid
		WHERE o.address = ? AND o.amount = ?
			AND t.broadcast_failed = FALSE
		ORDER BY o.txid`, addr, amount)
	if err != nil {
		return nil, newError(ErrDatabase, "find payments", err)
	}
	defer rows.Close()

	var txids []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, newError(ErrDatabase, "scan payment", err)
		}
		txids = append(txids, txid)
	}

	return txids, rows.Err()
}
