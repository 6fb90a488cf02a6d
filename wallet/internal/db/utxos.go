// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import "context"

// ListUnspent returns the owned outputs of non-failed transactions that no
// non-failed transaction spends, largest first.
func (q *queries) ListUnspent(ctx context.Context) ([]Utxo, error) {
	rows, err := q.query(ctx, `
		SELECT o.txid, o.idx, o.amount, o.address, o.pk_script,
			a.purpose, a.coin, a.account, a.branch, a.idx,
			t.block_height
		FROM transaction_outputs o
		JOIN transactions t ON t.txid = o.txid
		JOIN addresses a ON a.address = o.address
		WHERE o.owned = TRUE AND t.broadcast_failed = FALSE
			AND NOT EXISTS (
				SELECT 1 FROM transaction_inputs i
				JOIN transactions s ON s.txid = i.txid
				WHERE i.prev_txid = o.txid
					AND i.prev_vout = o.idx
					AND s.broadcast_failed = FALSE
			)
		ORDER BY o.amount DESC, o.txid, o.idx`)
	if err != nil {
		return nil, newError(ErrDatabase, "list unspent", err)
	}
	defer rows.Close()

	var utxos []Utxo
	for rows.Next() {
		var (
			u                              Utxo
			vout, height                   int64
			purpose, coin, account, branch int64
			index                          int64
		)
		err := rows.Scan(
			&u.OutPoint.TxID, &vout, &u.Amount, &u.Address,
			&u.PkScript, &purpose, &coin, &account, &branch, &index,
			&height,
		)
		if err == nil {
			u.OutPoint.Index, err = int64ToUint32(vout)
		}
		if err == nil {
			u.BlockHeight, err = int64ToInt32(height)
		}
		if err == nil {
			u.Path, err = pathFromRow(
				purpose, coin, account, branch, index,
			)
		}
		if err != nil {
			return nil, newError(ErrDatabase, "scan utxo", err)
		}

		utxos = append(utxos, u)
	}

	return utxos, rows.Err()
}

// ListReserved returns the outpoints reserved by temporary sent transactions
// of the ledger, mapped to the txid of the reserving transaction.
func (q *queries) ListReserved(ctx context.Context,
	ledger LedgerType) (map[OutPoint]string, error) {

	rows, err := q.query(ctx, `
		SELECT r.txid, r.idx, s.txid
		FROM reserved_outputs r
		JOIN temporary_sent s ON s.id = r.temporary_id
		WHERE s.ledger = ?`, string(ledger))
	if err != nil {
		return nil, newError(ErrDatabase, "list reserved", err)
	}
	defer rows.Close()

	reserved := make(map[OutPoint]string)
	for rows.Next() {
		var (
			op     OutPoint
			vout   int64
			holder string
		)
		err := rows.Scan(&op.TxID, &vout, &holder)
		if err == nil {
			op.Index, err = int64ToUint32(vout)
		}
		if err != nil {
			return nil, newError(ErrDatabase, "scan reserved", err)
		}

		reserved[op] = holder
	}

	return reserved, rows.Err()
}
