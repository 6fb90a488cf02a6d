// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
)

// Balance is the wallet balance split the way the UI presents it.
type Balance struct {
	// Spendable is the sum of outputs normal construction may spend.
	Spendable btcutil.Amount

	// PendingIncoming is the value of unspent outputs that are not yet
	// spendable because they lack confirmations.
	PendingIncoming btcutil.Amount

	// PendingOutgoing is the value leaving the wallet in unconfirmed
	// transactions.
	PendingOutgoing btcutil.Amount

	// NetPending is Spendable plus PendingIncoming.
	NetPending btcutil.Amount
}

// ledgerSnapshot is a consistent read of everything coin selection needs.
// Construction works on a snapshot so it never races a running sync.
type ledgerSnapshot struct {
	tip         int32
	utxos       []db.Utxo
	reserved    map[db.OutPoint]string
	unconfirmed []*db.TxRecord
}

// loadSnapshot reads a ledger snapshot for the given ledger.
func loadSnapshot(ctx context.Context, s db.Session,
	ledger db.LedgerType) (*ledgerSnapshot, error) {

	state, err := s.GetSyncState(ctx)
	if err != nil {
		return nil, err
	}

	utxos, err := s.ListUnspent(ctx)
	if err != nil {
		return nil, err
	}

	reserved, err := s.ListReserved(ctx, ledger)
	if err != nil {
		return nil, err
	}

	unconfirmed, err := s.ListTransactions(ctx, db.TxQuery{
		Unconfirmed: true,
		WithDetails: true,
	})
	if err != nil {
		return nil, err
	}

	return &ledgerSnapshot{
		tip:         state.BlockHeight,
		utxos:       utxos,
		reserved:    reserved,
		unconfirmed: unconfirmed,
	}, nil
}

// outputSelector applies dust protection, confirmation depth and
// reservations to a snapshot.
type outputSelector struct {
	dust             btcutil.Amount
	minConfirmations int32
}

// isReserved reports whether a temporary sent transaction holds u.
func (l *ledgerSnapshot) isReserved(u db.Utxo) bool {
	_, ok := l.reserved[u.OutPoint]
	return ok
}

// spendable returns the outputs normal construction may spend. With
// sendAll, every unspent output is returned, regardless of dust and depth.
func (o *outputSelector) spendable(snap *ledgerSnapshot,
	sendAll bool) []db.Utxo {

	var out []db.Utxo
	for _, u := range snap.utxos {
		if snap.isReserved(u) {
			continue
		}

		if !sendAll {
			if btcutil.Amount(u.Amount) < o.dust {
				continue
			}

			confs := db.Confirmations(u.BlockHeight, snap.tip)
			if confs < o.minConfirmations {
				continue
			}
		}

		out = append(out, u)
	}

	return out
}

// balance computes the balance of a snapshot.
func (o *outputSelector) balance(snap *ledgerSnapshot) Balance {
	var b Balance
	for _, u := range o.spendable(snap, false) {
		b.Spendable += btcutil.Amount(u.Amount)
	}

	for _, u := range snap.utxos {
		if snap.isReserved(u) || btcutil.Amount(u.Amount) < o.dust {
			continue
		}

		confs := db.Confirmations(u.BlockHeight, snap.tip)
		if confs < o.minConfirmations {
			b.PendingIncoming += btcutil.Amount(u.Amount)
		}
	}

	for _, rec := range snap.unconfirmed {
		var in, out int64
		for _, txIn := range rec.Inputs {
			if txIn.Owned {
				in += txIn.Amount
			}
		}
		for _, txOut := range rec.Outputs {
			if txOut.Owned {
				out += txOut.Amount
			}
		}

		if in > out {
			b.PendingOutgoing += btcutil.Amount(in - out)
		}
	}

	b.NetPending = b.Spendable + b.PendingIncoming

	return b
}

// coins converts snapshot outputs into keychain coins. Outputs with an
// unparsable txid are skipped.
func coins(utxos []db.Utxo) []keychain.Coin {
	out := make([]keychain.Coin, 0, len(utxos))
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.OutPoint.TxID)
		if err != nil {
			log.Warnf("Skipping output %v: %v", u.OutPoint, err)
			continue
		}

		out = append(out, keychain.Coin{
			OutPoint: *wire.NewOutPoint(hash, u.OutPoint.Index),
			Amount:   btcutil.Amount(u.Amount),
			PkScript: u.PkScript,
			Path:     keyPath(u.Path),
		})
	}

	return out
}
