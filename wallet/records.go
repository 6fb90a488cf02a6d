// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
)

// classify flags the inputs and outputs of rec that belong to the wallet,
// then derives the sent-to-self flag from them. It is the only place either
// flag is computed.
func classify(rec *db.TxRecord, owned ownedSet) {
	for i := range rec.Inputs {
		rec.Inputs[i].Owned = owned.contains(rec.Inputs[i].Address)
	}
	for i := range rec.Outputs {
		rec.Outputs[i].Owned = owned.contains(rec.Outputs[i].Address)
	}

	rec.SentToSelf = isSentToSelf(rec)

	// Outgoing payments carry no notification for this wallet.
	if spendsOwned(rec) {
		rec.MemoChecked = true
	}
}

// spendsOwned reports whether any input of rec spends a wallet output.
func spendsOwned(rec *db.TxRecord) bool {
	for _, in := range rec.Inputs {
		if in.Owned {
			return true
		}
	}

	return false
}

// isSentToSelf reports whether rec was paid by the wallet and every output
// pays the wallet back.
func isSentToSelf(rec *db.TxRecord) bool {
	if len(rec.Outputs) == 0 || !spendsOwned(rec) {
		return false
	}

	for _, out := range rec.Outputs {
		if !out.Owned {
			return false
		}
	}

	return true
}

// recordFromDetail converts an indexer detail into a transaction record.
func recordFromDetail(d *indexer.TxDetail, owned ownedSet) *db.TxRecord {
	rec := &db.TxRecord{
		TxID:        d.TxID,
		BlockHeight: d.BlockHeight,
		BlockHash:   d.BlockHash,
		Time:        d.Timestamp(),
		Fee:         d.Fee(),
	}
	if !d.Confirmed() {
		rec.BlockHeight = 0
		rec.BlockHash = ""
	}

	for i, vin := range d.Vin {
		in := db.TxInput{
			Index:    uint32(i),
			PrevOut:  db.OutPoint{TxID: vin.TxID, Index: vin.Vout},
			Amount:   vin.Value,
			Coinbase: vin.Coinbase,
		}
		if len(vin.Addresses) == 1 {
			in.Address = vin.Addresses[0]
		}
		rec.Inputs = append(rec.Inputs, in)
	}

	for _, vout := range d.Vout {
		out := db.TxOutput{
			Index:   vout.N,
			Amount:  vout.Value,
			Address: vout.Address(),
		}

		script, err := decodeHex(vout.ScriptPubKey.Hex)
		if err != nil {
			log.Warnf("Output %s:%d has invalid script: %v", d.TxID,
				vout.N, err)
		}
		out.PkScript = script

		rec.Outputs = append(rec.Outputs, out)
	}

	classify(rec, owned)

	return rec
}

// recordFromLocal builds the record of a payment this wallet signed, before
// the indexer has seen it.
func recordFromLocal(data *keychain.TransactionData, tx *wire.MsgTx,
	owned ownedSet, params *chaincfg.Params, now time.Time) *db.TxRecord {

	rec := &db.TxRecord{
		TxID:        tx.TxHash().String(),
		Time:        now,
		BroadcastAt: now,
		Fee:         int64(data.Fee),
	}

	for i, coin := range data.Inputs {
		rec.Inputs = append(rec.Inputs, db.TxInput{
			Index: uint32(i),
			PrevOut: db.OutPoint{
				TxID:  coin.OutPoint.Hash.String(),
				Index: coin.OutPoint.Index,
			},
			Amount:  int64(coin.Amount),
			Address: scriptAddress(coin.PkScript, params),
		})
	}

	for i, txOut := range tx.TxOut {
		rec.Outputs = append(rec.Outputs, db.TxOutput{
			Index:    uint32(i),
			Amount:   txOut.Value,
			Address:  scriptAddress(txOut.PkScript, params),
			PkScript: txOut.PkScript,
		})
	}

	classify(rec, owned)

	return rec
}

// scriptAddress returns the single address paid by pkScript, or the empty
// string.
func scriptAddress(pkScript []byte, params *chaincfg.Params) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return ""
	}

	return addrs[0].EncodeAddress()
}

// decodeHex decodes a hex string, mapping the empty string to an empty
// slice.
func decodeHex(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}

	return hex.DecodeString(s)
}
