// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignTransaction signs every P2WPKH input of data through a PSBT packet and
// returns the finalized transaction. The unsigned transaction inside data is
// left untouched.
func (k *HDKeychain) SignTransaction(data *TransactionData) (*wire.MsgTx,
	error) {

	if len(data.Inputs) != len(data.Tx.TxIn) {
		return nil, fmt.Errorf("%w: %d coins for %d inputs",
			ErrInputMismatch, len(data.Inputs), len(data.Tx.TxIn))
	}

	packet, err := psbt.NewFromUnsignedTx(data.Tx.Copy())
	if err != nil {
		return nil, fmt.Errorf("create psbt: %w", err)
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}

	// 1. Attach the witness UTXO of every input and build the prevout
	// fetcher needed for the segwit sighash midstate.
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, coin := range data.Inputs {
		if packet.UnsignedTx.TxIn[i].PreviousOutPoint != coin.OutPoint {
			return nil, fmt.Errorf("%w: input %d", ErrInputMismatch,
				i)
		}

		prevOut := wire.NewTxOut(int64(coin.Amount), coin.PkScript)
		fetcher.AddPrevOut(coin.OutPoint, prevOut)

		if err := updater.AddInWitnessUtxo(prevOut, i); err != nil {
			return nil, fmt.Errorf("add witness utxo %d: %w", i, err)
		}

		err := updater.AddInSighashType(txscript.SigHashAll, i)
		if err != nil {
			return nil, fmt.Errorf("add sighash %d: %w", i, err)
		}
	}

	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	// 2. Produce a signature for each input with the key at its path.
	for i, coin := range data.Inputs {
		priv, err := k.privKey(coin.Path)
		if err != nil {
			return nil, fmt.Errorf("key for input %d: %w", i, err)
		}

		sig, err := txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, i, int64(coin.Amount),
			coin.PkScript, txscript.SigHashAll, priv,
		)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}

		outcome, err := updater.Sign(
			i, sig, priv.PubKey().SerializeCompressed(), nil, nil,
		)
		if err != nil {
			return nil, fmt.Errorf("add signature %d: %w", i, err)
		}
		if outcome != psbt.SignSuccesful {
			return nil, fmt.Errorf("add signature %d: outcome %d",
				i, outcome)
		}
	}

	// 3. Finalize and extract the network transaction.
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("finalize psbt: %w", err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("extract tx: %w", err)
	}

	return tx, nil
}
