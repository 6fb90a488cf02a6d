// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// sequenceRBF is the input sequence signalling BIP125 replaceability
	// while still enabling the lock time.
	sequenceRBF = wire.MaxTxInSequenceNum - 2

	// sequenceFinal enables the lock time without signalling
	// replaceability.
	sequenceFinal = wire.MaxTxInSequenceNum - 1
)

// BuildTransaction constructs an unsigned transaction according to the
// request's mode.
func (k *HDKeychain) BuildTransaction(req *BuildRequest) (*TransactionData,
	error) {

	if req.Destination == nil {
		return nil, ErrMissingDestination
	}

	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds,
			ErrNoCandidates)
	}

	destScript, err := txscript.PayToAddrScript(req.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination script: %w", err)
	}

	var data *TransactionData
	switch req.Mode {
	case ModeStandard:
		data, err = k.buildStandard(req, destScript)

	case ModeFlatFee:
		data, err = k.buildFlatFee(req, destScript)

	case ModeSendMax, ModeSendAll:
		data, err = buildSweep(req, destScript)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMode, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	data.Destination = req.Destination
	data.RBF = req.RBF
	applyLockTime(data.Tx, req.BlockHeight, req.RBF)

	log.Debugf("Built %v transaction %v: amount=%v, fee=%v, change=%v, "+
		"inputs=%d", req.Mode, data.Tx.TxHash(), data.Amount, data.Fee,
		data.Change, len(data.Inputs))

	return data, nil
}

// buildStandard delegates coin selection and fee computation to txauthor.
func (k *HDKeychain) buildStandard(req *BuildRequest,
	destScript []byte) (*TransactionData, error) {

	destOut := wire.NewTxOut(int64(req.Amount), destScript)
	if err := checkOutput(destOut); err != nil {
		return nil, err
	}

	feePerKb := req.FeeRate.FeePerKVByte()

	eligible := make([]Coin, 0, len(req.Candidates))
	for _, coin := range sortLargestFirst(req.Candidates) {
		if !inputYieldsPositively(coin, feePerKb) {
			log.Tracef("Skipping uneconomical coin %v (%v)",
				coin.OutPoint, coin.Amount)

			continue
		}

		eligible = append(eligible, coin)
	}

	change, err := k.DeriveAddress(req.ChangePath)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}

	changeSource := &txauthor.ChangeSource{
		NewScript: func() ([]byte, error) {
			return change.PkScript, nil
		},
		ScriptSize: txsizes.P2WPKHPkScriptSize,
	}

	authored, err := txauthor.NewUnsignedTransaction(
		[]*wire.TxOut{destOut}, feePerKb, makeInputSource(eligible),
		changeSource,
	)
	if err != nil {
		var inputErr txauthor.InputSourceError
		if errors.As(err, &inputErr) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds,
				err)
		}

		return nil, fmt.Errorf("author transaction: %w", err)
	}

	if authored.ChangeIndex >= 0 {
		authored.RandomizeChangePosition()
	}

	inputs, err := coinsForInputs(authored.Tx, eligible)
	if err != nil {
		return nil, err
	}

	data := &TransactionData{
		Tx:          authored.Tx,
		Inputs:      inputs,
		Amount:      req.Amount,
		ChangeIndex: authored.ChangeIndex,
	}

	var totalOut btcutil.Amount
	for _, out := range authored.Tx.TxOut {
		totalOut += btcutil.Amount(out.Value)
	}
	data.Fee = authored.TotalInput - totalOut

	if authored.ChangeIndex >= 0 {
		data.Change = btcutil.Amount(
			authored.Tx.TxOut[authored.ChangeIndex].Value,
		)
		data.ChangeAddress = change
	}

	return data, nil
}

// buildFlatFee pays the requested amount with a fixed absolute fee.
func (k *HDKeychain) buildFlatFee(req *BuildRequest,
	destScript []byte) (*TransactionData, error) {

	if req.FlatFee <= 0 {
		return nil, ErrInsufficientFee
	}

	destOut := wire.NewTxOut(int64(req.Amount), destScript)
	if err := checkOutput(destOut); err != nil {
		return nil, err
	}

	target := req.Amount + req.FlatFee

	var (
		selected []Coin
		total    btcutil.Amount
	)
	for _, coin := range sortLargestFirst(req.Candidates) {
		if total >= target {
			break
		}

		selected = append(selected, coin)
		total += coin.Amount
	}

	if total < target {
		return nil, fmt.Errorf("%w: need %v, have %v",
			ErrInsufficientFunds, target, total)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, coin := range selected {
		tx.AddTxIn(wire.NewTxIn(&coin.OutPoint, nil, nil))
	}
	tx.AddTxOut(destOut)

	data := &TransactionData{
		Tx:          tx,
		Inputs:      selected,
		Amount:      req.Amount,
		Fee:         req.FlatFee,
		ChangeIndex: -1,
	}

	change := total - target
	if change == 0 {
		return data, nil
	}

	changeAddr, err := k.DeriveAddress(req.ChangePath)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}

	// Change that is too small to relay is folded into the fee.
	changeOut := wire.NewTxOut(int64(change), changeAddr.PkScript)
	if txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) {
		data.Fee += change
		return data, nil
	}

	tx.AddTxOut(changeOut)
	data.Change = change
	data.ChangeAddress = changeAddr
	data.ChangeIndex = len(tx.TxOut) - 1

	return data, nil
}

// buildSweep spends every candidate into a single output.
func buildSweep(req *BuildRequest, destScript []byte) (*TransactionData,
	error) {

	tx := wire.NewMsgTx(wire.TxVersion)

	var total btcutil.Amount
	for _, coin := range req.Candidates {
		tx.AddTxIn(wire.NewTxIn(&coin.OutPoint, nil, nil))
		total += coin.Amount
	}

	// The output value does not affect the size estimate, so the fee can
	// be computed against a zero valued output first.
	destOut := wire.NewTxOut(0, destScript)

	fee := req.FlatFee
	if fee <= 0 {
		vsize := txsizes.EstimateVirtualSize(
			0, 0, len(req.Candidates), 0,
			[]*wire.TxOut{destOut}, 0,
		)
		fee = req.FeeRate.FeeForVSize(vsize)
	}

	amount := total - fee
	if amount <= 0 {
		return nil, fmt.Errorf("%w: fee %v exceeds total %v",
			ErrInsufficientFunds, fee, total)
	}

	destOut.Value = int64(amount)
	if err := checkOutput(destOut); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	tx.AddTxOut(destOut)

	return &TransactionData{
		Tx:          tx,
		Inputs:      append([]Coin(nil), req.Candidates...),
		Amount:      amount,
		Fee:         fee,
		ChangeIndex: -1,
	}, nil
}

// checkOutput validates the payment output against the default relay
// policy.
func checkOutput(out *wire.TxOut) error {
	err := txrules.CheckOutput(out, txrules.DefaultRelayFeePerKb)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, txrules.ErrOutputIsDust):
		return ErrDustOutput

	default:
		return fmt.Errorf("invalid output: %w", err)
	}
}

// applyLockTime sets the lock time to the snapshot height and the input
// sequences according to the replaceability policy.
func applyLockTime(tx *wire.MsgTx, height int32, rbf bool) {
	sequence := uint32(sequenceFinal)
	if rbf {
		sequence = sequenceRBF
	}

	for _, in := range tx.TxIn {
		in.Sequence = sequence
	}

	if height > 0 {
		tx.LockTime = uint32(height)
	}
}

// sortLargestFirst returns a copy of coins ordered by descending amount.
func sortLargestFirst(coins []Coin) []Coin {
	sorted := append([]Coin(nil), coins...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	return sorted
}

// makeInputSource returns a txauthor.InputSource that consumes eligible in
// order until the requested target is met.
func makeInputSource(eligible []Coin) txauthor.InputSource {
	// Current inputs and their total value. These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(eligible))
	currentScripts := make([][]byte, 0, len(eligible))
	currentInputValues := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(eligible) != 0 {
			next := eligible[0]
			eligible = eligible[1:]

			currentTotal += next.Amount
			currentInputs = append(
				currentInputs, wire.NewTxIn(&next.OutPoint, nil, nil),
			)
			currentScripts = append(currentScripts, next.PkScript)
			currentInputValues = append(
				currentInputValues, next.Amount,
			)
		}

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}

// inputYieldsPositively reports whether spending coin pays for its own
// best-case input size at the given rate.
func inputYieldsPositively(coin Coin, feeRatePerKb btcutil.Amount) bool {
	inputSize := txsizes.GetMinInputVirtualSize(coin.PkScript)
	inputFee := feeRatePerKb * btcutil.Amount(inputSize) / 1000

	return inputFee < coin.Amount
}

// coinsForInputs maps every input of tx back to its coin, preserving input
// order.
func coinsForInputs(tx *wire.MsgTx, coins []Coin) ([]Coin, error) {
	byOutPoint := make(map[wire.OutPoint]Coin, len(coins))
	for _, coin := range coins {
		byOutPoint[coin.OutPoint] = coin
	}

	inputs := make([]Coin, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		coin, ok := byOutPoint[in.PreviousOutPoint]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrInputMismatch,
				in.PreviousOutPoint)
		}

		inputs = append(inputs, coin)
	}

	return inputs, nil
}
