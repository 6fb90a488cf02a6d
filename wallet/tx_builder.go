// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
)

// PaymentRequest describes a payment to construct.
type PaymentRequest struct {
	// Mode selects standard, flat-fee, send-max or send-all construction.
	Mode keychain.BuildMode

	// Destination is the encoded address being paid.
	Destination string

	// Amount is the payment amount. Ignored for send-max and send-all.
	Amount btcutil.Amount

	// FeeRate is used by every mode except flat-fee.
	FeeRate keychain.SatPerVByte

	// FlatFee is the absolute fee of a flat-fee payment.
	FlatFee btcutil.Amount

	// RBF signals replaceability.
	RBF bool

	// Ledger selects the reservations that apply. Defaults to on-chain.
	Ledger db.LedgerType

	// invitationID links the payment to the sent invitation it fulfills.
	invitationID string
}

// ledger returns the ledger of the request.
func (r *PaymentRequest) ledger() db.LedgerType {
	if r.Ledger == "" {
		return db.LedgerOnChain
	}

	return r.Ledger
}

// validate checks the amount and fee rules that do not need the ledger.
func (r *PaymentRequest) validate() error {
	if r.Destination == "" {
		return fmt.Errorf("%w: destination", ErrMissingParam)
	}

	switch r.Mode {
	case keychain.ModeFlatFee:
		if r.FlatFee <= 0 {
			return ErrInsufficientFee
		}
		if r.Amount <= 0 {
			return ErrInvalidAmount
		}

	case keychain.ModeStandard:
		if r.Amount <= 0 {
			return ErrInvalidAmount
		}

	case keychain.ModeSendMax, keychain.ModeSendAll:

	default:
		return fmt.Errorf("%w: %v", keychain.ErrUnknownMode, r.Mode)
	}

	return nil
}

// SendResult describes a payment that was persisted and handed to the
// indexer.
type SendResult struct {
	TxID       string
	Amount     btcutil.Amount
	Fee        btcutil.Amount
	Change     btcutil.Amount
	SentToSelf bool
}

// txBuilder turns payment requests into signed, persisted and broadcast
// transactions.
type txBuilder struct {
	kc       keychain.Keychain
	store    db.Store
	indexer  Indexer
	alloc    *addressAllocator
	selector *outputSelector
	params   *chaincfg.Params
	clock    clock.Clock
	metrics  *engineMetrics

	// sendMu serializes sends so two payments never share a change
	// index or spend the same output.
	sendMu sync.Mutex
}

// build constructs an unsigned transaction against a fresh ledger snapshot.
// It never writes to the store.
func (b *txBuilder) build(ctx context.Context,
	req *PaymentRequest) (*keychain.TransactionData, error) {

	if err := req.validate(); err != nil {
		return nil, err
	}

	dest, err := btcutil.DecodeAddress(req.Destination, b.params)
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %w", ErrInvalidParam,
			err)
	}
	if !dest.IsForNet(b.params) {
		return nil, fmt.Errorf("%w: destination %s is not for %s",
			ErrInvalidParam, req.Destination, b.params.Name)
	}

	var snap *ledgerSnapshot
	err = b.store.View(ctx, func(s db.Session) error {
		var err error
		snap, err = loadSnapshot(ctx, s, req.ledger())

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	sendAll := req.Mode == keychain.ModeSendAll
	candidates := coins(b.selector.spendable(snap, sendAll))
	if len(candidates) == 0 {
		if sendAll || req.Mode == keychain.ModeSendMax {
			return nil, ErrNoSpendableFunds
		}

		return nil, ErrInsufficientFunds
	}

	if need := req.Amount + req.FlatFee; !sendAll &&
		req.Mode != keychain.ModeSendMax && total(candidates) < need {

		return nil, fmt.Errorf("%w: need %v, spendable %v",
			ErrInsufficientFunds, need, total(candidates))
	}

	change, err := b.alloc.peekChangeAddress()
	if err != nil {
		return nil, fmt.Errorf("derive change address: %w", err)
	}

	data, err := b.kc.BuildTransaction(&keychain.BuildRequest{
		Mode:        req.Mode,
		Candidates:  candidates,
		Destination: dest,
		Amount:      req.Amount,
		FeeRate:     req.FeeRate,
		FlatFee:     req.FlatFee,
		ChangePath:  change.Path,
		BlockHeight: snap.tip,
		RBF:         req.RBF,
	})
	if err != nil {
		return nil, mapBuildErr(err)
	}

	log.Debugf("Built %v payment of %v to %s (fee=%v, change=%v, "+
		"inputs=%d)", req.Mode, data.Amount, req.Destination, data.Fee,
		data.Change, len(data.Inputs))

	return data, nil
}

// total sums the value of coins.
func total(coins []keychain.Coin) btcutil.Amount {
	var sum btcutil.Amount
	for _, c := range coins {
		sum += c.Amount
	}

	return sum
}

// send builds, signs and persists a payment, then broadcasts it. The local
// records are committed before the broadcast so a crash or a lost response
// can never lead to a second payment. A failed broadcast leaves them in
// place, grooming releases the reserved outputs once the transaction is
// known to be gone.
func (b *txBuilder) send(ctx context.Context,
	req *PaymentRequest) (*SendResult, error) {

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	data, err := b.build(ctx, req)
	if err != nil {
		return nil, err
	}

	tx, err := b.kc.SignTransaction(data)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	now := b.clock.Now()
	rec := recordFromLocal(
		data, tx, b.alloc.ownedAddresses(), b.params, now,
	)
	rec.InvitationID = req.invitationID

	if err := b.persist(ctx, req, data, rec); err != nil {
		return nil, &TxError{TxID: rec.TxID, Err: err}
	}

	if data.ChangeAddress != nil {
		b.alloc.commitChange(data.ChangeAddress.Path.Index)
	}

	result := &SendResult{
		TxID:       rec.TxID,
		Amount:     data.Amount,
		Fee:        data.Fee,
		Change:     data.Change,
		SentToSelf: rec.SentToSelf,
	}

	err = b.broadcast(ctx, tx)
	b.metrics.observeBroadcast(err)
	if err != nil {
		return result, &TxError{TxID: rec.TxID, Err: err}
	}

	log.Infof("Broadcast transaction %s paying %v to %s", rec.TxID,
		data.Amount, req.Destination)

	return result, nil
}

// persist records the change address, the temporary sent record with its
// reservations and the local transaction record in one scope.
func (b *txBuilder) persist(ctx context.Context, req *PaymentRequest,
	data *keychain.TransactionData, rec *db.TxRecord) error {

	reserved := make([]db.OutPoint, 0, len(data.Inputs))
	for _, in := range data.Inputs {
		reserved = append(reserved, db.OutPoint{
			TxID:  in.OutPoint.Hash.String(),
			Index: in.OutPoint.Index,
		})
	}

	temp := &db.TemporarySent{
		ID:           uuid.NewString(),
		TxID:         rec.TxID,
		Ledger:       req.ledger(),
		Amount:       int64(data.Amount),
		Fee:          int64(data.Fee),
		SentToSelf:   rec.SentToSelf,
		InvitationID: req.invitationID,
		CreatedAt:    rec.BroadcastAt,
		Reserved:     reserved,
	}

	return b.store.ExecTx(ctx, func(s db.Session) error {
		if data.ChangeAddress != nil {
			err := s.PutAddress(ctx, addressRecord(
				data.ChangeAddress, b.clock.Now,
			))
			if err != nil {
				return err
			}
		}

		if err := s.PutTemporarySent(ctx, temp); err != nil {
			return err
		}

		return s.UpsertTransaction(ctx, rec)
	})
}

// broadcast hands tx to the indexer. The engine adds no timeout of its own.
func (b *txBuilder) broadcast(ctx context.Context, tx *wire.MsgTx) error {
	hash, err := b.indexer.Broadcast(ctx, tx)
	if err != nil {
		return err
	}

	if want := tx.TxHash(); hash != want {
		log.Warnf("Indexer acknowledged %v for transaction %v", hash,
			want)
	}

	return nil
}
