// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet is the synchronization and payment fulfillment engine. It
// keeps the local ledger consistent with a remote indexer and introduction
// service, allocates addresses, builds payments and drives the address
// request protocol between users.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
)

// Type aliases for the records callers read from the engine.
type (
	TxRecord         = db.TxRecord
	TxInput          = db.TxInput
	TxOutput         = db.TxOutput
	Invitation       = db.Invitation
	InvitationStatus = db.InvitationStatus
	Side             = db.Side
	LedgerType       = db.LedgerType
	SyncState        = db.SyncState
)

// Re-exported values of the persistence layer.
const (
	SideSender   = db.SideSender
	SideReceiver = db.SideReceiver

	LedgerOnChain   = db.LedgerOnChain
	LedgerLightning = db.LedgerLightning

	StatusNotSent         = db.StatusNotSent
	StatusRequestSent     = db.StatusRequestSent
	StatusAddressProvided = db.StatusAddressProvided
	StatusCompleted       = db.StatusCompleted
	StatusCanceled        = db.StatusCanceled
	StatusExpired         = db.StatusExpired

	BackendSQLite   = db.BackendSQLite
	BackendPostgres = db.BackendPostgres
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = db.ErrNotFound

// OpenStore opens and migrates the store of the named backend. target is the
// data directory for sqlite and the DSN for postgres.
func OpenStore(backend, target string) (Store, error) {
	store, err := db.Open(backend, target)
	if err != nil {
		return nil, err
	}

	return store, nil
}

// Wallet is the engine facade. It owns the components and serializes every
// sync through its scheduler.
type Wallet struct {
	cfg Config

	state       *walletState
	alloc       *addressAllocator
	selector    *outputSelector
	builder     *txBuilder
	syncer      *syncer
	invitations *invitationEngine
	scheduler   *scheduler
	notifier    *notifier
	metrics     *engineMetrics

	// balanceMu guards lastBalance.
	balanceMu   sync.Mutex
	lastBalance Balance
}

// New creates a wallet engine from cfg.
func New(cfg Config) (*Wallet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	metrics, err := newEngineMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	w := &Wallet{
		cfg:      cfg,
		notifier: newNotifier(),
		metrics:  metrics,
	}

	w.alloc = newAddressAllocator(cfg.Keychain, cfg.Store, cfg.GapLimit)
	w.selector = &outputSelector{
		dust:             cfg.DustThreshold,
		minConfirmations: cfg.MinConfirmations,
	}
	w.builder = &txBuilder{
		kc:       cfg.Keychain,
		store:    cfg.Store,
		indexer:  cfg.Indexer,
		alloc:    w.alloc,
		selector: w.selector,
		params:   cfg.ChainParams,
		clock:    cfg.Clock,
		metrics:  metrics,
	}
	w.syncer = newSyncer(&w.cfg, w.alloc, metrics)
	w.state = newWalletState(w.syncer)
	w.invitations = &invitationEngine{
		cfg:      &w.cfg,
		alloc:    w.alloc,
		builder:  w.builder,
		notifier: w.notifier,
		metrics:  metrics,
	}
	w.scheduler = newScheduler(
		cfg.Inhibitor, cfg.NewTicker(cfg.SyncInterval),
		func() { w.RequestSync(SyncIncremental) }, metrics,
	)

	return w, nil
}

// Start loads the persisted allocator state and starts the scheduler.
func (w *Wallet) Start(ctx context.Context) error {
	if err := w.state.toStarting(); err != nil {
		return err
	}

	err := w.cfg.Store.View(ctx, func(s db.Session) error {
		return w.alloc.load(ctx, s)
	})
	if err != nil {
		w.state.toStopped()
		return fmt.Errorf("load allocator state: %w", err)
	}

	w.scheduler.start(ctx)
	w.state.toStarted()

	log.Infof("Wallet started (gap limit %d, sync every %v)",
		w.cfg.GapLimit, w.cfg.SyncInterval)

	return nil
}

// Stop refuses new work, waits for the running operation to finish and ends
// every subscription.
func (w *Wallet) Stop() error {
	if err := w.state.toStopping(); err != nil {
		log.Warnf("Wallet already stopped: %v", err)
		return nil
	}

	w.scheduler.stop()
	w.notifier.stop()
	w.state.toStopped()

	log.Infof("Wallet stopped")

	return nil
}

// Subscribe returns a subscription to the engine signals.
func (w *Wallet) Subscribe() (*Subscription, error) {
	return w.notifier.subscribe()
}

// syncOperation creates the operation of a sync pass followed by invitation
// reconciliation.
func (w *Wallet) syncOperation(syncType SyncType) *Operation {
	return newOperation(
		OpSyncWallet, syncType.String(), func(ctx context.Context) error {
			return w.syncWallet(ctx, syncType)
		},
	)
}

// RequestSync enqueues a sync pass unless one of any type is already queued
// or running. It returns the operation that will cover the request.
func (w *Wallet) RequestSync(syncType SyncType) *Operation {
	op, _ := w.scheduler.enqueue(
		w.syncOperation(syncType), PolicySkipIfSimilar,
	)

	return op
}

// Sync enqueues a sync pass and waits for it. A full sync is admitted even
// while an incremental one is queued.
func (w *Wallet) Sync(ctx context.Context, syncType SyncType) error {
	if err := w.state.validateStarted(); err != nil {
		return err
	}

	policy := PolicySkipIfSimilar
	if syncType == SyncFull {
		policy = PolicySkipIfSpecific
	}

	op, _ := w.scheduler.enqueue(w.syncOperation(syncType), policy)

	return op.Wait(ctx)
}

// syncWallet runs one pass, reconciles invitations and signals the result.
func (w *Wallet) syncWallet(ctx context.Context, syncType SyncType) error {
	if w.cfg.UpgradeInProgress != nil && w.cfg.UpgradeInProgress() {
		log.Infof("Skipping %v sync, wallet upgrade in progress",
			syncType)
		return nil
	}

	w.notifier.send(SyncStarted{Type: syncType})

	ran, err := w.syncer.run(ctx, syncType)
	if err == nil && w.cfg.Introducer != nil {
		if invErr := w.invitations.reconcile(ctx); invErr != nil {
			log.Warnf("Invitation reconciliation incomplete: %v",
				invErr)
		}
	}

	w.publishBalance(ctx)
	w.notifier.send(SyncFinished{Type: ran, Err: err})

	return err
}

// publishBalance emits BalanceChanged when the balance moved since the last
// publication.
func (w *Wallet) publishBalance(ctx context.Context) {
	balance, err := w.Balance(ctx, LedgerOnChain)
	if err != nil {
		log.Errorf("Unable to compute balance: %v", err)
		return
	}

	w.metrics.setSpendable(int64(balance.Spendable))

	w.balanceMu.Lock()
	changed := balance != w.lastBalance
	w.lastBalance = balance
	w.balanceMu.Unlock()

	if changed {
		log.Debugf("Balance changed: %v", spewClosure(balance))
		w.notifier.send(BalanceChanged{Balance: balance})
	}
}

// DeleteWallet wipes every local record once queued work finished.
func (w *Wallet) DeleteWallet(ctx context.Context) error {
	if err := w.state.validateStarted(); err != nil {
		return err
	}

	op := newOperation(OpDeleteWallet, "", func(ctx context.Context) error {
		err := w.cfg.Store.ExecTx(ctx, func(s db.Session) error {
			return s.Wipe(ctx)
		})
		if err != nil {
			return err
		}

		w.alloc.reset()

		w.balanceMu.Lock()
		w.lastBalance = Balance{}
		w.balanceMu.Unlock()

		log.Infof("Wallet data deleted")

		return nil
	})

	op, _ = w.scheduler.enqueue(op, PolicySkipIfSimilar)

	return op.Wait(ctx)
}

// ReconcileInvitations runs invitation reconciliation without a sync pass.
func (w *Wallet) ReconcileInvitations(ctx context.Context) error {
	if w.cfg.Introducer == nil {
		return ErrInvitationsDisabled
	}
	if err := w.state.validateStarted(); err != nil {
		return err
	}

	op, _ := w.scheduler.enqueue(newOperation(
		OpReconcileInvitations, "", w.invitations.reconcile,
	), PolicySkipIfSimilar)

	return op.Wait(ctx)
}

// Balance returns the balance of a ledger.
func (w *Wallet) Balance(ctx context.Context,
	ledger LedgerType) (Balance, error) {

	var snap *ledgerSnapshot
	err := w.cfg.Store.View(ctx, func(s db.Session) error {
		var err error
		snap, err = loadSnapshot(ctx, s, ledger)

		return err
	})
	if err != nil {
		return Balance{}, err
	}

	return w.selector.balance(snap), nil
}

// SpendableBalance returns the on-chain balance normal construction may
// spend.
func (w *Wallet) SpendableBalance(ctx context.Context) (btcutil.Amount,
	error) {

	b, err := w.Balance(ctx, LedgerOnChain)
	if err != nil {
		return 0, err
	}

	return b.Spendable, nil
}

// ReceiveAddress returns the first receive address that may be handed out.
func (w *Wallet) ReceiveAddress(ctx context.Context) (string, error) {
	addrs := w.alloc.nextAvailableReceiveAddresses(ctx, 1, false, nil)
	if len(addrs) == 0 {
		return "", errors.New("no receive address available")
	}

	addr := addrs[0]
	err := w.cfg.Store.ExecTx(ctx, func(s db.Session) error {
		return s.PutAddress(ctx, addressRecord(addr, w.cfg.Clock.Now))
	})
	if err != nil {
		return "", err
	}

	return addr.Address, nil
}

// NextAvailableReceiveAddresses returns up to count receive addresses that
// may be handed out, skipping the given indices.
func (w *Wallet) NextAvailableReceiveAddresses(ctx context.Context,
	count int, forServerPool bool,
	indicesToSkip []uint32) []*keychain.MetaAddress {

	return w.alloc.nextAvailableReceiveAddresses(
		ctx, count, forServerPool, indicesToSkip,
	)
}

// CheckAddressExists reports whether addr was derived by the wallet and at
// which path.
func (w *Wallet) CheckAddressExists(addr string) (keychain.Path, bool) {
	return w.alloc.checkAddressExists(addr)
}

// CreateTransaction builds an unsigned payment without recording anything.
func (w *Wallet) CreateTransaction(ctx context.Context,
	req *PaymentRequest) (*keychain.TransactionData, error) {

	return w.builder.build(ctx, req)
}

// SendPayment builds, signs, records and broadcasts a payment.
func (w *Wallet) SendPayment(ctx context.Context,
	req *PaymentRequest) (*SendResult, error) {

	if err := w.state.validateStarted(); err != nil {
		return nil, err
	}

	res, err := w.builder.send(ctx, req)
	if res != nil {
		w.publishBalance(ctx)
	}

	return res, err
}

// SendInvitation creates a sent invitation for amount plus fee to
// counterparty.
func (w *Wallet) SendInvitation(ctx context.Context, amount,
	fee btcutil.Amount, counterparty string) (*Invitation, error) {

	if w.cfg.Introducer == nil {
		return nil, ErrInvitationsDisabled
	}

	return w.invitations.send(ctx, amount, fee, counterparty)
}

// CancelInvitation cancels an unpaid invitation.
func (w *Wallet) CancelInvitation(ctx context.Context, id string) error {
	if w.cfg.Introducer == nil {
		return ErrInvitationsDisabled
	}

	return w.invitations.cancel(ctx, id)
}

// Invitations lists the invitations of a side, oldest first.
func (w *Wallet) Invitations(ctx context.Context,
	side Side) ([]*Invitation, error) {

	return w.invitations.list(ctx, side)
}

// Transactions lists the non-failed transactions, newest first.
func (w *Wallet) Transactions(ctx context.Context) ([]*TxRecord, error) {
	var recs []*TxRecord
	err := w.cfg.Store.View(ctx, func(s db.Session) error {
		var err error
		recs, err = s.ListTransactions(ctx, db.TxQuery{WithDetails: true})

		return err
	})

	return recs, err
}

// Transaction returns one transaction record.
func (w *Wallet) Transaction(ctx context.Context,
	txid string) (*TxRecord, error) {

	var rec *TxRecord
	err := w.cfg.Store.View(ctx, func(s db.Session) error {
		var err error
		rec, err = s.GetTransaction(ctx, txid)

		return err
	})

	return rec, err
}

// SyncState returns the persisted high-water marks and last check-in.
func (w *Wallet) SyncState(ctx context.Context) (SyncState, error) {
	var state SyncState
	err := w.cfg.Store.View(ctx, func(s db.Session) error {
		var err error
		state, err = s.GetSyncState(ctx)

		return err
	})

	return state, err
}

// Status returns a short description of the engine state.
func (w *Wallet) Status() string {
	return w.state.String() + ", queued=" +
		strconv.Itoa(w.scheduler.pending())
}
