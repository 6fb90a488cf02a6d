// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"time"
)

// Store is the single entry point for all wallet database operations. Work
// happens inside a scope: ExecTx opens a confined read-write scope whose
// changes become visible to other scopes only when fn returns nil and the
// scope is committed; View opens a read scope.
type Store interface {
	// ExecTx runs fn inside a read-write scope and commits once on
	// success.
	ExecTx(ctx context.Context, fn func(Session) error) error

	// View runs fn inside a read-only scope.
	View(ctx context.Context, fn func(Session) error) error

	// Close releases the underlying database.
	Close() error
}

// Session groups every query available inside a scope.
type Session interface {
	AddressQueries
	TxQueries
	UtxoQueries
	TemporarySentQueries
	InvitationQueries
	PoolQueries
	StateQueries

	// Wipe deletes every record. Used when the wallet is deleted.
	Wipe(ctx context.Context) error
}

// AddressQueries covers derivation and address records.
type AddressQueries interface {
	// PutAddress records a derived address and its derivation path. It is
	// a no-op for an already known address.
	PutAddress(ctx context.Context, rec AddressRecord) error

	// GetAddress returns the record for addr or ErrNotFound.
	GetAddress(ctx context.Context, addr string) (AddressRecord, error)

	// ListAddresses returns the addresses of a branch ordered by index.
	ListAddresses(ctx context.Context, change uint32) ([]AddressRecord,
		error)

	// UsedIndices returns the ascending indices of a branch that received
	// an output in a non-failed transaction.
	UsedIndices(ctx context.Context, change uint32) ([]uint32, error)
}

// TxQueries covers transaction records.
type TxQueries interface {
	// UpsertTransaction inserts rec or merges it into the existing
	// record. Chain data, inputs and outputs are replaced, the broadcast
	// failure is cleared, and locally set fields (memo, price, invitation
	// link, broadcast time) are kept when rec leaves them empty.
	UpsertTransaction(ctx context.Context, rec *TxRecord) error

	// GetTransaction returns the record with inputs and outputs or
	// ErrNotFound.
	GetTransaction(ctx context.Context, txid string) (*TxRecord, error)

	// ListTransactions returns the records matching q, newest first.
	ListTransactions(ctx context.Context, q TxQuery) ([]*TxRecord, error)

	// LatestTransactionTime returns the time of the newest record.
	LatestTransactionTime(ctx context.Context) (time.Time, bool, error)

	// SetBroadcastFailed flags or clears a broadcast failure.
	SetBroadcastFailed(ctx context.Context, txid string, failed bool,
		at time.Time) error

	// SetPrice stores the day average price of a transaction.
	SetPrice(ctx context.Context, txid string, cents int64) error

	// SetMemo stores decrypted metadata and marks it checked.
	SetMemo(ctx context.Context, txid, memo string) error

	// LinkInvitation links a transaction to an invitation.
	LinkInvitation(ctx context.Context, txid, invitationID string) error

	// DeleteTransaction removes a record with its inputs and outputs.
	DeleteTransaction(ctx context.Context, txid string) error

	// FindPayments returns the non-failed transactions paying exactly
	// amount to addr.
	FindPayments(ctx context.Context, addr string, amount int64) ([]string,
		error)
}

// TxQuery filters ListTransactions.
type TxQuery struct {
	// Unconfirmed restricts to records without a block.
	Unconfirmed bool

	// MissingPrice restricts to records without a price.
	MissingPrice bool

	// MissingMemo restricts to records whose metadata was not checked.
	MissingMemo bool

	// Failed restricts to records flagged as failed broadcasts.
	Failed bool

	// IncludeFailed also returns failed broadcasts when Failed is unset.
	IncludeFailed bool

	// WithDetails loads inputs and outputs.
	WithDetails bool
}

// UtxoQueries covers the derived UTXO set.
type UtxoQueries interface {
	// ListUnspent returns the owned outputs of non-failed transactions
	// that no non-failed transaction spends.
	ListUnspent(ctx context.Context) ([]Utxo, error)

	// ListReserved returns the outpoints reserved by temporary sent
	// transactions of the given ledger.
	ListReserved(ctx context.Context, ledger LedgerType) (map[OutPoint]string,
		error)
}

// TemporarySentQueries covers temporary sent transactions.
type TemporarySentQueries interface {
	// PutTemporarySent records a temporary sent transaction and its
	// reservations.
	PutTemporarySent(ctx context.Context, rec *TemporarySent) error

	// ListTemporarySent returns every temporary sent transaction of the
	// ledger.
	ListTemporarySent(ctx context.Context,
		ledger LedgerType) ([]*TemporarySent, error)

	// DeleteTemporarySent removes the record for txid, releasing its
	// reservations.
	DeleteTemporarySent(ctx context.Context, txid string) error
}

// InvitationQueries covers invitations.
type InvitationQueries interface {
	// PutInvitation inserts or replaces an invitation.
	PutInvitation(ctx context.Context, inv *Invitation) error

	// GetInvitation returns the invitation with the local id or
	// ErrNotFound.
	GetInvitation(ctx context.Context, id string) (*Invitation, error)

	// ListInvitations returns every invitation of the side, oldest first.
	ListInvitations(ctx context.Context, side Side) ([]*Invitation, error)
}

// PoolQueries covers the server address pool mirror.
type PoolQueries interface {
	// PutPoolEntry records an address registered in the server pool.
	PutPoolEntry(ctx context.Context, entry PoolEntry) error

	// ListPoolEntries returns every pool entry ordered by index.
	ListPoolEntries(ctx context.Context) ([]PoolEntry, error)

	// DeletePoolEntry removes a pool entry.
	DeletePoolEntry(ctx context.Context, addr string) error
}

// StateQueries covers sync state and gap indices.
type StateQueries interface {
	// GetSyncState returns the sync state.
	GetSyncState(ctx context.Context) (SyncState, error)

	// PutSyncState replaces the sync state.
	PutSyncState(ctx context.Context, state SyncState) error

	// ListGapIndices returns the recorded gap indices of a branch.
	ListGapIndices(ctx context.Context, change uint32) ([]uint32, error)

	// ReplaceGapIndices replaces the gap indices of a branch.
	ReplaceGapIndices(ctx context.Context, change uint32,
		indices []uint32) error
}
