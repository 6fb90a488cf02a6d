// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"fmt"
	"time"
)

// DerivationPath is the unique (purpose, coin, account, change, index) tuple
// of a derived key.
type DerivationPath struct {
	Purpose uint32
	Coin    uint32
	Account uint32
	Change  uint32
	Index   uint32
}

// AddressRecord is a derived wallet address.
type AddressRecord struct {
	Address   string
	Path      DerivationPath
	PubKey    string
	CreatedAt time.Time
}

// OutPoint references a transaction output by txid and index.
type OutPoint struct {
	TxID  string
	Index uint32
}

// String returns the txid:index form.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// TxInput is a transaction input with its resolved previous output. Owned
// is set when the spent output paid the wallet.
type TxInput struct {
	Index    uint32
	PrevOut  OutPoint
	Amount   int64
	Address  string
	Coinbase bool
	Owned    bool
}

// TxOutput is a transaction output. Owned is set when Address belongs to the
// wallet.
type TxOutput struct {
	Index    uint32
	Amount   int64
	Address  string
	PkScript []byte
	Owned    bool
}

// TxRecord is a transaction relevant to the wallet.
type TxRecord struct {
	TxID string

	// BlockHeight is zero while unconfirmed.
	BlockHeight int32
	BlockHash   string

	// Time is the block time, or first seen time when unconfirmed.
	Time time.Time

	Fee             int64
	SentToSelf      bool
	BroadcastFailed bool

	// FailedAt is when the broadcast was presumed failed.
	FailedAt time.Time

	// BroadcastAt is set for transactions this wallet broadcast.
	BroadcastAt time.Time

	// InvitationID links the local invitation paid by this transaction.
	InvitationID string

	Memo        string
	MemoChecked bool

	// PriceCents is the day average USD price in cents, nil when it has
	// not been looked up yet.
	PriceCents *int64

	Inputs  []TxInput
	Outputs []TxOutput
}

// Confirmations returns the number of confirmations at the given tip
// height.
func (t *TxRecord) Confirmations(tip int32) int32 {
	return Confirmations(t.BlockHeight, tip)
}

// Confirmations returns the confirmation count of a transaction mined at
// height when the chain tip is at tip.
func Confirmations(height, tip int32) int32 {
	if height <= 0 || tip < height {
		return 0
	}

	return tip - height + 1
}

// Utxo is an unspent wallet output together with the data needed to spend
// it.
type Utxo struct {
	OutPoint    OutPoint
	Amount      int64
	Address     string
	PkScript    []byte
	Path        DerivationPath
	BlockHeight int32
}

// LedgerType separates on-chain payments from lightning ones so that
// reservations only affect the ledger they were made on.
type LedgerType string

const (
	// LedgerOnChain is the on-chain ledger.
	LedgerOnChain LedgerType = "onchain"

	// LedgerLightning is the lightning ledger.
	LedgerLightning LedgerType = "lightning"
)

// TemporarySent is a locally broadcast, not yet observed payment that
// reserves the outputs it spends.
type TemporarySent struct {
	ID           string
	TxID         string
	Ledger       LedgerType
	Amount       int64
	Fee          int64
	SentToSelf   bool
	InvitationID string
	CreatedAt    time.Time
	Reserved     []OutPoint
}

// Side is the fixed side of an invitation.
type Side string

const (
	// SideSender is an invitation this wallet will pay.
	SideSender Side = "sender"

	// SideReceiver is an invitation this wallet will be paid through.
	SideReceiver Side = "receiver"
)

// InvitationStatus is the local status of an invitation.
type InvitationStatus uint8

const (
	// StatusNotSent is a sender invitation not yet acknowledged by the
	// server.
	StatusNotSent InvitationStatus = iota

	// StatusRequestSent is acknowledged and awaiting the receiver's
	// address.
	StatusRequestSent

	// StatusAddressProvided has a destination address.
	StatusAddressProvided

	// StatusCompleted is paid.
	StatusCompleted

	// StatusCanceled was canceled.
	StatusCanceled

	// StatusExpired was expired by the server.
	StatusExpired
)

// String returns the status name.
func (s InvitationStatus) String() string {
	switch s {
	case StatusNotSent:
		return "NotSent"

	case StatusRequestSent:
		return "RequestSent"

	case StatusAddressProvided:
		return "AddressProvided"

	case StatusCompleted:
		return "Completed"

	case StatusCanceled:
		return "Canceled"

	case StatusExpired:
		return "Expired"

	default:
		return fmt.Sprintf("InvitationStatus(%d)", uint8(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s InvitationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled ||
		s == StatusExpired
}

// Invitation is a local address request record.
type Invitation struct {
	// ID is the local id, also sent to the server as client id.
	ID string

	// ServerID is empty until the server acknowledged the request.
	ServerID string

	Side         Side
	Status       InvitationStatus
	Amount       int64
	Fee          int64
	Counterparty string

	// Address is the destination address once provided.
	Address string

	// TxID is the paying transaction once built.
	TxID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time

	// LastFailureAt is when the last payment attempt failed to send.
	LastFailureAt time.Time
	FailureCount  int

	// LastAttemptAt is when a payment was last attempted, whatever the
	// outcome. It orders retries of unfulfilled sent invitations.
	LastAttemptAt time.Time
}

// Acknowledged reports whether the server knows the invitation.
func (i *Invitation) Acknowledged() bool {
	return i.ServerID != ""
}

// PoolEntry is an address registered with the introduction service pool.
type PoolEntry struct {
	Address   string
	Index     uint32
	CreatedAt time.Time
}

// SyncState holds the persisted high-water marks and the last check-in.
type SyncState struct {
	// LastReceiveIndex is the highest used receive index, -1 for none.
	LastReceiveIndex int64

	// LastChangeIndex is the highest used change index, -1 for none.
	LastChangeIndex int64

	BlockHeight int32
	FeeFast     uint64
	FeeMedium   uint64
	FeeSlow     uint64
	PriceCents  int64

	LastSyncAt     time.Time
	LastFullSyncAt time.Time
}

// LastIndex returns the high-water mark of the given branch.
func (s *SyncState) LastIndex(change uint32) int64 {
	if change == 1 {
		return s.LastChangeIndex
	}

	return s.LastReceiveIndex
}

// unixOrZero converts t to unix seconds, mapping the zero time to 0.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

// timeOrZero converts unix seconds to time, mapping 0 to the zero time.
func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}

	return time.Unix(unix, 0)
}
