// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Store is the persistence collaborator of the engine.
type Store = db.Store

// Indexer is the remote blockchain indexer.
type Indexer interface {
	// AddressSummaries returns the transactions touching addrs, limited
	// to those newer than minDate when set.
	AddressSummaries(ctx context.Context, addrs []string,
		minDate fn.Option[time.Time]) ([]indexer.AddressSummary, error)

	// TransactionDetails returns the details of the known txids.
	TransactionDetails(ctx context.Context,
		txids []string) ([]indexer.TxDetail, error)

	// Checkin returns the tip height, fee estimates and spot price.
	Checkin(ctx context.Context) (*indexer.Checkin, error)

	// DayAveragePrice returns the day average price of a transaction in
	// USD cents.
	DayAveragePrice(ctx context.Context, txid string) (int64, error)

	// Notification returns the encrypted notification of a transaction.
	Notification(ctx context.Context,
		id string) (*indexer.Notification, error)

	// Broadcast publishes a signed transaction.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}

// SecondarySource is an independent view of the network used to confirm
// that a transaction missing from the indexer is really gone.
type SecondarySource interface {
	// TransactionExists reports whether txid is in a block or mempool.
	TransactionExists(ctx context.Context, txid string) (bool, error)
}

// Introducer is the remote introduction service.
type Introducer interface {
	// RegisterWallet registers the wallet identity key.
	RegisterWallet(ctx context.Context, pubKey string) (string, error)

	// PoolAddresses lists the addresses the server holds for the wallet.
	PoolAddresses(ctx context.Context) ([]introduction.PoolAddress, error)

	// AddPoolAddress registers an address in the server pool.
	AddPoolAddress(ctx context.Context, addr introduction.PoolAddress) error

	// DeletePoolAddress removes an address from the server pool.
	DeletePoolAddress(ctx context.Context, addr string) error

	// AddressRequests lists the address requests of a side.
	AddressRequests(ctx context.Context,
		side introduction.Side) ([]introduction.AddressRequest, error)

	// CreateAddressRequest creates a sent address request.
	CreateAddressRequest(ctx context.Context,
		req introduction.CreateRequest) (*introduction.AddressRequest,
		error)

	// PatchAddressRequest updates an address request.
	PatchAddressRequest(ctx context.Context, id string,
		patch introduction.RequestPatch) (*introduction.AddressRequest,
		error)
}

// SuspendInhibitor keeps the host from suspending the process while a sync
// operation runs.
type SuspendInhibitor interface {
	// Acquire takes a token and returns the function releasing it.
	Acquire(reason string) (release func())
}

// RecoveryDelegate is told when the introduction service requires the user
// to verify the wallet again.
type RecoveryDelegate interface {
	// VerificationRequired is called with the authorization failure.
	VerificationRequired(ctx context.Context, err error)
}

// Compile-time assertions that the remote clients satisfy the engine
// interfaces.
var (
	_ Indexer         = (*indexer.Client)(nil)
	_ SecondarySource = (*indexer.EsploraSource)(nil)
	_ Introducer      = (*introduction.Client)(nil)
)

// noopInhibitor is used when the host provides no inhibitor.
type noopInhibitor struct{}

// Acquire returns a no-op release.
func (noopInhibitor) Acquire(string) func() {
	return func() {}
}
