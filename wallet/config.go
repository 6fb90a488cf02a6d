// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coinkit/walletsync/keychain"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultGapLimit is the number of consecutive unused addresses
	// scanned past the last used one.
	DefaultGapLimit = 20

	// DefaultDustThreshold is the smallest output spent by normal
	// construction.
	DefaultDustThreshold btcutil.Amount = 1000

	// DefaultMinConfirmations is the number of confirmations an output
	// needs before it is spendable.
	DefaultMinConfirmations = 1

	// DefaultGraceWindow is how long a broadcast transaction may be
	// missing from the indexer before it is presumed failed.
	DefaultGraceWindow = 3 * time.Minute

	// DefaultUncheckedGraceWindow replaces the grace window when no
	// secondary source can double check a missing transaction.
	DefaultUncheckedGraceWindow = 24 * time.Hour

	// DefaultFetchConcurrency bounds the parallel requests of a pass.
	DefaultFetchConcurrency = 5

	// DefaultSyncInterval is the period of the incremental sync timer.
	DefaultSyncInterval = 10 * time.Minute

	// DefaultIncrementalLookBack is subtracted from the newest known
	// transaction time to build the incremental min-date.
	DefaultIncrementalLookBack = time.Hour

	// DefaultFailedTxRetention is how long failed broadcasts are kept.
	DefaultFailedTxRetention = 72 * time.Hour

	// DefaultServerPoolSize is the number of addresses kept registered
	// with the introduction service.
	DefaultServerPoolSize = 5
)

// Config holds the collaborators and tunables of the engine.
type Config struct {
	// Store is the persistence collaborator.
	Store Store

	// Keychain derives addresses, builds and signs transactions.
	Keychain keychain.Keychain

	// Indexer is the remote blockchain indexer.
	Indexer Indexer

	// Secondary double checks transactions the indexer stopped
	// reporting. Without it, grooming waits UncheckedGraceWindow before
	// marking a transaction failed.
	Secondary SecondarySource

	// Introducer is the introduction service. Invitations are disabled
	// without it.
	Introducer Introducer

	// Inhibitor keeps the host awake during sync operations.
	Inhibitor SuspendInhibitor

	// Recovery is told when the introduction service requires a new
	// verification.
	Recovery RecoveryDelegate

	// UpgradeInProgress reports whether a wallet version upgrade runs.
	// Sync is skipped while it returns true.
	UpgradeInProgress func() bool

	// ChainParams are the parameters of the network.
	ChainParams *chaincfg.Params

	// Clock is the time source.
	Clock clock.Clock

	// NewTicker creates the incremental sync timer.
	NewTicker func(time.Duration) ticker.Ticker

	// Registerer receives the engine metrics. Metrics are not exported
	// when nil.
	Registerer prometheus.Registerer

	GapLimit             uint32
	DustThreshold        btcutil.Amount
	MinConfirmations     int32
	GraceWindow          time.Duration
	UncheckedGraceWindow time.Duration
	FetchConcurrency     int
	SyncInterval         time.Duration
	IncrementalLookBack  time.Duration
	FailedTxRetention    time.Duration
	ServerPoolSize       int
}

// DefaultConfig returns a Config with every tunable at its default and no
// collaborators.
func DefaultConfig() Config {
	return Config{
		ChainParams:          &chaincfg.MainNetParams,
		Clock:                clock.NewDefaultClock(),
		NewTicker:            newTicker,
		Inhibitor:            noopInhibitor{},
		GapLimit:             DefaultGapLimit,
		DustThreshold:        DefaultDustThreshold,
		MinConfirmations:     DefaultMinConfirmations,
		GraceWindow:          DefaultGraceWindow,
		UncheckedGraceWindow: DefaultUncheckedGraceWindow,
		FetchConcurrency:     DefaultFetchConcurrency,
		SyncInterval:         DefaultSyncInterval,
		IncrementalLookBack:  DefaultIncrementalLookBack,
		FailedTxRetention:    DefaultFailedTxRetention,
		ServerPoolSize:       DefaultServerPoolSize,
	}
}

func newTicker(d time.Duration) ticker.Ticker {
	return ticker.New(d)
}

// validate checks that the required collaborators are set and fills unset
// optional ones.
func (c *Config) validate() error {
	switch {
	case c.Store == nil:
		return fmt.Errorf("%w: store", ErrMissingParam)

	case c.Keychain == nil:
		return fmt.Errorf("%w: keychain", ErrMissingParam)

	case c.Indexer == nil:
		return fmt.Errorf("%w: indexer", ErrMissingParam)

	case c.ChainParams == nil:
		return fmt.Errorf("%w: chain params", ErrMissingParam)

	case c.GapLimit == 0:
		return fmt.Errorf("%w: gap limit must be positive",
			ErrInvalidParam)

	case c.FetchConcurrency <= 0:
		return fmt.Errorf("%w: fetch concurrency must be positive",
			ErrInvalidParam)

	case c.MinConfirmations < 0:
		return fmt.Errorf("%w: negative min confirmations",
			ErrInvalidParam)

	case c.UncheckedGraceWindow < c.GraceWindow:
		return fmt.Errorf("%w: unchecked grace window below grace "+
			"window", ErrInvalidParam)
	}

	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.NewTicker == nil {
		c.NewTicker = newTicker
	}
	if c.Inhibitor == nil {
		c.Inhibitor = noopInhibitor{}
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}

	return nil
}
