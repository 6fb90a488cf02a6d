// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errMock   = errors.New("mock error")
	errRemote = errors.New("remote fail")
)

// foreignAddress funds test transactions. It is never decoded.
const foreignAddress = "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"

var (
	// chainParams are the chain parameters used throughout the wallet
	// tests.
	chainParams = chaincfg.RegressionNetParams

	testSeed    = bytes.Repeat([]byte{0x2a}, 32)
	foreignSeed = bytes.Repeat([]byte{0x07}, 32)

	// testStart is the initial time of every test clock.
	testStart = time.Unix(1_750_000_000, 0)
)

// mockIntroducer is a mock implementation of the Introducer interface.
type mockIntroducer struct {
	mock.Mock
}

// A compile-time assertion to ensure mockIntroducer implements Introducer.
var _ Introducer = (*mockIntroducer)(nil)

func (m *mockIntroducer) RegisterWallet(ctx context.Context,
	pubKey string) (string, error) {

	args := m.Called(ctx, pubKey)
	return args.String(0), args.Error(1)
}

func (m *mockIntroducer) PoolAddresses(
	ctx context.Context) ([]introduction.PoolAddress, error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]introduction.PoolAddress), args.Error(1)
}

func (m *mockIntroducer) AddPoolAddress(ctx context.Context,
	addr introduction.PoolAddress) error {

	args := m.Called(ctx, addr)
	return args.Error(0)
}

func (m *mockIntroducer) DeletePoolAddress(ctx context.Context,
	addr string) error {

	args := m.Called(ctx, addr)
	return args.Error(0)
}

func (m *mockIntroducer) AddressRequests(ctx context.Context,
	side introduction.Side) ([]introduction.AddressRequest, error) {

	args := m.Called(ctx, side)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]introduction.AddressRequest), args.Error(1)
}

func (m *mockIntroducer) CreateAddressRequest(ctx context.Context,
	req introduction.CreateRequest) (*introduction.AddressRequest, error) {

	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*introduction.AddressRequest), args.Error(1)
}

func (m *mockIntroducer) PatchAddressRequest(ctx context.Context, id string,
	patch introduction.RequestPatch) (*introduction.AddressRequest, error) {

	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*introduction.AddressRequest), args.Error(1)
}

// mockSecondary is a mock implementation of the SecondarySource interface.
type mockSecondary struct {
	mock.Mock
}

func (m *mockSecondary) TransactionExists(ctx context.Context,
	txid string) (bool, error) {

	args := m.Called(ctx, txid)
	return args.Bool(0), args.Error(1)
}

// mockInhibitor is a mock implementation of the SuspendInhibitor interface.
// The release function it returns is recorded as a Release call.
type mockInhibitor struct {
	mock.Mock
}

func (m *mockInhibitor) Acquire(reason string) func() {
	m.Called(reason)

	return func() {
		m.MethodCalled("Release", reason)
	}
}

// mockRecovery is a mock implementation of the RecoveryDelegate interface.
type mockRecovery struct {
	mock.Mock
}

func (m *mockRecovery) VerificationRequired(ctx context.Context, err error) {
	m.Called(ctx, err)
}

// testHarness bundles a wallet with its collaborators.
type testHarness struct {
	w          *Wallet
	store      Store
	kc         *keychain.HDKeychain
	foreign    *keychain.HDKeychain
	indexer    *fakeIndexer
	introducer *mockIntroducer
	secondary  *mockSecondary
	clock      *clock.TestClock
	ticker     *ticker.Force
}

// newTestStore opens a migrated SQLite store in a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()

	store, err := db.OpenSQLite(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

// newTestKeychain returns a regtest keychain over seed.
func newTestKeychain(t *testing.T, seed []byte) *keychain.HDKeychain {
	t.Helper()

	kc, err := keychain.NewHDKeychain(seed, &chainParams)
	require.NoError(t, err)

	return kc
}

// newTestHarness creates a started wallet over a real store, an in-memory
// indexer and mocked remote services. The introducer is only wired when
// withIntroducer is set. Tweaks are applied to the config before New.
func newTestHarness(t *testing.T, withIntroducer bool,
	tweaks ...func(*Config)) *testHarness {

	t.Helper()

	h := &testHarness{
		store:      newTestStore(t),
		kc:         newTestKeychain(t, testSeed),
		foreign:    newTestKeychain(t, foreignSeed),
		indexer:    newFakeIndexer(&chainParams, testStart),
		introducer: &mockIntroducer{},
		secondary:  &mockSecondary{},
		clock:      clock.NewTestClock(testStart),
		ticker:     ticker.NewForce(time.Hour),
	}

	cfg := DefaultConfig()
	cfg.Store = h.store
	cfg.Keychain = h.kc
	cfg.Indexer = h.indexer
	cfg.Secondary = h.secondary
	cfg.ChainParams = &chainParams
	cfg.Clock = h.clock
	cfg.GapLimit = 5
	cfg.ServerPoolSize = 0
	cfg.NewTicker = func(time.Duration) ticker.Ticker {
		return h.ticker
	}
	if withIntroducer {
		cfg.Introducer = h.introducer
	}
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	w, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))

	t.Cleanup(func() {
		require.NoError(t, w.Stop())
	})

	h.w = w

	return h
}

// receive derives the wallet receive address at index i.
func (h *testHarness) receive(t *testing.T, i uint32) *keychain.MetaAddress {
	t.Helper()

	addr, err := h.w.alloc.receiveAddress(i)
	require.NoError(t, err)

	return addr
}

// change derives the wallet change address at index i.
func (h *testHarness) change(t *testing.T, i uint32) *keychain.MetaAddress {
	t.Helper()

	addr, err := h.w.alloc.changeAddress(i)
	require.NoError(t, err)

	return addr
}

// foreignAddr derives an address of another wallet.
func (h *testHarness) foreignAddr(t *testing.T, i uint32) string {
	t.Helper()

	addr, err := h.foreign.DeriveAddress(keychain.Path{
		Purpose: keychain.PurposeSegwit,
		Coin:    h.foreign.CoinType(),
		Account: keychain.DefaultAccount,
		Change:  keychain.ExternalBranch,
		Index:   i,
	})
	require.NoError(t, err)

	return addr.Address
}

// sync runs a pass of the given type and waits for it.
func (h *testHarness) sync(t *testing.T, syncType SyncType) {
	t.Helper()

	require.NoError(t, h.w.Sync(t.Context(), syncType))
}

// invitation reads an invitation from the store.
func (h *testHarness) invitation(t *testing.T, id string) *db.Invitation {
	t.Helper()

	var inv *db.Invitation
	err := h.store.View(t.Context(), func(s db.Session) error {
		var err error
		inv, err = s.GetInvitation(t.Context(), id)

		return err
	})
	require.NoError(t, err)

	return inv
}

// putInvitation writes an invitation to the store.
func (h *testHarness) putInvitation(t *testing.T, inv *db.Invitation) {
	t.Helper()

	err := h.store.ExecTx(t.Context(), func(s db.Session) error {
		return s.PutInvitation(t.Context(), inv)
	})
	require.NoError(t, err)
}

// temps lists the on-chain temporary sent records.
func (h *testHarness) temps(t *testing.T) []*db.TemporarySent {
	t.Helper()

	var temps []*db.TemporarySent
	err := h.store.View(t.Context(), func(s db.Session) error {
		var err error
		temps, err = s.ListTemporarySent(t.Context(), db.LedgerOnChain)

		return err
	})
	require.NoError(t, err)

	return temps
}

// expectQuietIntroducer sets the introducer up with an empty pool and no
// remote requests.
func (h *testHarness) expectQuietIntroducer() {
	h.introducer.On("PoolAddresses", mock.Anything).Return(
		[]introduction.PoolAddress{}, nil,
	).Maybe()
	h.introducer.On(
		"AddressRequests", mock.Anything, introduction.SideReceived,
	).Return([]introduction.AddressRequest{}, nil).Maybe()
}
