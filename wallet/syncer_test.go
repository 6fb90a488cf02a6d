// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/txmeta"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestFullSyncWalksPastGaps verifies that a full pass keeps walking while
// batches show activity and records the gaps it leaves behind.
func TestFullSyncWalksPastGaps(t *testing.T) {
	t.Parallel()

	// Arrange: Activity at receive 0 and 7 with a gap limit of 5, so the
	// second batch is only reached by seeking.
	h := newTestHarness(t, false)
	h.indexer.fund(h.receive(t, 0), 10_000, 90)
	h.indexer.fund(h.receive(t, 7), 20_000, 91)

	// Act.
	h.sync(t, SyncFull)

	// Assert.
	state, err := h.w.SyncState(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(7), state.LastReceiveIndex)
	require.Equal(t, int64(-1), state.LastChangeIndex)
	require.Equal(t, int32(100), state.BlockHeight)
	require.Equal(t, uint64(13), state.FeeFast)
	require.Equal(t, uint64(6), state.FeeMedium)
	require.Equal(t, uint64(2), state.FeeSlow)
	require.Equal(t, int64(6_412_345), state.PriceCents)
	require.Equal(t, testStart, state.LastSyncAt)
	require.Equal(t, testStart, state.LastFullSyncAt)

	require.Equal(t, int64(7), h.w.alloc.lastReceiveIndex())

	addrs := h.w.NextAvailableReceiveAddresses(t.Context(), 3, false, nil)
	require.Equal(t, []uint32{1, 2, 3}, indices(addrs))

	balance, err := h.w.SpendableBalance(t.Context())
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(30_000), balance)

	recs, err := h.w.Transactions(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

// TestIncrementalSyncIdempotent verifies repeated passes over unchanged
// remote state leave the ledger unchanged.
func TestIncrementalSyncIdempotent(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)
	h.indexer.fund(h.receive(t, 0), 10_000, 90)
	h.indexer.fund(h.receive(t, 2), 5_000, 0)

	// The first incremental pass runs as a full one.
	ran, err := h.w.syncer.run(t.Context(), SyncIncremental)
	require.NoError(t, err)
	require.Equal(t, SyncFull, ran)

	first, err := h.w.Transactions(t.Context())
	require.NoError(t, err)
	firstState, err := h.w.SyncState(t.Context())
	require.NoError(t, err)

	for range 2 {
		ran, err = h.w.syncer.run(t.Context(), SyncIncremental)
		require.NoError(t, err)
		require.Equal(t, SyncIncremental, ran)
	}

	again, err := h.w.Transactions(t.Context())
	require.NoError(t, err)
	againState, err := h.w.SyncState(t.Context())
	require.NoError(t, err)

	require.Equal(t, first, again)
	require.Equal(t, firstState, againState)
	require.Equal(t, phaseDone, h.w.syncer.currentPhase())
}

// TestSyncCoversServerPool verifies that receive indices registered with the
// server pool are always scanned, even past an empty batch.
func TestSyncCoversServerPool(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)

	pooled := h.receive(t, 8)
	err := h.store.ExecTx(t.Context(), func(s db.Session) error {
		return putPoolAddress(t.Context(), s, pooled, h.clock.Now)
	})
	require.NoError(t, err)

	// Payment to an index beyond the first empty batch.
	h.indexer.fund(h.receive(t, 12), 7_000, 90)

	h.sync(t, SyncFull)

	state, err := h.w.SyncState(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(12), state.LastReceiveIndex)
}

// TestSyncIgnoresUnrelated verifies that details without wallet inputs or
// outputs are not recorded.
func TestSyncIgnoresUnrelated(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)

	foreign, err := h.foreign.DeriveAddress(keychain.Path{
		Purpose: keychain.PurposeSegwit,
		Coin:    h.foreign.CoinType(),
	})
	require.NoError(t, err)
	h.indexer.fund(foreign, 1_000, 90)

	h.sync(t, SyncFull)

	recs, err := h.w.Transactions(t.Context())
	require.NoError(t, err)
	require.Empty(t, recs)
}

// TestGroomFailedBroadcast verifies that a vanished broadcast is only
// presumed failed after the grace window and when the secondary source
// agrees, and that it is pruned after the retention period.
func TestGroomFailedBroadcast(t *testing.T) {
	t.Parallel()

	// Arrange: A payment the indexer never sees.
	h := newTestHarness(t, false)
	h.indexer.fund(h.receive(t, 0), 50_000, 90)
	h.sync(t, SyncFull)

	h.indexer.setBroadcast(nil, true)
	res, err := h.w.SendPayment(t.Context(), &PaymentRequest{
		Destination: h.foreignAddr(t, 0),
		Amount:      10_000,
		FeeRate:     2,
	})
	require.NoError(t, err)

	// Act: Within the grace window nothing is asked.
	h.clock.SetTime(testStart.Add(DefaultGraceWindow / 2))
	h.sync(t, SyncIncremental)

	// Assert.
	require.Len(t, h.temps(t), 1)
	h.secondary.AssertNotCalled(t, "TransactionExists", mock.Anything,
		mock.Anything)

	// Act: Past the window the secondary source still knows it.
	h.secondary.On("TransactionExists", mock.Anything, res.TxID).Return(
		true, nil,
	).Once()
	h.clock.SetTime(testStart.Add(DefaultGraceWindow + time.Second))
	h.sync(t, SyncIncremental)

	// Assert.
	require.Len(t, h.temps(t), 1)

	// Act: Now the secondary source lost it too.
	h.secondary.On("TransactionExists", mock.Anything, res.TxID).Return(
		false, nil,
	).Once()
	h.sync(t, SyncIncremental)

	// Assert: Failed, reservation released and funds restored.
	require.Empty(t, h.temps(t))

	rec, err := h.w.Transaction(t.Context(), res.TxID)
	require.NoError(t, err)
	require.True(t, rec.BroadcastFailed)

	balance, err := h.w.SpendableBalance(t.Context())
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000), balance)

	// Act: After the retention period the record is pruned.
	h.clock.SetTime(testStart.Add(DefaultFailedTxRetention + time.Hour))
	h.sync(t, SyncIncremental)

	// Assert.
	_, err = h.w.Transaction(t.Context(), res.TxID)
	require.ErrorIs(t, err, ErrNotFound)
	h.secondary.AssertExpectations(t)
}

// TestGroomWithoutSecondary verifies that without a secondary source a
// vanished broadcast is kept through the grace window and only presumed
// failed after the unchecked grace window.
func TestGroomWithoutSecondary(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false, func(cfg *Config) {
		cfg.Secondary = nil
	})
	h.indexer.fund(h.receive(t, 0), 50_000, 90)
	h.sync(t, SyncFull)

	h.indexer.setBroadcast(nil, true)
	res, err := h.w.SendPayment(t.Context(), &PaymentRequest{
		Destination: h.foreignAddr(t, 0),
		Amount:      10_000,
		FeeRate:     2,
	})
	require.NoError(t, err)

	// Act: Past the grace window but within the unchecked one.
	h.clock.SetTime(testStart.Add(DefaultGraceWindow + time.Hour))
	h.sync(t, SyncIncremental)

	// Assert: Kept.
	require.Len(t, h.temps(t), 1)

	rec, err := h.w.Transaction(t.Context(), res.TxID)
	require.NoError(t, err)
	require.False(t, rec.BroadcastFailed)

	// Act: Past the unchecked grace window.
	h.clock.SetTime(testStart.Add(DefaultUncheckedGraceWindow))
	h.sync(t, SyncIncremental)

	// Assert: Presumed failed and funds restored.
	require.Empty(t, h.temps(t))

	rec, err = h.w.Transaction(t.Context(), res.TxID)
	require.NoError(t, err)
	require.True(t, rec.BroadcastFailed)

	balance, err := h.w.SpendableBalance(t.Context())
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000), balance)
}

// TestSyncRestoresFailedBroadcast verifies a transaction presumed failed
// is taken back when a later sync finds it.
func TestSyncRestoresFailedBroadcast(t *testing.T) {
	t.Parallel()

	// Arrange: A dropped payment presumed failed.
	h := newTestHarness(t, false)
	h.indexer.fund(h.receive(t, 0), 50_000, 90)
	h.sync(t, SyncFull)

	h.indexer.setBroadcast(nil, true)
	res, err := h.w.SendPayment(t.Context(), &PaymentRequest{
		Destination: h.foreignAddr(t, 0),
		Amount:      10_000,
		FeeRate:     2,
	})
	require.NoError(t, err)

	h.secondary.On("TransactionExists", mock.Anything, res.TxID).Return(
		false, nil,
	).Once()
	h.clock.SetTime(testStart.Add(DefaultGraceWindow + time.Second))
	h.sync(t, SyncIncremental)

	rec, err := h.w.Transaction(t.Context(), res.TxID)
	require.NoError(t, err)
	require.True(t, rec.BroadcastFailed)

	// Act: The payment shows up after all.
	h.indexer.relay()
	h.sync(t, SyncFull)

	// Assert: No longer failed and its input is spent again.
	rec, err = h.w.Transaction(t.Context(), res.TxID)
	require.NoError(t, err)
	require.False(t, rec.BroadcastFailed)
	require.True(t, rec.FailedAt.IsZero())

	balance, err := h.w.SpendableBalance(t.Context())
	require.NoError(t, err)
	require.Less(t, balance, btcutil.Amount(40_000))
	h.secondary.AssertExpectations(t)
}

// TestSyncPrices verifies day average prices are backfilled for confirmed
// transactions, with zero stored when the indexer has none.
func TestSyncPrices(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)
	priced := h.indexer.fund(h.receive(t, 0), 10_000, 90)
	unpriced := h.indexer.fund(h.receive(t, 1), 10_000, 91)
	pending := h.indexer.fund(h.receive(t, 2), 10_000, 0)
	h.indexer.prices[priced] = 5_000_000

	h.sync(t, SyncFull)

	for txid, want := range map[string]*int64{
		priced:   ptr(int64(5_000_000)),
		unpriced: ptr(int64(0)),
		pending:  nil,
	} {
		rec, err := h.w.Transaction(t.Context(), txid)
		require.NoError(t, err)
		require.Equal(t, want, rec.PriceCents, txid)
	}
}

// ptr returns a pointer to v.
func ptr[T any](v T) *T {
	return &v
}

// TestSyncDecryptsNotifications verifies notification payloads are opened
// with the key of the receiving address.
func TestSyncDecryptsNotifications(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)

	addr := h.receive(t, 0)
	withMemo := h.indexer.fund(addr, 10_000, 90)
	confirmed := h.indexer.fund(h.receive(t, 1), 10_000, 91)
	pending := h.indexer.fund(h.receive(t, 2), 10_000, 0)

	pubBytes, err := hex.DecodeString(addr.PubKey)
	require.NoError(t, err)
	pub, err := btcec.ParsePubKey(pubBytes)
	require.NoError(t, err)

	payload, err := txmeta.Seal(&txmeta.Metadata{
		Memo:   "lunch",
		Amount: 10_000,
	}, pub)
	require.NoError(t, err)

	h.indexer.notifications[withMemo] = &indexer.Notification{
		ID:               withMemo,
		TxID:             withMemo,
		Address:          addr.Address,
		EncryptedPayload: base64.StdEncoding.EncodeToString(payload),
	}

	h.sync(t, SyncFull)

	rec, err := h.w.Transaction(t.Context(), withMemo)
	require.NoError(t, err)
	require.True(t, rec.MemoChecked)
	require.Equal(t, "lunch", rec.Memo)

	// A confirmed transaction without notification is checked.
	rec, err = h.w.Transaction(t.Context(), confirmed)
	require.NoError(t, err)
	require.True(t, rec.MemoChecked)
	require.Empty(t, rec.Memo)

	// An unconfirmed one may still receive its notification.
	rec, err = h.w.Transaction(t.Context(), pending)
	require.NoError(t, err)
	require.False(t, rec.MemoChecked)
}

// TestHeadBatches verifies the batch starts covering a target.
func TestHeadBatches(t *testing.T) {
	t.Parallel()

	require.Empty(t, headBatches(-1, 5))
	require.Equal(t, []uint32{0}, headBatches(0, 5))
	require.Equal(t, []uint32{0}, headBatches(4, 5))
	require.Equal(t, []uint32{0, 5}, headBatches(5, 5))
	require.Equal(t, []uint32{0, 20, 40}, headBatches(41, 20))
}

// TestSyncPhaseString verifies every phase has a name.
func TestSyncPhaseString(t *testing.T) {
	t.Parallel()

	for p := phaseIdle; p <= phaseFailed; p++ {
		require.NotEqual(t, "unknown sync phase", p.String())
	}
	require.Equal(t, "unknown sync phase", syncPhase(99).String())
}
