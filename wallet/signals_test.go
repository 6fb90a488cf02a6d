// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// waitSignal returns the next signal of type T, skipping others.
func waitSignal[T any](t *testing.T, sub *Subscription) T {
	t.Helper()

	timeout := time.After(waitTimeout)
	for {
		select {
		case update := <-sub.Updates():
			if v, ok := update.(T); ok {
				return v
			}

		case <-timeout:
			var zero T
			t.Fatalf("timeout waiting for %T", zero)

			return zero
		}
	}
}

// TestSyncSignals verifies a pass emits its start, the balance change and
// its end, in order.
func TestSyncSignals(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)
	h.indexer.fund(h.receive(t, 0), 8_000, 90)

	sub, err := h.w.Subscribe()
	require.NoError(t, err)
	defer sub.Cancel()

	h.sync(t, SyncFull)

	var got []interface{}
	for range 3 {
		select {
		case update := <-sub.Updates():
			got = append(got, update)

		case <-time.After(waitTimeout):
			t.Fatal("timeout waiting for signals")
		}
	}

	require.Equal(t, []interface{}{
		SyncStarted{Type: SyncFull},
		BalanceChanged{Balance: Balance{
			Spendable:  8_000,
			NetPending: 8_000,
		}},
		SyncFinished{Type: SyncFull},
	}, got)

	// An unchanged balance is not signaled again.
	h.sync(t, SyncIncremental)

	require.Equal(t, SyncStarted{Type: SyncIncremental},
		waitSignal[SyncStarted](t, sub))
	select {
	case update := <-sub.Updates():
		require.Equal(t, SyncFinished{Type: SyncIncremental}, update)

	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for sync end")
	}
}

// TestInvitationSignals verifies every local transition is signaled.
func TestInvitationSignals(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)
	h.introducer.On(
		"CreateAddressRequest", mock.Anything, mock.Anything,
	).Return(&introduction.AddressRequest{ID: "srv-1"}, nil)

	sub, err := h.w.Subscribe()
	require.NoError(t, err)
	defer sub.Cancel()

	inv, err := h.w.SendInvitation(t.Context(), btcutil.Amount(1_000), 10,
		"bob")
	require.NoError(t, err)

	changed := waitSignal[InvitationStatusChanged](t, sub)
	require.Equal(t, InvitationStatusChanged{
		ID:     inv.ID,
		Side:   db.SideSender,
		Status: db.StatusRequestSent,
	}, changed)
}

// TestSubscriptionCancel verifies a canceled subscription stops receiving
// signals and the notifier keeps serving others.
func TestSubscriptionCancel(t *testing.T) {
	t.Parallel()

	n := newNotifier()

	first, err := n.subscribe()
	require.NoError(t, err)
	second, err := n.subscribe()
	require.NoError(t, err)

	first.Cancel()
	waitClosed(t, first.Quit())

	n.send(SyncStarted{Type: SyncFull})
	require.Equal(t, SyncStarted{Type: SyncFull},
		waitSignal[SyncStarted](t, second))

	// Canceling twice is harmless.
	first.Cancel()

	n.stop()
	waitClosed(t, second.Quit())

	_, err = n.subscribe()
	require.ErrorIs(t, err, ErrNotifierStopped)
}
