// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"

	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// poolAddress returns the pool entry of a wallet address.
func (h *testHarness) poolAddress(t *testing.T,
	i uint32) introduction.PoolAddress {

	t.Helper()

	addr := h.receive(t, i)

	return introduction.PoolAddress{Address: addr.Address, PubKey: addr.PubKey}
}

// poolIndices lists the indices of the local pool.
func (h *testHarness) poolIndices(t *testing.T) []uint32 {
	t.Helper()

	var entries []db.PoolEntry
	err := h.store.View(t.Context(), func(s db.Session) error {
		var err error
		entries, err = s.ListPoolEntries(t.Context())

		return err
	})
	require.NoError(t, err)

	out := make([]uint32, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Index)
	}

	return out
}

// TestMaintainPool verifies duplicate and foreign remote entries are
// deleted, the rest mirrored locally and the pool topped up.
func TestMaintainPool(t *testing.T) {
	t.Parallel()

	// Arrange: The server holds index 1 twice, a foreign address, a change
	// address and index 3.
	h := newTestHarness(t, true, func(cfg *Config) {
		cfg.ServerPoolSize = 3
	})

	change := h.change(t, 0)
	foreign := h.foreignAddr(t, 0)
	h.introducer.On("PoolAddresses", mock.Anything).Return(
		[]introduction.PoolAddress{
			h.poolAddress(t, 1),
			h.poolAddress(t, 1),
			{Address: foreign},
			{Address: change.Address, PubKey: change.PubKey},
			h.poolAddress(t, 3),
		}, nil,
	).Once()

	for _, addr := range []string{
		h.receive(t, 1).Address, foreign, change.Address,
	} {
		h.introducer.On("DeletePoolAddress", mock.Anything, addr).Return(
			nil,
		).Once()
	}
	for _, i := range []uint32{0, 1} {
		h.introducer.On(
			"AddPoolAddress", mock.Anything, h.poolAddress(t, i),
		).Return(nil).Once()
	}

	// Act.
	err := h.w.invitations.maintainPool(t.Context())

	// Assert.
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 3}, h.poolIndices(t))
	h.introducer.AssertExpectations(t)

	// Pool addresses are not handed out to the user.
	next := h.w.NextAvailableReceiveAddresses(t.Context(), 2, true, nil)
	require.Equal(t, []uint32{2, 4}, indices(next))
}

// TestMaintainPoolMirrorsRemoval verifies an entry the server dropped is
// removed locally and replaced.
func TestMaintainPoolMirrorsRemoval(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true, func(cfg *Config) {
		cfg.ServerPoolSize = 1
	})

	err := h.store.ExecTx(t.Context(), func(s db.Session) error {
		return putPoolAddress(t.Context(), s, h.receive(t, 2), h.clock.Now)
	})
	require.NoError(t, err)

	h.introducer.On("PoolAddresses", mock.Anything).Return(
		[]introduction.PoolAddress{}, nil,
	).Once()
	h.introducer.On(
		"AddPoolAddress", mock.Anything, h.poolAddress(t, 0),
	).Return(nil).Once()

	require.NoError(t, h.w.invitations.maintainPool(t.Context()))
	require.Equal(t, []uint32{0}, h.poolIndices(t))
	h.introducer.AssertExpectations(t)
}

// TestMaintainPoolAddFailure verifies top up stops at the first failed
// registration.
func TestMaintainPoolAddFailure(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true, func(cfg *Config) {
		cfg.ServerPoolSize = 3
	})
	h.introducer.On("PoolAddresses", mock.Anything).Return(
		[]introduction.PoolAddress{}, nil,
	).Once()
	h.introducer.On(
		"AddPoolAddress", mock.Anything, mock.Anything,
	).Return(errRemote).Once()

	err := h.w.invitations.maintainPool(t.Context())
	require.ErrorIs(t, err, errRemote)
	require.Empty(t, h.poolIndices(t))
	h.introducer.AssertNumberOfCalls(t, "AddPoolAddress", 1)
}
