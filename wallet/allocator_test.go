// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"
	"time"

	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/stretchr/testify/require"
)

// newTestAllocator returns an allocator over the test keychain and a fresh
// store.
func newTestAllocator(t *testing.T, gapLimit uint32) *addressAllocator {
	t.Helper()

	return newAddressAllocator(
		newTestKeychain(t, testSeed), newTestStore(t), gapLimit,
	)
}

// indices returns the derivation indices of addrs.
func indices(addrs []*keychain.MetaAddress) []uint32 {
	out := make([]uint32, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Path.Index)
	}

	return out
}

// TestAvailableReceiveGapFirst verifies that recorded gap indices are handed
// out before the forward window and that duplicates collapse.
func TestAvailableReceiveGapFirst(t *testing.T) {
	t.Parallel()

	// Arrange: Last receive index 4 with recorded gaps {2, 5}.
	a := newTestAllocator(t, 20)
	a.apply(4, -1, [2][]uint32{{2, 5}, nil})

	filter := &allocationFilter{promised: map[string]struct{}{}}

	// Act.
	addrs := a.availableReceive(3, false, nil, filter)

	// Assert.
	require.Equal(t, []uint32{2, 5, 6}, indices(addrs))
}

// TestAvailableReceiveFilters verifies the skip set, the server pool and
// promised addresses are excluded.
func TestAvailableReceiveFilters(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 10)
	a.apply(1, -1, [2][]uint32{{0}, nil})

	promised, err := a.receiveAddress(3)
	require.NoError(t, err)

	filter := &allocationFilter{
		pool:     []uint32{2, 5},
		promised: map[string]struct{}{promised.Address: {}},
	}

	tests := []struct {
		name          string
		forServerPool bool
		skip          []uint32
		want          []uint32
	}{
		{
			name: "promised only",
			want: []uint32{0, 2, 4, 5},
		},
		{
			name:          "server pool excluded",
			forServerPool: true,
			want:          []uint32{0, 4, 6, 7},
		},
		{
			name: "skip set",
			skip: []uint32{0, 4},
			want: []uint32{2, 5, 6, 7},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			addrs := a.availableReceive(
				4, tc.forServerPool, tc.skip, filter,
			)
			require.Equal(t, tc.want, indices(addrs))
		})
	}
}

// TestNextAvailableReadsFilter verifies that the store backed variant skips
// pool entries and addresses promised to open received invitations.
func TestNextAvailableReadsFilter(t *testing.T) {
	t.Parallel()

	// Arrange: Index 0 is in the pool, index 1 is promised.
	a := newTestAllocator(t, 5)
	ctx := t.Context()

	addr0, err := a.receiveAddress(0)
	require.NoError(t, err)
	addr1, err := a.receiveAddress(1)
	require.NoError(t, err)

	err = a.store.ExecTx(ctx, func(s db.Session) error {
		err := putPoolAddress(ctx, s, addr0, func() time.Time {
			return testStart
		})
		if err != nil {
			return err
		}

		return s.PutInvitation(ctx, &db.Invitation{
			ID:        "inv",
			ServerID:  "srv",
			Side:      db.SideReceiver,
			Status:    db.StatusAddressProvided,
			Amount:    1000,
			Fee:       10,
			Address:   addr1.Address,
			CreatedAt: testStart,
			UpdatedAt: testStart,
		})
	})
	require.NoError(t, err)

	// Act.
	forPool := a.nextAvailableReceiveAddresses(ctx, 2, true, nil)
	forUser := a.nextAvailableReceiveAddresses(ctx, 2, false, nil)

	// Assert: The pool is only excluded for pool allocations.
	require.Equal(t, []uint32{2, 3}, indices(forPool))
	require.Equal(t, []uint32{0, 2}, indices(forUser))
}

// TestDeriveDeterministic verifies that derivation is pure and cached.
func TestDeriveDeterministic(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 5)
	other := newAddressAllocator(
		newTestKeychain(t, testSeed), a.store, 5,
	)

	for i := range uint32(10) {
		first, err := a.receiveAddress(i)
		require.NoError(t, err)

		again, err := a.receiveAddress(i)
		require.NoError(t, err)
		require.Same(t, first, again)

		fresh, err := other.receiveAddress(i)
		require.NoError(t, err)
		require.Equal(t, first.Address, fresh.Address)
		require.Equal(t, first.PubKey, fresh.PubKey)

		change, err := a.changeAddress(i)
		require.NoError(t, err)
		require.NotEqual(t, first.Address, change.Address)
		require.True(t, change.Path.IsChange())
	}
}

// TestOwnedUpToIncludesHandedOutChange verifies that change handed to a
// payment is owned before any sync observed it.
func TestOwnedUpToIncludesHandedOutChange(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 2)

	// Arrange: Hand out change indices 0 through 4.
	a.commitChange(4)

	beyond, err := a.changeAddress(6)
	require.NoError(t, err)
	outside, err := a.changeAddress(7)
	require.NoError(t, err)
	receive, err := a.receiveAddress(1)
	require.NoError(t, err)

	// Act.
	owned := a.ownedAddresses()

	// Assert: Change is owned through nextChange-1+gap, receive through
	// -1+gap.
	require.True(t, owned.contains(beyond.Address))
	require.False(t, owned.contains(outside.Address))
	require.True(t, owned.contains(receive.Address))
	require.Len(t, owned, 2+7)
}

// TestPeekCommitChange verifies a peeked change address is stable until
// committed.
func TestPeekCommitChange(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 5)

	first, err := a.peekChangeAddress()
	require.NoError(t, err)

	again, err := a.peekChangeAddress()
	require.NoError(t, err)
	require.Equal(t, first.Address, again.Address)

	a.commitChange(first.Path.Index)

	next, err := a.peekChangeAddress()
	require.NoError(t, err)
	require.Equal(t, uint32(1), next.Path.Index)

	// A sync observing a higher index moves the cursor forward.
	a.apply(-1, 6, [2][]uint32{})

	next, err = a.peekChangeAddress()
	require.NoError(t, err)
	require.Equal(t, uint32(7), next.Path.Index)

	// Reset after a wipe starts over.
	a.reset()

	next, err = a.peekChangeAddress()
	require.NoError(t, err)
	require.Equal(t, uint32(0), next.Path.Index)
}

// TestCheckAddressExists verifies both branches are searched up to the gap
// past the highest used index.
func TestCheckAddressExists(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 3)
	a.apply(2, 0, [2][]uint32{})

	change, err := a.changeAddress(5)
	require.NoError(t, err)
	far, err := a.receiveAddress(6)
	require.NoError(t, err)

	path, ok := a.checkAddressExists(change.Address)
	require.True(t, ok)
	require.Equal(t, change.Path, path)

	_, ok = a.checkAddressExists(far.Address)
	require.False(t, ok)

	_, ok = a.checkAddressExists(foreignAddress)
	require.False(t, ok)
}

// TestGapIndices verifies the unused indices below the high-water mark.
func TestGapIndices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		used []uint32
		last int64
		want []uint32
	}{
		{
			name: "no history",
			last: -1,
		},
		{
			name: "contiguous",
			used: []uint32{0, 1, 2},
			last: 2,
		},
		{
			name: "holes",
			used: []uint32{2, 5, 6},
			last: 6,
			want: []uint32{0, 1, 3, 4},
		},
		{
			name: "persisted mark above usage",
			used: []uint32{1},
			last: 3,
			want: []uint32{0, 2, 3},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, gapIndices(tc.used, tc.last))
		})
	}
}
