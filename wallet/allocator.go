// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
)

// ownedSet maps every address the wallet considers its own to the path it
// was derived at.
type ownedSet map[string]keychain.Path

// contains reports whether addr belongs to the set.
func (o ownedSet) contains(addr string) bool {
	_, ok := o[addr]
	return ok
}

// addressAllocator derives wallet addresses and decides which receive
// indices may be handed out. It owns the high-water marks and gap indices
// of both branches. The sync orchestrator refreshes them after each pass.
type addressAllocator struct {
	kc       keychain.Keychain
	store    db.Store
	gapLimit uint32
	coin     uint32

	mu sync.Mutex

	// cache holds every derivation made so far. Derivation is pure so
	// cached entries never go stale.
	cache map[keychain.Path]*keychain.MetaAddress

	// last is the high-water mark per branch, -1 for none.
	last [2]int64

	// gaps are the unused indices below the high-water mark per branch.
	gaps [2][]uint32

	// nextChange is the next change index handed to the builder. It runs
	// ahead of last[InternalBranch] while payments are unconfirmed.
	nextChange uint32
}

// newAddressAllocator creates an allocator with empty state.
func newAddressAllocator(kc keychain.Keychain, store db.Store,
	gapLimit uint32) *addressAllocator {

	return &addressAllocator{
		kc:       kc,
		store:    store,
		gapLimit: gapLimit,
		coin:     kc.CoinType(),
		cache:    make(map[keychain.Path]*keychain.MetaAddress),
		last:     [2]int64{-1, -1},
	}
}

// path returns the full derivation path of an index on a branch.
func (a *addressAllocator) path(branch, index uint32) keychain.Path {
	return keychain.Path{
		Purpose: keychain.PurposeSegwit,
		Coin:    a.coin,
		Account: keychain.DefaultAccount,
		Change:  branch,
		Index:   index,
	}
}

// derive returns the address at index on branch.
func (a *addressAllocator) derive(branch,
	index uint32) (*keychain.MetaAddress, error) {

	p := a.path(branch, index)

	a.mu.Lock()
	addr, ok := a.cache[p]
	a.mu.Unlock()
	if ok {
		return addr, nil
	}

	addr, err := a.kc.DeriveAddress(p)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[p] = addr
	a.mu.Unlock()

	return addr, nil
}

// receiveAddress derives the receive address at index i.
func (a *addressAllocator) receiveAddress(i uint32) (*keychain.MetaAddress,
	error) {

	return a.derive(keychain.ExternalBranch, i)
}

// changeAddress derives the change address at index i.
func (a *addressAllocator) changeAddress(i uint32) (*keychain.MetaAddress,
	error) {

	return a.derive(keychain.InternalBranch, i)
}

// load reads the persisted high-water marks and gap indices.
func (a *addressAllocator) load(ctx context.Context, s db.Session) error {
	state, err := s.GetSyncState(ctx)
	if err != nil {
		return err
	}

	var gaps [2][]uint32
	for _, branch := range []uint32{
		keychain.ExternalBranch, keychain.InternalBranch,
	} {
		gaps[branch], err = s.ListGapIndices(ctx, branch)
		if err != nil {
			return err
		}
	}

	a.apply(state.LastReceiveIndex, state.LastChangeIndex, gaps)

	return nil
}

// apply replaces the allocator state after a sync pass committed.
func (a *addressAllocator) apply(lastReceive, lastChange int64,
	gaps [2][]uint32) {

	a.mu.Lock()
	defer a.mu.Unlock()

	a.last = [2]int64{lastReceive, lastChange}
	a.gaps = gaps

	if next := uint32(lastChange + 1); next > a.nextChange {
		a.nextChange = next
	}
}

// reset drops every piece of state, as after the wallet was deleted.
func (a *addressAllocator) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.last = [2]int64{-1, -1}
	a.gaps = [2][]uint32{}
	a.nextChange = 0
}

// lastReceiveIndex returns the highest used receive index, -1 for none.
func (a *addressAllocator) lastReceiveIndex() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.last[keychain.ExternalBranch]
}

// lastChangeIndex returns the highest used change index, -1 for none.
func (a *addressAllocator) lastChangeIndex() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.last[keychain.InternalBranch]
}

// peekChangeAddress returns the change address the next payment will use.
// It stays the same until commitChange consumes it.
func (a *addressAllocator) peekChangeAddress() (*keychain.MetaAddress,
	error) {

	a.mu.Lock()
	index := a.nextChange
	a.mu.Unlock()

	return a.changeAddress(index)
}

// commitChange marks the change index as handed out, so later payments
// never reuse it even before a sync observed it.
func (a *addressAllocator) commitChange(index uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index+1 > a.nextChange {
		a.nextChange = index + 1
	}
}

// allocationFilter lists what an allocation must not hand out.
type allocationFilter struct {
	// pool are the indices registered with the introduction service.
	pool []uint32

	// promised are the addresses given to pending received invitations.
	promised map[string]struct{}
}

// loadAllocationFilter reads the pool and promised addresses.
func loadAllocationFilter(ctx context.Context,
	s db.Session) (*allocationFilter, error) {

	entries, err := s.ListPoolEntries(ctx)
	if err != nil {
		return nil, err
	}

	invitations, err := s.ListInvitations(ctx, db.SideReceiver)
	if err != nil {
		return nil, err
	}

	f := &allocationFilter{promised: make(map[string]struct{})}
	for _, entry := range entries {
		f.pool = append(f.pool, entry.Index)
	}
	for _, inv := range invitations {
		if inv.Address == "" || inv.Status.IsTerminal() {
			continue
		}
		f.promised[inv.Address] = struct{}{}
	}

	return f, nil
}

// nextAvailableReceiveAddresses returns up to count receive addresses that
// may be handed out, in ascending index order. Gap indices come before the
// forward window. It never fails. Indices whose derivation fails are
// dropped, as is everything when the filter cannot be read.
func (a *addressAllocator) nextAvailableReceiveAddresses(ctx context.Context,
	count int, forServerPool bool,
	indicesToSkip []uint32) []*keychain.MetaAddress {

	if count <= 0 {
		return nil
	}

	var filter *allocationFilter
	err := a.store.View(ctx, func(s db.Session) error {
		var err error
		filter, err = loadAllocationFilter(ctx, s)

		return err
	})
	if err != nil {
		log.Errorf("Unable to load allocation filter: %v", err)
		return nil
	}

	return a.availableReceive(count, forServerPool, indicesToSkip, filter)
}

// availableReceive is the pure part of nextAvailableReceiveAddresses.
func (a *addressAllocator) availableReceive(count int, forServerPool bool,
	indicesToSkip []uint32,
	filter *allocationFilter) []*keychain.MetaAddress {

	a.mu.Lock()
	start := uint32(a.last[keychain.ExternalBranch] + 1)
	candidates := slices.Clone(a.gaps[keychain.ExternalBranch])
	a.mu.Unlock()

	for i := uint32(0); i < a.gapLimit; i++ {
		candidates = append(candidates, start+i)
	}

	excluded := make(map[uint32]struct{}, len(indicesToSkip))
	for _, idx := range indicesToSkip {
		excluded[idx] = struct{}{}
	}
	if forServerPool {
		for _, idx := range filter.pool {
			excluded[idx] = struct{}{}
		}
	}

	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	result := make([]*keychain.MetaAddress, 0, count)
	for _, idx := range candidates {
		if len(result) == count {
			break
		}
		if _, ok := excluded[idx]; ok {
			continue
		}

		addr, err := a.receiveAddress(idx)
		if err != nil {
			log.Warnf("Dropping receive index %d: %v", idx, err)
			continue
		}

		if _, ok := filter.promised[addr.Address]; ok {
			continue
		}

		result = append(result, addr)
	}

	return result
}

// addressesUpTo derives every address of branch from index 0 through
// last+gapLimit. Failing derivations are logged and skipped.
func (a *addressAllocator) addressesUpTo(branch uint32,
	last int64) []*keychain.MetaAddress {

	end := last + int64(a.gapLimit)
	addrs := make([]*keychain.MetaAddress, 0, end+1)
	for i := int64(0); i <= end; i++ {
		addr, err := a.derive(branch, uint32(i))
		if err != nil {
			log.Warnf("Skipping %s index %d: %v", branchName(branch),
				i, err)
			continue
		}
		addrs = append(addrs, addr)
	}

	return addrs
}

// receiveAddressesUpToMaxUsed returns the receive addresses from 0 through
// lastReceiveIndex+gapLimit.
func (a *addressAllocator) receiveAddressesUpToMaxUsed() []*keychain.MetaAddress {
	return a.addressesUpTo(keychain.ExternalBranch, a.lastReceiveIndex())
}

// changeAddressesUpToMaxUsed returns the change addresses from 0 through
// lastChangeIndex+gapLimit.
func (a *addressAllocator) changeAddressesUpToMaxUsed() []*keychain.MetaAddress {
	return a.addressesUpTo(keychain.InternalBranch, a.lastChangeIndex())
}

// ownedAddresses returns the set used to classify outputs as the wallet's
// own. Both the orchestrator and the builder use it, so a transaction is
// classified identically whichever path records it.
func (a *addressAllocator) ownedAddresses() ownedSet {
	return a.ownedUpTo(a.lastReceiveIndex(), a.lastChangeIndex())
}

// ownedUpTo returns every receive address through lastReceive+gapLimit and
// every change address through lastChange+gapLimit. Change addresses handed
// out ahead of lastChange are included.
func (a *addressAllocator) ownedUpTo(lastReceive, lastChange int64) ownedSet {
	a.mu.Lock()
	lastChange = max(lastChange, int64(a.nextChange)-1)
	a.mu.Unlock()

	owned := make(ownedSet)
	for _, addr := range a.addressesUpTo(
		keychain.ExternalBranch, lastReceive,
	) {
		owned[addr.Address] = addr.Path
	}
	for _, addr := range a.addressesUpTo(
		keychain.InternalBranch, lastChange,
	) {
		owned[addr.Address] = addr.Path
	}

	return owned
}

// checkAddressExists reports whether addr was derived by the wallet, scanning
// both branches up to max(lastReceiveIndex, lastChangeIndex)+gapLimit.
func (a *addressAllocator) checkAddressExists(addr string) (keychain.Path,
	bool) {

	last := max(a.lastReceiveIndex(), a.lastChangeIndex())
	for _, branch := range []uint32{
		keychain.ExternalBranch, keychain.InternalBranch,
	} {
		for _, derived := range a.addressesUpTo(branch, last) {
			if derived.Address == addr {
				return derived.Path, true
			}
		}
	}

	return keychain.Path{}, false
}

// branchName returns a readable name of a branch for logging.
func branchName(branch uint32) string {
	if branch == keychain.InternalBranch {
		return "change"
	}

	return "receive"
}

// addressRecord converts a derived address into its store record.
func addressRecord(addr *keychain.MetaAddress,
	now func() time.Time) db.AddressRecord {

	return db.AddressRecord{
		Address:   addr.Address,
		Path:      dbPath(addr.Path),
		PubKey:    addr.PubKey,
		CreatedAt: now(),
	}
}

// dbPath converts a keychain path to its store form.
func dbPath(p keychain.Path) db.DerivationPath {
	return db.DerivationPath{
		Purpose: p.Purpose,
		Coin:    p.Coin,
		Account: p.Account,
		Change:  p.Change,
		Index:   p.Index,
	}
}

// keyPath converts a stored path to its keychain form.
func keyPath(p db.DerivationPath) keychain.Path {
	return keychain.Path{
		Purpose: p.Purpose,
		Coin:    p.Coin,
		Account: p.Account,
		Change:  p.Change,
		Index:   p.Index,
	}
}
