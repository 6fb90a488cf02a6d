// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/keychain"
	"github.com/coinkit/walletsync/wallet/internal/db"
)

// maintainPool mirrors the server address pool locally, deletes remote
// entries the wallet cannot vouch for and tops the pool up to the configured
// size.
func (e *invitationEngine) maintainPool(ctx context.Context) error {
	var remote []introduction.PoolAddress
	err := e.call(ctx, func() error {
		var err error
		remote, err = e.cfg.Introducer.PoolAddresses(ctx)

		return err
	})
	if err != nil {
		return err
	}

	keep, drop := e.classifyPool(remote)

	var errs []error
	for _, addr := range drop {
		err := e.call(ctx, func() error {
			return e.cfg.Introducer.DeletePoolAddress(ctx, addr)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete pool address %s: %w",
				addr, err))
		}
	}

	if err := e.mirrorPool(ctx, keep); err != nil {
		return errors.Join(append(errs, err)...)
	}

	need := e.cfg.ServerPoolSize - len(keep)
	if need <= 0 {
		return errors.Join(errs...)
	}

	fresh := e.alloc.nextAvailableReceiveAddresses(ctx, need, true, nil)
	for _, addr := range fresh {
		err := e.call(ctx, func() error {
			return e.cfg.Introducer.AddPoolAddress(
				ctx, introduction.PoolAddress{
					Address: addr.Address,
					PubKey:  addr.PubKey,
				},
			)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("add pool address %s: %w",
				addr.Address, err))

			// Stop topping up rather than fail every entry.
			break
		}

		err = e.cfg.Store.ExecTx(ctx, func(s db.Session) error {
			return putPoolAddress(ctx, s, addr, e.cfg.Clock.Now)
		})
		if err != nil {
			errs = append(errs, err)
			break
		}

		log.Debugf("Registered pool address %s (index %d)", addr.Address,
			addr.Path.Index)
	}

	return errors.Join(errs...)
}

// classifyPool splits the remote pool into entries to keep, keyed by
// address, and addresses to delete. An address is deleted when the wallet
// did not derive it on its receive branch, or when the server holds it more
// than once.
func (e *invitationEngine) classifyPool(
	remote []introduction.PoolAddress) (map[string]*keychain.MetaAddress,
	[]string) {

	counts := make(map[string]int, len(remote))
	for _, entry := range remote {
		counts[entry.Address]++
	}

	keep := make(map[string]*keychain.MetaAddress, len(remote))
	var drop []string
	for addr, n := range counts {
		if n > 1 {
			log.Warnf("Pool address %s: %v", addr, ErrDuplicateAddress)
			drop = append(drop, addr)
			continue
		}

		path, ok := e.alloc.checkAddressExists(addr)
		if !ok || path.Change != keychain.ExternalBranch {
			log.Warnf("Pool address %s: %v", addr, ErrForeignAddress)
			drop = append(drop, addr)
			continue
		}

		meta, err := e.alloc.derive(path.Change, path.Index)
		if err != nil {
			log.Warnf("Skipping pool address %s: %v", addr, err)
			continue
		}
		keep[addr] = meta
	}

	slices.Sort(drop)

	return keep, drop
}

// mirrorPool makes the local pool match keep.
func (e *invitationEngine) mirrorPool(ctx context.Context,
	keep map[string]*keychain.MetaAddress) error {

	return e.cfg.Store.ExecTx(ctx, func(s db.Session) error {
		local, err := s.ListPoolEntries(ctx)
		if err != nil {
			return err
		}

		mirrored := make(map[string]struct{}, len(local))
		for _, entry := range local {
			if _, ok := keep[entry.Address]; ok {
				mirrored[entry.Address] = struct{}{}
				continue
			}

			err := s.DeletePoolEntry(ctx, entry.Address)
			if err != nil {
				return err
			}
		}

		for addr, meta := range keep {
			if _, ok := mirrored[addr]; ok {
				continue
			}

			err := putPoolAddress(ctx, s, meta, e.cfg.Clock.Now)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// putPoolAddress records addr and its pool entry.
func putPoolAddress(ctx context.Context, s db.Session,
	addr *keychain.MetaAddress, now func() time.Time) error {

	if err := s.PutAddress(ctx, addressRecord(addr, now)); err != nil {
		return err
	}

	return s.PutPoolEntry(ctx, db.PoolEntry{
		Address:   addr.Address,
		Index:     addr.Path.Index,
		CreatedAt: now(),
	})
}
