// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/hex"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/keychain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// fakeIndexer is an in-memory indexer. Broadcast transactions enter its
// mempool unless dropBroadcast is set, and mine confirms the mempool.
type fakeIndexer struct {
	params *chaincfg.Params

	mu            sync.Mutex
	tip           int32
	now           time.Time
	txs           map[string]indexer.TxDetail
	notifications map[string]*indexer.Notification
	prices        map[string]int64

	broadcastErr  error
	dropBroadcast bool
	broadcasts    []*wire.MsgTx
	summaryCalls  int
	seq           int
}

// A compile-time assertion to ensure fakeIndexer implements Indexer.
var _ Indexer = (*fakeIndexer)(nil)

func newFakeIndexer(params *chaincfg.Params, now time.Time) *fakeIndexer {
	return &fakeIndexer{
		params:        params,
		tip:           100,
		now:           now,
		txs:           make(map[string]indexer.TxDetail),
		notifications: make(map[string]*indexer.Notification),
		prices:        make(map[string]int64),
	}
}

// AddressSummaries returns one summary per requested address a transaction
// touches.
func (f *fakeIndexer) AddressSummaries(_ context.Context, addrs []string,
	minDate fn.Option[time.Time]) ([]indexer.AddressSummary, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.summaryCalls++

	wanted := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		wanted[addr] = struct{}{}
	}
	after := minDate.UnwrapOr(time.Time{})

	var sums []indexer.AddressSummary
	for _, txid := range slices.Sorted(maps.Keys(f.txs)) {
		d := f.txs[txid]
		if d.Timestamp().Before(after) {
			continue
		}

		touched := make(map[string]struct{})
		for _, vin := range d.Vin {
			for _, addr := range vin.Addresses {
				touched[addr] = struct{}{}
			}
		}
		for _, vout := range d.Vout {
			touched[vout.Address()] = struct{}{}
		}

		for _, addr := range slices.Sorted(maps.Keys(touched)) {
			if _, ok := wanted[addr]; !ok {
				continue
			}

			sums = append(sums, indexer.AddressSummary{
				Address:       addr,
				TxID:          txid,
				Time:          d.Timestamp().Unix(),
				Confirmations: d.Confirmations,
			})
		}
	}

	return sums, nil
}

// TransactionDetails returns the known details of txids.
func (f *fakeIndexer) TransactionDetails(_ context.Context,
	txids []string) ([]indexer.TxDetail, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	var details []indexer.TxDetail
	for _, txid := range txids {
		if d, ok := f.txs[txid]; ok {
			details = append(details, d)
		}
	}

	return details, nil
}

// Checkin returns the tip and fixed estimates.
func (f *fakeIndexer) Checkin(context.Context) (*indexer.Checkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &indexer.Checkin{
		BlockHeight: f.tip,
		Fees: indexer.FeeEstimates{
			Fast:   12.4,
			Medium: 6,
			Slow:   1.1,
		},
	}
	c.Pricing.Last = 64123.45

	return c, nil
}

// DayAveragePrice returns the configured price of txid.
func (f *fakeIndexer) DayAveragePrice(_ context.Context,
	txid string) (int64, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	cents, ok := f.prices[txid]
	if !ok {
		return 0, indexer.ErrNotFound
	}

	return cents, nil
}

// Notification returns the configured notification of txid.
func (f *fakeIndexer) Notification(_ context.Context,
	txid string) (*indexer.Notification, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.notifications[txid]
	if !ok {
		return nil, indexer.ErrNotFound
	}

	return n, nil
}

// Broadcast records tx and adds it to the mempool.
func (f *fakeIndexer) Broadcast(_ context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.broadcasts = append(f.broadcasts, tx)
	if !f.dropBroadcast {
		f.txs[tx.TxHash().String()] = f.detailFromTx(tx)
	}

	return tx.TxHash(), f.broadcastErr
}

// detailFromTx renders a wire transaction the way the indexer reports it.
func (f *fakeIndexer) detailFromTx(tx *wire.MsgTx) indexer.TxDetail {
	d := indexer.TxDetail{
		TxID:         tx.TxHash().String(),
		ReceivedTime: f.now.Unix(),
	}

	for _, in := range tx.TxIn {
		vin := indexer.Vin{
			TxID: in.PreviousOutPoint.Hash.String(),
			Vout: in.PreviousOutPoint.Index,
		}
		if prev, ok := f.txs[vin.TxID]; ok {
			for _, out := range prev.Vout {
				if out.N == vin.Vout {
					vin.Value = out.Value
					vin.Addresses = out.ScriptPubKey.Addresses
				}
			}
		}
		d.Vin = append(d.Vin, vin)
	}

	for i, out := range tx.TxOut {
		_, addrs, _, _ := txscript.ExtractPkScriptAddrs(
			out.PkScript, f.params,
		)

		vout := indexer.Vout{
			N:     uint32(i),
			Value: out.Value,
			ScriptPubKey: indexer.ScriptPubKey{
				Hex: hex.EncodeToString(out.PkScript),
			},
		}
		for _, addr := range addrs {
			vout.ScriptPubKey.Addresses = append(
				vout.ScriptPubKey.Addresses, addr.EncodeAddress(),
			)
		}
		d.Vout = append(d.Vout, vout)
	}

	return d
}

// fund adds a transaction paying amount from a foreign wallet to to. It is
// mined at height, or left in the mempool when height is zero.
func (f *fakeIndexer) fund(to *keychain.MetaAddress, amount int64,
	height int32) string {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	prev := chainhash.DoubleHashH([]byte{byte(f.seq), 0xfe})
	txid := chainhash.DoubleHashH([]byte{byte(f.seq), 0xff}).String()

	d := indexer.TxDetail{
		TxID:         txid,
		ReceivedTime: f.now.Unix(),
		Vin: []indexer.Vin{{
			TxID:      prev.String(),
			Value:     amount + 1000,
			Addresses: []string{foreignAddress},
		}},
		Vout: []indexer.Vout{{
			N:     0,
			Value: amount,
			ScriptPubKey: indexer.ScriptPubKey{
				Hex:       hex.EncodeToString(to.PkScript),
				Addresses: []string{to.Address},
			},
		}},
	}
	if height > 0 {
		d.BlockHeight = height
		d.BlockHash = chainhash.DoubleHashH([]byte(txid)).String()
		d.Time = f.now.Unix()
		d.Confirmations = f.tip - height + 1
	}
	f.txs[txid] = d

	return txid
}

// mine confirms every mempool transaction in a new block.
func (f *fakeIndexer) mine() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tip++
	for txid, d := range f.txs {
		if d.BlockHeight == 0 {
			d.BlockHeight = f.tip
			d.BlockHash = chainhash.DoubleHashH(
				[]byte(txid),
			).String()
			d.Time = f.now.Unix()
		}
		d.Confirmations = f.tip - d.BlockHeight + 1
		f.txs[txid] = d
	}
}

// forget drops txid as if it was evicted from the mempool.
func (f *fakeIndexer) forget(txid string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.txs, txid)
}

// relay adds every broadcast transaction to the mempool, as if the dropped
// ones reached the network late.
func (f *fakeIndexer) relay() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tx := range f.broadcasts {
		txid := tx.TxHash().String()
		if _, ok := f.txs[txid]; !ok {
			f.txs[txid] = f.detailFromTx(tx)
		}
	}
}

// broadcastCount returns the number of Broadcast calls.
func (f *fakeIndexer) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.broadcasts)
}

// setBroadcast configures the outcome of later broadcasts.
func (f *fakeIndexer) setBroadcast(err error, drop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.broadcastErr = err
	f.dropBroadcast = drop
}
