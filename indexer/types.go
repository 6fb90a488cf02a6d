// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexer

import "time"

// AddressSummary is one (address, transaction) pair returned by the address
// query.
type AddressSummary struct {
	// Address is the queried address.
	Address string `json:"address"`

	// TxID is a transaction touching the address.
	TxID string `json:"txid"`

	// Time is the block time, or the first seen time for unconfirmed
	// transactions, in unix seconds.
	Time int64 `json:"time"`

	// Confirmations is zero for mempool transactions.
	Confirmations int32 `json:"confirmations"`
}

// Vin is a transaction input with its resolved previous output.
type Vin struct {
	TxID      string   `json:"txid"`
	Vout      uint32   `json:"vout"`
	Value     int64    `json:"value"`
	Addresses []string `json:"addresses"`
	Coinbase  bool     `json:"coinbase,omitempty"`
}

// ScriptPubKey is an output script with the addresses it pays.
type ScriptPubKey struct {
	Hex       string   `json:"hex"`
	Addresses []string `json:"addresses"`
}

// Vout is a transaction output.
type Vout struct {
	N            uint32       `json:"n"`
	Value        int64        `json:"value"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// Address returns the single address paid by the output, or the empty string
// for non-standard or multi-address scripts.
func (v Vout) Address() string {
	if len(v.ScriptPubKey.Addresses) != 1 {
		return ""
	}

	return v.ScriptPubKey.Addresses[0]
}

// TxDetail is the full detail of a transaction.
type TxDetail struct {
	TxID          string `json:"txid"`
	BlockHash     string `json:"blockhash,omitempty"`
	BlockHeight   int32  `json:"height"`
	Confirmations int32  `json:"confirmations"`
	Time          int64  `json:"time"`
	ReceivedTime  int64  `json:"receivedtime"`
	Vin           []Vin  `json:"vin"`
	Vout          []Vout `json:"vout"`
}

// Confirmed reports whether the transaction is in a block.
func (d TxDetail) Confirmed() bool {
	return d.BlockHeight > 0
}

// Timestamp returns the best known time of the transaction.
func (d TxDetail) Timestamp() time.Time {
	if d.Time > 0 {
		return time.Unix(d.Time, 0)
	}

	return time.Unix(d.ReceivedTime, 0)
}

// Fee returns inputs minus outputs. Coinbase transactions report zero.
func (d TxDetail) Fee() int64 {
	var in, out int64
	for _, vin := range d.Vin {
		if vin.Coinbase {
			return 0
		}
		in += vin.Value
	}
	for _, vout := range d.Vout {
		out += vout.Value
	}

	if in < out {
		return 0
	}

	return in - out
}

// FeeEstimates are the check-in fee estimates in sat/vB.
type FeeEstimates struct {
	Fast   float64 `json:"best"`
	Medium float64 `json:"better"`
	Slow   float64 `json:"good"`
}

// Checkin is the indexer's view of the chain tip, fees and spot price.
type Checkin struct {
	BlockHeight int32        `json:"blockheight"`
	Fees        FeeEstimates `json:"fees"`
	Pricing     struct {
		Last float64 `json:"last"`
	} `json:"pricing"`
}

// PriceCents returns the spot price in USD cents.
func (c Checkin) PriceCents() int64 {
	return dollarsToCents(c.Pricing.Last)
}

// Notification is an encrypted transaction notification.
type Notification struct {
	ID               string `json:"id"`
	TxID             string `json:"txid"`
	Address          string `json:"address"`
	EncryptedPayload string `json:"encrypted_payload"`
	CreatedAt        int64  `json:"created_at"`
}

// dollarsToCents converts a dollar amount to integral cents, rounding half
// away from zero.
func dollarsToCents(d float64) int64 {
	if d < 0 {
		return -dollarsToCents(-d)
	}

	return int64(d*100 + 0.5)
}
