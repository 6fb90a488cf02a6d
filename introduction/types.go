// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package introduction

// Side is the side of an address request as seen by this wallet.
type Side string

const (
	// SideSent lists requests this wallet created as the payer.
	SideSent Side = "sent"

	// SideReceived lists requests addressed to this wallet.
	SideReceived Side = "received"
)

// RequestStatus is the server side status of an address request.
type RequestStatus string

const (
	// StatusNew is an open request.
	StatusNew RequestStatus = "new"

	// StatusCompleted is a paid request.
	StatusCompleted RequestStatus = "completed"

	// StatusCanceled is a request canceled by either party.
	StatusCanceled RequestStatus = "canceled"

	// StatusExpired is a request the server expired.
	StatusExpired RequestStatus = "expired"
)

// IsOpen reports whether the request still awaits an address or payment.
func (s RequestStatus) IsOpen() bool {
	return s == StatusNew
}

// AddressRequest is a cross-party payment promise.
type AddressRequest struct {
	ID            string        `json:"id"`
	ClientID      string        `json:"client_id,omitempty"`
	Status        RequestStatus `json:"status"`
	Address       string        `json:"address,omitempty"`
	AddressPubKey string        `json:"address_pubkey,omitempty"`
	TxID          string        `json:"txid,omitempty"`
	Amount        int64         `json:"amount_sats"`
	Fee           int64         `json:"fee_sats"`
	Counterparty  string        `json:"counterparty"`
	CreatedAt     int64         `json:"created_at"`
	UpdatedAt     int64         `json:"updated_at"`
}

// CreateRequest is the body used to create a sent address request.
type CreateRequest struct {
	ClientID     string `json:"client_id"`
	Amount       int64  `json:"amount_sats"`
	Fee          int64  `json:"fee_sats"`
	Counterparty string `json:"counterparty"`
}

// RequestPatch updates an address request. Empty fields are omitted.
type RequestPatch struct {
	Status        RequestStatus `json:"status,omitempty"`
	TxID          string        `json:"txid,omitempty"`
	Address       string        `json:"address,omitempty"`
	AddressPubKey string        `json:"address_pubkey,omitempty"`
}

// PoolAddress is an address the server may hand out on this wallet's behalf.
type PoolAddress struct {
	Address string `json:"address"`
	PubKey  string `json:"address_pubkey"`
}
