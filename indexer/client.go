// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package indexer implements the clients for the remote blockchain indexer
// and for an esplora compatible secondary source used to double check
// transactions the indexer no longer reports.
package indexer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinkit/walletsync/internal/rest"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrUnreachable is returned when the indexer could not be reached or
	// timed out on an idempotent call.
	ErrUnreachable = errors.New("indexer unreachable")

	// ErrBroadcastTimeout is returned when a broadcast did not complete in
	// time. The transaction may have been accepted.
	ErrBroadcastTimeout = errors.New("broadcast timed out")

	// ErrBroadcastFailed is returned when the indexer rejected a
	// transaction.
	ErrBroadcastFailed = errors.New("broadcast failed")

	// ErrNotFound is returned when the requested item does not exist.
	ErrNotFound = errors.New("not found")
)

// Config holds the configuration for the indexer client.
type Config struct {
	rest.Config
}

// Client is the remote indexer client.
type Client struct {
	rest *rest.Client
}

// NewClient creates a new indexer client.
func NewClient(cfg *Config) (*Client, error) {
	r, err := rest.New(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}

	return &Client{rest: r}, nil
}

// addressQuery is the body of the address summary query.
type addressQuery struct {
	Addresses []string `json:"addresses"`
	MinDate   *int64   `json:"min_date,omitempty"`
}

// AddressSummaries returns every (address, txid) pair touching the given
// addresses, optionally bounded to transactions at or after minDate.
func (c *Client) AddressSummaries(ctx context.Context, addrs []string,
	minDate fn.Option[time.Time]) ([]AddressSummary, error) {

	if len(addrs) == 0 {
		return nil, nil
	}

	query := addressQuery{Addresses: addrs}
	minDate.WhenSome(func(t time.Time) {
		unix := t.Unix()
		query.MinDate = &unix
	})

	var summaries []AddressSummary
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodPost,
		Path:       "/addresses/query",
		Body:       query,
		Idempotent: true,
	}, &summaries)
	if err != nil {
		return nil, fmt.Errorf("address summaries: %w", mapErr(err))
	}

	return summaries, nil
}

// TransactionDetails returns the detail of every requested transaction the
// indexer knows about.
func (c *Client) TransactionDetails(ctx context.Context,
	txids []string) ([]TxDetail, error) {

	if len(txids) == 0 {
		return nil, nil
	}

	var details []TxDetail
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodPost,
		Path:       "/transactions/query",
		Body:       map[string][]string{"txids": txids},
		Idempotent: true,
	}, &details)
	if err != nil {
		return nil, fmt.Errorf("transaction details: %w", mapErr(err))
	}

	return details, nil
}

// Checkin returns the current block height, fee estimates and spot price.
func (c *Client) Checkin(ctx context.Context) (*Checkin, error) {
	var checkin Checkin
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodGet,
		Path:       "/checkin",
		Idempotent: true,
	}, &checkin)
	if err != nil {
		return nil, fmt.Errorf("checkin: %w", mapErr(err))
	}

	return &checkin, nil
}

// DayAveragePrice returns the average USD price, in cents, of the day the
// transaction was mined.
func (c *Client) DayAveragePrice(ctx context.Context, txid string) (int64,
	error) {

	var resp struct {
		Average float64 `json:"average"`
	}
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodGet,
		Path:       "/pricing/" + url.PathEscape(txid),
		Idempotent: true,
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("price for %s: %w", txid, mapErr(err))
	}

	return dollarsToCents(resp.Average), nil
}

// Notification returns the encrypted notification with the given id.
func (c *Client) Notification(ctx context.Context, id string) (*Notification,
	error) {

	var n Notification
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodGet,
		Path:       "/notifications/" + url.PathEscape(id),
		Idempotent: true,
	}, &n)
	if err != nil {
		return nil, fmt.Errorf("notification %s: %w", id, mapErr(err))
	}

	return &n, nil
}

// Broadcast publishes the transaction. It is never retried at the transport
// level.
func (c *Client) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return chainhash.Hash{}, fmt.Errorf("serialize tx: %w", err)
	}

	txid := tx.TxHash()

	var resp struct {
		TxID string `json:"txid"`
	}
	err := c.rest.Do(ctx, rest.Request{
		Method:  http.MethodPost,
		Path:    "/broadcast",
		RawBody: []byte(hex.EncodeToString(buf.Bytes())),
	}, &resp)
	switch {
	case err == nil:

	case errors.Is(err, rest.ErrTimeout):
		return txid, fmt.Errorf("%w: %v: %w", ErrBroadcastTimeout, txid,
			err)

	case errors.Is(err, rest.ErrUnreachable):
		return txid, fmt.Errorf("%w: %v: %w", ErrUnreachable, txid, err)

	default:
		return txid, fmt.Errorf("%w: %v: %w", ErrBroadcastFailed, txid,
			err)
	}

	if resp.TxID != "" && resp.TxID != txid.String() {
		log.Warnf("Indexer returned txid %s for broadcast of %v",
			resp.TxID, txid)
	}

	log.Infof("Broadcast transaction %v", txid)

	return txid, nil
}

// mapErr translates transport errors into the package sentinels.
func mapErr(err error) error {
	switch {
	case errors.Is(err, rest.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case rest.IsTransport(err):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)

	default:
		return err
	}
}
