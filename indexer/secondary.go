// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coinkit/walletsync/internal/rest"
)

// TxStatus is the esplora transaction status.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// EsploraSource answers whether a transaction exists using an esplora
// compatible API.
type EsploraSource struct {
	rest *rest.Client
}

// NewEsploraSource creates an esplora backed secondary source.
func NewEsploraSource(cfg rest.Config) (*EsploraSource, error) {
	r, err := rest.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("esplora: %w", err)
	}

	return &EsploraSource{rest: r}, nil
}

// TransactionExists reports whether the transaction is known to the
// secondary source, either in its mempool or in a block.
func (e *EsploraSource) TransactionExists(ctx context.Context,
	txid string) (bool, error) {

	var status TxStatus
	err := e.rest.Do(ctx, rest.Request{
		Method:     http.MethodGet,
		Path:       "/tx/" + url.PathEscape(txid) + "/status",
		Idempotent: true,
	}, &status)
	switch {
	case err == nil:
		log.Tracef("Secondary source reports %s confirmed=%v", txid,
			status.Confirmed)

		return true, nil

	case errors.Is(err, rest.ErrNotFound), errors.Is(err, rest.ErrBadRequest):
		return false, nil

	default:
		return false, fmt.Errorf("tx status %s: %w", txid, mapErr(err))
	}
}
