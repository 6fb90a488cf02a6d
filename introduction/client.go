// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package introduction implements the client for the peer introduction
// service that brokers address requests between wallets and holds a pool of
// pre-registered receive addresses.
package introduction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coinkit/walletsync/internal/rest"
)

var (
	// ErrMissingIdentifiers is returned when the service does not know
	// this wallet and it must register again.
	ErrMissingIdentifiers = errors.New("wallet identifiers missing")

	// ErrVerificationRequired is returned when the service requires the
	// user to verify again before continuing.
	ErrVerificationRequired = errors.New("verification required")

	// ErrNotFound is returned when the referenced entity does not exist on
	// the server.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateAddress is returned when an address is already
	// registered.
	ErrDuplicateAddress = errors.New("duplicate address")

	// ErrUnreachable is returned on transport failures.
	ErrUnreachable = errors.New("introduction service unreachable")
)

// Config holds the configuration of the introduction client.
type Config struct {
	rest.Config
}

// Client is the introduction service client.
type Client struct {
	rest *rest.Client
}

// NewClient creates a new introduction client.
func NewClient(cfg *Config) (*Client, error) {
	r, err := rest.New(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("introduction: %w", err)
	}

	return &Client{rest: r}, nil
}

// RegisterWallet registers the wallet identity key and returns the server
// wallet id.
func (c *Client) RegisterWallet(ctx context.Context, pubKey string) (string,
	error) {

	var resp struct {
		ID string `json:"id"`
	}
	err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   "/wallet",
		Body:   map[string]string{"public_key_string": pubKey},
	}, &resp)
	if err != nil && !errors.Is(err, rest.ErrConflict) {
		return "", fmt.Errorf("register wallet: %w", mapErr(err))
	}

	log.Infof("Registered wallet identity (id=%s)", resp.ID)

	return resp.ID, nil
}

// PoolAddresses lists the addresses registered in the server pool.
func (c *Client) PoolAddresses(ctx context.Context) ([]PoolAddress, error) {
	var addrs []PoolAddress
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodGet,
		Path:       "/wallet/addresses",
		Idempotent: true,
	}, &addrs)
	if err != nil {
		return nil, fmt.Errorf("list pool: %w", mapErr(err))
	}

	return addrs, nil
}

// AddPoolAddress registers one address in the server pool.
func (c *Client) AddPoolAddress(ctx context.Context, addr PoolAddress) error {
	err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   "/wallet/addresses",
		Body:   addr,
	}, nil)
	if err != nil {
		return fmt.Errorf("add pool address %s: %w", addr.Address,
			mapErr(err))
	}

	return nil
}

// DeletePoolAddress removes an address from the server pool.
func (c *Client) DeletePoolAddress(ctx context.Context, addr string) error {
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodDelete,
		Path:       "/wallet/addresses/" + url.PathEscape(addr),
		Idempotent: true,
	}, nil)
	if err != nil {
		return fmt.Errorf("delete pool address %s: %w", addr,
			mapErr(err))
	}

	return nil
}

// AddressRequests lists the requests on one side.
func (c *Client) AddressRequests(ctx context.Context,
	side Side) ([]AddressRequest, error) {

	var reqs []AddressRequest
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodGet,
		Path:       "/wallet/address_requests/" + string(side),
		Idempotent: true,
	}, &reqs)
	if err != nil {
		return nil, fmt.Errorf("list %s requests: %w", side, mapErr(err))
	}

	return reqs, nil
}

// CreateAddressRequest creates a sent address request.
func (c *Client) CreateAddressRequest(ctx context.Context,
	req CreateRequest) (*AddressRequest, error) {

	var created AddressRequest
	err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   "/wallet/address_requests",
		Body:   req,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", req.ClientID,
			mapErr(err))
	}

	return &created, nil
}

// PatchAddressRequest updates a request.
func (c *Client) PatchAddressRequest(ctx context.Context, id string,
	patch RequestPatch) (*AddressRequest, error) {

	var updated AddressRequest
	err := c.rest.Do(ctx, rest.Request{
		Method:     http.MethodPatch,
		Path:       "/wallet/address_requests/" + url.PathEscape(id),
		Body:       patch,
		Idempotent: true,
	}, &updated)
	if err != nil {
		return nil, fmt.Errorf("patch request %s: %w", id, mapErr(err))
	}

	return &updated, nil
}

// mapErr translates transport errors into the package sentinels.
func mapErr(err error) error {
	switch {
	case errors.Is(err, rest.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrMissingIdentifiers, err)

	case errors.Is(err, rest.ErrForbidden):
		return fmt.Errorf("%w: %w", ErrVerificationRequired, err)

	case errors.Is(err, rest.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, rest.ErrConflict):
		return fmt.Errorf("%w: %w", ErrDuplicateAddress, err)

	case rest.IsTransport(err):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)

	default:
		return err
	}
}
