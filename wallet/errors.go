// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/coinkit/walletsync/indexer"
	"github.com/coinkit/walletsync/introduction"
	"github.com/coinkit/walletsync/keychain"
)

var (
	// ErrInsufficientFunds is returned when the spendable balance cannot
	// cover a payment and its fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientFee is returned when a flat fee payment carries no
	// fee.
	ErrInsufficientFee = errors.New("insufficient fee")

	// ErrNoSpendableFunds is returned when the wallet has no spendable
	// output at all.
	ErrNoSpendableFunds = errors.New("no spendable funds")

	// ErrMissingManagedEntity is returned when a remote record refers to
	// a local record that does not exist.
	ErrMissingManagedEntity = errors.New("missing managed entity")

	// ErrForeignAddress is returned when the server holds an address the
	// wallet did not derive.
	ErrForeignAddress = errors.New("address not owned by wallet")

	// ErrDuplicateAddress is returned when the server holds the same
	// address more than once.
	ErrDuplicateAddress = errors.New("duplicate address")

	// ErrMissingParam is returned when a required configuration value is
	// missing.
	ErrMissingParam = errors.New("missing parameter")

	// ErrInvalidParam is returned when a configuration value is out of
	// range.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrSchedulerStopped is returned when work is submitted to a stopped
	// scheduler.
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// ErrInvitationsDisabled is returned for invitation calls on a wallet
	// built without an introduction service.
	ErrInvitationsDisabled = errors.New("invitations disabled")

	// ErrInvalidAmount is returned for a non-positive payment amount.
	ErrInvalidAmount = errors.New("invalid amount")
)

// InvitationError ties a failure to the invitation it affected.
type InvitationError struct {
	ID  string
	Err error
}

// Error implements the error interface.
func (e *InvitationError) Error() string {
	return fmt.Sprintf("invitation %s: %v", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvitationError) Unwrap() error {
	return e.Err
}

// TxError ties a failure to the transaction it affected.
type TxError struct {
	TxID string
	Err  error
}

// Error implements the error interface.
func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.TxID, e.Err)
}

// Unwrap returns the underlying error.
func (e *TxError) Unwrap() error {
	return e.Err
}

// IsFundsError reports whether err is a funds condition. Funds conditions
// are reported to the user and never retried as transient.
func IsFundsError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientFee) ||
		errors.Is(err, ErrNoSpendableFunds) ||
		errors.Is(err, keychain.ErrDustOutput)
}

// IsTransportError reports whether err is a transport condition. A broadcast
// that failed with a transport condition may still have succeeded.
func IsTransportError(err error) bool {
	return errors.Is(err, indexer.ErrUnreachable) ||
		errors.Is(err, indexer.ErrBroadcastTimeout) ||
		errors.Is(err, indexer.ErrBroadcastFailed) ||
		errors.Is(err, introduction.ErrUnreachable)
}

// IsRetryable reports whether the next admitted pass should retry the
// failed operation.
func IsRetryable(err error) bool {
	return IsTransportError(err) || IsFundsError(err)
}

// mapBuildErr translates keychain construction errors into the engine's
// funds conditions.
func mapBuildErr(err error) error {
	switch {
	case errors.Is(err, keychain.ErrInsufficientFunds),
		errors.Is(err, keychain.ErrNoCandidates):

		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)

	case errors.Is(err, keychain.ErrInsufficientFee):
		return fmt.Errorf("%w: %w", ErrInsufficientFee, err)

	default:
		return err
	}
}
