// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain provides the HD wallet capability used by the sync
// engine: deterministic address derivation, transaction construction over a
// caller-supplied set of candidate coins, signing, and the ECDH and message
// signing primitives needed by the remote services. Nothing in this package
// touches persistence or the network.
package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const (
	// PurposeSegwit is the BIP84 purpose used for every derived address.
	PurposeSegwit uint32 = 84

	// ExternalBranch is the branch used for receive addresses.
	ExternalBranch uint32 = 0

	// InternalBranch is the branch used for change addresses.
	InternalBranch uint32 = 1

	// DefaultAccount is the only account the engine derives from.
	DefaultAccount uint32 = 0

	// IdentityBranch holds the wallet identity key used to authenticate
	// with the introduction service. No address is derived from it.
	IdentityBranch uint32 = 2
)

var (
	// ErrInsufficientFunds is returned when the candidate coins cannot
	// cover the requested amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientFee is returned when a flat-fee transaction is
	// requested with a non-positive fee.
	ErrInsufficientFee = errors.New("insufficient fee")

	// ErrDustOutput is returned when the payment output would be below
	// the relay dust limit.
	ErrDustOutput = errors.New("payment output is dust")

	// ErrNoCandidates is returned when a build request carries no coins.
	ErrNoCandidates = errors.New("no candidate coins")

	// ErrUnknownMode is returned for an unrecognized BuildMode.
	ErrUnknownMode = errors.New("unknown build mode")

	// ErrMissingDestination is returned when a build request has no
	// destination address.
	ErrMissingDestination = errors.New("missing destination")

	// ErrInputMismatch is returned when transaction data handed to the
	// signer does not line up with its own inputs.
	ErrInputMismatch = errors.New("transaction inputs do not match coins")
)

// Path is a full BIP32 derivation path below the master key. Purpose, Coin
// and Account are hardened on derivation.
type Path struct {
	Purpose uint32
	Coin    uint32
	Account uint32
	Change  uint32
	Index   uint32
}

// String returns the path in the usual m/purpose'/coin'/account'/change/index
// form.
func (p Path) String() string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", p.Purpose, p.Coin,
		p.Account, p.Change, p.Index)
}

// IsChange reports whether the path is on the internal branch.
func (p Path) IsChange() bool {
	return p.Change == InternalBranch
}

// MetaAddress is a derived address together with the path and public key it
// was derived from.
type MetaAddress struct {
	// Address is the encoded address string.
	Address string

	// Path is the derivation path of the address.
	Path Path

	// PubKey is the hex encoded compressed public key.
	PubKey string

	// PkScript is the output script paying to the address.
	PkScript []byte
}

// Coin is a spendable output offered to the transaction builder.
type Coin struct {
	// OutPoint is the outpoint of the output.
	OutPoint wire.OutPoint

	// Amount is the value of the output.
	Amount btcutil.Amount

	// PkScript is the output script.
	PkScript []byte

	// Path is the derivation path of the key controlling the output.
	Path Path
}

// BuildMode selects how the builder turns candidates into a transaction.
type BuildMode uint8

const (
	// ModeStandard pays Amount at FeeRate, selecting the largest coins
	// first and returning change.
	ModeStandard BuildMode = iota

	// ModeFlatFee pays Amount with exactly FlatFee as fee, plus any change
	// that would otherwise be dust.
	ModeFlatFee

	// ModeSendMax spends every candidate into a single output minus the
	// fee.
	ModeSendMax

	// ModeSendAll behaves like ModeSendMax. The caller is expected to pass
	// every unspent output, including dust and unconfirmed ones.
	ModeSendAll
)

// String returns a human readable name for the mode.
func (m BuildMode) String() string {
	switch m {
	case ModeStandard:
		return "standard"

	case ModeFlatFee:
		return "flat-fee"

	case ModeSendMax:
		return "send-max"

	case ModeSendAll:
		return "send-all"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// SatPerVByte is a fee rate expressed in satoshis per virtual byte.
type SatPerVByte uint64

// FeePerKVByte returns the rate in satoshis per kilo-vbyte, the unit used by
// the txauthor and txrules packages.
func (s SatPerVByte) FeePerKVByte() btcutil.Amount {
	return btcutil.Amount(s * 1000)
}

// FeeForVSize returns the fee for a transaction of the given virtual size.
func (s SatPerVByte) FeeForVSize(vsize int) btcutil.Amount {
	return btcutil.Amount(uint64(s) * uint64(vsize))
}

// BuildRequest carries everything the builder needs to produce an unsigned
// transaction.
type BuildRequest struct {
	// Mode selects the construction strategy.
	Mode BuildMode

	// Candidates are the coins the builder may spend.
	Candidates []Coin

	// Destination is the address being paid.
	Destination btcutil.Address

	// Amount is the payment amount. Ignored for send-max and send-all.
	Amount btcutil.Amount

	// FeeRate is used by standard, send-max and send-all construction.
	FeeRate SatPerVByte

	// FlatFee is the absolute fee for flat-fee construction. When set on
	// a send-max or send-all request it replaces the rate based fee.
	FlatFee btcutil.Amount

	// ChangePath is the path of the change output, if one is created.
	ChangePath Path

	// BlockHeight is used as the transaction lock time.
	BlockHeight int32

	// RBF signals replaceability on every input.
	RBF bool
}

// TransactionData is an unsigned transaction plus the bookkeeping the caller
// needs to persist and sign it.
type TransactionData struct {
	// Tx is the unsigned transaction.
	Tx *wire.MsgTx

	// Inputs are the spent coins in transaction input order.
	Inputs []Coin

	// Destination is the paid address.
	Destination btcutil.Address

	// Amount is the value paid to Destination.
	Amount btcutil.Amount

	// Fee is the absolute fee.
	Fee btcutil.Amount

	// Change is the change value, zero if there is no change output.
	Change btcutil.Amount

	// ChangeAddress is the change address, nil when there is no change.
	ChangeAddress *MetaAddress

	// ChangeIndex is the index of the change output or -1.
	ChangeIndex int

	// RBF reports whether the inputs signal replaceability.
	RBF bool
}

// TotalInput returns the sum of the spent coins.
func (t *TransactionData) TotalInput() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range t.Inputs {
		total += in.Amount
	}

	return total
}

// Keychain is the capability the engine needs from an HD wallet.
type Keychain interface {
	// DeriveAddress derives the address at the given path. The same path
	// always yields the same address.
	DeriveAddress(path Path) (*MetaAddress, error)

	// BuildTransaction constructs an unsigned transaction.
	BuildTransaction(req *BuildRequest) (*TransactionData, error)

	// SignTransaction signs every input of the transaction data and
	// returns the final transaction.
	SignTransaction(data *TransactionData) (*wire.MsgTx, error)

	// SharedSecret returns the ECDH secret between the key at path and
	// the given public key.
	SharedSecret(path Path, pub *btcec.PublicKey) ([]byte, error)

	// SignMessage returns a DER encoded ECDSA signature over the double
	// SHA256 of msg with the key at path.
	SignMessage(path Path, msg []byte) ([]byte, error)

	// CoinType returns the BIP44 coin type the keychain derives for.
	CoinType() uint32
}
