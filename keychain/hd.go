// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// branchKey identifies a cached branch extended key.
type branchKey struct {
	purpose uint32
	coin    uint32
	account uint32
	change  uint32
}

// HDKeychain is a seed backed Keychain deriving BIP84 native segwit keys.
type HDKeychain struct {
	params *chaincfg.Params
	master *hdkeychain.ExtendedKey

	// mu guards branches.
	mu sync.Mutex

	// branches caches the extended key of each branch so that deriving an
	// address only costs one child derivation.
	branches map[branchKey]*hdkeychain.ExtendedKey
}

// A compile-time assertion to ensure HDKeychain implements Keychain.
var _ Keychain = (*HDKeychain)(nil)

// NewHDKeychain creates a keychain from a BIP32 seed.
func NewHDKeychain(seed []byte, params *chaincfg.Params) (*HDKeychain,
	error) {

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	return &HDKeychain{
		params:   params,
		master:   master,
		branches: make(map[branchKey]*hdkeychain.ExtendedKey),
	}, nil
}

// CoinType returns the BIP44 coin type of the configured network.
func (k *HDKeychain) CoinType() uint32 {
	return k.params.HDCoinType
}

// branch returns the extended key of the branch containing path, deriving
// and caching it on first use.
func (k *HDKeychain) branch(path Path) (*hdkeychain.ExtendedKey, error) {
	key := branchKey{
		purpose: path.Purpose,
		coin:    path.Coin,
		account: path.Account,
		change:  path.Change,
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if ext, ok := k.branches[key]; ok {
		return ext, nil
	}

	steps := []uint32{
		path.Purpose + hdkeychain.HardenedKeyStart,
		path.Coin + hdkeychain.HardenedKeyStart,
		path.Account + hdkeychain.HardenedKeyStart,
		path.Change,
	}

	ext := k.master
	for _, step := range steps {
		var err error
		ext, err = ext.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
	}

	k.branches[key] = ext

	return ext, nil
}

// childKey derives the extended key at path.
func (k *HDKeychain) childKey(path Path) (*hdkeychain.ExtendedKey, error) {
	branch, err := k.branch(path)
	if err != nil {
		return nil, err
	}

	child, err := branch.Derive(path.Index)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", path, err)
	}

	return child, nil
}

// privKey returns the private key at path.
func (k *HDKeychain) privKey(path Path) (*btcec.PrivateKey, error) {
	child, err := k.childKey(path)
	if err != nil {
		return nil, err
	}

	return child.ECPrivKey()
}

// DeriveAddress derives the P2WPKH address at the given path.
func (k *HDKeychain) DeriveAddress(path Path) (*MetaAddress, error) {
	child, err := k.childKey(path)
	if err != nil {
		return nil, err
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("pubkey for %s: %w", path, err)
	}

	pubBytes := pub.SerializeCompressed()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubBytes), k.params,
	)
	if err != nil {
		return nil, fmt.Errorf("address for %s: %w", path, err)
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("script for %s: %w", path, err)
	}

	return &MetaAddress{
		Address:  addr.EncodeAddress(),
		Path:     path,
		PubKey:   hex.EncodeToString(pubBytes),
		PkScript: pkScript,
	}, nil
}

// SharedSecret computes the ECDH secret between the private key at path and
// pub.
func (k *HDKeychain) SharedSecret(path Path, pub *btcec.PublicKey) ([]byte,
	error) {

	priv, err := k.privKey(path)
	if err != nil {
		return nil, err
	}

	return secp256k1.GenerateSharedSecret(priv, pub), nil
}

// SignMessage signs the double SHA256 of msg with the key at path.
func (k *HDKeychain) SignMessage(path Path, msg []byte) ([]byte, error) {
	priv, err := k.privKey(path)
	if err != nil {
		return nil, err
	}

	sig := ecdsa.Sign(priv, chainhash.DoubleHashB(msg))

	return sig.Serialize(), nil
}
