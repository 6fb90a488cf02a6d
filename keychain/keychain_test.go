// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var testSeed = bytes.Repeat([]byte{0x2a}, 32)

// newTestKeychain returns a regtest keychain over a fixed seed.
func newTestKeychain(t *testing.T) *HDKeychain {
	t.Helper()

	kc, err := NewHDKeychain(testSeed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	return kc
}

// receivePath returns the receive path at index i.
func receivePath(kc *HDKeychain, i uint32) Path {
	return Path{
		Purpose: PurposeSegwit,
		Coin:    kc.CoinType(),
		Account: DefaultAccount,
		Change:  ExternalBranch,
		Index:   i,
	}
}

// changePath returns the change path at index i.
func changePath(kc *HDKeychain, i uint32) Path {
	p := receivePath(kc, i)
	p.Change = InternalBranch

	return p
}

// testCoins derives one coin per amount, each paying to the receive address
// at its position.
func testCoins(t *testing.T, kc *HDKeychain,
	amounts ...btcutil.Amount) []Coin {

	t.Helper()

	coins := make([]Coin, 0, len(amounts))
	for i, amt := range amounts {
		meta, err := kc.DeriveAddress(receivePath(kc, uint32(i)))
		require.NoError(t, err)

		hash := sha256.Sum256([]byte{byte(i)})
		coins = append(coins, Coin{
			OutPoint: wire.OutPoint{
				Hash:  chainhash.Hash(hash),
				Index: uint32(i),
			},
			Amount:   amt,
			PkScript: meta.PkScript,
			Path:     meta.Path,
		})
	}

	return coins
}

// testDestination returns a foreign P2WPKH address.
func testDestination(t *testing.T) btcutil.Address {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{0x07}, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return addr
}

// TestDeriveAddressDeterministic checks that the same path always yields the
// same address and that distinct paths yield distinct addresses.
func TestDeriveAddressDeterministic(t *testing.T) {
	t.Parallel()

	kc1 := newTestKeychain(t)
	kc2 := newTestKeychain(t)

	seen := make(map[string]struct{})
	for i := uint32(0); i < 10; i++ {
		a, err := kc1.DeriveAddress(receivePath(kc1, i))
		require.NoError(t, err)

		b, err := kc2.DeriveAddress(receivePath(kc2, i))
		require.NoError(t, err)

		// Derive again from the cached branch.
		c, err := kc1.DeriveAddress(receivePath(kc1, i))
		require.NoError(t, err)

		require.Equal(t, a, b)
		require.Equal(t, a, c)
		require.Equal(t, i, a.Path.Index)

		seen[a.Address] = struct{}{}
	}
	require.Len(t, seen, 10)

	recv, err := kc1.DeriveAddress(receivePath(kc1, 0))
	require.NoError(t, err)
	change, err := kc1.DeriveAddress(changePath(kc1, 0))
	require.NoError(t, err)
	require.NotEqual(t, recv.Address, change.Address)
	require.True(t, change.Path.IsChange())
}

// TestBuildStandard checks rate based construction with change.
func TestBuildStandard(t *testing.T) {
	t.Parallel()

	kc := newTestKeychain(t)
	coins := testCoins(t, kc, 30_000, 80_000, 10_000)

	data, err := kc.BuildTransaction(&BuildRequest{
		Mode:        ModeStandard,
		Candidates:  coins,
		Destination: testDestination(t),
		Amount:      50_000,
		FeeRate:     5,
		ChangePath:  changePath(kc, 3),
		BlockHeight: 800,
		RBF:         true,
	})
	require.NoError(t, err)

	// The largest coin alone covers the payment.
	require.Len(t, data.Inputs, 1)
	require.Equal(t, btcutil.Amount(80_000), data.Inputs[0].Amount)
	require.EqualValues(t, 50_000, data.Amount)
	require.Positive(t, data.Fee)
	require.NotNil(t, data.ChangeAddress)
	require.Equal(t, uint32(3), data.ChangeAddress.Path.Index)
	require.Equal(t, data.TotalInput(), data.Amount+data.Fee+data.Change)
	require.EqualValues(t, data.Change,
		data.Tx.TxOut[data.ChangeIndex].Value)

	require.Equal(t, uint32(800), data.Tx.LockTime)
	for _, in := range data.Tx.TxIn {
		require.Equal(t, uint32(sequenceRBF), in.Sequence)
	}
}

// TestBuildInsufficientFunds checks that every mode reports a distinct
// insufficient funds condition.
func TestBuildInsufficientFunds(t *testing.T) {
	t.Parallel()

	kc := newTestKeychain(t)
	coins := testCoins(t, kc, 20_000, 20_000)

	tests := []struct {
		name string
		req  BuildRequest
	}{
		{
			name: "standard",
			req: BuildRequest{
				Mode:    ModeStandard,
				Amount:  50_000,
				FeeRate: 1,
			},
		},
		{
			name: "flat fee",
			req: BuildRequest{
				Mode:    ModeFlatFee,
				Amount:  39_800,
				FlatFee: 500,
			},
		},
		{
			name: "send max fee above total",
			req: BuildRequest{
				Mode:    ModeSendMax,
				FlatFee: 40_000,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := tc.req
			req.Candidates = coins
			req.Destination = testDestination(t)
			req.ChangePath = changePath(kc, 0)

			_, err := kc.BuildTransaction(&req)
			require.ErrorIs(t, err, ErrInsufficientFunds)
		})
	}
}

// TestBuildFlatFee checks the exact fee, the dust change fold and the fee
// guard.
func TestBuildFlatFee(t *testing.T) {
	t.Parallel()

	kc := newTestKeychain(t)
	dest := testDestination(t)

	t.Run("with change", func(t *testing.T) {
		t.Parallel()

		data, err := kc.BuildTransaction(&BuildRequest{
			Mode:        ModeFlatFee,
			Candidates:  testCoins(t, kc, 60_000, 5_000),
			Destination: dest,
			Amount:      50_000,
			FlatFee:     500,
			ChangePath:  changePath(kc, 1),
		})
		require.NoError(t, err)
		require.EqualValues(t, 500, data.Fee)
		require.EqualValues(t, 9_500, data.Change)
		require.Len(t, data.Tx.TxOut, 2)
		require.Equal(t, uint32(sequenceFinal), data.Tx.TxIn[0].Sequence)
	})

	t.Run("dust change folded into fee", func(t *testing.T) {
		t.Parallel()

		data, err := kc.BuildTransaction(&BuildRequest{
			Mode:        ModeFlatFee,
			Candidates:  testCoins(t, kc, 50_600),
			Destination: dest,
			Amount:      50_000,
			FlatFee:     500,
			ChangePath:  changePath(kc, 1),
		})
		require.NoError(t, err)
		require.EqualValues(t, 600, data.Fee)
		require.Zero(t, data.Change)
		require.Nil(t, data.ChangeAddress)
		require.Equal(t, -1, data.ChangeIndex)
		require.Len(t, data.Tx.TxOut, 1)
	})

	// A P2WPKH output is dust below 294 sat at the default relay fee.
	t.Run("dust threshold", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			change     int64
			wantOuts   int
			wantChange int64
		}{
			{change: 290, wantOuts: 1, wantChange: 0},
			{change: 300, wantOuts: 2, wantChange: 300},
		}
		for _, tc := range tests {
			data, err := kc.BuildTransaction(&BuildRequest{
				Mode: ModeFlatFee,
				Candidates: testCoins(
					t, kc, 50_500+btcutil.Amount(tc.change),
				),
				Destination: dest,
				Amount:      50_000,
				FlatFee:     500,
				ChangePath:  changePath(kc, 1),
			})
			require.NoError(t, err)
			require.Len(t, data.Tx.TxOut, tc.wantOuts)
			require.EqualValues(t, tc.wantChange, data.Change)
			require.EqualValues(t, 50_500+tc.change,
				int64(data.Fee)+50_000+int64(data.Change))
		}
	})

	t.Run("zero fee", func(t *testing.T) {
		t.Parallel()

		_, err := kc.BuildTransaction(&BuildRequest{
			Mode:        ModeFlatFee,
			Candidates:  testCoins(t, kc, 60_000),
			Destination: dest,
			Amount:      50_000,
			ChangePath:  changePath(kc, 1),
		})
		require.ErrorIs(t, err, ErrInsufficientFee)
	})
}

// TestBuildSendMax checks that a sweep has no change and pays the total
// minus the estimated fee.
func TestBuildSendMax(t *testing.T) {
	t.Parallel()

	kc := newTestKeychain(t)
	coins := testCoins(t, kc, 10_000, 20_000, 30_000)

	data, err := kc.BuildTransaction(&BuildRequest{
		Mode:        ModeSendAll,
		Candidates:  coins,
		Destination: testDestination(t),
		FeeRate:     2,
	})
	require.NoError(t, err)

	require.Len(t, data.Inputs, 3)
	require.Len(t, data.Tx.TxOut, 1)
	require.Equal(t, -1, data.ChangeIndex)
	require.Positive(t, data.Fee)
	require.Equal(t, btcutil.Amount(60_000), data.Amount+data.Fee)
}

// TestSignTransaction checks that the signed transaction passes script
// validation for every input.
func TestSignTransaction(t *testing.T) {
	t.Parallel()

	kc := newTestKeychain(t)
	coins := testCoins(t, kc, 30_000, 30_000, 30_000)

	data, err := kc.BuildTransaction(&BuildRequest{
		Mode:        ModeStandard,
		Candidates:  coins,
		Destination: testDestination(t),
		Amount:      70_000,
		FeeRate:     3,
		ChangePath:  changePath(kc, 0),
	})
	require.NoError(t, err)
	require.Len(t, data.Inputs, 3)

	tx, err := kc.SignTransaction(data)
	require.NoError(t, err)
	require.Equal(t, data.Tx.TxHash(), tx.TxHash())

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, coin := range data.Inputs {
		fetcher.AddPrevOut(
			coin.OutPoint,
			wire.NewTxOut(int64(coin.Amount), coin.PkScript),
		)
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, coin := range data.Inputs {
		vm, err := txscript.NewEngine(
			coin.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, int64(coin.Amount), fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

// TestSharedSecretAndSignature checks ECDH symmetry and message signatures.
func TestSharedSecretAndSignature(t *testing.T) {
	t.Parallel()

	kc := newTestKeychain(t)
	path := receivePath(kc, 4)

	ephemeral, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	secret, err := kc.SharedSecret(path, ephemeral.PubKey())
	require.NoError(t, err)

	meta, err := kc.DeriveAddress(path)
	require.NoError(t, err)
	pub, err := btcec.ParsePubKey(mustDecodeHex(t, meta.PubKey))
	require.NoError(t, err)

	require.Equal(t, btcec.GenerateSharedSecret(ephemeral, pub), secret)

	msg := []byte("1735689600")
	sigBytes, err := kc.SignMessage(path, msg)
	require.NoError(t, err)

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	require.NoError(t, err)
	require.True(t, sig.Verify(chainhash.DoubleHashB(msg), pub))
}
