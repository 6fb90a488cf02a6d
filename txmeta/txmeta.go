// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txmeta encodes and decrypts the metadata a sender attaches to a
// payment notification. A payload is sealed to the public key of the
// receiving address with an ephemeral ECDH key, so only the wallet owning the
// address can read it.
//
// Payload layout:
//
//	version (1) || ephemeral compressed pubkey (33) || chacha20poly1305(tlv)
//
// The AEAD key is HKDF-SHA256 over the ECDH secret, salted with the ephemeral
// public key. Each ephemeral key is used once, so the nonce is fixed.
package txmeta

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// payloadVersion is the only supported payload version.
	payloadVersion byte = 1

	// headerLen is the length of the version byte plus the ephemeral key.
	headerLen = 1 + btcec.PubKeyBytesLenCompressed

	// hkdfInfo domain-separates the derived key.
	hkdfInfo = "walletsync/txmeta/v1"
)

const (
	typeMemo   tlv.Type = 1
	typeAmount tlv.Type = 3
	typeSender tlv.Type = 5
)

var (
	// ErrShortPayload is returned for payloads too small to be valid.
	ErrShortPayload = errors.New("payload too short")

	// ErrUnknownVersion is returned for unsupported payload versions.
	ErrUnknownVersion = errors.New("unknown payload version")
)

// Metadata is the decrypted content of a payment notification.
type Metadata struct {
	// Memo is the free form note attached by the sender.
	Memo string

	// Amount is the amount the sender intended to pay.
	Amount btcutil.Amount

	// Sender is the sender's public handle, if shared.
	Sender string
}

// ECDHFunc returns the shared secret between the recipient key and the
// ephemeral public key found in the payload.
type ECDHFunc func(ephemeral *btcec.PublicKey) ([]byte, error)

// Seal encrypts meta to recipient.
func Seal(meta *Metadata, recipient *btcec.PublicKey) ([]byte, error) {
	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ephemeral key: %w", err)
	}

	plaintext, err := encodeTLV(meta)
	if err != nil {
		return nil, err
	}

	ephemeralPub := ephemeral.PubKey().SerializeCompressed()
	secret := secp256k1.GenerateSharedSecret(ephemeral, recipient)

	aead, err := newAEAD(secret, ephemeralPub)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerLen+len(plaintext)+aead.Overhead())
	out = append(out, payloadVersion)
	out = append(out, ephemeralPub...)

	nonce := make([]byte, aead.NonceSize())

	return aead.Seal(out, nonce, plaintext, out[:headerLen]), nil
}

// Open decrypts a payload using ecdh to obtain the shared secret.
func Open(payload []byte, ecdh ECDHFunc) (*Metadata, error) {
	if len(payload) < headerLen+chacha20poly1305.Overhead {
		return nil, ErrShortPayload
	}
	if payload[0] != payloadVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, payload[0])
	}

	ephemeralPub := payload[1:headerLen]
	ephemeral, err := btcec.ParsePubKey(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ephemeral key: %w", err)
	}

	secret, err := ecdh(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	aead, err := newAEAD(secret, ephemeralPub)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(
		nil, nonce, payload[headerLen:], payload[:headerLen],
	)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}

	return decodeTLV(plaintext)
}

// newAEAD derives the payload key and returns the cipher.
func newAEAD(secret, salt []byte) (cipherAEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	return aead, nil
}

// cipherAEAD is the subset of cipher.AEAD used here.
type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// encodeTLV serializes meta as a TLV stream.
func encodeTLV(meta *Metadata) ([]byte, error) {
	memo := []byte(meta.Memo)
	amount := uint64(meta.Amount)
	sender := []byte(meta.Sender)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMemo, &memo),
		tlv.MakePrimitiveRecord(typeAmount, &amount),
		tlv.MakePrimitiveRecord(typeSender, &sender),
	)
	if err != nil {
		return nil, fmt.Errorf("tlv stream: %w", err)
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode tlv: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeTLV parses a TLV stream into Metadata. Unknown odd types are
// ignored.
func decodeTLV(b []byte) (*Metadata, error) {
	var (
		memo   []byte
		amount uint64
		sender []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMemo, &memo),
		tlv.MakePrimitiveRecord(typeAmount, &amount),
		tlv.MakePrimitiveRecord(typeSender, &sender),
	)
	if err != nil {
		return nil, fmt.Errorf("tlv stream: %w", err)
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode tlv: %w", err)
	}

	if _, ok := parsed[typeAmount]; !ok {
		log.Debugf("Payload carries no amount")
	}

	return &Metadata{
		Memo:   string(memo),
		Amount: btcutil.Amount(amount),
		Sender: string(sender),
	}, nil
}
