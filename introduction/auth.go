// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package introduction

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coinkit/walletsync/internal/rest"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// HeaderPubKey carries the wallet identity public key.
	HeaderPubKey = "X-Wallet-Pubkey"

	// HeaderTimestamp carries the unix timestamp that was signed.
	HeaderTimestamp = "X-Wallet-Timestamp"

	// HeaderSignature carries the hex DER signature over the timestamp
	// followed by the body.
	HeaderSignature = "X-Wallet-Signature"
)

// SignFunc signs a message with the wallet identity key.
type SignFunc func(msg []byte) ([]byte, error)

// SignatureAuth authenticates requests with the wallet identity key.
type SignatureAuth struct {
	pubKey string
	sign   SignFunc
	clock  clock.Clock
}

// A compile-time assertion to ensure SignatureAuth implements
// rest.Authenticator.
var _ rest.Authenticator = (*SignatureAuth)(nil)

// NewSignatureAuth creates an authenticator for the given identity.
func NewSignatureAuth(pubKey string, sign SignFunc,
	clk clock.Clock) *SignatureAuth {

	return &SignatureAuth{pubKey: pubKey, sign: sign, clock: clk}
}

// Authenticate sets the identity headers on req.
func (a *SignatureAuth) Authenticate(req *http.Request, body []byte) error {
	ts := strconv.FormatInt(a.clock.Now().Unix(), 10)

	msg := make([]byte, 0, len(ts)+len(body))
	msg = append(msg, ts...)
	msg = append(msg, body...)

	sig, err := a.sign(msg)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	req.Header.Set(HeaderPubKey, a.pubKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	return nil
}
