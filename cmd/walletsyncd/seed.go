// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/term"
)

// errBadSeed is returned when the seed is not hex or has an unusable length.
var errBadSeed = errors.New("seed must be hex encoded and between 16 " +
	"and 64 bytes")

// parseSeed decodes a hex encoded seed.
func parseSeed(raw []byte) ([]byte, error) {
	seed, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, errBadSeed
	}

	if len(seed) < hdkeychain.MinSeedBytes ||
		len(seed) > hdkeychain.MaxSeedBytes {

		return nil, errBadSeed
	}

	return seed, nil
}

// readSeed loads the wallet seed from seedFile, or prompts for it on the
// terminal when no file is configured.
func readSeed(seedFile string) ([]byte, error) {
	if seedFile != "" {
		raw, err := os.ReadFile(seedFile)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}

		return parseSeed(raw)
	}

	fd := int(syscall.Stdin) // nolint:unconvert
	if !term.IsTerminal(fd) {
		return nil, errors.New("no --seedfile given and stdin is not " +
			"a terminal")
	}

	fmt.Print("Enter the hex encoded wallet seed: ")
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	return parseSeed(raw)
}
