// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"errors"
	"fmt"
	"math"
)

// ErrCastingOverflow is returned when a stored value does not fit the
// in-memory type.
var ErrCastingOverflow = errors.New("casting overflow")

// int64ToUint32 safely casts an int64 to an uint32, returning an error
// if the value is out of range.
func int64ToUint32(v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("could not cast %d to uint32: %w", v,
			ErrCastingOverflow)
	}

	return uint32(v), nil
}

// int64ToInt32 safely casts an int64 to an int32, returning an error
// if the value is out of range.
func int64ToInt32(v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("could not cast %d to int32: %w", v,
			ErrCastingOverflow)
	}

	return int32(v), nil
}

// int64ToUint64 safely casts an int64 to an uint64, returning an error
// for negative values.
func int64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("could not cast %d to uint64: %w", v,
			ErrCastingOverflow)
	}

	return uint64(v), nil
}

// uint64ToInt64 safely casts an uint64 to an int64, returning an error
// if the value is out of range.
func uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("could not cast %d to int64: %w", v,
			ErrCastingOverflow)
	}

	return int64(v), nil
}

// pathFromRow converts stored path columns to a DerivationPath.
func pathFromRow(purpose, coin, account, change,
	index int64) (DerivationPath, error) {

	var (
		p   DerivationPath
		err error
	)
	if p.Purpose, err = int64ToUint32(purpose); err != nil {
		return p, err
	}
	if p.Coin, err = int64ToUint32(coin); err != nil {
		return p, err
	}
	if p.Account, err = int64ToUint32(account); err != nil {
		return p, err
	}
	if p.Change, err = int64ToUint32(change); err != nil {
		return p, err
	}
	p.Index, err = int64ToUint32(index)

	return p, err
}
