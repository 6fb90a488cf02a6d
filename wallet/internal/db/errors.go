// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNilDB is returned when a store is created without a database.
	ErrNilDB = errors.New("nil database")

	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown database backend")
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates a generic database error.
	ErrDatabase ErrorCode = iota

	// ErrCommit indicates the scope could not be committed.
	ErrCommit

	// ErrMigration indicates the schema could not be brought up to date.
	ErrMigration

	// ErrConstraint indicates a record violated a store invariant.
	ErrConstraint
)

// String returns the name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrDatabase:
		return "ErrDatabase"

	case ErrCommit:
		return "ErrCommit"

	case ErrMigration:
		return "ErrMigration"

	case ErrConstraint:
		return "ErrConstraint"

	default:
		return "ErrUnknown"
	}
}

// Error identifies a store error. It has an error code, a descriptive
// message and the underlying error, if any.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var dbErr Error
	if errors.As(err, &dbErr) {
		return dbErr.Code == code
	}

	return false
}
