// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btclog"
	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/davecgh/go-spew/spew"
)

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	DisableLog()
}

// DisableLog disables all library log output. Logging output is disabled by
// default until UseLogger is called.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info. The
// store shares the logger unless UseStoreLogger is called afterwards.
func UseLogger(logger btclog.Logger) {
	log = logger
	db.UseLogger(logger)
}

// UseStoreLogger sets the logger of the persistence layer.
func UseStoreLogger(logger btclog.Logger) {
	db.UseLogger(logger)
}

// logClosure is used to provide a closure over expensive logging operations
// so they aren't performed when the logging level doesn't warrant it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}

// spewClosure defers a spew dump of v to the moment it is logged.
func spewClosure(v any) logClosure {
	return newLogClosure(func() string {
		return spew.Sdump(v)
	})
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun[T ~int | ~uint32](n T, singular, plural string) string {
	if n == 1 {
		return singular
	}

	return plural
}
