// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build itest && !test_db_postgres

package itest

import (
	"testing"

	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/stretchr/testify/require"
)

// NewTestStore opens a migrated SQLite store in a temporary directory.
func NewTestStore(t *testing.T) db.Store {
	t.Helper()

	store, err := db.OpenSQLite(t.TempDir())
	require.NoError(t, err, "failed to open sqlite store")

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
