// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build itest && test_db_postgres

package itest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coinkit/walletsync/wallet/internal/db"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	// pgContainer is shared by every test of the package. Each test gets
	// its own database inside it.
	pgContainer *postgres.PostgresContainer

	pgContainerOnce sync.Once
	pgContainerErr  error

	// pgInitTimeout includes the image download.
	pgInitTimeout = 2 * time.Minute

	pgTerminateTimeout = 1 * time.Minute

	pgNameRegexp = regexp.MustCompile(`[^a-z0-9_]`)
)

// TestMain terminates the shared container once the suite is done.
func TestMain(m *testing.M) {
	code := m.Run()

	if pgContainer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), pgTerminateTimeout,
		)
		defer cancel()

		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("failed to terminate postgres container: %v\n",
				err)
		}
	}

	os.Exit(code)
}

func getPostgresContainer(
	ctx context.Context) (*postgres.PostgresContainer, error) {

	pgContainerOnce.Do(func() {
		pgContainer, pgContainerErr = postgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:18-alpine"),
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategyAndDeadline(
				pgInitTimeout, wait.ForListeningPort("5432/tcp"),
			),
		)
	})

	return pgContainer, pgContainerErr
}

// NewTestStore creates a fresh PostgreSQL database named after the test and
// opens a migrated store on it.
func NewTestStore(t *testing.T) db.Store {
	t.Helper()
	ctx := t.Context()

	container, err := getPostgresContainer(ctx)
	require.NoError(t, err, "failed to get postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	adminDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = adminDB.Close()
	})

	dbName := pgNameRegexp.ReplaceAllString(strings.ToLower(t.Name()), "_")
	if len(dbName) > 63 {
		dbName = dbName[:63]
	}

	_, err = adminDB.ExecContext(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err, "failed to create test database")

	store, err := db.OpenPostgres(
		strings.Replace(connStr, "/postgres?", "/"+dbName+"?", 1),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
