// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/coinkit/walletsync/internal/rest"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a client talking to handler.
func newTestClient(t *testing.T, handler http.Handler,
	timeout time.Duration) *Client {

	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&Config{Config: rest.Config{
		URL:            srv.URL,
		RequestTimeout: timeout,
	}})
	require.NoError(t, err)

	return c
}

// TestAddressSummariesMinDate checks that the optional min date is only
// sent when present.
func TestAddressSummariesMinDate(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []addressQuery
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/addresses/query",
		func(w http.ResponseWriter, r *http.Request) {
			var q addressQuery
			require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			mu.Lock()
			got = append(got, q)
			mu.Unlock()

			_ = json.NewEncoder(w).Encode([]AddressSummary{{
				Address: q.Addresses[0],
				TxID:    "aa",
				Time:    100,
			}})
		},
	)
	c := newTestClient(t, mux, time.Second)

	res, err := c.AddressSummaries(
		t.Context(), []string{"bcrt1a"}, fn.None[time.Time](),
	)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "aa", res[0].TxID)

	minDate := time.Unix(1_700_000_000, 0)
	_, err = c.AddressSummaries(
		t.Context(), []string{"bcrt1b"}, fn.Some(minDate),
	)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, got, 2)
	require.Nil(t, got[0].MinDate)
	require.NotNil(t, got[1].MinDate)
	require.Equal(t, minDate.Unix(), *got[1].MinDate)
}

// TestTransactionDetails checks decoding and the derived helpers.
func TestTransactionDetails(t *testing.T) {
	t.Parallel()

	const body = `[{"txid":"bb","height":10,"time":500,
		"vin":[{"txid":"aa","vout":1,"value":1000,"addresses":["x"]}],
		"vout":[{"n":0,"value":700,"scriptPubKey":{"hex":"00",
		"addresses":["y"]}},{"n":1,"value":200,"scriptPubKey":{
		"hex":"01","addresses":["x","z"]}}]}]`

	mux := http.NewServeMux()
	mux.HandleFunc("/transactions/query",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, body)
		},
	)
	c := newTestClient(t, mux, time.Second)

	details, err := c.TransactionDetails(t.Context(), []string{"bb"})
	require.NoError(t, err)
	require.Len(t, details, 1)

	d := details[0]
	require.True(t, d.Confirmed())
	require.EqualValues(t, 100, d.Fee())
	require.Equal(t, "y", d.Vout[0].Address())
	require.Empty(t, d.Vout[1].Address())
	require.Equal(t, time.Unix(500, 0), d.Timestamp())
}

// TestDayAveragePriceNotFound checks the not found mapping.
func TestDayAveragePriceNotFound(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/pricing/known",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"average": 6512.34}`)
		},
	)
	c := newTestClient(t, mux, time.Second)

	cents, err := c.DayAveragePrice(t.Context(), "known")
	require.NoError(t, err)
	require.EqualValues(t, 651234, cents)

	_, err = c.DayAveragePrice(t.Context(), "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestBroadcastErrors checks the broadcast error classification.
func TestBroadcastErrors(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				raw, _ := io.ReadAll(r.Body)
				require.NotEmpty(t, raw)
				_, _ = io.WriteString(w, `{"txid":"`+
					tx.TxHash().String()+`"}`)
			},
		), time.Second)

		txid, err := c.Broadcast(t.Context(), tx)
		require.NoError(t, err)
		require.Equal(t, tx.TxHash(), txid)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "bad-txns", http.StatusBadRequest)
			},
		), time.Second)

		_, err := c.Broadcast(t.Context(), tx)
		require.ErrorIs(t, err, ErrBroadcastFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(
			func(_ http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
		), 50*time.Millisecond)

		txid, err := c.Broadcast(t.Context(), tx)
		require.ErrorIs(t, err, ErrBroadcastTimeout)
		require.Equal(t, tx.TxHash(), txid)
	})
}

// TestEsploraSource checks the secondary lookup.
func TestEsploraSource(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/tx/known/status",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"confirmed":false}`)
		},
	)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	src, err := NewEsploraSource(rest.Config{URL: srv.URL})
	require.NoError(t, err)

	ok, err := src.TransactionExists(t.Context(), "known")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = src.TransactionExists(t.Context(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
