package explorer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/test"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var (
	testScript = []byte{0x51, 0x20, 0x01, 0x02, 0x03}
	testTxID   = chainhash.Hash{1, 2, 3}
)

// testServer serves the responses in order, repeating the last one.
func testServer(t *testing.T, responses ...func(http.ResponseWriter)) (
	*httptest.Server, *int32) {

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			path := "/scripthash/" + scriptHash(testScript) + "/txs"
			if r.URL.Path != path {
				http.Error(w, "unknown path", http.StatusBadRequest)
				return
			}

			idx := int(atomic.AddInt32(&requests, 1)) - 1
			if idx >= len(responses) {
				idx = len(responses) - 1
			}
			responses[idx](w)
		},
	))
	t.Cleanup(server.Close)

	return server, &requests
}

// txsResponse writes a list of transactions.
func txsResponse(txs ...*txInfo) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		if txs == nil {
			txs = []*txInfo{}
		}

		_ = json.NewEncoder(w).Encode(txs)
	}
}

// statusResponse writes an error status.
func statusResponse(status int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
	}
}

// swapTx returns a transaction paying the test script in its second output.
func swapTx(height int32, coinbase bool) *txInfo {
	return &txInfo{
		TxID: testTxID.String(),
		Vin:  []txVin{{IsCoinbase: coinbase}},
		Vout: []txVout{
			{ScriptPubKey: "0014aabb", Value: 10},
			{
				ScriptPubKey: hex.EncodeToString(testScript),
				Value:        50_000,
			},
		},
		Status: txStatus{
			Confirmed:   height > 0,
			BlockHeight: height,
		},
	}
}

// newTestClient returns a client of the server polled by a forced ticker.
func newTestClient(server *httptest.Server) (*Client, *ticker.Force) {
	force := ticker.NewForce(time.Hour)

	cfg := DefaultConfig()
	cfg.URL = server.URL + "/"
	cfg.Ticker = force

	return New(cfg), force
}

// findAsync runs FindOutput in the background.
func findAsync(ctx context.Context, client *Client,
	heightHint int32) (chan *ledger.FoundOutput, chan error) {

	outputChan := make(chan *ledger.FoundOutput, 1)
	errChan := make(chan error, 1)
	go func() {
		output, err := client.FindOutput(ctx, testScript, heightHint)
		if err != nil {
			errChan <- err
			return
		}
		outputChan <- output
	}()

	return outputChan, errChan
}

// TestFindOutput checks that the client polls until the output confirms.
func TestFindOutput(t *testing.T) {
	server, requests := testServer(
		t, statusResponse(http.StatusNotFound),
		txsResponse(swapTx(0, false)),
		statusResponse(http.StatusTooManyRequests),
		txsResponse(swapTx(400, false)),
	)
	client, force := newTestClient(server)

	outputChan, errChan := findAsync(context.Background(), client, 300)

	// Unknown script, unconfirmed output and rate limiting each lead to
	// another poll.
	for i := 0; i < 3; i++ {
		select {
		case force.Force <- time.Now():

		case err := <-errChan:
			t.Fatalf("unexpected error: %v", err)

		case <-time.After(test.Timeout):
			t.Fatalf("poll %v not reached", i)
		}
	}

	select {
	case output := <-outputChan:
		require.Equal(t, testTxID, output.OutPoint.Hash)
		require.EqualValues(t, 1, output.OutPoint.Index)
		require.EqualValues(t, 50_000, output.Value)
		require.EqualValues(t, 400, output.ConfHeight)
		require.False(t, output.Coinbase)

	case err := <-errChan:
		t.Fatalf("unexpected error: %v", err)

	case <-time.After(test.Timeout):
		t.Fatalf("output not found")
	}

	require.EqualValues(t, 4, atomic.LoadInt32(requests))
}

// TestFindOutputHeightHint checks that outputs below the hint are skipped and
// that coinbase outputs are flagged.
func TestFindOutputHeightHint(t *testing.T) {
	found, err := findOutput(
		[]*txInfo{swapTx(100, false)}, testScript, 200,
	)
	require.NoError(t, err)
	require.Nil(t, found)

	found, err = findOutput(
		[]*txInfo{swapTx(100, false), swapTx(250, true)}, testScript,
		200,
	)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.True(t, found.Coinbase)
	require.EqualValues(t, 250, found.ConfHeight)
}

// TestFindOutputRejected checks that a permanent failure ends the lookup.
func TestFindOutputRejected(t *testing.T) {
	server, _ := testServer(t, statusResponse(http.StatusBadRequest))
	client, _ := newTestClient(server)

	_, err := client.FindOutput(context.Background(), testScript, 1)

	var backendErr *ledger.BackendError
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, ledger.CodeRejected, backendErr.Code)
}

// TestFindOutputCanceled checks that polling stops with the context.
func TestFindOutputCanceled(t *testing.T) {
	server, _ := testServer(t, txsResponse())
	client, _ := newTestClient(server)

	ctx, cancel := context.WithCancel(context.Background())
	_, errChan := findAsync(ctx, client, 1)
	cancel()

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, context.Canceled)

	case <-time.After(test.Timeout):
		t.Fatalf("lookup not canceled")
	}
}
