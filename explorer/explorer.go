package explorer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnd/tor"
)

// Config configures an esplora client.
type Config struct {
	// URL is the base URL of the esplora API, for example
	// https://blockstream.info/api.
	URL string

	// PollInterval is the time between lookups while nothing is found.
	PollInterval time.Duration

	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration

	// TorProxy is the address of a SOCKS proxy requests are sent through.
	// Requests are sent directly if it is empty.
	TorProxy string

	// Ticker optionally replaces the poll interval ticker.
	Ticker ticker.Ticker
}

// DefaultConfig returns the default esplora settings. The URL must be set by
// the caller.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   30 * time.Second,
		RequestTimeout: 20 * time.Second,
	}
}

// Client looks up swap outputs through an esplora API.
type Client struct {
	cfg        *Config
	httpClient *http.Client
}

var _ ledger.OutputFinder = (*Client)(nil)

// New returns an esplora client.
func New(cfg *Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.TorProxy != "" {
		log.Infof("Proxying esplora requests over Tor SOCKS proxy %v",
			cfg.TorProxy)

		transport.Proxy = nil
		transport.DialContext = func(_ context.Context, _,
			addr string) (net.Conn, error) {

			return tor.Dial(
				addr, cfg.TorProxy, false, false,
				tor.DefaultConnTimeout,
			)
		}
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
	}
}

// txStatus is the confirmation status of a transaction.
type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int32 `json:"block_height,omitempty"`
}

// txVin is a transaction input.
type txVin struct {
	IsCoinbase bool `json:"is_coinbase"`
}

// txVout is a transaction output.
type txVout struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Value        int64  `json:"value"`
}

// txInfo is a transaction as returned by the API.
type txInfo struct {
	TxID   string   `json:"txid"`
	Vin    []txVin  `json:"vin"`
	Vout   []txVout `json:"vout"`
	Status txStatus `json:"status"`
}

// get performs a GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string,
	result interface{}) error {

	url := strings.TrimSuffix(c.cfg.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return ledger.NewBackendError(ledger.CodeUnavailable, path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:

	case http.StatusNotFound:
		return ledger.NewBackendError(
			ledger.CodeNotFound, path, errors.New("not found"),
		)

	case http.StatusTooManyRequests:
		return ledger.NewBackendError(
			ledger.CodeResourceExhausted, path,
			errors.New("rate limited"),
		)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := ledger.CodeRejected
		if resp.StatusCode >= http.StatusInternalServerError {
			code = ledger.CodeUnavailable
		}

		return ledger.NewBackendError(code, path, fmt.Errorf(
			"unexpected status %d: %s", resp.StatusCode, body,
		))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %v: %w", path, err)
	}

	return nil
}

// scriptHash returns the esplora script hash of an output script.
func scriptHash(pkScript []byte) string {
	hash := sha256.Sum256(pkScript)

	return hex.EncodeToString(hash[:])
}

// findOutput returns the first confirmed output paying the script at or
// above the height hint, or nil if there is none.
func findOutput(txs []*txInfo, pkScript []byte,
	heightHint int32) (*ledger.FoundOutput, error) {

	for _, tx := range txs {
		if !tx.Status.Confirmed || tx.Status.BlockHeight < heightHint {
			continue
		}

		for idx, out := range tx.Vout {
			script, err := hex.DecodeString(out.ScriptPubKey)
			if err != nil {
				return nil, err
			}

			if !bytes.Equal(script, pkScript) {
				continue
			}

			hash, err := chainhash.NewHashFromStr(tx.TxID)
			if err != nil {
				return nil, err
			}

			return &ledger.FoundOutput{
				OutPoint: wire.OutPoint{
					Hash:  *hash,
					Index: uint32(idx),
				},
				Value:      btcutil.Amount(out.Value),
				ConfHeight: tx.Status.BlockHeight,
				Coinbase: len(tx.Vin) > 0 &&
					tx.Vin[0].IsCoinbase,
			}, nil
		}
	}

	return nil, nil
}

// lookup queries the transactions paying the script once.
func (c *Client) lookup(ctx context.Context, pkScript []byte,
	heightHint int32) (*ledger.FoundOutput, error) {

	var txs []*txInfo
	err := c.get(ctx, "/scripthash/"+scriptHash(pkScript)+"/txs", &txs)
	if err != nil {
		return nil, err
	}

	return findOutput(txs, pkScript, heightHint)
}

// FindOutput polls the API until a confirmed output paying the script is
// found at or above the height hint. Transient failures are logged and
// retried on the next poll.
func (c *Client) FindOutput(ctx context.Context, pkScript []byte,
	heightHint int32) (*ledger.FoundOutput, error) {

	pollTicker := c.cfg.Ticker
	if pollTicker == nil {
		pollTicker = ticker.New(c.cfg.PollInterval)
	}
	pollTicker.Resume()
	defer pollTicker.Stop()

	for {
		output, err := c.lookup(ctx, pkScript, heightHint)
		switch {
		case err == nil && output != nil:
			log.Infof("Found output %v of %v at height %v",
				output.OutPoint, output.Value, output.ConfHeight)

			return output, nil

		case err == nil:

		// An unknown script has no transactions yet.
		case isNotFound(err):

		case ledger.IsRetryable(err):
			log.Warnf("Output lookup failed, retrying: %v", err)

		default:
			return nil, err
		}

		select {
		case <-pollTicker.Ticks():

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// isNotFound returns true for a not found response.
func isNotFound(err error) bool {
	var backendErr *ledger.BackendError

	return errors.As(err, &backendErr) &&
		backendErr.Code == ledger.CodeNotFound
}
