package p2pswap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/swapmsg"
	"github.com/lightninglabs/p2pswap/test"
	"github.com/lightninglabs/p2pswap/vault"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

const (
	// testStartHeight is the chain height tests start at.
	testStartHeight = 1000

	// testTokens is the swap value of tests.
	testTokens = btcutil.Amount(100_000)

	// testWalletFunds is the value the responder wallet is funded with.
	testWalletFunds = btcutil.Amount(1_000_000)
)

// errClaimDropped is returned by a ledger that refuses to publish claims.
var errClaimDropped = errors.New("claim dropped")

// dropClaims is a ledger that never publishes claim sweeps.
type dropClaims struct {
	ledger.Ledger
}

func (d *dropClaims) PublishTransaction(ctx context.Context, tx *wire.MsgTx,
	label string) error {

	if swap.ClassifyWitness(tx.TxIn[0].Witness) == swap.SpendPathClaim {
		return errClaimDropped
	}

	return d.Ledger.PublishTransaction(ctx, tx, label)
}

// errSettleFailed is returned by a ledger that refuses to settle an invoice.
var errSettleFailed = errors.New("settle failed")

// flakySettle is a ledger that fails to settle the invoice of the hash. The
// first failures attempts fail, all of them if failures is negative.
type flakySettle struct {
	ledger.Ledger

	hash     lntypes.Hash
	code     ledger.BackendCode
	failures int32
	attempts atomic.Int32
}

func (f *flakySettle) SettleInvoice(ctx context.Context,
	preimage lntypes.Preimage) error {

	if preimage.Hash() != f.hash {
		return f.Ledger.SettleInvoice(ctx, preimage)
	}

	attempt := f.attempts.Add(1)
	if f.failures < 0 || attempt <= f.failures {
		return ledger.NewBackendError(
			f.code, "SettleInvoice", errSettleFailed,
		)
	}

	return f.Ledger.SettleInvoice(ctx, preimage)
}

// stallSettle is a ledger that blocks settling the invoice of the hash until
// the caller gives up.
type stallSettle struct {
	ledger.Ledger

	hash lntypes.Hash
}

func (s *stallSettle) SettleInvoice(ctx context.Context,
	preimage lntypes.Preimage) error {

	if preimage.Hash() == s.hash {
		<-ctx.Done()
		return ctx.Err()
	}

	return s.Ledger.SettleInvoice(ctx, preimage)
}

// replaceRecord is a ledger that replaces a custom record of every outgoing
// payment carrying it.
type replaceRecord struct {
	ledger.Ledger

	recordType uint64
	value      []byte
}

func (r *replaceRecord) SendPayment(ctx context.Context,
	payment *ledger.Payment) (*ledger.PaymentResult, error) {

	if _, ok := payment.CustomRecords[r.recordType]; ok {
		records := make(map[uint64][]byte, len(payment.CustomRecords))
		for key, value := range payment.CustomRecords {
			records[key] = value
		}
		records[r.recordType] = r.value

		replaced := *payment
		replaced.CustomRecords = records
		payment = &replaced
	}

	return r.Ledger.SendPayment(ctx, payment)
}

// failPayment is a ledger whose payments to the hash find no route.
type failPayment struct {
	ledger.Ledger

	hash lntypes.Hash
}

func (f *failPayment) SendPayment(ctx context.Context,
	payment *ledger.Payment) (*ledger.PaymentResult, error) {

	if payment.Hash != f.hash {
		return f.Ledger.SendPayment(ctx, payment)
	}

	return &ledger.PaymentResult{
		Hash:          payment.Hash,
		FailureReason: lnrpc.PaymentFailureReason_FAILURE_REASON_NO_ROUTE,
	}, nil
}

// fixedOutput is an output finder that reports the same output for any
// script.
type fixedOutput struct {
	output ledger.FoundOutput
}

func (f *fixedOutput) FindOutput(_ context.Context, _ []byte,
	_ int32) (*ledger.FoundOutput, error) {

	output := f.output

	return &output, nil
}

// testContext holds a simulated network with a requester and a responder.
type testContext struct {
	t *testing.T

	chain     *test.Chain
	network   *test.Network
	requester *test.Node
	responder *test.Node

	outCfg *SwapOutConfig
	inCfg  *SwapInConfig

	outStore *swapdb.StoreMock
	inStore  *swapdb.StoreMock

	outUpdates chan Update
	inUpdates  chan Update
}

func newTestContext(t *testing.T) *testContext {
	chain := test.NewChain(&chaincfg.RegressionNetParams, testStartHeight)
	network := test.NewNetwork(chain)

	c := &testContext{
		t:          t,
		chain:      chain,
		network:    network,
		requester:  network.NewNode("requester"),
		responder:  network.NewNode("responder"),
		outStore:   swapdb.NewStoreMock(),
		inStore:    swapdb.NewStoreMock(),
		outUpdates: make(chan Update, 100),
		inUpdates:  make(chan Update, 100),
	}

	c.outCfg = DefaultSwapOutConfig()
	c.outCfg.Ledger = c.requester
	c.outCfg.Chain = chain
	c.outCfg.Vault = vault.New(c.requester, vault.NewMemSealLog())
	c.outCfg.Store = c.outStore
	c.outCfg.ChainParams = chain.Params()
	c.outCfg.Updates = c.outUpdates

	c.inCfg = DefaultSwapInConfig()
	c.inCfg.Ledger = c.responder
	c.inCfg.Chain = chain
	c.inCfg.Vault = vault.New(c.responder, vault.NewMemSealLog())
	c.inCfg.Store = c.inStore
	c.inCfg.ChainParams = chain.Params()
	c.inCfg.Updates = c.inUpdates

	_, err := c.responder.Fund(testWalletFunds)
	require.NoError(t, err)
	chain.Mine(1)

	return c
}

// swapMessages holds the messages of a negotiated swap.
type swapMessages struct {
	req           *swapmsg.Request
	resp          *swapmsg.Response
	claimRecovery *swapmsg.ClaimRecovery
	refundRecover *swapmsg.RefundRecovery
}

// negotiate creates a request and the matching response.
func (c *testContext) negotiate() *swapMessages {
	ctx := context.Background()

	req, claimRecovery, err := NewRequest(ctx, c.outCfg, testTokens, nil)
	require.NoError(c.t, err)

	resp, refundRecovery, err := NewResponse(ctx, c.inCfg, req, nil)
	require.NoError(c.t, err)

	return &swapMessages{
		req:           req,
		resp:          resp,
		claimRecovery: claimRecovery,
		refundRecover: refundRecovery,
	}
}

// outcome is the result of an engine run.
type outcome[T any] struct {
	result T
	err    error
}

// runSwapOut runs the requester in the background.
func (c *testContext) runSwapOut(ctx context.Context,
	msgs *swapMessages) <-chan outcome[*SwapOutResult] {

	done := make(chan outcome[*SwapOutResult], 1)
	go func() {
		result, err := RunSwapOut(
			ctx, c.outCfg, msgs.req, msgs.resp, msgs.claimRecovery,
		)
		done <- outcome[*SwapOutResult]{result, err}
	}()

	return done
}

// runSwapIn runs the responder in the background.
func (c *testContext) runSwapIn(ctx context.Context,
	msgs *swapMessages) <-chan outcome[*SwapInResult] {

	done := make(chan outcome[*SwapInResult], 1)
	go func() {
		result, err := RunSwapIn(
			ctx, c.inCfg, msgs.req, msgs.resp, msgs.refundRecover,
		)
		done <- outcome[*SwapInResult]{result, err}
	}()

	return done
}

// startMiner mines a block whenever the mempool holds transactions. It
// returns a function that stops mining.
func (c *testContext) startMiner() func() {
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if len(c.chain.Mempool()) > 0 {
					c.chain.Mine(1)
				}

			case <-quit:
				return
			}
		}
	}()

	return func() {
		close(quit)
		<-done
	}
}

// waitStage waits for an update of the stage.
func waitStage(t *testing.T, updates <-chan Update,
	stage swapdb.Stage) Update {

	t.Helper()

	timeout := time.After(test.Timeout)
	for {
		select {
		case update := <-updates:
			if update.Stage == stage {
				return update
			}

		case <-timeout:
			t.Fatalf("timeout waiting for stage %v", stage)
		}
	}
}

// waitOutcome waits for an engine to return.
func waitOutcome[T any](t *testing.T, done <-chan outcome[T]) outcome[T] {
	t.Helper()

	select {
	case o := <-done:
		return o

	case <-time.After(test.Timeout):
		t.Fatalf("timeout waiting for swap to complete")
	}

	return outcome[T]{}
}

// swapOutpoint returns the swap output created by the funding transaction.
func (c *testContext) swapOutpoint(msgs *swapMessages,
	fundingTxID chainhash.Hash) wire.OutPoint {

	for _, tx := range c.chain.Published() {
		if tx.TxHash() != fundingTxID {
			continue
		}

		for idx, out := range tx.TxOut {
			if out.Value == int64(msgs.req.Tokens) {
				return wire.OutPoint{
					Hash:  fundingTxID,
					Index: uint32(idx),
				}
			}
		}
	}

	c.t.Fatalf("funding transaction %v not found", fundingTxID)

	return wire.OutPoint{}
}

// assertLastStage checks the final stage persisted for a swap.
func assertLastStage(t *testing.T, store *swapdb.StoreMock,
	msgs *swapMessages, stage swapdb.Stage) {

	t.Helper()

	stored, err := store.FetchSwap(context.Background(), msgs.req.Hash)
	require.NoError(t, err)
	require.Equal(t, stage, stored.LastStage())
}
