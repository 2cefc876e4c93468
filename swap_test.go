package p2pswap

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/p2pswap/labels"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/test"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

// TestCooperativeSwap runs a swap where both sides behave. The secret is
// pushed off-chain, the responder discloses its key fragment and the swap
// output is swept once through the key path.
func TestCooperativeSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	msgs := c.negotiate()

	stop := c.startMiner()
	defer stop()

	ctx := context.Background()
	inDone := c.runSwapIn(ctx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	in := waitOutcome(t, inDone)
	require.NoError(t, in.err)
	out := waitOutcome(t, outDone)
	require.NoError(t, out.err)

	require.Equal(t, msgs.req.Hash, in.result.Secret.Hash())
	require.False(t, in.result.SecretOnChain)
	require.Equal(
		t, lnwire.NewMSatFromSatoshis(testTokens)+
			msgs.resp.DepositMilliTokens, in.result.Received,
	)
	require.Positive(t, in.result.FundingFee)

	require.Equal(t, swap.SpendPathCooperative, out.result.Path)
	require.True(t, out.result.FundingSettled)
	require.Equal(t, msgs.resp.DepositMilliTokens, out.result.Deposit)
	require.Positive(t, out.result.SweepFee)
	require.True(t, out.result.PushDelivered)
	require.NoError(t, out.result.PushErr)

	// Exactly one transaction ever spent the swap output.
	outpoint := c.swapOutpoint(msgs, in.result.FundingTxID)
	spends := c.chain.SpendsOf(outpoint)
	require.Len(t, spends, 1)
	require.Len(t, spends[0].TxIn[0].Witness, 1)

	spend, ok := c.chain.SpendOf(outpoint)
	require.True(t, ok)
	require.Equal(t, out.result.SweepTxID, *spend.SpenderTxHash)

	label, ok := c.responder.Label(in.result.FundingTxID)
	require.True(t, ok)
	require.Equal(t, labels.Funding(msgs.req.Hash), label)

	label, ok = c.requester.Label(out.result.SweepTxID)
	require.True(t, ok)
	require.Equal(
		t, labels.Sweep(msgs.req.Hash, swap.SpendPathCooperative),
		label,
	)

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceSettled, state)
	state, _ = c.network.InvoiceState(msgs.resp.CoopPrivKeyHash)
	require.Equal(t, ledger.InvoiceSettled, state)
	state, _ = c.network.InvoiceState(msgs.resp.PushHash())
	require.Equal(t, ledger.InvoiceCanceled, state)

	require.Zero(t, c.responder.Leases())

	assertLastStage(t, c.outStore, msgs, swapdb.StageSuccess)
	assertLastStage(t, c.inStore, msgs, swapdb.StageSuccess)
}

// TestClaimSwap runs a swap without push or cooperative key. The claim is
// broadcast and the responder learns the secret on-chain.
func TestClaimSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.outCfg.SkipPush = true
	c.outCfg.SkipCoopKey = true
	msgs := c.negotiate()

	stop := c.startMiner()
	defer stop()

	ctx := context.Background()
	inDone := c.runSwapIn(ctx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	in := waitOutcome(t, inDone)
	require.NoError(t, in.err)
	require.True(t, in.result.SecretOnChain)

	out := waitOutcome(t, outDone)
	require.NoError(t, out.err)
	require.Equal(t, swap.SpendPathClaim, out.result.Path)

	// The requester waits for the swap output to be spent, the
	// responder may settle the funding payment only shortly before.
	outpoint := c.swapOutpoint(msgs, in.result.FundingTxID)
	require.Len(t, c.chain.SpendsOf(outpoint), 1)

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceSettled, state)
}

// TestRefundedSwap runs a swap where the requester never pushes the secret
// and its claims never reach the chain. The responder refunds once at the
// timeout and both sides fail.
func TestRefundedSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.outCfg.SkipPush = true
	c.outCfg.SkipCoopKey = true
	c.outCfg.Ledger = &dropClaims{Ledger: c.requester}
	msgs := c.negotiate()

	stop := c.startMiner()
	defer stop()

	ctx := context.Background()
	inDone := c.runSwapIn(ctx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	waitStage(t, c.outUpdates, swapdb.StageSweepsSigned)
	c.chain.MineUntil(msgs.resp.Timeout)

	in := waitOutcome(t, inDone)
	require.ErrorIs(t, in.err, ErrSwapTimeout)

	out := waitOutcome(t, outDone)
	require.ErrorIs(t, out.err, ErrSwapRefunded)

	// Blocks past the timeout do not lead to further refunds.
	c.chain.Mine(10)

	fundingTxID := waitStage(
		t, c.inUpdates, swapdb.StageFundingPublished,
	).TxID
	require.NotNil(t, fundingTxID)

	outpoint := c.swapOutpoint(msgs, *fundingTxID)
	spends := c.chain.SpendsOf(outpoint)
	require.Len(t, spends, 1)
	require.Equal(
		t, swap.SpendPathRefund,
		swap.ClassifyWitness(spends[0].TxIn[0].Witness),
	)
	require.GreaterOrEqual(
		t, int32(spends[0].LockTime), msgs.resp.Timeout,
	)

	label, ok := c.responder.Label(spends[0].TxHash())
	require.True(t, ok)
	require.Equal(t, labels.Refund(msgs.req.Hash), label)

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceCanceled, state)
	state, _ = c.network.InvoiceState(msgs.resp.CoopPrivKeyHash)
	require.Equal(t, ledger.InvoiceCanceled, state)

	assertLastStage(t, c.outStore, msgs, swapdb.StageFailRefunded)
	assertLastStage(t, c.inStore, msgs, swapdb.StageFailTimeout)
}

// TestJointKeyMismatch flips a bit of the responder's cooperative key in the
// response. Both sides refuse the swap before anything is paid or funded.
func TestJointKeyMismatch(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	msgs := c.negotiate()

	flipped := msgs.resp.CoopPubKey.SerializeCompressed()
	flipped[0] ^= 1
	coopPubKey, err := btcec.ParsePubKey(flipped)
	require.NoError(t, err)

	tampered := *msgs.resp
	tampered.CoopPubKey = coopPubKey
	msgs.resp = &tampered

	ctx := context.Background()

	_, err = RunSwapOut(
		ctx, c.outCfg, msgs.req, msgs.resp, msgs.claimRecovery,
	)
	require.ErrorIs(t, err, swap.ErrJointKeyMismatch)

	_, err = RunSwapIn(
		ctx, c.inCfg, msgs.req, msgs.resp, msgs.refundRecover,
	)
	require.ErrorIs(t, err, swap.ErrJointKeyMismatch)

	require.Empty(t, c.chain.Mempool())
	require.Zero(t, c.responder.Leases())

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceCanceled, state)

	assertLastStage(t, c.outStore, msgs, swapdb.StageFailProtocol)
	assertLastStage(t, c.inStore, msgs, swapdb.StageFailProtocol)
}

// TestOutputTimeoutHeight checks that the requester gives up once the chain
// reaches the claim deadline without a swap output.
func TestOutputTimeoutHeight(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	msgs := c.negotiate()

	outDone := c.runSwapOut(context.Background(), msgs)
	waitStage(t, c.outUpdates, swapdb.StagePaymentsSent)

	c.chain.MineUntil(msgs.resp.Timeout - c.outCfg.Params.MinSweepBuffer)

	out := waitOutcome(t, outDone)
	require.ErrorIs(t, out.err, ErrOutputTimeout)

	assertLastStage(t, c.outStore, msgs, swapdb.StageFailOutputTimeout)
}

// TestOutputTimeoutClock checks that the requester gives up after the wall
// clock output timeout.
func TestOutputTimeoutClock(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)

	start := time.Unix(1_700_000_000, 0)
	tickSignal := make(chan time.Duration, 10)
	testClock := clock.NewTestClockWithTickSignal(start, tickSignal)
	c.outCfg.Clock = testClock

	msgs := c.negotiate()
	outDone := c.runSwapOut(context.Background(), msgs)

	timeout := time.After(test.Timeout)
	for registered := false; !registered; {
		select {
		case duration := <-tickSignal:
			registered = duration == c.outCfg.Params.OutputTimeout

		case <-timeout:
			t.Fatalf("output timeout not registered")
		}
	}

	testClock.SetTime(start.Add(c.outCfg.Params.OutputTimeout))

	out := waitOutcome(t, outDone)
	require.ErrorIs(t, out.err, ErrOutputTimeout)
}

// TestDepositTooHigh checks that the requester refuses a deposit above its
// limit.
func TestDepositTooHigh(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.inCfg.ExecutionFeeBase = 5000
	msgs := c.negotiate()

	_, err := RunSwapOut(
		context.Background(), c.outCfg, msgs.req, msgs.resp,
		msgs.claimRecovery,
	)
	require.ErrorIs(t, err, ErrDepositTooHigh)
}

// TestNewResponseValidation checks that requests below the minimum are
// refused without creating invoices.
func TestNewResponseValidation(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	ctx := context.Background()

	req, _, err := NewRequest(ctx, c.outCfg, 1000, nil)
	require.NoError(t, err)

	_, _, err = NewResponse(ctx, c.inCfg, req, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, ok := c.network.InvoiceState(req.Hash)
	require.False(t, ok)

	_, _, err = NewRequest(ctx, c.outCfg, 0, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	// A request with an external solo key stores that key in the
	// recovery instead of a derivation index.
	soloKey, _ := test.CreateKey(7)
	req, recovery, err := NewRequest(
		ctx, c.outCfg, testTokens, &RequestOptions{
			SoloPrivKey: soloKey,
		},
	)
	require.NoError(t, err)
	require.True(t, req.ClaimSoloPubKey.IsEqual(soloKey.PubKey()))

	secrets, err := c.outCfg.Vault.Open(ctx, req.Hash, recovery.Secrets)
	require.NoError(t, err)
	require.Nil(t, secrets.KeyIndex)
	require.Equal(t, req.Hash, secrets.ClaimSecret.Hash())

	// Operator labels must not use the reserved prefix.
	c.outCfg.Label = labels.Reserved + " mine"
	_, _, err = NewRequest(ctx, c.outCfg, testTokens, nil)
	require.ErrorIs(t, err, labels.ErrReservedPrefix)
}

// TestSettleRetry checks that the responder retries settling the funding
// invoice after a transient backend failure.
func TestSettleRetry(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	msgs := c.negotiate()

	flaky := &flakySettle{
		Ledger:   c.responder,
		hash:     msgs.req.Hash,
		code:     ledger.CodeUnavailable,
		failures: 1,
	}
	c.inCfg.Ledger = flaky

	stop := c.startMiner()
	defer stop()

	ctx := context.Background()
	inDone := c.runSwapIn(ctx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	in := waitOutcome(t, inDone)
	require.NoError(t, in.err)
	out := waitOutcome(t, outDone)
	require.NoError(t, out.err)

	require.EqualValues(t, 2, flaky.attempts.Load())
	require.True(t, out.result.FundingSettled)

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceSettled, state)
	state, _ = c.network.InvoiceState(msgs.resp.CoopPrivKeyHash)
	require.Equal(t, ledger.InvoiceSettled, state)

	assertLastStage(t, c.inStore, msgs, swapdb.StageSuccess)
}

// TestSettleFailureKeepsHolds checks that the responder never cancels the
// requester's payments once it knows the secret, even if settling fails. A
// second run settles them.
func TestSettleFailureKeepsHolds(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	msgs := c.negotiate()

	c.inCfg.Ledger = &flakySettle{
		Ledger:   c.responder,
		hash:     msgs.req.Hash,
		code:     ledger.CodeRejected,
		failures: -1,
	}

	stop := c.startMiner()
	defer stop()

	ctx := context.Background()
	inDone := c.runSwapIn(ctx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	in := waitOutcome(t, inDone)
	require.ErrorIs(t, in.err, errSettleFailed)

	fundingTxID := waitStage(
		t, c.inUpdates, swapdb.StageFundingPublished,
	).TxID
	require.NotNil(t, fundingTxID)

	for _, hash := range []lntypes.Hash{
		msgs.req.Hash, msgs.resp.CoopPrivKeyHash, msgs.resp.PushHash(),
	} {
		state, _ := c.network.InvoiceState(hash)
		require.Equal(t, ledger.InvoiceAccepted, state)
	}

	// Nothing was refunded.
	outpoint := c.swapOutpoint(msgs, *fundingTxID)
	require.Empty(t, c.chain.SpendsOf(outpoint))

	c.inCfg.Ledger = c.responder
	in = waitOutcome(t, c.runSwapIn(ctx, msgs))
	require.NoError(t, in.err)
	require.Equal(t, *fundingTxID, in.result.FundingTxID)
	require.Zero(t, in.result.FundingFee)

	out := waitOutcome(t, outDone)
	require.NoError(t, out.err)
	require.True(t, out.result.FundingSettled)

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceSettled, state)
}

// TestResumeSettledFunding stops the responder after it settled the funding
// invoice but before the deposit. The next run reads the secret from the
// settled invoice and finishes the settlement.
func TestResumeSettledFunding(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	msgs := c.negotiate()

	c.inCfg.Ledger = &stallSettle{
		Ledger: c.responder,
		hash:   msgs.resp.CoopPrivKeyHash,
	}

	stop := c.startMiner()
	defer stop()

	ctx := context.Background()
	inCtx, cancelIn := context.WithCancel(ctx)
	defer cancelIn()

	inDone := c.runSwapIn(inCtx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	fundingTxID := waitStage(
		t, c.inUpdates, swapdb.StageFundingPublished,
	).TxID
	require.NotNil(t, fundingTxID)
	waitStage(t, c.inUpdates, swapdb.StageFundingSettled)

	cancelIn()
	in := waitOutcome(t, inDone)
	require.ErrorIs(t, in.err, context.Canceled)

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceSettled, state)
	state, _ = c.network.InvoiceState(msgs.resp.CoopPrivKeyHash)
	require.Equal(t, ledger.InvoiceAccepted, state)

	c.inCfg.Ledger = c.responder
	in = waitOutcome(t, c.runSwapIn(ctx, msgs))
	require.NoError(t, in.err)
	require.Equal(t, msgs.req.Hash, in.result.Secret.Hash())
	require.Equal(t, *fundingTxID, in.result.FundingTxID)
	require.Equal(
		t, lnwire.NewMSatFromSatoshis(testTokens)+
			msgs.resp.DepositMilliTokens, in.result.Received,
	)

	out := waitOutcome(t, outDone)
	require.NoError(t, out.err)
	require.Equal(t, msgs.resp.DepositMilliTokens, out.result.Deposit)

	state, _ = c.network.InvoiceState(msgs.resp.CoopPrivKeyHash)
	require.Equal(t, ledger.InvoiceSettled, state)
	state, _ = c.network.InvoiceState(msgs.resp.PushHash())
	require.Equal(t, ledger.InvoiceCanceled, state)

	assertLastStage(t, c.inStore, msgs, swapdb.StageSuccess)
}

// TestInterruptedSwapReusesFunding stops the responder after it published
// the funding transaction. The payments stay held and the next run reuses
// the transaction instead of funding the swap twice.
func TestInterruptedSwapReusesFunding(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	msgs := c.negotiate()

	ctx := context.Background()
	inCtx, cancelIn := context.WithCancel(ctx)
	defer cancelIn()

	inDone := c.runSwapIn(inCtx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	// Without blocks the swap output never confirms and the first run
	// waits for the secret.
	fundingTxID := waitStage(
		t, c.inUpdates, swapdb.StageFundingPublished,
	).TxID
	require.NotNil(t, fundingTxID)

	cancelIn()
	in := waitOutcome(t, inDone)
	require.ErrorIs(t, in.err, context.Canceled)

	state, _ := c.network.InvoiceState(msgs.req.Hash)
	require.Equal(t, ledger.InvoiceAccepted, state)
	state, _ = c.network.InvoiceState(msgs.resp.CoopPrivKeyHash)
	require.Equal(t, ledger.InvoiceAccepted, state)
	require.Zero(t, c.responder.Leases())

	stop := c.startMiner()
	defer stop()

	in = waitOutcome(t, c.runSwapIn(ctx, msgs))
	require.NoError(t, in.err)
	require.Equal(t, *fundingTxID, in.result.FundingTxID)
	require.Zero(t, in.result.FundingFee)

	out := waitOutcome(t, outDone)
	require.NoError(t, out.err)

	var fundings int
	for _, tx := range c.chain.Published() {
		label, _ := c.responder.Label(tx.TxHash())
		if label == labels.Funding(msgs.req.Hash) {
			fundings++
		}
	}
	require.Equal(t, 1, fundings)
}

// TestHeldPaymentChecks checks that the responder refuses held payments it
// cannot safely fund and cancels them.
func TestHeldPaymentChecks(t *testing.T) {
	tests := []struct {
		name string

		// setup changes the swap after negotiation.
		setup func(c *testContext, msgs *swapMessages)

		// beforeResponder runs once the requester sent its
		// payments.
		beforeResponder func(c *testContext, msgs *swapMessages)

		expectedErr error
	}{
		{
			name: "cltv delta too small",
			setup: func(c *testContext, _ *swapMessages) {
				c.inCfg.Params.MinCltvDelta =
					c.inCfg.Params.SwapTimeoutDelta
			},
			expectedErr: ErrInsufficientCltvDelta,
		},
		{
			name: "too little time remaining",
			beforeResponder: func(c *testContext,
				msgs *swapMessages) {

				c.chain.MineUntil(
					msgs.resp.Timeout -
						c.inCfg.Params.MinTimeRemaining + 1,
				)
			},
			expectedErr: ErrInsufficientTimeRemaining,
		},
		{
			name: "wrong cooperative key",
			setup: func(c *testContext, _ *swapMessages) {
				other, _ := test.CreateKey(9)
				value := other.PubKey().SerializeCompressed()
				c.outCfg.Ledger = &replaceRecord{
					Ledger:     c.requester,
					recordType: ledger.CoopPubKeyRecordType,
					value:      value,
				}
			},
			expectedErr: ErrInvalidDeposit,
		},
		{
			name: "truncated cooperative key",
			setup: func(c *testContext, _ *swapMessages) {
				c.outCfg.Ledger = &replaceRecord{
					Ledger:     c.requester,
					recordType: ledger.CoopPubKeyRecordType,
					value:      []byte{2, 1},
				}
			},
			expectedErr: ErrInvalidDeposit,
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			defer test.Guard(t)()

			c := newTestContext(t)
			msgs := c.negotiate()
			if tc.setup != nil {
				tc.setup(c, msgs)
			}

			ctx := context.Background()
			outDone := c.runSwapOut(ctx, msgs)
			waitStage(t, c.outUpdates, swapdb.StagePaymentsSent)

			if tc.beforeResponder != nil {
				tc.beforeResponder(c, msgs)
			}

			in := waitOutcome(t, c.runSwapIn(ctx, msgs))
			require.ErrorIs(t, in.err, tc.expectedErr)

			out := waitOutcome(t, outDone)
			require.ErrorIs(t, out.err, ErrFundingFailed)

			require.Empty(t, c.chain.Mempool())
			require.Zero(t, c.responder.Leases())

			state, _ := c.network.InvoiceState(msgs.req.Hash)
			require.Equal(t, ledger.InvoiceCanceled, state)
			state, _ = c.network.InvoiceState(
				msgs.resp.CoopPrivKeyHash,
			)
			require.Equal(t, ledger.InvoiceCanceled, state)

			assertLastStage(
				t, c.inStore, msgs, swapdb.StageFailProtocol,
			)
		})
	}
}

// TestHoldTimeout checks that the responder gives up and cancels its
// invoices when the requester never pays.
func TestHoldTimeout(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)

	start := time.Unix(1_700_000_000, 0)
	tickSignal := make(chan time.Duration, 10)
	testClock := clock.NewTestClockWithTickSignal(start, tickSignal)
	c.inCfg.Clock = testClock

	msgs := c.negotiate()
	inDone := c.runSwapIn(context.Background(), msgs)

	// Both holds register their timeout.
	timeout := time.After(test.Timeout)
	for registered := 0; registered < 2; {
		select {
		case duration := <-tickSignal:
			if duration == c.inCfg.Params.HoldTimeout {
				registered++
			}

		case <-timeout:
			t.Fatalf("hold timeout not registered")
		}
	}

	testClock.SetTime(start.Add(c.inCfg.Params.HoldTimeout))

	in := waitOutcome(t, inDone)
	require.ErrorIs(t, in.err, ErrHoldTimeout)

	for _, hash := range []lntypes.Hash{
		msgs.req.Hash, msgs.resp.CoopPrivKeyHash, msgs.resp.PushHash(),
	} {
		state, _ := c.network.InvoiceState(hash)
		require.Equal(t, ledger.InvoiceCanceled, state)
	}

	assertLastStage(t, c.inStore, msgs, swapdb.StageFailProtocol)
}

// TestOutputValidation checks that the requester refuses swap outputs it
// cannot safely claim.
func TestOutputValidation(t *testing.T) {
	tests := []struct {
		name string

		// output returns the output reported for the swap.
		output func(c *testContext,
			msgs *swapMessages) ledger.FoundOutput

		expectedErr   error
		expectedStage swapdb.Stage
	}{
		{
			name: "coinbase",
			output: func(c *testContext,
				_ *swapMessages) ledger.FoundOutput {

				return ledger.FoundOutput{
					Value:      testTokens,
					ConfHeight: c.chain.Height(),
					Coinbase:   true,
				}
			},
			expectedErr:   ErrInvalidOutput,
			expectedStage: swapdb.StageFailProtocol,
		},
		{
			name: "confirmed at deadline",
			output: func(c *testContext,
				msgs *swapMessages) ledger.FoundOutput {

				deadline := msgs.resp.Timeout -
					c.outCfg.Params.MinSweepBuffer

				return ledger.FoundOutput{
					Value:      testTokens,
					ConfHeight: deadline,
				}
			},
			expectedErr:   ErrOutputTimeout,
			expectedStage: swapdb.StageFailOutputTimeout,
		},
		{
			name: "value too low",
			output: func(c *testContext,
				_ *swapMessages) ledger.FoundOutput {

				return ledger.FoundOutput{
					Value:      testTokens - 1,
					ConfHeight: c.chain.Height(),
				}
			},
			expectedErr:   ErrInvalidOutput,
			expectedStage: swapdb.StageFailProtocol,
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			defer test.Guard(t)()

			c := newTestContext(t)
			msgs := c.negotiate()
			c.outCfg.OutputFinder = &fixedOutput{
				output: tc.output(c, msgs),
			}

			_, err := RunSwapOut(
				context.Background(), c.outCfg, msgs.req,
				msgs.resp, msgs.claimRecovery,
			)
			require.ErrorIs(t, err, tc.expectedErr)

			assertLastStage(t, c.outStore, msgs, tc.expectedStage)
		})
	}
}

// TestPushFailure checks that a push payment that finds no route is reported
// with the result. The responder learns the secret from the claim instead.
func TestPushFailure(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.outCfg.Params.CoopKeyTimeout = 50 * time.Millisecond
	msgs := c.negotiate()

	c.outCfg.Ledger = &failPayment{
		Ledger: c.requester,
		hash:   msgs.resp.PushHash(),
	}

	stop := c.startMiner()
	defer stop()

	ctx := context.Background()
	inDone := c.runSwapIn(ctx, msgs)
	outDone := c.runSwapOut(ctx, msgs)

	in := waitOutcome(t, inDone)
	require.NoError(t, in.err)
	require.True(t, in.result.SecretOnChain)

	out := waitOutcome(t, outDone)
	require.NoError(t, out.err)
	require.False(t, out.result.PushDelivered)
	require.ErrorIs(t, out.result.PushErr, ErrPushFailed)
}
