package p2pswap

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/p2pswap/labels"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/vault"
	"github.com/lightningnetwork/lnd/clock"
)

// Params are the protocol constants both engines run with.
type Params struct {
	// SwapTimeoutDelta is the number of blocks from the response until
	// the refund leaf unlocks.
	SwapTimeoutDelta int32

	// MinCltvDelta is the minimum number of blocks a held payment must
	// outlive the swap timeout.
	MinCltvDelta int32

	// MinSweepBuffer is the number of blocks before the timeout at which
	// the requester stops claiming.
	MinSweepBuffer int32

	// MinTimeRemaining is the minimum number of blocks until the timeout
	// for the responder to broadcast the funding transaction.
	MinTimeRemaining int32

	// RefundMargin is the number of blocks past the timeout that refunds
	// are pre-signed for.
	RefundMargin int32

	// FundingConfTarget is the confirmation target of the funding
	// transaction.
	FundingConfTarget int32

	// SweepConfTarget is the confirmation target the first sweep of a
	// schedule is priced at.
	SweepConfTarget int32

	// PushTokens is the amount of the push payment.
	PushTokens btcutil.Amount

	// HoldTimeout bounds the wait for the requester's payments.
	HoldTimeout time.Duration

	// OutputTimeout bounds the wait for the swap output.
	OutputTimeout time.Duration

	// CoopKeyTimeout bounds the wait for the cooperative key before
	// claims are broadcast.
	CoopKeyTimeout time.Duration

	// SummaryTimeout bounds the final read of payment results.
	SummaryTimeout time.Duration

	// PaymentTimeout is the path finding timeout of payments.
	PaymentTimeout time.Duration

	// InvoiceExpiry is the expiry of the hold invoices.
	InvoiceExpiry time.Duration
}

// DefaultParams returns the default protocol constants.
func DefaultParams() Params {
	return Params{
		SwapTimeoutDelta:  144,
		MinCltvDelta:      40,
		MinSweepBuffer:    6,
		MinTimeRemaining:  72,
		RefundMargin:      144,
		FundingConfTarget: 6,
		SweepConfTarget:   6,
		PushTokens:        1,
		HoldTimeout:       10 * time.Minute,
		OutputTimeout:     6 * time.Hour,
		CoopKeyTimeout:    time.Minute,
		SummaryTimeout:    10 * time.Second,
		PaymentTimeout:    time.Minute,
		InvoiceExpiry:     time.Hour,
	}
}

// Config holds the collaborators shared by both engines.
type Config struct {
	// Ledger is the Lightning node backing the swap.
	Ledger ledger.Ledger

	// Chain streams chain events.
	Chain ledger.ChainMonitor

	// OutputFinder optionally looks up the swap output in addition to the
	// chain monitor.
	OutputFinder ledger.OutputFinder

	// Vault seals and opens the swap secrets.
	Vault *vault.Vault

	// Store optionally persists swaps and their stages.
	Store swapdb.SwapStore

	// ChainParams are the parameters of the chain the swap runs on.
	ChainParams *chaincfg.Params

	// Clock drives the wall clock timeouts.
	Clock clock.Clock

	// Updates optionally receives the progress of running swaps.
	Updates chan<- Update

	// SweepAddr receives our swept funds. A fresh wallet address is used
	// if it is nil.
	SweepAddr btcutil.Address

	// Label is appended to the labels of published transactions.
	Label string

	// Params are the protocol constants.
	Params Params
}

// validate checks the mandatory collaborators.
func (c *Config) validate() error {
	switch {
	case c.Ledger == nil:
		return errors.New("ledger required")

	case c.Chain == nil:
		return errors.New("chain monitor required")

	case c.Vault == nil:
		return errors.New("vault required")

	case c.ChainParams == nil:
		return errors.New("chain params required")

	case c.Clock == nil:
		return errors.New("clock required")
	}

	return labels.Validate(c.Label)
}

// SwapOutConfig configures the requester, who pays off-chain and claims the
// swap output.
type SwapOutConfig struct {
	Config

	// MaxExecutionFeeBase is the fixed part of the highest deposit we
	// pay.
	MaxExecutionFeeBase btcutil.Amount

	// MaxExecutionFeeRate is the proportional part of the highest deposit
	// we pay, in parts per million.
	MaxExecutionFeeRate int64

	// MaxRoutingFeeRate caps the routing fee of our payments, in parts
	// per million of the amount.
	MaxRoutingFeeRate int64

	// SkipPush disables pushing the secret off-chain.
	SkipPush bool

	// SkipCoopKey disables waiting for the cooperative key, the output is
	// then swept through the claim leaf.
	SkipCoopKey bool
}

// DefaultSwapOutConfig returns a requester config with default constants.
// The collaborators must be set by the caller.
func DefaultSwapOutConfig() *SwapOutConfig {
	return &SwapOutConfig{
		Config: Config{
			Clock:  clock.NewDefaultClock(),
			Params: DefaultParams(),
		},
		MaxExecutionFeeBase: 1000,
		MaxExecutionFeeRate: 10_000,
		MaxRoutingFeeRate:   5_000,
	}
}

// SwapInConfig configures the responder, who funds the swap output and gets
// paid off-chain.
type SwapInConfig struct {
	Config

	// ExecutionFeeBase is the fixed part of the deposit we charge.
	ExecutionFeeBase btcutil.Amount

	// ExecutionFeeRate is the proportional part of the deposit we charge,
	// in parts per million.
	ExecutionFeeRate int64

	// MinTokens is the smallest swap we serve.
	MinTokens btcutil.Amount
}

// DefaultSwapInConfig returns a responder config with default constants. The
// collaborators must be set by the caller.
func DefaultSwapInConfig() *SwapInConfig {
	return &SwapInConfig{
		Config: Config{
			Clock:  clock.NewDefaultClock(),
			Params: DefaultParams(),
		},
		ExecutionFeeBase: 1000,
		ExecutionFeeRate: 5_000,
		MinTokens:        10_000,
	}
}
