package p2pswap

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/utils"
	"github.com/lightningnetwork/lnd/chainntnfs"
)

// outputFromConf extracts the swap output from a confirmation.
func outputFromConf(conf *chainntnfs.TxConfirmation,
	pkScript []byte) (*ledger.FoundOutput, error) {

	outpoint, value, err := swap.GetScriptOutput(conf.Tx, pkScript)
	if err != nil {
		return nil, err
	}

	return &ledger.FoundOutput{
		OutPoint:   *outpoint,
		Value:      value,
		ConfHeight: int32(conf.BlockHeight),
		Coinbase:   blockchain.IsCoinBaseTx(conf.Tx),
	}, nil
}

// chainOutput finds the swap output through the chain monitor.
func chainOutput(chain ledger.ChainMonitor, pkScript []byte,
	heightHint int32) utils.Source[*ledger.FoundOutput] {

	return func(ctx context.Context) (*ledger.FoundOutput, error) {
		confChan, errChan, err := chain.RegisterConfirmationsNtfn(
			ctx, nil, pkScript, 1, heightHint,
		)
		if err != nil {
			return nil, err
		}

		select {
		case conf := <-confChan:
			return outputFromConf(conf, pkScript)

		case err := <-errChan:
			return nil, err

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// finderOutput finds the swap output through an output finder.
func finderOutput(finder ledger.OutputFinder, pkScript []byte,
	heightHint int32) utils.Source[*ledger.FoundOutput] {

	return func(ctx context.Context) (*ledger.FoundOutput, error) {
		return finder.FindOutput(ctx, pkScript, heightHint)
	}
}

// outputTimeout fails once the wall clock timeout passes.
func (s *swapKit) outputTimeout(
	timeout time.Duration) utils.Source[*ledger.FoundOutput] {

	return func(ctx context.Context) (*ledger.FoundOutput, error) {
		select {
		case <-s.cfg.Clock.TickAfter(timeout):
			return nil, fmt.Errorf("%w: nothing found after %v",
				ErrOutputTimeout, timeout)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// outputDeadline fails once the chain reaches the deadline height.
func (s *swapKit) outputDeadline(
	deadline int32) utils.Source[*ledger.FoundOutput] {

	return func(ctx context.Context) (*ledger.FoundOutput, error) {
		height, err := utils.WaitForHeight(ctx, s.cfg.Chain, deadline)
		if err != nil {
			return nil, err
		}
		s.setHeight(height)

		return nil, fmt.Errorf("%w: height %v reached claim deadline %v",
			ErrOutputTimeout, height, deadline)
	}
}

// fundingFailure fails if the funding payment fails. A settled funding
// payment cannot precede the swap output, so it only waits for
// cancellation.
func fundingFailure(
	funding *paymentFuture) utils.Source[*ledger.FoundOutput] {

	return func(ctx context.Context) (*ledger.FoundOutput, error) {
		result, err := funding.wait(ctx)
		if err != nil {
			return nil, err
		}

		if !result.Succeeded {
			return nil, fmt.Errorf("%w: %v", ErrFundingFailed,
				result.FailureReason)
		}

		<-ctx.Done()

		return nil, ctx.Err()
	}
}

// waitForOutput races the output discovery strategies against the failure
// conditions and validates the output found.
func (s *swapOut) waitForOutput(ctx context.Context) (*ledger.FoundOutput,
	error) {

	params := s.cfg.Params

	heightHint := s.resp.Timeout - params.SwapTimeoutDelta
	if heightHint < 1 {
		heightHint = 1
	}

	s.log.Infof("Waiting for swap output %v (hh=%v, deadline=%v)",
		s.script.Address, heightHint, s.deadline)

	sources := []utils.Source[*ledger.FoundOutput]{
		chainOutput(s.cfg.Chain, s.script.PkScript, heightHint),
		fundingFailure(s.fundingPayment),
		s.outputTimeout(params.OutputTimeout),
		s.outputDeadline(s.deadline),
	}
	if s.cfg.OutputFinder != nil {
		sources = append(sources, finderOutput(
			s.cfg.OutputFinder, s.script.PkScript, heightHint,
		))
	}

	output, err := utils.Race(ctx, sources...)
	if err != nil {
		return nil, err
	}

	switch {
	case output.Coinbase:
		return nil, fmt.Errorf("%w: coinbase output %v",
			ErrInvalidOutput, output.OutPoint)

	case output.ConfHeight >= s.deadline:
		return nil, fmt.Errorf("%w: output %v confirmed at %v, "+
			"deadline %v", ErrOutputTimeout, output.OutPoint,
			output.ConfHeight, s.deadline)

	case output.Value < s.req.Tokens:
		return nil, fmt.Errorf("%w: output %v pays %v, expected %v",
			ErrInvalidOutput, output.OutPoint, output.Value,
			s.req.Tokens)
	}

	s.log.Infof("Swap output %v of %v confirmed at height %v",
		output.OutPoint, output.Value, output.ConfHeight)

	return output, nil
}
