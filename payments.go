package p2pswap

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
)

const (
	// minRoutingFee is the routing fee allowance added to the
	// proportional limit so small payments can be routed at all.
	minRoutingFee = btcutil.Amount(10)

	// paymentRetryBackoff is the delay between attempts of a payment
	// that failed with a transient backend error.
	paymentRetryBackoff = time.Second

	// settleRetryBackoff is the delay between attempts to settle a hold
	// invoice whose preimage is known.
	settleRetryBackoff = time.Second
)

// paymentFuture is the eventual outcome of an outgoing payment. It can be
// read any number of times once resolved.
type paymentFuture struct {
	name   string
	done   chan struct{}
	result *ledger.PaymentResult
	err    error
}

// wait blocks until the payment is final or the context is done.
func (p *paymentFuture) wait(ctx context.Context) (*ledger.PaymentResult,
	error) {

	select {
	case <-p.done:
		return p.result, p.err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolved returns true if the payment is final.
func (p *paymentFuture) resolved() bool {
	select {
	case <-p.done:
		return true

	default:
		return false
	}
}

// maxRoutingFee returns the routing fee limit of a payment.
func maxRoutingFee(amount btcutil.Amount, feeRate int64) btcutil.Amount {
	return swap.CalcFee(amount, minRoutingFee, feeRate)
}

// pay dispatches a payment in the background. The payment goroutine exits
// once the payment is final or the context is canceled.
func (s *swapKit) pay(ctx context.Context, name string,
	payment *ledger.Payment) *paymentFuture {

	future := &paymentFuture{
		name: name,
		done: make(chan struct{}),
	}

	s.log.Infof("Sending %v payment %v of %v", name, payment.Hash,
		payment.AmountMsat)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(future.done)

		future.result, future.err = s.sendPaymentWithRetry(
			ctx, name, payment,
		)

		switch {
		case future.err != nil:
			s.log.Warnf("Payment %v error: %v", name, future.err)

		case future.result.Succeeded:
			s.log.Infof("Payment %v settled, fee %v", name,
				future.result.FeeMsat)

		default:
			s.log.Infof("Payment %v failed: %v", name,
				future.result.FailureReason)
		}
	}()

	return future
}

// sendPaymentWithRetry sends a payment, retrying as long as the backend
// reports transient failures.
func (s *swapKit) sendPaymentWithRetry(ctx context.Context, name string,
	payment *ledger.Payment) (*ledger.PaymentResult, error) {

	tryCount := 1
	for {
		result, err := s.cfg.Ledger.SendPayment(ctx, payment)
		if err == nil || !ledger.IsRetryable(err) {
			return result, err
		}

		s.log.Warnf("Payment %v try %v failed, retrying: %v", name,
			tryCount, err)

		select {
		case <-s.cfg.Clock.TickAfter(paymentRetryBackoff):
			tryCount++

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
