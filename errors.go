package p2pswap

import (
	"errors"
	"fmt"

	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/swapmsg"
	"github.com/lightninglabs/p2pswap/vault"
	"github.com/lightningnetwork/lnd/lnrpc"
)

var (
	// ErrInvalidRequest is returned for a swap request that cannot be
	// served, for example because of a zero or dust amount.
	ErrInvalidRequest = errors.New("invalid swap request")

	// ErrRecoveryMismatch is returned when a recovery does not belong to
	// the request and response it is run with.
	ErrRecoveryMismatch = errors.New("recovery does not match swap")

	// ErrInvalidFundingRequest is returned when the funding payment
	// request does not pay for the swap.
	ErrInvalidFundingRequest = errors.New("invalid funding request")

	// ErrDepositTooHigh is returned when the responder asks for a deposit
	// above the configured maximum.
	ErrDepositTooHigh = errors.New("deposit exceeds maximum execution fee")

	// ErrInvalidDeposit is returned when the held deposit does not carry
	// the committed cooperative key.
	ErrInvalidDeposit = errors.New("invalid deposit payment")

	// ErrInsufficientCltvDelta is returned when a held payment expires too
	// close to the swap timeout.
	ErrInsufficientCltvDelta = errors.New("insufficient htlc cltv delta")

	// ErrInsufficientTimeRemaining is returned when too few blocks are
	// left until the swap timeout.
	ErrInsufficientTimeRemaining = errors.New("insufficient time " +
		"remaining until swap timeout")

	// ErrInvalidOutput is returned for a swap output that cannot be
	// accepted.
	ErrInvalidOutput = errors.New("invalid swap output")

	// ErrFundingFailed is returned when the funding payment fails before
	// the swap output confirms.
	ErrFundingFailed = errors.New("funding payment failed")

	// ErrUnexpectedSpend is returned when the swap output is spent through
	// the key path without us knowing the swap secret.
	ErrUnexpectedSpend = errors.New("unexpected cooperative spend")

	// ErrOutputTimeout is returned when no swap output confirmed in time.
	ErrOutputTimeout = errors.New("timed out waiting for swap output")

	// ErrSwapTimeout is returned when the swap timeout was reached without
	// learning the secret and a refund was broadcast.
	ErrSwapTimeout = errors.New("swap timed out, refund published")

	// ErrSwapRefunded is returned when the swap output was spent through
	// the refund leaf.
	ErrSwapRefunded = errors.New("swap output refunded")

	// ErrPushFailed is reported when the push payment did not reach the
	// responder.
	ErrPushFailed = errors.New("push payment failed")

	// ErrHoldTimeout is returned when a payment is not held in time.
	ErrHoldTimeout = errors.New("timed out waiting for held payment")

	// ErrHoldCanceled is returned when an invoice was canceled while
	// waiting for a held payment.
	ErrHoldCanceled = errors.New("invoice canceled")
)

// isExpectedPushRejection returns true if the push payment failed the way it
// is meant to. The responder never settles the push invoice, so a rejection
// at the destination means the secret was delivered.
func isExpectedPushRejection(reason lnrpc.PaymentFailureReason) bool {
	return reason ==
		lnrpc.PaymentFailureReason_FAILURE_REASON_INCORRECT_PAYMENT_DETAILS
}

// pushOutcome returns nil if the push payment reached the responder. The
// responder rejects a push it held, so that rejection counts as delivered.
func pushOutcome(result *ledger.PaymentResult, err error) error {
	switch {
	case err != nil:
		return fmt.Errorf("%w: %v", ErrPushFailed, err)

	case result.Succeeded, isExpectedPushRejection(result.FailureReason):
		return nil

	default:
		return fmt.Errorf("%w: %v", ErrPushFailed, result.FailureReason)
	}
}

// isProtocolError returns true if the error is caused by the counterpart or
// by invalid messages rather than by our backends.
func isProtocolError(err error) bool {
	protocolErrs := []error{
		swap.ErrJointKeyMismatch, swap.ErrSecretMismatch,
		swapmsg.ErrUnsupportedVersion, vault.ErrTagMismatch,
		ErrInvalidRequest, ErrRecoveryMismatch,
		ErrInvalidFundingRequest, ErrDepositTooHigh, ErrInvalidDeposit,
		ErrInsufficientCltvDelta, ErrInsufficientTimeRemaining,
		ErrInvalidOutput, ErrFundingFailed, ErrUnexpectedSpend,
		ErrHoldTimeout, ErrHoldCanceled,
	}

	for _, protocolErr := range protocolErrs {
		if errors.Is(err, protocolErr) {
			return true
		}
	}

	return false
}

// failureStage returns the stage a swap ends in after failing with the
// error.
func failureStage(err error) swapdb.Stage {
	switch {
	case errors.Is(err, ErrOutputTimeout):
		return swapdb.StageFailOutputTimeout

	case errors.Is(err, ErrSwapTimeout):
		return swapdb.StageFailTimeout

	case errors.Is(err, ErrSwapRefunded):
		return swapdb.StageFailRefunded

	case isProtocolError(err):
		return swapdb.StageFailProtocol

	default:
		return swapdb.StageFailTemporary
	}
}
