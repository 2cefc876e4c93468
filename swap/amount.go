package swap

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	// MaxTokens is the supply bound for every tokens field.
	MaxTokens = btcutil.Amount(21e14)

	// MaxMilliTokens is the supply bound expressed in millitokens.
	MaxMilliTokens = lnwire.MilliSatoshi(MaxTokens * 1000)

	// FeeRateTotalParts defines the granularity of proportional fees.
	FeeRateTotalParts = 1e6
)

// ErrAmountOutOfBounds is returned for amounts above the supply bound or
// below zero.
var ErrAmountOutOfBounds = errors.New("amount out of bounds")

// CheckTokens validates a tokens value against the supply bound.
func CheckTokens(tokens btcutil.Amount) error {
	if tokens < 0 || tokens > MaxTokens {
		return fmt.Errorf("%w: %v", ErrAmountOutOfBounds, int64(tokens))
	}

	return nil
}

// CheckMilliTokens validates a millitokens value against the supply bound.
func CheckMilliTokens(mtokens lnwire.MilliSatoshi) error {
	if mtokens > MaxMilliTokens {
		return fmt.Errorf("%w: %v msat", ErrAmountOutOfBounds,
			uint64(mtokens))
	}

	return nil
}

// AddTokens adds two token values and fails instead of exceeding the supply
// bound.
func AddTokens(a, b btcutil.Amount) (btcutil.Amount, error) {
	if err := CheckTokens(a); err != nil {
		return 0, err
	}
	if err := CheckTokens(b); err != nil {
		return 0, err
	}

	// Both operands are bounded so the sum cannot overflow int64.
	sum := a + b
	if err := CheckTokens(sum); err != nil {
		return 0, err
	}

	return sum, nil
}

// TokensToMilliTokens converts tokens to millitokens, enforcing the bound.
func TokensToMilliTokens(tokens btcutil.Amount) (lnwire.MilliSatoshi, error) {
	if err := CheckTokens(tokens); err != nil {
		return 0, err
	}

	return lnwire.NewMSatFromSatoshis(tokens), nil
}

// CalcFee returns a proportional fee with a base for a given amount.
func CalcFee(amount, feeBase btcutil.Amount, feeRate int64) btcutil.Amount {
	if feeRate > 0 && int64(amount) > math.MaxInt64/feeRate {
		return MaxTokens
	}

	return feeBase + amount*btcutil.Amount(feeRate)/
		btcutil.Amount(FeeRateTotalParts)
}

// PayReq holds the fields of a decoded payment request the swap engines
// validate.
type PayReq struct {
	// Hash is the payment hash.
	Hash lntypes.Hash

	// Amount is the requested amount.
	Amount lnwire.MilliSatoshi

	// Destination is the node that created the request.
	Destination route.Vertex

	// DestinationKey is the public key of the destination node.
	DestinationKey *btcec.PublicKey

	// DescriptionHash is the description hash, if set.
	DescriptionHash *[32]byte

	// CltvDelta is the final cltv delta of the request.
	CltvDelta uint64

	// PaymentAddr is the payment address, zero if the request has none.
	PaymentAddr [32]byte
}

// DecodePayReq decodes a payment request. It requires an amount to be
// specified.
func DecodePayReq(params *chaincfg.Params, payReq string) (*PayReq, error) {
	invoice, err := zpay32.Decode(payReq, params)
	if err != nil {
		return nil, err
	}

	if invoice.MilliSat == nil {
		return nil, errors.New("no amount in invoice")
	}

	if invoice.PaymentHash == nil {
		return nil, errors.New("no payment hash in invoice")
	}

	if err := CheckMilliTokens(*invoice.MilliSat); err != nil {
		return nil, err
	}

	return &PayReq{
		Hash:            *invoice.PaymentHash,
		Amount:          *invoice.MilliSat,
		Destination:     route.NewVertex(invoice.Destination),
		DestinationKey:  invoice.Destination,
		DescriptionHash: invoice.DescriptionHash,
		CltvDelta:       invoice.MinFinalCLTVExpiry(),
		PaymentAddr:     invoice.PaymentAddr.UnwrapOr([32]byte{}),
	}, nil
}
