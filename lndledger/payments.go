package lndledger

import (
	"context"
	"time"

	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// defaultPaymentTimeout is the path finding timeout of payments that
	// do not set one.
	defaultPaymentTimeout = time.Minute

	// maxParts is the maximum number of shards of a payment.
	maxParts = 16
)

// destFeatures are the features assumed for destinations that are not
// described by a payment request.
var destFeatures = []lnrpc.FeatureBit{
	lnrpc.FeatureBit_TLV_ONION_REQ,
	lnrpc.FeatureBit_PAYMENT_ADDR_REQ,
	lnrpc.FeatureBit_MPP_OPT,
}

// paymentStream is an update stream of a payment.
type paymentStream interface {
	Recv() (*lnrpc.Payment, error)
}

// sendRequest builds the router request of a payment.
func sendRequest(payment *ledger.Payment) *routerrpc.SendPaymentRequest {
	timeout := payment.Timeout
	if timeout == 0 {
		timeout = defaultPaymentTimeout
	}

	req := &routerrpc.SendPaymentRequest{
		PaymentRequest:    payment.PaymentRequest,
		FeeLimitSat:       int64(payment.MaxFee),
		TimeoutSeconds:    int32(timeout.Seconds()),
		MaxParts:          maxParts,
		NoInflightUpdates: true,
		DestCustomRecords: payment.CustomRecords,
	}

	if payment.LastHop != nil {
		req.LastHopPubkey = payment.LastHop[:]
	}

	if payment.PaymentRequest != "" {
		return req
	}

	req.Dest = payment.Destination[:]
	req.AmtMsat = int64(payment.AmountMsat)
	req.PaymentHash = payment.Hash[:]
	req.FinalCltvDelta = int32(payment.FinalCltvDelta)
	req.DestFeatures = destFeatures

	if payment.PaymentAddr != ([32]byte{}) {
		req.PaymentAddr = payment.PaymentAddr[:]
	}

	return req
}

// paymentResult converts a payment update. It returns nil while the payment
// is in flight.
func paymentResult(hash lntypes.Hash,
	payment *lnrpc.Payment) (*ledger.PaymentResult, error) {

	switch payment.Status {
	case lnrpc.Payment_SUCCEEDED:
		preimage, err := lntypes.MakePreimageFromStr(
			payment.PaymentPreimage,
		)
		if err != nil {
			return nil, err
		}

		return &ledger.PaymentResult{
			Hash:       hash,
			Succeeded:  true,
			Preimage:   preimage,
			AmountMsat: lnwire.MilliSatoshi(payment.ValueMsat),
			FeeMsat:    lnwire.MilliSatoshi(payment.FeeMsat),
		}, nil

	case lnrpc.Payment_FAILED:
		return &ledger.PaymentResult{
			Hash:          hash,
			FailureReason: payment.FailureReason,
		}, nil

	default:
		return nil, nil
	}
}

// SendPayment pays and blocks until the payment is final. A payment that
// was already dispatched for the hash is tracked instead.
func (l *Ledger) SendPayment(ctx context.Context,
	payment *ledger.Payment) (*ledger.PaymentResult, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rpcCtx, _, client := l.lnd.Router.RawClientWithMacAuth(ctx)

	var stream paymentStream
	stream, err := client.SendPaymentV2(rpcCtx, sendRequest(payment))
	if err != nil {
		return nil, wrap("SendPaymentV2", err)
	}

	tracking := false
	for {
		update, err := stream.Recv()
		switch {
		// The payment was started before, follow the existing attempt.
		case status.Code(err) == codes.AlreadyExists && !tracking:
			log.Infof("Payment %v already initiated, tracking",
				payment.Hash)

			tracking = true
			stream, err = client.TrackPaymentV2(
				rpcCtx, &routerrpc.TrackPaymentRequest{
					PaymentHash:       payment.Hash[:],
					NoInflightUpdates: true,
				},
			)
			if err != nil {
				return nil, wrap("TrackPaymentV2", err)
			}

			continue

		case err != nil:
			return nil, wrap("SendPaymentV2", err)
		}

		result, err := paymentResult(payment.Hash, update)
		if err != nil {
			return nil, err
		}

		if result != nil {
			return result, nil
		}
	}
}
