package lndledger

import (
	"context"
	"errors"

	"github.com/lightninglabs/p2pswap/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classify maps an lnd rpc error to a backend code.
func classify(err error) ledger.BackendCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return ledger.CodeTimeout
	}

	st, ok := status.FromError(err)
	if !ok {
		return ledger.CodeUnknown
	}

	switch st.Code() {
	case codes.Unavailable:
		return ledger.CodeUnavailable

	case codes.DeadlineExceeded:
		return ledger.CodeTimeout

	case codes.ResourceExhausted:
		return ledger.CodeResourceExhausted

	case codes.NotFound:
		return ledger.CodeNotFound

	case codes.InvalidArgument, codes.FailedPrecondition,
		codes.AlreadyExists, codes.PermissionDenied,
		codes.Unauthenticated, codes.OutOfRange:

		return ledger.CodeRejected

	default:
		return ledger.CodeUnknown
	}
}

// wrap turns an lnd rpc error into a backend error. Cancellation by the
// caller is returned unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) ||
		status.Code(err) == codes.Canceled {

		return err
	}

	return ledger.NewBackendError(classify(err), op, err)
}
