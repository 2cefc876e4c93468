package utils

import (
	"context"
	"strings"
	"time"

	"github.com/lightninglabs/p2pswap/ledger"
	"google.golang.org/grpc/status"
)

const (
	// chainNotifierStartupMessage is returned by lnd while the chain
	// notifier RPC sub-server is initialising.
	chainNotifierStartupMessage = "chain notifier RPC is still in the " +
		"process of starting"

	// chainNotifierRetryBackoff is the delay used between subscription
	// attempts while the chain notifier is still starting.
	chainNotifierRetryBackoff = 500 * time.Millisecond
)

// BlockEpochRegistrar represents the ability to subscribe to block epoch
// notifications.
type BlockEpochRegistrar interface {
	RegisterBlockEpochNtfn(ctx context.Context) (<-chan int32,
		<-chan error, error)
}

// RegisterBlockEpochNtfnWithRetry keeps retrying block epoch subscriptions as
// long as the backend reports that it is still starting or that the failure
// is transient.
func RegisterBlockEpochNtfnWithRetry(ctx context.Context,
	registrar BlockEpochRegistrar) (<-chan int32, <-chan error, error) {

	for {
		blockChan, errChan, err := registrar.RegisterBlockEpochNtfn(ctx)
		if err == nil {
			return blockChan, errChan, nil
		}

		if !isChainNotifierStartingErr(err) &&
			!ledger.IsRetryable(err) {

			return nil, nil, err
		}

		log.Warnf("Block epochs not available yet, retrying: %v", err)

		select {
		case <-time.After(chainNotifierRetryBackoff):
			continue

		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// WaitForHeight blocks until the chain reaches the height and returns the
// height observed.
func WaitForHeight(ctx context.Context, registrar BlockEpochRegistrar,
	height int32) (int32, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	blockChan, errChan, err := RegisterBlockEpochNtfnWithRetry(
		ctx, registrar,
	)
	if err != nil {
		return 0, err
	}

	for {
		select {
		case current := <-blockChan:
			if current >= height {
				return current, nil
			}

		case err := <-errChan:
			return 0, err

		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// isChainNotifierStartingErr checks whether an error indicates that lnd's chain
// notifier has not started yet.
func isChainNotifierStartingErr(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if ok && strings.Contains(st.Message(), chainNotifierStartupMessage) {
		return true
	}

	return strings.Contains(err.Error(), chainNotifierStartupMessage)
}
