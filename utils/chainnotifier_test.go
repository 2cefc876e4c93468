package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// stubBlockEpochRegistrar implements BlockEpochRegistrar and records the
// number of attempts before succeeding.
type stubBlockEpochRegistrar struct {
	mu           sync.Mutex
	attempts     int
	succeedAfter int
	failure      error
	heights      []int32
}

// RegisterBlockEpochNtfn simulates a chain notifier that returns a startup
// error until the configured number of attempts has been exhausted.
func (s *stubBlockEpochRegistrar) RegisterBlockEpochNtfn(
	ctx context.Context) (<-chan int32, <-chan error, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.attempts <= s.succeedAfter {
		if s.failure != nil {
			return nil, nil, s.failure
		}

		return nil, nil, status.Error(
			codes.Unknown, chainNotifierStartupMessage,
		)
	}

	blockChan := make(chan int32, len(s.heights))
	for _, height := range s.heights {
		blockChan <- height
	}

	return blockChan, make(chan error), nil
}

// Attempts returns the total number of registration attempts made.
func (s *stubBlockEpochRegistrar) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.attempts
}

// TestRegisterBlockEpochNtfnWithRetry ensures we retry until the notifier
// becomes available.
func TestRegisterBlockEpochNtfnWithRetry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	stub := &stubBlockEpochRegistrar{
		succeedAfter: 1,
	}

	blockChan, errChan, err := RegisterBlockEpochNtfnWithRetry(ctx, stub)
	require.NoError(t, err)
	require.NotNil(t, blockChan)
	require.NotNil(t, errChan)
	require.Equal(t, 2, stub.Attempts())
}

// TestRegisterBlockEpochNtfnRetryableBackend ensures transient backend
// failures are retried and permanent ones are not.
func TestRegisterBlockEpochNtfnRetryableBackend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	stub := &stubBlockEpochRegistrar{
		succeedAfter: 1,
		failure: ledger.NewBackendError(
			ledger.CodeUnavailable, "RegisterBlockEpochNtfn",
			errors.New("connection refused"),
		),
	}

	_, _, err := RegisterBlockEpochNtfnWithRetry(ctx, stub)
	require.NoError(t, err)
	require.Equal(t, 2, stub.Attempts())

	permanent := errors.New("permission denied")
	stub = &stubBlockEpochRegistrar{
		succeedAfter: 1,
		failure:      permanent,
	}

	_, _, err = RegisterBlockEpochNtfnWithRetry(ctx, stub)
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, stub.Attempts())
}

// TestRegisterBlockEpochNtfnWithRetryContextCancel ensures we propagate the
// caller's context error if the notifier never becomes ready.
func TestRegisterBlockEpochNtfnWithRetryContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	t.Cleanup(cancel)

	stub := &stubBlockEpochRegistrar{
		succeedAfter: 100,
	}

	_, _, err := RegisterBlockEpochNtfnWithRetry(ctx, stub)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, stub.Attempts(), 1)
}

// TestWaitForHeight tests that heights below the target are skipped.
func TestWaitForHeight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	stub := &stubBlockEpochRegistrar{
		heights: []int32{100, 101, 103},
	}

	height, err := WaitForHeight(ctx, stub, 102)
	require.NoError(t, err)
	require.EqualValues(t, 103, height)

	stub = &stubBlockEpochRegistrar{
		heights: []int32{100},
	}

	shortCtx, shortCancel := context.WithTimeout(
		ctx, 50*time.Millisecond,
	)
	defer shortCancel()

	_, err = WaitForHeight(shortCtx, stub, 200)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
