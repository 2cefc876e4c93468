package swap

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestTokenBounds tests that every value above the supply bound is rejected.
func TestTokenBounds(t *testing.T) {
	require.NoError(t, CheckTokens(0))
	require.NoError(t, CheckTokens(MaxTokens))
	require.ErrorIs(t, CheckTokens(MaxTokens+1), ErrAmountOutOfBounds)
	require.ErrorIs(t, CheckTokens(-1), ErrAmountOutOfBounds)

	require.NoError(t, CheckMilliTokens(MaxMilliTokens))
	require.ErrorIs(
		t, CheckMilliTokens(MaxMilliTokens+1), ErrAmountOutOfBounds,
	)

	rapid.Check(t, func(t *rapid.T) {
		tokens := btcutil.Amount(
			rapid.Int64Min(int64(MaxTokens) + 1).Draw(t, "tokens"),
		)
		if CheckTokens(tokens) == nil {
			t.Fatalf("tokens %v accepted", tokens)
		}
	})
}

// TestAddTokens tests checked token addition.
func TestAddTokens(t *testing.T) {
	sum, err := AddTokens(1, 2)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(3), sum)

	_, err = AddTokens(MaxTokens, 1)
	require.ErrorIs(t, err, ErrAmountOutOfBounds)

	mtokens, err := TokensToMilliTokens(5)
	require.NoError(t, err)
	require.Equal(t, lnwire.MilliSatoshi(5000), mtokens)
}
