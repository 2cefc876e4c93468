package sweep

import (
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestMaxMultiplier tests the bounds of the escalation multiplier.
func TestMaxMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		rate     chainfee.SatPerVByte
		tokens   btcutil.Amount
		expected float64
	}{
		{
			name:     "tiny swap",
			policy:   ClaimPolicy,
			rate:     10,
			tokens:   1_000,
			expected: 1,
		},
		{
			name:   "medium swap",
			policy: ClaimPolicy,
			rate:   2,
			tokens: 100_000,
			// 0.25 * 100000 / (2 * 160) = 78.125
			expected: 78,
		},
		{
			name:     "huge swap",
			policy:   CooperativePolicy,
			rate:     1,
			tokens:   100_000_000,
			expected: MaxFeeMultiplier,
		},
		{
			name:   "refund",
			policy: RefundPolicy,
			rate:   1,
			tokens: 100_000,
			// 0.1 * 100000 / 150 = 66.67
			expected: 66,
		},
		{
			name:   "zero rate uses floor",
			policy: RefundPolicy,
			rate:   0,
			tokens: 100_000,
			// 0.1 * 100000 / 150 = 66.67
			expected: 66,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			require.Equal(
				t, test.expected,
				MaxMultiplier(test.policy, test.rate, test.tokens),
			)
		})
	}
}

// TestConfirmationFeeRate tests the end points and monotonicity of the curve.
func TestConfirmationFeeRate(t *testing.T) {
	params := CurveParams{
		StartRate:  5,
		Multiplier: 20,
		Before:     144,
	}

	require.InDelta(t, 5, ConfirmationFeeRate(params), 1e-9)

	params.Cursor = 144
	require.InDelta(t, 100, ConfirmationFeeRate(params), 1e-9)

	prev := 0.0
	for cursor := int32(0); cursor <= 144; cursor++ {
		params.Cursor = cursor
		rate := ConfirmationFeeRate(params)
		require.GreaterOrEqual(t, rate, prev)
		prev = rate
	}
}

// TestScheduleProperties tests that every schedule is strictly ascending in
// height and rate, starts at the start rate and ends at the multiplier bound.
func TestScheduleProperties(t *testing.T) {
	policies := []Policy{ClaimPolicy, CooperativePolicy, RefundPolicy}

	rapid.Check(t, func(t *rapid.T) {
		params := ScheduleParams{
			StartHeight: rapid.Int32Range(1, 1_000_000).Draw(
				t, "start_height",
			),
			Blocks: rapid.Int32Range(0, 2_016).Draw(t, "blocks"),
			StartRate: chainfee.SatPerVByte(
				rapid.Int64Range(1, 500).Draw(t, "start_rate"),
			),
			Tokens: btcutil.Amount(rapid.Int64Range(
				1, 10_000_000_000,
			).Draw(t, "tokens")),
			Policy: rapid.SampledFrom(policies).Draw(t, "policy"),
		}

		entries, err := Schedule(params)
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}

		if len(entries) == 0 {
			t.Fatalf("empty schedule")
		}

		if entries[0].Height != params.StartHeight {
			t.Fatalf("first height %v, expected %v",
				entries[0].Height, params.StartHeight)
		}

		multiplier := MaxMultiplier(
			params.Policy, params.StartRate, params.Tokens,
		)

		// Blocks of zero evaluate the deadline immediately.
		firstRate := params.StartRate
		if params.Blocks == 0 {
			firstRate = chainfee.SatPerVByte(math.Floor(
				float64(params.StartRate) * multiplier,
			))
		}
		if entries[0].FeeRate != firstRate {
			t.Fatalf("first rate %v, expected %v",
				entries[0].FeeRate, firstRate)
		}

		last := entries[len(entries)-1]
		maxRate := chainfee.SatPerVByte(math.Floor(
			float64(params.StartRate) * multiplier,
		))
		if last.FeeRate != maxRate {
			t.Fatalf("last rate %v, expected %v", last.FeeRate,
				maxRate)
		}

		if last.Height > params.StartHeight+params.Blocks {
			t.Fatalf("last height %v beyond deadline", last.Height)
		}

		for i := 1; i < len(entries); i++ {
			if entries[i].Height <= entries[i-1].Height ||
				entries[i].FeeRate <= entries[i-1].FeeRate {

				t.Fatalf("entries not ascending: %v, %v",
					entries[i-1], entries[i])
			}
		}
	})
}

// TestScheduleKeepsLowestHeight tests that a repeated rate is paired with the
// first height it appears at.
func TestScheduleKeepsLowestHeight(t *testing.T) {
	entries, err := Schedule(ScheduleParams{
		StartHeight: 100,
		Blocks:      10,
		StartRate:   1,
		Tokens:      1_000,
		Policy:      ClaimPolicy,
	})
	require.NoError(t, err)

	// A multiplier of one collapses the whole curve to the start rate.
	require.Equal(t, []ScheduleEntry{{Height: 100, FeeRate: 1}}, entries)

	_, err = Schedule(ScheduleParams{StartHeight: 100, Blocks: -1})
	require.ErrorIs(t, err, ErrInvalidSchedule)
}
