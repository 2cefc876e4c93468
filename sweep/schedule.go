package sweep

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// MaxFeeMultiplier caps the escalation of any schedule.
	MaxFeeMultiplier = 1000

	// minFeeRate is the lowest rate a schedule entry carries.
	minFeeRate = chainfee.SatPerVByte(1)
)

var (
	// ErrInvalidSchedule is returned for schedule parameters that cannot
	// produce entries.
	ErrInvalidSchedule = errors.New("invalid fee schedule parameters")
)

// Policy holds the weighting constants of a sweep type.
type Policy struct {
	// Name identifies the policy in logs.
	Name string

	// VSize is the virtual size of the sweep transaction.
	VSize int64

	// MaxShare is the largest share of the swap value the fee of the most
	// urgent sweep may consume.
	MaxShare float64
}

var (
	// ClaimPolicy weights unilateral claim sweeps.
	ClaimPolicy = Policy{Name: "claim", VSize: 160, MaxShare: 0.25}

	// CooperativePolicy weights key path sweeps.
	CooperativePolicy = Policy{
		Name: "cooperative", VSize: 111, MaxShare: 0.25,
	}

	// RefundPolicy weights refund sweeps. The counterparty already holds
	// the off-chain side so the refund gets a smaller cap.
	RefundPolicy = Policy{Name: "refund", VSize: 150, MaxShare: 0.1}
)

// String returns the policy name.
func (p Policy) String() string {
	return p.Name
}

// MaxMultiplier returns the bound on how far a schedule starting at the given
// rate may escalate for a swap of the given value. It shrinks as the start
// rate grows and as the value falls, and is clamped to [1,
// MaxFeeMultiplier].
func MaxMultiplier(policy Policy, startRate chainfee.SatPerVByte,
	tokens btcutil.Amount) float64 {

	if startRate < minFeeRate {
		startRate = minFeeRate
	}

	if policy.VSize <= 0 || tokens <= 0 {
		return 1
	}

	budget := policy.MaxShare * float64(tokens)
	multiplier := math.Floor(
		budget / (float64(startRate) * float64(policy.VSize)),
	)

	switch {
	case multiplier < 1:
		return 1

	case multiplier > MaxFeeMultiplier:
		return MaxFeeMultiplier

	default:
		return multiplier
	}
}

// CurveParams are the inputs of the confirmation fee curve.
type CurveParams struct {
	// StartRate is the rate at the first block.
	StartRate chainfee.SatPerVByte

	// Multiplier is the escalation reached at the deadline.
	Multiplier float64

	// Before is the number of blocks until the deadline.
	Before int32

	// Cursor is the block offset being evaluated.
	Cursor int32
}

// ConfirmationFeeRate returns the fee rate in sat/vbyte at the cursor of a
// geometric curve that starts at the start rate and reaches multiplier times
// the start rate at the deadline.
func ConfirmationFeeRate(params CurveParams) float64 {
	start := float64(params.StartRate)
	multiplier := math.Max(params.Multiplier, 1)

	if params.Before <= 0 || params.Cursor >= params.Before {
		return start * multiplier
	}

	cursor := math.Max(float64(params.Cursor), 0)

	return start * math.Pow(multiplier, cursor/float64(params.Before))
}

// ScheduleEntry pairs the first height at which a fee rate is used.
type ScheduleEntry struct {
	// Height is the lowest height the rate applies at.
	Height int32

	// FeeRate is the sweep fee rate.
	FeeRate chainfee.SatPerVByte
}

// ScheduleParams are the inputs of a fee schedule.
type ScheduleParams struct {
	// StartHeight is the height of the first entry.
	StartHeight int32

	// Blocks is the number of blocks until the deadline. Offsets 0 to
	// Blocks inclusive are evaluated.
	Blocks int32

	// StartRate is the fee rate at the start height.
	StartRate chainfee.SatPerVByte

	// Tokens is the value being swept.
	Tokens btcutil.Amount

	// Policy selects the weighting constants.
	Policy Policy
}

// Schedule returns the fee escalation schedule. Entries are strictly
// ascending in height and in fee rate. For every distinct whole sat/vbyte
// rate only the lowest height is kept.
func Schedule(params ScheduleParams) ([]ScheduleEntry, error) {
	if params.Blocks < 0 {
		return nil, fmt.Errorf("%w: %v blocks", ErrInvalidSchedule,
			params.Blocks)
	}

	if params.StartHeight <= 0 {
		return nil, fmt.Errorf("%w: start height %v",
			ErrInvalidSchedule, params.StartHeight)
	}

	startRate := params.StartRate
	if startRate < minFeeRate {
		startRate = minFeeRate
	}

	multiplier := MaxMultiplier(params.Policy, startRate, params.Tokens)

	var (
		entries []ScheduleEntry
		last    chainfee.SatPerVByte
	)
	for offset := int32(0); offset <= params.Blocks; offset++ {
		rate := chainfee.SatPerVByte(math.Floor(ConfirmationFeeRate(
			CurveParams{
				StartRate:  startRate,
				Multiplier: multiplier,
				Before:     params.Blocks,
				Cursor:     offset,
			},
		)))
		if rate < minFeeRate {
			rate = minFeeRate
		}

		if len(entries) > 0 && rate <= last {
			continue
		}

		entries = append(entries, ScheduleEntry{
			Height:  params.StartHeight + offset,
			FeeRate: rate,
		})
		last = rate
	}

	log.Debugf("Built %v schedule of %v entries from %v to %v sat/vB "+
		"(multiplier %v)", params.Policy, len(entries), startRate,
		last, multiplier)

	return entries, nil
}
