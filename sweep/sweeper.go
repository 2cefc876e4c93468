package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/utils"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// sweepSequence signals replaceability and keeps the lock time
	// enforced.
	sweepSequence = wire.MaxTxInSequenceNum - 2
)

var (
	// ErrDustSweep is returned when no schedule entry leaves a sweep
	// output above the dust limit.
	ErrDustSweep = errors.New("swap output too small to sweep")

	// ErrPastDeadline is returned when a claim sweep is requested at or
	// after the claim deadline.
	ErrPastDeadline = errors.New("claim sweep at or past deadline")

	// ErrBeforeTimeout is returned when a refund sweep is requested below
	// the swap timeout.
	ErrBeforeTimeout = errors.New("refund sweep before swap timeout")
)

// LeafSigner produces a schnorr signature for the swap input of a sweep
// spending one of the script leaves.
type LeafSigner interface {
	SignLeaf(ctx context.Context, tx *wire.MsgTx, prevOut *wire.TxOut,
		leaf txscript.TapLeaf) ([]byte, error)
}

// LocalLeafSigner signs leaf spends with a private key held in memory.
type LocalLeafSigner struct {
	PrivKey *btcec.PrivateKey
}

// SignLeaf signs the first input of the transaction.
func (l *LocalLeafSigner) SignLeaf(_ context.Context, tx *wire.MsgTx,
	prevOut *wire.TxOut, leaf txscript.TapLeaf) ([]byte, error) {

	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevOut.PkScript, prevOut.Value,
	)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	return txscript.RawTxInTapscriptSignature(
		tx, sigHashes, 0, prevOut.Value, prevOut.PkScript, leaf,
		txscript.SigHashDefault, l.PrivKey,
	)
}

// Sweep is a signed transaction spending the swap output, valid from its
// height on.
type Sweep struct {
	// Height is the lock time of the transaction.
	Height int32

	// FeeRate is the scheduled fee rate.
	FeeRate chainfee.SatPerVByte

	// Fee is the absolute fee paid.
	Fee btcutil.Amount

	// Path is the spend path of the swap output.
	Path swap.SpendPath

	// Tx is the signed transaction.
	Tx *wire.MsgTx
}

// Sweeper builds sweeps of a single swap output.
type Sweeper struct {
	// Script is the swap output script.
	Script *swap.SwapScript

	// OutPoint is the swap output.
	OutPoint wire.OutPoint

	// Value is the value of the swap output.
	Value btcutil.Amount

	// DestAddr receives the swept funds.
	DestAddr btcutil.Address
}

// prevOut returns the swap output being spent.
func (s *Sweeper) prevOut() *wire.TxOut {
	return &wire.TxOut{
		PkScript: s.Script.PkScript,
		Value:    int64(s.Value),
	}
}

// build constructs one unsigned transaction per schedule entry. Entries whose
// output would fall below dust are skipped, and once the fee cap of the policy
// is reached no further entries are built.
func (s *Sweeper) build(schedule []ScheduleEntry, policy Policy,
	addInput func(*input.TxWeightEstimator),
	path swap.SpendPath) ([]*Sweep, error) {

	destScript, err := payToAddr(s.DestAddr)
	if err != nil {
		return nil, err
	}

	var estimator input.TxWeightEstimator
	if err := addOutput(&estimator, s.DestAddr); err != nil {
		return nil, err
	}
	addInput(&estimator)
	weight := estimator.Weight()

	dustLimit := utils.DustLimitForPkScript(destScript)

	var sweeps []*Sweep
	for _, entry := range schedule {
		fee := entry.FeeRate.FeePerKWeight().FeeForWeight(weight)
		fee, _, capped := utils.CapSweepFee(
			fee, s.Value, policy.MaxShare, weight,
		)

		if s.Value-fee < dustLimit {
			continue
		}

		tx := wire.NewMsgTx(2)
		tx.LockTime = uint32(entry.Height)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: s.OutPoint,
			Sequence:         sweepSequence,
		})
		tx.AddTxOut(&wire.TxOut{
			PkScript: destScript,
			Value:    int64(s.Value - fee),
		})

		sweeps = append(sweeps, &Sweep{
			Height:  entry.Height,
			FeeRate: entry.FeeRate,
			Fee:     fee,
			Path:    path,
			Tx:      tx,
		})

		if capped {
			break
		}
	}

	if len(sweeps) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrDustSweep, s.Value)
	}

	return sweeps, nil
}

// ClaimSweeps builds signed claim path sweeps for every schedule entry. All
// entries must be below the deadline.
func (s *Sweeper) ClaimSweeps(ctx context.Context, schedule []ScheduleEntry,
	deadline int32, secret lntypes.Preimage,
	signer LeafSigner) ([]*Sweep, error) {

	for _, entry := range schedule {
		if entry.Height >= deadline {
			return nil, fmt.Errorf("%w: height %v, deadline %v",
				ErrPastDeadline, entry.Height, deadline)
		}
	}

	if secret.Hash() != s.Script.Hash {
		return nil, swap.ErrSecretMismatch
	}

	sweeps, err := s.build(
		schedule, ClaimPolicy, s.Script.AddClaimToEstimator,
		swap.SpendPathClaim,
	)
	if err != nil {
		return nil, err
	}

	for _, sweep := range sweeps {
		sig, err := signer.SignLeaf(
			ctx, sweep.Tx, s.prevOut(), s.Script.ClaimLeaf(),
		)
		if err != nil {
			return nil, fmt.Errorf("sign claim: %w", err)
		}

		sweep.Tx.TxIn[0].Witness, err = s.Script.ClaimWitness(
			sig, secret,
		)
		if err != nil {
			return nil, err
		}
	}

	return sweeps, nil
}

// RefundSweeps builds signed refund path sweeps for every schedule entry. All
// entries must be at or above the swap timeout.
func (s *Sweeper) RefundSweeps(ctx context.Context, schedule []ScheduleEntry,
	signer LeafSigner) ([]*Sweep, error) {

	for _, entry := range schedule {
		if entry.Height < s.Script.Timeout {
			return nil, fmt.Errorf("%w: height %v, timeout %v",
				ErrBeforeTimeout, entry.Height, s.Script.Timeout)
		}
	}

	sweeps, err := s.build(
		schedule, RefundPolicy, s.Script.AddRefundToEstimator,
		swap.SpendPathRefund,
	)
	if err != nil {
		return nil, err
	}

	for _, sweep := range sweeps {
		sig, err := signer.SignLeaf(
			ctx, sweep.Tx, s.prevOut(), s.Script.RefundLeaf(),
		)
		if err != nil {
			return nil, fmt.Errorf("sign refund: %w", err)
		}

		sweep.Tx.TxIn[0].Witness, err = s.Script.RefundWitness(sig)
		if err != nil {
			return nil, err
		}
	}

	return sweeps, nil
}

// CooperativeSweeps builds key path sweeps for every schedule entry, signed
// with the joint private key.
func (s *Sweeper) CooperativeSweeps(schedule []ScheduleEntry,
	jointPrivKey *btcec.PrivateKey) ([]*Sweep, error) {

	if err := swap.VerifyJointKey(
		jointPrivKey, s.Script.InternalKey,
	); err != nil {
		return nil, err
	}

	sweeps, err := s.build(
		schedule, CooperativePolicy, s.Script.AddCooperativeToEstimator,
		swap.SpendPathCooperative,
	)
	if err != nil {
		return nil, err
	}

	prevOut := s.prevOut()
	for _, sweep := range sweeps {
		sigHashes := txscript.NewTxSigHashes(
			sweep.Tx, s.Script.PrevOutFetcher(s.Value),
		)

		sig, err := txscript.RawTxInTaprootSignature(
			sweep.Tx, sigHashes, 0, prevOut.Value, prevOut.PkScript,
			s.Script.RootHash[:], txscript.SigHashDefault,
			jointPrivKey,
		)
		if err != nil {
			return nil, fmt.Errorf("sign cooperative: %w", err)
		}

		sweep.Tx.TxIn[0].Witness = swap.KeySpendWitness(sig)
	}

	return sweeps, nil
}

// BestSweep returns the sweep with the highest height at or below the given
// height, or nil if none is valid yet.
func BestSweep(sweeps []*Sweep, height int32) *Sweep {
	var best *Sweep
	for _, sweep := range sweeps {
		if sweep.Height > height {
			continue
		}

		if best == nil || sweep.Height > best.Height {
			best = sweep
		}
	}

	return best
}

// payToAddr returns the output script of an address.
func payToAddr(addr btcutil.Address) ([]byte, error) {
	if addr == nil {
		return nil, errors.New("sweep destination required")
	}

	return txscript.PayToAddrScript(addr)
}

// addOutput adds the output of the address type to the estimator.
func addOutput(weightEstimate *input.TxWeightEstimator,
	addr btcutil.Address) error {

	switch addr.(type) {
	case *btcutil.AddressTaproot:
		weightEstimate.AddP2TROutput()

	case *btcutil.AddressWitnessScriptHash:
		weightEstimate.AddP2WSHOutput()

	case *btcutil.AddressWitnessPubKeyHash:
		weightEstimate.AddP2WKHOutput()

	case *btcutil.AddressScriptHash:
		weightEstimate.AddP2SHOutput()

	case *btcutil.AddressPubKeyHash:
		weightEstimate.AddP2PKHOutput()

	default:
		return fmt.Errorf("unknown address type %T", addr)
	}

	return nil
}
