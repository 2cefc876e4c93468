package swap

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrSecretMismatch is returned when a revealed secret does not hash
	// to the swap hash.
	ErrSecretMismatch = errors.New("secret does not match swap hash")

	// ErrNotClaimWitness is returned when a secret is requested from a
	// witness that does not spend the claim leaf.
	ErrNotClaimWitness = errors.New("witness is not a claim path spend")
)

const (
	// schnorrSigSize is the size of a schnorr signature using the default
	// sighash type.
	schnorrSigSize = 64
)

// SpendPath identifies how the swap output was spent.
type SpendPath uint8

const (
	// SpendPathUnknown is returned for witnesses that do not match any
	// of the swap output's spend paths.
	SpendPathUnknown SpendPath = iota

	// SpendPathCooperative is a key path spend with the joint key.
	SpendPathCooperative

	// SpendPathRefund is a script path spend through the refund leaf.
	SpendPathRefund

	// SpendPathClaim is a script path spend through the claim leaf that
	// reveals the swap secret.
	SpendPathClaim
)

func (p SpendPath) String() string {
	switch p {
	case SpendPathCooperative:
		return "Cooperative"

	case SpendPathRefund:
		return "Refund"

	case SpendPathClaim:
		return "Claim"

	default:
		return "Unknown"
	}
}

// SwapScript is the taproot output that anchors a swap. Its internal key is
// the joint cooperative key and its tree holds a claim leaf and a refund leaf.
type SwapScript struct {
	// Hash is the swap hash committed to in the claim leaf.
	Hash lntypes.Hash

	// Timeout is the absolute height after which the refund leaf becomes
	// spendable.
	Timeout int32

	// ClaimKey is the requester's solo key used in the claim leaf.
	ClaimKey *btcec.PublicKey

	// RefundKey is the responder's solo key used in the refund leaf.
	RefundKey *btcec.PublicKey

	// InternalKey is the joint cooperative public key.
	InternalKey *btcec.PublicKey

	// TaprootKey is the tweaked output key.
	TaprootKey *btcec.PublicKey

	// ClaimScript is the claim leaf script.
	ClaimScript []byte

	// RefundScript is the refund leaf script.
	RefundScript []byte

	// RootHash is the merkle root of the script tree.
	RootHash chainhash.Hash

	// PkScript is the output script of the swap output.
	PkScript []byte

	// Address is the taproot address of the swap output.
	Address btcutil.Address
}

// NewSwapScript derives the swap output from the solo keys of both sides, the
// joint cooperative key, the swap hash and the timeout height.
func NewSwapScript(hash lntypes.Hash, timeout int32, claimKey,
	refundKey, jointKey *btcec.PublicKey,
	params *chaincfg.Params) (*SwapScript, error) {

	if claimKey == nil || refundKey == nil || jointKey == nil {
		return nil, errors.New("swap script requires all keys")
	}

	if timeout <= 0 {
		return nil, fmt.Errorf("invalid swap timeout %v", timeout)
	}

	var schnorrClaimKey, schnorrRefundKey [32]byte
	copy(schnorrClaimKey[:], schnorr.SerializePubKey(claimKey))
	copy(schnorrRefundKey[:], schnorr.SerializePubKey(refundKey))

	claimScript, err := GenClaimPathScript(schnorrClaimKey, hash)
	if err != nil {
		return nil, err
	}

	refundScript, err := GenRefundPathScript(
		schnorrRefundKey, int64(timeout),
	)
	if err != nil {
		return nil, err
	}

	tree := txscript.AssembleTaprootScriptTree(
		txscript.NewBaseTapLeaf(claimScript),
		txscript.NewBaseTapLeaf(refundScript),
	)
	rootHash := tree.RootNode.TapHash()

	taprootKey := txscript.ComputeTaprootOutputKey(jointKey, rootHash[:])

	address, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(taprootKey), params,
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, err
	}

	return &SwapScript{
		Hash:         hash,
		Timeout:      timeout,
		ClaimKey:     claimKey,
		RefundKey:    refundKey,
		InternalKey:  jointKey,
		TaprootKey:   taprootKey,
		ClaimScript:  claimScript,
		RefundScript: refundScript,
		RootHash:     rootHash,
		PkScript:     pkScript,
		Address:      address,
	}, nil
}

// GenClaimPathScript constructs the claim leaf.
//
//	<claimKey> OP_CHECKSIGVERIFY
//	OP_SIZE 32 OP_EQUALVERIFY
//	OP_SHA256 <swapHash> OP_EQUAL
func GenClaimPathScript(claimKey [32]byte,
	swapHash lntypes.Hash) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddData(claimKey[:])
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(swapHash[:])
	builder.AddOp(txscript.OP_EQUAL)

	return builder.Script()
}

// GenRefundPathScript constructs the refund leaf.
//
//	<refundKey> OP_CHECKSIGVERIFY <timeout> OP_CHECKLOCKTIMEVERIFY
func GenRefundPathScript(refundKey [32]byte, timeout int64) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	builder.AddData(refundKey[:])
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	builder.AddInt64(timeout)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)

	return builder.Script()
}

// ClaimLeaf returns the tap leaf of the claim script.
func (s *SwapScript) ClaimLeaf() txscript.TapLeaf {
	return txscript.NewBaseTapLeaf(s.ClaimScript)
}

// RefundLeaf returns the tap leaf of the refund script.
func (s *SwapScript) RefundLeaf() txscript.TapLeaf {
	return txscript.NewBaseTapLeaf(s.RefundScript)
}

// controlBlock returns the control block revealing one leaf. The inclusion
// proof of a leaf in a two leaf tree is the hash of its sibling.
func (s *SwapScript) controlBlock(sibling []byte) *txscript.ControlBlock {
	var outputKeyYIsOdd bool
	if s.TaprootKey.SerializeCompressed()[0] ==
		secp.PubKeyFormatCompressedOdd {

		outputKeyYIsOdd = true
	}

	proof := txscript.NewBaseTapLeaf(sibling).TapHash()

	return &txscript.ControlBlock{
		InternalKey:     s.InternalKey,
		OutputKeyYIsOdd: outputKeyYIsOdd,
		LeafVersion:     txscript.BaseLeafVersion,
		InclusionProof:  proof[:],
	}
}

// ClaimWitness returns the witness spending the claim leaf.
func (s *SwapScript) ClaimWitness(sig []byte,
	secret lntypes.Preimage) (wire.TxWitness, error) {

	if secret.Hash() != s.Hash {
		return nil, ErrSecretMismatch
	}

	controlBlock, err := s.controlBlock(s.RefundScript).ToBytes()
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		secret[:],
		sig,
		s.ClaimScript,
		controlBlock,
	}, nil
}

// RefundWitness returns the witness spending the refund leaf.
func (s *SwapScript) RefundWitness(sig []byte) (wire.TxWitness, error) {
	controlBlock, err := s.controlBlock(s.ClaimScript).ToBytes()
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		sig,
		s.RefundScript,
		controlBlock,
	}, nil
}

// KeySpendWitness returns the witness of a cooperative key path spend.
func KeySpendWitness(sig []byte) wire.TxWitness {
	return wire.TxWitness{sig}
}

// tapscript returns the partial reveal of one leaf used for weight
// estimation.
func (s *SwapScript) tapscript(revealed, sibling []byte) *waddrmgr.Tapscript {
	return &waddrmgr.Tapscript{
		Type:           waddrmgr.TapscriptTypePartialReveal,
		ControlBlock:   s.controlBlock(sibling),
		RevealedScript: revealed,
	}
}

// AddClaimToEstimator adds a claim path input to the weight estimator.
func (s *SwapScript) AddClaimToEstimator(estimator *input.TxWeightEstimator) {
	// The leaf witness holds the secret and the signature, each with a
	// length prefix.
	leafWitnessSize := lntypes.WeightUnit(1 + 32 + 1 + schnorrSigSize)

	estimator.AddTapscriptInput(
		leafWitnessSize, s.tapscript(s.ClaimScript, s.RefundScript),
	)
}

// AddRefundToEstimator adds a refund path input to the weight estimator.
func (s *SwapScript) AddRefundToEstimator(
	estimator *input.TxWeightEstimator) {

	leafWitnessSize := lntypes.WeightUnit(1 + schnorrSigSize)

	estimator.AddTapscriptInput(
		leafWitnessSize, s.tapscript(s.RefundScript, s.ClaimScript),
	)
}

// AddCooperativeToEstimator adds a key path input to the weight estimator.
func (s *SwapScript) AddCooperativeToEstimator(
	estimator *input.TxWeightEstimator) {

	estimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
}

// ClassifyWitness determines the spend path from the shape of a witness
// spending the swap output.
func ClassifyWitness(witness wire.TxWitness) SpendPath {
	switch len(witness) {
	case 1:
		return SpendPathCooperative

	case 3:
		return SpendPathRefund

	case 4:
		return SpendPathClaim

	default:
		return SpendPathUnknown
	}
}

// ExtractSecret returns the secret revealed by a claim path witness.
func ExtractSecret(witness wire.TxWitness,
	hash lntypes.Hash) (lntypes.Preimage, error) {

	if ClassifyWitness(witness) != SpendPathClaim {
		return lntypes.Preimage{}, ErrNotClaimWitness
	}

	secret, err := lntypes.MakePreimage(witness[0])
	if err != nil {
		return lntypes.Preimage{}, err
	}

	if secret.Hash() != hash {
		return lntypes.Preimage{}, ErrSecretMismatch
	}

	return secret, nil
}

// PrevOutFetcher returns a previous output fetcher for a transaction
// spending the swap output.
func (s *SwapScript) PrevOutFetcher(
	value btcutil.Amount) txscript.PrevOutputFetcher {

	return txscript.NewCannedPrevOutputFetcher(s.PkScript, int64(value))
}
