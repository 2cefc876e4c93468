package swap

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// KeyFamily is the key family used to derive the solo keys of the
	// claim and refund leaves.
	KeyFamily = int32(805)

	// ErrJointKeyMismatch is returned when a locally derived joint key
	// does not match the key the swap was set up with.
	ErrJointKeyMismatch = errors.New("joint key mismatch")

	// ErrInvalidKeyFragment is returned when a cooperative key fragment is
	// not a valid scalar.
	ErrInvalidKeyFragment = errors.New("invalid cooperative key fragment")
)

// CombinePublicKeys returns the point addition of two cooperative public key
// fragments.
func CombinePublicKeys(a, b *btcec.PublicKey) (*btcec.PublicKey, error) {
	var pointA, pointB, sum secp.JacobianPoint
	a.AsJacobian(&pointA)
	b.AsJacobian(&pointB)

	secp.AddNonConst(&pointA, &pointB, &sum)

	// The fragments cancel out if one is the negation of the other.
	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, ErrInvalidKeyFragment
	}

	sum.ToAffine()

	return btcec.NewPublicKey(&sum.X, &sum.Y), nil
}

// CombinePrivateKeys adds two cooperative private key fragments.
func CombinePrivateKeys(a, b *btcec.PrivateKey) (*btcec.PrivateKey, error) {
	var sum secp.ModNScalar
	sum.Set(&a.Key)
	sum.Add(&b.Key)

	if sum.IsZero() {
		return nil, ErrInvalidKeyFragment
	}

	return secp.NewPrivateKey(&sum), nil
}

// VerifyJointKey checks that the joint private key corresponds to the joint
// public key the swap output was derived from.
func VerifyJointKey(jointPrivKey *btcec.PrivateKey,
	jointPubKey *btcec.PublicKey) error {

	if !jointPrivKey.PubKey().IsEqual(jointPubKey) {
		return ErrJointKeyMismatch
	}

	return nil
}

// HashPubKey returns the sha256 of a compressed public key.
func HashPubKey(pubKey *btcec.PublicKey) [32]byte {
	return sha256.Sum256(pubKey.SerializeCompressed())
}

// KeyPreimage returns a private key fragment as a preimage. Settling an
// invoice with it discloses the fragment to the payer.
func KeyPreimage(privKey *btcec.PrivateKey) lntypes.Preimage {
	var preimage lntypes.Preimage
	copy(preimage[:], privKey.Serialize())

	return preimage
}

// KeyHash returns the payment hash that locks a private key fragment.
func KeyHash(privKey *btcec.PrivateKey) lntypes.Hash {
	preimage := KeyPreimage(privKey)

	return preimage.Hash()
}

// KeyFromPreimage parses a private key fragment disclosed as a preimage.
func KeyFromPreimage(preimage lntypes.Preimage) (*btcec.PrivateKey, error) {
	privKey, _ := btcec.PrivKeyFromBytes(preimage[:])

	// Values that overflow the group order are reduced by the parser,
	// reject them instead.
	if privKey.Key.IsZero() ||
		!bytes.Equal(privKey.Serialize(), preimage[:]) {

		return nil, ErrInvalidKeyFragment
	}

	return privKey, nil
}

// ParsePrivKey parses a 32 byte private key.
func ParsePrivKey(b []byte) (*btcec.PrivateKey, error) {
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, ErrInvalidKeyFragment
	}

	var preimage lntypes.Preimage
	copy(preimage[:], b)

	return KeyFromPreimage(preimage)
}
