package swap

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// genPrivKey draws a valid private key.
func genPrivKey(t *rapid.T, label string) *btcec.PrivateKey {
	keyBytes := rapid.SliceOfN(rapid.Byte(), 32, 32).Filter(
		func(b []byte) bool {
			_, err := ParsePrivKey(b)
			return err == nil
		},
	).Draw(t, label)

	privKey, err := ParsePrivKey(keyBytes)
	if err != nil {
		t.Fatalf("unable to parse key: %v", err)
	}

	return privKey
}

// TestJointKeyProperties asserts that the joint public key of two fragments
// is the public key of the joint private key, and that flipping any bit in a
// fragment breaks the match.
func TestJointKeyProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genPrivKey(t, "a")
		b := genPrivKey(t, "b")

		jointPub, err := CombinePublicKeys(a.PubKey(), b.PubKey())
		if err != nil {
			t.Skip("fragments cancel out")
		}

		jointPriv, err := CombinePrivateKeys(a, b)
		if err != nil {
			t.Fatalf("unable to combine: %v", err)
		}

		if err := VerifyJointKey(jointPriv, jointPub); err != nil {
			t.Fatalf("joint key mismatch: %v", err)
		}

		bit := rapid.IntRange(0, 255).Draw(t, "bit")
		flipped := a.Serialize()
		flipped[bit/8] ^= 1 << (bit % 8)

		flippedKey, err := ParsePrivKey(flipped)
		if err != nil {
			// The flip left the scalar range, which is a mismatch
			// as well.
			return
		}

		flippedJoint, err := CombinePrivateKeys(flippedKey, b)
		if err != nil {
			return
		}

		err = VerifyJointKey(flippedJoint, jointPub)
		if err != ErrJointKeyMismatch {
			t.Fatalf("expected mismatch after flipping bit %v, "+
				"got %v", bit, err)
		}
	})
}

// TestKeyPreimage tests disclosing a key fragment as a preimage.
func TestKeyPreimage(t *testing.T) {
	privKey := testKey(9)

	preimage := KeyPreimage(privKey)
	require.Equal(t, KeyHash(privKey), preimage.Hash())

	parsed, err := KeyFromPreimage(preimage)
	require.NoError(t, err)
	require.True(t, parsed.PubKey().IsEqual(privKey.PubKey()))

	_, err = KeyFromPreimage(lntypes.Preimage{})
	require.ErrorIs(t, err, ErrInvalidKeyFragment)

	// The group order itself is not a valid scalar.
	var overflow lntypes.Preimage
	copy(overflow[:], btcec.S256().N.Bytes())
	_, err = KeyFromPreimage(overflow)
	require.ErrorIs(t, err, ErrInvalidKeyFragment)

	_, err = ParsePrivKey([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidKeyFragment)
}

// TestCombineNegatedKeys tests that fragments cancelling each other out are
// rejected.
func TestCombineNegatedKeys(t *testing.T) {
	a := testKey(5)

	var negated btcec.ModNScalar
	negated.Set(&a.Key)
	negated.Negate()
	b := btcec.PrivKeyFromScalar(&negated)

	_, err := CombinePrivateKeys(a, b)
	require.ErrorIs(t, err, ErrInvalidKeyFragment)

	_, err = CombinePublicKeys(a.PubKey(), b.PubKey())
	require.ErrorIs(t, err, ErrInvalidKeyFragment)
}
