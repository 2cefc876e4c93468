package vault

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	coopPrivKeyType tlv.Type = 0
	keyIndexType    tlv.Type = 1
	soloPrivKeyType tlv.Type = 2
	claimSecretType tlv.Type = 3
)

var (
	// ErrConflictingSoloKey is returned when both a key index and an
	// external solo key are present.
	ErrConflictingSoloKey = errors.New("key index and solo private key " +
		"are mutually exclusive")

	// ErrMissingSoloKey is returned when neither a key index nor an
	// external solo key is present.
	ErrMissingSoloKey = errors.New("solo key index or private key required")

	// ErrMissingCoopKey is returned when the plaintext lacks the
	// cooperative private key.
	ErrMissingCoopKey = errors.New("cooperative private key required")

	// ErrInvalidSecret is returned when a secret field is malformed.
	ErrInvalidSecret = errors.New("invalid secret")
)

// Secrets are the private values a swap participant needs to complete or
// recover a swap.
type Secrets struct {
	// CoopPrivKey is the cooperative private key fragment.
	CoopPrivKey *btcec.PrivateKey

	// KeyIndex is the index of the solo key in the swap key family when
	// the solo key is derived by the ledger.
	KeyIndex *uint32

	// SoloPrivKey is an external solo private key.
	SoloPrivKey *btcec.PrivateKey

	// ClaimSecret is the preimage of the swap hash. Only the requester
	// holds it.
	ClaimSecret *lntypes.Preimage
}

// validate checks the solo key exclusivity rules.
func (s *Secrets) validate() error {
	if s.CoopPrivKey == nil {
		return ErrMissingCoopKey
	}

	switch {
	case s.KeyIndex != nil && s.SoloPrivKey != nil:
		return ErrConflictingSoloKey

	case s.KeyIndex == nil && s.SoloPrivKey == nil:
		return ErrMissingSoloKey
	}

	return nil
}

// encode serializes the secrets as a TLV stream.
func (s *Secrets) encode() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	coopKey := s.CoopPrivKey.Serialize()
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(coopPrivKeyType, &coopKey),
	}

	if s.KeyIndex != nil {
		keyIndex := *s.KeyIndex
		records = append(
			records, tlv.MakeBigSizeRecord(keyIndexType, &keyIndex),
		)
	}

	if s.SoloPrivKey != nil {
		soloKey := s.SoloPrivKey.Serialize()
		records = append(
			records, tlv.MakePrimitiveRecord(soloPrivKeyType, &soloKey),
		)
	}

	if s.ClaimSecret != nil {
		secret := [32]byte(*s.ClaimSecret)
		records = append(
			records, tlv.MakePrimitiveRecord(claimSecretType, &secret),
		)
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeSecrets parses a plaintext TLV stream.
func decodeSecrets(plaintext []byte) (*Secrets, error) {
	var (
		coopKey, soloKey, secret []byte
		keyIndex                 uint32
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(coopPrivKeyType, &coopKey),
		tlv.MakeBigSizeRecord(keyIndexType, &keyIndex),
		tlv.MakePrimitiveRecord(soloPrivKeyType, &soloKey),
		tlv.MakePrimitiveRecord(claimSecretType, &secret),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	has := func(typ tlv.Type) bool {
		val, ok := parsed[typ]
		return ok && val == nil
	}

	secrets := &Secrets{}

	if !has(coopPrivKeyType) {
		return nil, ErrMissingCoopKey
	}
	secrets.CoopPrivKey, err = swap.ParsePrivKey(coopKey)
	if err != nil {
		return nil, fmt.Errorf("%w: coop key: %v", ErrInvalidSecret,
			err)
	}

	if has(keyIndexType) {
		secrets.KeyIndex = &keyIndex
	}

	if has(soloPrivKeyType) {
		secrets.SoloPrivKey, err = swap.ParsePrivKey(soloKey)
		if err != nil {
			return nil, fmt.Errorf("%w: solo key: %v",
				ErrInvalidSecret, err)
		}
	}

	if has(claimSecretType) {
		preimage, err := lntypes.MakePreimage(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: claim secret: %v",
				ErrInvalidSecret, err)
		}
		secrets.ClaimSecret = &preimage
	}

	if err := secrets.validate(); err != nil {
		return nil, err
	}

	return secrets, nil
}
