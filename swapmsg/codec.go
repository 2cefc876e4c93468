package swapmsg

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidPubKey is returned when a public key field is not a
	// valid 33 byte compressed key.
	ErrInvalidPubKey = errors.New("invalid compressed public key")

	// ErrInvalidHashLength is returned when a hash or key hash field is
	// not exactly 32 bytes.
	ErrInvalidHashLength = errors.New("hash must be 32 bytes")

	// ErrInvalidNonceLength is returned when a payment nonce is not 32
	// bytes.
	ErrInvalidNonceLength = errors.New("payment nonce must be 32 bytes")

	// ErrTokensOutOfBounds is returned when a tokens or millitokens field
	// exceeds the supply bound.
	ErrTokensOutOfBounds = errors.New("tokens out of bounds")

	// ErrUnsupportedVersion is returned when a message carries an
	// explicit version record.
	ErrUnsupportedVersion = errors.New("unsupported swap message version")

	// ErrInvalidTag is returned when the authentication tag of encrypted
	// secrets is not 16 bytes.
	ErrInvalidTag = errors.New("authentication tag must be 16 bytes")

	// ErrInvalidTimeout is returned for a zero timeout height.
	ErrInvalidTimeout = errors.New("invalid timeout height")

	// ErrEmptyField is returned when a variable length field that must
	// carry data is empty.
	ErrEmptyField = errors.New("empty field")
)

const (
	// hashLen is the length of hashes, key hashes and nonces.
	hashLen = 32

	// tagLen is the length of an AES-GCM authentication tag.
	tagLen = 16
)

// MissingFieldError names the required field that was absent.
type MissingFieldError struct {
	Field string
}

// Error returns the error string.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMissingField, e.Field)
}

// Unwrap returns the sentinel error.
func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// field describes a required record of a message.
type field struct {
	typ  tlv.Type
	name string
}

// encodeStream encodes the records into a byte slice.
func encodeStream(records ...tlv.Record) ([]byte, error) {
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

// decodeStream decodes the reader into the records and returns the set of
// types that were present.
func decodeStream(r io.Reader, records ...tlv.Record) (tlv.TypeMap, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	return stream.DecodeWithParsedTypes(r)
}

// requireFields asserts that all given fields were present in a decoded
// stream.
func requireFields(parsed tlv.TypeMap, fields ...field) error {
	for _, f := range fields {
		if _, ok := parsed[f.typ]; !ok {
			return &MissingFieldError{Field: f.name}
		}
	}

	return nil
}

// present returns true if the type was decoded as a known record.
func present(parsed tlv.TypeMap, typ tlv.Type) bool {
	val, ok := parsed[typ]
	return ok && val == nil
}

// parsePubKey parses a 33 byte compressed public key.
func parsePubKey(name string, b []byte) (*btcec.PublicKey, error) {
	if len(b) != secp.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("%w: %v has %v bytes", ErrInvalidPubKey,
			name, len(b))
	}

	if b[0] != secp.PubKeyFormatCompressedEven &&
		b[0] != secp.PubKeyFormatCompressedOdd {

		return nil, fmt.Errorf("%w: %v has prefix %x",
			ErrInvalidPubKey, name, b[0])
	}

	pubKey, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrInvalidPubKey, name,
			err)
	}

	return pubKey, nil
}

// serializePubKey returns the compressed encoding of a key, failing on nil.
func serializePubKey(name string, pubKey *btcec.PublicKey) ([]byte, error) {
	if pubKey == nil {
		return nil, &MissingFieldError{Field: name}
	}

	return pubKey.SerializeCompressed(), nil
}

// parseHash parses a 32 byte hash.
func parseHash(name string, b []byte) ([hashLen]byte, error) {
	var hash [hashLen]byte
	if len(b) != hashLen {
		return hash, fmt.Errorf("%w: %v has %v bytes",
			ErrInvalidHashLength, name, len(b))
	}

	copy(hash[:], b)

	return hash, nil
}

// checkTokens validates a decoded tokens value.
func checkTokens(name string, v uint64) (btcutil.Amount, error) {
	if v > uint64(swap.MaxTokens) {
		return 0, fmt.Errorf("%w: %v is %v", ErrTokensOutOfBounds,
			name, v)
	}

	return btcutil.Amount(v), nil
}

// tokensValue validates a tokens value before encoding.
func tokensValue(name string, tokens btcutil.Amount) (uint64, error) {
	if err := swap.CheckTokens(tokens); err != nil {
		return 0, fmt.Errorf("%w: %v: %v", ErrTokensOutOfBounds, name,
			err)
	}

	return uint64(tokens), nil
}

// checkMilliTokens validates a decoded millitokens value.
func checkMilliTokens(name string, v uint64) (lnwire.MilliSatoshi, error) {
	if v > uint64(swap.MaxMilliTokens) {
		return 0, fmt.Errorf("%w: %v is %v", ErrTokensOutOfBounds,
			name, v)
	}

	return lnwire.MilliSatoshi(v), nil
}
