package swapmsg

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	secretsCipherTextType tlv.Type = 0
	secretsTagType        tlv.Type = 1

	claimHashType    tlv.Type = 0
	claimSecretsType tlv.Type = 1
	claimTokensType  tlv.Type = 2

	refundClaimCoopPubKeyHashType   tlv.Type = 0
	refundClaimSoloPubKeyType       tlv.Type = 1
	refundHashType                  tlv.Type = 2
	refundSecretsType               tlv.Type = 3
	refundRefundCoopPrivKeyHashType tlv.Type = 4
	refundTimeoutType               tlv.Type = 5
	refundTokensType                tlv.Type = 6
)

// EncryptedSecrets is an AES-GCM sealed bundle of private key fragments.
type EncryptedSecrets struct {
	// CipherText is the encrypted plaintext stream.
	CipherText []byte

	// Tag is the authentication tag.
	Tag [16]byte
}

// encode returns the nested TLV encoding of the bundle.
func (e *EncryptedSecrets) encode() ([]byte, error) {
	if len(e.CipherText) == 0 {
		return nil, fmt.Errorf("%w: ciphertext", ErrEmptyField)
	}

	cipherText := e.CipherText
	tag := e.Tag[:]

	return encodeStream(
		tlv.MakePrimitiveRecord(secretsCipherTextType, &cipherText),
		tlv.MakePrimitiveRecord(secretsTagType, &tag),
	)
}

// decodeEncryptedSecrets parses the nested TLV encoding of a bundle.
func decodeEncryptedSecrets(b []byte) (*EncryptedSecrets, error) {
	var cipherText, tag []byte

	parsed, err := decodeStream(
		bytes.NewReader(b),
		tlv.MakePrimitiveRecord(secretsCipherTextType, &cipherText),
		tlv.MakePrimitiveRecord(secretsTagType, &tag),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted secrets: %w", err)
	}

	err = requireFields(
		parsed,
		field{secretsCipherTextType, "ciphertext"},
		field{secretsTagType, "tag"},
	)
	if err != nil {
		return nil, err
	}

	if len(cipherText) == 0 {
		return nil, fmt.Errorf("%w: ciphertext", ErrEmptyField)
	}

	if len(tag) != tagLen {
		return nil, fmt.Errorf("%w: got %v bytes", ErrInvalidTag,
			len(tag))
	}

	secrets := &EncryptedSecrets{CipherText: cipherText}
	copy(secrets.Tag[:], tag)

	return secrets, nil
}

// ClaimRecovery is the requester's persisted state.
type ClaimRecovery struct {
	// Hash is the swap hash.
	Hash lntypes.Hash

	// Secrets are the sealed key fragments and the claim secret.
	Secrets *EncryptedSecrets

	// Tokens is the value of the swap output.
	Tokens btcutil.Amount
}

// Encode writes the recovery as a TLV stream.
func (c *ClaimRecovery) Encode(w io.Writer) error {
	if c.Secrets == nil {
		return &MissingFieldError{Field: "encrypted secrets"}
	}

	secrets, err := c.Secrets.encode()
	if err != nil {
		return err
	}

	tokens, err := tokensValue("tokens", c.Tokens)
	if err != nil {
		return err
	}

	hash := c.Hash[:]

	b, err := encodeStream(
		tlv.MakePrimitiveRecord(claimHashType, &hash),
		tlv.MakePrimitiveRecord(claimSecretsType, &secrets),
		tlv.MakeBigSizeRecord(claimTokensType, &tokens),
	)
	if err != nil {
		return err
	}

	_, err = w.Write(b)

	return err
}

// Decode reads a recovery from a TLV stream.
func (c *ClaimRecovery) Decode(r io.Reader) error {
	var (
		hash, secrets []byte
		tokens        uint64
	)

	parsed, err := decodeStream(
		r,
		tlv.MakePrimitiveRecord(claimHashType, &hash),
		tlv.MakePrimitiveRecord(claimSecretsType, &secrets),
		tlv.MakeBigSizeRecord(claimTokensType, &tokens),
	)
	if err != nil {
		return err
	}

	err = requireFields(
		parsed,
		field{claimHashType, "hash"},
		field{claimSecretsType, "encrypted secrets"},
		field{claimTokensType, "tokens"},
	)
	if err != nil {
		return err
	}

	if c.Hash, err = parseHash("hash", hash); err != nil {
		return err
	}

	if c.Secrets, err = decodeEncryptedSecrets(secrets); err != nil {
		return err
	}

	c.Tokens, err = checkTokens("tokens", tokens)

	return err
}

// Bytes returns the encoded recovery.
func (c *ClaimRecovery) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeClaimRecovery decodes a claim side recovery.
func DecodeClaimRecovery(b []byte) (*ClaimRecovery, error) {
	c := &ClaimRecovery{}
	if err := c.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return c, nil
}

// RefundRecovery is the responder's persisted state.
type RefundRecovery struct {
	// ClaimCoopPubKeyHash is the requester's cooperative key commitment.
	ClaimCoopPubKeyHash [32]byte

	// ClaimSoloPubKey is the requester's key in the claim leaf.
	ClaimSoloPubKey *btcec.PublicKey

	// Hash is the swap hash.
	Hash lntypes.Hash

	// Secrets are the sealed key fragments.
	Secrets *EncryptedSecrets

	// RefundCoopPrivKeyHash is the hash of the responder's cooperative
	// private key fragment.
	RefundCoopPrivKeyHash lntypes.Hash

	// Timeout is the swap timeout height.
	Timeout int32

	// Tokens is the value of the swap output.
	Tokens btcutil.Amount
}

// Encode writes the recovery as a TLV stream.
func (c *RefundRecovery) Encode(w io.Writer) error {
	if c.Secrets == nil {
		return &MissingFieldError{Field: "encrypted secrets"}
	}

	secrets, err := c.Secrets.encode()
	if err != nil {
		return err
	}

	soloKey, err := serializePubKey("claim solo pubkey", c.ClaimSoloPubKey)
	if err != nil {
		return err
	}

	tokens, err := tokensValue("tokens", c.Tokens)
	if err != nil {
		return err
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	var (
		coopKeyHash     = c.ClaimCoopPubKeyHash[:]
		hash            = c.Hash[:]
		coopPrivKeyHash = c.RefundCoopPrivKeyHash[:]
		timeout         = uint32(c.Timeout)
	)

	b, err := encodeStream(
		tlv.MakePrimitiveRecord(
			refundClaimCoopPubKeyHashType, &coopKeyHash,
		),
		tlv.MakePrimitiveRecord(refundClaimSoloPubKeyType, &soloKey),
		tlv.MakePrimitiveRecord(refundHashType, &hash),
		tlv.MakePrimitiveRecord(refundSecretsType, &secrets),
		tlv.MakePrimitiveRecord(
			refundRefundCoopPrivKeyHashType, &coopPrivKeyHash,
		),
		tlv.MakePrimitiveRecord(refundTimeoutType, &timeout),
		tlv.MakeBigSizeRecord(refundTokensType, &tokens),
	)
	if err != nil {
		return err
	}

	_, err = w.Write(b)

	return err
}

// Decode reads a recovery from a TLV stream.
func (c *RefundRecovery) Decode(r io.Reader) error {
	var (
		coopKeyHash, soloKey, hash []byte
		secrets, coopPrivKeyHash   []byte
		timeout                    uint32
		tokens                     uint64
	)

	parsed, err := decodeStream(
		r,
		tlv.MakePrimitiveRecord(
			refundClaimCoopPubKeyHashType, &coopKeyHash,
		),
		tlv.MakePrimitiveRecord(refundClaimSoloPubKeyType, &soloKey),
		tlv.MakePrimitiveRecord(refundHashType, &hash),
		tlv.MakePrimitiveRecord(refundSecretsType, &secrets),
		tlv.MakePrimitiveRecord(
			refundRefundCoopPrivKeyHashType, &coopPrivKeyHash,
		),
		tlv.MakePrimitiveRecord(refundTimeoutType, &timeout),
		tlv.MakeBigSizeRecord(refundTokensType, &tokens),
	)
	if err != nil {
		return err
	}

	err = requireFields(
		parsed,
		field{refundClaimCoopPubKeyHashType, "claim coop pubkey hash"},
		field{refundClaimSoloPubKeyType, "claim solo pubkey"},
		field{refundHashType, "hash"},
		field{refundSecretsType, "encrypted secrets"},
		field{refundRefundCoopPrivKeyHashType,
			"refund coop priv key hash"},
		field{refundTimeoutType, "timeout"},
		field{refundTokensType, "tokens"},
	)
	if err != nil {
		return err
	}

	c.ClaimCoopPubKeyHash, err = parseHash(
		"claim coop pubkey hash", coopKeyHash,
	)
	if err != nil {
		return err
	}

	c.ClaimSoloPubKey, err = parsePubKey("claim solo pubkey", soloKey)
	if err != nil {
		return err
	}

	if c.Hash, err = parseHash("hash", hash); err != nil {
		return err
	}

	if c.Secrets, err = decodeEncryptedSecrets(secrets); err != nil {
		return err
	}

	c.RefundCoopPrivKeyHash, err = parseHash(
		"refund coop priv key hash", coopPrivKeyHash,
	)
	if err != nil {
		return err
	}

	if timeout == 0 || timeout > uint32(1<<31-1) {
		return fmt.Errorf("%w: %v", ErrInvalidTimeout, timeout)
	}
	c.Timeout = int32(timeout)

	c.Tokens, err = checkTokens("tokens", tokens)

	return err
}

// Bytes returns the encoded recovery.
func (c *RefundRecovery) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeRefundRecovery decodes a refund side recovery.
func DecodeRefundRecovery(b []byte) (*RefundRecovery, error) {
	c := &RefundRecovery{}
	if err := c.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return c, nil
}
