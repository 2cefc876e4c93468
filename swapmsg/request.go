package swapmsg

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	requestHashType                tlv.Type = 0
	requestClaimSoloPubKeyType     tlv.Type = 1
	requestClaimCoopPubKeyHashType tlv.Type = 2
	requestTokensType              tlv.Type = 3
)

// Request is sent by the requester to start an off-chain to on-chain swap.
type Request struct {
	// Hash is the swap hash, the sha256 of the requester's secret.
	Hash lntypes.Hash

	// ClaimSoloPubKey is the requester's key in the claim leaf.
	ClaimSoloPubKey *btcec.PublicKey

	// ClaimCoopPubKeyHash commits to the requester's cooperative public
	// key fragment, which is only disclosed with the deposit payment.
	ClaimCoopPubKeyHash [32]byte

	// Tokens is the value of the swap output.
	Tokens btcutil.Amount
}

// Encode writes the request as a TLV stream.
func (r *Request) Encode(w io.Writer) error {
	soloKey, err := serializePubKey("claim solo pubkey", r.ClaimSoloPubKey)
	if err != nil {
		return err
	}

	tokens, err := tokensValue("tokens", r.Tokens)
	if err != nil {
		return err
	}

	hash := r.Hash[:]
	coopKeyHash := r.ClaimCoopPubKeyHash[:]

	b, err := encodeStream(
		tlv.MakePrimitiveRecord(requestHashType, &hash),
		tlv.MakePrimitiveRecord(requestClaimSoloPubKeyType, &soloKey),
		tlv.MakePrimitiveRecord(
			requestClaimCoopPubKeyHashType, &coopKeyHash,
		),
		tlv.MakeBigSizeRecord(requestTokensType, &tokens),
	)
	if err != nil {
		return err
	}

	_, err = w.Write(b)

	return err
}

// Decode reads a request from a TLV stream.
func (r *Request) Decode(reader io.Reader) error {
	var (
		hash, soloKey, coopKeyHash []byte
		tokens                     uint64
	)

	parsed, err := decodeStream(
		reader,
		tlv.MakePrimitiveRecord(requestHashType, &hash),
		tlv.MakePrimitiveRecord(requestClaimSoloPubKeyType, &soloKey),
		tlv.MakePrimitiveRecord(
			requestClaimCoopPubKeyHashType, &coopKeyHash,
		),
		tlv.MakeBigSizeRecord(requestTokensType, &tokens),
	)
	if err != nil {
		return err
	}

	err = requireFields(
		parsed,
		field{requestHashType, "hash"},
		field{requestClaimSoloPubKeyType, "claim solo pubkey"},
		field{requestClaimCoopPubKeyHashType, "claim coop pubkey hash"},
		field{requestTokensType, "tokens"},
	)
	if err != nil {
		return err
	}

	if r.Hash, err = parseHash("hash", hash); err != nil {
		return err
	}

	r.ClaimSoloPubKey, err = parsePubKey("claim solo pubkey", soloKey)
	if err != nil {
		return err
	}

	r.ClaimCoopPubKeyHash, err = parseHash(
		"claim coop pubkey hash", coopKeyHash,
	)
	if err != nil {
		return err
	}

	r.Tokens, err = checkTokens("tokens", tokens)

	return err
}

// Bytes returns the encoded request.
func (r *Request) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := r.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeRequest decodes a request from its encoding.
func DecodeRequest(b []byte) (*Request, error) {
	r := &Request{}
	if err := r.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return r, nil
}
