package swapmsg

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	responseCoopPrivKeyHashType  tlv.Type = 0
	responseCoopPubKeyType       tlv.Type = 1
	responseDepositType          tlv.Type = 2
	responseInboundPeerType      tlv.Type = 3
	responsePushNonceType        tlv.Type = 4
	responseRefundSoloPubKeyType tlv.Type = 5
	responseFundingRequestType   tlv.Type = 6
	responseTimeoutType          tlv.Type = 7
	responseVersionType          tlv.Type = 8
)

// Response is sent by the responder after accepting a swap request.
type Response struct {
	// CoopPrivKeyHash locks the deposit payment. Its preimage is the
	// responder's cooperative private key fragment.
	CoopPrivKeyHash lntypes.Hash

	// CoopPubKey is the responder's cooperative public key fragment.
	CoopPubKey *btcec.PublicKey

	// DepositNonce is the payment address of the deposit invoice.
	DepositNonce [32]byte

	// DepositMilliTokens is the amount of the deposit payment.
	DepositMilliTokens lnwire.MilliSatoshi

	// InboundPeer optionally constrains the last hop of the requester's
	// payments.
	InboundPeer *route.Vertex

	// PushNonce is the payment address of the push invoice. Its sha256 is
	// the push payment hash.
	PushNonce [32]byte

	// RefundSoloPubKey is the responder's key in the refund leaf.
	RefundSoloPubKey *btcec.PublicKey

	// FundingRequest is the BOLT11 request paying for the swap output.
	FundingRequest string

	// Timeout is the height at which the refund leaf unlocks.
	Timeout int32

	// Version is the wire version. Only version 0 is supported, which is
	// signalled by omitting the record.
	Version uint8
}

// PushHash returns the payment hash of the push invoice.
func (r *Response) PushHash() lntypes.Hash {
	nonce := lntypes.Preimage(r.PushNonce)

	return nonce.Hash()
}

// encodeDeposit serializes the deposit nonce followed by the BigSize
// millitokens.
func encodeDeposit(nonce [32]byte, mtokens lnwire.MilliSatoshi) ([]byte,
	error) {

	var (
		b   bytes.Buffer
		buf [8]byte
	)
	b.Write(nonce[:])
	if err := tlv.WriteVarInt(&b, uint64(mtokens), &buf); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeDeposit parses the deposit record.
func decodeDeposit(v []byte) ([32]byte, lnwire.MilliSatoshi, error) {
	var (
		nonce [32]byte
		buf   [8]byte
	)

	if len(v) < hashLen+1 {
		return nonce, 0, fmt.Errorf("%w: deposit record has %v bytes",
			ErrInvalidNonceLength, len(v))
	}

	copy(nonce[:], v[:hashLen])

	r := bytes.NewReader(v[hashLen:])
	mtokens, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nonce, 0, fmt.Errorf("invalid deposit amount: %w", err)
	}

	if r.Len() != 0 {
		return nonce, 0, fmt.Errorf("deposit record has %v trailing "+
			"bytes", r.Len())
	}

	amt, err := checkMilliTokens("deposit", mtokens)

	return nonce, amt, err
}

// Encode writes the response as a TLV stream.
func (r *Response) Encode(w io.Writer) error {
	if r.Version != 0 {
		return fmt.Errorf("%w: %v", ErrUnsupportedVersion, r.Version)
	}

	coopKey, err := serializePubKey("coop pubkey", r.CoopPubKey)
	if err != nil {
		return err
	}

	refundKey, err := serializePubKey(
		"refund solo pubkey", r.RefundSoloPubKey,
	)
	if err != nil {
		return err
	}

	if r.FundingRequest == "" {
		return fmt.Errorf("%w: funding request", ErrEmptyField)
	}

	if r.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if err := checkMilliTokensValue(r.DepositMilliTokens); err != nil {
		return err
	}

	deposit, err := encodeDeposit(r.DepositNonce, r.DepositMilliTokens)
	if err != nil {
		return err
	}

	var (
		coopPrivKeyHash = r.CoopPrivKeyHash[:]
		pushNonce       = r.PushNonce[:]
		fundingRequest  = []byte(r.FundingRequest)
		timeout         = uint32(r.Timeout)
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(
			responseCoopPrivKeyHashType, &coopPrivKeyHash,
		),
		tlv.MakePrimitiveRecord(responseCoopPubKeyType, &coopKey),
		tlv.MakePrimitiveRecord(responseDepositType, &deposit),
	}

	if r.InboundPeer != nil {
		inboundPeer := r.InboundPeer[:]
		records = append(records, tlv.MakePrimitiveRecord(
			responseInboundPeerType, &inboundPeer,
		))
	}

	records = append(records,
		tlv.MakePrimitiveRecord(responsePushNonceType, &pushNonce),
		tlv.MakePrimitiveRecord(
			responseRefundSoloPubKeyType, &refundKey,
		),
		tlv.MakePrimitiveRecord(
			responseFundingRequestType, &fundingRequest,
		),
		tlv.MakePrimitiveRecord(responseTimeoutType, &timeout),
	)

	b, err := encodeStream(records...)
	if err != nil {
		return err
	}

	_, err = w.Write(b)

	return err
}

// checkMilliTokensValue validates a millitokens value before encoding.
func checkMilliTokensValue(mtokens lnwire.MilliSatoshi) error {
	_, err := checkMilliTokens("deposit", uint64(mtokens))
	return err
}

// Decode reads a response from a TLV stream.
func (r *Response) Decode(reader io.Reader) error {
	var (
		coopPrivKeyHash, coopKey, deposit, inboundPeer []byte
		pushNonce, refundKey, fundingRequest, version  []byte
		timeout                                        uint32
	)

	parsed, err := decodeStream(
		reader,
		tlv.MakePrimitiveRecord(
			responseCoopPrivKeyHashType, &coopPrivKeyHash,
		),
		tlv.MakePrimitiveRecord(responseCoopPubKeyType, &coopKey),
		tlv.MakePrimitiveRecord(responseDepositType, &deposit),
		tlv.MakePrimitiveRecord(responseInboundPeerType, &inboundPeer),
		tlv.MakePrimitiveRecord(responsePushNonceType, &pushNonce),
		tlv.MakePrimitiveRecord(
			responseRefundSoloPubKeyType, &refundKey,
		),
		tlv.MakePrimitiveRecord(
			responseFundingRequestType, &fundingRequest,
		),
		tlv.MakePrimitiveRecord(responseTimeoutType, &timeout),
		tlv.MakePrimitiveRecord(responseVersionType, &version),
	)
	if err != nil {
		return err
	}

	// Any explicit version signals a version newer than ours.
	if present(parsed, responseVersionType) {
		return fmt.Errorf("%w: %x", ErrUnsupportedVersion, version)
	}

	err = requireFields(
		parsed,
		field{responseCoopPrivKeyHashType, "coop priv key hash"},
		field{responseCoopPubKeyType, "coop pubkey"},
		field{responseDepositType, "deposit"},
		field{responsePushNonceType, "push nonce"},
		field{responseRefundSoloPubKeyType, "refund solo pubkey"},
		field{responseFundingRequestType, "funding request"},
		field{responseTimeoutType, "timeout"},
	)
	if err != nil {
		return err
	}

	r.CoopPrivKeyHash, err = parseHash(
		"coop priv key hash", coopPrivKeyHash,
	)
	if err != nil {
		return err
	}

	if r.CoopPubKey, err = parsePubKey("coop pubkey", coopKey); err != nil {
		return err
	}

	r.DepositNonce, r.DepositMilliTokens, err = decodeDeposit(deposit)
	if err != nil {
		return err
	}

	r.InboundPeer = nil
	if present(parsed, responseInboundPeerType) {
		peerKey, err := parsePubKey("inbound peer", inboundPeer)
		if err != nil {
			return err
		}

		vertex := route.NewVertex(peerKey)
		r.InboundPeer = &vertex
	}

	if len(pushNonce) != hashLen {
		return fmt.Errorf("%w: push nonce has %v bytes",
			ErrInvalidNonceLength, len(pushNonce))
	}
	copy(r.PushNonce[:], pushNonce)

	r.RefundSoloPubKey, err = parsePubKey("refund solo pubkey", refundKey)
	if err != nil {
		return err
	}

	if len(fundingRequest) == 0 {
		return fmt.Errorf("%w: funding request", ErrEmptyField)
	}
	r.FundingRequest = string(fundingRequest)

	if timeout == 0 || timeout > uint32(1<<31-1) {
		return fmt.Errorf("%w: %v", ErrInvalidTimeout, timeout)
	}
	r.Timeout = int32(timeout)
	r.Version = 0

	return nil
}

// Bytes returns the encoded response.
func (r *Response) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := r.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeResponse decodes a response from its encoding.
func DecodeResponse(b []byte) (*Response, error) {
	r := &Response{}
	if err := r.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return r, nil
}
