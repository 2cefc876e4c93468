package swapmsg

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// drawPubKey draws a valid public key.
func drawPubKey(t *rapid.T, label string) *btcec.PublicKey {
	b := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, label)

	// A leading 0x01 keeps the scalar non-zero and below the group order.
	b[0] = 0x01
	_, pubKey := btcec.PrivKeyFromBytes(b)

	return pubKey
}

// draw32 draws a fixed 32 byte array.
func draw32(t *rapid.T, label string) [32]byte {
	var out [32]byte
	copy(out[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, label))

	return out
}

func drawTokens(t *rapid.T, label string) btcutil.Amount {
	return btcutil.Amount(
		rapid.Int64Range(0, int64(swap.MaxTokens)).Draw(t, label),
	)
}

func drawSecrets(t *rapid.T) *EncryptedSecrets {
	secrets := &EncryptedSecrets{
		CipherText: rapid.SliceOfN(rapid.Byte(), 1, 200).Draw(
			t, "ciphertext",
		),
	}
	copy(secrets.Tag[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(
		t, "tag",
	))

	return secrets
}

func drawResponse(t *rapid.T) *Response {
	resp := &Response{
		CoopPrivKeyHash: draw32(t, "coop_priv_key_hash"),
		CoopPubKey:      drawPubKey(t, "coop_pubkey"),
		DepositNonce:    draw32(t, "deposit_nonce"),
		DepositMilliTokens: lnwire.MilliSatoshi(rapid.Uint64Range(
			0, uint64(swap.MaxMilliTokens),
		).Draw(t, "deposit_mtokens")),
		PushNonce:        draw32(t, "push_nonce"),
		RefundSoloPubKey: drawPubKey(t, "refund_pubkey"),
		FundingRequest: rapid.StringMatching(`lnbcrt[a-z0-9]{1,80}`).Draw(
			t, "funding_request",
		),
		Timeout: rapid.Int32Range(1, 1<<31-1).Draw(t, "timeout"),
	}

	if rapid.Bool().Draw(t, "inbound_peer") {
		vertex := route.NewVertex(drawPubKey(t, "inbound_peer_key"))
		resp.InboundPeer = &vertex
	}

	return resp
}

// assertStable asserts that a decoded message encodes to the same bytes.
func assertStable(t *rapid.T, encoded []byte, reencode func() ([]byte,
	error)) {

	again, err := reencode()
	if err != nil {
		t.Fatalf("unable to re-encode: %v", err)
	}

	if !bytes.Equal(encoded, again) {
		t.Fatalf("encoding not stable: %x != %x", encoded, again)
	}
}

// TestRoundTrip tests that every message decodes to the value it was encoded
// from.
func TestRoundTrip(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			req := &Request{
				Hash:                draw32(t, "hash"),
				ClaimSoloPubKey:     drawPubKey(t, "solo"),
				ClaimCoopPubKeyHash: draw32(t, "coop_hash"),
				Tokens:              drawTokens(t, "tokens"),
			}

			b, err := req.Bytes()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded, err := DecodeRequest(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if decoded.Hash != req.Hash ||
				decoded.Tokens != req.Tokens ||
				decoded.ClaimCoopPubKeyHash !=
					req.ClaimCoopPubKeyHash ||
				!decoded.ClaimSoloPubKey.IsEqual(
					req.ClaimSoloPubKey,
				) {

				t.Fatalf("mismatch: %v != %v", decoded, req)
			}

			assertStable(t, b, decoded.Bytes)
		})
	})

	t.Run("response", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			resp := drawResponse(t)

			b, err := resp.Bytes()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded, err := DecodeResponse(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if decoded.DepositMilliTokens !=
				resp.DepositMilliTokens ||
				decoded.Timeout != resp.Timeout ||
				decoded.FundingRequest != resp.FundingRequest ||
				decoded.PushNonce != resp.PushNonce ||
				decoded.DepositNonce != resp.DepositNonce ||
				(decoded.InboundPeer == nil) !=
					(resp.InboundPeer == nil) {

				t.Fatalf("mismatch: %v != %v", decoded, resp)
			}

			if resp.InboundPeer != nil &&
				*decoded.InboundPeer != *resp.InboundPeer {

				t.Fatalf("inbound peer mismatch")
			}

			assertStable(t, b, decoded.Bytes)
		})
	})

	t.Run("claim recovery", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			rec := &ClaimRecovery{
				Hash:    draw32(t, "hash"),
				Secrets: drawSecrets(t),
				Tokens:  drawTokens(t, "tokens"),
			}

			b, err := rec.Bytes()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded, err := DecodeClaimRecovery(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if decoded.Hash != rec.Hash ||
				decoded.Tokens != rec.Tokens ||
				decoded.Secrets.Tag != rec.Secrets.Tag ||
				!bytes.Equal(
					decoded.Secrets.CipherText,
					rec.Secrets.CipherText,
				) {

				t.Fatalf("mismatch: %v != %v", decoded, rec)
			}

			assertStable(t, b, decoded.Bytes)
		})
	})

	t.Run("refund recovery", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			rec := &RefundRecovery{
				ClaimCoopPubKeyHash: draw32(t, "coop_hash"),
				ClaimSoloPubKey:     drawPubKey(t, "solo"),
				Hash:                draw32(t, "hash"),
				Secrets:             drawSecrets(t),
				RefundCoopPrivKeyHash: draw32(
					t, "coop_priv_hash",
				),
				Timeout: rapid.Int32Range(1, 1<<31-1).Draw(
					t, "timeout",
				),
				Tokens: drawTokens(t, "tokens"),
			}

			b, err := rec.Bytes()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded, err := DecodeRefundRecovery(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if decoded.Hash != rec.Hash ||
				decoded.Timeout != rec.Timeout ||
				decoded.Tokens != rec.Tokens ||
				decoded.RefundCoopPrivKeyHash !=
					rec.RefundCoopPrivKeyHash ||
				!decoded.ClaimSoloPubKey.IsEqual(
					rec.ClaimSoloPubKey,
				) {

				t.Fatalf("mismatch: %v != %v", decoded, rec)
			}

			assertStable(t, b, decoded.Bytes)
		})
	})
}

// testRequest returns a valid request.
func testRequest(t *testing.T) *Request {
	_, pubKey := btcec.PrivKeyFromBytes([]byte{1, 2, 3})

	return &Request{
		Hash:                lntypes.Hash{1},
		ClaimSoloPubKey:     pubKey,
		ClaimCoopPubKeyHash: [32]byte{2},
		Tokens:              100_000,
	}
}

// encodeRecords encodes raw records for malformed message tests.
func encodeRecords(t *testing.T, records ...tlv.Record) []byte {
	b, err := encodeStream(records...)
	require.NoError(t, err)

	return b
}

// TestTokenBound tests that tokens above the supply bound are rejected in
// both directions.
func TestTokenBound(t *testing.T) {
	req := testRequest(t)
	req.Tokens = swap.MaxTokens + 1

	_, err := req.Bytes()
	require.ErrorIs(t, err, ErrTokensOutOfBounds)

	req.Tokens = swap.MaxTokens
	_, err = req.Bytes()
	require.NoError(t, err)

	var (
		hash        = make([]byte, 32)
		soloKey     = req.ClaimSoloPubKey.SerializeCompressed()
		coopKeyHash = make([]byte, 32)
		tokens      = uint64(swap.MaxTokens) + 1
	)

	b := encodeRecords(
		t,
		tlv.MakePrimitiveRecord(requestHashType, &hash),
		tlv.MakePrimitiveRecord(requestClaimSoloPubKeyType, &soloKey),
		tlv.MakePrimitiveRecord(
			requestClaimCoopPubKeyHashType, &coopKeyHash,
		),
		tlv.MakeBigSizeRecord(requestTokensType, &tokens),
	)

	_, err = DecodeRequest(b)
	require.ErrorIs(t, err, ErrTokensOutOfBounds)

	resp := drawFixedResponse(t)
	resp.DepositMilliTokens = swap.MaxMilliTokens + 1
	_, err = resp.Bytes()
	require.ErrorIs(t, err, ErrTokensOutOfBounds)
}

// drawFixedResponse returns a valid response.
func drawFixedResponse(t *testing.T) *Response {
	_, coopKey := btcec.PrivKeyFromBytes([]byte{4})
	_, refundKey := btcec.PrivKeyFromBytes([]byte{5})

	return &Response{
		CoopPrivKeyHash:    lntypes.Hash{3},
		CoopPubKey:         coopKey,
		DepositNonce:       [32]byte{6},
		DepositMilliTokens: 1000,
		PushNonce:          [32]byte{7},
		RefundSoloPubKey:   refundKey,
		FundingRequest:     "lnbcrt1funding",
		Timeout:            500,
	}
}

// TestMalformedFields tests rejection of malformed keys and hashes and of
// missing fields.
func TestMalformedFields(t *testing.T) {
	req := testRequest(t)

	var (
		hash        = req.Hash[:]
		soloKey     = req.ClaimSoloPubKey.SerializeCompressed()
		coopKeyHash = req.ClaimCoopPubKeyHash[:]
		tokens      = uint64(req.Tokens)
	)

	encode := func(hash, soloKey, coopKeyHash []byte) []byte {
		return encodeRecords(
			t,
			tlv.MakePrimitiveRecord(requestHashType, &hash),
			tlv.MakePrimitiveRecord(
				requestClaimSoloPubKeyType, &soloKey,
			),
			tlv.MakePrimitiveRecord(
				requestClaimCoopPubKeyHashType, &coopKeyHash,
			),
			tlv.MakeBigSizeRecord(requestTokensType, &tokens),
		)
	}

	_, err := DecodeRequest(encode(hash, soloKey, coopKeyHash))
	require.NoError(t, err)

	// Uncompressed prefix.
	badKey := append([]byte{0x04}, soloKey[1:]...)
	_, err = DecodeRequest(encode(hash, badKey, coopKeyHash))
	require.ErrorIs(t, err, ErrInvalidPubKey)

	// Short key.
	_, err = DecodeRequest(encode(hash, soloKey[:32], coopKeyHash))
	require.ErrorIs(t, err, ErrInvalidPubKey)

	// Short hash.
	_, err = DecodeRequest(encode(hash[:31], soloKey, coopKeyHash))
	require.ErrorIs(t, err, ErrInvalidHashLength)

	// Missing tokens.
	b := encodeRecords(
		t,
		tlv.MakePrimitiveRecord(requestHashType, &hash),
		tlv.MakePrimitiveRecord(requestClaimSoloPubKeyType, &soloKey),
		tlv.MakePrimitiveRecord(
			requestClaimCoopPubKeyHashType, &coopKeyHash,
		),
	)
	_, err = DecodeRequest(b)
	require.ErrorIs(t, err, ErrMissingField)

	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "tokens", missing.Field)
}

// TestUnknownFieldsTolerated tests that records beyond the known table are
// skipped.
func TestUnknownFieldsTolerated(t *testing.T) {
	req := testRequest(t)

	var (
		hash        = req.Hash[:]
		soloKey     = req.ClaimSoloPubKey.SerializeCompressed()
		coopKeyHash = req.ClaimCoopPubKeyHash[:]
		tokens      = uint64(req.Tokens)
		extraEven   = []byte{1, 2}
		extraOdd    = []byte{3}
	)

	b := encodeRecords(
		t,
		tlv.MakePrimitiveRecord(requestHashType, &hash),
		tlv.MakePrimitiveRecord(requestClaimSoloPubKeyType, &soloKey),
		tlv.MakePrimitiveRecord(
			requestClaimCoopPubKeyHashType, &coopKeyHash,
		),
		tlv.MakeBigSizeRecord(requestTokensType, &tokens),
		tlv.MakePrimitiveRecord(10, &extraEven),
		tlv.MakePrimitiveRecord(11, &extraOdd),
	)

	decoded, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, req.Tokens, decoded.Tokens)
}

// TestResponseVersion tests that any explicit version record is rejected,
// including version zero.
func TestResponseVersion(t *testing.T) {
	resp := drawFixedResponse(t)

	b, err := resp.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeResponse(b)
	require.NoError(t, err)
	require.Zero(t, decoded.Version)
	require.Nil(t, decoded.InboundPeer)

	for _, version := range []byte{0, 1} {
		version := []byte{version}
		extra := encodeRecords(
			t, tlv.MakePrimitiveRecord(responseVersionType, &version),
		)

		_, err := DecodeResponse(append(append([]byte{}, b...),
			extra...))
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	}

	resp.Version = 1
	_, err = resp.Bytes()
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

// TestEncryptedSecretsTag tests that a tag of the wrong length is rejected.
func TestEncryptedSecretsTag(t *testing.T) {
	var (
		cipherText = []byte{1, 2, 3}
		tag        = make([]byte, 15)
	)

	nested := encodeRecords(
		t,
		tlv.MakePrimitiveRecord(secretsCipherTextType, &cipherText),
		tlv.MakePrimitiveRecord(secretsTagType, &tag),
	)

	var (
		hash   = make([]byte, 32)
		tokens = uint64(1)
	)
	b := encodeRecords(
		t,
		tlv.MakePrimitiveRecord(claimHashType, &hash),
		tlv.MakePrimitiveRecord(claimSecretsType, &nested),
		tlv.MakeBigSizeRecord(claimTokensType, &tokens),
	)

	_, err := DecodeClaimRecovery(b)
	require.ErrorIs(t, err, ErrInvalidTag)
}

// TestDecodeAnyHex tests that hex blobs are decoded to their message type.
func TestDecodeAnyHex(t *testing.T) {
	reqHex, err := EncodeHex(testRequest(t))
	require.NoError(t, err)

	msg, err := DecodeAnyHex(reqHex)
	require.NoError(t, err)
	require.IsType(t, &Request{}, msg)

	respHex, err := EncodeHex(drawFixedResponse(t))
	require.NoError(t, err)

	msg, err = DecodeAnyHex(" " + respHex + "\n")
	require.NoError(t, err)
	require.IsType(t, &Response{}, msg)

	_, err = DecodeAnyHex("zz")
	require.Error(t, err)
}
