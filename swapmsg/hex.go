package swapmsg

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoder is implemented by every swap message.
type Encoder interface {
	Bytes() ([]byte, error)
}

// EncodeHex returns the hex encoding of a swap message.
func EncodeHex(msg Encoder) (string, error) {
	b, err := msg.Bytes()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// decodeHexString strips whitespace and decodes a hex blob.
func decodeHexString(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	return b, nil
}

// DecodeRequestHex decodes a hex encoded request.
func DecodeRequestHex(s string) (*Request, error) {
	b, err := decodeHexString(s)
	if err != nil {
		return nil, err
	}

	return DecodeRequest(b)
}

// DecodeResponseHex decodes a hex encoded response.
func DecodeResponseHex(s string) (*Response, error) {
	b, err := decodeHexString(s)
	if err != nil {
		return nil, err
	}

	return DecodeResponse(b)
}

// DecodeClaimRecoveryHex decodes a hex encoded claim recovery.
func DecodeClaimRecoveryHex(s string) (*ClaimRecovery, error) {
	b, err := decodeHexString(s)
	if err != nil {
		return nil, err
	}

	return DecodeClaimRecovery(b)
}

// DecodeRefundRecoveryHex decodes a hex encoded refund recovery.
func DecodeRefundRecoveryHex(s string) (*RefundRecovery, error) {
	b, err := decodeHexString(s)
	if err != nil {
		return nil, err
	}

	return DecodeRefundRecovery(b)
}

// DecodeAnyHex tries every message type in turn and returns the first that
// decodes.
func DecodeAnyHex(s string) (interface{}, error) {
	b, err := decodeHexString(s)
	if err != nil {
		return nil, err
	}

	// Most constrained first.
	if resp, err := DecodeResponse(b); err == nil {
		return resp, nil
	}
	if rec, err := DecodeRefundRecovery(b); err == nil {
		return rec, nil
	}
	if req, err := DecodeRequest(b); err == nil {
		return req, nil
	}
	if rec, err := DecodeClaimRecovery(b); err == nil {
		return rec, nil
	}

	log.Debugf("Unable to decode %v byte swap message", len(b))

	return nil, fmt.Errorf("unrecognized swap message")
}
