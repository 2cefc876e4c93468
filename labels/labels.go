// Package labels builds the wallet labels of swap transactions.
package labels

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// MaxLength is the longest label the wallet accepts.
	MaxLength = 500

	// Reserved starts every label we produce. Operator labels may not
	// start with it so that swap transactions can be told apart in the
	// wallet.
	Reserved = "p2pswap --"
)

var (
	// ErrLabelTooLong is returned for labels over MaxLength.
	ErrLabelTooLong = errors.New("label exceeds maximum length")

	// ErrReservedPrefix is returned for operator labels that start with
	// the prefix of swap labels.
	ErrReservedPrefix = errors.New("label contains reserved prefix")
)

// Validate checks an operator label.
func Validate(label string) error {
	switch {
	case len(label) > MaxLength:
		return ErrLabelTooLong

	case strings.HasPrefix(label, Reserved):
		return ErrReservedPrefix
	}

	return nil
}

func swapLabel(kind string, hash lntypes.Hash) string {
	return fmt.Sprintf("%s %s(swap=%s)", Reserved, kind, hash)
}

// Funding returns the label of the transaction paying to the swap output.
func Funding(hash lntypes.Hash) string {
	return swapLabel("Funding", hash)
}

// Refund returns the label of a refund sweep.
func Refund(hash lntypes.Hash) string {
	return swapLabel("Refund", hash)
}

// Sweep returns the label of a requester sweep taking the given path.
func Sweep(hash lntypes.Hash, path swap.SpendPath) string {
	return swapLabel("Claim"+path.String(), hash)
}

// WithUser appends an operator label to a swap label, cut to MaxLength.
func WithUser(label, user string) string {
	if user == "" {
		return label
	}

	label += " " + user
	if len(label) > MaxLength {
		label = label[:MaxLength]
	}

	return label
}
