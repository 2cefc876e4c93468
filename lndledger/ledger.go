package lndledger

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
)

// Ledger implements the swap ledger and chain monitor on top of an lnd node.
type Ledger struct {
	lnd *lndclient.LndServices
}

var (
	_ ledger.Ledger       = (*Ledger)(nil)
	_ ledger.ChainMonitor = (*Ledger)(nil)
)

// New returns a ledger backed by the lnd services.
func New(lnd *lndclient.LndServices) *Ledger {
	return &Ledger{
		lnd: lnd,
	}
}

// DeriveNextKey derives the next key of a family.
func (l *Ledger) DeriveNextKey(ctx context.Context,
	family int32) (*keychain.KeyDescriptor, error) {

	desc, err := l.lnd.WalletKit.DeriveNextKey(ctx, family)

	return desc, wrap("DeriveNextKey", err)
}

// DeriveKey derives the key at a locator.
func (l *Ledger) DeriveKey(ctx context.Context,
	locator *keychain.KeyLocator) (*keychain.KeyDescriptor, error) {

	desc, err := l.lnd.WalletKit.DeriveKey(ctx, locator)

	return desc, wrap("DeriveKey", err)
}

// DeriveSharedKey returns the ECDH secret of the node identity key and a
// public key.
func (l *Ledger) DeriveSharedKey(ctx context.Context,
	pubKey *btcec.PublicKey) ([32]byte, error) {

	secret, err := l.lnd.Signer.DeriveSharedKey(ctx, pubKey, nil)

	return secret, wrap("DeriveSharedKey", err)
}

// NodePubKey returns the node identity key.
func (l *Ledger) NodePubKey(_ context.Context) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(l.lnd.NodePubkey[:])
}

// SignTapscript signs the first input of a transaction spending a tapscript
// leaf.
func (l *Ledger) SignTapscript(ctx context.Context,
	req *ledger.TapscriptSignRequest) ([]byte, error) {

	signDesc := &lndclient.SignDescriptor{
		KeyDesc: keychain.KeyDescriptor{
			KeyLocator: req.KeyLocator,
		},
		WitnessScript: req.LeafScript,
		Output:        req.PrevOut,
		HashType:      txscript.SigHashDefault,
		InputIndex:    0,
		SignMethod:    input.TaprootScriptSpendSignMethod,
	}

	sigs, err := l.lnd.Signer.SignOutputRaw(
		ctx, req.Tx, []*lndclient.SignDescriptor{signDesc},
		[]*wire.TxOut{req.PrevOut},
	)
	if err != nil {
		return nil, ledger.NewBackendError(
			ledger.CodeSigningFailed, "SignOutputRaw", err,
		)
	}

	if len(sigs) != 1 {
		return nil, ledger.NewBackendError(
			ledger.CodeSigningFailed, "SignOutputRaw",
			fmt.Errorf("expected 1 signature, got %v", len(sigs)),
		)
	}

	return sigs[0], nil
}
