package p2pswap

import (
	"context"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/sweep"
	"github.com/lightningnetwork/lnd/keychain"
)

// ledgerSigner signs leaf spends with a solo key held by the ledger.
type ledgerSigner struct {
	keys    ledger.Keys
	locator keychain.KeyLocator
}

var _ sweep.LeafSigner = (*ledgerSigner)(nil)

// SignLeaf asks the ledger to sign the first input of the transaction.
func (l *ledgerSigner) SignLeaf(ctx context.Context, tx *wire.MsgTx,
	prevOut *wire.TxOut, leaf txscript.TapLeaf) ([]byte, error) {

	sig, err := l.keys.SignTapscript(ctx, &ledger.TapscriptSignRequest{
		Tx:         tx,
		PrevOut:    prevOut,
		KeyLocator: l.locator,
		LeafScript: leaf.Script,
	})
	if err != nil {
		return nil, ledger.NewBackendError(
			ledger.CodeSigningFailed, "SignTapscript", err,
		)
	}

	return sig, nil
}
