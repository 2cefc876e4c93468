package lndledger

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/chainntnfs"
)

// RegisterBlockEpochNtfn streams new block heights, starting with the
// current height.
func (l *Ledger) RegisterBlockEpochNtfn(ctx context.Context) (<-chan int32,
	<-chan error, error) {

	blockChan, errChan, err := l.lnd.ChainNotifier.RegisterBlockEpochNtfn(
		ctx,
	)
	if err != nil {
		return nil, nil, wrap("RegisterBlockEpochNtfn", err)
	}

	return blockChan, errChan, nil
}

// RegisterConfirmationsNtfn notifies of a transaction paying the script. A
// nil txid matches any transaction.
func (l *Ledger) RegisterConfirmationsNtfn(ctx context.Context,
	txid *chainhash.Hash, pkScript []byte, numConfs, heightHint int32) (
	<-chan *chainntnfs.TxConfirmation, <-chan error, error) {

	confChan, errChan, err := l.lnd.ChainNotifier.RegisterConfirmationsNtfn(
		ctx, txid, pkScript, numConfs, heightHint,
	)
	if err != nil {
		return nil, nil, wrap("RegisterConfirmationsNtfn", err)
	}

	return confChan, errChan, nil
}

// RegisterSpendNtfn notifies of the confirmed spend of an outpoint.
func (l *Ledger) RegisterSpendNtfn(ctx context.Context,
	outpoint *wire.OutPoint, pkScript []byte, heightHint int32) (
	<-chan *chainntnfs.SpendDetail, <-chan error, error) {

	spendChan, errChan, err := l.lnd.ChainNotifier.RegisterSpendNtfn(
		ctx, outpoint, pkScript, heightHint,
	)
	if err != nil {
		return nil, nil, wrap("RegisterSpendNtfn", err)
	}

	return spendChan, errChan, nil
}
