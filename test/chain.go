package test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightningnetwork/lnd/chainntnfs"
)

var (
	// ErrMissingInputs is returned when a transaction spends an unknown
	// or already spent output.
	ErrMissingInputs = errors.New("missing inputs")

	// ErrNonFinal is returned when a transaction is not final in the next
	// block.
	ErrNonFinal = errors.New("non-final transaction")

	// ErrReplacementRejected is returned when a conflicting transaction
	// does not pay a higher fee than the transactions it replaces.
	ErrReplacementRejected = errors.New("insufficient fee for replacement")

	// ErrScriptValidation is returned when an input fails script
	// validation.
	ErrScriptValidation = errors.New("script validation failed")
)

// chainOutput is an unspent confirmed output.
type chainOutput struct {
	out      *wire.TxOut
	height   int32
	coinbase bool
}

// confirmedTx is a transaction included in a block.
type confirmedTx struct {
	tx     *wire.MsgTx
	height int32
	index  uint32
}

// confSub is a confirmation registration.
type confSub struct {
	txid       *chainhash.Hash
	pkScript   []byte
	numConfs   int32
	heightHint int32
	done       bool
	ntfn       *notifier[*chainntnfs.TxConfirmation]
}

// spendSub is a spend registration.
type spendSub struct {
	outpoint   wire.OutPoint
	heightHint int32
	done       bool
	ntfn       *notifier[*chainntnfs.SpendDetail]
}

// Chain is a simulated blockchain with a mempool. Transactions are validated
// against their previous outputs when published and included in the next
// mined block once final.
type Chain struct {
	params *chaincfg.Params

	mu        sync.Mutex
	height    int32
	utxos     map[wire.OutPoint]*chainOutput
	txs       map[chainhash.Hash]*confirmedTx
	blocks    [][]*wire.MsgTx
	spends    map[wire.OutPoint]*chainntnfs.SpendDetail
	mempool   []*wire.MsgTx
	published []*wire.MsgTx
	faucet    map[chainhash.Hash]bool
	nonce     uint32

	epochSubs map[*notifier[int32]]struct{}
	confSubs  map[*confSub]struct{}
	spendSubs map[*spendSub]struct{}
}

var (
	_ ledger.ChainMonitor = (*Chain)(nil)
	_ ledger.OutputFinder = (*Chain)(nil)
)

// NewChain returns a chain at the given height.
func NewChain(params *chaincfg.Params, height int32) *Chain {
	return &Chain{
		params:    params,
		height:    height,
		utxos:     make(map[wire.OutPoint]*chainOutput),
		txs:       make(map[chainhash.Hash]*confirmedTx),
		spends:    make(map[wire.OutPoint]*chainntnfs.SpendDetail),
		faucet:    make(map[chainhash.Hash]bool),
		epochSubs: make(map[*notifier[int32]]struct{}),
		confSubs:  make(map[*confSub]struct{}),
		spendSubs: make(map[*spendSub]struct{}),
	}
}

// Params returns the chain parameters.
func (c *Chain) Params() *chaincfg.Params {
	return c.params
}

// Height returns the height of the chain tip.
func (c *Chain) Height() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height
}

// Faucet queues a transaction paying the script out of thin air. It confirms
// in the next block.
func (c *Chain) Faucet(pkScript []byte, value btcutil.Amount) wire.OutPoint {
	return c.fund(pkScript, value, false)
}

// Coinbase queues a coinbase transaction paying the script.
func (c *Chain) Coinbase(pkScript []byte, value btcutil.Amount) wire.OutPoint {
	return c.fund(pkScript, value, true)
}

func (c *Chain) fund(pkScript []byte, value btcutil.Amount,
	coinbase bool) wire.OutPoint {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonce++

	prevOut := wire.OutPoint{Index: math.MaxUint32}
	if !coinbase {
		var nonce [4]byte
		binary.BigEndian.PutUint32(nonce[:], c.nonce)
		prevOut = wire.OutPoint{Hash: sha256.Sum256(nonce[:])}
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		SignatureScript:  binary.BigEndian.AppendUint32(nil, c.nonce),
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{PkScript: pkScript, Value: int64(value)})

	txid := tx.TxHash()
	c.faucet[txid] = true
	c.mempool = append(c.mempool, tx)

	return wire.OutPoint{Hash: txid}
}

// prevOut looks up an output in the utxo set or among the outputs of mempool
// transactions.
func (c *Chain) prevOut(op wire.OutPoint) (*wire.TxOut, bool) {
	if utxo, ok := c.utxos[op]; ok {
		return utxo.out, true
	}

	for _, tx := range c.mempool {
		if tx.TxHash() != op.Hash || int(op.Index) >= len(tx.TxOut) {
			continue
		}

		return tx.TxOut[op.Index], true
	}

	return nil, false
}

// isFinal returns true if the transaction can be included at the height.
func isFinal(tx *wire.MsgTx, height int32) bool {
	if tx.LockTime == 0 || int64(tx.LockTime) < int64(height) {
		return true
	}

	for _, in := range tx.TxIn {
		if in.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}

	return true
}

// validate checks the inputs of a transaction and returns its fee.
func (c *Chain) validate(tx *wire.MsgTx) (btcutil.Amount, error) {
	if !isFinal(tx, c.height+1) {
		return 0, fmt.Errorf("%w: lock time %v at height %v",
			ErrNonFinal, tx.LockTime, c.height)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	var inputValue int64
	for _, in := range tx.TxIn {
		prevOut, ok := c.prevOut(in.PreviousOutPoint)
		if !ok {
			return 0, fmt.Errorf("%w: %v", ErrMissingInputs,
				in.PreviousOutPoint)
		}

		fetcher.AddPrevOut(in.PreviousOutPoint, prevOut)
		inputValue += prevOut.Value
	}

	var outputValue int64
	for _, out := range tx.TxOut {
		outputValue += out.Value
	}
	if outputValue > inputValue {
		return 0, fmt.Errorf("outputs %v exceed inputs %v",
			outputValue, inputValue)
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for idx, in := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		engine, err := txscript.NewEngine(
			prevOut.PkScript, tx, idx,
			txscript.StandardVerifyFlags, nil, sigHashes,
			prevOut.Value, fetcher,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrScriptValidation, err)
		}

		if err := engine.Execute(); err != nil {
			return 0, fmt.Errorf("%w: input %v: %v",
				ErrScriptValidation, idx, err)
		}
	}

	return btcutil.Amount(inputValue - outputValue), nil
}

// fee returns the fee of a mempool transaction.
func (c *Chain) fee(tx *wire.MsgTx) btcutil.Amount {
	var value int64
	for _, in := range tx.TxIn {
		if prevOut, ok := c.prevOut(in.PreviousOutPoint); ok {
			value += prevOut.Value
		}
	}

	for _, out := range tx.TxOut {
		value -= out.Value
	}

	return btcutil.Amount(value)
}

// Publish adds a transaction to the mempool. Conflicting mempool transactions
// are replaced if the new transaction pays a higher fee. Publishing a known
// transaction is a no-op.
func (c *Chain) Publish(tx *wire.MsgTx) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txid := tx.TxHash()
	if _, ok := c.txs[txid]; ok {
		return nil
	}

	for _, pending := range c.mempool {
		if pending.TxHash() == txid {
			return nil
		}
	}

	fee, err := c.validate(tx)
	if err != nil {
		return err
	}

	var conflicts []*wire.MsgTx
	for _, pending := range c.mempool {
		if spendsAny(pending, tx) {
			conflicts = append(conflicts, pending)
		}
	}

	for _, conflict := range conflicts {
		if conflictFee := c.fee(conflict); fee <= conflictFee {
			return fmt.Errorf("%w: %v <= %v",
				ErrReplacementRejected, fee, conflictFee)
		}
	}

	if len(conflicts) > 0 {
		kept := c.mempool[:0]
		for _, pending := range c.mempool {
			if !spendsAny(pending, tx) {
				kept = append(kept, pending)
			}
		}
		c.mempool = kept
	}

	c.mempool = append(c.mempool, tx.Copy())
	c.published = append(c.published, tx.Copy())

	logger.Debugf("Accepted %v into mempool (fee %v, replaced %v)", txid,
		fee, len(conflicts))

	return nil
}

// spendsAny returns true if both transactions spend a common outpoint.
func spendsAny(a, b *wire.MsgTx) bool {
	for _, inA := range a.TxIn {
		for _, inB := range b.TxIn {
			if inA.PreviousOutPoint == inB.PreviousOutPoint {
				return true
			}
		}
	}

	return false
}

// blockHash returns a synthetic block hash for a height.
func blockHash(height int32) chainhash.Hash {
	return chainhash.HashH(binary.BigEndian.AppendUint32(
		nil, uint32(height),
	))
}

// Mine mines the given number of blocks. Every final mempool transaction is
// included in the next block.
func (c *Chain) Mine(blocks int) {
	for i := 0; i < blocks; i++ {
		c.mineBlock()
	}
}

// MineUntil mines blocks until the tip reaches the height.
func (c *Chain) MineUntil(height int32) {
	for c.Height() < height {
		c.mineBlock()
	}
}

func (c *Chain) mineBlock() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height++

	var (
		block   []*wire.MsgTx
		pending []*wire.MsgTx
	)
	for _, tx := range c.mempool {
		if !isFinal(tx, c.height) {
			pending = append(pending, tx)
			continue
		}

		txid := tx.TxHash()
		coinbase := blockchain.IsCoinBaseTx(tx)
		for idx, in := range tx.TxIn {
			if c.faucet[txid] {
				break
			}

			delete(c.utxos, in.PreviousOutPoint)

			spent := in.PreviousOutPoint
			c.spends[spent] = &chainntnfs.SpendDetail{
				SpentOutPoint:     &spent,
				SpenderTxHash:     &txid,
				SpendingTx:        tx,
				SpenderInputIndex: uint32(idx),
				SpendingHeight:    c.height,
			}
		}

		for idx, out := range tx.TxOut {
			c.utxos[wire.OutPoint{Hash: txid, Index: uint32(idx)}] =
				&chainOutput{
					out:      out,
					height:   c.height,
					coinbase: coinbase,
				}
		}

		c.txs[txid] = &confirmedTx{
			tx:     tx,
			height: c.height,
			index:  uint32(len(block)),
		}
		block = append(block, tx)
	}
	c.mempool = pending
	c.blocks = append(c.blocks, block)

	logger.Debugf("Mined block %v with %v transactions", c.height,
		len(block))

	c.dispatch()
}

// dispatch notifies all registrations that are satisfied at the current
// height. The caller must hold the mutex.
func (c *Chain) dispatch() {
	for sub := range c.confSubs {
		if sub.done {
			continue
		}

		if conf := c.matchConf(sub); conf != nil {
			sub.done = true
			sub.ntfn.notify(conf)
		}
	}

	for sub := range c.spendSubs {
		if sub.done {
			continue
		}

		spend, ok := c.spends[sub.outpoint]
		if !ok || spend.SpendingHeight < sub.heightHint {
			continue
		}

		sub.done = true
		sub.ntfn.notify(spend)
	}

	for sub := range c.epochSubs {
		sub.notify(c.height)
	}
}

// matchConf returns the earliest confirmation satisfying the registration.
func (c *Chain) matchConf(sub *confSub) *chainntnfs.TxConfirmation {
	var best *confirmedTx
	for txid, confirmed := range c.txs {
		if sub.txid != nil && txid != *sub.txid {
			continue
		}

		if confirmed.height < sub.heightHint ||
			c.height-confirmed.height+1 < sub.numConfs {

			continue
		}

		if !paysScript(confirmed.tx, sub.pkScript) {
			continue
		}

		if best == nil || confirmed.height < best.height ||
			(confirmed.height == best.height &&
				confirmed.index < best.index) {

			best = confirmed
		}
	}

	if best == nil {
		return nil
	}

	hash := blockHash(best.height)
	block := wire.NewMsgBlock(&wire.BlockHeader{})
	for _, tx := range c.blocks[len(c.blocks)-1-int(c.height-best.height)] {
		_ = block.AddTransaction(tx)
	}

	return &chainntnfs.TxConfirmation{
		BlockHash:   &hash,
		BlockHeight: uint32(best.height),
		TxIndex:     best.index,
		Tx:          best.tx,
		Block:       block,
	}
}

// paysScript returns true if an output of the transaction pays the script.
func paysScript(tx *wire.MsgTx, pkScript []byte) bool {
	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return true
		}
	}

	return false
}

// RegisterBlockEpochNtfn streams block heights starting with the current
// height.
func (c *Chain) RegisterBlockEpochNtfn(ctx context.Context) (<-chan int32,
	<-chan error, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	var ntfn *notifier[int32]
	ntfn = newNotifier[int32](ctx, &c.mu, func() {
		delete(c.epochSubs, ntfn)
	})
	c.epochSubs[ntfn] = struct{}{}
	ntfn.notify(c.height)

	return ntfn.out, ntfn.errs, nil
}

// RegisterConfirmationsNtfn notifies once of the first transaction paying the
// script, or with the given txid if set.
func (c *Chain) RegisterConfirmationsNtfn(ctx context.Context,
	txid *chainhash.Hash, pkScript []byte, numConfs,
	heightHint int32) (<-chan *chainntnfs.TxConfirmation, <-chan error,
	error) {

	if numConfs < 1 {
		return nil, nil, errors.New("at least one confirmation required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &confSub{
		txid:       txid,
		pkScript:   pkScript,
		numConfs:   numConfs,
		heightHint: heightHint,
	}
	sub.ntfn = newNotifier[*chainntnfs.TxConfirmation](
		ctx, &c.mu, func() {
			delete(c.confSubs, sub)
		},
	)
	c.confSubs[sub] = struct{}{}

	if conf := c.matchConf(sub); conf != nil {
		sub.done = true
		sub.ntfn.notify(conf)
	}

	return sub.ntfn.out, sub.ntfn.errs, nil
}

// RegisterSpendNtfn notifies once of the confirmed spend of the outpoint.
func (c *Chain) RegisterSpendNtfn(ctx context.Context,
	outpoint *wire.OutPoint, _ []byte, heightHint int32) (
	<-chan *chainntnfs.SpendDetail, <-chan error, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &spendSub{
		outpoint:   *outpoint,
		heightHint: heightHint,
	}
	sub.ntfn = newNotifier[*chainntnfs.SpendDetail](ctx, &c.mu, func() {
		delete(c.spendSubs, sub)
	})
	c.spendSubs[sub] = struct{}{}

	if spend, ok := c.spends[sub.outpoint]; ok &&
		spend.SpendingHeight >= heightHint {

		sub.done = true
		sub.ntfn.notify(spend)
	}

	return sub.ntfn.out, sub.ntfn.errs, nil
}

// FindOutput blocks until an output paying the script confirms. It plays the
// part of a chain explorer.
func (c *Chain) FindOutput(ctx context.Context, pkScript []byte,
	heightHint int32) (*ledger.FoundOutput, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	confChan, errChan, err := c.RegisterConfirmationsNtfn(
		ctx, nil, pkScript, 1, heightHint,
	)
	if err != nil {
		return nil, err
	}

	select {
	case conf := <-confChan:
		for idx, out := range conf.Tx.TxOut {
			if !bytes.Equal(out.PkScript, pkScript) {
				continue
			}

			return &ledger.FoundOutput{
				OutPoint: wire.OutPoint{
					Hash:  conf.Tx.TxHash(),
					Index: uint32(idx),
				},
				Value:      btcutil.Amount(out.Value),
				ConfHeight: int32(conf.BlockHeight),
				Coinbase:   blockchain.IsCoinBaseTx(conf.Tx),
			}, nil
		}

		return nil, errors.New("confirmation without matching output")

	case err := <-errChan:
		return nil, err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Published returns every transaction accepted into the mempool, including
// replaced ones, in order.
func (c *Chain) Published() []*wire.MsgTx {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*wire.MsgTx(nil), c.published...)
}

// Mempool returns the transactions waiting for confirmation.
func (c *Chain) Mempool() []*wire.MsgTx {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*wire.MsgTx(nil), c.mempool...)
}

// SpendOf returns the confirmed spend of an outpoint.
func (c *Chain) SpendOf(op wire.OutPoint) (*chainntnfs.SpendDetail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	spend, ok := c.spends[op]

	return spend, ok
}

// SpendsOf returns every published transaction spending the outpoint.
func (c *Chain) SpendsOf(op wire.OutPoint) []*wire.MsgTx {
	c.mu.Lock()
	defer c.mu.Unlock()

	var spends []*wire.MsgTx
	for _, tx := range c.published {
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint == op {
				spends = append(spends, tx)
				break
			}
		}
	}

	return spends
}

// Unspent returns the confirmed unspent outputs paying one of the scripts.
func (c *Chain) Unspent(pkScripts [][]byte) map[wire.OutPoint]*wire.TxOut {
	c.mu.Lock()
	defer c.mu.Unlock()

	unspent := make(map[wire.OutPoint]*wire.TxOut)
	for op, utxo := range c.utxos {
		for _, pkScript := range pkScripts {
			if bytes.Equal(utxo.out.PkScript, pkScript) {
				unspent[op] = utxo.out
			}
		}
	}

	return unspent
}

// Transactions returns the confirmed transactions from a height on followed
// by the mempool transactions, which have a zero height.
func (c *Chain) Transactions(startHeight int32) []*ledger.WalletTx {
	c.mu.Lock()
	defer c.mu.Unlock()

	var txs []*ledger.WalletTx
	for idx, block := range c.blocks {
		height := c.height - int32(len(c.blocks)-1-idx)
		if height < startHeight {
			continue
		}

		for _, tx := range block {
			txs = append(txs, &ledger.WalletTx{
				Tx:     tx,
				Height: height,
			})
		}
	}

	for _, tx := range c.mempool {
		txs = append(txs, &ledger.WalletTx{Tx: tx})
	}

	return txs
}
