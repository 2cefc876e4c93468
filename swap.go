package p2pswap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/labels"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/sweep"
	"github.com/lightninglabs/p2pswap/vault"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// persistTimeout bounds store writes that outlive the swap context.
const persistTimeout = 10 * time.Second

// swapKit holds the state and helpers shared by both engines.
type swapKit struct {
	cfg *Config

	hash lntypes.Hash

	side swap.Side

	log *swap.PrefixLog

	updates *updateForwarder

	// wg tracks the goroutines of payment futures.
	wg sync.WaitGroup

	mu     sync.Mutex
	height int32
}

func newSwapKit(cfg *Config, hash lntypes.Hash, side swap.Side) *swapKit {
	return &swapKit{
		cfg:  cfg,
		hash: hash,
		side: side,
		log: &swap.PrefixLog{
			Logger: log,
			Hash:   hash,
			Side:   side,
		},
		updates: newUpdateForwarder(cfg.Updates),
	}
}

// close waits for the payment goroutines, which exit once the swap context
// is canceled, and stops update delivery.
func (s *swapKit) close() {
	s.wg.Wait()
	s.updates.stop()
}

// currentHeight returns the last height the swap observed.
func (s *swapKit) currentHeight() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.height
}

// setHeight records an observed height.
func (s *swapKit) setHeight(height int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height > s.height {
		s.height = height
	}
}

// bestHeight queries and records the best height.
func (s *swapKit) bestHeight(ctx context.Context) (int32, error) {
	height, err := s.cfg.Ledger.BestHeight(ctx)
	if err != nil {
		return 0, err
	}
	s.setHeight(height)

	return height, nil
}

// setStage persists the stage if a store is configured and reports it to the
// update consumer.
func (s *swapKit) setStage(ctx context.Context, stage swapdb.Stage,
	txid *chainhash.Hash, stageErr error) {

	height := s.currentHeight()

	s.log.Infof("Stage %v at height %v", stage, height)

	if s.cfg.Store != nil {
		event := &swapdb.Event{
			Stage:  stage,
			Time:   s.cfg.Clock.Now(),
			Height: height,
			TxID:   txid,
		}
		if stageErr != nil {
			event.Err = stageErr.Error()
		}

		// Failure stages are also persisted after the swap context
		// was canceled.
		storeCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), persistTimeout,
		)
		err := s.cfg.Store.UpdateSwap(storeCtx, s.hash, event)
		cancel()

		if err != nil && !errors.Is(err, swapdb.ErrSwapNotFound) {
			s.log.Errorf("Unable to persist stage %v: %v", stage,
				err)
		}
	}

	s.updates.send(Update{
		Hash:   s.hash,
		Side:   s.side,
		Stage:  stage,
		Height: height,
		TxID:   txid,
		Err:    stageErr,
	})
}

// persistResponse records the response and our recovery for a swap created
// earlier.
func (s *swapKit) persistResponse(ctx context.Context, response,
	recovery []byte, timeout int32) {

	if s.cfg.Store == nil {
		return
	}

	err := s.cfg.Store.SetResponse(ctx, s.hash, response, recovery, timeout)
	if err != nil {
		s.log.Warnf("Unable to persist response: %v", err)
	}
}

// soloSigner returns the signer of our solo key and checks it against the
// public key the counterpart was given.
func (s *swapKit) soloSigner(ctx context.Context, secrets *vault.Secrets,
	expected *btcec.PublicKey) (sweep.LeafSigner, error) {

	if secrets.SoloPrivKey != nil {
		if !secrets.SoloPrivKey.PubKey().IsEqual(expected) {
			return nil, ErrRecoveryMismatch
		}

		return &sweep.LocalLeafSigner{PrivKey: secrets.SoloPrivKey}, nil
	}

	if secrets.KeyIndex == nil {
		return nil, vault.ErrMissingSoloKey
	}

	locator := keychain.KeyLocator{
		Family: keychain.KeyFamily(swap.KeyFamily),
		Index:  *secrets.KeyIndex,
	}
	desc, err := s.cfg.Ledger.DeriveKey(ctx, &locator)
	if err != nil {
		return nil, err
	}

	if !desc.PubKey.IsEqual(expected) {
		return nil, ErrRecoveryMismatch
	}

	return &ledgerSigner{keys: s.cfg.Ledger, locator: locator}, nil
}

// soloKey returns a new solo key. An external private key takes precedence
// over a key derived by the ledger.
func soloKey(ctx context.Context, keys ledger.Keys,
	external *btcec.PrivateKey, secrets *vault.Secrets) (*btcec.PublicKey,
	error) {

	if external != nil {
		secrets.SoloPrivKey = external

		return external.PubKey(), nil
	}

	desc, err := keys.DeriveNextKey(ctx, swap.KeyFamily)
	if err != nil {
		return nil, err
	}

	index := desc.Index
	secrets.KeyIndex = &index

	return desc.PubKey, nil
}

// sweepAddr returns the configured sweep address or a fresh wallet address.
func (s *swapKit) sweepAddr(ctx context.Context) (btcutil.Address, error) {
	if s.cfg.SweepAddr != nil {
		return s.cfg.SweepAddr, nil
	}

	return s.cfg.Ledger.NextAddress(ctx)
}

// startRate returns the rate the first entry of a fee schedule is priced at.
func (s *swapKit) startRate(ctx context.Context,
	confTarget int32) (chainfee.SatPerVByte, error) {

	feeRate, err := s.cfg.Ledger.EstimateFeeRate(ctx, confTarget)
	if err != nil {
		return 0, err
	}

	rate := feeRate.FeePerVByte()
	if rate < 1 {
		rate = 1
	}

	return rate, nil
}

// publish broadcasts a transaction with a swap label.
func (s *swapKit) publish(ctx context.Context, tx *wire.MsgTx,
	label string) error {

	return s.cfg.Ledger.PublishTransaction(
		ctx, tx, labels.WithUser(label, s.cfg.Label),
	)
}
