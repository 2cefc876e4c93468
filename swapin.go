package p2pswap

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/labels"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/swapmsg"
	"github.com/lightninglabs/p2pswap/sweep"
	"github.com/lightninglabs/p2pswap/utils"
	"github.com/lightninglabs/p2pswap/vault"
	"github.com/lightningnetwork/lnd/chainntnfs"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// ResponseOptions are the optional inputs of a new response.
type ResponseOptions struct {
	// SoloPrivKey is an external refund key. The ledger derives one if it
	// is nil.
	SoloPrivKey *btcec.PrivateKey

	// InboundPeer constrains the last hop of the requester's payments.
	InboundPeer *route.Vertex
}

// fundingCltvDelta returns the final cltv delta of our invoices. Payments
// held with it expire MinCltvDelta blocks after the swap timeout even if
// they arrive a few blocks late.
func (p *Params) fundingCltvDelta() uint64 {
	return uint64(p.SwapTimeoutDelta + 2*p.MinCltvDelta)
}

// depositAmount returns the deposit charged for a swap.
func (c *SwapInConfig) depositAmount(tokens btcutil.Amount) btcutil.Amount {
	deposit := swap.CalcFee(tokens, c.ExecutionFeeBase, c.ExecutionFeeRate)
	if deposit < 1 {
		deposit = 1
	}

	return deposit
}

// validateRequest checks that we serve a request.
func (c *SwapInConfig) validateRequest(req *swapmsg.Request) error {
	if req.ClaimSoloPubKey == nil {
		return fmt.Errorf("%w: claim key missing", ErrInvalidRequest)
	}

	if err := swap.CheckTokens(req.Tokens); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Tokens < c.MinTokens {
		return fmt.Errorf("%w: tokens %v below minimum %v",
			ErrInvalidRequest, req.Tokens, c.MinTokens)
	}

	return nil
}

// randomNonce returns 32 random bytes.
func randomNonce() ([32]byte, error) {
	var nonce [32]byte
	_, err := rand.Read(nonce[:])

	return nonce, err
}

// NewResponse accepts a swap request. It creates the three hold invoices the
// requester pays and returns the response to hand back along with our
// recovery, which is also stored if a store is configured.
func NewResponse(ctx context.Context, cfg *SwapInConfig, req *swapmsg.Request,
	opts *ResponseOptions) (*swapmsg.Response, *swapmsg.RefundRecovery,
	error) {

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	if err := cfg.validateRequest(req); err != nil {
		return nil, nil, err
	}

	if opts == nil {
		opts = &ResponseOptions{}
	}

	coopKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}

	secrets := &vault.Secrets{CoopPrivKey: coopKey}
	soloPubKey, err := soloKey(ctx, cfg.Ledger, opts.SoloPrivKey, secrets)
	if err != nil {
		return nil, nil, err
	}

	depositNonce, err := randomNonce()
	if err != nil {
		return nil, nil, err
	}

	pushNonce, err := randomNonce()
	if err != nil {
		return nil, nil, err
	}

	height, err := cfg.Ledger.BestHeight(ctx)
	if err != nil {
		return nil, nil, err
	}
	timeout := height + cfg.Params.SwapTimeoutDelta

	tokens, err := swap.TokensToMilliTokens(req.Tokens)
	if err != nil {
		return nil, nil, err
	}

	pushAmount, err := swap.TokensToMilliTokens(cfg.Params.PushTokens)
	if err != nil {
		return nil, nil, err
	}

	deposit := lnwire.NewMSatFromSatoshis(cfg.depositAmount(req.Tokens))
	coopCommitment := swap.HashPubKey(coopKey.PubKey())
	hashLog := swap.ShortHash(&req.Hash)

	var created []lntypes.Hash
	createInvoice := func(invoice *ledger.HoldInvoice) (
		*ledger.CreatedInvoice, error) {

		invoice.CltvDelta = cfg.Params.fundingCltvDelta()
		invoice.Expiry = cfg.Params.InvoiceExpiry

		result, err := cfg.Ledger.CreateHoldInvoice(ctx, invoice)
		if err != nil {
			return nil, err
		}
		created = append(created, invoice.Hash)

		return result, nil
	}

	resp, recovery, err := func() (*swapmsg.Response,
		*swapmsg.RefundRecovery, error) {

		depositInvoice, err := createInvoice(&ledger.HoldInvoice{
			Hash:        swap.KeyHash(coopKey),
			AmountMsat:  deposit,
			PaymentAddr: depositNonce,
			Memo:        fmt.Sprintf("swap %v deposit", hashLog),
		})
		if err != nil {
			return nil, nil, err
		}

		fundingInvoice, err := createInvoice(&ledger.HoldInvoice{
			Hash:            req.Hash,
			AmountMsat:      tokens,
			DescriptionHash: &coopCommitment,
		})
		if err != nil {
			return nil, nil, err
		}

		pushPreimage := lntypes.Preimage(pushNonce)
		pushInvoice, err := createInvoice(&ledger.HoldInvoice{
			Hash:        pushPreimage.Hash(),
			AmountMsat:  pushAmount,
			PaymentAddr: pushNonce,
			Memo:        fmt.Sprintf("swap %v push", hashLog),
		})
		if err != nil {
			return nil, nil, err
		}

		// The push hash commits to the nonce, a backend that picks
		// its own payment address breaks the link and the secret can
		// then only be learned on-chain.
		if pushInvoice.PaymentAddr != pushNonce {
			log.Warnf("Push invoice of %v uses payment address %x, "+
				"off-chain push unavailable", hashLog,
				pushInvoice.PaymentAddr[:])
		}

		sealed, err := cfg.Vault.Seal(ctx, req.Hash, secrets)
		if err != nil {
			return nil, nil, err
		}

		resp := &swapmsg.Response{
			CoopPrivKeyHash:    swap.KeyHash(coopKey),
			CoopPubKey:         coopKey.PubKey(),
			DepositNonce:       depositInvoice.PaymentAddr,
			DepositMilliTokens: deposit,
			InboundPeer:        opts.InboundPeer,
			PushNonce:          pushNonce,
			RefundSoloPubKey:   soloPubKey,
			FundingRequest:     fundingInvoice.PaymentRequest,
			Timeout:            timeout,
		}
		recovery := &swapmsg.RefundRecovery{
			ClaimCoopPubKeyHash:   req.ClaimCoopPubKeyHash,
			ClaimSoloPubKey:       req.ClaimSoloPubKey,
			Hash:                  req.Hash,
			Secrets:               sealed,
			RefundCoopPrivKeyHash: resp.CoopPrivKeyHash,
			Timeout:               timeout,
			Tokens:                req.Tokens,
		}

		if err := storeResponse(ctx, cfg, req, resp, recovery,
			height); err != nil {

			return nil, nil, err
		}

		return resp, recovery, nil
	}()
	if err != nil {
		for _, hash := range created {
			if cancelErr := cfg.Ledger.CancelInvoice(
				context.WithoutCancel(ctx), hash,
			); cancelErr != nil {
				log.Errorf("Unable to cancel invoice %v: %v",
					hash, cancelErr)
			}
		}

		return nil, nil, err
	}

	log.Infof("Accepted swap %v of %v, timeout %v, deposit %v", hashLog,
		req.Tokens, timeout, deposit)

	return resp, recovery, nil
}

// storeResponse records a new responder swap.
func storeResponse(ctx context.Context, cfg *SwapInConfig,
	req *swapmsg.Request, resp *swapmsg.Response,
	recovery *swapmsg.RefundRecovery, height int32) error {

	if cfg.Store == nil {
		return nil
	}

	requestBytes, err := req.Bytes()
	if err != nil {
		return err
	}

	responseBytes, err := resp.Bytes()
	if err != nil {
		return err
	}

	recoveryBytes, err := recovery.Bytes()
	if err != nil {
		return err
	}

	now := cfg.Clock.Now()

	return cfg.Store.CreateSwap(ctx, &swapdb.Swap{
		Hash:           req.Hash,
		Side:           swap.SideRefund,
		Tokens:         req.Tokens,
		Timeout:        resp.Timeout,
		Request:        requestBytes,
		Response:       responseBytes,
		Recovery:       recoveryBytes,
		Label:          cfg.Label,
		InitiationTime: now,
		Events: []*swapdb.Event{{
			Stage:  swapdb.StageInitiated,
			Time:   now,
			Height: height,
		}},
	})
}

// SwapInResult summarizes a completed swap on the responder side.
type SwapInResult struct {
	// FundingTxID is the transaction that created the swap output.
	FundingTxID chainhash.Hash

	// FundingFee is the chain fee of the funding transaction, zero if it
	// was funded earlier.
	FundingFee btcutil.Amount

	// Secret is the swap secret.
	Secret lntypes.Preimage

	// SecretOnChain is true if the secret was learned from a claim
	// sweep rather than from the push payment.
	SecretOnChain bool

	// Received is the amount of the settled funding and deposit
	// payments.
	Received lnwire.MilliSatoshi
}

// swapIn is the state of a running responder swap.
type swapIn struct {
	*swapKit

	cfg      *SwapInConfig
	req      *swapmsg.Request
	resp     *swapmsg.Response
	recovery *swapmsg.RefundRecovery

	coopKey *btcec.PrivateKey
	signer  sweep.LeafSigner
	script  *swap.SwapScript

	// claimCoopPubKey is the requester's cooperative key, disclosed with
	// the deposit.
	claimCoopPubKey *btcec.PublicKey

	fundingTx *wire.MsgTx
	fundingOp wire.OutPoint
	leases    []ledger.Lease
	refunds   []*sweep.Sweep

	// fundingHeight is the height the funding transaction was published
	// at.
	fundingHeight int32

	refundMu        sync.Mutex
	refundPublished bool

	// secret is set once the swap secret is known. From then on the
	// holds are only ever settled.
	secret *lntypes.Preimage

	fundingSettled bool
	depositSettled bool
}

// resolution is how the swap got resolved: a secret or a refund.
type resolution struct {
	secret  lntypes.Preimage
	onChain bool
}

// RunSwapIn completes a swap as the responder. It waits for the requester's
// payments to be held, funds the swap output and settles the payments once
// the secret is learned. Past the timeout it refunds the output instead.
func RunSwapIn(ctx context.Context, cfg *SwapInConfig, req *swapmsg.Request,
	resp *swapmsg.Response,
	recovery *swapmsg.RefundRecovery) (*SwapInResult, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &swapIn{
		swapKit:  newSwapKit(&cfg.Config, req.Hash, swap.SideRefund),
		cfg:      cfg,
		req:      req,
		resp:     resp,
		recovery: recovery,
	}
	defer s.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result, err := s.execute(ctx)
	if err != nil {
		s.log.Errorf("Swap failed: %v", err)
		s.abort(ctx)
		s.setStage(ctx, failureStage(err), nil, err)

		return nil, err
	}

	s.log.Infof("Swap completed, received %v", result.Received)
	s.setStage(ctx, swapdb.StageSuccess, &result.FundingTxID, nil)

	return result, nil
}

// execute runs the stages of the swap.
func (s *swapIn) execute(ctx context.Context) (*SwapInResult, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	err := utils.Join(ctx, s.awaitDepositHold, s.awaitFundingHold)
	if err != nil {
		return nil, err
	}
	s.setStage(ctx, swapdb.StageHoldsAccepted, nil, nil)

	if err := s.deriveScript(ctx); err != nil {
		return nil, err
	}

	if s.fundingSettled {
		return s.finishSettled(ctx)
	}

	height, err := s.bestHeight(ctx)
	if err != nil {
		return nil, err
	}

	remaining := s.resp.Timeout - height
	if remaining < s.cfg.Params.MinTimeRemaining {
		return nil, fmt.Errorf("%w: %v blocks left, need %v",
			ErrInsufficientTimeRemaining, remaining,
			s.cfg.Params.MinTimeRemaining)
	}

	fundingFee, err := s.lockFunding(ctx)
	if err != nil {
		return nil, err
	}
	fundingTxID := s.fundingTx.TxHash()
	s.setStage(ctx, swapdb.StageFundingLocked, &fundingTxID, nil)

	if err := s.signRefunds(ctx); err != nil {
		return nil, err
	}
	s.setStage(ctx, swapdb.StageSweepsSigned, nil, nil)

	s.fundingHeight = s.currentHeight()
	err = s.publish(ctx, s.fundingTx, labels.Funding(s.hash))
	if err != nil {
		return nil, err
	}
	s.leases = nil

	s.log.Infof("Published funding %v with fee %v", s.fundingOp,
		fundingFee)
	s.setStage(ctx, swapdb.StageFundingPublished, &fundingTxID, nil)

	res, err := utils.Race[*resolution](
		ctx, s.pushedSecret, s.spentSecret, s.timeoutRefund,
	)
	if err != nil {
		return nil, err
	}
	s.setStage(ctx, swapdb.StageSecretLearned, nil, nil)

	received, err := s.settle(ctx, res.secret)
	if err != nil {
		return nil, err
	}

	return &SwapInResult{
		FundingTxID:   fundingTxID,
		FundingFee:    fundingFee,
		Secret:        res.secret,
		SecretOnChain: res.onChain,
		Received:      received,
	}, nil
}

// init opens the recovery and checks it against the swap messages.
func (s *swapIn) init(ctx context.Context) error {
	r := s.recovery
	switch {
	case r.Hash != s.req.Hash, r.Tokens != s.req.Tokens,
		r.Timeout != s.resp.Timeout,
		r.ClaimCoopPubKeyHash != s.req.ClaimCoopPubKeyHash,
		r.RefundCoopPrivKeyHash != s.resp.CoopPrivKeyHash,
		r.ClaimSoloPubKey == nil,
		!r.ClaimSoloPubKey.IsEqual(s.req.ClaimSoloPubKey):

		return ErrRecoveryMismatch
	}

	if s.resp.Version != 0 {
		return fmt.Errorf("%w: %v", swapmsg.ErrUnsupportedVersion,
			s.resp.Version)
	}

	secrets, err := s.cfg.Vault.Open(ctx, s.req.Hash, r.Secrets)
	if err != nil {
		return err
	}
	s.coopKey = secrets.CoopPrivKey

	// The response must carry our key bit for bit, any other key would
	// lead to an output neither side can spend cooperatively.
	ownKey := s.coopKey.PubKey().SerializeCompressed()
	if s.resp.CoopPubKey == nil ||
		!bytes.Equal(ownKey, s.resp.CoopPubKey.SerializeCompressed()) ||
		swap.KeyHash(s.coopKey) != s.resp.CoopPrivKeyHash {

		return fmt.Errorf("%w: response does not carry our "+
			"cooperative key", swap.ErrJointKeyMismatch)
	}

	s.signer, err = s.soloSigner(ctx, secrets, s.resp.RefundSoloPubKey)
	if err != nil {
		return err
	}

	_, err = s.bestHeight(ctx)

	return err
}

// awaitHold waits until the invoice holds a payment of at least the amount
// expiring late enough and returns the update that accepted it.
func (s *swapIn) awaitHold(ctx context.Context, name string,
	hash lntypes.Hash, amount lnwire.MilliSatoshi) (*ledger.InvoiceUpdate,
	error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, errChan, err := s.cfg.Ledger.SubscribeInvoice(ctx, hash)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.Clock.TickAfter(s.cfg.Params.HoldTimeout)

	s.log.Infof("Waiting for %v payment %v", name, hash)

	for {
		select {
		case update := <-updates:
			switch update.State {
			case ledger.InvoiceCanceled:
				return nil, fmt.Errorf("%w: %v", ErrHoldCanceled,
					name)

			case ledger.InvoiceSettled:
				if update.Preimage == nil ||
					!update.Preimage.Matches(hash) {

					return nil, fmt.Errorf("%v invoice "+
						"settled without preimage",
						name)
				}

				s.log.Infof("Found %v payment settled", name)

				return &update, nil

			case ledger.InvoiceAccepted:
				if update.AmountPaidMsat < amount {
					return nil, fmt.Errorf("%w: %v pays "+
						"%v, expected %v",
						ErrInvalidRequest, name,
						update.AmountPaidMsat, amount)
				}

				expiry := update.MinExpiry()
				delta := expiry - s.resp.Timeout
				if delta < s.cfg.Params.MinCltvDelta {
					return nil, fmt.Errorf("%w: %v expires "+
						"at %v, timeout %v",
						ErrInsufficientCltvDelta, name,
						expiry, s.resp.Timeout)
				}

				s.log.Infof("Holding %v payment of %v", name,
					update.AmountPaidMsat)

				return &update, nil
			}

		case err := <-errChan:
			return nil, err

		case <-timeout:
			return nil, fmt.Errorf("%w: %v after %v", ErrHoldTimeout,
				name, s.cfg.Params.HoldTimeout)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// awaitDepositHold waits for the deposit and checks the cooperative key it
// carries against the commitment of the request.
func (s *swapIn) awaitDepositHold(ctx context.Context) error {
	update, err := s.awaitHold(
		ctx, "deposit", s.resp.CoopPrivKeyHash,
		s.resp.DepositMilliTokens,
	)
	if err != nil {
		return err
	}

	record, ok := update.CustomRecord(ledger.CoopPubKeyRecordType)
	if !ok || len(record) != btcec.PubKeyBytesLenCompressed {
		return fmt.Errorf("%w: no cooperative key record",
			ErrInvalidDeposit)
	}

	if sha256.Sum256(record) != s.req.ClaimCoopPubKeyHash {
		return fmt.Errorf("%w: cooperative key does not match "+
			"commitment", ErrInvalidDeposit)
	}

	s.claimCoopPubKey, err = btcec.ParsePubKey(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeposit, err)
	}
	s.depositSettled = update.State == ledger.InvoiceSettled

	return nil
}

// awaitFundingHold waits for the funding payment.
func (s *swapIn) awaitFundingHold(ctx context.Context) error {
	tokens, err := swap.TokensToMilliTokens(s.req.Tokens)
	if err != nil {
		return err
	}

	update, err := s.awaitHold(ctx, "funding", s.req.Hash, tokens)
	if err != nil {
		return err
	}

	if update.State == ledger.InvoiceSettled {
		s.fundingSettled = true
		s.secret = update.Preimage
	}

	return nil
}

// finishSettled completes a swap whose funding payment was settled by an
// earlier run that stopped before the deposit was settled.
func (s *swapIn) finishSettled(ctx context.Context) (*SwapInResult, error) {
	s.log.Infof("Funding payment settled earlier, finishing settlement")

	secret := *s.secret
	received, err := s.settle(ctx, secret)
	if err != nil {
		return nil, err
	}

	result := &SwapInResult{
		Secret:   secret,
		Received: received,
	}

	fundingTx, err := s.findFunding(ctx)
	switch {
	case err != nil:
		s.log.Warnf("Unable to look up funding transaction: %v", err)

	case fundingTx != nil:
		result.FundingTxID = fundingTx.TxHash()
	}

	return result, nil
}

// deriveScript derives the swap output once the requester disclosed its
// cooperative key with the deposit.
func (s *swapIn) deriveScript(ctx context.Context) error {
	jointKey, err := swap.CombinePublicKeys(
		s.claimCoopPubKey, s.coopKey.PubKey(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", swap.ErrJointKeyMismatch, err)
	}

	s.script, err = swap.NewSwapScript(
		s.req.Hash, s.resp.Timeout, s.req.ClaimSoloPubKey,
		s.resp.RefundSoloPubKey, jointKey, s.cfg.ChainParams,
	)
	if err != nil {
		return err
	}

	s.setStage(ctx, swapdb.StageScriptDerived, nil, nil)

	return nil
}

// findFunding looks for a funding transaction published by an earlier run.
func (s *swapIn) findFunding(ctx context.Context) (*wire.MsgTx, error) {
	since := s.resp.Timeout - s.cfg.Params.SwapTimeoutDelta
	if since < 0 {
		since = 0
	}

	txs, err := s.cfg.Ledger.ListTransactions(ctx, since)
	if err != nil {
		return nil, err
	}

	for _, walletTx := range txs {
		_, value, err := swap.GetScriptOutput(
			walletTx.Tx, s.script.PkScript,
		)
		if err != nil {
			continue
		}

		if value == s.req.Tokens {
			return walletTx.Tx, nil
		}
	}

	return nil, nil
}

// lockFunding reuses an earlier funding transaction or funds and signs a new
// one. The inputs of a new transaction stay leased until it is published.
func (s *swapIn) lockFunding(ctx context.Context) (btcutil.Amount, error) {
	tx, err := s.findFunding(ctx)
	if err != nil {
		return 0, err
	}

	var fee btcutil.Amount
	if tx != nil {
		s.log.Infof("Reusing funding transaction %v", tx.TxHash())
	} else {
		feeRate, err := s.cfg.Ledger.EstimateFeeRate(
			ctx, s.cfg.Params.FundingConfTarget,
		)
		if err != nil {
			return 0, err
		}

		funded, err := s.cfg.Ledger.FundPsbt(ctx, []*wire.TxOut{{
			PkScript: s.script.PkScript,
			Value:    int64(s.req.Tokens),
		}}, feeRate)
		if err != nil {
			return 0, err
		}
		s.leases = funded.Leases

		fee, err = funded.Packet.GetTxFee()
		if err != nil {
			return 0, err
		}

		tx, err = s.cfg.Ledger.FinalizePsbt(ctx, funded.Packet)
		if err != nil {
			return 0, err
		}
	}

	outpoint, value, err := swap.GetScriptOutput(tx, s.script.PkScript)
	if err != nil {
		return 0, err
	}
	if value != s.req.Tokens {
		return 0, fmt.Errorf("funding output pays %v, expected %v",
			value, s.req.Tokens)
	}

	s.fundingTx = tx
	s.fundingOp = *outpoint

	return fee, nil
}

// signRefunds signs the refund sweeps from the timeout on. They are signed
// before the funding transaction is published.
func (s *swapIn) signRefunds(ctx context.Context) error {
	rate, err := s.startRate(ctx, s.cfg.Params.SweepConfTarget)
	if err != nil {
		return err
	}

	destAddr, err := s.sweepAddr(ctx)
	if err != nil {
		return err
	}

	schedule, err := sweep.Schedule(sweep.ScheduleParams{
		StartHeight: s.resp.Timeout,
		Blocks:      s.cfg.Params.RefundMargin,
		StartRate:   rate,
		Tokens:      s.req.Tokens,
		Policy:      sweep.RefundPolicy,
	})
	if err != nil {
		return err
	}

	sweeper := &sweep.Sweeper{
		Script:   s.script,
		OutPoint: s.fundingOp,
		Value:    s.req.Tokens,
		DestAddr: destAddr,
	}

	s.refunds, err = sweeper.RefundSweeps(ctx, schedule, s.signer)
	if err != nil {
		return err
	}

	s.log.Infof("Signed %v refund sweeps from height %v", len(s.refunds),
		s.resp.Timeout)

	return nil
}

// pushedSecret waits for the push payment to deliver the secret.
func (s *swapIn) pushedSecret(ctx context.Context) (*resolution, error) {
	updates, errChan, err := s.cfg.Ledger.SubscribeInvoice(
		ctx, s.resp.PushHash(),
	)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case update := <-updates:
			if update.State != ledger.InvoiceAccepted {
				continue
			}

			record, ok := update.CustomRecord(
				ledger.PreimageRecordType,
			)
			if !ok {
				s.log.Warnf("Push payment without secret")
				continue
			}

			secret, err := lntypes.MakePreimage(record)
			if err != nil || secret.Hash() != s.hash {
				s.log.Warnf("Push payment with invalid secret")
				continue
			}

			s.log.Infof("Secret pushed off-chain")

			return &resolution{secret: secret}, nil

		case err := <-errChan:
			return nil, err

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// spentSecret waits for the swap output to be spent and learns the secret
// from a claim sweep.
func (s *swapIn) spentSecret(ctx context.Context) (*resolution, error) {
	spendChan, errChan, err := s.cfg.Chain.RegisterSpendNtfn(
		ctx, &s.fundingOp, s.script.PkScript, s.fundingHeight,
	)
	if err != nil {
		return nil, err
	}

	var spend *chainntnfs.SpendDetail
	select {
	case spend = <-spendChan:
	case err := <-errChan:
		return nil, err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.setHeight(spend.SpendingHeight)

	witness := spend.SpendingTx.TxIn[spend.SpenderInputIndex].Witness
	path := swap.ClassifyWitness(witness)

	s.log.Infof("Swap output spent by %v through %v path",
		spend.SpenderTxHash, path)

	switch path {
	case swap.SpendPathClaim:
		secret, err := swap.ExtractSecret(witness, s.hash)
		if err != nil {
			return nil, err
		}

		return &resolution{secret: secret, onChain: true}, nil

	case swap.SpendPathRefund:
		s.markRefunded()

		return nil, fmt.Errorf("%w: by %v", ErrSwapRefunded,
			spend.SpenderTxHash)

	default:
		return nil, fmt.Errorf("%w: by %v", ErrUnexpectedSpend,
			spend.SpenderTxHash)
	}
}

// timeoutRefund publishes a refund once the timeout is reached.
func (s *swapIn) timeoutRefund(ctx context.Context) (*resolution, error) {
	height, err := utils.WaitForHeight(ctx, s.cfg.Chain, s.resp.Timeout)
	if err != nil {
		return nil, err
	}
	s.setHeight(height)

	txid, err := s.publishRefund(ctx, height)
	if err != nil {
		return nil, err
	}

	return nil, fmt.Errorf("%w: refund %v", ErrSwapTimeout, txid)
}

// markRefunded records that no further refund needs to be published.
func (s *swapIn) markRefunded() {
	s.refundMu.Lock()
	defer s.refundMu.Unlock()

	s.refundPublished = true
}

// publishRefund publishes the best refund valid at the height, unless one was
// published already.
func (s *swapIn) publishRefund(ctx context.Context,
	height int32) (*chainhash.Hash, error) {

	s.refundMu.Lock()
	defer s.refundMu.Unlock()

	if s.refundPublished {
		return nil, nil
	}

	best := sweep.BestSweep(s.refunds, height)
	if best == nil {
		return nil, nil
	}

	txid := best.Tx.TxHash()
	err := s.publish(ctx, best.Tx, labels.Refund(s.hash))
	if err != nil {
		return nil, err
	}
	s.refundPublished = true

	s.log.Infof("Published refund %v at %v sat/vbyte, fee %v", txid,
		best.FeeRate, best.Fee)
	s.setStage(ctx, swapdb.StageSweepPublished, &txid, nil)

	return &txid, nil
}

// settle settles the funding invoice with the secret and the deposit with
// our cooperative key, then cancels the push invoice. Holds settled by an
// earlier run are skipped.
func (s *swapIn) settle(ctx context.Context,
	secret lntypes.Preimage) (lnwire.MilliSatoshi, error) {

	s.secret = &secret

	tokens, err := swap.TokensToMilliTokens(s.req.Tokens)
	if err != nil {
		return 0, err
	}

	if !s.fundingSettled {
		err := s.settleWithRetry(ctx, "funding", secret)
		if err != nil {
			return 0, err
		}
		s.fundingSettled = true
	}
	s.setStage(ctx, swapdb.StageFundingSettled, nil, nil)

	if !s.depositSettled {
		err := s.settleWithRetry(
			ctx, "deposit", swap.KeyPreimage(s.coopKey),
		)
		switch {
		case err != nil && ctx.Err() != nil:
			return 0, err

		case err != nil:
			s.log.Errorf("Unable to settle deposit: %v", err)

		default:
			s.depositSettled = true
		}
	}

	received := tokens
	if s.depositSettled {
		received += s.resp.DepositMilliTokens
	}

	err = s.cfg.Ledger.CancelInvoice(ctx, s.resp.PushHash())
	if err != nil {
		s.log.Warnf("Unable to cancel push invoice: %v", err)
	}

	return received, nil
}

// settleWithRetry settles a hold invoice, retrying as long as the backend
// reports transient failures.
func (s *swapIn) settleWithRetry(ctx context.Context, name string,
	preimage lntypes.Preimage) error {

	tryCount := 1
	for {
		err := s.cfg.Ledger.SettleInvoice(ctx, preimage)
		if err == nil || !ledger.IsRetryable(err) {
			return err
		}

		s.log.Warnf("Settling %v try %v failed, retrying: %v", name,
			tryCount, err)

		select {
		case <-s.cfg.Clock.TickAfter(settleRetryBackoff):
			tryCount++

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// abort cleans up after a failure. It releases the inputs of an unpublished
// funding transaction, publishes a refund if one is valid and cancels the
// hold invoices. Once the secret is known it neither refunds nor cancels.
// Holds also stay in place when the caller stopped the run, a later run
// resumes from them.
func (s *swapIn) abort(ctx context.Context) {
	interrupted := ctx.Err() != nil

	ctx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), persistTimeout,
	)
	defer cancel()

	if len(s.leases) > 0 {
		err := s.cfg.Ledger.ReleaseInputs(ctx, s.leases)
		if err != nil {
			s.log.Errorf("Unable to release funding inputs: %v",
				err)
		}
	}

	if s.secret != nil {
		s.log.Warnf("Secret known, leaving payments held")
		return
	}

	if len(s.refunds) > 0 {
		height, err := s.bestHeight(ctx)
		if err == nil {
			_, err = s.publishRefund(ctx, height)
		}
		if err != nil {
			s.log.Errorf("Unable to publish refund: %v", err)
		}
	}

	if interrupted {
		s.log.Infof("Swap interrupted, leaving payments held")
		return
	}

	hashes := []lntypes.Hash{
		s.resp.CoopPrivKeyHash, s.req.Hash, s.resp.PushHash(),
	}
	for _, hash := range hashes {
		err := s.cfg.Ledger.CancelInvoice(ctx, hash)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warnf("Unable to cancel invoice %v: %v", hash,
				err)
		}
	}
}
