package p2pswap

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
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
)

// RequestOptions are the optional inputs of a new request.
type RequestOptions struct {
	// SoloPrivKey is an external claim key. The ledger derives one if it
	// is nil.
	SoloPrivKey *btcec.PrivateKey
}

// NewRequest creates the secrets of a swap of the given value. It returns the
// request to hand to the responder and our recovery, which is also stored if
// a store is configured.
func NewRequest(ctx context.Context, cfg *SwapOutConfig,
	tokens btcutil.Amount, opts *RequestOptions) (*swapmsg.Request,
	*swapmsg.ClaimRecovery, error) {

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	if opts == nil {
		opts = &RequestOptions{}
	}

	if err := swap.CheckTokens(tokens); err != nil || tokens == 0 {
		return nil, nil, fmt.Errorf("%w: tokens %v", ErrInvalidRequest,
			tokens)
	}

	var secret lntypes.Preimage
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, nil, err
	}

	coopKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}

	secrets := &vault.Secrets{
		CoopPrivKey: coopKey,
		ClaimSecret: &secret,
	}
	soloPubKey, err := soloKey(ctx, cfg.Ledger, opts.SoloPrivKey, secrets)
	if err != nil {
		return nil, nil, err
	}

	hash := secret.Hash()
	sealed, err := cfg.Vault.Seal(ctx, hash, secrets)
	if err != nil {
		return nil, nil, err
	}

	request := &swapmsg.Request{
		Hash:                hash,
		ClaimSoloPubKey:     soloPubKey,
		ClaimCoopPubKeyHash: swap.HashPubKey(coopKey.PubKey()),
		Tokens:              tokens,
	}
	recovery := &swapmsg.ClaimRecovery{
		Hash:    hash,
		Secrets: sealed,
		Tokens:  tokens,
	}

	log.Infof("Created swap request %v for %v", hash, tokens)

	if cfg.Store == nil {
		return request, recovery, nil
	}

	height, err := cfg.Ledger.BestHeight(ctx)
	if err != nil {
		return nil, nil, err
	}

	requestBytes, err := request.Bytes()
	if err != nil {
		return nil, nil, err
	}

	recoveryBytes, err := recovery.Bytes()
	if err != nil {
		return nil, nil, err
	}

	now := cfg.Clock.Now()
	err = cfg.Store.CreateSwap(ctx, &swapdb.Swap{
		Hash:           hash,
		Side:           swap.SideClaim,
		Tokens:         tokens,
		Request:        requestBytes,
		Recovery:       recoveryBytes,
		Label:          cfg.Label,
		InitiationTime: now,
		Events: []*swapdb.Event{{
			Stage:  swapdb.StageInitiated,
			Time:   now,
			Height: height,
		}},
	})
	if err != nil {
		return nil, nil, err
	}

	return request, recovery, nil
}

// SwapOutResult summarizes a completed swap on the requester side.
type SwapOutResult struct {
	// SweepTxID is the transaction that swept the swap output.
	SweepTxID chainhash.Hash

	// Path is the spend path of the sweep.
	Path swap.SpendPath

	// SweepFee is the chain fee of the sweep.
	SweepFee btcutil.Amount

	// RoutingFee is the routing fee of the settled payments.
	RoutingFee lnwire.MilliSatoshi

	// Deposit is the deposit paid, zero if it was not settled.
	Deposit lnwire.MilliSatoshi

	// FundingSettled is true if the responder settled the funding
	// payment.
	FundingSettled bool

	// PushDelivered is true if the push payment reached the responder.
	PushDelivered bool

	// PushErr is why the push payment did not reach the responder. It is
	// nil if the push was delivered or never sent.
	PushErr error
}

// swapOut is the state of a running requester swap.
type swapOut struct {
	*swapKit

	cfg      *SwapOutConfig
	req      *swapmsg.Request
	resp     *swapmsg.Response
	recovery *swapmsg.ClaimRecovery

	secret   lntypes.Preimage
	coopKey  *btcec.PrivateKey
	signer   sweep.LeafSigner
	funding  *swap.PayReq
	script   *swap.SwapScript
	deadline int32

	fundingPayment *paymentFuture
	depositPayment *paymentFuture
	pushPayment    *paymentFuture

	output   *ledger.FoundOutput
	sweeper  *sweep.Sweeper
	schedule []sweep.ScheduleEntry
	claims   []*sweep.Sweep
	coops    []*sweep.Sweep
}

// RunSwapOut completes a swap as the requester. It pays the responder, waits
// for the swap output and sweeps it, cooperatively if the responder discloses
// its key fragment and through the claim leaf otherwise. It returns once the
// swap output is spent or the swap failed.
func RunSwapOut(ctx context.Context, cfg *SwapOutConfig,
	req *swapmsg.Request, resp *swapmsg.Response,
	recovery *swapmsg.ClaimRecovery) (*SwapOutResult, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &swapOut{
		swapKit:  newSwapKit(&cfg.Config, req.Hash, swap.SideClaim),
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
		s.setStage(ctx, failureStage(err), nil, err)

		return nil, err
	}

	s.log.Infof("Swap completed, sweep %v through %v path",
		result.SweepTxID, result.Path)
	s.setStage(ctx, swapdb.StageSuccess, &result.SweepTxID, nil)

	return result, nil
}

// execute runs the stages of the swap.
func (s *swapOut) execute(ctx context.Context) (*SwapOutResult, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	if err := s.deriveScript(ctx); err != nil {
		return nil, err
	}

	s.payInvoices(ctx)
	s.setStage(ctx, swapdb.StagePaymentsSent, nil, nil)

	output, err := s.waitForOutput(ctx)
	if err != nil {
		return nil, err
	}
	s.output = output
	s.setStage(ctx, swapdb.StageOutputConfirmed, &output.OutPoint.Hash, nil)

	if err := s.buildSweeps(ctx); err != nil {
		return nil, err
	}
	s.setStage(ctx, swapdb.StageSweepsSigned, nil, nil)

	if !s.cfg.SkipPush {
		s.pushPreimage(ctx)
	}

	if !s.cfg.SkipCoopKey {
		if err := s.awaitCoopKey(ctx); err != nil {
			return nil, err
		}
	}

	spend, err := s.publishSweeps(ctx)
	if err != nil {
		return nil, err
	}

	return s.summary(ctx, spend)
}

// init opens the recovery and validates the response against it.
func (s *swapOut) init(ctx context.Context) error {
	if s.recovery.Hash != s.req.Hash || s.recovery.Tokens != s.req.Tokens {
		return ErrRecoveryMismatch
	}

	if s.resp.Version != 0 {
		return fmt.Errorf("%w: %v", swapmsg.ErrUnsupportedVersion,
			s.resp.Version)
	}

	secrets, err := s.cfg.Vault.Open(ctx, s.req.Hash, s.recovery.Secrets)
	if err != nil {
		return err
	}

	if secrets.ClaimSecret == nil {
		return fmt.Errorf("%w: claim secret missing",
			ErrRecoveryMismatch)
	}
	if secrets.ClaimSecret.Hash() != s.req.Hash {
		return swap.ErrSecretMismatch
	}
	s.secret = *secrets.ClaimSecret

	s.coopKey = secrets.CoopPrivKey
	if swap.HashPubKey(s.coopKey.PubKey()) != s.req.ClaimCoopPubKeyHash {
		return fmt.Errorf("%w: cooperative key commitment",
			ErrRecoveryMismatch)
	}

	s.signer, err = s.soloSigner(ctx, secrets, s.req.ClaimSoloPubKey)
	if err != nil {
		return err
	}

	s.funding, err = swap.DecodePayReq(
		s.cfg.ChainParams, s.resp.FundingRequest,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFundingRequest, err)
	}

	if s.funding.Hash != s.req.Hash {
		return fmt.Errorf("%w: hash %v", ErrInvalidFundingRequest,
			s.funding.Hash)
	}

	tokens, err := swap.TokensToMilliTokens(s.req.Tokens)
	if err != nil {
		return err
	}
	if s.funding.Amount != tokens {
		return fmt.Errorf("%w: amount %v, expected %v",
			ErrInvalidFundingRequest, s.funding.Amount, tokens)
	}

	// The funding request commits to the responder's cooperative key, a
	// response carrying another key cannot lead to a joint key the
	// responder can sign for.
	commitment := swap.HashPubKey(s.resp.CoopPubKey)
	if s.funding.DescriptionHash == nil ||
		*s.funding.DescriptionHash != commitment {

		return fmt.Errorf("%w: funding request does not commit to "+
			"cooperative key", swap.ErrJointKeyMismatch)
	}

	maxDeposit := swap.CalcFee(
		s.req.Tokens, s.cfg.MaxExecutionFeeBase,
		s.cfg.MaxExecutionFeeRate,
	)
	if s.resp.DepositMilliTokens > lnwire.NewMSatFromSatoshis(maxDeposit) {
		return fmt.Errorf("%w: %v > %v", ErrDepositTooHigh,
			s.resp.DepositMilliTokens, maxDeposit)
	}

	height, err := s.bestHeight(ctx)
	if err != nil {
		return err
	}

	s.deadline = s.resp.Timeout - s.cfg.Params.MinSweepBuffer
	if height >= s.deadline {
		return fmt.Errorf("%w: height %v, claim deadline %v",
			ErrInsufficientTimeRemaining, height, s.deadline)
	}

	return nil
}

// deriveScript derives the swap output from our keys and the response.
func (s *swapOut) deriveScript(ctx context.Context) error {
	jointKey, err := swap.CombinePublicKeys(
		s.coopKey.PubKey(), s.resp.CoopPubKey,
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

	response, err := s.resp.Bytes()
	if err != nil {
		return err
	}

	recovery, err := s.recovery.Bytes()
	if err != nil {
		return err
	}

	s.persistResponse(ctx, response, recovery, s.resp.Timeout)
	s.setStage(ctx, swapdb.StageScriptDerived, nil, nil)

	return nil
}

// payment returns a payment to the responder that is not described by a
// payment request.
func (s *swapOut) payment(hash lntypes.Hash, amount lnwire.MilliSatoshi,
	addr [32]byte, records map[uint64][]byte) *ledger.Payment {

	return &ledger.Payment{
		Hash:           hash,
		Destination:    s.funding.Destination,
		AmountMsat:     amount,
		PaymentAddr:    addr,
		FinalCltvDelta: uint16(s.funding.CltvDelta),
		MaxFee: maxRoutingFee(
			amount.ToSatoshis(), s.cfg.MaxRoutingFeeRate,
		),
		LastHop:       s.resp.InboundPeer,
		CustomRecords: records,
		Timeout:       s.cfg.Params.PaymentTimeout,
	}
}

// payInvoices dispatches the funding and the deposit payment.
func (s *swapOut) payInvoices(ctx context.Context) {
	s.fundingPayment = s.pay(ctx, "funding", &ledger.Payment{
		PaymentRequest: s.resp.FundingRequest,
		Hash:           s.req.Hash,
		AmountMsat:     s.funding.Amount,
		MaxFee: maxRoutingFee(
			s.req.Tokens, s.cfg.MaxRoutingFeeRate,
		),
		LastHop: s.resp.InboundPeer,
		Timeout: s.cfg.Params.PaymentTimeout,
	})

	s.depositPayment = s.pay(ctx, "deposit", s.payment(
		s.resp.CoopPrivKeyHash, s.resp.DepositMilliTokens,
		s.resp.DepositNonce, map[uint64][]byte{
			ledger.CoopPubKeyRecordType: s.coopKey.PubKey().
				SerializeCompressed(),
		},
	))
}

// buildSweeps signs the claim sweeps of the fee schedule up to the claim
// deadline.
func (s *swapOut) buildSweeps(ctx context.Context) error {
	height, err := s.bestHeight(ctx)
	if err != nil {
		return err
	}

	if height >= s.deadline {
		return fmt.Errorf("%w: height %v reached claim deadline %v",
			ErrOutputTimeout, height, s.deadline)
	}

	rate, err := s.startRate(ctx, s.cfg.Params.SweepConfTarget)
	if err != nil {
		return err
	}

	destAddr, err := s.sweepAddr(ctx)
	if err != nil {
		return err
	}

	s.sweeper = &sweep.Sweeper{
		Script:   s.script,
		OutPoint: s.output.OutPoint,
		Value:    s.output.Value,
		DestAddr: destAddr,
	}

	s.schedule, err = sweep.Schedule(sweep.ScheduleParams{
		StartHeight: height,
		Blocks:      s.deadline - 1 - height,
		StartRate:   rate,
		Tokens:      s.output.Value,
		Policy:      sweep.ClaimPolicy,
	})
	if err != nil {
		return err
	}

	s.claims, err = s.sweeper.ClaimSweeps(
		ctx, s.schedule, s.deadline, s.secret, s.signer,
	)
	if err != nil {
		return err
	}

	s.log.Infof("Signed %v claim sweeps from %v to %v sat/vbyte",
		len(s.claims), s.claims[0].FeeRate,
		s.claims[len(s.claims)-1].FeeRate)

	return nil
}

// pushPreimage delivers the secret to the responder off-chain.
func (s *swapOut) pushPreimage(ctx context.Context) {
	amount, err := swap.TokensToMilliTokens(s.cfg.Params.PushTokens)
	if err != nil {
		s.log.Errorf("Invalid push amount: %v", err)
		return
	}

	s.pushPayment = s.pay(ctx, "push", s.payment(
		s.resp.PushHash(), amount, s.resp.PushNonce,
		map[uint64][]byte{
			ledger.PreimageRecordType: s.secret[:],
		},
	))
}

// logPushResult reports the outcome of the push payment.
func (s *swapOut) logPushResult(ctx context.Context) {
	result, err := s.pushPayment.wait(ctx)
	if err := pushOutcome(result, err); err != nil {
		s.log.Errorf("Push not delivered: %v", err)
		return
	}

	if result.Succeeded {
		s.log.Warnf("Push payment unexpectedly settled")
	}
	s.setStage(ctx, swapdb.StagePreimagePushed, nil, nil)
}

// awaitCoopKey waits a bounded time for the deposit to be settled.
func (s *swapOut) awaitCoopKey(ctx context.Context) error {
	select {
	case <-s.depositPayment.done:
		s.cooperate(ctx)

	case <-s.cfg.Clock.TickAfter(s.cfg.Params.CoopKeyTimeout):
		s.log.Warnf("No cooperative key after %v",
			s.cfg.Params.CoopKeyTimeout)

	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// jointPrivKey combines our key fragment with the responder's fragment
// disclosed by the deposit preimage.
func (s *swapOut) jointPrivKey(
	preimage lntypes.Preimage) (*btcec.PrivateKey, error) {

	responderKey, err := swap.KeyFromPreimage(preimage)
	if err != nil {
		return nil, err
	}

	if !responderKey.PubKey().IsEqual(s.resp.CoopPubKey) {
		return nil, swap.ErrJointKeyMismatch
	}

	jointKey, err := swap.CombinePrivateKeys(s.coopKey, responderKey)
	if err != nil {
		return nil, err
	}

	if err := swap.VerifyJointKey(jointKey, s.script.InternalKey); err != nil {
		return nil, err
	}

	return jointKey, nil
}

// cooperate signs the cooperative sweeps once the deposit settled. Any
// failure leaves the claim sweeps in place.
func (s *swapOut) cooperate(ctx context.Context) {
	result, err := s.depositPayment.wait(ctx)
	switch {
	case err != nil:
		s.log.Warnf("No cooperative key, deposit error: %v", err)
		return

	case !result.Succeeded:
		s.log.Warnf("No cooperative key, deposit failed: %v",
			result.FailureReason)
		return
	}

	jointKey, err := s.jointPrivKey(result.Preimage)
	if err != nil {
		s.log.Errorf("Invalid cooperative key: %v", err)
		return
	}

	s.coops, err = s.sweeper.CooperativeSweeps(s.schedule, jointKey)
	if err != nil {
		s.log.Errorf("Unable to sign cooperative sweeps: %v", err)
		return
	}

	s.setStage(ctx, swapdb.StageCooperativeKey, nil, nil)
}

// publishBest broadcasts the best sweep valid at the height. Cooperative
// sweeps are preferred, claims are only tried below the claim deadline.
func (s *swapOut) publishBest(ctx context.Context, height int32,
	published map[chainhash.Hash]struct{}) {

	candidates := []*sweep.Sweep{sweep.BestSweep(s.coops, height)}
	if height < s.deadline {
		candidates = append(
			candidates, sweep.BestSweep(s.claims, height),
		)
	}

	for _, best := range candidates {
		if best == nil {
			continue
		}

		txid := best.Tx.TxHash()
		err := s.publish(ctx, best.Tx, labels.Sweep(s.hash, best.Path))
		if err != nil {
			s.log.Warnf("Unable to publish %v sweep %v at %v "+
				"sat/vbyte: %v", best.Path, txid, best.FeeRate,
				err)

			continue
		}

		if _, ok := published[txid]; !ok {
			published[txid] = struct{}{}

			s.log.Infof("Published %v sweep %v at %v sat/vbyte, "+
				"fee %v", best.Path, txid, best.FeeRate,
				best.Fee)
			s.setStage(ctx, swapdb.StageSweepPublished, &txid, nil)
		}

		return
	}
}

// publishSweeps broadcasts the best sweep on every block until the swap
// output is spent.
func (s *swapOut) publishSweeps(ctx context.Context) (
	*chainntnfs.SpendDetail, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	spendChan, spendErrChan, err := s.cfg.Chain.RegisterSpendNtfn(
		ctx, &s.output.OutPoint, s.script.PkScript,
		s.output.ConfHeight,
	)
	if err != nil {
		return nil, err
	}

	blockChan, blockErrChan, err := utils.RegisterBlockEpochNtfnWithRetry(
		ctx, s.cfg.Chain,
	)
	if err != nil {
		return nil, err
	}

	var (
		published   = make(map[chainhash.Hash]struct{})
		pushDone    <-chan struct{}
		depositDone <-chan struct{}
	)
	if s.pushPayment != nil {
		pushDone = s.pushPayment.done
	}
	if !s.cfg.SkipCoopKey && !s.depositPayment.resolved() {
		depositDone = s.depositPayment.done
	}

	for {
		select {
		case height := <-blockChan:
			s.setHeight(height)
			s.publishBest(ctx, height, published)

		case <-pushDone:
			pushDone = nil
			s.logPushResult(ctx)

		// A late cooperative key still replaces the claims.
		case <-depositDone:
			depositDone = nil
			s.cooperate(ctx)
			s.publishBest(ctx, s.currentHeight(), published)

		case spend := <-spendChan:
			s.setHeight(spend.SpendingHeight)
			return spend, nil

		case err := <-spendErrChan:
			return nil, err

		case err := <-blockErrChan:
			return nil, err

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// summary classifies the spend of the swap output and reads the final state
// of the payments.
func (s *swapOut) summary(ctx context.Context,
	spend *chainntnfs.SpendDetail) (*SwapOutResult, error) {

	witness := spend.SpendingTx.TxIn[spend.SpenderInputIndex].Witness
	path := swap.ClassifyWitness(witness)
	txid := *spend.SpenderTxHash

	s.log.Infof("Swap output spent by %v through %v path at height %v",
		txid, path, spend.SpendingHeight)

	switch path {
	case swap.SpendPathRefund:
		return nil, fmt.Errorf("%w: by %v", ErrSwapRefunded, txid)

	case swap.SpendPathUnknown:
		return nil, fmt.Errorf("%w: by %v", ErrUnexpectedSpend, txid)
	}

	result := &SwapOutResult{
		SweepTxID: txid,
		Path:      path,
	}
	for _, sweeps := range [][]*sweep.Sweep{s.coops, s.claims} {
		for _, sw := range sweeps {
			if sw.Tx.TxHash() == txid {
				result.SweepFee = sw.Fee
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Params.SummaryTimeout)
	defer cancel()

	funding, err := s.fundingPayment.wait(ctx)
	switch {
	case err != nil:
		s.log.Warnf("Funding payment unresolved: %v", err)

	case funding.Succeeded:
		result.FundingSettled = true
		result.RoutingFee += funding.FeeMsat

	default:
		s.log.Warnf("Funding payment failed: %v",
			funding.FailureReason)
	}

	deposit, err := s.depositPayment.wait(ctx)
	switch {
	case err != nil:
		s.log.Warnf("Deposit payment unresolved: %v", err)

	case deposit.Succeeded:
		result.Deposit = deposit.AmountMsat
		result.RoutingFee += deposit.FeeMsat
	}

	if s.pushPayment != nil {
		push, err := s.pushPayment.wait(ctx)
		result.PushErr = pushOutcome(push, err)
		result.PushDelivered = result.PushErr == nil
	}

	s.log.Infof("Routing fee %v, deposit %v, sweep fee %v",
		result.RoutingFee, result.Deposit, result.SweepFee)

	return result, nil
}
