package test

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/zpay32"
)

// invoice is a hold invoice known to the network.
type invoice struct {
	owner    *Node
	hold     ledger.HoldInvoice
	addr     [32]byte
	state    ledger.InvoiceState
	paid     lnwire.MilliSatoshi
	htlcs    []ledger.InvoiceHtlc
	preimage lntypes.Preimage
	resolved chan struct{}
	subs     map[*notifier[ledger.InvoiceUpdate]]struct{}
}

// update returns the current state of the invoice.
func (i *invoice) update() ledger.InvoiceUpdate {
	update := ledger.InvoiceUpdate{
		Hash:           i.hold.Hash,
		State:          i.state,
		AmountPaidMsat: i.paid,
		Htlcs:          append([]ledger.InvoiceHtlc(nil), i.htlcs...),
	}
	if i.state == ledger.InvoiceSettled {
		preimage := i.preimage
		update.Preimage = &preimage
	}

	return update
}

// notifyAll sends the current state to all subscribers.
func (i *invoice) notifyAll() {
	update := i.update()
	for sub := range i.subs {
		sub.notify(update)
	}
}

// Network is a simulated Lightning network of fully connected nodes that
// share a chain. Payments are delivered directly to the node holding the
// invoice.
type Network struct {
	chain *Chain

	mu       sync.Mutex
	nodes    map[route.Vertex]*Node
	invoices map[lntypes.Hash]*invoice
}

// NewNetwork creates an empty network on the chain.
func NewNetwork(chain *Chain) *Network {
	return &Network{
		chain:    chain,
		nodes:    make(map[route.Vertex]*Node),
		invoices: make(map[lntypes.Hash]*invoice),
	}
}

// Chain returns the chain of the network.
func (n *Network) Chain() *Chain {
	return n.chain
}

// Params returns the chain parameters.
func (n *Network) Params() *chaincfg.Params {
	return n.chain.Params()
}

// createInvoice registers a hold invoice of a node and encodes its payment
// request signed by the node identity.
func (n *Network) createInvoice(node *Node,
	hold *ledger.HoldInvoice) (*ledger.CreatedInvoice, error) {

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.invoices[hold.Hash]; ok {
		return nil, ledger.NewBackendError(
			ledger.CodeRejected, "AddHoldInvoice",
			fmt.Errorf("invoice %v already exists", hold.Hash),
		)
	}

	addr := hold.PaymentAddr
	if addr == ([32]byte{}) {
		if _, err := rand.Read(addr[:]); err != nil {
			return nil, err
		}
	}

	options := []func(*zpay32.Invoice){
		zpay32.Amount(hold.AmountMsat),
		zpay32.CLTVExpiry(hold.CltvDelta),
		zpay32.PaymentAddr(addr),
	}
	if hold.DescriptionHash != nil {
		options = append(
			options, zpay32.DescriptionHash(*hold.DescriptionHash),
		)
	} else {
		options = append(options, zpay32.Description(hold.Memo))
	}
	if hold.Expiry > 0 {
		options = append(options, zpay32.Expiry(hold.Expiry))
	}

	payReq, err := zpay32.NewInvoice(
		n.chain.Params(), hold.Hash, time.Now(), options...,
	)
	if err != nil {
		return nil, err
	}

	encoded, err := payReq.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(
				node.identity, chainhash.HashB(msg), true,
			), nil
		},
	})
	if err != nil {
		return nil, err
	}

	n.invoices[hold.Hash] = &invoice{
		owner:    node,
		hold:     *hold,
		addr:     addr,
		state:    ledger.InvoiceOpen,
		resolved: make(chan struct{}),
		subs:     make(map[*notifier[ledger.InvoiceUpdate]]struct{}),
	}

	logger.Debugf("Node %v created hold invoice %v", node.name, hold.Hash)

	return &ledger.CreatedInvoice{
		PaymentRequest: encoded,
		PaymentAddr:    addr,
	}, nil
}

// ownedInvoice returns an invoice of the node. The caller must hold the
// mutex.
func (n *Network) ownedInvoice(node *Node, hash lntypes.Hash) (*invoice,
	error) {

	inv, ok := n.invoices[hash]
	if !ok || inv.owner != node {
		return nil, ledger.NewBackendError(
			ledger.CodeNotFound, "LookupInvoice",
			fmt.Errorf("invoice %v not found", hash),
		)
	}

	return inv, nil
}

func (n *Network) subscribeInvoice(ctx context.Context, node *Node,
	hash lntypes.Hash) (<-chan ledger.InvoiceUpdate, <-chan error, error) {

	n.mu.Lock()
	defer n.mu.Unlock()

	inv, err := n.ownedInvoice(node, hash)
	if err != nil {
		return nil, nil, err
	}

	var sub *notifier[ledger.InvoiceUpdate]
	sub = newNotifier[ledger.InvoiceUpdate](ctx, &n.mu, func() {
		delete(inv.subs, sub)
	})
	inv.subs[sub] = struct{}{}
	sub.notify(inv.update())

	return sub.out, sub.errs, nil
}

func (n *Network) settleInvoice(node *Node, preimage lntypes.Preimage) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	inv, err := n.ownedInvoice(node, preimage.Hash())
	if err != nil {
		return err
	}

	if inv.state != ledger.InvoiceAccepted {
		return ledger.NewBackendError(
			ledger.CodeRejected, "SettleInvoice",
			fmt.Errorf("invoice %v is %v", inv.hold.Hash,
				inv.state),
		)
	}

	inv.state = ledger.InvoiceSettled
	inv.preimage = preimage
	close(inv.resolved)
	inv.notifyAll()

	logger.Debugf("Node %v settled invoice %v", node.name, inv.hold.Hash)

	return nil
}

func (n *Network) cancelInvoice(node *Node, hash lntypes.Hash) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	inv, err := n.ownedInvoice(node, hash)
	if err != nil {
		return err
	}

	switch inv.state {
	case ledger.InvoiceCanceled:
		return nil

	case ledger.InvoiceSettled:
		return ledger.NewBackendError(
			ledger.CodeRejected, "CancelInvoice",
			fmt.Errorf("invoice %v already settled", hash),
		)
	}

	inv.state = ledger.InvoiceCanceled
	close(inv.resolved)
	inv.notifyAll()

	logger.Debugf("Node %v canceled invoice %v", node.name, hash)

	return nil
}

// failed returns the result of a payment failing at the destination.
func failed(hash lntypes.Hash,
	reason lnrpc.PaymentFailureReason) *ledger.PaymentResult {

	return &ledger.PaymentResult{
		Hash:          hash,
		FailureReason: reason,
	}
}

// sendPayment delivers a payment to the destination invoice and blocks until
// the invoice is settled or canceled.
func (n *Network) sendPayment(ctx context.Context, payer *Node,
	payment *ledger.Payment) (*ledger.PaymentResult, error) {

	var (
		hash      = payment.Hash
		dest      = payment.Destination
		amount    = payment.AmountMsat
		addr      = payment.PaymentAddr
		cltvDelta = uint64(payment.FinalCltvDelta)
	)
	if payment.PaymentRequest != "" {
		payReq, err := zpay32.Decode(
			payment.PaymentRequest, n.chain.Params(),
		)
		if err != nil {
			return nil, ledger.NewBackendError(
				ledger.CodeRejected, "SendPayment", err,
			)
		}

		hash = *payReq.PaymentHash
		dest = route.NewVertex(payReq.Destination)
		addr = payReq.PaymentAddr.UnwrapOr([32]byte{})
		cltvDelta = payReq.MinFinalCLTVExpiry()
		if payReq.MilliSat != nil && amount == 0 {
			amount = *payReq.MilliSat
		}
	}

	n.mu.Lock()
	inv, ok := n.invoices[hash]

	var reject string
	switch {
	case !ok:
		reject = "unknown invoice"

	case route.NewVertex(inv.owner.identity.PubKey()) != dest:
		reject = "wrong destination"

	case inv.addr != addr:
		reject = "payment address mismatch"

	case amount < inv.hold.AmountMsat:
		reject = "amount too low"

	case cltvDelta < inv.hold.CltvDelta:
		reject = "final cltv delta too low"

	case inv.state != ledger.InvoiceOpen:
		reject = fmt.Sprintf("invoice %v", inv.state)
	}
	if reject != "" {
		n.mu.Unlock()

		logger.Debugf("Payment %v from %v rejected: %v", hash,
			payer.name, reject)

		return failed(hash, lnrpc.PaymentFailureReason_FAILURE_REASON_INCORRECT_PAYMENT_DETAILS), nil
	}

	records := make(map[uint64][]byte, len(payment.CustomRecords))
	for key, value := range payment.CustomRecords {
		records[key] = append([]byte(nil), value...)
	}

	inv.htlcs = append(inv.htlcs, ledger.InvoiceHtlc{
		AmountMsat:    amount,
		ExpiryHeight:  n.chain.Height() + int32(cltvDelta),
		CustomRecords: records,
	})
	inv.paid += amount
	inv.state = ledger.InvoiceAccepted
	inv.notifyAll()
	resolved := inv.resolved
	n.mu.Unlock()

	logger.Debugf("Payment %v from %v held by %v", hash, payer.name,
		inv.owner.name)

	select {
	case <-resolved:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if inv.state != ledger.InvoiceSettled {
		return failed(hash, lnrpc.PaymentFailureReason_FAILURE_REASON_INCORRECT_PAYMENT_DETAILS), nil
	}

	return &ledger.PaymentResult{
		Hash:       hash,
		Succeeded:  true,
		Preimage:   inv.preimage,
		AmountMsat: amount,
	}, nil
}

// InvoiceState returns the state of an invoice.
func (n *Network) InvoiceState(hash lntypes.Hash) (ledger.InvoiceState,
	bool) {

	n.mu.Lock()
	defer n.mu.Unlock()

	inv, ok := n.invoices[hash]
	if !ok {
		return 0, false
	}

	return inv.state, true
}
