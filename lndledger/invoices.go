package lndledger

import (
	"context"
	"fmt"

	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// CreateHoldInvoice creates a hold invoice. lnd picks the payment address
// itself, the address of the created invoice is decoded from its payment
// request.
func (l *Ledger) CreateHoldInvoice(ctx context.Context,
	invoice *ledger.HoldInvoice) (*ledger.CreatedInvoice, error) {

	hash := invoice.Hash
	data := &invoicesrpc.AddInvoiceData{
		Memo:        invoice.Memo,
		Hash:        &hash,
		Value:       invoice.AmountMsat,
		Expiry:      int64(invoice.Expiry.Seconds()),
		CltvExpiry:  invoice.CltvDelta,
		HodlInvoice: true,
	}
	if invoice.DescriptionHash != nil {
		data.DescriptionHash = invoice.DescriptionHash[:]
	}

	payReq, err := l.lnd.Invoices.AddHoldInvoice(ctx, data)
	if err != nil {
		return nil, wrap("AddHoldInvoice", err)
	}

	decoded, err := swap.DecodePayReq(l.lnd.ChainParams, payReq)
	if err != nil {
		return nil, fmt.Errorf("decode created invoice: %w", err)
	}

	if invoice.PaymentAddr != ([32]byte{}) &&
		decoded.PaymentAddr != invoice.PaymentAddr {

		log.Debugf("Invoice %v created with payment addr %x instead "+
			"of %x", hash, decoded.PaymentAddr, invoice.PaymentAddr)
	}

	return &ledger.CreatedInvoice{
		PaymentRequest: payReq,
		PaymentAddr:    decoded.PaymentAddr,
	}, nil
}

// invoiceState maps an lnd invoice state.
func invoiceState(state lnrpc.Invoice_InvoiceState) (ledger.InvoiceState,
	error) {

	switch state {
	case lnrpc.Invoice_OPEN:
		return ledger.InvoiceOpen, nil

	case lnrpc.Invoice_ACCEPTED:
		return ledger.InvoiceAccepted, nil

	case lnrpc.Invoice_SETTLED:
		return ledger.InvoiceSettled, nil

	case lnrpc.Invoice_CANCELED:
		return ledger.InvoiceCanceled, nil

	default:
		return 0, fmt.Errorf("unknown invoice state: %v", state)
	}
}

// invoiceUpdate converts an lnd invoice. Htlcs that were failed back are
// left out.
func invoiceUpdate(hash lntypes.Hash,
	invoice *lnrpc.Invoice) (*ledger.InvoiceUpdate, error) {

	state, err := invoiceState(invoice.State)
	if err != nil {
		return nil, err
	}

	update := &ledger.InvoiceUpdate{
		Hash:           hash,
		State:          state,
		AmountPaidMsat: lnwire.MilliSatoshi(invoice.AmtPaidMsat),
	}

	if state == ledger.InvoiceSettled && len(invoice.RPreimage) > 0 {
		preimage, err := lntypes.MakePreimage(invoice.RPreimage)
		if err != nil {
			return nil, err
		}
		update.Preimage = &preimage
	}

	for _, htlc := range invoice.Htlcs {
		if htlc.State == lnrpc.InvoiceHTLCState_CANCELED {
			continue
		}

		update.Htlcs = append(update.Htlcs, ledger.InvoiceHtlc{
			AmountMsat:    lnwire.MilliSatoshi(htlc.AmtMsat),
			ExpiryHeight:  htlc.ExpiryHeight,
			CustomRecords: htlc.CustomRecords,
		})
	}

	return update, nil
}

// SubscribeInvoice streams state changes of an invoice, including the htlcs
// held for it.
func (l *Ledger) SubscribeInvoice(ctx context.Context, hash lntypes.Hash) (
	<-chan ledger.InvoiceUpdate, <-chan error, error) {

	rpcCtx, _, client := l.lnd.Invoices.RawClientWithMacAuth(ctx)
	stream, err := client.SubscribeSingleInvoice(
		rpcCtx, &invoicesrpc.SubscribeSingleInvoiceRequest{
			RHash: hash[:],
		},
	)
	if err != nil {
		return nil, nil, wrap("SubscribeSingleInvoice", err)
	}

	updateChan := make(chan ledger.InvoiceUpdate)
	errChan := make(chan error, 1)

	go func() {
		for {
			invoice, err := stream.Recv()
			if err != nil {
				errChan <- wrap("SubscribeSingleInvoice", err)
				return
			}

			update, err := invoiceUpdate(hash, invoice)
			if err != nil {
				errChan <- err
				return
			}

			select {
			case updateChan <- *update:

			case <-ctx.Done():
				return
			}
		}
	}()

	return updateChan, errChan, nil
}

// SettleInvoice settles a held invoice.
func (l *Ledger) SettleInvoice(ctx context.Context,
	preimage lntypes.Preimage) error {

	return wrap("SettleInvoice", l.lnd.Invoices.SettleInvoice(ctx, preimage))
}

// CancelInvoice cancels an invoice.
func (l *Ledger) CancelInvoice(ctx context.Context, hash lntypes.Hash) error {
	return wrap("CancelInvoice", l.lnd.Invoices.CancelInvoice(ctx, hash))
}
