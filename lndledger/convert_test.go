package lndledger

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/test"
	"github.com/lightninglabs/p2pswap/utils"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/require"
)

// TestInvoiceUpdate tests the conversion of held invoices.
func TestInvoiceUpdate(t *testing.T) {
	hash := lntypes.Hash{1}
	invoice := &lnrpc.Invoice{
		State:       lnrpc.Invoice_ACCEPTED,
		AmtPaidMsat: 5000,
		Htlcs: []*lnrpc.InvoiceHTLC{
			{
				AmtMsat:      5000,
				ExpiryHeight: 900,
				State:        lnrpc.InvoiceHTLCState_ACCEPTED,
				CustomRecords: map[uint64][]byte{
					ledger.CoopPubKeyRecordType: {2},
				},
			},
			{
				AmtMsat:      7000,
				ExpiryHeight: 800,
				State:        lnrpc.InvoiceHTLCState_CANCELED,
			},
		},
	}

	update, err := invoiceUpdate(hash, invoice)
	require.NoError(t, err)
	require.Equal(t, hash, update.Hash)
	require.Equal(t, ledger.InvoiceAccepted, update.State)
	require.EqualValues(t, 5000, update.AmountPaidMsat)

	// The failed back htlc does not count.
	require.Len(t, update.Htlcs, 1)
	require.EqualValues(t, 900, update.MinExpiry())

	record, ok := update.CustomRecord(ledger.CoopPubKeyRecordType)
	require.True(t, ok)
	require.Equal(t, []byte{2}, record)
	require.Nil(t, update.Preimage)

	// A settled invoice carries its preimage.
	preimage := lntypes.Preimage{4}
	update, err = invoiceUpdate(hash, &lnrpc.Invoice{
		State:     lnrpc.Invoice_SETTLED,
		RPreimage: preimage[:],
	})
	require.NoError(t, err)
	require.Equal(t, ledger.InvoiceSettled, update.State)
	require.Equal(t, &preimage, update.Preimage)

	_, err = invoiceUpdate(hash, &lnrpc.Invoice{State: 42})
	require.Error(t, err)
}

// TestPaymentResult tests the conversion of payment updates.
func TestPaymentResult(t *testing.T) {
	preimage := lntypes.Preimage{3}
	hash := preimage.Hash()

	result, err := paymentResult(hash, &lnrpc.Payment{
		Status: lnrpc.Payment_IN_FLIGHT,
	})
	require.NoError(t, err)
	require.Nil(t, result)

	result, err = paymentResult(hash, &lnrpc.Payment{
		Status:          lnrpc.Payment_SUCCEEDED,
		PaymentPreimage: preimage.String(),
		ValueMsat:       1000,
		FeeMsat:         7,
	})
	require.NoError(t, err)
	require.True(t, result.Succeeded)
	require.Equal(t, preimage, result.Preimage)
	require.EqualValues(t, 1000, result.AmountMsat)
	require.EqualValues(t, 7, result.FeeMsat)

	incorrectDetails := lnrpc.PaymentFailureReason_FAILURE_REASON_INCORRECT_PAYMENT_DETAILS
	result, err = paymentResult(hash, &lnrpc.Payment{
		Status:        lnrpc.Payment_FAILED,
		FailureReason: incorrectDetails,
	})
	require.NoError(t, err)
	require.False(t, result.Succeeded)
	require.Equal(t, incorrectDetails, result.FailureReason)
}

// TestSendRequest tests the router requests of invoice and spontaneous
// payments.
func TestSendRequest(t *testing.T) {
	req := sendRequest(&ledger.Payment{
		PaymentRequest: "lnbcrt1",
		Hash:           lntypes.Hash{1},
		MaxFee:         50,
	})
	require.Equal(t, "lnbcrt1", req.PaymentRequest)
	require.Nil(t, req.Dest)
	require.Nil(t, req.PaymentHash)
	require.EqualValues(t, 50, req.FeeLimitSat)
	require.EqualValues(t, 60, req.TimeoutSeconds)

	_, pubKey := test.CreateKey(1)
	lastHop := route.NewVertex(pubKey)
	records := map[uint64][]byte{ledger.PreimageRecordType: {4}}

	req = sendRequest(&ledger.Payment{
		Hash:           lntypes.Hash{2},
		Destination:    route.Vertex{9},
		AmountMsat:     1000,
		PaymentAddr:    [32]byte{5},
		FinalCltvDelta: 80,
		LastHop:        &lastHop,
		CustomRecords:  records,
	})
	require.Equal(t, route.Vertex{9}, route.Vertex(req.Dest))
	require.EqualValues(t, 1000, req.AmtMsat)
	require.Equal(t, []byte{5}, req.PaymentAddr[:1])
	require.EqualValues(t, 80, req.FinalCltvDelta)
	require.Equal(t, lastHop[:], req.LastHopPubkey)
	require.Equal(t, records, req.DestCustomRecords)
	require.Contains(t, req.DestFeatures, lnrpc.FeatureBit_PAYMENT_ADDR_REQ)

	// A zero payment address is left to the destination.
	req = sendRequest(&ledger.Payment{
		Destination: route.Vertex{9},
		AmountMsat:  1000,
	})
	require.Nil(t, req.PaymentAddr)
}

// TestLeases tests the conversion of locked wallet outputs.
func TestLeases(t *testing.T) {
	txid := chainhash.Hash{6}
	id := bytes.Repeat([]byte{7}, 32)

	result, err := leases([]*walletrpc.UtxoLease{{
		Id: id,
		Outpoint: &lnrpc.OutPoint{
			TxidBytes:   txid[:],
			OutputIndex: 2,
		},
	}})
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, id, result[0].ID[:])
	require.Equal(t, wire.OutPoint{Hash: txid, Index: 2}, result[0].OutPoint)

	_, err = leases([]*walletrpc.UtxoLease{{Id: id}})
	require.Error(t, err)

	_, err = leases([]*walletrpc.UtxoLease{{
		Id:       id[:5],
		Outpoint: &lnrpc.OutPoint{TxidBytes: txid[:]},
	}})
	require.Error(t, err)
}

// TestWalletTx tests decoding of wallet transactions.
func TestWalletTx(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 1},
	})
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	raw, err := utils.EncodeTx(tx)
	require.NoError(t, err)

	decoded, err := walletTx(&lnrpc.Transaction{
		RawTxHex:         hex.EncodeToString(raw),
		BlockHeight:      700,
		NumConfirmations: 3,
	})
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), decoded.Tx.TxHash())
	require.EqualValues(t, 700, decoded.Height)

	decoded, err = walletTx(&lnrpc.Transaction{
		RawTxHex: hex.EncodeToString(raw),
	})
	require.NoError(t, err)
	require.Zero(t, decoded.Height)

	_, err = walletTx(&lnrpc.Transaction{RawTxHex: "zz"})
	require.Error(t, err)
}
