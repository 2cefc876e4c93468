package ledger

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/chainntnfs"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

const (
	// CoopPubKeyRecordType is the custom record carrying the requester's
	// cooperative public key fragment in the deposit payment.
	CoopPubKeyRecordType uint64 = 805805

	// PreimageRecordType is the custom record carrying the swap secret in
	// the push payment.
	PreimageRecordType uint64 = 805806
)

// InvoiceState is the state of a hold invoice.
type InvoiceState uint8

const (
	// InvoiceOpen means no htlc is held yet.
	InvoiceOpen InvoiceState = iota

	// InvoiceAccepted means htlcs paying the invoice are held.
	InvoiceAccepted

	// InvoiceSettled means the invoice was settled with its preimage.
	InvoiceSettled

	// InvoiceCanceled means the invoice was canceled and its htlcs failed
	// back.
	InvoiceCanceled
)

func (s InvoiceState) String() string {
	switch s {
	case InvoiceOpen:
		return "Open"

	case InvoiceAccepted:
		return "Accepted"

	case InvoiceSettled:
		return "Settled"

	case InvoiceCanceled:
		return "Canceled"

	default:
		return "Unknown"
	}
}

// IsFinal returns true if the invoice can no longer change.
func (s InvoiceState) IsFinal() bool {
	return s == InvoiceSettled || s == InvoiceCanceled
}

// HoldInvoice describes an invoice that is held until settled or canceled
// explicitly.
type HoldInvoice struct {
	// Hash is the payment hash.
	Hash lntypes.Hash

	// AmountMsat is the invoice amount.
	AmountMsat lnwire.MilliSatoshi

	// PaymentAddr is the requested payment address. A zero address lets
	// the backend choose one.
	PaymentAddr [32]byte

	// CltvDelta is the final cltv delta of the invoice.
	CltvDelta uint64

	// DescriptionHash commits the invoice to external data.
	DescriptionHash *[32]byte

	// Memo is a human readable description.
	Memo string

	// Expiry is the time the invoice can be paid for.
	Expiry time.Duration
}

// CreatedInvoice is a hold invoice known to the backend.
type CreatedInvoice struct {
	// PaymentRequest is the BOLT11 encoding of the invoice.
	PaymentRequest string

	// PaymentAddr is the payment address the invoice was created with.
	PaymentAddr [32]byte
}

// InvoiceHtlc is an htlc paying a hold invoice.
type InvoiceHtlc struct {
	// AmountMsat is the amount of the htlc.
	AmountMsat lnwire.MilliSatoshi

	// ExpiryHeight is the absolute height at which the htlc expires.
	ExpiryHeight int32

	// CustomRecords are the custom onion records of the final hop.
	CustomRecords map[uint64][]byte
}

// InvoiceUpdate is a state change of a hold invoice.
type InvoiceUpdate struct {
	// Hash is the payment hash of the invoice.
	Hash lntypes.Hash

	// State is the new invoice state.
	State InvoiceState

	// AmountPaidMsat is the sum of the accepted htlcs.
	AmountPaidMsat lnwire.MilliSatoshi

	// Htlcs are the htlcs paying the invoice.
	Htlcs []InvoiceHtlc

	// Preimage is the preimage the invoice was settled with. It is only
	// set for settled invoices.
	Preimage *lntypes.Preimage
}

// CustomRecord returns the first value of the custom record among the held
// htlcs.
func (u *InvoiceUpdate) CustomRecord(recordType uint64) ([]byte, bool) {
	for _, htlc := range u.Htlcs {
		value, ok := htlc.CustomRecords[recordType]
		if ok {
			return value, true
		}
	}

	return nil, false
}

// MinExpiry returns the lowest expiry height of the held htlcs, or zero if
// there are none.
func (u *InvoiceUpdate) MinExpiry() int32 {
	var expiry int32
	for _, htlc := range u.Htlcs {
		if expiry == 0 || htlc.ExpiryHeight < expiry {
			expiry = htlc.ExpiryHeight
		}
	}

	return expiry
}

// Payment describes an outgoing payment.
type Payment struct {
	// PaymentRequest is the BOLT11 request to pay. If it is set, the
	// destination, hash and amount are taken from it.
	PaymentRequest string

	// Hash is the payment hash.
	Hash lntypes.Hash

	// Destination is the final node.
	Destination route.Vertex

	// AmountMsat is the amount to deliver.
	AmountMsat lnwire.MilliSatoshi

	// PaymentAddr is the payment address of the destination invoice.
	PaymentAddr [32]byte

	// FinalCltvDelta is the cltv delta of the final hop.
	FinalCltvDelta uint16

	// MaxFee is the routing fee limit.
	MaxFee btcutil.Amount

	// LastHop optionally restricts the last hop of the route.
	LastHop *route.Vertex

	// CustomRecords are added to the onion of the final hop.
	CustomRecords map[uint64][]byte

	// Timeout bounds the time spent on path finding.
	Timeout time.Duration
}

// PaymentResult is the final outcome of a payment.
type PaymentResult struct {
	// Hash is the payment hash.
	Hash lntypes.Hash

	// Succeeded is true if the payment was settled.
	Succeeded bool

	// Preimage is the preimage revealed by the settlement.
	Preimage lntypes.Preimage

	// FailureReason is set if the payment failed.
	FailureReason lnrpc.PaymentFailureReason

	// AmountMsat is the amount delivered.
	AmountMsat lnwire.MilliSatoshi

	// FeeMsat is the routing fee paid.
	FeeMsat lnwire.MilliSatoshi
}

// WalletTx is a transaction relevant to the wallet.
type WalletTx struct {
	// Tx is the transaction.
	Tx *wire.MsgTx

	// Height is the confirmation height, zero if unconfirmed.
	Height int32
}

// Lease is a wallet output locked for a funding transaction.
type Lease struct {
	// ID identifies the lock.
	ID wtxmgr.LockID

	// OutPoint is the locked output.
	OutPoint wire.OutPoint
}

// FundedPsbt is a packet funded by the wallet.
type FundedPsbt struct {
	// Packet is the funded packet.
	Packet *psbt.Packet

	// ChangeIndex is the index of the change output, -1 if none.
	ChangeIndex int32

	// Leases are the locked inputs of the packet.
	Leases []Lease
}

// TapscriptSignRequest asks the backend for a schnorr signature of the first
// input of a transaction spending a tapscript leaf.
type TapscriptSignRequest struct {
	// Tx is the transaction to sign.
	Tx *wire.MsgTx

	// PrevOut is the output spent by the first input.
	PrevOut *wire.TxOut

	// KeyLocator identifies the signing key.
	KeyLocator keychain.KeyLocator

	// LeafScript is the script of the leaf being spent.
	LeafScript []byte
}

// Invoices manages hold invoices.
type Invoices interface {
	// CreateHoldInvoice creates a hold invoice.
	CreateHoldInvoice(ctx context.Context,
		invoice *HoldInvoice) (*CreatedInvoice, error)

	// SubscribeInvoice streams state changes of an invoice.
	SubscribeInvoice(ctx context.Context, hash lntypes.Hash) (
		<-chan InvoiceUpdate, <-chan error, error)

	// SettleInvoice settles a held invoice.
	SettleInvoice(ctx context.Context, preimage lntypes.Preimage) error

	// CancelInvoice cancels an invoice.
	CancelInvoice(ctx context.Context, hash lntypes.Hash) error
}

// Payments sends payments.
type Payments interface {
	// SendPayment pays and blocks until the payment is final.
	SendPayment(ctx context.Context, payment *Payment) (*PaymentResult,
		error)
}

// Keys provides key derivation and signing.
type Keys interface {
	// DeriveNextKey derives the next key of a family.
	DeriveNextKey(ctx context.Context,
		family int32) (*keychain.KeyDescriptor, error)

	// DeriveKey derives the key at a locator.
	DeriveKey(ctx context.Context,
		locator *keychain.KeyLocator) (*keychain.KeyDescriptor, error)

	// DeriveSharedKey returns the ECDH secret of the node identity key
	// and a public key.
	DeriveSharedKey(ctx context.Context, pubKey *btcec.PublicKey) (
		[32]byte, error)

	// NodePubKey returns the node identity key.
	NodePubKey(ctx context.Context) (*btcec.PublicKey, error)

	// SignTapscript signs a tapscript leaf spend.
	SignTapscript(ctx context.Context,
		req *TapscriptSignRequest) ([]byte, error)
}

// Wallet is the on-chain wallet.
type Wallet interface {
	// BestHeight returns the current block height.
	BestHeight(ctx context.Context) (int32, error)

	// EstimateFeeRate estimates the fee rate for a confirmation target.
	EstimateFeeRate(ctx context.Context,
		confTarget int32) (chainfee.SatPerKWeight, error)

	// ListTransactions returns the wallet transactions from a height on,
	// including unconfirmed ones.
	ListTransactions(ctx context.Context, startHeight int32) ([]*WalletTx,
		error)

	// FundPsbt funds a packet paying the outputs.
	FundPsbt(ctx context.Context, outputs []*wire.TxOut,
		feeRate chainfee.SatPerKWeight) (*FundedPsbt, error)

	// FinalizePsbt signs the wallet inputs of a packet and extracts the
	// final transaction.
	FinalizePsbt(ctx context.Context, packet *psbt.Packet) (*wire.MsgTx,
		error)

	// ReleaseInputs unlocks leased inputs.
	ReleaseInputs(ctx context.Context, leases []Lease) error

	// PublishTransaction broadcasts a transaction.
	PublishTransaction(ctx context.Context, tx *wire.MsgTx,
		label string) error

	// NextAddress returns a fresh taproot wallet address.
	NextAddress(ctx context.Context) (btcutil.Address, error)
}

// Ledger is the Lightning node backing a swap.
type Ledger interface {
	Invoices
	Payments
	Keys
	Wallet
}

// ChainMonitor streams chain events.
type ChainMonitor interface {
	// RegisterBlockEpochNtfn streams new block heights, starting with the
	// current height.
	RegisterBlockEpochNtfn(ctx context.Context) (<-chan int32,
		<-chan error, error)

	// RegisterConfirmationsNtfn notifies of a transaction paying the
	// script. A nil txid matches any transaction.
	RegisterConfirmationsNtfn(ctx context.Context, txid *chainhash.Hash,
		pkScript []byte, numConfs, heightHint int32) (
		<-chan *chainntnfs.TxConfirmation, <-chan error, error)

	// RegisterSpendNtfn notifies of the confirmed spend of an outpoint.
	RegisterSpendNtfn(ctx context.Context, outpoint *wire.OutPoint,
		pkScript []byte, heightHint int32) (
		<-chan *chainntnfs.SpendDetail, <-chan error, error)
}

// FoundOutput is an output paying a script.
type FoundOutput struct {
	// OutPoint is the output.
	OutPoint wire.OutPoint

	// Value is the output value.
	Value btcutil.Amount

	// ConfHeight is the confirmation height.
	ConfHeight int32

	// Coinbase is true if the output was created by a coinbase
	// transaction.
	Coinbase bool
}

// OutputFinder looks up a confirmed output paying a script.
type OutputFinder interface {
	// FindOutput blocks until a confirmed output paying the script is
	// found at or above the height hint.
	FindOutput(ctx context.Context, pkScript []byte,
		heightHint int32) (*FoundOutput, error)
}
