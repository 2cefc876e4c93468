package test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/routing/route"
)

const (
	// p2trDustLimit is the dust limit of a taproot output.
	p2trDustLimit = btcutil.Amount(330)

	// DefaultFeeRate is the fee rate nodes estimate by default.
	DefaultFeeRate = chainfee.SatPerKWeight(1250)
)

// ErrInsufficientFunds is returned when the wallet cannot fund a packet.
var ErrInsufficientFunds = errors.New("insufficient wallet funds")

// Node is a Lightning node of the simulated network. It implements the full
// ledger with deterministic keys and a taproot wallet on the shared chain.
type Node struct {
	name     string
	network  *Network
	identity *btcec.PrivateKey
	seed     [32]byte

	mu         sync.Mutex
	nextIndex  map[keychain.KeyFamily]uint32
	walletKeys map[string]*btcec.PrivateKey
	leases     map[wire.OutPoint]wtxmgr.LockID
	ownTxs     map[chainhash.Hash]struct{}
	labels     map[chainhash.Hash]string
	feeRate    chainfee.SatPerKWeight
}

var _ ledger.Ledger = (*Node)(nil)

// NewNode adds a node to the network. Its keys are derived from its name.
func (n *Network) NewNode(name string) *Node {
	seed := sha256.Sum256([]byte("seed/" + name))
	identity, _ := btcec.PrivKeyFromBytes(chainhash.TaggedHash(
		[]byte("identity"), seed[:],
	)[:])

	node := &Node{
		name:       name,
		network:    n,
		identity:   identity,
		seed:       seed,
		nextIndex:  make(map[keychain.KeyFamily]uint32),
		walletKeys: make(map[string]*btcec.PrivateKey),
		leases:     make(map[wire.OutPoint]wtxmgr.LockID),
		ownTxs:     make(map[chainhash.Hash]struct{}),
		labels:     make(map[chainhash.Hash]string),
		feeRate:    DefaultFeeRate,
	}

	n.mu.Lock()
	n.nodes[route.NewVertex(identity.PubKey())] = node
	n.mu.Unlock()

	return node
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// Vertex returns the identity of the node in the graph.
func (n *Node) Vertex() route.Vertex {
	return route.NewVertex(n.identity.PubKey())
}

// SetFeeRate sets the fee rate the node estimates.
func (n *Node) SetFeeRate(feeRate chainfee.SatPerKWeight) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.feeRate = feeRate
}

// privKey derives the private key at a locator.
func (n *Node) privKey(locator keychain.KeyLocator) *btcec.PrivateKey {
	var loc [8]byte
	binary.BigEndian.PutUint32(loc[:4], uint32(locator.Family))
	binary.BigEndian.PutUint32(loc[4:], locator.Index)

	key, _ := btcec.PrivKeyFromBytes(chainhash.TaggedHash(
		[]byte("derive"), n.seed[:], loc[:],
	)[:])

	return key
}

// CreateHoldInvoice creates a hold invoice owned by this node.
func (n *Node) CreateHoldInvoice(_ context.Context,
	hold *ledger.HoldInvoice) (*ledger.CreatedInvoice, error) {

	return n.network.createInvoice(n, hold)
}

// SubscribeInvoice streams the states of an invoice of this node, starting
// with the current one.
func (n *Node) SubscribeInvoice(ctx context.Context, hash lntypes.Hash) (
	<-chan ledger.InvoiceUpdate, <-chan error, error) {

	return n.network.subscribeInvoice(ctx, n, hash)
}

// SettleInvoice settles an accepted invoice.
func (n *Node) SettleInvoice(_ context.Context,
	preimage lntypes.Preimage) error {

	return n.network.settleInvoice(n, preimage)
}

// CancelInvoice cancels an invoice.
func (n *Node) CancelInvoice(_ context.Context, hash lntypes.Hash) error {
	return n.network.cancelInvoice(n, hash)
}

// SendPayment pays an invoice of another node and blocks until it is
// resolved.
func (n *Node) SendPayment(ctx context.Context,
	payment *ledger.Payment) (*ledger.PaymentResult, error) {

	return n.network.sendPayment(ctx, n, payment)
}

// DeriveNextKey derives the next unused key of the family.
func (n *Node) DeriveNextKey(_ context.Context,
	family int32) (*keychain.KeyDescriptor, error) {

	n.mu.Lock()
	defer n.mu.Unlock()

	locator := keychain.KeyLocator{
		Family: keychain.KeyFamily(family),
		Index:  n.nextIndex[keychain.KeyFamily(family)],
	}
	n.nextIndex[locator.Family]++

	return &keychain.KeyDescriptor{
		KeyLocator: locator,
		PubKey:     n.privKey(locator).PubKey(),
	}, nil
}

// DeriveKey derives the key at the locator.
func (n *Node) DeriveKey(_ context.Context,
	locator *keychain.KeyLocator) (*keychain.KeyDescriptor, error) {

	return &keychain.KeyDescriptor{
		KeyLocator: *locator,
		PubKey:     n.privKey(*locator).PubKey(),
	}, nil
}

// DeriveSharedKey returns the ECDH secret of the identity key and the public
// key.
func (n *Node) DeriveSharedKey(_ context.Context,
	pubKey *btcec.PublicKey) ([32]byte, error) {

	ecdh := &keychain.PrivKeyECDH{PrivKey: n.identity}

	return ecdh.ECDH(pubKey)
}

// NodePubKey returns the identity key.
func (n *Node) NodePubKey(context.Context) (*btcec.PublicKey, error) {
	return n.identity.PubKey(), nil
}

// SignTapscript signs the first input of a leaf spend with a derived key.
func (n *Node) SignTapscript(_ context.Context,
	req *ledger.TapscriptSignRequest) ([]byte, error) {

	fetcher := txscript.NewCannedPrevOutputFetcher(
		req.PrevOut.PkScript, req.PrevOut.Value,
	)

	return txscript.RawTxInTapscriptSignature(
		req.Tx, txscript.NewTxSigHashes(req.Tx, fetcher), 0,
		req.PrevOut.Value, req.PrevOut.PkScript,
		txscript.NewBaseTapLeaf(req.LeafScript),
		txscript.SigHashDefault, n.privKey(req.KeyLocator),
	)
}

// BestHeight returns the chain tip.
func (n *Node) BestHeight(context.Context) (int32, error) {
	return n.network.chain.Height(), nil
}

// EstimateFeeRate returns the configured fee rate.
func (n *Node) EstimateFeeRate(context.Context,
	int32) (chainfee.SatPerKWeight, error) {

	n.mu.Lock()
	defer n.mu.Unlock()

	return n.feeRate, nil
}

// walletScripts returns the scripts of all wallet addresses. The caller must
// hold the mutex.
func (n *Node) walletScripts() [][]byte {
	scripts := make([][]byte, 0, len(n.walletKeys))
	for script := range n.walletKeys {
		scripts = append(scripts, []byte(script))
	}

	return scripts
}

// ListTransactions returns the transactions published by the node or paying
// one of its addresses.
func (n *Node) ListTransactions(_ context.Context,
	startHeight int32) ([]*ledger.WalletTx, error) {

	n.mu.Lock()
	defer n.mu.Unlock()

	var relevant []*ledger.WalletTx
	for _, walletTx := range n.network.chain.Transactions(startHeight) {
		if _, ok := n.ownTxs[walletTx.Tx.TxHash()]; ok {
			relevant = append(relevant, walletTx)
			continue
		}

		for _, out := range walletTx.Tx.TxOut {
			if _, ok := n.walletKeys[string(out.PkScript)]; ok {
				relevant = append(relevant, walletTx)
				break
			}
		}
	}

	return relevant, nil
}

// newWalletKey creates a new wallet key and returns its script. The caller
// must hold the mutex.
func (n *Node) newWalletKey() (btcutil.Address, error) {
	locator := keychain.KeyLocator{
		Family: keychain.KeyFamilyMultiSig,
		Index:  n.nextIndex[keychain.KeyFamilyMultiSig],
	}
	n.nextIndex[locator.Family]++

	key := n.privKey(locator)
	outputKey := txscript.ComputeTaprootKeyNoScript(key.PubKey())

	addr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(outputKey), n.network.Params(),
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	n.walletKeys[string(pkScript)] = key

	return addr, nil
}

// NextAddress returns a new taproot wallet address.
func (n *Node) NextAddress(context.Context) (btcutil.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.newWalletKey()
}

// Fund pays the value to a new wallet address. The output confirms with the
// next block.
func (n *Node) Fund(value btcutil.Amount) (wire.OutPoint, error) {
	n.mu.Lock()
	addr, err := n.newWalletKey()
	n.mu.Unlock()
	if err != nil {
		return wire.OutPoint{}, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return wire.OutPoint{}, err
	}

	return n.network.chain.Faucet(pkScript, value), nil
}

// FundPsbt selects unleased wallet outputs paying for the outputs and leases
// them.
func (n *Node) FundPsbt(_ context.Context, outputs []*wire.TxOut,
	feeRate chainfee.SatPerKWeight) (*ledger.FundedPsbt, error) {

	n.mu.Lock()
	defer n.mu.Unlock()

	unspent := n.network.chain.Unspent(n.walletScripts())
	outpoints := make([]wire.OutPoint, 0, len(unspent))
	for op := range unspent {
		if _, leased := n.leases[op]; !leased {
			outpoints = append(outpoints, op)
		}
	}
	sort.Slice(outpoints, func(i, j int) bool {
		return bytes.Compare(
			outpoints[i].Hash[:], outpoints[j].Hash[:],
		) < 0 || (outpoints[i].Hash == outpoints[j].Hash &&
			outpoints[i].Index < outpoints[j].Index)
	})

	var (
		estimator input.TxWeightEstimator
		target    btcutil.Amount
	)
	for _, out := range outputs {
		estimator.AddOutput(out.PkScript)
		target += btcutil.Amount(out.Value)
	}
	estimator.AddP2TROutput()

	var (
		selected []*wire.OutPoint
		total    btcutil.Amount
		fee      btcutil.Amount
	)
	for i := range outpoints {
		op := outpoints[i]
		estimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
		selected = append(selected, &op)
		total += btcutil.Amount(unspent[op].Value)

		fee = feeRate.FeeForWeight(estimator.Weight())
		if total >= target+fee {
			break
		}
	}
	if total < target+fee {
		return nil, ledger.NewBackendError(
			ledger.CodeRejected, "FundPsbt",
			fmt.Errorf("%w: %v available, %v needed",
				ErrInsufficientFunds, total, target+fee),
		)
	}

	txOuts := make([]*wire.TxOut, 0, len(outputs)+1)
	for _, out := range outputs {
		txOuts = append(txOuts, &wire.TxOut{
			PkScript: out.PkScript,
			Value:    out.Value,
		})
	}

	changeIndex := int32(-1)
	if change := total - target - fee; change >= p2trDustLimit {
		changeAddr, err := n.newWalletKey()
		if err != nil {
			return nil, err
		}

		changeScript, err := txscript.PayToAddrScript(changeAddr)
		if err != nil {
			return nil, err
		}

		changeIndex = int32(len(txOuts))
		txOuts = append(txOuts, &wire.TxOut{
			PkScript: changeScript,
			Value:    int64(change),
		})
	}

	sequences := make([]uint32, len(selected))
	for i := range sequences {
		sequences[i] = wire.MaxTxInSequenceNum - 2
	}

	packet, err := psbt.New(selected, txOuts, 2, 0, sequences)
	if err != nil {
		return nil, err
	}

	leases := make([]ledger.Lease, 0, len(selected))
	for i, op := range selected {
		packet.Inputs[i].WitnessUtxo = unspent[*op]

		var id wtxmgr.LockID
		if _, err := rand.Read(id[:]); err != nil {
			return nil, err
		}
		n.leases[*op] = id

		leases = append(leases, ledger.Lease{ID: id, OutPoint: *op})
	}

	return &ledger.FundedPsbt{
		Packet:      packet,
		ChangeIndex: changeIndex,
		Leases:      leases,
	}, nil
}

// FinalizePsbt signs all wallet inputs of the packet.
func (n *Node) FinalizePsbt(_ context.Context,
	packet *psbt.Packet) (*wire.MsgTx, error) {

	n.mu.Lock()
	defer n.mu.Unlock()

	tx := packet.UnsignedTx.Copy()

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		utxo := packet.Inputs[i].WitnessUtxo
		if utxo == nil {
			return nil, fmt.Errorf("input %v lacks witness utxo", i)
		}

		fetcher.AddPrevOut(in.PreviousOutPoint, utxo)
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i := range tx.TxIn {
		utxo := packet.Inputs[i].WitnessUtxo
		key, ok := n.walletKeys[string(utxo.PkScript)]
		if !ok {
			return nil, fmt.Errorf("input %v is not ours", i)
		}

		sig, err := txscript.RawTxInTaprootSignature(
			tx, sigHashes, i, utxo.Value, utxo.PkScript, []byte{},
			txscript.SigHashDefault, key,
		)
		if err != nil {
			return nil, ledger.NewBackendError(
				ledger.CodeSigningFailed, "FinalizePsbt", err,
			)
		}

		tx.TxIn[i].Witness = wire.TxWitness{sig}
	}

	return tx, nil
}

// ReleaseInputs removes the leases.
func (n *Node) ReleaseInputs(_ context.Context, leases []ledger.Lease) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, lease := range leases {
		if n.leases[lease.OutPoint] == lease.ID {
			delete(n.leases, lease.OutPoint)
		}
	}

	return nil
}

// PublishTransaction broadcasts a transaction and records its label. Leases
// on the outputs it spends end, since those outputs are gone from the wallet.
func (n *Node) PublishTransaction(_ context.Context, tx *wire.MsgTx,
	label string) error {

	if err := n.network.chain.Publish(tx); err != nil {
		return ledger.NewBackendError(
			ledger.CodeRejected, "PublishTransaction", err,
		)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	txid := tx.TxHash()
	n.ownTxs[txid] = struct{}{}
	n.labels[txid] = label

	for _, in := range tx.TxIn {
		delete(n.leases, in.PreviousOutPoint)
	}

	return nil
}

// Label returns the label a transaction was published with.
func (n *Node) Label(txid chainhash.Hash) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	label, ok := n.labels[txid]

	return label, ok
}

// Leases returns the number of leased wallet outputs.
func (n *Node) Leases() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.leases)
}
