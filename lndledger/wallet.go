package lndledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/p2pswap/ledger"
	"github.com/lightninglabs/p2pswap/utils"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// fundingMinConfs is the number of confirmations of wallet outputs spent by
// funded packets.
const fundingMinConfs = 1

// BestHeight returns the current block height.
func (l *Ledger) BestHeight(ctx context.Context) (int32, error) {
	info, err := l.lnd.Client.GetInfo(ctx)
	if err != nil {
		return 0, wrap("GetInfo", err)
	}

	return int32(info.BlockHeight), nil
}

// EstimateFeeRate estimates the fee rate for a confirmation target.
func (l *Ledger) EstimateFeeRate(ctx context.Context,
	confTarget int32) (chainfee.SatPerKWeight, error) {

	rate, err := l.lnd.WalletKit.EstimateFeeRate(ctx, confTarget)

	return rate, wrap("EstimateFeeRate", err)
}

// walletTx decodes a wallet transaction.
func walletTx(tx *lnrpc.Transaction) (*ledger.WalletTx, error) {
	raw, err := hex.DecodeString(tx.RawTxHex)
	if err != nil {
		return nil, err
	}

	msgTx, err := utils.DecodeTx(raw)
	if err != nil {
		return nil, err
	}

	height := tx.BlockHeight
	if tx.NumConfirmations == 0 {
		height = 0
	}

	return &ledger.WalletTx{
		Tx:     msgTx,
		Height: height,
	}, nil
}

// ListTransactions returns the wallet transactions from a height on,
// including unconfirmed ones.
func (l *Ledger) ListTransactions(ctx context.Context,
	startHeight int32) ([]*ledger.WalletTx, error) {

	rpcCtx, timeout, client := l.lnd.Client.RawClientWithMacAuth(ctx)
	rpcCtx, cancel := context.WithTimeout(rpcCtx, timeout)
	defer cancel()

	// An end height of -1 includes unconfirmed transactions.
	resp, err := client.GetTransactions(
		rpcCtx, &lnrpc.GetTransactionsRequest{
			StartHeight: startHeight,
			EndHeight:   -1,
		},
	)
	if err != nil {
		return nil, wrap("GetTransactions", err)
	}

	txs := make([]*ledger.WalletTx, 0, len(resp.Transactions))
	for _, tx := range resp.Transactions {
		decoded, err := walletTx(tx)
		if err != nil {
			return nil, fmt.Errorf("decode %v: %w", tx.TxHash, err)
		}

		txs = append(txs, decoded)
	}

	return txs, nil
}

// leases converts the locked inputs of a funded packet.
func leases(locked []*walletrpc.UtxoLease) ([]ledger.Lease, error) {
	result := make([]ledger.Lease, 0, len(locked))
	for _, lease := range locked {
		if lease.Outpoint == nil {
			return nil, fmt.Errorf("lease %x without outpoint",
				lease.Id)
		}

		var id wtxmgr.LockID
		if len(lease.Id) != len(id) {
			return nil, fmt.Errorf("invalid lease id %x", lease.Id)
		}
		copy(id[:], lease.Id)

		hash, err := chainhash.NewHash(lease.Outpoint.TxidBytes)
		if err != nil {
			return nil, err
		}

		result = append(result, ledger.Lease{
			ID: id,
			OutPoint: wire.OutPoint{
				Hash:  *hash,
				Index: lease.Outpoint.OutputIndex,
			},
		})
	}

	return result, nil
}

// FundPsbt funds a packet paying the outputs.
func (l *Ledger) FundPsbt(ctx context.Context, outputs []*wire.TxOut,
	feeRate chainfee.SatPerKWeight) (*ledger.FundedPsbt, error) {

	tx := wire.NewMsgTx(2)
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	template, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := template.Serialize(&buf); err != nil {
		return nil, err
	}

	satPerVByte := uint64(feeRate.FeePerVByte())
	if satPerVByte == 0 {
		satPerVByte = 1
	}

	rpcCtx, timeout, client := l.lnd.WalletKit.RawClientWithMacAuth(ctx)
	rpcCtx, cancel := context.WithTimeout(rpcCtx, timeout)
	defer cancel()

	resp, err := client.FundPsbt(rpcCtx, &walletrpc.FundPsbtRequest{
		Template: &walletrpc.FundPsbtRequest_Psbt{
			Psbt: buf.Bytes(),
		},
		Fees: &walletrpc.FundPsbtRequest_SatPerVbyte{
			SatPerVbyte: satPerVByte,
		},
		MinConfs: fundingMinConfs,
	})
	if err != nil {
		return nil, wrap("FundPsbt", err)
	}

	packet, err := psbt.NewFromRawBytes(
		bytes.NewReader(resp.FundedPsbt), false,
	)
	if err != nil {
		return nil, err
	}

	locked, err := leases(resp.LockedUtxos)
	if err != nil {
		return nil, err
	}

	return &ledger.FundedPsbt{
		Packet:      packet,
		ChangeIndex: resp.ChangeOutputIndex,
		Leases:      locked,
	}, nil
}

// FinalizePsbt signs the wallet inputs of a packet and extracts the final
// transaction.
func (l *Ledger) FinalizePsbt(ctx context.Context,
	packet *psbt.Packet) (*wire.MsgTx, error) {

	_, tx, err := l.lnd.WalletKit.FinalizePsbt(ctx, packet, "")
	if err != nil {
		return nil, wrap("FinalizePsbt", err)
	}

	return tx, nil
}

// ReleaseInputs unlocks leased inputs.
func (l *Ledger) ReleaseInputs(ctx context.Context,
	leases []ledger.Lease) error {

	for _, lease := range leases {
		err := l.lnd.WalletKit.ReleaseOutput(ctx, lease.ID, lease.OutPoint)
		if err != nil {
			return wrap("ReleaseOutput", err)
		}
	}

	return nil
}

// PublishTransaction broadcasts a transaction.
func (l *Ledger) PublishTransaction(ctx context.Context, tx *wire.MsgTx,
	label string) error {

	return wrap(
		"PublishTransaction",
		l.lnd.WalletKit.PublishTransaction(ctx, tx, label),
	)
}

// NextAddress returns a fresh taproot wallet address.
func (l *Ledger) NextAddress(ctx context.Context) (btcutil.Address, error) {
	addr, err := l.lnd.WalletKit.NextAddr(
		ctx, "", walletrpc.AddressType_TAPROOT_PUBKEY, false,
	)

	return addr, wrap("NextAddr", err)
}
