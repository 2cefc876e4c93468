package utils

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// EncodeTx encodes a tx to raw bytes.
func EncodeTx(tx *wire.MsgTx) ([]byte, error) {
	var buffer bytes.Buffer
	err := tx.BtcEncode(&buffer, 0, wire.WitnessEncoding)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// DecodeTx decodes raw tx bytes.
func DecodeTx(rawTx []byte) (*wire.MsgTx, error) {
	tx := wire.MsgTx{}
	err := tx.BtcDecode(bytes.NewReader(rawTx), 0, wire.WitnessEncoding)
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// DustLimitForPkScript returns the dust limit for a given pkScript. An output
// must be greater or equal to this value.
func DustLimitForPkScript(pkscript []byte) btcutil.Amount {
	return btcutil.Amount(mempool.GetDustThreshold(&wire.TxOut{
		PkScript: pkscript,
	}))
}

// CapSweepFee caps a sweep fee to a share of the swept value. It returns the
// capped fee, the effective fee rate and whether the cap applied.
func CapSweepFee(fee, total btcutil.Amount, share float64,
	weight lntypes.WeightUnit) (btcutil.Amount, chainfee.SatPerKWeight,
	bool) {

	maxFee := btcutil.Amount(float64(total) * share)

	capped := false
	if fee > maxFee {
		fee = maxFee
		capped = true
	}

	return fee, chainfee.NewSatPerKWeight(fee, weight), capped
}
