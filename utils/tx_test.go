package utils

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
)

type pkScriptGetter func([]byte) ([]byte, error)

// TestDustLimitForPkScript checks that the dust limit for a given script size
// matches the calculation in lnwallet.DustLimitForSize.
func TestDustLimitForPkScript(t *testing.T) {
	getScripts := map[int]pkScriptGetter{
		input.P2WPKHSize: input.WitnessPubKeyHash,
		input.P2WSHSize:  input.WitnessScriptHash,
		input.P2SHSize:   input.GenerateP2SH,
		input.P2PKHSize:  input.GenerateP2PKH,
	}

	for scriptSize, getPkScript := range getScripts {
		pkScript, err := getPkScript([]byte{})
		require.NoError(t, err, "failed to generate pkScript")

		require.Equal(
			t, lnwallet.DustLimitForSize(scriptSize),
			DustLimitForPkScript(pkScript),
		)
	}

	_, pubKey := btcec.PrivKeyFromBytes([]byte{1})
	addr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(pubKey), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	require.Equal(
		t, lnwallet.DustLimitForSize(input.P2TRSize),
		DustLimitForPkScript(pkScript),
	)
}

// TestCapSweepFee tests that fees above the share are capped.
func TestCapSweepFee(t *testing.T) {
	weight := lntypes.WeightUnit(400)
	total := btcutil.Amount(100_000)

	fee := chainfee.SatPerKWeight(1_000).FeeForWeight(weight)
	capped, rate, ok := CapSweepFee(fee, total, 0.2, weight)
	require.False(t, ok)
	require.Equal(t, fee, capped)
	require.Equal(t, chainfee.SatPerKWeight(1_000), rate)

	capped, _, ok = CapSweepFee(30_000, total, 0.2, weight)
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(20_000), capped)
}

// TestEncodeDecodeTx tests raw transaction serialization with witnesses.
func TestEncodeDecodeTx(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		Witness:  wire.TxWitness{{1, 2, 3}},
		Sequence: 5,
	})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51}})

	raw, err := EncodeTx(tx)
	require.NoError(t, err)

	decoded, err := DecodeTx(raw)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), decoded.TxHash())
	require.Equal(t, tx.TxIn[0].Witness, decoded.TxIn[0].Witness)
}
