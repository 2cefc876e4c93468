package test

import (
	"os"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

var (
	// Timeout is the default timeout when tests wait for something to
	// happen.
	Timeout = time.Second * 5
)

// GetDestAddr deterministically generates a taproot sweep address for
// testing.
func GetDestAddr(t *testing.T, nr byte) btcutil.Address {
	_, pubKey := CreateKey(int32(nr) + 100)
	outputKey := txscript.ComputeTaprootKeyNoScript(pubKey)

	destAddr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(outputKey), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return destAddr
}

// PkScript returns the output script of an address.
func PkScript(t *testing.T, addr btcutil.Address) []byte {
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return pkScript
}

// DumpGoroutines dumps all currently running goroutines.
func DumpGoroutines() {
	_ = pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
}
