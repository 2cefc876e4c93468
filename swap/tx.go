package swap

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// ErrOutputNotFound is returned when a transaction does not pay to the swap
// output script.
var ErrOutputNotFound = errors.New("swap output not found in transaction")

// GetScriptOutput locates the given script in the outputs of a transaction and
// returns its outpoint and value.
func GetScriptOutput(tx *wire.MsgTx, pkScript []byte) (*wire.OutPoint,
	btcutil.Amount, error) {

	for idx, output := range tx.TxOut {
		if bytes.Equal(output.PkScript, pkScript) {
			return &wire.OutPoint{
				Hash:  tx.TxHash(),
				Index: uint32(idx),
			}, btcutil.Amount(output.Value), nil
		}
	}

	return nil, 0, ErrOutputNotFound
}
