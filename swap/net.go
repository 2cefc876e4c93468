package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// networks maps the network names lnd uses to their chain parameters.
var networks = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"signet":  &chaincfg.SigNetParams,
	"regtest": &chaincfg.RegressionNetParams,
	"simnet":  &chaincfg.SimNetParams,
}

// ChainParamsFromNetwork returns the chain parameters of a network name.
func ChainParamsFromNetwork(network string) (*chaincfg.Params, error) {
	params, ok := networks[network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}

	return params, nil
}
