package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/p2pswap/explorer"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
)

const (
	defaultConfigFilename  = "p2pswap.conf"
	defaultSqliteFilename  = "p2pswap.db"
	defaultSealLogFilename = "seals.db"

	databaseBackendSqlite   = "sqlite"
	databaseBackendPostgres = "postgres"
)

var (
	// defaultDataDir is the directory holding the config file and all
	// per network data.
	defaultDataDir = btcutil.AppDataDir("p2pswap", false)

	defaultConfigFile = filepath.Join(
		defaultDataDir, defaultConfigFilename,
	)
)

type lndConfig struct {
	Host        string `long:"host" description:"lnd instance rpc address"`
	MacaroonDir string `long:"macaroondir" description:"Path to the directory containing all the required lnd macaroons"`
	TLSPath     string `long:"tlspath" description:"Path to lnd tls certificate"`
}

type explorerConfig struct {
	URL          string        `long:"url" description:"Esplora API base URL used to look up swap outputs next to lnd, disabled if empty"`
	Proxy        string        `long:"proxy" description:"The host:port of a Tor SOCKS proxy explorer requests are sent through"`
	PollInterval time.Duration `long:"pollinterval" description:"Time between explorer lookups"`
}

type swapConfig struct {
	ExecutionFeeBase    int64 `long:"executionfeebase" description:"Fixed part of the deposit charged as responder, in satoshis"`
	ExecutionFeeRate    int64 `long:"executionfeerate" description:"Proportional part of the deposit charged as responder, in parts per million"`
	MaxExecutionFeeBase int64 `long:"maxexecutionfeebase" description:"Fixed part of the highest deposit paid as requester, in satoshis"`
	MaxExecutionFeeRate int64 `long:"maxexecutionfeerate" description:"Proportional part of the highest deposit paid as requester, in parts per million"`
	MinTokens           int64 `long:"mintokens" description:"Smallest swap served as responder, in satoshis"`
}

// config is the file configuration of p2pswap.
type config struct {
	Network    string `long:"network" description:"network to run on" choice:"regtest" choice:"testnet" choice:"mainnet" choice:"simnet" choice:"signet"`
	DataDir    string `long:"datadir" description:"Directory for swap data."`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	DatabaseBackend string                 `long:"databasebackend" description:"The database backend to use for storing swaps." choice:"sqlite" choice:"postgres"`
	Sqlite          *swapdb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres        *swapdb.PostgresConfig `group:"postgres" namespace:"postgres"`

	Lnd      *lndConfig      `group:"lnd" namespace:"lnd"`
	Explorer *explorerConfig `group:"explorer" namespace:"explorer"`
	Swap     *swapConfig     `group:"swap" namespace:"swap"`
}

// defaultConfig returns the configuration used when no file is present.
func defaultConfig() *config {
	explorerCfg := explorer.DefaultConfig()

	return &config{
		Network:         "mainnet",
		DataDir:         defaultDataDir,
		DebugLevel:      "info",
		DatabaseBackend: databaseBackendSqlite,
		Sqlite:          &swapdb.SqliteConfig{},
		Postgres: &swapdb.PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			MaxOpenConnections: 10,
		},
		Lnd: &lndConfig{
			Host: "localhost:10009",
		},
		Explorer: &explorerConfig{
			PollInterval: explorerCfg.PollInterval,
		},
		Swap: &swapConfig{
			ExecutionFeeBase:    1000,
			ExecutionFeeRate:    5_000,
			MaxExecutionFeeBase: 1000,
			MaxExecutionFeeRate: 10_000,
			MinTokens:           10_000,
		},
	}
}

// loadConfig reads the ini config file on top of the defaults. A missing
// file is only an error if the path was given explicitly.
func loadConfig(path string, explicit bool) (*config, error) {
	cfg := defaultConfig()

	_, err := os.Stat(path)
	switch {
	case err == nil:
		parser := flags.NewParser(cfg, flags.Default)
		err := flags.NewIniParser(parser).ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parse %v: %w", path, err)
		}

	case errors.Is(err, os.ErrNotExist) && !explicit:

	default:
		return nil, err
	}

	return cfg, nil
}

// networkDir returns the data directory of the configured network.
func (c *config) networkDir() string {
	return filepath.Join(c.DataDir, c.Network)
}

// validate checks the configuration and fills in per network paths.
func (c *config) validate() error {
	if _, err := swap.ChainParamsFromNetwork(c.Network); err != nil {
		return err
	}

	if c.Swap.ExecutionFeeBase < 0 || c.Swap.ExecutionFeeRate < 0 ||
		c.Swap.MaxExecutionFeeBase < 0 ||
		c.Swap.MaxExecutionFeeRate < 0 || c.Swap.MinTokens < 0 {

		return errors.New("swap fee limits must not be negative")
	}

	if c.Explorer.URL != "" && c.Explorer.PollInterval <= 0 {
		return errors.New("explorer poll interval must be positive")
	}

	if c.Sqlite.DatabaseFileName == "" {
		c.Sqlite.DatabaseFileName = filepath.Join(
			c.networkDir(), defaultSqliteFilename,
		)
	}

	return nil
}
