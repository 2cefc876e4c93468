package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/p2pswap"
	"github.com/lightninglabs/p2pswap/explorer"
	"github.com/lightninglabs/p2pswap/lndledger"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/vault"
)

// services are the collaborators of the swap engines.
type services struct {
	cfg     *config
	lnd     *lndclient.GrpcLndServices
	ledger  *lndledger.Ledger
	store   swapdb.SwapStore
	sealLog *vault.BoltSealLog
	vault   *vault.Vault
	finder  *explorer.Client
}

// openStore opens the configured swap store.
func openStore(cfg *config) (swapdb.SwapStore, error) {
	switch cfg.DatabaseBackend {
	case databaseBackendPostgres:
		return swapdb.NewPostgresStore(cfg.Postgres)

	default:
		return swapdb.NewSqliteStore(cfg.Sqlite)
	}
}

// openServices connects to lnd and opens the local databases.
func openServices(ctx context.Context, cfg *config) (*services, error) {
	if err := os.MkdirAll(cfg.networkDir(), 0700); err != nil {
		return nil, err
	}

	lnd, err := lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:            cfg.Lnd.Host,
		Network:               lndclient.Network(cfg.Network),
		MacaroonDir:           cfg.Lnd.MacaroonDir,
		TLSPath:               cfg.Lnd.TLSPath,
		BlockUntilChainSynced: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to lnd: %w", err)
	}

	s := &services{
		cfg:    cfg,
		lnd:    lnd,
		ledger: lndledger.New(&lnd.LndServices),
	}

	s.store, err = openStore(cfg)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open swap store: %w", err)
	}

	s.sealLog, err = vault.NewBoltSealLog(
		filepath.Join(cfg.networkDir(), defaultSealLogFilename),
	)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open seal log: %w", err)
	}
	s.vault = vault.New(s.ledger, s.sealLog)

	if cfg.Explorer.URL != "" {
		explorerCfg := explorer.DefaultConfig()
		explorerCfg.URL = cfg.Explorer.URL
		explorerCfg.TorProxy = cfg.Explorer.Proxy
		explorerCfg.PollInterval = cfg.Explorer.PollInterval

		s.finder = explorer.New(explorerCfg)
	}

	log.Infof("Connected to lnd %x on %v", lnd.NodePubkey[:],
		cfg.Network)

	return s, nil
}

// close releases the databases and the lnd connection.
func (s *services) close() {
	if s.sealLog != nil {
		if err := s.sealLog.Close(); err != nil {
			log.Errorf("Unable to close seal log: %v", err)
		}
	}

	s.lnd.Close()
}

// engineConfig fills in the collaborators shared by both engines.
func (s *services) engineConfig(cfg *p2pswap.Config) {
	cfg.Ledger = s.ledger
	cfg.Chain = s.ledger
	cfg.Vault = s.vault
	cfg.Store = s.store
	cfg.ChainParams = s.lnd.ChainParams

	if s.finder != nil {
		cfg.OutputFinder = s.finder
	}
}

// swapOutConfig returns the requester configuration.
func (s *services) swapOutConfig() *p2pswap.SwapOutConfig {
	cfg := p2pswap.DefaultSwapOutConfig()
	s.engineConfig(&cfg.Config)

	cfg.MaxExecutionFeeBase = btcAmount(s.cfg.Swap.MaxExecutionFeeBase)
	cfg.MaxExecutionFeeRate = s.cfg.Swap.MaxExecutionFeeRate

	return cfg
}

// swapInConfig returns the responder configuration.
func (s *services) swapInConfig() *p2pswap.SwapInConfig {
	cfg := p2pswap.DefaultSwapInConfig()
	s.engineConfig(&cfg.Config)

	cfg.ExecutionFeeBase = btcAmount(s.cfg.Swap.ExecutionFeeBase)
	cfg.ExecutionFeeRate = s.cfg.Swap.ExecutionFeeRate
	cfg.MinTokens = btcAmount(s.cfg.Swap.MinTokens)

	return cfg
}
