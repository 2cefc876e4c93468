package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/p2pswap"
	"github.com/lightninglabs/p2pswap/explorer"
	"github.com/lightninglabs/p2pswap/lndledger"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/swapmsg"
	"github.com/lightninglabs/p2pswap/sweep"
	"github.com/lightninglabs/p2pswap/utils"
	"github.com/lightninglabs/p2pswap/vault"
)

// Subsystem is the logging tag of the command itself.
const Subsystem = "CMD"

var log btclog.Logger = btclog.Disabled

// subLoggers are the package loggers wired to the root logger.
var subLoggers = []struct {
	tag string
	use func(btclog.Logger)
}{
	{p2pswap.Subsystem, p2pswap.UseLogger},
	{lndledger.Subsystem, lndledger.UseLogger},
	{explorer.Subsystem, explorer.UseLogger},
	{swapdb.Subsystem, swapdb.UseLogger},
	{swapmsg.Subsystem, swapmsg.UseLogger},
	{sweep.Subsystem, sweep.UseLogger},
	{utils.Subsystem, utils.UseLogger},
	{vault.Subsystem, vault.UseLogger},
}

// setupLoggers writes all subsystems to stderr at the debug level.
func setupLoggers(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level: %v", level)
	}

	root := btclog.NewSLogger(btclog.NewDefaultHandler(os.Stderr))

	log = root.SubSystem(Subsystem)
	log.SetLevel(lvl)

	for _, sub := range subLoggers {
		logger := root.SubSystem(sub.tag)
		logger.SetLevel(lvl)
		sub.use(logger)
	}

	return nil
}
