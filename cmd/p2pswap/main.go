package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lightninglabs/p2pswap"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[p2pswap] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = p2pswap.Version()
	app.Name = "p2pswap"
	app.Usage = "peer to peer Lightning to on-chain swaps on top of lnd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "configfile",
			Value: defaultConfigFile,
			Usage: "path to the ini configuration file",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "network to run on, overrides the config file",
		},
		cli.StringFlag{
			Name:  "lnd.host",
			Usage: "lnd instance rpc address, overrides the config file",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "logging level, overrides the config file",
		},
	}
	app.Commands = []cli.Command{
		requestCommand, respondCommand, completeCommand,
		decodeCommand, listCommand,
	}

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

// getConfig loads the configuration and applies the global flags.
func getConfig(ctx *cli.Context) (*config, error) {
	path := ctx.GlobalString("configfile")
	cfg, err := loadConfig(path, ctx.GlobalIsSet("configfile"))
	if err != nil {
		return nil, err
	}

	if ctx.GlobalIsSet("network") {
		cfg.Network = ctx.GlobalString("network")
	}
	if ctx.GlobalIsSet("lnd.host") {
		cfg.Lnd.Host = ctx.GlobalString("lnd.host")
	}
	if ctx.GlobalIsSet("debuglevel") {
		cfg.DebugLevel = ctx.GlobalString("debuglevel")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := setupLoggers(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getServices loads the configuration and opens the swap collaborators. The
// returned cleanup closes them.
func getServices(ctx *cli.Context) (*services, func(), error) {
	cfg, err := getConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	s, err := openServices(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}

	return s, s.close, nil
}
