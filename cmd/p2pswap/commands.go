package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/p2pswap"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightninglabs/p2pswap/swapmsg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/urfave/cli"
)

func btcAmount(sat int64) btcutil.Amount {
	return btcutil.Amount(sat)
}

var requestCommand = cli.Command{
	Name:      "request",
	Usage:     "create a swap request to pay off-chain for on-chain funds",
	ArgsUsage: "amt",
	Description: `
	Creates the secrets of a swap and prints the request to hand to the
	responder together with our recovery. The recovery is needed to
	complete the swap and is also kept in the swap store.`,
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  "amt",
			Usage: "the on-chain value of the swap in satoshis",
		},
	},
	Action: request,
}

func request(ctx *cli.Context) error {
	var amt int64
	switch {
	case ctx.IsSet("amt"):
		amt = ctx.Int64("amt")

	case ctx.NArg() > 0:
		var err error
		amt, err = parseAmt(ctx.Args().First())
		if err != nil {
			return err
		}

	default:
		return cli.ShowCommandHelp(ctx, "request")
	}

	s, cleanup, err := getServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	req, recovery, err := p2pswap.NewRequest(
		context.Background(), s.swapOutConfig(), btcAmount(amt), nil,
	)
	if err != nil {
		return err
	}

	return printMessages("request", req, "recovery", recovery)
}

var respondCommand = cli.Command{
	Name:      "respond",
	Usage:     "answer a swap request to receive off-chain for on-chain funds",
	ArgsUsage: "request",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name: "inbound_peer",
			Usage: "the pubkey of the peer the requester's payments " +
				"must arrive through",
		},
	},
	Action: respond,
}

func respond(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "respond")
	}

	req, err := swapmsg.DecodeRequestHex(ctx.Args().First())
	if err != nil {
		return err
	}

	var opts p2pswap.ResponseOptions
	if ctx.IsSet("inbound_peer") {
		peer, err := route.NewVertexFromStr(ctx.String("inbound_peer"))
		if err != nil {
			return err
		}
		opts.InboundPeer = &peer
	}

	s, cleanup, err := getServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, recovery, err := p2pswap.NewResponse(
		context.Background(), s.swapInConfig(), req, &opts,
	)
	if err != nil {
		return err
	}

	return printMessages("response", resp, "recovery", recovery)
}

var completeCommand = cli.Command{
	Name:      "complete",
	Usage:     "run a negotiated swap to completion",
	ArgsUsage: "[request response recovery]",
	Description: `
	Runs our side of a swap. The messages are either passed as arguments
	or loaded from the swap store with --hash. The side follows from the
	kind of recovery.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "hash",
			Usage: "load the swap with this hash from the store",
		},
		cli.StringFlag{
			Name:  "response",
			Usage: "the response, if the store does not hold it yet",
		},
	},
	Action: complete,
}

// swapMessages are the three messages needed to run a swap.
type swapMessages struct {
	req      *swapmsg.Request
	resp     *swapmsg.Response
	recovery interface{}
}

// messagesFromArgs decodes the positional request, response and recovery.
func messagesFromArgs(args cli.Args) (*swapMessages, error) {
	req, err := swapmsg.DecodeRequestHex(args.Get(0))
	if err != nil {
		return nil, err
	}

	resp, err := swapmsg.DecodeResponseHex(args.Get(1))
	if err != nil {
		return nil, err
	}

	recovery, err := swapmsg.DecodeAnyHex(args.Get(2))
	if err != nil {
		return nil, err
	}

	return &swapMessages{req: req, resp: resp, recovery: recovery}, nil
}

// messagesFromStore loads the messages of a stored swap. A response passed
// on the command line is used if the store has none.
func messagesFromStore(ctx context.Context, store swapdb.SwapStore,
	hashStr, respHex string) (*swapMessages, error) {

	hash, err := lntypes.MakeHashFromStr(hashStr)
	if err != nil {
		return nil, err
	}

	stored, err := store.FetchSwap(ctx, hash)
	if err != nil {
		return nil, err
	}

	req, err := swapmsg.DecodeRequest(stored.Request)
	if err != nil {
		return nil, err
	}

	var resp *swapmsg.Response
	switch {
	case respHex != "":
		resp, err = swapmsg.DecodeResponseHex(respHex)

	case stored.Response != nil:
		resp, err = swapmsg.DecodeResponse(stored.Response)

	default:
		return nil, errors.New("no response stored, pass --response")
	}
	if err != nil {
		return nil, err
	}

	msgs := &swapMessages{req: req, resp: resp}
	switch stored.Side {
	case swap.SideClaim:
		msgs.recovery, err = swapmsg.DecodeClaimRecovery(
			stored.Recovery,
		)

	default:
		msgs.recovery, err = swapmsg.DecodeRefundRecovery(
			stored.Recovery,
		)
	}
	if err != nil {
		return nil, err
	}

	return msgs, nil
}

func complete(ctx *cli.Context) error {
	if !ctx.IsSet("hash") && ctx.NArg() != 3 {
		return cli.ShowCommandHelp(ctx, "complete")
	}

	s, cleanup, err := getServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx, cancel := signalContext()
	defer cancel()

	var msgs *swapMessages
	if ctx.IsSet("hash") {
		msgs, err = messagesFromStore(
			runCtx, s.store, ctx.String("hash"),
			ctx.String("response"),
		)
	} else {
		msgs, err = messagesFromArgs(ctx.Args())
	}
	if err != nil {
		return err
	}

	updates := make(chan p2pswap.Update)
	done := make(chan struct{})
	go func() {
		defer close(done)

		for update := range updates {
			fmt.Println(update)
		}
	}()

	switch recovery := msgs.recovery.(type) {
	case *swapmsg.ClaimRecovery:
		cfg := s.swapOutConfig()
		cfg.Updates = updates

		var result *p2pswap.SwapOutResult
		result, err = p2pswap.RunSwapOut(
			runCtx, cfg, msgs.req, msgs.resp, recovery,
		)
		close(updates)
		<-done

		if err == nil {
			fmt.Printf("Swept %v through %v path, sweep fee %v, "+
				"deposit %v\n", result.SweepTxID, result.Path,
				result.SweepFee, result.Deposit)
		}

	case *swapmsg.RefundRecovery:
		cfg := s.swapInConfig()
		cfg.Updates = updates

		var result *p2pswap.SwapInResult
		result, err = p2pswap.RunSwapIn(
			runCtx, cfg, msgs.req, msgs.resp, recovery,
		)
		close(updates)
		<-done

		if err == nil {
			fmt.Printf("Received %v for funding %v, funding fee %v\n",
				result.Received, result.FundingTxID,
				result.FundingFee)
		}

	default:
		close(updates)
		<-done

		return fmt.Errorf("expected a recovery, got %T", msgs.recovery)
	}

	return err
}

var decodeCommand = cli.Command{
	Name:      "decode",
	Usage:     "decode a swap message",
	ArgsUsage: "hex",
	Action:    decode,
}

func decode(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "decode")
	}

	msg, err := swapmsg.DecodeAnyHex(ctx.Args().First())
	if err != nil {
		return err
	}

	spew.Dump(msg)

	return nil
}

var listCommand = cli.Command{
	Name:   "list",
	Usage:  "list the swaps in the swap store",
	Action: list,
}

func list(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.networkDir(), 0700); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	swaps, err := store.FetchSwaps(context.Background())
	if err != nil {
		return err
	}

	for _, s := range swaps {
		fmt.Printf("%v %v %v %v timeout=%v %v\n",
			s.InitiationTime.Format(time.RFC3339), s.Hash, s.Side,
			s.Tokens, s.Timeout, s.LastStage())
	}

	return nil
}

// printMessages prints encoded messages as name/hex pairs.
func printMessages(pairs ...interface{}) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		msg, ok := pairs[i+1].(swapmsg.Encoder)
		if !ok {
			return fmt.Errorf("cannot encode %T", pairs[i+1])
		}

		encoded, err := swapmsg.EncodeHex(msg)
		if err != nil {
			return err
		}

		fmt.Printf("%v: %v\n", pairs[i], encoded)
	}

	return nil
}

// parseAmt parses a satoshi amount.
func parseAmt(text string) (int64, error) {
	amt, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", text, err)
	}

	return amt, nil
}

// signalContext returns a context canceled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
