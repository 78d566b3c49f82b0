// Command relay runs the warp.green-style cross-chain relay validator
// described in spec.md: it loads a chain configuration, opens the
// persistent store and gossip publisher, and starts one follower per
// configured chain under the orchestrator (component C8).
//
// This file is intentionally thin (spec.md §1: command framing is out of
// scope); it exists only as the wiring entry point into internal/orchestrator,
// the same way cmd/geth's main.go is a thin shell around node.Node.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/config"
	"github.com/warpdotgreen/cli/internal/echain"
	"github.com/warpdotgreen/cli/internal/orchestrator"
	"github.com/warpdotgreen/cli/internal/publisher"
	"github.com/warpdotgreen/cli/internal/store"
	"github.com/warpdotgreen/cli/internal/xchain"
)

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to the relay's config.yaml",
		Required: true,
	}
	logStartupErrorsFlag = &cli.BoolFlag{
		Name:  "log-startup-connection-errors",
		Usage: "log each failed node-liveness probe during startup, instead of only a low-verbosity retry notice",
	}
)

func main() {
	app := &cli.App{
		Name:  "relay",
		Usage: "warp.green-style cross-chain relay validator",
		Commands: []*cli.Command{
			{
				Name:   "listen",
				Usage:  "start every configured chain follower and the gossip publisher",
				Flags:  []cli.Flag{configFlag, logStartupErrorsFlag},
				Action: runListen,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("relay: fatal", "err", err)
	}
}

func runListen(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		log.Crit("relay: config", "err", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Crit("relay: open store", "err", err)
	}
	defer st.Close()

	pub, err := publisher.New(cfg.Nostr.Relays, cfg.Nostr.MyMnemonic, cfg.LocalSignatureLogPath, publisherQueueSize)
	if err != nil {
		log.Crit("relay: build publisher", "err", err)
	}

	followers, err := buildFollowers(cfg, st, pub)
	if err != nil {
		log.Crit("relay: build followers", "err", err)
	}

	orch := orchestrator.New(followers, pub, c.Bool(logStartupErrorsFlag.Name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return orch.Run(ctx)
}

// publisherQueueSize bounds the gossip publisher's pending-publish queue;
// far beyond the sustainable signing rate, per spec.md §4.3.
const publisherQueueSize = 4096

// buildFollowers constructs one chains.Follower per configured chain,
// dispatching on its kind, per spec.md §9's dynamic-dispatch design note.
func buildFollowers(cfg *config.Config, st *store.Store, pub *publisher.Publisher) ([]chains.Follower, error) {
	followers := make([]chains.Follower, 0, len(cfg.Chains))
	for tag, chainCfg := range cfg.Chains {
		switch chainCfg.Kind {
		case config.KindEChain:
			f, err := echain.NewFollower(tag, chainCfg, st, pub)
			if err != nil {
				return nil, fmt.Errorf("chain %q: %w", tag, err)
			}
			followers = append(followers, f)

		case config.KindXChain:
			httpClient := &http.Client{Transport: chains.NewRetryTransport(tag, nil)}
			node := xchain.NewClient(chainCfg.RPCURL, httpClient)
			f, err := xchain.NewFollower(tag, chainCfg, node, xchain.UnimplementedPuzzleRunner{}, st, pub)
			if err != nil {
				return nil, fmt.Errorf("chain %q: %w", tag, err)
			}
			followers = append(followers, f)

		default:
			return nil, fmt.Errorf("chain %q: unknown kind %q", tag, chainCfg.Kind)
		}
	}
	return followers, nil
}
