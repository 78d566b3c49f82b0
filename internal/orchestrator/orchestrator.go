// Package orchestrator implements component C8 (spec.md §4.8): it starts
// every configured chain's follower and the gossip publisher, blocking
// each follower's cooperative loop on a successful node-liveness probe
// first (grounded on original_source/commands/followers/eth_follower.py's
// wait_for_node gate, applied uniformly across both follower flavors per
// spec.md §9's shared interface), and propagates the first fatal error
// from any of them.
package orchestrator

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/publisher"
)

// Orchestrator owns every running follower plus the gossip publisher.
type Orchestrator struct {
	Followers                  []chains.Follower
	Publisher                  *publisher.Publisher
	LogStartupConnectionErrors bool
}

// New constructs an Orchestrator.
func New(followers []chains.Follower, pub *publisher.Publisher, logStartupConnectionErrors bool) *Orchestrator {
	return &Orchestrator{Followers: followers, Publisher: pub, LogStartupConnectionErrors: logStartupConnectionErrors}
}

// Run starts the publisher at once and, concurrently for each follower,
// blocks on that follower's WaitForNode before starting it; it returns
// once any one of them returns a
// fatal error, or ctx is cancelled (spec.md §4.8, §7 kind 3/4 "the task
// exits; process supervision restarts the process").
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, f := range o.Followers {
		f := f
		g.Go(func() error {
			log.Info("orchestrator: waiting for node", "chain", f.ChainTag())
			if err := f.WaitForNode(ctx, o.LogStartupConnectionErrors); err != nil {
				return err
			}
			log.Info("orchestrator: starting follower", "chain", f.ChainTag())
			return f.Run(ctx)
		})
	}

	g.Go(func() error {
		log.Info("orchestrator: starting publisher")
		return o.Publisher.Run(ctx)
	})

	return g.Wait()
}
