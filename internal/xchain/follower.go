package xchain

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/warpdotgreen/cli/internal/bls"
	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/config"
	"github.com/warpdotgreen/cli/internal/publisher"
	"github.com/warpdotgreen/cli/internal/store"
)

// Follower wires the message listener, portal tracker and signer for one
// X-chain into the shared chains.Follower interface, per spec.md §4.6/§4.8
// and §9 "dynamic dispatch over heterogeneous chains".
type Follower struct {
	chain    chains.ChainID
	node     NodeClient
	listener *Listener
	tracker  *Tracker
	signer   *Signer
}

// NewFollower builds an X-chain Follower from its configuration entry.
// puzzle is the narrow external-collaborator interface this relay runs
// on-chain puzzle programs through (spec.md §1); it is not constructed
// here so callers can supply a real evaluator without this package
// depending on one.
func NewFollower(tag string, cfg config.Chain, node NodeClient, puzzle PuzzleRunner, st *store.Store, pub *publisher.Publisher) (*Follower, error) {
	chain, err := chains.ChainIDFromTag(tag)
	if err != nil {
		return nil, fmt.Errorf("xchain follower %s: %w", tag, err)
	}

	bridgingPuzzleHash, err := hex.DecodeString(trim0xHex(cfg.BridgingPuzzleHash))
	if err != nil {
		return nil, fmt.Errorf("xchain follower %s: parse bridging_puzzle_hash: %w", tag, err)
	}
	launcherID, err := hex.DecodeString(trim0xHex(cfg.PortalLauncherID))
	if err != nil {
		return nil, fmt.Errorf("xchain follower %s: parse portal_launcher_id: %w", tag, err)
	}
	aggSigData, err := hex.DecodeString(trim0xHex(cfg.AggSigData))
	if err != nil {
		return nil, fmt.Errorf("xchain follower %s: parse agg_sig_data: %w", tag, err)
	}
	hotKeyBytes, err := hex.DecodeString(trim0xHex(cfg.HotPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("xchain follower %s: parse my_hot_private_key: %w", tag, err)
	}
	secretKey, err := bls.SecretKeyFromBytes(hotKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("xchain follower %s: %w", tag, err)
	}

	listener := NewListener(chain, node, puzzle, st, bridgingPuzzleHash, cfg.PerMessageToll, cfg.MinHeight, cfg.SignMinHeight)
	tracker := NewTracker(chain, node, puzzle, st, launcherID)
	signer := NewSigner(chain, tracker, st, secretKey, aggSigData, pub)

	return &Follower{chain: chain, node: node, listener: listener, tracker: tracker, signer: signer}, nil
}

// ChainTag implements chains.Follower.
func (f *Follower) ChainTag() string { return f.chain.String() }

// WaitForNode implements chains.Follower: it blocks until the Chia node
// RPC answers get_blockchain_state, retrying every 10s.
func (f *Follower) WaitForNode(ctx context.Context, logStartupErrors bool) error {
	for {
		if _, err := f.node.GetBlockchainState(ctx); err == nil {
			return nil
		} else if logStartupErrors {
			log.Info("xchain follower: could not connect to node, retrying", "chain", f.chain, "err", err)
		} else {
			log.Debug("xchain follower: could not connect to node, retrying", "chain", f.chain)
		}

		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run implements chains.Follower: it starts the listener, portal tracker
// and signer loops and blocks until one returns (spec.md §4.8).
func (f *Follower) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.listener.Run(ctx) })
	g.Go(func() error { return f.tracker.Run(ctx) })
	g.Go(func() error { return f.signer.Run(ctx) })
	return g.Wait()
}

func trim0xHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
