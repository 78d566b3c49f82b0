package echain

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/config"
	"github.com/warpdotgreen/cli/internal/publisher"
	"github.com/warpdotgreen/cli/internal/store"
)

// Follower wires the listener and signer for one E-chain into the shared
// chains.Follower interface, per spec.md §4.4/§4.8.
type Follower struct {
	chain    chains.ChainID
	client   Client
	listener *Listener
	signer   *Signer
}

// NewFollower builds an E-chain Follower from its configuration entry,
// parsing the secp256k1 hot key from cfg's my_hot_private_key field.
func NewFollower(tag string, cfg config.Chain, st *store.Store, pub *publisher.Publisher) (*Follower, error) {
	chain, err := chains.ChainIDFromTag(tag)
	if err != nil {
		return nil, fmt.Errorf("echain follower %s: %w", tag, err)
	}

	privateKey, err := crypto.HexToECDSA(trim0x(cfg.HotPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("echain follower %s: parse hot private key: %w", tag, err)
	}

	httpClient := &http.Client{Transport: chains.NewRetryTransport(tag, nil)}
	client, err := NewClient(context.Background(), cfg.RPCURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("echain follower %s: dial rpc: %w", tag, err)
	}

	portalAddress := common.HexToAddress(cfg.PortalAddress)
	var l1BlockAddress common.Address
	if cfg.IsL2 {
		l1BlockAddress = common.HexToAddress(cfg.L1BlockContractAddress)
	}

	listener := NewListener(chain, client, portalAddress, st, cfg.MinHeight, cfg.SignMinHeight, cfg.IsL2, l1BlockAddress)
	signer := NewSigner(chain, portalAddress, cfg.ChainIDNumber, privateKey, st, pub)

	return &Follower{chain: chain, client: client, listener: listener, signer: signer}, nil
}

// ChainTag implements chains.Follower.
func (f *Follower) ChainTag() string { return f.chain.String() }

// WaitForNode implements chains.Follower: it blocks until the RPC endpoint
// answers an eth_blockNumber call, retrying every 10s, per
// original_source/commands/followers/eth_follower.py's wait_for_node.
func (f *Follower) WaitForNode(ctx context.Context, logStartupErrors bool) error {
	for {
		if _, err := f.client.BlockNumber(ctx); err == nil {
			return nil
		} else if logStartupErrors {
			log.Info("echain follower: could not connect to node, retrying", "chain", f.chain, "err", err)
		} else {
			log.Debug("echain follower: could not connect to node, retrying", "chain", f.chain)
		}

		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run implements chains.Follower: it starts the listener and signer loops
// and blocks until either returns (spec.md §4.8).
func (f *Follower) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.listener.Run(ctx) })
	g.Go(func() error { return f.signer.Run(ctx) })
	return g.Wait()
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
