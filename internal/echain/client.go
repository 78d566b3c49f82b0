// Package echain implements the E-chain side of the relay: the message
// listener and signer that together form component C4 (spec.md §4.4),
// wired against the real upstream github.com/ethereum/go-ethereum client
// stack (the teacher module itself).
package echain

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the subset of an Ethereum JSON-RPC client the listener and
// signer need. *ethclient.Client satisfies it; tests implement it with a
// fake to avoid any network dependency.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// NewClient dials rpcURL through httpClient's Transport (expected to be a
// chains.RetryTransport per spec.md §4.4's "middleware layer wrapping the
// RPC transport", mirroring the original implementation's
// custom_retry_middleware) and wraps it as an *ethclient.Client, the same
// dial pattern geth's own `cmd/geth attach` uses to talk to a custom
// transport.
func NewClient(ctx context.Context, rpcURL string, httpClient *http.Client) (*ethclient.Client, error) {
	rpcClient, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rpcClient), nil
}
