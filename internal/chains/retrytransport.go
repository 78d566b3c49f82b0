package chains

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RetryTransport wraps an http.RoundTripper, retrying indefinitely on
// transient network errors with a fixed sleep, per spec.md §4.4 "Transient
// HTTP errors are retried with a 5-second sleep inside a middleware layer
// wrapping the RPC transport" and §7 kind 1 ("retried indefinitely with
// sleep; not surfaced"). Grounded on
// original_source/commands/followers/eth_follower.py's
// custom_retry_middleware, which does exactly this for web3's async HTTP
// provider.
type RetryTransport struct {
	Next    http.RoundTripper
	Backoff time.Duration
	Chain   string
}

// NewRetryTransport wraps next (or http.DefaultTransport if nil) with the
// standard 5-second backoff named in spec.md §4.4.
func NewRetryTransport(chain string, next http.RoundTripper) *RetryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RetryTransport{Next: next, Backoff: 5 * time.Second, Chain: chain}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for {
		resp, err := t.Next.RoundTrip(req)
		if err == nil {
			return resp, nil
		}

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		default:
		}

		log.Error("rpc transport: request failed, retrying", "chain", t.Chain, "backoff", t.Backoff, "err", err)
		select {
		case <-time.After(t.Backoff):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
}

// WaitUntil invokes check, then sleeps for interval between further calls,
// until check returns true, check returns an error, or ctx is cancelled.
// Used by the X-chain listener and portal tracker to poll for confirmation
// depth; the E-chain listener runs its own wait loops.
func WaitUntil(ctx context.Context, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	for {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
