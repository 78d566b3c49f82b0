// Package publisher implements the gossip publisher (component C3,
// spec.md §4.3): a long-running task that relays locally produced
// signature strings to a configured set of relay endpoints, deduplicating
// against what this validator's own key has already broadcast.
//
// Grounded on original_source/commands/followers/sig.py's
// MessageBroadcaster, which drives the same relay protocol (Nostr) from
// Python via nostr_sdk; here the real Go ecosystem client for the same
// protocol, github.com/nbd-wtf/go-nostr, is used instead of hand-rolling a
// relay client, matching the instruction to never fall back to the
// standard library where the ecosystem already has the library warp.green
// itself depends on.
package publisher

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip06"

	"github.com/ethereum/go-ethereum/log"
)

const (
	maxRetries       = 3
	retryBackoff     = 3 * time.Second
	maxConcurrent    = 64 // spec.md §4.3 "up to a small degree (≤64)"
	queryTimeout     = 5 * time.Second
	recentCacheSize  = 4096 // dedup cache for signatures already published (or found on a relay) this run
)

// Publisher owns the relay connection pool and the bounded input queue
// described in spec.md §4.3. Enqueue never blocks the caller (the signer):
// the queue is sized far beyond the sustainable signing rate, and an
// overflow is logged and dropped rather than applying back-pressure
// (spec.md §5 "Shared resources").
type Publisher struct {
	relays     []string
	privateKey string // hex-encoded secp256k1 scalar, NIP-06 derived
	publicKey  string

	logPath string
	logMu   sync.Mutex

	queue chan string
	sem   chan struct{}

	recent *lru.Cache

	wg sync.WaitGroup
}

// New constructs a Publisher. mnemonic is derived into a Nostr keypair per
// NIP-06, mirroring nostr_sdk's Keys.from_mnemonic in the original Python
// implementation. queueSize bounds the pending-publish queue (spec.md §4.3
// "back-pressure is capped by queue size only").
func New(relays []string, mnemonic string, logPath string, queueSize int) (*Publisher, error) {
	sk, err := nip06.PrivateKeyFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("publisher: derive key from mnemonic: %w", err)
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("publisher: derive public key: %w", err)
	}

	recent, err := lru.New(recentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("publisher: recent cache: %w", err)
	}

	return &Publisher{
		relays:     relays,
		privateKey: sk,
		publicKey:  pk,
		logPath:    logPath,
		queue:      make(chan string, queueSize),
		sem:        make(chan struct{}, maxConcurrent),
		recent:     recent,
	}, nil
}

// Enqueue adds sig to the publish queue. Never blocks: if the queue is
// full the signature is logged and dropped (spec.md §5).
func (p *Publisher) Enqueue(sig string) {
	select {
	case p.queue <- sig:
	default:
		log.Error("publisher: queue full, dropping signature", "sig", sig)
	}
}

// Run drains the queue until ctx is cancelled, spawning a short-lived
// worker per signature up to maxConcurrent in flight at once (spec.md §9
// "spawns short-lived worker tasks rather than a fixed pool").
func (p *Publisher) Run(ctx context.Context) error {
	defer p.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-p.queue:
			p.dispatch(ctx, sig)
		}
	}
}

func (p *Publisher) dispatch(ctx context.Context, sig string) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.publishOne(ctx, sig)
	}()
}

// publishOne appends sig to the local log, then publishes it to every
// configured relay unless a peer (this validator, per author pubkey) has
// already broadcast the same route+coin-binding with the same raw
// signature group (spec.md §4.3 dedup step, §7 kind 6).
func (p *Publisher) publishOne(ctx context.Context, sig string) {
	if err := p.appendLocalLog(sig); err != nil {
		log.Error("publisher: failed to append local log", "err", err)
	}

	parts := strings.Split(sig, "-")
	if len(parts) != 3 {
		log.Error("publisher: malformed signature, not publishing", "sig", sig)
		return
	}
	routeTag, coinTag, sigData := parts[0], parts[1], parts[2]

	if _, seen := p.recent.Get(sig); seen {
		log.Info("publisher: signature already published this run, skipping", "route", routeTag)
		return
	}

	if p.alreadyOnRelay(ctx, routeTag, coinTag, sigData) {
		log.Info("publisher: signature already on relay, skipping publish", "route", routeTag)
		p.recent.Add(sig, struct{}{})
		return
	}

	p.publishWithRetry(ctx, routeTag, coinTag, sigData, sig)
	p.recent.Add(sig, struct{}{})
}

func (p *Publisher) appendLocalLog(sig string) error {
	p.logMu.Lock()
	defer p.logMu.Unlock()

	f, err := os.OpenFile(p.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(sig + "\n")
	return err
}

func (p *Publisher) alreadyOnRelay(ctx context.Context, routeTag, coinTag, sigData string) bool {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := nostr.Filter{
		Tags:    nostr.TagMap{"r": []string{routeTag}, "c": []string{coinTag}},
		Authors: []string{p.publicKey},
	}

	for _, url := range p.relays {
		relay, err := nostr.RelayConnect(qctx, url)
		if err != nil {
			continue
		}
		events, err := relay.QuerySync(qctx, filter)
		relay.Close()
		if err != nil {
			continue
		}
		for _, ev := range events {
			if strings.Contains(ev.Content, sigData) {
				return true
			}
		}
	}
	return false
}

func (p *Publisher) publishWithRetry(ctx context.Context, routeTag, coinTag, sigData, fullSig string) {
	ev := nostr.Event{
		PubKey:    p.publicKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{{"r", routeTag}, {"c", coinTag}},
		Content:   sigData,
	}
	if err := ev.Sign(p.privateKey); err != nil {
		log.Error("publisher: failed to sign event", "err", err)
		return
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if p.publishToAllRelays(ctx, ev) {
			log.Info("publisher: sent signature to relays", "event_id", ev.ID, "sig", fullSig)
			return
		}
		if attempt < maxRetries {
			log.Error("publisher: failed to send signature to relays; retrying", "attempt", attempt+1, "backoff", retryBackoff)
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
	log.Error("publisher: failed to send signature to relays after retries, dropping", "sig", fullSig)
}

func (p *Publisher) publishToAllRelays(ctx context.Context, ev nostr.Event) bool {
	ok := false
	for _, url := range p.relays {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			continue
		}
		if err := relay.Publish(ctx, ev); err == nil {
			ok = true
		}
		relay.Close()
	}
	return ok
}
