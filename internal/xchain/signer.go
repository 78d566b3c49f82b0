package xchain

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/warpdotgreen/cli/internal/bls"
	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/publisher"
	"github.com/warpdotgreen/cli/internal/sigcodec"
	"github.com/warpdotgreen/cli/internal/store"
)

// Signer implements component C7 (spec.md §4.7): it signs every unsigned
// Message destined for this X-chain with the relay's BLS hot key, binding
// each signature to the portal tracker's current confirmed tip, and
// re-signs any previously-signed message whose binding is stale after a
// portal rotation.
type Signer struct {
	Chain      chains.ChainID
	Tracker    *Tracker
	Store      *store.Store
	SecretKey  *bls.SecretKey
	AggSigData []byte
	Publisher  *publisher.Publisher

	pollInterval time.Duration
}

// NewSigner constructs a Signer with the standard 10s poll interval.
func NewSigner(chain chains.ChainID, tracker *Tracker, st *store.Store, secretKey *bls.SecretKey, aggSigData []byte, pub *publisher.Publisher) *Signer {
	return &Signer{
		Chain:        chain,
		Tracker:      tracker,
		Store:        st,
		SecretKey:    secretKey,
		AggSigData:   aggSigData,
		Publisher:    pub,
		pollInterval: 10 * time.Second,
	}
}

// Run signs newly-unsigned messages and re-signs rotation-stale ones
// forever, guarded on the tracker's syncing flag: the signer must not
// bind a signature to a portal coin id the tracker has not yet confirmed
// is the real tip (spec.md §9 Open Question 2).
func (s *Signer) Run(ctx context.Context) error {
	for {
		tip, syncing := s.Tracker.CurrentTip()
		if !syncing && len(tip) > 0 {
			if err := s.signUnsigned(tip); err != nil {
				return fmt.Errorf("xchain signer %s: %w", s.Chain, err)
			}
			if err := s.resyncRotated(tip); err != nil {
				return fmt.Errorf("xchain signer %s: %w", s.Chain, err)
			}
		}

		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

// signUnsigned signs every Message destined for this chain with an empty
// Signature, binding to tip.
func (s *Signer) signUnsigned(tip []byte) error {
	msgs, err := s.Store.ListUnsignedForDestination(s.Chain)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := s.signOne(m, tip); err != nil {
			log.Error("xchain signer: sign failed", "chain", s.Chain, "nonce", NonceFromBytes(m.Nonce), "err", err)
			continue
		}
	}
	return nil
}

// resyncRotated re-signs every non-"used" Message whose stored signature
// is bound to a portal coin id other than the current tip, per spec.md
// §4.6's "Resync on rotation": a portal rotation invalidates every
// signature bound to the coin id it superseded.
func (s *Signer) resyncRotated(tip []byte) error {
	msgs, err := s.Store.ListNonUsedForDestination(s.Chain)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		_, coinBinding, _, err := sigcodec.Decode(m.Signature)
		if err != nil {
			log.Error("xchain signer: stored signature undecodable, re-signing", "chain", s.Chain, "nonce", NonceFromBytes(m.Nonce))
		} else if bytes.Equal(coinBinding, tip) {
			continue // already bound to the current tip
		}
		if err := s.signOne(m, tip); err != nil {
			log.Error("xchain signer: resync sign failed", "chain", s.Chain, "nonce", NonceFromBytes(m.Nonce), "err", err)
		}
	}
	return nil
}

// signOne signs a single message against tip, or short-circuits to the
// "used" sentinel if the portal tracker has already observed this message's
// nonce consumed on-chain before the signer got to it (spec.md §4.7).
func (s *Signer) signOne(m *chains.Message, tip []byte) error {
	if s.Tracker.IsUsed(m.SourceChain, NonceFromBytes(m.Nonce)) {
		return s.Store.SetSignature(m.SourceChain, m.Nonce, chains.SigUsed)
	}

	treeHash := MessageTreeHash(m)
	payload := make([]byte, 0, len(treeHash)+len(tip)+len(s.AggSigData))
	payload = append(payload, treeHash[:]...)
	payload = append(payload, tip...)
	payload = append(payload, s.AggSigData...)

	sig := bls.Sign(s.SecretKey, payload)

	encoded, err := sigcodec.Encode(sigcodec.Route{
		SourceChain:      m.SourceChain,
		DestinationChain: m.DestinationChain,
		Nonce:            m.Nonce,
	}, tip, sig.Compress())
	if err != nil {
		return fmt.Errorf("encode signature: %w", err)
	}

	if err := s.Store.SetSignature(m.SourceChain, m.Nonce, encoded); err != nil {
		return err
	}
	s.Publisher.Enqueue(encoded)
	return nil
}
