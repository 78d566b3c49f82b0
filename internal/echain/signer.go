package echain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/publisher"
	"github.com/warpdotgreen/cli/internal/sigcodec"
	"github.com/warpdotgreen/cli/internal/store"
)

// eip712Types is the "Message" struct the Portal contract's EIP-712 domain
// signs over, grounded verbatim on
// original_source/commands/followers/eth_follower.py's `signMessage`.
var eip712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Message": {
		{Name: "nonce", Type: "bytes32"},
		{Name: "source_chain", Type: "bytes3"},
		{Name: "source", Type: "bytes32"},
		{Name: "destination", Type: "address"},
		{Name: "contents", Type: "bytes32[]"},
	},
}

// Signer implements the signing half of component C4 (spec.md §4.4): it
// EIP-712-signs every Message unsigned and destined for this chain with
// the relay's hot key, wraps the signature in the canonical wire codec
// (without a coin binding -- E-chain destinations have none, per spec.md
// §4.4), and enqueues it on the gossip publisher.
type Signer struct {
	Chain         chains.ChainID
	PortalAddress common.Address
	ChainIDNumber uint64
	PrivateKey    *ecdsa.PrivateKey
	Store         *store.Store
	Publisher     *publisher.Publisher

	pollInterval time.Duration
}

// NewSigner constructs a Signer with the standard 5s poll interval named
// in original_source's messageSigner.
func NewSigner(chain chains.ChainID, portalAddress common.Address, chainIDNumber uint64, privateKey *ecdsa.PrivateKey, st *store.Store, pub *publisher.Publisher) *Signer {
	return &Signer{
		Chain:         chain,
		PortalAddress: portalAddress,
		ChainIDNumber: chainIDNumber,
		PrivateKey:    privateKey,
		Store:         st,
		Publisher:     pub,
		pollInterval:  5 * time.Second,
	}
}

// Run signs newly-unsigned messages forever.
func (s *Signer) Run(ctx context.Context) error {
	for {
		msgs, err := s.Store.ListUnsignedForDestination(s.Chain)
		if err != nil {
			return fmt.Errorf("echain signer %s: %w", s.Chain, err)
		}
		for _, m := range msgs {
			if err := s.signOne(m); err != nil {
				return fmt.Errorf("echain signer %s: %w", s.Chain, err)
			}
		}

		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Signer) signOne(m *chains.Message) error {
	destination := common.BytesToAddress(m.Destination)

	typedData := apitypes.TypedData{
		Types:       eip712Types,
		PrimaryType: "Message",
		Domain: apitypes.TypedDataDomain{
			Name:              "warp.green Portal",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(s.ChainIDNumber)),
			VerifyingContract: s.PortalAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"nonce":        hexutil.Encode(chains.Pad32(m.Nonce)),
			"source_chain": hexutil.Encode(m.SourceChain[:]),
			"source":       hexutil.Encode(chains.Pad32(m.Source)),
			"destination":  destination.Hex(),
			"contents":     contentsAsHex(m.ContentWords()),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return fmt.Errorf("hash typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, s.PrivateKey)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	// Wire order is v || r || s (not the usual r || s || v), per spec.md
	// §4.4 and original_source's signMessage.
	wire := make([]byte, 0, 65)
	wire = append(wire, sig[64]+27)
	wire = append(wire, sig[0:64]...)

	log.Info("echain signer: raw signature", "chain", s.Chain, "nonce", NonceFromBytes(m.Nonce), "sig", hexutil.Encode(wire))

	encoded, err := sigcodec.Encode(sigcodec.Route{
		SourceChain:      m.SourceChain,
		DestinationChain: m.DestinationChain,
		Nonce:            m.Nonce,
	}, nil, wire)
	if err != nil {
		return fmt.Errorf("encode signature: %w", err)
	}

	if err := s.Store.SetSignature(m.SourceChain, m.Nonce, encoded); err != nil {
		return err
	}
	s.Publisher.Enqueue(encoded)
	return nil
}

func contentsAsHex(words [][]byte) []interface{} {
	out := make([]interface{}, len(words))
	for i, w := range words {
		out[i] = hexutil.Encode(w)
	}
	return out
}
