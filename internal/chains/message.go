// Package chains holds types and small helpers shared by every per-chain
// follower: the Message record (spec.md §3), the cooperative Follower
// interface each concrete follower implements (spec.md §9 "dynamic dispatch
// over heterogeneous chains"), and the 32-byte content-word conventions used
// by both the E-chain and X-chain wire formats.
package chains

import (
	"bytes"
	"context"
	"fmt"
)

// SigUsed is the sentinel signature value that marks a Message as superseded
// by on-chain consumption (spec.md §3 Message.signature, invariant I2).
const SigUsed = "used"

// ChainID is a three-byte chain tag, e.g. "eth", "xch", "bse"; a shorter tag
// occupies the leading bytes and the rest are zero.
type ChainID [3]byte

func (c ChainID) String() string { return string(bytes.TrimRight(c[:], "\x00")) }

// ChainIDFromTag builds a ChainID from a short ASCII tag such as "eth" or
// "xch". Tags longer than three bytes are rejected; shorter ones are
// zero-filled on the right (most configured tags are already exactly three
// characters).
func ChainIDFromTag(tag string) (ChainID, error) {
	var id ChainID
	if len(tag) > 3 {
		return id, fmt.Errorf("chain tag %q longer than 3 bytes", tag)
	}
	copy(id[:], tag)
	return id, nil
}

// Message is the durable record described in spec.md §3. Identity is
// (SourceChain, Nonce); Signature transitions monotonically through the
// lattice empty -> (signed | used) per invariant I2.
type Message struct {
	SourceChain      ChainID
	Nonce            []byte // 32 bytes, left-padded
	Source           []byte // 32 bytes, left-padded
	DestinationChain ChainID
	Destination      []byte // 32 bytes, left-padded
	Contents         []byte // multiple of 32 bytes
	BlockNumber      uint64
	Signature        string // "" = unsigned, SigUsed = superseded, else encoded signature
}

// ContentWords splits Contents into its 32-byte words, per spec.md §3.
func (m *Message) ContentWords() [][]byte {
	return SplitWords(m.Contents)
}

// SplitWords splits a byte string that is a multiple of 32 bytes into its
// constituent 32-byte words, "on demand" per spec.md §3.
func SplitWords(b []byte) [][]byte {
	if len(b)%32 != 0 {
		panic(fmt.Sprintf("chains: content length %d is not a multiple of 32", len(b)))
	}
	words := make([][]byte, 0, len(b)/32)
	for i := 0; i < len(b); i += 32 {
		words = append(words, b[i:i+32])
	}
	return words
}

// JoinWords is the inverse of SplitWords.
func JoinWords(words [][]byte) []byte {
	out := make([]byte, 0, 32*len(words))
	for _, w := range words {
		out = append(out, Pad32(w)...)
	}
	return out
}

// Pad32 left-zero-pads b to 32 bytes, truncating from the left if it is
// longer, per spec.md §4.5 "Normalize each content atom to exactly 32
// bytes (left-zero-pad if shorter, truncate if longer)".
func Pad32(b []byte) []byte {
	if len(b) == 32 {
		return b
	}
	if len(b) > 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// StripLeadingZeros removes leading zero bytes, used when building the
// X-chain signing tuple (spec.md §4.7 step 1).
func StripLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return b[i:]
}

// Follower is the interface shared by the E-chain and X-chain followers
// (spec.md §9 "dynamic dispatch over heterogeneous chains"): both expose a
// node-liveness probe the orchestrator blocks on before starting the
// cooperative loops, and a Run method that blocks until a fatal error or
// context cancellation.
type Follower interface {
	// WaitForNode blocks, retrying every 10s, until the chain's RPC
	// endpoint answers a liveness probe. If logStartupErrors is true,
	// each failed attempt is logged with its error; otherwise failures
	// are logged at a lower verbosity without the error detail.
	WaitForNode(ctx context.Context, logStartupErrors bool) error

	// Run starts every cooperative loop the follower owns (listener,
	// signer, and for X-chain the portal tracker) and blocks until one
	// of them returns a fatal error or ctx is cancelled.
	Run(ctx context.Context) error

	// ChainTag identifies the chain this follower serves, for logging.
	ChainTag() string
}
