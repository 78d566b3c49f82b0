// Package bls wraps the BLS12-381 "augmented" signature scheme
// (AugSchemeMPL, as used by Chia's bls-signatures) needed by the X-chain
// signer (component C7, spec.md §4.7) and by signature verification in
// tests. It is a thin
// adapter over github.com/supranational/blst, a direct dependency of the
// teacher's go.mod (every BLS12-381 operation in go-ethereum's own KZG/EIP-
// 4844 machinery goes through the same library), using blst's min-pubkey-
// size variant: G1 public keys, G2 signatures -- the same curve-point
// assignment Chia's bls-signatures library uses.
package bls

import (
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

// augDST is the ciphersuite tag for the augmented BLS scheme over G2, per
// the IETF BLS draft ("..._AUG_"), matching AugSchemeMPL in Chia's
// bls-signatures.
const augDST = "BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_AUG_"

// SecretKey is a BLS12-381 scalar.
type SecretKey = blst.SecretKey

// PublicKey is a point on G1.
type PublicKey = blst.P1Affine

// Signature is a point on G2.
type Signature = blst.P2Affine

// KeyGen derives a SecretKey deterministically from ikm (at least 32 bytes
// of entropy), mirroring blspy's KeyGen used to derive the relay's hot key.
func KeyGen(ikm []byte) *SecretKey {
	return blst.KeyGen(ikm)
}

// SecretKeyFromBytes deserializes a 32-byte big-endian scalar, the format
// configured chains store their my_hot_private_key value in for X-chains.
func SecretKeyFromBytes(b []byte) (*SecretKey, error) {
	sk := new(SecretKey).Deserialize(b)
	if sk == nil {
		return nil, fmt.Errorf("bls: invalid secret key encoding")
	}
	return sk, nil
}

// PublicKeyFromSecret returns the G1 public key for sk.
func PublicKeyFromSecret(sk *SecretKey) *PublicKey {
	return new(PublicKey).From(sk)
}

// Sign produces an AugSchemeMPL signature over msg under sk: the message
// actually hashed to G2 is pk || msg, per spec.md §4.7 step 4's
// "Concatenate tree_hash ‖ current_portal_coin_id ‖ AGG_SIG_ADDITIONAL_DATA"
// (that concatenation is msg; AugScheme additionally prefixes the signer's
// public key before hashing to curve, which is what makes the scheme safe
// against rogue-key attacks when aggregating across validators).
func Sign(sk *SecretKey, msg []byte) *Signature {
	pk := PublicKeyFromSecret(sk)
	augmented := augment(pk, msg)
	return new(Signature).Sign(sk, augmented, []byte(augDST))
}

// Verify checks an AugSchemeMPL signature produced by Sign.
func Verify(pk *PublicKey, msg []byte, sig *Signature) bool {
	augmented := augment(pk, msg)
	return sig.Verify(true, pk, true, augmented, []byte(augDST))
}

func augment(pk *PublicKey, msg []byte) []byte {
	pkBytes := pk.Compress()
	out := make([]byte, 0, len(pkBytes)+len(msg))
	out = append(out, pkBytes...)
	out = append(out, msg...)
	return out
}

// AggregateSignatures combines multiple AugScheme signatures into one, for
// callers that aggregate a publisher's gathered signatures into a single
// settling-transaction proof (outside this relay's scope, per spec.md §1,
// but exposed here since it is a one-line wrapper any aggregator consuming
// this package's wire format will need).
func AggregateSignatures(sigs []*Signature) (*Signature, bool) {
	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(compressAll(sigs), false) {
		return nil, false
	}
	return agg.ToAffine(), true
}

func compressAll(sigs []*Signature) [][]byte {
	out := make([][]byte, len(sigs))
	for i, s := range sigs {
		out[i] = s.Compress()
	}
	return out
}
