// Package xchain implements the X-chain side of the relay: the message
// listener (C5, spec.md §4.5), the portal singleton tracker (C6, spec.md
// §4.6) and the X-chain signer (C7, spec.md §4.7).
package xchain

import (
	"fmt"
	"sort"

	"github.com/warpdotgreen/cli/internal/chains"
)

// chainEntry is one per-chain run of the compact used-set format described
// in spec.md §4.6: all nonces 1..A are implicitly used, plus each nonce in
// Explicit (all > A).
type chainEntry struct {
	Chain    chains.ChainID
	A        uint64
	Explicit []uint64
}

// UsedSet is the compact encoding of consumed (source_chain, nonce) pairs
// maintained by the portal tracker (spec.md §3 PortalState.used_chains_and_nonces,
// §4.6). The zero value is an empty set.
type UsedSet struct {
	entries map[chains.ChainID]*chainEntry
	order   []chains.ChainID // insertion order, for deterministic encoding
}

// NewUsedSet returns an empty UsedSet.
func NewUsedSet() *UsedSet {
	return &UsedSet{entries: make(map[chains.ChainID]*chainEntry)}
}

// IsUsed reports whether nonce has been inserted for chain, per spec.md
// §4.6 "Query 'is n used?' returns true iff n ≤ a or n ∈ explicit".
func (u *UsedSet) IsUsed(chain chains.ChainID, nonce uint64) bool {
	e, ok := u.entries[chain]
	if !ok {
		return false
	}
	if nonce <= e.A {
		return true
	}
	for _, n := range e.Explicit {
		if n == nonce {
			return true
		}
	}
	return false
}

// Insert adds (chain, nonce) to the set, per the algorithm in spec.md §4.6:
//
//  1. Precondition a < n and n ∉ explicit.
//  2. Append n, sort the explicit list.
//  3. While the list is non-empty and a+1 == first_explicit: a := first_explicit, pop.
//
// If the chain is not yet present: add (chain, n) if n == 1 (i.e. A := 1,
// Explicit empty), else (chain, 0, n).
func (u *UsedSet) Insert(chain chains.ChainID, nonce uint64) error {
	if u.entries == nil {
		u.entries = make(map[chains.ChainID]*chainEntry)
	}
	e, ok := u.entries[chain]
	if !ok {
		if nonce == 1 {
			u.entries[chain] = &chainEntry{Chain: chain, A: 1}
		} else {
			u.entries[chain] = &chainEntry{Chain: chain, A: 0, Explicit: []uint64{nonce}}
		}
		u.order = append(u.order, chain)
		return nil
	}

	if u.IsUsed(chain, nonce) {
		return fmt.Errorf("xchain: nonce %d already used for chain %s", nonce, chain)
	}
	if nonce <= e.A {
		return fmt.Errorf("xchain: nonce %d <= compacted floor %d for chain %s", nonce, e.A, chain)
	}

	e.Explicit = append(e.Explicit, nonce)
	sort.Slice(e.Explicit, func(i, j int) bool { return e.Explicit[i] < e.Explicit[j] })

	for len(e.Explicit) > 0 && e.A+1 == e.Explicit[0] {
		e.A = e.Explicit[0]
		e.Explicit = e.Explicit[1:]
	}

	return nil
}

// Clone returns a deep copy of the set. The tracker does not call it: it
// builds each candidate next state from a fresh DecodeUsedSet of the
// previous tip instead.
func (u *UsedSet) Clone() *UsedSet {
	out := NewUsedSet()
	for _, chain := range u.order {
		e := u.entries[chain]
		out.entries[chain] = &chainEntry{
			Chain:    e.Chain,
			A:        e.A,
			Explicit: append([]uint64(nil), e.Explicit...),
		}
		out.order = append(out.order, chain)
	}
	return out
}
