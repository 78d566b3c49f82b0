package xchain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/store"
)

// singletonReissuanceAmount is the odd, conventionally-1 amount a singleton
// reissues itself with on every spend.
const singletonReissuanceAmount = 1

// confirmationDepth is the number of additional blocks the tracker waits
// for past a portal spend's spent_block_index before treating the spend
// (and the child coin it created) as settled, mirroring the listener's
// confirmation wait (spec.md §4.5) applied to the portal lineage (spec.md
// §4.6).
const confirmationDepth = 6

// Tracker implements component C6 (spec.md §4.6): it walks the portal
// singleton's lineage forward, applies each spend's consumed-nonce list to
// the running UsedSet, marks the corresponding Messages "used", and
// publishes the current confirmed tip to the X-chain signer through a
// mutex-protected shared cell (spec.md §9 "shared mutable current portal
// id across tasks").
type Tracker struct {
	Chain  chains.ChainID
	Node   NodeClient
	Puzzle PuzzleRunner
	Store  *store.Store

	// LauncherID is the singleton launcher coin id configured for this
	// chain (portal_launcher_id, spec.md §6); used only when the store
	// has no prior portal state to resume from.
	LauncherID []byte

	pollInterval time.Duration

	mu        sync.RWMutex
	tipCoinID []byte
	tipHeight uint64
	syncing   bool
	usedSet   *UsedSet
}

// NewTracker constructs a Tracker, starting in the syncing state: the
// signer must not sign against it until the first lineage walk reaches the
// chain's actual unspent tip.
func NewTracker(chain chains.ChainID, node NodeClient, puzzle PuzzleRunner, st *store.Store, launcherID []byte) *Tracker {
	return &Tracker{
		Chain:        chain,
		Node:         node,
		Puzzle:       puzzle,
		Store:        st,
		LauncherID:   launcherID,
		pollInterval: 15 * time.Second,
		syncing:      true,
	}
}

// CurrentTip returns the last confirmed portal coin id published by the
// tracker, and whether the tracker is still syncing. The X-chain signer
// (C7) must wait while syncing is true and may proceed once it observes
// false (spec.md §9 Open Question 2: "signer waits for syncing=false,
// never the reverse").
func (t *Tracker) CurrentTip() (coinID []byte, syncing bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]byte(nil), t.tipCoinID...), t.syncing
}

func (t *Tracker) publishTip(coinID []byte, height uint64, syncing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tipCoinID = append([]byte(nil), coinID...)
	t.tipHeight = height
	t.syncing = syncing
}

// IsUsed reports whether (chain, nonce) has already been consumed by a
// portal spend the tracker has walked, per the running UsedSet. Used by
// the signer to short-circuit signing for a message the portal lineage has
// already marked "used" (spec.md §4.7).
func (t *Tracker) IsUsed(chain chains.ChainID, nonce uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.usedSet == nil {
		return false
	}
	return t.usedSet.IsUsed(chain, nonce)
}

func (t *Tracker) setUsedSet(u *UsedSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usedSet = u
}

// Run walks the lineage forward forever, per spec.md §4.6.
func (t *Tracker) Run(ctx context.Context) error {
	currentCoinID, parentID, err := t.resume()
	if err != nil {
		return fmt.Errorf("xchain tracker %s: resume: %w", t.Chain, err)
	}

	for {
		advanced, done, err := t.step(ctx, currentCoinID, parentID)
		if err != nil {
			return fmt.Errorf("xchain tracker %s: %w", t.Chain, err)
		}
		if done {
			// currentCoinID is the confirmed, unspent tip: nothing further
			// to walk until it is spent.
			t.publishTip(currentCoinID, t.tipHeight, false)
			select {
			case <-time.After(t.pollInterval):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		parentID = currentCoinID
		currentCoinID = advanced
	}
}

// resume determines where to start walking the lineage: from the cached
// last-known coin id, or from the configured launcher id on a cold start.
func (t *Tracker) resume() (coinID, parentID []byte, err error) {
	if cached, ok, err := t.Store.LoadLastPortalCoinID(); err != nil {
		return nil, nil, err
	} else if ok {
		if ps, err := t.lookupParentByCoinID(cached); err == nil {
			return cached, ps, nil
		}
		return cached, nil, nil
	}
	return t.LauncherID, nil, nil
}

func (t *Tracker) lookupParentByCoinID(coinID []byte) ([]byte, error) {
	ps, err := t.Store.GetTip(t.Chain)
	if err != nil {
		return nil, err
	}
	if hex.EncodeToString(ps.CoinID) == hex.EncodeToString(coinID) {
		return ps.ParentID, nil
	}
	return nil, store.ErrNotFound
}

// step advances the lineage by exactly one coin. It returns (nextCoinID,
// false, nil) when the spend at currentCoinID was confirmed and walked, or
// (nil, true, nil) when currentCoinID is the confirmed, unspent tip.
func (t *Tracker) step(ctx context.Context, currentCoinID, parentID []byte) ([]byte, bool, error) {
	rec, err := t.Node.GetCoinRecordByName(ctx, currentCoinID)
	if err != nil {
		return nil, false, fmt.Errorf("get coin record: %w", err)
	}

	if rec.ConfirmedBlockIndex == 0 && !rec.Spent {
		// The coin that created currentCoinID is no longer visible to the
		// node: its creating spend was reorged away. Roll back to the
		// parent and retry from there (spec.md §4.1 reorg handling).
		if parentID == nil {
			return nil, false, fmt.Errorf("coin %x not found and no parent to roll back to", currentCoinID)
		}
		log.Info("xchain tracker: rolling back portal lineage", "chain", t.Chain, "coin", hex.EncodeToString(currentCoinID))
		if rolledBack, err := t.Store.GetPortalState(t.Chain, currentCoinID); err == nil && rolledBack.ConfirmedHeight != nil {
			if err := t.Store.NullConfirmedHeightsAtOrAbove(t.Chain, *rolledBack.ConfirmedHeight); err != nil {
				return nil, false, err
			}
		} else if err != nil && err != store.ErrNotFound {
			return nil, false, err
		}
		if err := t.Store.PersistLastPortalCoinID(parentID); err != nil {
			return nil, false, err
		}
		return parentID, false, nil
	}

	if !rec.Spent {
		t.tipHeight = rec.ConfirmedBlockIndex
		return nil, true, nil
	}

	return t.advanceSpentCoin(ctx, currentCoinID, parentID, rec)
}

// advanceSpentCoin parses the spend that consumed currentCoinID, applies
// its consumed-nonce list, persists the new PortalState, and returns the
// child coin id once the spend has reached confirmationDepth (spec.md
// §4.6).
func (t *Tracker) advanceSpentCoin(ctx context.Context, currentCoinID, parentID []byte, rec *CoinRecord) ([]byte, bool, error) {
	if err := chains.WaitUntil(ctx, 5*time.Second, func(ctx context.Context) (bool, error) {
		peak, err := t.Node.GetBlockchainState(ctx)
		if err != nil {
			return false, nil
		}
		return peak >= rec.SpentBlockIndex+confirmationDepth, nil
	}); err != nil {
		return nil, false, err
	}

	spend, err := t.Node.GetPuzzleAndSolution(ctx, currentCoinID, rec.SpentBlockIndex)
	if err != nil {
		return nil, false, fmt.Errorf("get spend: %w", err)
	}

	conditions, err := t.Puzzle.Run(ctx, spend.PuzzleReveal, spend.Solution)
	if err != nil {
		return nil, false, fmt.Errorf("run puzzle: %w", err)
	}

	childPuzzleHash, ok := findSingletonChild(conditions)
	if !ok {
		return nil, false, fmt.Errorf("spend of %x created no singleton child", currentCoinID)
	}
	childCoinID := coinID(currentCoinID, childPuzzleHash, singletonReissuanceAmount)

	consumed, err := parseConsumedNonces(spend.Solution)
	if err != nil {
		return nil, false, fmt.Errorf("parse inner solution: %w", err)
	}

	prevTip, err := t.Store.GetTip(t.Chain)
	used := NewUsedSet()
	if err == nil && len(prevTip.UsedChainsAndNonces) > 0 {
		if used, err = DecodeUsedSet(prevTip.UsedChainsAndNonces); err != nil {
			return nil, false, fmt.Errorf("decode used set: %w", err)
		}
	} else if err != nil && err != store.ErrNotFound {
		return nil, false, err
	}

	for _, c := range consumed {
		if err := used.Insert(c.Chain, c.Nonce); err != nil {
			return nil, false, fmt.Errorf("apply consumed nonce: %w", err)
		}
		if msg, err := t.Store.GetMessage(c.Chain, nonceBytes(c.Nonce)); err == nil && msg != nil {
			if err := t.Store.SetSignature(c.Chain, msg.Nonce, chains.SigUsed); err != nil {
				return nil, false, fmt.Errorf("mark message used: %w", err)
			}
		} else if err != nil && err != store.ErrNotFound {
			return nil, false, err
		}
	}

	if err := t.Store.DeletePortalStatesByParent(t.Chain, currentCoinID); err != nil {
		return nil, false, err
	}

	height := rec.SpentBlockIndex
	if err := t.Store.PutPortalState(&store.PortalState{
		ChainID:             t.Chain,
		CoinID:              childCoinID[:],
		ParentID:            currentCoinID,
		UsedChainsAndNonces: used.Encode(),
		ConfirmedHeight:     &height,
	}); err != nil {
		return nil, false, err
	}
	if err := t.Store.PersistLastPortalCoinID(childCoinID[:]); err != nil {
		return nil, false, err
	}

	log.Info("xchain tracker: advanced portal lineage", "chain", t.Chain, "coin", hex.EncodeToString(childCoinID[:]), "consumed", len(consumed))
	t.tipHeight = height
	t.setUsedSet(used)
	return childCoinID[:], false, nil
}

// findSingletonChild scans conditions for the CREATE_COIN that reissues the
// singleton (the odd amount-1 output every singleton spend emits), per
// original_source/drivers/portal.py's get_portal_receiver_solution.
func findSingletonChild(conditions []Condition) (puzzleHash []byte, ok bool) {
	for _, c := range conditions {
		if c.Opcode != createCoinOpcode || len(c.Args) < 2 {
			continue
		}
		if bytesToUint64(c.Args[1]) == singletonReissuanceAmount {
			return c.Args[0], true
		}
	}
	return nil, false
}

// consumedNonce is one (source_chain, nonce) pair a portal spend consumed.
type consumedNonce struct {
	Chain chains.ChainID
	Nonce uint64
}

// parseConsumedNonces decodes the portal spend's inner solution, following
// the three-element structure original_source/drivers/portal.py's
// get_portal_receiver_inner_solution builds: (update_package_or_0,
// consumed_chains_and_nonces, messages). update_package_or_0 is ignored
// here (applying a key-rotation update package is out of this relay's
// scope, see spec.md §1); only the consumed list is needed to advance the
// UsedSet.
func parseConsumedNonces(solution []byte) ([]consumedNonce, error) {
	top, _, err := DecodeCLVM(solution)
	if err != nil {
		return nil, err
	}
	items, err := top.AsList()
	if err != nil {
		return nil, err
	}
	if len(items) < 2 {
		return nil, fmt.Errorf("xchain: inner solution has %d elements, want at least 2", len(items))
	}

	consumedList, err := items[1].AsList()
	if err != nil {
		return nil, fmt.Errorf("xchain: consumed-nonces element: %w", err)
	}

	out := make([]consumedNonce, 0, len(consumedList))
	for _, entry := range consumedList {
		pairItems, err := entry.AsList()
		if err != nil || len(pairItems) != 2 {
			return nil, fmt.Errorf("xchain: malformed consumed-nonce entry")
		}
		if !pairItems[0].IsAtom() || !pairItems[1].IsAtom() {
			return nil, fmt.Errorf("xchain: malformed consumed-nonce entry")
		}
		var chain chains.ChainID
		copy(chain[:], pairItems[0].Atom)
		out = append(out, consumedNonce{Chain: chain, Nonce: bytesToUint64(pairItems[1].Atom)})
	}
	return out, nil
}

func nonceBytes(n uint64) []byte {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[24:], n)
	return buf[:]
}

// NonceFromBytes recovers the uint64 nonce from a message's left-padded
// 32-byte nonce field.
func NonceFromBytes(b []byte) uint64 {
	padded := chains.Pad32(b)
	return binary.BigEndian.Uint64(padded[24:])
}
