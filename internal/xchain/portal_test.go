package xchain

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/store"
)

type trackerFakeNode struct {
	byName map[string]*CoinRecord
	spends map[string]*CoinSpend
	peak   uint64
}

func (f *trackerFakeNode) GetBlockchainState(ctx context.Context) (uint64, error) { return f.peak, nil }

func (f *trackerFakeNode) GetCoinRecordsByPuzzleHash(ctx context.Context, puzzleHash []byte, startHeight uint64, includeSpent bool) ([]CoinRecord, error) {
	return nil, nil
}

func (f *trackerFakeNode) GetCoinRecordByName(ctx context.Context, id []byte) (*CoinRecord, error) {
	if r, ok := f.byName[hex.EncodeToString(id)]; ok {
		return r, nil
	}
	return &CoinRecord{}, nil
}

func (f *trackerFakeNode) GetPuzzleAndSolution(ctx context.Context, id []byte, height uint64) (*CoinSpend, error) {
	return f.spends[hex.EncodeToString(id)], nil
}

// encodeConsumedSolution builds a synthetic inner-solution CLVM encoding
// with the three-element shape parseConsumedNonces expects: (update_pkg_or_0
// consumed_chains_and_nonces messages).
func encodeConsumedSolution(consumed []consumedNonce) []byte {
	entries := make([][]byte, len(consumed))
	for i, c := range consumed {
		entries[i] = EncodeAtomList([][]byte{c.Chain[:], clvmIntBytes(c.Nonce)})
	}
	consumedList := EncodeList(entries)
	return EncodeList([][]byte{EncodeAtom(nil), consumedList, EncodeAtom(nil)})
}

func TestTrackerAdvancesLineageAndMarksMessageUsed(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)
	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)

	launcherID := chains.Pad32([]byte{0xEE})
	childPuzzleHash := chains.Pad32([]byte{0xCC})
	childCoinID := coinID(launcherID, childPuzzleHash, singletonReissuanceAmount)

	nonce := nonceBytes(1)
	msg := &chains.Message{
		SourceChain:      eth,
		Nonce:            nonce,
		Source:           chains.Pad32([]byte{1}),
		DestinationChain: xch,
		Destination:      chains.Pad32([]byte{2}),
		Contents:         chains.Pad32([]byte{3}),
		BlockNumber:      10,
		Signature:        "some-encoded-signature",
	}
	require.NoError(t, st.PutMessage(msg))

	solution := encodeConsumedSolution([]consumedNonce{{Chain: eth, Nonce: 1}})

	node := &trackerFakeNode{
		peak: 1000,
		byName: map[string]*CoinRecord{
			hex.EncodeToString(launcherID): {Spent: true, SpentBlockIndex: 50, ConfirmedBlockIndex: 40},
		},
		spends: map[string]*CoinSpend{
			hex.EncodeToString(launcherID): {PuzzleReveal: []byte{}, Solution: solution},
		},
	}
	puzzle := &fakePuzzle{conditions: []Condition{
		{Opcode: createCoinOpcode, Args: [][]byte{childPuzzleHash, clvmIntBytes(singletonReissuanceAmount)}},
	}}

	tr := NewTracker(xch, node, puzzle, st, launcherID)
	next, done, err := tr.step(context.Background(), launcherID, nil)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, childCoinID[:], next)

	tip, err := st.GetTip(xch)
	require.NoError(t, err)
	require.Equal(t, childCoinID[:], tip.CoinID)
	require.Equal(t, launcherID, tip.ParentID)

	used, err := DecodeUsedSet(tip.UsedChainsAndNonces)
	require.NoError(t, err)
	require.True(t, used.IsUsed(eth, 1))

	updated, err := st.GetMessage(eth, nonce)
	require.NoError(t, err)
	require.Equal(t, chains.SigUsed, updated.Signature)
}

func TestTrackerUnspentTipIsDone(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)

	tipCoinID := chains.Pad32([]byte{0xAB})
	node := &trackerFakeNode{
		peak: 100,
		byName: map[string]*CoinRecord{
			hex.EncodeToString(tipCoinID): {Spent: false, ConfirmedBlockIndex: 90},
		},
	}
	puzzle := &fakePuzzle{}
	tr := NewTracker(xch, node, puzzle, st, tipCoinID)

	next, done, err := tr.step(context.Background(), tipCoinID, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, next)
}
