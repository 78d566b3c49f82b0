package xchain

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/store"
)

type fakeNode struct {
	peak    uint64
	records []CoinRecord
	spends  map[string]*CoinSpend // keyed by hex(coin_id of the parent)
	byName  map[string]*CoinRecord
}

func (f *fakeNode) GetBlockchainState(ctx context.Context) (uint64, error) { return f.peak, nil }

func (f *fakeNode) GetCoinRecordsByPuzzleHash(ctx context.Context, puzzleHash []byte, startHeight uint64, includeSpent bool) ([]CoinRecord, error) {
	return f.records, nil
}

func (f *fakeNode) GetCoinRecordByName(ctx context.Context, id []byte) (*CoinRecord, error) {
	if r, ok := f.byName[hex.EncodeToString(id)]; ok {
		return r, nil
	}
	return &CoinRecord{}, nil
}

func (f *fakeNode) GetPuzzleAndSolution(ctx context.Context, id []byte, height uint64) (*CoinSpend, error) {
	return f.spends[hex.EncodeToString(id)], nil
}

type fakePuzzle struct {
	conditions []Condition
}

func (f *fakePuzzle) Run(ctx context.Context, reveal, solution []byte) ([]Condition, error) {
	return f.conditions, nil
}

func TestListenerIngestsBridgingMessage(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)

	bridgingPH := chains.Pad32([]byte{0xBB})
	parentCoinInfo := chains.Pad32([]byte{0xAA})
	amount := uint64(1_000_000)
	cid := coinID(parentCoinInfo, bridgingPH, amount)

	rec := CoinRecord{ConfirmedBlockIndex: 100, Spent: true, SpentBlockIndex: 101}
	rec.Coin.ParentCoinInfo = hex.EncodeToString(parentCoinInfo)
	rec.Coin.PuzzleHash = hex.EncodeToString(bridgingPH)
	rec.Coin.Amount = amount

	parentPuzzleHash := chains.Pad32([]byte{0xDD})
	parentRec := &CoinRecord{ConfirmedBlockIndex: 90, Spent: true, SpentBlockIndex: 100}
	parentRec.Coin.PuzzleHash = hex.EncodeToString(parentPuzzleHash)

	destChainBytes := []byte("eth")
	destBytes := chains.Pad32([]byte{0xCC})
	content1 := chains.Pad32([]byte{0x01})

	conditions := []Condition{
		{Opcode: createCoinOpcode, Args: [][]byte{bridgingPH, clvmIntBytes(amount), destChainBytes, destBytes, content1}},
	}

	node := &fakeNode{
		peak:    200,
		records: []CoinRecord{rec},
		spends: map[string]*CoinSpend{
			hex.EncodeToString(parentCoinInfo): {PuzzleReveal: []byte{}, Solution: []byte{}},
		},
		byName: map[string]*CoinRecord{
			hex.EncodeToString(cid[:]):         {ConfirmedBlockIndex: 100},
			hex.EncodeToString(parentCoinInfo): parentRec,
		},
	}
	puzzle := &fakePuzzle{conditions: conditions}

	l := NewListener(xch, node, puzzle, st, bridgingPH, 1, 0, 10)
	_, err = l.scanOnce(context.Background(), 0)
	require.NoError(t, err)

	msg, err := st.GetMessage(xch, cid[:])
	require.NoError(t, err)
	require.Equal(t, parentPuzzleHash, msg.Source)
	require.Equal(t, content1, msg.Contents)
	require.Equal(t, "", msg.Signature)
}

func TestListenerIdempotentOnSecondScan(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)

	bridgingPH := chains.Pad32([]byte{0xBB})
	parentCoinInfo := chains.Pad32([]byte{0xAA})
	amount := uint64(1_000_000)
	cid := coinID(parentCoinInfo, bridgingPH, amount)

	rec := CoinRecord{ConfirmedBlockIndex: 100, Spent: true}
	rec.Coin.ParentCoinInfo = hex.EncodeToString(parentCoinInfo)
	rec.Coin.PuzzleHash = hex.EncodeToString(bridgingPH)
	rec.Coin.Amount = amount

	conditions := []Condition{
		{Opcode: createCoinOpcode, Args: [][]byte{bridgingPH, clvmIntBytes(amount), []byte("eth"), chains.Pad32([]byte{1}), chains.Pad32([]byte{2})}},
	}
	node := &fakeNode{
		peak:    200,
		records: []CoinRecord{rec},
		spends:  map[string]*CoinSpend{hex.EncodeToString(parentCoinInfo): {}},
		byName:  map[string]*CoinRecord{hex.EncodeToString(cid[:]): {ConfirmedBlockIndex: 100}},
	}
	puzzle := &fakePuzzle{conditions: conditions}
	l := NewListener(xch, node, puzzle, st, bridgingPH, 1, 0, 10)

	_, err = l.scanOnce(context.Background(), 0)
	require.NoError(t, err)
	_, err = l.scanOnce(context.Background(), 0)
	require.NoError(t, err)

	msg, err := st.GetMessage(xch, cid[:])
	require.NoError(t, err)
	require.NotNil(t, msg)
}
