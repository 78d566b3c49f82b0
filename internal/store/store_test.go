package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpdotgreen/cli/internal/chains"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testChainID(t *testing.T, tag string) chains.ChainID {
	t.Helper()
	id, err := chains.ChainIDFromTag(tag)
	require.NoError(t, err)
	return id
}

func TestPutAndGetMessage(t *testing.T) {
	s := newTestStore(t)
	eth := testChainID(t, "eth")
	xch := testChainID(t, "xch")

	m := &chains.Message{
		SourceChain:      eth,
		Nonce:            chains.Pad32([]byte{1}),
		Source:           chains.Pad32([]byte{0xaa}),
		DestinationChain: xch,
		Destination:      chains.Pad32([]byte{0xbb}),
		Contents:         chains.JoinWords([][]byte{chains.Pad32([]byte{1}), chains.Pad32([]byte{2})}),
		BlockNumber:      100,
	}
	require.NoError(t, s.PutMessage(m))

	got, err := s.GetMessage(eth, m.Nonce)
	require.NoError(t, err)
	require.Equal(t, m.Source, got.Source)
	require.Equal(t, m.Contents, got.Contents)
	require.Equal(t, "", got.Signature)

	_, err = s.GetMessage(eth, chains.Pad32([]byte{99}))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetSignatureAndListUnsigned(t *testing.T) {
	s := newTestStore(t)
	eth := testChainID(t, "eth")
	xch := testChainID(t, "xch")

	for i := byte(1); i <= 3; i++ {
		require.NoError(t, s.PutMessage(&chains.Message{
			SourceChain:      eth,
			Nonce:            chains.Pad32([]byte{i}),
			Source:           chains.Pad32([]byte{0xaa}),
			DestinationChain: xch,
			Destination:      chains.Pad32([]byte{0xbb}),
			Contents:         chains.JoinWords([][]byte{chains.Pad32([]byte{i})}),
			BlockNumber:      uint64(100 + i),
		}))
	}

	unsigned, err := s.ListUnsignedForDestination(xch)
	require.NoError(t, err)
	require.Len(t, unsigned, 3)

	require.NoError(t, s.SetSignature(eth, chains.Pad32([]byte{2}), "r...-c...-s..."))
	unsigned, err = s.ListUnsignedForDestination(xch)
	require.NoError(t, err)
	require.Len(t, unsigned, 2)

	nonUsed, err := s.ListNonUsedForDestination(xch)
	require.NoError(t, err)
	require.Len(t, nonUsed, 1)

	require.NoError(t, s.SetSignature(eth, chains.Pad32([]byte{2}), chains.SigUsed))
	nonUsed, err = s.ListNonUsedForDestination(xch)
	require.NoError(t, err)
	require.Len(t, nonUsed, 0)
}

func TestGetHighestBlockNumberAndLatestMessage(t *testing.T) {
	s := newTestStore(t)
	eth := testChainID(t, "eth")
	xch := testChainID(t, "xch")

	_, ok, err := s.GetHighestBlockNumber(eth)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutMessage(&chains.Message{
		SourceChain: eth, Nonce: chains.Pad32([]byte{1}), Source: chains.Pad32(nil),
		DestinationChain: xch, Destination: chains.Pad32(nil), Contents: nil, BlockNumber: 10,
	}))
	require.NoError(t, s.PutMessage(&chains.Message{
		SourceChain: eth, Nonce: chains.Pad32([]byte{2}), Source: chains.Pad32(nil),
		DestinationChain: xch, Destination: chains.Pad32(nil), Contents: nil, BlockNumber: 20,
	}))

	h, ok, err := s.GetHighestBlockNumber(eth)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), h)

	latest, err := s.GetLatestMessage(eth)
	require.NoError(t, err)
	require.Equal(t, chains.Pad32([]byte{2}), latest.Nonce)
}

func TestPortalStateLifecycle(t *testing.T) {
	s := newTestStore(t)
	xch := testChainID(t, "xch")

	_, err := s.GetTip(xch)
	require.ErrorIs(t, err, ErrNotFound)

	h := uint64(5)
	p1 := &PortalState{ChainID: xch, CoinID: []byte("coin1"), ParentID: []byte("launcher"), UsedChainsAndNonces: []byte{}, ConfirmedHeight: &h}
	require.NoError(t, s.PutPortalState(p1))

	tip, err := s.GetTip(xch)
	require.NoError(t, err)
	require.Equal(t, []byte("coin1"), tip.CoinID)

	// roll back: null the height, then a new tip should fail until set again
	require.NoError(t, s.NullConfirmedHeightsAtOrAbove(xch, 0))
	_, err = s.GetTip(xch)
	require.ErrorIs(t, err, ErrNotFound)

	h2 := uint64(6)
	p2 := &PortalState{ChainID: xch, CoinID: []byte("coin2"), ParentID: []byte("coin1"), UsedChainsAndNonces: []byte{}, ConfirmedHeight: &h2}
	require.NoError(t, s.PutPortalState(p2))
	require.NoError(t, s.DeletePortalStatesByParent(xch, []byte("launcher")))

	tip, err = s.GetTip(xch)
	require.NoError(t, err)
	require.Equal(t, []byte("coin2"), tip.CoinID)

	_, ok, err := s.LoadLastPortalCoinID()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PersistLastPortalCoinID([]byte("coin2")))
	id, ok, err := s.LoadLastPortalCoinID()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("coin2"), id)
}
