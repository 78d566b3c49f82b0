package xchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpdotgreen/cli/internal/chains"
)

func TestUsedSetCompactionScenario(t *testing.T) {
	// spec.md §8 scenario 6: insert 1,2,3,5,4,7 into an empty used-set.
	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)

	u := NewUsedSet()
	for _, n := range []uint64{1, 2, 3, 5, 4, 7} {
		require.NoError(t, u.Insert(eth, n))
	}

	e := u.entries[eth]
	require.Equal(t, uint64(5), e.A)
	require.Equal(t, []uint64{7}, e.Explicit)

	for _, n := range []uint64{1, 2, 3, 4, 5, 7} {
		require.True(t, u.IsUsed(eth, n), "nonce %d should be used", n)
	}
	for _, n := range []uint64{6, 8} {
		require.False(t, u.IsUsed(eth, n), "nonce %d should not be used", n)
	}
}

func TestUsedSetInsertRejectsDuplicateAndOutOfOrder(t *testing.T) {
	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)

	u := NewUsedSet()
	require.NoError(t, u.Insert(eth, 1))
	require.NoError(t, u.Insert(eth, 2))
	require.Error(t, u.Insert(eth, 2)) // already used
	require.Error(t, u.Insert(eth, 1)) // <= compacted floor
}

func TestUsedSetEncodeDecodeRoundTrip(t *testing.T) {
	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)
	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)

	u := NewUsedSet()
	for _, n := range []uint64{1, 2, 3, 5, 4, 7} {
		require.NoError(t, u.Insert(eth, n))
	}
	require.NoError(t, u.Insert(xch, 10))

	encoded := u.Encode()
	decoded, err := DecodeUsedSet(encoded)
	require.NoError(t, err)

	require.True(t, decoded.IsUsed(eth, 5))
	require.True(t, decoded.IsUsed(eth, 7))
	require.False(t, decoded.IsUsed(eth, 6))
	require.True(t, decoded.IsUsed(xch, 10))
	require.False(t, decoded.IsUsed(xch, 1))
}

func TestUsedSetFirstInsertionShortcuts(t *testing.T) {
	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)

	u := NewUsedSet()
	require.NoError(t, u.Insert(eth, 5))
	e := u.entries[eth]
	require.Equal(t, uint64(0), e.A)
	require.Equal(t, []uint64{5}, e.Explicit)

	u2 := NewUsedSet()
	require.NoError(t, u2.Insert(eth, 1))
	e2 := u2.entries[eth]
	require.Equal(t, uint64(1), e2.A)
	require.Empty(t, e2.Explicit)
}
