package echain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/publisher"
	"github.com/warpdotgreen/cli/internal/sigcodec"
	"github.com/warpdotgreen/cli/internal/store"
)

func TestSignerProducesDecodableSignature(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)
	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)

	msg := &chains.Message{
		SourceChain:      xch,
		Nonce:            chains.Pad32([]byte{1}),
		Source:           chains.Pad32([]byte{2}),
		DestinationChain: eth,
		Destination:      chains.Pad32(common.HexToAddress("0x0000000000000000000000000000000000dEaD").Bytes()),
		Contents:         chains.Pad32([]byte{3}),
		BlockNumber:      10,
		Signature:        "",
	}
	require.NoError(t, st.PutMessage(msg))

	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	pub, err := publisher.New([]string{"wss://example.invalid"}, "test test test test test test test test test test test junk", t.TempDir()+"/sig.log", 8)
	require.NoError(t, err)

	portalAddress := common.HexToAddress("0x0000000000000000000000000000000000beef")
	signer := NewSigner(eth, portalAddress, 1, privateKey, st, pub)

	require.NoError(t, signer.signOne(msg))

	updated, err := st.GetMessage(xch, msg.Nonce)
	require.NoError(t, err)
	require.NotEmpty(t, updated.Signature)

	route, coinBinding, rawSig, err := sigcodec.Decode(updated.Signature)
	require.NoError(t, err)
	require.Equal(t, xch, route.SourceChain)
	require.Equal(t, eth, route.DestinationChain)
	require.Nil(t, coinBinding)
	require.Len(t, rawSig, 65)
}
