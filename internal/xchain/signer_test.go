package xchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpdotgreen/cli/internal/bls"
	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/publisher"
	"github.com/warpdotgreen/cli/internal/sigcodec"
	"github.com/warpdotgreen/cli/internal/store"
)

func testPublisher(t *testing.T) *publisher.Publisher {
	t.Helper()
	pub, err := publisher.New([]string{"wss://example.invalid"}, "test test test test test test test test test test test junk", t.TempDir()+"/sig.log", 8)
	require.NoError(t, err)
	return pub
}

func testSecretKey(t *testing.T) *bls.SecretKey {
	t.Helper()
	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = byte(i + 1)
	}
	return bls.KeyGen(ikm)
}

func TestSignerSignsUnsignedMessageBoundToTip(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)
	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)

	msg := &chains.Message{
		SourceChain:      eth,
		Nonce:            nonceBytes(7),
		Source:           chains.Pad32([]byte{1}),
		DestinationChain: xch,
		Destination:      chains.Pad32([]byte{2}),
		Contents:         chains.Pad32([]byte{3}),
		BlockNumber:      10,
		Signature:        "",
	}
	require.NoError(t, st.PutMessage(msg))

	sk := testSecretKey(t)
	pk := bls.PublicKeyFromSecret(sk)
	aggSigData := []byte("test-agg-sig-data")
	tip := chains.Pad32([]byte{0x42})

	tr := NewTracker(xch, nil, nil, st, nil)
	tr.publishTip(tip, 100, false)

	signer := NewSigner(xch, tr, st, sk, aggSigData, testPublisher(t))
	require.NoError(t, signer.signUnsigned(tip))

	updated, err := st.GetMessage(eth, msg.Nonce)
	require.NoError(t, err)
	require.NotEmpty(t, updated.Signature)

	route, coinBinding, rawSig, err := sigcodec.Decode(updated.Signature)
	require.NoError(t, err)
	require.Equal(t, eth, route.SourceChain)
	require.Equal(t, xch, route.DestinationChain)
	require.Equal(t, tip, coinBinding)

	sig := new(bls.Signature).Uncompress(rawSig)
	require.NotNil(t, sig)
	treeHash := MessageTreeHash(updated)
	payload := append(append(append([]byte{}, treeHash[:]...), tip...), aggSigData...)
	require.True(t, bls.Verify(pk, payload, sig))
}

func TestSignerShortCircuitsAlreadyUsedNonce(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)
	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)

	msg := &chains.Message{
		SourceChain:      eth,
		Nonce:            nonceBytes(3),
		Source:           chains.Pad32([]byte{1}),
		DestinationChain: xch,
		Destination:      chains.Pad32([]byte{2}),
		Contents:         chains.Pad32([]byte{3}),
		BlockNumber:      10,
		Signature:        "",
	}
	require.NoError(t, st.PutMessage(msg))

	tip := chains.Pad32([]byte{0x42})
	tr := NewTracker(xch, nil, nil, st, nil)
	tr.publishTip(tip, 100, false)

	used := NewUsedSet()
	require.NoError(t, used.Insert(eth, 3))
	tr.setUsedSet(used)

	signer := NewSigner(xch, tr, st, testSecretKey(t), []byte("agg"), testPublisher(t))
	require.NoError(t, signer.signOne(msg, tip))

	updated, err := st.GetMessage(eth, msg.Nonce)
	require.NoError(t, err)
	require.Equal(t, chains.SigUsed, updated.Signature)
}

func TestSignerResyncsStaleBindingAfterRotation(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eth, err := chains.ChainIDFromTag("eth")
	require.NoError(t, err)
	xch, err := chains.ChainIDFromTag("xch")
	require.NoError(t, err)

	msg := &chains.Message{
		SourceChain:      eth,
		Nonce:            nonceBytes(9),
		Source:           chains.Pad32([]byte{1}),
		DestinationChain: xch,
		Destination:      chains.Pad32([]byte{2}),
		Contents:         chains.Pad32([]byte{3}),
		BlockNumber:      10,
		Signature:        "",
	}
	require.NoError(t, st.PutMessage(msg))

	sk := testSecretKey(t)
	oldTip := chains.Pad32([]byte{0x11})
	newTip := chains.Pad32([]byte{0x22})

	tr := NewTracker(xch, nil, nil, st, nil)
	tr.publishTip(oldTip, 100, false)
	signer := NewSigner(xch, tr, st, sk, []byte("agg"), testPublisher(t))
	require.NoError(t, signer.signOne(msg, oldTip))

	tr.publishTip(newTip, 200, false)
	require.NoError(t, signer.resyncRotated(newTip))

	updated, err := st.GetMessage(eth, msg.Nonce)
	require.NoError(t, err)
	_, coinBinding, _, err := sigcodec.Decode(updated.Signature)
	require.NoError(t, err)
	require.Equal(t, newTip, coinBinding)
}
