package bls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	sk := KeyGen([]byte("0123456789abcdef0123456789abcdef"))
	pk := PublicKeyFromSecret(sk)

	msg := []byte("tree_hash || portal_coin_id || agg_sig_data")
	sig := Sign(sk, msg)

	require.True(t, Verify(pk, msg, sig))
	require.False(t, Verify(pk, []byte("different message"), sig))
}

func TestVerifyFailsForWrongKey(t *testing.T) {
	sk1 := KeyGen([]byte("0123456789abcdef0123456789abcdef"))
	sk2 := KeyGen([]byte("fedcba9876543210fedcba9876543210"))
	pk2 := PublicKeyFromSecret(sk2)

	msg := []byte("hello")
	sig := Sign(sk1, msg)

	require.False(t, Verify(pk2, msg, sig))
}
