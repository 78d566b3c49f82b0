package xchain

import (
	"encoding/binary"
	"fmt"

	"github.com/warpdotgreen/cli/internal/chains"
)

// Encode serializes the UsedSet to the byte form stored in
// PortalState.UsedChainsAndNonces: a sequence of per-chain entries, each
// `chain(3) || A(8) || count(4) || n1(8) || n2(8) ...`, in insertion order.
func (u *UsedSet) Encode() []byte {
	var out []byte
	for _, chain := range u.order {
		e := u.entries[chain]
		out = append(out, chain[:]...)
		out = appendUint64(out, e.A)
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(e.Explicit)))
		out = append(out, countBuf[:]...)
		for _, n := range e.Explicit {
			out = appendUint64(out, n)
		}
	}
	return out
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

// DecodeUsedSet parses the byte form written by Encode.
func DecodeUsedSet(b []byte) (*UsedSet, error) {
	u := NewUsedSet()
	for len(b) > 0 {
		if len(b) < 3+8+4 {
			return nil, fmt.Errorf("xchain: truncated used-set entry header")
		}
		var chain chains.ChainID
		copy(chain[:], b[:3])
		a := binary.BigEndian.Uint64(b[3:11])
		count := binary.BigEndian.Uint32(b[11:15])
		b = b[15:]

		if uint64(len(b)) < uint64(count)*8 {
			return nil, fmt.Errorf("xchain: truncated used-set explicit list")
		}
		explicit := make([]uint64, count)
		for i := uint32(0); i < count; i++ {
			explicit[i] = binary.BigEndian.Uint64(b[:8])
			b = b[8:]
		}

		u.entries[chain] = &chainEntry{Chain: chain, A: a, Explicit: explicit}
		u.order = append(u.order, chain)
	}
	return u, nil
}
