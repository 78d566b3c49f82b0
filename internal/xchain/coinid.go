package xchain

import "crypto/sha256"

// coinID computes a Chia coin's id: sha256(parent_coin_info || puzzle_hash
// || CLVM-atom-encoded amount). The CLVM integer encoding is the minimal
// big-endian two's-complement form (no superfluous leading 0x00 bytes,
// except the one required to keep a value with its high bit set
// non-negative) -- the same canonical form every Chia coin id is computed
// over.
func coinID(parentCoinInfo, puzzleHash []byte, amount uint64) [32]byte {
	h := sha256.New()
	h.Write(parentCoinInfo)
	h.Write(puzzleHash)
	h.Write(clvmIntBytes(amount))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// clvmIntBytes encodes a non-negative integer the way CLVM atoms encode
// integers: big-endian, stripped of leading zero bytes, with one leading
// 0x00 reintroduced if the remaining high bit is set (so the atom is never
// mistaken for a negative number).
func clvmIntBytes(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	i := 0
	for i < 8 && buf[i] == 0 {
		i++
	}
	b := buf[i:]
	if len(b) > 0 && b[0]&0x80 != 0 {
		return append([]byte{0x00}, b...)
	}
	return b
}
