package xchain

import (
	"crypto/sha256"

	"github.com/warpdotgreen/cli/internal/chains"
)

// treeHashAtomPrefix and treeHashPairPrefix are CLVM's sha256tree
// discriminator bytes: an atom hashes as sha256(0x01 || atom), a pair as
// sha256(0x02 || tree_hash(first) || tree_hash(rest)).
const (
	treeHashAtomPrefix = 0x01
	treeHashPairPrefix = 0x02
)

func treeHashAtom(atom []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{treeHashAtomPrefix})
	h.Write(atom)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func treeHashPair(first, rest [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{treeHashPairPrefix})
	h.Write(first[:])
	h.Write(rest[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// treeHashList computes the CLVM tree hash of a right-nested, nil-
// terminated list of atoms.
func treeHashList(atoms [][]byte) [32]byte {
	acc := treeHashAtom(nil)
	for i := len(atoms) - 1; i >= 0; i-- {
		acc = treeHashPair(treeHashAtom(atoms[i]), acc)
	}
	return acc
}

// MessageTreeHash computes the CLVM tree hash of the message tuple
// (source_chain, nonce, source, destination, content_word...), the value
// the X-chain signer signs over (spec.md §4.7 steps 1-2). source has its
// leading zero bytes stripped first, per step 1.
func MessageTreeHash(m *chains.Message) [32]byte {
	atoms := [][]byte{
		m.SourceChain[:],
		m.Nonce,
		chains.StripLeadingZeros(m.Source),
		m.Destination,
	}
	atoms = append(atoms, m.ContentWords()...)
	return treeHashList(atoms)
}
