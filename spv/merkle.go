package spv

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BlockscapeNetwork/nomic/errors"
)

// VerifyMerkleProof walks proof, a concatenation of 32-byte sibling
// hashes from the transaction's leaf up to the block's merkle root,
// combining with txid at each level according to blockIndex's bits
// (the transaction's position among the block's leaves), and reports
// whether the computed root matches want.
func VerifyMerkleProof(txid chainhash.Hash, blockIndex uint32, proof []byte, want chainhash.Hash) (bool, error) {
	if len(proof)%chainhash.HashSize != 0 {
		return false, errors.New(errors.ERR_BAD_PROOF, "spv: malformed merkle proof length")
	}

	cur := txid
	idx := blockIndex
	levels := len(proof) / chainhash.HashSize

	for i := 0; i < levels; i++ {
		var sibling chainhash.Hash
		copy(sibling[:], proof[i*chainhash.HashSize:(i+1)*chainhash.HashSize])

		var concat [chainhash.HashSize * 2]byte
		if idx&1 == 0 {
			copy(concat[:chainhash.HashSize], cur[:])
			copy(concat[chainhash.HashSize:], sibling[:])
		} else {
			copy(concat[:chainhash.HashSize], sibling[:])
			copy(concat[chainhash.HashSize:], cur[:])
		}
		cur = chainhash.DoubleHashH(concat[:])
		idx >>= 1
	}

	return cur == want, nil
}
