package peg

import (
	"crypto/sha256"
	"encoding/binary"
)

// withdrawalSigningHash computes the canonical message hash a
// withdrawal's signature commits to: every field of the transaction
// except the signature itself. A fixed-width, length-prefixed encoding
// avoids any ambiguity the wire JSON encoding's field ordering could
// otherwise introduce.
func withdrawalSigningHash(from []byte, to []byte, amount, nonce uint64) [32]byte {
	h := sha256.New()
	h.Write(from)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(to)))
	h.Write(lenBuf[:])
	h.Write(to)

	var amountBuf, nonceBuf [8]byte
	binary.BigEndian.PutUint64(amountBuf[:], amount)
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	h.Write(amountBuf[:])
	h.Write(nonceBuf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
