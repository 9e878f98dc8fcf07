// Package workproof processes WorkProof submissions: an out-of-band
// proof-of-work over a validator's pubkey that grants it voting power,
// routed by the host adapter but evaluated here.
package workproof

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/BlockscapeNetwork/nomic/config"
)

// Proof is a WorkProof transaction: a candidate validator pubkey and
// the nonce its submitter searched for.
type Proof struct {
	PublicKey []byte
	Nonce     uint64
}

// leadingZeroBits counts the number of leading zero bits in h.
func leadingZeroBits(h [32]byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}

// Work returns the work value of sha256(pubkey || nonce): 2^n where n
// is the hash's count of leading zero bits. A smaller hash is rarer
// and worth proportionally more work.
func Work(p Proof) uint64 {
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], p.Nonce)

	h := sha256.New()
	h.Write(p.PublicKey)
	h.Write(nonceBuf[:])

	var sum [32]byte
	copy(sum[:], h.Sum(nil))

	n := leadingZeroBits(sum)
	if n >= 63 {
		n = 63
	}
	return uint64(1) << uint(n)
}

// minWork is the minimum acceptable work value, derived from the
// difficulty's leading-zero-bit count.
func minWork() uint64 {
	return uint64(1) << uint(config.MinWorkProofDifficulty)
}

// Satisfies reports whether p clears the minimum work threshold.
func Satisfies(p Proof) bool {
	return Work(p) >= minWork()
}

// PowerGrant is the voting-power delta a satisfied proof contributes:
// the work value itself.
func PowerGrant(p Proof) uint64 {
	return Work(p)
}
