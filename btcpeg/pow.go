package btcpeg

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// compactToBig expands a Bitcoin "compact" difficulty-bits encoding
// into the target it represents. Implemented against math/big rather
// than imported from btcsuite/btcd/blockchain: that package drags in
// the full block-validation/database dependency graph for one small
// decode needed in isolation.
func compactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := uint(compact >> 24)

	target := new(big.Int)
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target.SetInt64(int64(mantissa))
	} else {
		target.SetInt64(int64(mantissa))
		target.Lsh(target, 8*(exponent-3))
	}

	if compact&0x00800000 != 0 {
		target.Neg(target)
	}
	return target
}

// CheckProofOfWork verifies that header's block hash, interpreted as a
// big-endian integer, is at or below the target its own Bits field
// encodes, and that the target does not exceed powLimit (the network's
// maximum target, i.e. minimum work).
func CheckProofOfWork(header *wire.BlockHeader, powLimit *big.Int) bool {
	target := compactToBig(header.Bits)

	if target.Sign() <= 0 || target.Cmp(powLimit) > 0 {
		return false
	}

	hash := header.BlockHash()
	hashNum := hashToBig(hash)
	return hashNum.Cmp(target) <= 0
}

// hashToBig interprets a hash's bytes, reversed to big-endian, as an
// unsigned integer the same way Bitcoin Core compares work against
// target.
func hashToBig(hash chainhash.Hash) *big.Int {
	var buf chainhash.Hash
	copy(buf[:], hash[:])
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return new(big.Int).SetBytes(buf[:])
}

// TestnetPowLimit is the standard Bitcoin testnet3 minimum-difficulty
// target.
var TestnetPowLimit = func() *big.Int {
	limit := big.NewInt(1)
	limit.Lsh(limit, 224)
	limit.Sub(limit, big.NewInt(1))
	return limit
}()
