// Package btcpeg holds the Bitcoin-protocol primitives the peg core
// needs: segwit P2WSH scripts, BIP-143 witness sighashes, header
// proof-of-work checks and raw fixed-width ECDSA signatures.
package btcpeg

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Address is a 33-byte compressed secp256k1 public key.
type Address [33]byte

// Signature is a 64-byte raw R||S ECDSA signature. Deliberately not
// DER: the wire format is fixed-width, so R and S are serialized as
// two 32-byte big-endian halves.
type Signature [64]byte

// ParseAddress validates and wraps a 33-byte compressed pubkey.
func ParseAddress(b []byte) (Address, error) {
	var a Address
	if len(b) != 33 {
		return a, fmt.Errorf("btcpeg: address must be 33 bytes, got %d", len(b))
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return a, fmt.Errorf("btcpeg: invalid secp256k1 pubkey: %w", err)
	}
	copy(a[:], b)
	return a, nil
}

// PubKey recovers the parsed secp256k1 public key from an Address.
// Only ever fails if the Address was constructed by means other than
// ParseAddress.
func (a Address) PubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(a[:])
}

// Sign produces a 64-byte raw R||S signature over hash.
func Sign(priv *btcec.PrivateKey, hash []byte) (Signature, error) {
	var out Signature
	sig := ecdsa.Sign(priv, hash)

	r, s, err := splitDER(sig.Serialize())
	if err != nil {
		return out, err
	}
	copy(out[:32], r)
	copy(out[32:], s)
	return out, nil
}

// Verify checks a 64-byte raw R||S signature against hash under addr.
func Verify(addr Address, hash []byte, sig Signature) (bool, error) {
	pub, err := addr.PubKey()
	if err != nil {
		return false, err
	}

	var r, s btcec.ModNScalar
	r.SetByteSlice(sig[:32])
	s.SetByteSlice(sig[32:])

	parsed := ecdsa.NewSignature(&r, &s)
	return parsed.Verify(hash, pub), nil
}

// splitDER extracts the 32-byte big-endian R and S values from a
// BER/DER-encoded ECDSA signature (SEQUENCE { INTEGER r, INTEGER s }).
// Written by hand rather than pulled from encoding/asn1, which cannot
// express ECDSA's variable-length, sign-padded INTEGER encoding
// without a matching struct definition of its own.
func splitDER(der []byte) (r, s []byte, err error) {
	if len(der) < 8 || der[0] != 0x30 {
		return nil, nil, fmt.Errorf("btcpeg: malformed DER signature")
	}

	pos := 2 // skip SEQUENCE tag + length byte
	r, pos, err = readDERInt(der, pos)
	if err != nil {
		return nil, nil, err
	}
	s, _, err = readDERInt(der, pos)
	if err != nil {
		return nil, nil, err
	}

	return leftPad32(r), leftPad32(s), nil
}

func readDERInt(der []byte, pos int) ([]byte, int, error) {
	if pos+1 >= len(der) || der[pos] != 0x02 {
		return nil, 0, fmt.Errorf("btcpeg: expected DER INTEGER at offset %d", pos)
	}
	length := int(der[pos+1])
	start := pos + 2
	if start+length > len(der) {
		return nil, 0, fmt.Errorf("btcpeg: truncated DER INTEGER")
	}
	value := der[start : start+length]
	// strip leading 0x00 sign-padding bytes, keeping at least one byte
	for len(value) > 1 && value[0] == 0x00 {
		value = value[1:]
	}
	return value, start + length, nil
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
