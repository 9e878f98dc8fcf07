// Package validators holds the Tendermint-side validator map
// (pubkey bytes → voting power) and its canonical, replay-safe
// serialization.
package validators

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/signatory"
)

// Map is pubkey-bytes → voting power. Pubkeys cross the host boundary
// as Ed25519-tagged bytes but are parsed as secp256k1 points when
// deriving a signatory set; the mismatch is kept for compatibility,
// and byte payloads that fail the secp256k1 parse surface as
// InvalidValidatorKey.
type Map map[string]uint64

// SortedKeys returns the map's keys in ascending byte order; every
// iteration over the validator map must use this order for
// determinism.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode produces the canonical length-prefixed, sorted-key
// serialization of m: a count, then for each entry in sorted key
// order a (keylen uint32, key bytes, power uint64) record. An
// explicit wire format rather than a hash-map dump, since the bytes
// feed replay.
func (m Map) Encode() []byte {
	keys := m.SortedKeys()

	var buf bytes.Buffer
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, uint32(len(keys)))
	buf.Write(countBuf)

	for _, k := range keys {
		klen := make([]byte, 4)
		binary.BigEndian.PutUint32(klen, uint32(len(k)))
		buf.Write(klen)
		buf.WriteString(k)

		power := make([]byte, 8)
		binary.BigEndian.PutUint64(power, m[k])
		buf.Write(power)
	}
	return buf.Bytes()
}

// Decode parses a buffer produced by Encode.
func Decode(raw []byte) (Map, error) {
	m := make(Map)
	if len(raw) < 4 {
		if len(raw) == 0 {
			return m, nil
		}
		return nil, errors.New(errors.ERR_DESERIALIZATION, "validators: truncated count")
	}

	count := binary.BigEndian.Uint32(raw[:4])
	pos := 4
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(raw) {
			return nil, errors.New(errors.ERR_DESERIALIZATION, "validators: truncated key length")
		}
		klen := int(binary.BigEndian.Uint32(raw[pos : pos+4]))
		pos += 4
		if pos+klen+8 > len(raw) {
			return nil, errors.New(errors.ERR_DESERIALIZATION, "validators: truncated entry")
		}
		key := string(raw[pos : pos+klen])
		pos += klen
		power := binary.BigEndian.Uint64(raw[pos : pos+8])
		pos += 8
		m[key] = power
	}
	return m, nil
}

// SignatorySetFromValidators derives a signatory.Set from m in sorted
// key order, parsing each pubkey as a compressed secp256k1 point and
// failing the whole derivation with InvalidValidatorKey on the first
// malformed entry.
func SignatorySetFromValidators(m Map) (*signatory.Set, error) {
	sigs := make([]signatory.Signatory, 0, len(m))
	for _, k := range m.SortedKeys() {
		addr, err := parsePubKeyBytes([]byte(k))
		if err != nil {
			return nil, errors.New(errors.ERR_INVALID_VALIDATOR_KEY, "validators: malformed validator pubkey", err)
		}
		sigs = append(sigs, signatory.Signatory{PubKey: addr, VotingPower: m[k]})
	}
	return signatory.New(sigs), nil
}
