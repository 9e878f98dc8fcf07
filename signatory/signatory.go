// Package signatory implements the rotating multisig committee that
// custodies the peg's Bitcoin UTXOs.
package signatory

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/txscript"

	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/errors"
)

// Signatory is one member of a signatory set: a secp256k1 pubkey and
// the voting power it carries over from the validator set.
type Signatory struct {
	PubKey      btcpeg.Address
	VotingPower uint64
}

// Set is an ordered signatory committee. Ordering is canonical
// (voting power descending, then pubkey lexicographic ascending) so
// that two nodes deriving a set from the same validator map always
// produce byte-identical redeem scripts.
type Set struct {
	signatories []Signatory
}

// New builds a canonically-ordered Set from the given signatories.
func New(sigs []Signatory) *Set {
	s := &Set{signatories: append([]Signatory(nil), sigs...)}
	s.sort()
	return s
}

func (s *Set) sort() {
	sort.Slice(s.signatories, func(i, j int) bool {
		a, b := s.signatories[i], s.signatories[j]
		if a.VotingPower != b.VotingPower {
			return a.VotingPower > b.VotingPower
		}
		return bytes.Compare(a.PubKey[:], b.PubKey[:]) < 0
	})
}

// Put inserts or updates a signatory by pubkey, re-establishing
// canonical order.
func (s *Set) Put(sig Signatory) {
	for i := range s.signatories {
		if s.signatories[i].PubKey == sig.PubKey {
			s.signatories[i] = sig
			s.sort()
			return
		}
	}
	s.signatories = append(s.signatories, sig)
	s.sort()
}

// Signatories returns the set's members in canonical order. The slice
// is a copy; callers may not mutate it.
func (s *Set) Signatories() []Signatory {
	out := make([]Signatory, len(s.signatories))
	copy(out, s.signatories)
	return out
}

// Len is the number of signatories in the set.
func (s *Set) Len() int { return len(s.signatories) }

// At returns the signatory at canonical index i.
func (s *Set) At(i int) (Signatory, bool) {
	if i < 0 || i >= len(s.signatories) {
		return Signatory{}, false
	}
	return s.signatories[i], true
}

// TotalVotingPower sums every signatory's voting power.
func (s *Set) TotalVotingPower() uint64 {
	var total uint64
	for _, sig := range s.signatories {
		total += sig.VotingPower
	}
	return total
}

// TwoThirdsVotingPower is floor(total*2/3), the threshold a
// checkpoint's signed voting power must strictly exceed to finalize.
func (s *Set) TwoThirdsVotingPower() uint64 {
	return s.TotalVotingPower() * 2 / 3
}

// RedeemScript builds the witness (redeem) script consumed when
// spending a UTXO locked to this set, embedding data (the 33-byte
// depositor address for a deposit UTXO, or empty for a reserve UTXO)
// as an opaque marker so that two sets with identical membership but
// different embedded data still derive distinct scripts. The script is
// a weighted threshold check: a standard OP_CHECKMULTISIG only counts
// signers, it cannot weight them, so each signatory gets its own
// OP_CHECKSIG gating whether that signatory's voting power is folded
// into a running accumulator, which must then exceed the two-thirds
// threshold for the script to succeed. Witness stack: for each
// signatory, either its signature or OP_0; last, the redeem script
// itself.
func RedeemScript(set *Set, data []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()

	b.AddData(data)
	b.AddOp(txscript.OP_DROP)
	b.AddOp(txscript.OP_0) // accumulator starts at 0

	for _, sig := range set.Signatories() {
		b.AddOp(txscript.OP_SWAP)
		b.AddData(sig.PubKey[:])
		b.AddOp(txscript.OP_CHECKSIG)
		b.AddOp(txscript.OP_IF)
		b.AddInt64(int64(sig.VotingPower))
		b.AddOp(txscript.OP_ADD)
		b.AddOp(txscript.OP_ENDIF)
	}

	b.AddInt64(int64(set.TwoThirdsVotingPower()))
	b.AddOp(txscript.OP_GREATERTHAN)

	return b.Script()
}

// OutputScript is the P2WSH output script a deposit to this set (for
// recipient) must pay: OP_0 <sha256(RedeemScript(set, recipient))>.
func OutputScript(set *Set, recipient []byte) ([]byte, error) {
	if len(recipient) != 33 {
		return nil, errors.New(errors.ERR_BAD_RECIPIENT, "recipient must be 33 bytes, got %d", len(recipient))
	}
	redeem, err := RedeemScript(set, recipient)
	if err != nil {
		return nil, err
	}
	return btcpeg.P2WSHScript(redeem)
}
