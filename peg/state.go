// Package peg is the core deterministic state machine: pending UTXOs,
// pending withdrawals, the signatory-set log, and the active/finalized
// checkpoint lifecycle.
package peg

import (
	"context"
	"encoding/json"

	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/signatory"
	"github.com/BlockscapeNetwork/nomic/store"
)

const stateKey = "peg/state"

// Outpoint identifies a Bitcoin transaction output.
type Outpoint struct {
	Txid  [32]byte `json:"txid"`
	Index uint32   `json:"index"`
}

// Utxo is a peg-custodied Bitcoin output pending inclusion in a
// checkpoint. Data carries the 33-byte depositor address embedded in
// the output's redeem script, or nothing for a reserve output.
type Utxo struct {
	Outpoint          Outpoint `json:"outpoint"`
	Value             uint64   `json:"value"`
	SignatorySetIndex uint64   `json:"signatory_set_index"`
	Data              []byte   `json:"data"`
}

// Withdrawal is a pending payout to an opaque Bitcoin output script.
type Withdrawal struct {
	Value  uint64 `json:"value"`
	Script []byte `json:"script"`
}

// SignatorySetSnapshot is one entry in the append-only signatory-set
// log. Indexes into the log are fixed: never reused, never removed.
type SignatorySetSnapshot struct {
	Time        int64                  `json:"time"`
	Signatories []signatory.Signatory  `json:"signatories"`
}

func (s SignatorySetSnapshot) set() *signatory.Set {
	return signatory.New(s.Signatories)
}

// Checkpoint is one in-flight or finalized Bitcoin sweep transaction.
// Signatures holds one slot per signatory; a nil slot means that
// signatory has not yet signed.
type Checkpoint struct {
	IsActive          bool                  `json:"is_active"`
	SignatorySetIndex uint64                `json:"signatory_set_index"`
	SignedVotingPower uint64                `json:"signed_voting_power"`
	NextSignatorySet  *SignatorySetSnapshot `json:"next_signatory_set,omitempty"`
	Utxos             []Utxo                `json:"utxos"`
	Withdrawals       []Withdrawal          `json:"withdrawals"`
	Signatures        [][]byte              `json:"signatures"`
}

// State is the full peg state machine's persisted state, excluding
// the accounts ledger (accounts.Store) and the SPV header chain
// (spv.Cache), which use their own key namespaces.
type State struct {
	Utxos                  []Utxo                 `json:"utxos"`
	PendingWithdrawals     []Withdrawal           `json:"pending_withdrawals"`
	ProcessedDepositTxids  [][32]byte             `json:"processed_deposit_txids"`
	SignatorySets          []SignatorySetSnapshot `json:"signatory_sets"`
	LastCheckpointTime     int64                  `json:"last_checkpoint_time"`
	CheckpointIndex        uint64                 `json:"checkpoint_index"`
	ActiveCheckpoint       Checkpoint             `json:"active_checkpoint"`
	FinalizedCheckpoint    Checkpoint             `json:"finalized_checkpoint"`
	FinalizedCheckpointTxs [][]byte               `json:"finalized_checkpoint_txs"`
}

// Load reads State from kv, returning a fresh zero-value State if
// none has been persisted yet (genesis).
func Load(ctx context.Context, kv store.KV) (*State, error) {
	raw, ok, err := kv.Get(ctx, []byte(stateKey))
	if err != nil {
		return nil, errors.New(errors.ERR_STORE, "peg: load state", err)
	}
	if !ok {
		return &State{}, nil
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New(errors.ERR_DESERIALIZATION, "peg: decode state", err)
	}
	return &s, nil
}

// Save persists State to kv.
func (s *State) Save(ctx context.Context, kv store.KV) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.New(errors.ERR_DESERIALIZATION, "peg: encode state", err)
	}
	if err := kv.Put(ctx, []byte(stateKey), raw); err != nil {
		return errors.New(errors.ERR_STORE, "peg: save state", err)
	}
	return nil
}

func (s *State) hasProcessedDeposit(txid [32]byte) bool {
	for _, t := range s.ProcessedDepositTxids {
		if t == txid {
			return true
		}
	}
	return false
}

// latestSignatorySet returns the most recently appended snapshot and
// its fixed index, or ok=false if the log is empty.
func (s *State) latestSignatorySet() (SignatorySetSnapshot, uint64, bool) {
	if len(s.SignatorySets) == 0 {
		return SignatorySetSnapshot{}, 0, false
	}
	idx := uint64(len(s.SignatorySets) - 1)
	return s.SignatorySets[idx], idx, true
}

func (s *State) signatorySetAt(index uint64) (SignatorySetSnapshot, bool) {
	if index >= uint64(len(s.SignatorySets)) {
		return SignatorySetSnapshot{}, false
	}
	return s.SignatorySets[index], true
}
