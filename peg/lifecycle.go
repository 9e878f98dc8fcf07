package peg

import (
	"context"

	"github.com/BlockscapeNetwork/nomic/config"
	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/events"
	"github.com/BlockscapeNetwork/nomic/store"
	"github.com/BlockscapeNetwork/nomic/validators"
)

// Initialize bootstraps the peg's SPV header chain from the pinned
// genesis configuration artifact. Idempotent; fails on a malformed
// artifact header or on store errors.
func (h *Handlers) Initialize(ctx context.Context, kv store.KV, genesis *config.GenesisArtifact) error {
	return h.headers.Initialize(ctx, kv, genesis)
}

// BeginBlock runs the per-block lifecycle: bootstrapping the
// signatory-set log at the peg's own genesis, and opening a new
// checkpoint when the checkpoint interval has elapsed and enough
// pending value has accumulated. now is the block header's time;
// nothing here may read the wall clock.
func (h *Handlers) BeginBlock(ctx context.Context, kv store.KV, vmap validators.Map, now int64) error {
	state, err := Load(ctx, kv)
	if err != nil {
		return err
	}

	if len(state.SignatorySets) == 0 {
		set, err := validators.SignatorySetFromValidators(vmap)
		if err != nil {
			return err
		}
		state.SignatorySets = append(state.SignatorySets, SignatorySetSnapshot{
			Time:        now,
			Signatories: set.Signatories(),
		})
		return state.Save(ctx, kv)
	}

	dt := now - state.LastCheckpointTime
	if dt <= config.CheckpointInterval {
		return state.Save(ctx, kv)
	}
	state.LastCheckpointTime = now

	var pendingValue uint64
	for _, u := range state.Utxos {
		pendingValue += u.Value
	}

	if len(state.Utxos) == 0 || state.ActiveCheckpoint.IsActive || pendingValue < config.CheckpointMinimumValue {
		return state.Save(ctx, kv)
	}

	_, latestIndex, found := state.latestSignatorySet()
	if !found {
		return errors.New(errors.ERR_STORE, "peg: begin_block: no signatory set established")
	}
	snapshot, _ := state.signatorySetAt(latestIndex)
	set := snapshot.set()

	active, err := transitionCheckpoint(ctx, state.ActiveCheckpoint.IsActive, checkpointEventOpen)
	if err != nil {
		return errors.New(errors.ERR_STORE, "peg: begin_block: invalid checkpoint transition", err)
	}

	state.CheckpointIndex++
	state.ActiveCheckpoint = Checkpoint{
		IsActive:          active,
		SignatorySetIndex: latestIndex,
		SignedVotingPower: 0,
		Signatures:        make([][]byte, set.Len()),
		Utxos:             state.Utxos,
		Withdrawals:       state.PendingWithdrawals,
	}
	inputCount := len(state.ActiveCheckpoint.Utxos)
	outputValue := pendingValue
	state.Utxos = nil
	state.PendingWithdrawals = nil
	prometheusCheckpointsOpened.Inc()
	h.publish(events.KindCheckpointOpened, nil, events.CheckpointOpenedPayload{
		CheckpointIndex: state.CheckpointIndex,
		InputCount:      inputCount,
		OutputValue:     outputValue,
	})

	if state.CheckpointIndex%config.SignatoryChangeInterval == 0 {
		next, err := validators.SignatorySetFromValidators(vmap)
		if err != nil {
			return err
		}
		snap := SignatorySetSnapshot{Time: now, Signatories: next.Signatories()}
		state.ActiveCheckpoint.NextSignatorySet = &snap
	}

	return state.Save(ctx, kv)
}
