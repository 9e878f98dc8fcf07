package peg

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"

	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/events"
	"github.com/BlockscapeNetwork/nomic/signatory"
	"github.com/BlockscapeNetwork/nomic/store"
	nwire "github.com/BlockscapeNetwork/nomic/wire"
)

// SignatureTx records one signatory's signature set over the active
// checkpoint's sweep transaction, finalizing the checkpoint once
// signed voting power strictly exceeds two-thirds of the signatory
// set's total.
func (h *Handlers) SignatureTx(ctx context.Context, kv store.KV, in *nwire.Signature) error {
	state, err := Load(ctx, kv)
	if err != nil {
		return err
	}

	cp := &state.ActiveCheckpoint
	if !cp.IsActive {
		prometheusSignaturesRejected.Inc()
		return errors.New(errors.ERR_NO_ACTIVE_CHECKPOINT, "peg: no active checkpoint")
	}

	if len(in.Signatures) != len(cp.Utxos) {
		prometheusSignaturesRejected.Inc()
		return errors.New(errors.ERR_SIGNATURE_COUNT_MISMATCH, "peg: expected %d signatures, got %d", len(cp.Utxos), len(in.Signatures))
	}
	for i, sig := range in.Signatures {
		if len(sig) != 64 {
			prometheusSignaturesRejected.Inc()
			return errors.New(errors.ERR_BAD_SIGNATURE_LENGTH, "peg: signature %d must be 64 bytes, got %d", i, len(sig))
		}
	}

	snapshot, found := state.signatorySetAt(cp.SignatorySetIndex)
	if !found {
		return errors.New(errors.ERR_STORE, "peg: unknown signatory set index %d", cp.SignatorySetIndex)
	}
	set := snapshot.set()

	idx := int(in.SignatoryIndex)
	signer, ok := set.At(idx)
	if !ok {
		prometheusSignaturesRejected.Inc()
		return errors.New(errors.ERR_SIGNATORY_OUT_OF_BOUNDS, "peg: signatory index %d out of bounds (%d signatories)", idx, set.Len())
	}

	if idx < len(cp.Signatures) && cp.Signatures[idx] != nil {
		prometheusSignaturesRejected.Inc()
		return errors.New(errors.ERR_ALREADY_SIGNED, "peg: signatory %d already signed this checkpoint", idx)
	}

	reserveScript, err := reserveScriptFor(set, cp.NextSignatorySet)
	if err != nil {
		return err
	}
	btcTx, err := buildCheckpointTx(cp, reserveScript)
	if err != nil {
		return err
	}

	for i, u := range cp.Utxos {
		utxoSnapshot, found := state.signatorySetAt(u.SignatorySetIndex)
		if !found {
			return errors.New(errors.ERR_STORE, "peg: unknown signatory set index %d for utxo %d", u.SignatorySetIndex, i)
		}
		redeem, err := signatory.RedeemScript(utxoSnapshot.set(), u.Data)
		if err != nil {
			return err
		}
		sighash, err := btcpeg.WitnessSigHash(btcTx, i, redeem, int64(u.Value))
		if err != nil {
			return errors.New(errors.ERR_INCORRECT_SIGNATURE, "peg: compute sighash for input %d", i, err)
		}

		var rawSig btcpeg.Signature
		copy(rawSig[:], in.Signatures[i])
		valid, err := btcpeg.Verify(signer.PubKey, sighash, rawSig)
		if err != nil || !valid {
			prometheusSignaturesRejected.Inc()
			return errors.New(errors.ERR_INCORRECT_SIGNATURE, "peg: signature for input %d does not verify against signatory %d", i, idx)
		}
	}

	// All inputs verified: record the submission atomically.
	for len(cp.Signatures) <= idx {
		cp.Signatures = append(cp.Signatures, nil)
	}
	cp.Signatures[idx] = append([]byte(nil), flattenSignatures(in.Signatures)...)
	cp.SignedVotingPower += signer.VotingPower
	prometheusSignaturesAccepted.Inc()

	if cp.SignedVotingPower > set.TwoThirdsVotingPower() {
		checkpointIndex := state.CheckpointIndex
		if err := finalizeCheckpoint(ctx, state, set, btcTx); err != nil {
			return err
		}
		rawTx := state.FinalizedCheckpointTxs[len(state.FinalizedCheckpointTxs)-1]
		h.publish(events.KindCheckpointFinalize, nil, events.CheckpointFinalizedPayload{
			CheckpointIndex: checkpointIndex,
			RawTxHex:        hex.EncodeToString(rawTx),
		})
	}

	if err := state.Save(ctx, kv); err != nil {
		return err
	}
	return nil
}

// flattenSignatures concatenates a checkpoint submission's per-input
// 64-byte signatures into one slot-value so Checkpoint.Signatures can
// stay a simple [][]byte keyed by signatory index.
func flattenSignatures(sigs [][]byte) []byte {
	out := make([]byte, 0, 64*len(sigs))
	for _, s := range sigs {
		out = append(out, s...)
	}
	return out
}

// finalizeCheckpoint moves the active checkpoint to finalized, appends
// its reserve output as a new pending UTXO, commits the next signatory
// set if one was pending, and appends the encoded sweep transaction
// for relayers. The lifecycle FSM's "finalize" event gates the
// transition: a failure here means the checkpoint was somehow not
// active, an invariant violation rather than a recoverable condition.
func finalizeCheckpoint(ctx context.Context, state *State, set *signatory.Set, btcTx *wire.MsgTx) error {
	cp := &state.ActiveCheckpoint

	if _, err := transitionCheckpoint(ctx, cp.IsActive, checkpointEventFinalize); err != nil {
		return errors.New(errors.ERR_STORE, "peg: invalid checkpoint finalize transition", err)
	}

	if cp.NextSignatorySet != nil {
		state.SignatorySets = append(state.SignatorySets, *cp.NextSignatorySet)
	}
	latestIndex := uint64(len(state.SignatorySets) - 1)

	for i, in := range btcTx.TxIn {
		witness := make(wire.TxWitness, 0, set.Len()+1)
		for _, sig := range cp.Signatures {
			if sig == nil || len(sig) < (i+1)*64 {
				witness = append(witness, nil)
				continue
			}
			witness = append(witness, append([]byte(nil), sig[i*64:(i+1)*64]...))
		}
		utxoSnapshot, found := state.signatorySetAt(cp.Utxos[i].SignatorySetIndex)
		if !found {
			return errors.New(errors.ERR_STORE, "peg: unknown signatory set index %d", cp.Utxos[i].SignatorySetIndex)
		}
		redeem, err := signatory.RedeemScript(utxoSnapshot.set(), cp.Utxos[i].Data)
		if err != nil {
			return err
		}
		witness = append(witness, redeem)
		in.Witness = witness
	}

	raw, err := bitcoinEncode(btcTx)
	if err != nil {
		return err
	}

	state.FinalizedCheckpoint = Checkpoint{
		IsActive:          false,
		SignatorySetIndex: cp.SignatorySetIndex,
		SignedVotingPower: cp.SignedVotingPower,
		NextSignatorySet:  cp.NextSignatorySet,
		Utxos:             cp.Utxos,
		Withdrawals:       cp.Withdrawals,
		Signatures:        cp.Signatures,
	}
	state.FinalizedCheckpointTxs = append(state.FinalizedCheckpointTxs, raw)

	reserveValue := btcTx.TxOut[len(btcTx.TxOut)-1].Value
	state.Utxos = append(state.Utxos, Utxo{
		Outpoint:          Outpoint{Index: uint32(len(btcTx.TxOut) - 1)},
		Value:             uint64(reserveValue),
		SignatorySetIndex: latestIndex,
		Data:              nil,
	})

	txHash := btcTx.TxHash()
	lastUtxo := &state.Utxos[len(state.Utxos)-1]
	copy(lastUtxo.Outpoint.Txid[:], txHash[:])

	state.ActiveCheckpoint = Checkpoint{}
	prometheusCheckpointsFinalized.Inc()
	return nil
}
