package peg

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/BlockscapeNetwork/nomic/accounts"
	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/events"
	"github.com/BlockscapeNetwork/nomic/signatory"
	"github.com/BlockscapeNetwork/nomic/spv"
	"github.com/BlockscapeNetwork/nomic/store"
	nwire "github.com/BlockscapeNetwork/nomic/wire"
)

// DepositTx verifies an SPV proof of a Bitcoin deposit transaction and
// credits every output that matches a pending recipient's deposit
// address. The recipient queue advances once per output examined,
// matched or not, so a transaction with more outputs than recipients
// is rejected rather than silently truncated.
func (h *Handlers) DepositTx(ctx context.Context, kv store.KV, in *nwire.Deposit) error {
	state, err := Load(ctx, kv)
	if err != nil {
		return err
	}

	var depositTx wire.MsgTx
	if err := depositTx.Deserialize(bytes.NewReader(in.Tx)); err != nil {
		return errors.New(errors.ERR_DESERIALIZATION, "peg: decode deposit tx", err)
	}
	txid := depositTx.TxHash()
	var txidArr [32]byte
	copy(txidArr[:], txid[:])

	if state.hasProcessedDeposit(txidArr) {
		prometheusDepositsRejected.Inc()
		return errors.New(errors.ERR_DUPLICATE_DEPOSIT, "peg: deposit already processed")
	}

	stored, found, err := h.headers.GetHeaderForHeight(ctx, kv, uint32(in.Height))
	if err != nil {
		return err
	}
	if !found {
		prometheusDepositsRejected.Inc()
		return errors.New(errors.ERR_UNKNOWN_BLOCK, "peg: no header at height %d", in.Height)
	}

	ok, err := spv.VerifyMerkleProof(txid, in.BlockIndex, in.Proof, stored.Header.MerkleRoot)
	if err != nil {
		prometheusDepositsRejected.Inc()
		return errors.New(errors.ERR_BAD_PROOF, "peg: merkle proof verification failed", err)
	}
	if !ok {
		prometheusDepositsRejected.Inc()
		return errors.New(errors.ERR_BAD_PROOF, "peg: merkle proof does not match header's merkle root")
	}

	snapshot, latestIndex, found := state.latestSignatorySet()
	if !found {
		return errors.New(errors.ERR_STORE, "peg: no signatory set established (begin_block must run before deposits)")
	}
	sigSet := snapshot.set()

	acctStore := accounts.NewStore(kv, nil)

	recipients := in.Recipients
	containsDepositOutputs := false

	for i, txOut := range depositTx.TxOut {
		if len(recipients) == 0 {
			prometheusDepositsRejected.Inc()
			return errors.New(errors.ERR_RECIPIENTS_EXHAUSTED, "peg: consumed all recipients at output %d", i)
		}
		recipient := recipients[0]
		recipients = recipients[1:]

		if len(recipient) != 33 {
			prometheusDepositsRejected.Inc()
			return errors.New(errors.ERR_BAD_RECIPIENT, "peg: recipient must be 33 bytes, got %d", len(recipient))
		}

		script, err := signatory.OutputScript(sigSet, recipient)
		if err != nil {
			return errors.New(errors.ERR_BAD_RECIPIENT, "peg: derive output script", err)
		}
		if !bytes.Equal(script, txOut.PkScript) {
			continue
		}

		var addr btcpeg.Address
		copy(addr[:], recipient)
		if _, err := acctStore.Credit(ctx, addr, uint64(txOut.Value)); err != nil {
			return err
		}

		state.Utxos = append(state.Utxos, Utxo{
			Outpoint:          Outpoint{Txid: txidArr, Index: uint32(i)},
			Value:             uint64(txOut.Value),
			SignatorySetIndex: latestIndex,
			Data:              append([]byte(nil), recipient...),
		})
		containsDepositOutputs = true

		if addr, err := witnessScriptHashAddress(sigSet, recipient); err == nil {
			h.log.Infof("peg: deposit matched output %d for %s (%d sats)", i, addr, txOut.Value)
		}

		h.publish(events.KindDeposit, recipient, events.DepositPayload{
			Recipient: hex.EncodeToString(recipient),
			Txid:      hex.EncodeToString(txidArr[:]),
			Vout:      uint32(i),
			Value:     uint64(txOut.Value),
		})
	}

	if !containsDepositOutputs {
		prometheusDepositsRejected.Inc()
		return errors.New(errors.ERR_NO_DEPOSIT_OUTPUTS, "peg: no output matched a pending recipient")
	}

	state.ProcessedDepositTxids = append(state.ProcessedDepositTxids, txidArr)

	if err := state.Save(ctx, kv); err != nil {
		return err
	}
	prometheusDepositsProcessed.Inc()
	return nil
}

// witnessScriptHashAddress derives the bech32 P2WSH address a deposit
// to recipient under set pays, purely for human-readable logging;
// every other code path deals in raw output scripts, never addresses.
func witnessScriptHashAddress(set *signatory.Set, recipient []byte) (string, error) {
	redeem, err := signatory.RedeemScript(set, recipient)
	if err != nil {
		return "", err
	}
	scriptHash := sha256.Sum256(redeem)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], &chaincfg.TestNet3Params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
