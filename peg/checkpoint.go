package peg

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/config"
	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/signatory"
)

// buildCheckpointTx deterministically constructs the Bitcoin sweep
// transaction a checkpoint's signatories sign: version=1, locktime=0,
// one input per checkpoint UTXO in order (empty scriptSig, witness
// attached per-signatory at broadcast time, sequence=0xFFFFFFFF),
// outputs = withdrawals in order followed by a single reserve output
// paying the sum of input values minus withdrawals minus the flat fee
// to reserveScript.
func buildCheckpointTx(cp *Checkpoint, reserveScript []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(1)

	var totalIn uint64
	for _, u := range cp.Utxos {
		hash, err := chainhash.NewHash(u.Outpoint.Txid[:])
		if err != nil {
			return nil, errors.New(errors.ERR_STORE, "peg: bad outpoint txid", err)
		}
		outpoint := wire.NewOutPoint(hash, u.Outpoint.Index)
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum
		tx.AddTxIn(txIn)
		totalIn += u.Value
	}

	var totalWithdrawals uint64
	for _, w := range cp.Withdrawals {
		tx.AddTxOut(wire.NewTxOut(int64(w.Value), w.Script))
		totalWithdrawals += w.Value
	}

	reserveValue := totalIn - totalWithdrawals - config.CheckpointFeeSatoshis
	tx.AddTxOut(wire.NewTxOut(int64(reserveValue), reserveScript))

	return tx, nil
}

// reserveScriptFor picks the destination script for a checkpoint's
// reserve output: the next signatory set's script when a rotation is
// pending for this checkpoint, else the current set's own script, so
// a rotation hands custody over in the same sweep that finalizes it.
func reserveScriptFor(current *signatory.Set, next *SignatorySetSnapshot) ([]byte, error) {
	set := current
	if next != nil {
		set = next.set()
	}
	// The reserve output has no depositor address to embed; data is
	// empty, matching the pending reserve UTXO's Data field.
	redeem, err := signatory.RedeemScript(set, nil)
	if err != nil {
		return nil, err
	}
	return btcpeg.P2WSHScript(redeem)
}

func bitcoinEncode(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
