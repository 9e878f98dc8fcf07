package btcpeg

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// P2WSHScript wraps a witness (redeem) script in its P2WSH output
// form: OP_0 <sha256(witnessScript)>.
func P2WSHScript(witnessScript []byte) ([]byte, error) {
	digest := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(digest[:]).
		Script()
}

// WitnessSigHash computes the BIP-143 sighash-all digest for input idx
// of tx, spending a P2WSH output locked by witnessScript with the
// given value in satoshis.
func WitnessSigHash(tx *wire.MsgTx, idx int, witnessScript []byte, value int64) ([]byte, error) {
	sigHashes := txscript.NewTxSigHashes(tx, singleOutputFetcher{})
	return txscript.CalcWitnessSigHash(witnessScript, sigHashes, txscript.SigHashAll, tx, idx, value)
}

// singleOutputFetcher satisfies txscript.PrevOutputFetcher without
// needing a full UTXO view. NewTxSigHashes looks up every input's
// previous output only to detect taproot spends; the empty TxOut
// returned here is not a taproot output, so every input takes the
// BIP-143 (segwit v0) path, whose digest uses the amount callers pass
// explicitly to CalcWitnessSigHash.
type singleOutputFetcher struct{}

func (singleOutputFetcher) FetchPrevOutput(wire.OutPoint) *wire.TxOut { return &wire.TxOut{} }
