package peg

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlockscapeNetwork/nomic/accounts"
	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/config"
	pegerrors "github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/signatory"
	"github.com/BlockscapeNetwork/nomic/spv"
	"github.com/BlockscapeNetwork/nomic/store"
	"github.com/BlockscapeNetwork/nomic/store/memkv"
	"github.com/BlockscapeNetwork/nomic/ulogger"
	"github.com/BlockscapeNetwork/nomic/validators"
	nwire "github.com/BlockscapeNetwork/nomic/wire"
)

// noopLogger discards every message, satisfying ulogger.Logger for
// tests that never assert on log output.
type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Fatalf(string, ...interface{}) {}
func (n noopLogger) With(map[string]interface{}) ulogger.Logger { return n }

func testKeyPair(t *testing.T, seed byte) (*btcec.PrivateKey, btcpeg.Address) {
	t.Helper()
	var raw [32]byte
	raw[31] = seed
	priv, pub := btcec.PrivKeyFromBytes(raw[:])
	var addr btcpeg.Address
	copy(addr[:], pub.SerializeCompressed())
	return priv, addr
}

func newTestHandlers() *Handlers {
	return NewHandlers(noopLogger{}, nil)
}

func errCode(t *testing.T, err error) pegerrors.ERR {
	t.Helper()
	pegErr, ok := err.(*pegerrors.Error)
	require.True(t, ok, "expected *errors.Error, got %T (%v)", err, err)
	return pegErr.Code
}

func TestGenesisBeginBlockBootstrapsSignatorySet(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}

	require.NoError(t, h.BeginBlock(ctx, kv, vmap, 0))

	state, err := Load(ctx, kv)
	require.NoError(t, err)
	require.Len(t, state.SignatorySets, 1)
	assert.Equal(t, int64(0), state.SignatorySets[0].Time)
	require.Len(t, state.SignatorySets[0].Signatories, 1)
	assert.Equal(t, uint64(0), state.CheckpointIndex)
	assert.False(t, state.ActiveCheckpoint.IsActive)
}

// buildSingleTxBlock builds a deposit transaction spending one
// placeholder input, with one output
// locked to set's P2WSH script for recipient, and a header whose
// merkle root is the transaction's own hash — the degenerate one-leaf
// merkle tree, so an empty proof is valid (spv.VerifyMerkleProof with
// zero levels just compares txid to the root directly).
func buildSingleTxBlock(t *testing.T, set *signatory.Set, recipient []byte, value int64) (*wire.MsgTx, *wire.BlockHeader) {
	t.Helper()
	script, err := signatory.OutputScript(set, recipient)
	require.NoError(t, err)

	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, script))

	header := &wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: tx.TxHash(),
		Bits:       0x1d00ffff,
	}
	return tx, header
}

func seedSignatorySet(ctx context.Context, t *testing.T, kv store.KV, h *Handlers, vmap validators.Map) {
	t.Helper()
	require.NoError(t, h.BeginBlock(ctx, kv, vmap, 0))
}

func depositEnvelope(t *testing.T, tx *wire.MsgTx, height uint64, recipients [][]byte) *nwire.Deposit {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return &nwire.Deposit{
		Height:     height,
		Proof:      nil,
		Tx:         buf.Bytes(),
		BlockIndex: 0,
		Recipients: recipients,
	}
}

func TestDepositCreditsAccountAndQueuesUtxo(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	set := signatory.New([]signatory.Signatory{{PubKey: addrA, VotingPower: 100}})
	_, recipient := testKeyPair(t, 123)

	tx, header := buildSingleTxBlock(t, set, recipient[:], 100_000_000)
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, header, 0))

	in := depositEnvelope(t, tx, 0, [][]byte{recipient[:]})
	require.NoError(t, h.DepositTx(ctx, kv, in))

	acctStore := accounts.NewStore(kv, nil)
	acct, found, err := acctStore.Get(ctx, recipient)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(100_000_000), acct.Balance)
	assert.Equal(t, uint64(0), acct.Nonce)

	state, err := Load(ctx, kv)
	require.NoError(t, err)
	require.Len(t, state.Utxos, 1)
	assert.Equal(t, uint64(100_000_000), state.Utxos[0].Value)
}

func TestDepositDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	set := signatory.New([]signatory.Signatory{{PubKey: addrA, VotingPower: 100}})
	_, recipient := testKeyPair(t, 123)

	tx, header := buildSingleTxBlock(t, set, recipient[:], 1000)
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, header, 0))

	in := depositEnvelope(t, tx, 0, [][]byte{recipient[:]})
	require.NoError(t, h.DepositTx(ctx, kv, in))

	in2 := depositEnvelope(t, tx, 0, [][]byte{recipient[:]})
	err := h.DepositTx(ctx, kv, in2)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_DUPLICATE_DEPOSIT, errCode(t, err))
}

func TestDepositNoRecipientsFailsOnFirstOutput(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	set := signatory.New([]signatory.Signatory{{PubKey: addrA, VotingPower: 100}})
	_, recipient := testKeyPair(t, 123)

	tx, header := buildSingleTxBlock(t, set, recipient[:], 1000)
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, header, 0))

	in := depositEnvelope(t, tx, 0, nil)
	err := h.DepositTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_RECIPIENTS_EXHAUSTED, errCode(t, err))
}

func TestDepositUnknownHeight(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	set := signatory.New([]signatory.Signatory{{PubKey: addrA, VotingPower: 100}})
	_, recipient := testKeyPair(t, 123)
	tx, _ := buildSingleTxBlock(t, set, recipient[:], 1000)

	in := depositEnvelope(t, tx, 42, [][]byte{recipient[:]})
	err := h.DepositTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_UNKNOWN_BLOCK, errCode(t, err))
}

func withdrawalSignature(t *testing.T, priv *btcec.PrivateKey, from, to []byte, amount, nonce uint64) []byte {
	t.Helper()
	hash := withdrawalSigningHash(from, to, amount, nonce)
	sig, err := btcpeg.Sign(priv, hash[:])
	require.NoError(t, err)
	return sig[:]
}

func TestWithdrawalDebitsAccountAndQueuesPayout(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	priv, addr := testKeyPair(t, 5)
	acctStore := accounts.NewStore(kv, nil)
	require.NoError(t, acctStore.Put(ctx, addr, accounts.Account{Balance: 1234, Nonce: 0}))

	to := []byte{0xAB, 0xCD}
	sig := withdrawalSignature(t, priv, addr[:], to, 1000, 0)

	in := &nwire.Withdrawal{From: addr[:], To: to, Amount: 1000, Nonce: 0, Signature: sig}
	require.NoError(t, h.WithdrawalTx(ctx, kv, in))

	acct, found, err := acctStore.Get(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(234), acct.Balance)
	assert.Equal(t, uint64(1), acct.Nonce)

	state, err := Load(ctx, kv)
	require.NoError(t, err)
	require.Len(t, state.PendingWithdrawals, 1)
	assert.Equal(t, uint64(1000), state.PendingWithdrawals[0].Value)
}

func TestWithdrawalBadNonceRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	priv, addr := testKeyPair(t, 5)
	acctStore := accounts.NewStore(kv, nil)
	require.NoError(t, acctStore.Put(ctx, addr, accounts.Account{Balance: 1234, Nonce: 0}))

	to := []byte{0xAB}
	sig := withdrawalSignature(t, priv, addr[:], to, 1000, 5)

	in := &nwire.Withdrawal{From: addr[:], To: to, Amount: 1000, Nonce: 5, Signature: sig}
	err := h.WithdrawalTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_BAD_NONCE, errCode(t, err))
}

func TestWithdrawalInsufficientBalanceRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	priv, addr := testKeyPair(t, 5)
	acctStore := accounts.NewStore(kv, nil)
	require.NoError(t, acctStore.Put(ctx, addr, accounts.Account{Balance: 10, Nonce: 0}))

	to := []byte{0xAB}
	sig := withdrawalSignature(t, priv, addr[:], to, 1000, 0)

	in := &nwire.Withdrawal{From: addr[:], To: to, Amount: 1000, Nonce: 0, Signature: sig}
	err := h.WithdrawalTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_INSUFFICIENT_BALANCE, errCode(t, err))
}

func TestWithdrawalNoAccountRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addr := testKeyPair(t, 9)
	in := &nwire.Withdrawal{From: addr[:], To: []byte{0x01}, Amount: 10, Nonce: 0, Signature: make([]byte, 64)}
	err := h.WithdrawalTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_NO_ACCOUNT, errCode(t, err))
}

func TestWithdrawalBadSignatureRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	priv, addr := testKeyPair(t, 5)
	_ = priv
	acctStore := accounts.NewStore(kv, nil)
	require.NoError(t, acctStore.Put(ctx, addr, accounts.Account{Balance: 1234, Nonce: 0}))

	other, _ := testKeyPair(t, 6)
	to := []byte{0xAB}
	badSig := withdrawalSignature(t, other, addr[:], to, 1000, 0)

	in := &nwire.Withdrawal{From: addr[:], To: to, Amount: 1000, Nonce: 0, Signature: badSig}
	err := h.WithdrawalTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_BAD_SIGNATURE, errCode(t, err))
}

// TestCheckpointSignatureThreshold seeds a pending UTXO, opens a
// checkpoint directly against state (bypassing BeginBlock's time
// gating, which is exercised separately), and drives the two
// signatories through SignatureTx: the first signer must not
// finalize, the second must.
func TestCheckpointSignatureThreshold(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	privA, addrA := testKeyPair(t, 1)
	privB, addrB := testKeyPair(t, 2)
	vmap := validators.Map{string(addrA[:]): 50, string(addrB[:]): 50}
	seedSignatorySet(ctx, t, kv, h, vmap)

	state, err := Load(ctx, kv)
	require.NoError(t, err)

	snapshot, latestIndex, found := state.latestSignatorySet()
	require.True(t, found)
	sigSet := snapshot.set()

	utxoTxid := sha256.Sum256([]byte("utxo"))
	state.ActiveCheckpoint = Checkpoint{
		IsActive:          true,
		SignatorySetIndex: latestIndex,
		Signatures:        make([][]byte, sigSet.Len()),
		Utxos: []Utxo{{
			Outpoint:          Outpoint{Txid: utxoTxid, Index: 0},
			Value:             1_000_000,
			SignatorySetIndex: latestIndex,
			Data:              addrA[:],
		}},
	}
	require.NoError(t, state.Save(ctx, kv))

	reserveScript, err := reserveScriptFor(sigSet, nil)
	require.NoError(t, err)
	cpForSigning := state.ActiveCheckpoint
	btcTx, err := buildCheckpointTx(&cpForSigning, reserveScript)
	require.NoError(t, err)
	redeem, err := signatory.RedeemScript(sigSet, addrA[:])
	require.NoError(t, err)
	sighash, err := btcpeg.WitnessSigHash(btcTx, 0, redeem, 1_000_000)
	require.NoError(t, err)

	indexOf := func(addr btcpeg.Address) uint32 {
		for i := 0; i < sigSet.Len(); i++ {
			s, _ := sigSet.At(i)
			if s.PubKey == addr {
				return uint32(i)
			}
		}
		t.Fatalf("signatory not found in set")
		return 0
	}

	sigA, err := btcpeg.Sign(privA, sighash)
	require.NoError(t, err)
	firstIdx := indexOf(addrA)
	err = h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: [][]byte{sigA[:]}, SignatoryIndex: firstIdx})
	require.NoError(t, err)

	mid, err := Load(ctx, kv)
	require.NoError(t, err)
	assert.True(t, mid.ActiveCheckpoint.IsActive, "checkpoint must remain active after only one of two equal signers")

	sigB, err := btcpeg.Sign(privB, sighash)
	require.NoError(t, err)
	secondIdx := indexOf(addrB)
	err = h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: [][]byte{sigB[:]}, SignatoryIndex: secondIdx})
	require.NoError(t, err)

	final, err := Load(ctx, kv)
	require.NoError(t, err)
	assert.False(t, final.ActiveCheckpoint.IsActive, "checkpoint must finalize once signed power exceeds two-thirds")
	require.Len(t, final.FinalizedCheckpointTxs, 1)
	require.Len(t, final.Utxos, 1, "reserve output becomes a new pending utxo")
}

func TestSignatureTxNoActiveCheckpoint(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	err := h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: nil, SignatoryIndex: 0})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_NO_ACTIVE_CHECKPOINT, errCode(t, err))
}

// seedPendingUtxo appends one pending UTXO of the given value directly
// to persisted state, standing in for a prior deposit.
func seedPendingUtxo(ctx context.Context, t *testing.T, kv store.KV, tag byte, value uint64, data []byte) {
	t.Helper()
	state, err := Load(ctx, kv)
	require.NoError(t, err)
	_, latest, ok := state.latestSignatorySet()
	require.True(t, ok)
	txid := sha256.Sum256([]byte{tag})
	state.Utxos = append(state.Utxos, Utxo{
		Outpoint:          Outpoint{Txid: txid, Index: 0},
		Value:             value,
		SignatorySetIndex: latest,
		Data:              append([]byte(nil), data...),
	})
	require.NoError(t, state.Save(ctx, kv))
}

// seedActiveCheckpoint opens a one-input checkpoint directly against
// persisted state, bypassing BeginBlock's time gating.
func seedActiveCheckpoint(ctx context.Context, t *testing.T, kv store.KV) *signatory.Set {
	t.Helper()
	state, err := Load(ctx, kv)
	require.NoError(t, err)
	snapshot, latest, ok := state.latestSignatorySet()
	require.True(t, ok)
	set := snapshot.set()
	txid := sha256.Sum256([]byte("cp-utxo"))
	state.ActiveCheckpoint = Checkpoint{
		IsActive:          true,
		SignatorySetIndex: latest,
		Signatures:        make([][]byte, set.Len()),
		Utxos: []Utxo{{
			Outpoint:          Outpoint{Txid: txid, Index: 0},
			Value:             2_000_000,
			SignatorySetIndex: latest,
		}},
	}
	require.NoError(t, state.Save(ctx, kv))
	return set
}

func signatoryIndex(t *testing.T, set *signatory.Set, addr btcpeg.Address) uint32 {
	t.Helper()
	for i := 0; i < set.Len(); i++ {
		s, _ := set.At(i)
		if s.PubKey == addr {
			return uint32(i)
		}
	}
	t.Fatalf("signatory not found in set")
	return 0
}

// signCheckpoint reproduces what a signatory daemon does off-process:
// it rebuilds the active checkpoint's sweep transaction, signs every
// input's BIP-143 digest, and submits the result.
func signCheckpoint(ctx context.Context, t *testing.T, kv store.KV, h *Handlers, priv *btcec.PrivateKey, addr btcpeg.Address) {
	t.Helper()
	state, err := Load(ctx, kv)
	require.NoError(t, err)
	cp := state.ActiveCheckpoint
	require.True(t, cp.IsActive)

	snapshot, ok := state.signatorySetAt(cp.SignatorySetIndex)
	require.True(t, ok)
	set := snapshot.set()

	reserveScript, err := reserveScriptFor(set, cp.NextSignatorySet)
	require.NoError(t, err)
	btcTx, err := buildCheckpointTx(&cp, reserveScript)
	require.NoError(t, err)

	sigs := make([][]byte, len(cp.Utxos))
	for i, u := range cp.Utxos {
		us, ok := state.signatorySetAt(u.SignatorySetIndex)
		require.True(t, ok)
		redeem, err := signatory.RedeemScript(us.set(), u.Data)
		require.NoError(t, err)
		digest, err := btcpeg.WitnessSigHash(btcTx, i, redeem, int64(u.Value))
		require.NoError(t, err)
		sig, err := btcpeg.Sign(priv, digest)
		require.NoError(t, err)
		sigs[i] = sig[:]
	}

	idx := signatoryIndex(t, set, addr)
	require.NoError(t, h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: sigs, SignatoryIndex: idx}))
}

func TestDepositBadProofRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	set := signatory.New([]signatory.Signatory{{PubKey: addrA, VotingPower: 100}})
	_, recipient := testKeyPair(t, 123)

	tx, header := buildSingleTxBlock(t, set, recipient[:], 1000)
	header.MerkleRoot = chainhash.Hash{0xFF} // root no longer commits to tx
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, header, 0))

	in := depositEnvelope(t, tx, 0, [][]byte{recipient[:]})
	err := h.DepositTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_BAD_PROOF, errCode(t, err))
}

func TestDepositIrrelevantOutputsRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	_, recipient := testKeyPair(t, 123)

	// one output paying an unrelated script, not the signatory set's
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	header := &wire.BlockHeader{Version: 1, MerkleRoot: tx.TxHash(), Bits: 0x1d00ffff}
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, header, 0))

	in := depositEnvelope(t, tx, 0, [][]byte{recipient[:]})
	err := h.DepositTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_NO_DEPOSIT_OUTPUTS, errCode(t, err))
}

func TestDepositBadRecipientLengthRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	set := signatory.New([]signatory.Signatory{{PubKey: addrA, VotingPower: 100}})
	_, recipient := testKeyPair(t, 123)

	tx, header := buildSingleTxBlock(t, set, recipient[:], 1000)
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, header, 0))

	in := depositEnvelope(t, tx, 0, [][]byte{{1, 2, 3}})
	err := h.DepositTx(ctx, kv, in)
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_BAD_RECIPIENT, errCode(t, err))
}

func TestSignatureCountMismatchRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	seedSignatorySet(ctx, t, kv, h, validators.Map{string(addrA[:]): 100})
	seedActiveCheckpoint(ctx, t, kv)

	err := h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: nil, SignatoryIndex: 0})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_SIGNATURE_COUNT_MISMATCH, errCode(t, err))
}

func TestSignatureBadLengthRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	seedSignatorySet(ctx, t, kv, h, validators.Map{string(addrA[:]): 100})
	seedActiveCheckpoint(ctx, t, kv)

	err := h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: [][]byte{{1, 2, 3}}, SignatoryIndex: 0})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_BAD_SIGNATURE_LENGTH, errCode(t, err))
}

func TestSignatureIndexOutOfBoundsRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	seedSignatorySet(ctx, t, kv, h, validators.Map{string(addrA[:]): 100})
	seedActiveCheckpoint(ctx, t, kv)

	err := h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: [][]byte{make([]byte, 64)}, SignatoryIndex: 5})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_SIGNATORY_OUT_OF_BOUNDS, errCode(t, err))
}

func TestSignatureIncorrectRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	privA, addrA := testKeyPair(t, 1)
	seedSignatorySet(ctx, t, kv, h, validators.Map{string(addrA[:]): 100})
	seedActiveCheckpoint(ctx, t, kv)

	// a valid signature over the wrong digest
	wrong := sha256.Sum256([]byte("not the sighash"))
	sig, err := btcpeg.Sign(privA, wrong[:])
	require.NoError(t, err)

	err = h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: [][]byte{sig[:]}, SignatoryIndex: 0})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_INCORRECT_SIGNATURE, errCode(t, err))
}

func TestSignatureAlreadySignedRejected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	privA, addrA := testKeyPair(t, 1)
	_, addrB := testKeyPair(t, 2)
	vmap := validators.Map{string(addrA[:]): 50, string(addrB[:]): 50}
	seedSignatorySet(ctx, t, kv, h, vmap)
	set := seedActiveCheckpoint(ctx, t, kv)

	// A's power alone does not cross two-thirds, so the checkpoint
	// stays active and a second submission from A must be rejected.
	signCheckpoint(ctx, t, kv, h, privA, addrA)

	idx := signatoryIndex(t, set, addrA)
	err := h.SignatureTx(ctx, kv, &nwire.Signature{Signatures: [][]byte{make([]byte, 64)}, SignatoryIndex: idx})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_ALREADY_SIGNED, errCode(t, err))
}

func TestBeginBlockHonorsCheckpointInterval(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	require.NoError(t, h.BeginBlock(ctx, kv, vmap, 0))
	seedPendingUtxo(ctx, t, kv, 1, 2_000_000, addrA[:])

	// dt == interval: not yet
	require.NoError(t, h.BeginBlock(ctx, kv, vmap, config.CheckpointInterval))
	state, err := Load(ctx, kv)
	require.NoError(t, err)
	assert.False(t, state.ActiveCheckpoint.IsActive)
	assert.Equal(t, uint64(0), state.CheckpointIndex)

	// dt == interval+1: opens, drains pending utxos into the checkpoint
	require.NoError(t, h.BeginBlock(ctx, kv, vmap, config.CheckpointInterval+1))
	state, err = Load(ctx, kv)
	require.NoError(t, err)
	assert.True(t, state.ActiveCheckpoint.IsActive)
	assert.Equal(t, uint64(1), state.CheckpointIndex)
	assert.Empty(t, state.Utxos)
	require.Len(t, state.ActiveCheckpoint.Utxos, 1)
	require.Len(t, state.ActiveCheckpoint.Signatures, 1)
}

func TestBeginBlockSkipsBelowMinimumValue(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	require.NoError(t, h.BeginBlock(ctx, kv, vmap, 0))
	seedPendingUtxo(ctx, t, kv, 1, config.CheckpointMinimumValue-1, addrA[:])

	require.NoError(t, h.BeginBlock(ctx, kv, vmap, config.CheckpointInterval+1))
	state, err := Load(ctx, kv)
	require.NoError(t, err)
	assert.False(t, state.ActiveCheckpoint.IsActive)
	assert.Equal(t, uint64(0), state.CheckpointIndex)
	assert.Len(t, state.Utxos, 1, "pending utxos stay pending")
}

// TestSignatoryRotationCommitsOnNthCheckpointFinalize drives the peg
// through a full signatory-change cycle: a new validator joins partway
// through, the rotation snapshot is attached to the Nth checkpoint,
// and the signatory-set log only grows once that checkpoint finalizes.
func TestSignatoryRotationCommitsOnNthCheckpointFinalize(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	privA, addrA := testKeyPair(t, 1)
	_, addrB := testKeyPair(t, 2)

	vmap := validators.Map{string(addrA[:]): 100}
	require.NoError(t, h.BeginBlock(ctx, kv, vmap, 0))

	n := config.SignatoryChangeInterval
	for k := uint64(1); k <= n; k++ {
		if k == n-2 {
			vmap[string(addrB[:])] = 555
		}

		seedPendingUtxo(ctx, t, kv, byte(k), 2_000_000, addrA[:])
		now := int64(k) * (config.CheckpointInterval + 1)
		require.NoError(t, h.BeginBlock(ctx, kv, vmap, now))

		state, err := Load(ctx, kv)
		require.NoError(t, err)
		require.True(t, state.ActiveCheckpoint.IsActive, "iteration %d must open a checkpoint", k)
		assert.Equal(t, k, state.CheckpointIndex)
		if k == n {
			require.NotNil(t, state.ActiveCheckpoint.NextSignatorySet)
			assert.Len(t, state.ActiveCheckpoint.NextSignatorySet.Signatories, 2)
		} else {
			require.Nil(t, state.ActiveCheckpoint.NextSignatorySet)
		}

		signCheckpoint(ctx, t, kv, h, privA, addrA)

		state, err = Load(ctx, kv)
		require.NoError(t, err)
		require.False(t, state.ActiveCheckpoint.IsActive)
		latest, _, ok := state.latestSignatorySet()
		require.True(t, ok)
		if k < n {
			assert.Len(t, latest.Signatories, 1, "rotation must not commit before checkpoint %d finalizes", n)
		} else {
			assert.Len(t, latest.Signatories, 2, "rotation commits when checkpoint %d finalizes", n)
		}
	}
}

// TestConservationAcrossDepositAndWithdrawal checks the ledger
// invariant: account balances equal custodied UTXO value minus queued
// withdrawal value.
func TestConservationAcrossDepositAndWithdrawal(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	_, addrA := testKeyPair(t, 1)
	vmap := validators.Map{string(addrA[:]): 100}
	seedSignatorySet(ctx, t, kv, h, vmap)

	set := signatory.New([]signatory.Signatory{{PubKey: addrA, VotingPower: 100}})
	privR, recipient := testKeyPair(t, 123)

	tx, header := buildSingleTxBlock(t, set, recipient[:], 100_000_000)
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, header, 0))
	require.NoError(t, h.DepositTx(ctx, kv, depositEnvelope(t, tx, 0, [][]byte{recipient[:]})))

	to := []byte{0xAB, 0xCD}
	sig := withdrawalSignature(t, privR, recipient[:], to, 1_000_000, 0)
	require.NoError(t, h.WithdrawalTx(ctx, kv, &nwire.Withdrawal{
		From: recipient[:], To: to, Amount: 1_000_000, Nonce: 0, Signature: sig,
	}))

	acct, found, err := accounts.NewStore(kv, nil).Get(ctx, recipient)
	require.NoError(t, err)
	require.True(t, found)

	state, err := Load(ctx, kv)
	require.NoError(t, err)
	var utxoTotal, withdrawalTotal uint64
	for _, u := range state.Utxos {
		utxoTotal += u.Value
	}
	for _, w := range state.PendingWithdrawals {
		withdrawalTotal += w.Value
	}
	assert.Equal(t, acct.Balance, utxoTotal-withdrawalTotal)
}

func TestHeaderTxRejectsMalformedHeader(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	err := h.HeaderTx(ctx, kv, &nwire.Header{BlockHeaders: [][]byte{{0xDE, 0xAD}}})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_BAD_HEADER, errCode(t, err))
}

func TestHeaderTxRejectsOrphanAtomically(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	h := newTestHandlers()

	base := &wire.BlockHeader{Version: 1, Bits: 0x1d00ffff}
	require.NoError(t, spv.New().AddHeaderRaw(ctx, kv, base, 0))

	// a header that does not extend any known block
	var unknownPrev chainhash.Hash
	unknownPrev[0] = 0xAB
	orphan := &wire.BlockHeader{Version: 1, PrevBlock: unknownPrev, Bits: 0x1d00ffff}
	var buf bytes.Buffer
	require.NoError(t, orphan.Serialize(&buf))

	err := h.HeaderTx(ctx, kv, &nwire.Header{BlockHeaders: [][]byte{buf.Bytes()}})
	require.Error(t, err)
	assert.Equal(t, pegerrors.ERR_BAD_HEADER, errCode(t, err))

	// the rejected batch left no trace
	_, found, err := spv.New().GetHeaderForHeight(ctx, kv, 1)
	require.NoError(t, err)
	assert.False(t, found)
}
