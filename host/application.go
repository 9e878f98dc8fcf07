// Package host is the consensus-facing adapter: it translates the
// ABCI-shaped callbacks (init_chain, check_tx, deliver_tx,
// begin_block, end_block) into calls against the deterministic peg
// core, and persists the validator map the peg's signatory-set
// derivation and work-proof power grants both read and write.
package host

import (
	"context"
	"time"

	"github.com/BlockscapeNetwork/nomic/config"
	nerrors "github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/peg"
	"github.com/BlockscapeNetwork/nomic/store"
	"github.com/BlockscapeNetwork/nomic/ulogger"
	"github.com/BlockscapeNetwork/nomic/validators"
	"github.com/BlockscapeNetwork/nomic/wire"
	"github.com/BlockscapeNetwork/nomic/workproof"
)

// Code is a transaction result code: zero means success, any nonzero
// value is a rejection.
type Code int32

const (
	CodeOK    Code = 0
	CodeError Code = 1
)

// Result is what check_tx/deliver_tx return to consensus.
type Result struct {
	Code Code
	Log  string
}

// ValidatorUpdate is a validator's voting power crossing the
// consensus boundary. Pubkeys are Ed25519-tagged bytes on the
// consensus side even though signatory derivation reads the same
// payload as a secp256k1 point; the mismatch is deliberate and kept
// for compatibility, with non-secp256k1-parsable payloads rejected as
// InvalidValidatorKey at derivation time.
type ValidatorUpdate struct {
	PubKeyEd25519 []byte
	Power         int64
}

// Header is the block-begin notification's payload: the only field
// the core ever consults is Time, which must come from the block
// header and never the wall clock.
type Header struct {
	Time int64
}

// Application wires the peg core to a single persistent store.KV
// handle: every deliver_tx stages its writes in an Overlay and commits
// only on success, and check_tx runs the identical dispatch against an
// Overlay it always discards.
type Application struct {
	kv       store.KV
	handlers *peg.Handlers
	genesis  *config.GenesisArtifact
	log      ulogger.Logger
}

// New builds an Application over kv.
func New(kv store.KV, handlers *peg.Handlers, genesis *config.GenesisArtifact, log ulogger.Logger) *Application {
	return &Application{kv: kv, handlers: handlers, genesis: genesis, log: log}
}

// InitChain persists the genesis validator map and bootstraps the SPV
// header chain from the pinned configuration artifact.
func (a *Application) InitChain(ctx context.Context, updates []ValidatorUpdate) error {
	vmap := make(validators.Map, len(updates))
	for _, u := range updates {
		vmap[string(u.PubKeyEd25519)] = uint64(u.Power)
	}
	if err := saveValidators(ctx, a.kv, vmap); err != nil {
		return err
	}
	return a.handlers.Initialize(ctx, a.kv, a.genesis)
}

// CheckTx runs a transaction's full validation against a scratch
// overlay that is always discarded, producing the exact same
// success/failure classification deliver_tx would.
func (a *Application) CheckTx(ctx context.Context, raw []byte) Result {
	overlay := store.NewOverlay(a.kv)
	vmap, err := loadValidators(ctx, overlay)
	if err != nil {
		return resultFromErr(err)
	}
	if _, err := a.dispatch(ctx, overlay, vmap, raw); err != nil {
		return resultFromErr(err)
	}
	return Result{Code: CodeOK}
}

// DeliverTx runs a transaction against a write-buffering overlay over
// the persistent store and commits it only once every mutation the
// handler performed has succeeded.
func (a *Application) DeliverTx(ctx context.Context, raw []byte) Result {
	start := time.Now()
	defer func() {
		peg.ObserveDeliverTxDuration(float64(time.Since(start).Microseconds()))
	}()

	overlay := store.NewOverlay(a.kv)
	vmap, err := loadValidators(ctx, overlay)
	if err != nil {
		return resultFromErr(err)
	}

	newVmap, err := a.dispatch(ctx, overlay, vmap, raw)
	if err != nil {
		overlay.Discard()
		return resultFromErr(err)
	}

	if newVmap != nil {
		if err := saveValidators(ctx, overlay, newVmap); err != nil {
			overlay.Discard()
			return resultFromErr(err)
		}
	}

	if err := overlay.Commit(ctx); err != nil {
		return resultFromErr(err)
	}
	return Result{Code: CodeOK}
}

// BeginBlock runs the block lifecycle against the persistent store
// directly: begin_block precedes any deliver_tx for the same block
// and a failure is fatal to the block, so there is no overlay to
// discard here.
func (a *Application) BeginBlock(ctx context.Context, header Header) error {
	vmap, err := loadValidators(ctx, a.kv)
	if err != nil {
		return err
	}
	return a.handlers.BeginBlock(ctx, a.kv, vmap, header.Time)
}

// EndBlock projects the current validator map back to consensus's
// wire type, in sorted key order. These updates are how work-proof
// power grants flow into consensus.
func (a *Application) EndBlock(ctx context.Context) ([]ValidatorUpdate, error) {
	vmap, err := loadValidators(ctx, a.kv)
	if err != nil {
		return nil, err
	}
	updates := make([]ValidatorUpdate, 0, len(vmap))
	for _, k := range vmap.SortedKeys() {
		updates = append(updates, ValidatorUpdate{PubKeyEd25519: []byte(k), Power: int64(vmap[k])})
	}
	return updates, nil
}

// dispatch decodes raw and routes it to the matching peg handler.
// WorkProof transactions are resolved here rather than inside the peg
// core and, when satisfied, return a replacement validator map for
// the caller to persist on success.
func (a *Application) dispatch(ctx context.Context, kv store.KV, vmap validators.Map, raw []byte) (validators.Map, error) {
	typ, payload, err := wire.Decode(raw)
	if err != nil {
		return nil, err
	}

	switch typ {
	case wire.TypeDeposit:
		return nil, a.handlers.DepositTx(ctx, kv, payload.(*wire.Deposit))
	case wire.TypeWithdrawal:
		return nil, a.handlers.WithdrawalTx(ctx, kv, payload.(*wire.Withdrawal))
	case wire.TypeHeader:
		return nil, a.handlers.HeaderTx(ctx, kv, payload.(*wire.Header))
	case wire.TypeSignature:
		return nil, a.handlers.SignatureTx(ctx, kv, payload.(*wire.Signature))
	case wire.TypeWorkProof:
		return a.applyWorkProof(vmap, payload.(*wire.WorkProof))
	default:
		return nil, nerrors.New(nerrors.ERR_DESERIALIZATION, "host: unknown transaction type")
	}
}

func (a *Application) applyWorkProof(vmap validators.Map, in *wire.WorkProof) (validators.Map, error) {
	proof := workproof.Proof{PublicKey: in.PublicKey, Nonce: in.Nonce}
	if !workproof.Satisfies(proof) {
		return nil, nerrors.New(nerrors.ERR_DESERIALIZATION, "host: work proof below minimum difficulty")
	}

	next := make(validators.Map, len(vmap)+1)
	for k, v := range vmap {
		next[k] = v
	}
	next[string(in.PublicKey)] += workproof.PowerGrant(proof)
	return next, nil
}

func resultFromErr(err error) Result {
	code := CodeError
	msg := err.Error()
	if pegErr, ok := err.(*nerrors.Error); ok && pegErr.Code != nerrors.ERR_OK {
		code = Code(pegErr.Code)
	}
	return Result{Code: code, Log: msg}
}
