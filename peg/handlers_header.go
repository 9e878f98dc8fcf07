package peg

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/wire"

	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/store"
	nwire "github.com/BlockscapeNetwork/nomic/wire"
)

// HeaderTx appends each Bitcoin-encoded header to the SPV cache in
// order. A rejection of any header (bad proof of work, non-linking,
// orphan) aborts the whole transaction with no partial application:
// the handler stages every append against a fresh overlay over kv and
// only commits once every header in the batch has linked cleanly.
func (h *Handlers) HeaderTx(ctx context.Context, kv store.KV, in *nwire.Header) error {
	overlay := store.NewOverlay(kv)

	for i, raw := range in.BlockHeaders {
		var header wire.BlockHeader
		if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
			prometheusHeadersRejected.Inc()
			return errors.New(errors.ERR_BAD_HEADER, "peg: decode header %d", i, err)
		}
		if err := h.headers.AddHeader(ctx, overlay, &header); err != nil {
			prometheusHeadersRejected.Inc()
			return errors.New(errors.ERR_BAD_HEADER, "peg: header %d rejected", i, err)
		}
	}

	if err := overlay.Commit(ctx); err != nil {
		return errors.New(errors.ERR_STORE, "peg: commit headers", err)
	}
	prometheusHeadersAccepted.Add(float64(len(in.BlockHeaders)))
	return nil
}
