package peg

import (
	"github.com/BlockscapeNetwork/nomic/events"
	"github.com/BlockscapeNetwork/nomic/spv"
	"github.com/BlockscapeNetwork/nomic/ulogger"
)

// Handlers groups the process-lifetime dependencies every transaction
// handler and begin_block need: a logger, an optional event publisher,
// and the SPV header cache. All chain state is threaded through via
// the store.KV parameter each method takes, never held here; a given
// Handlers value is shared across both the check_tx scratch path and
// the deliver_tx persistent path.
type Handlers struct {
	log     ulogger.Logger
	events  *events.Publisher
	headers *spv.Cache
}

// NewHandlers builds a Handlers. pub may be nil to disable event
// publishing (e.g. in tests).
func NewHandlers(log ulogger.Logger, pub *events.Publisher) *Handlers {
	initPrometheusMetrics()
	return &Handlers{log: log, events: pub, headers: spv.New()}
}

func (h *Handlers) publish(kind events.Kind, key []byte, payload interface{}) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(kind, key, payload); err != nil {
		h.log.Warnf("peg: event publish failed: %v", err)
	}
}
