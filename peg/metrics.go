package peg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

var (
	prometheusDepositsProcessed    prometheus.Counter
	prometheusDepositsRejected     prometheus.Counter
	prometheusWithdrawalsProcessed prometheus.Counter
	prometheusWithdrawalsRejected  prometheus.Counter
	prometheusHeadersAccepted      prometheus.Counter
	prometheusHeadersRejected      prometheus.Counter
	prometheusSignaturesAccepted   prometheus.Counter
	prometheusSignaturesRejected   prometheus.Counter
	prometheusCheckpointsOpened    prometheus.Counter
	prometheusCheckpointsFinalized prometheus.Counter
	prometheusDeliverTxDuration    prometheus.Histogram
)

// prometheusMetricsInitialised guards registration with an atomic
// rather than a plain bool: NewHandlers may be called from more than
// one goroutine, and promauto panics on double-registration.
var prometheusMetricsInitialised atomic.Bool

var microSecondBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 50000, 100000}

// ObserveDeliverTxDuration records one deliver_tx's processing time in
// microseconds. Called by the host adapter, which owns the deliver
// path's timing.
func ObserveDeliverTxDuration(micros float64) {
	prometheusDeliverTxDuration.Observe(micros)
}

func initPrometheusMetrics() {
	if !prometheusMetricsInitialised.CompareAndSwap(false, true) {
		return
	}

	prometheusDepositsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "deposits_processed",
		Help:      "Number of deposit transactions successfully applied",
	})
	prometheusDepositsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "deposits_rejected",
		Help:      "Number of deposit transactions rejected",
	})
	prometheusWithdrawalsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "withdrawals_processed",
		Help:      "Number of withdrawal transactions successfully applied",
	})
	prometheusWithdrawalsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "withdrawals_rejected",
		Help:      "Number of withdrawal transactions rejected",
	})
	prometheusHeadersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "headers_accepted",
		Help:      "Number of Bitcoin headers accepted into the SPV cache",
	})
	prometheusHeadersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "headers_rejected",
		Help:      "Number of Bitcoin headers rejected by the SPV cache",
	})
	prometheusSignaturesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "signatures_accepted",
		Help:      "Number of checkpoint signatures accepted",
	})
	prometheusSignaturesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "signatures_rejected",
		Help:      "Number of checkpoint signatures rejected",
	})
	prometheusCheckpointsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "checkpoints_opened",
		Help:      "Number of checkpoints opened for signing",
	})
	prometheusCheckpointsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peg",
		Name:      "checkpoints_finalized",
		Help:      "Number of checkpoints that reached two-thirds signed voting power",
	})
	prometheusDeliverTxDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "peg",
		Name:      "deliver_tx_duration_micros",
		Help:      "Duration of deliver_tx transaction processing",
		Buckets:   microSecondBuckets,
	})
}
