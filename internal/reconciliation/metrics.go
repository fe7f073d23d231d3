package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "reconciliation",
		Name:      "ledger_drift",
		Help:      "Number of escrows whose balance diverged from the ledger in the last run.",
	})

	reconcileStuckEscrows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "reconciliation",
		Name:      "stuck_escrows",
		Help:      "Number of escrows stuck in a transient state in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paycore",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation run errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileDrift,
		reconcileStuckEscrows,
		reconcileDuration,
		reconcileErrors,
	)
}
