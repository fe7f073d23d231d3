package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EntriesAppendedTotal counts successful ledger appends by entry kind
	// (the to_state of the transition that produced the entry).
	EntriesAppendedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "ledger",
		Name:      "entries_appended_total",
		Help:      "Total ledger entries appended by resulting escrow state.",
	}, []string{"to_state"})

	// DuplicateKeysTotal counts appends rejected by the idempotency-key
	// constraint. A nonzero rate is normal under webhook redelivery.
	DuplicateKeysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "ledger",
		Name:      "duplicate_keys_total",
		Help:      "Total appends rejected because the idempotency key was already used.",
	})
)

func init() {
	prometheus.MustRegister(EntriesAppendedTotal, DuplicateKeysTotal)
}

// ObserveAppend records metrics for an append attempt outcome.
func ObserveAppend(toState string, err error) {
	switch {
	case err == nil:
		EntriesAppendedTotal.WithLabelValues(toState).Inc()
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		DuplicateKeysTotal.Inc()
	}
}
