package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fulfillment core.
type Metrics struct {
	// --- Order workflow ---
	TransitionsApplied  *prometheus.CounterVec // labels: from, to
	TransitionsRejected *prometheus.CounterVec // labels: to, reason
	TransitionDuration  prometheus.Histogram

	// --- Ledger & holds ---
	TransactionsRecorded *prometheus.CounterVec // labels: type
	HoldsPlaced          prometheus.Counter
	HoldsResolved        *prometheus.CounterVec // labels: outcome
	InsufficientFunds    prometheus.Counter

	// --- Slot booking ---
	SlotReservations  prometheus.Counter
	SlotFullRejected  prometheus.Counter
	SlotReleases      prometheus.Counter

	// --- Storage contention ---
	TxRetries    prometheus.Counter
	TxContention prometheus.Counter

	// --- Payment callbacks ---
	CallbacksApplied    prometheus.Counter
	CallbackDuplicates  *prometheus.CounterVec // labels: tier (lru, postgres)
	CallbacksRejected   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		TransitionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_order_transitions_applied_total",
			Help: "Order status transitions applied, by from/to status",
		}, []string{"from", "to"}),
		TransitionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_order_transitions_rejected_total",
			Help: "Order status transitions rejected, by target status and reason",
		}, []string{"to", "reason"}),
		TransitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_order_transition_duration_seconds",
			Help:    "Wall time of the transition transaction including side effects",
			Buckets: prometheus.DefBuckets,
		}),

		TransactionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_ledger_transactions_total",
			Help: "Ledger transactions recorded, by type",
		}, []string{"type"}),
		HoldsPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_holds_placed_total",
			Help: "Order holds placed",
		}),
		HoldsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_holds_resolved_total",
			Help: "Order holds resolved, by outcome",
		}, []string{"outcome"}),
		InsufficientFunds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_insufficient_funds_total",
			Help: "Ledger debits rejected for insufficient funds",
		}),

		SlotReservations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_slot_reservations_total",
			Help: "Delivery slot reservations accepted",
		}),
		SlotFullRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_slot_full_rejected_total",
			Help: "Delivery slot reservations rejected at the capacity ceiling",
		}),
		SlotReleases: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_slot_releases_total",
			Help: "Delivery slot windows released",
		}),

		TxRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_tx_retries_total",
			Help: "Storage transactions retried after contention",
		}),
		TxContention: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_tx_contention_total",
			Help: "Storage transactions failed on lock timeout or deadlock",
		}),

		CallbacksApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_payment_callbacks_applied_total",
			Help: "External payment callbacks applied to the ledger",
		}),
		CallbackDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_payment_callback_duplicates_total",
			Help: "External payment callbacks deduplicated, by dedup tier",
		}, []string{"tier"}),
		CallbacksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_payment_callbacks_rejected_total",
			Help: "External payment callbacks rejected as invalid",
		}),
	}
}
