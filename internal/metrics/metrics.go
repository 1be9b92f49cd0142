// Package metrics declares the broker's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReady tracks buffered (undelivered) messages per queue.
	MessagesReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_queue_messages_ready",
			Help: "Number of messages currently buffered (not yet delivered) per queue",
		},
		[]string{"queue"},
	)

	// ConsumersActive tracks dispatch-eligible consumers per queue.
	ConsumersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_queue_consumers_active",
			Help: "Number of consumers currently eligible for dispatch, per queue",
		},
		[]string{"queue"},
	)

	// ConsumersBlocked tracks flow-controlled consumers per queue.
	ConsumersBlocked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_queue_consumers_blocked",
			Help: "Number of consumers currently flow-controlled, per queue",
		},
		[]string{"queue"},
	)

	// DispatchTotal counts successful deliveries per queue.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_queue_dispatch_total",
			Help: "Total number of messages dispatched to a consumer, per queue",
		},
		[]string{"queue"},
	)

	// TxnCommitsTotal counts committed transactions per queue.
	TxnCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_queue_txn_commits_total",
			Help: "Total number of transactions committed, per queue",
		},
		[]string{"queue"},
	)

	// TxnRollbacksTotal counts rolled-back transactions per queue.
	TxnRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_queue_txn_rollbacks_total",
			Help: "Total number of transactions rolled back, per queue",
		},
		[]string{"queue"},
	)

	// QueuesTerminated counts queue processes that have run to
	// termination, labeled by reason.
	QueuesTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_queue_terminated_total",
			Help: "Total number of queue processes that have terminated, by reason",
		},
		[]string{"reason"},
	)
)

func SetMessagesReady(queue string, n int) {
	MessagesReady.WithLabelValues(queue).Set(float64(n))
}

func SetConsumers(queue string, active, blocked int) {
	ConsumersActive.WithLabelValues(queue).Set(float64(active))
	ConsumersBlocked.WithLabelValues(queue).Set(float64(blocked))
}

func IncDispatched(queue string) {
	DispatchTotal.WithLabelValues(queue).Inc()
}

func IncCommit(queue string) {
	TxnCommitsTotal.WithLabelValues(queue).Inc()
}

func IncRollback(queue string) {
	TxnRollbacksTotal.WithLabelValues(queue).Inc()
}

func IncTerminated(reason string) {
	QueuesTerminated.WithLabelValues(reason).Inc()
}
