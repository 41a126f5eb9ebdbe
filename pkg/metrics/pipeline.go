package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline collectors for the finance event pipeline. Registered once at
// package init; HTTP-level metrics are handled by the gin middleware in
// prometheus.go.
var (
	EventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "treasury",
		Name:      "events_appended_total",
		Help:      "Event log entries appended, partitioned by event type.",
	}, []string{"event_type"})

	EventsDeduped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "treasury",
		Name:      "events_deduped_total",
		Help:      "Append attempts skipped because the idempotency key already existed.",
	}, []string{"event_type"})

	OutboxDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "treasury",
		Name:      "outbox_dispatched_total",
		Help:      "Outbox dispatch results, partitioned by event type and result (ok, retry, parked).",
	}, []string{"event_type", "result"})

	OperationsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "treasury",
		Name:      "operations_executed_total",
		Help:      "Downstream operation results, partitioned by operation type and result (ok, retry, parked).",
	}, []string{"type", "result"})

	OperationsDeduped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "treasury",
		Name:      "operations_deduped_total",
		Help:      "Operation enqueue calls collapsed by an existing dedupe key.",
	}, []string{"type"})

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "treasury",
		Name:      "webhook_events_total",
		Help:      "Inbound provider events, partitioned by event type and outcome (handled, discarded, failed).",
	}, []string{"event_type", "outcome"})
)

func init() {
	for _, c := range []prometheus.Collector{
		EventsAppended,
		EventsDeduped,
		OutboxDispatched,
		OperationsExecuted,
		OperationsDeduped,
		WebhookEvents,
	} {
		_ = prometheus.Register(c)
	}
}
