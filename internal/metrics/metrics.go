package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Deliveries counts per-endpoint publish outcomes: delivered, failed, skipped.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Push deliveries per endpoint by notification kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	Recipients = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_recipients_total",
			Help: "Users a notification was expanded to, by kind and eligibility",
		},
		[]string{"kind", "eligible"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_dispatch_duration_seconds",
			Help:    "Time taken to fan one notification intent out to all endpoints",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_queue_messages_total",
			Help: "Queue messages consumed, by result (handled, dropped, retried)",
		},
		[]string{"result"},
	)

	ReminderRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_runs_total",
			Help: "Reminder scheduler invocations by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_deletions_total",
			Help: "Endpoints removed by the reconciler, by side (gateway, registry) and result",
		},
		[]string{"side", "result"},
	)

	GatewayCallFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_gateway_call_failures_total",
			Help: "Failed calls to the push gateway by operation",
		},
		[]string{"operation"},
	)

	// PublishBreakerState is 0 closed, 1 half-open, 2 open.
	PublishBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_publish_breaker_state",
			Help: "State of the circuit breaker guarding push publishes",
		},
	)

	PublishBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_publish_breaker_transitions_total",
			Help: "Publish circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	RequestsThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endpoint_requests_throttled_total",
			Help: "Endpoint registration requests rejected by the per-IP rate limit",
		},
		[]string{"method"},
	)
)
