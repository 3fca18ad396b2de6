package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the escrow/settlement pipeline
var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigpay_webhook_events_total",
			Help: "Processor webhook events received, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	WebhookSignatureFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigpay_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected due to signature verification failure",
		},
	)

	PendingFeesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigpay_pending_fees_created_total",
			Help: "Pending fees created by the settlement writer",
		},
	)

	FeesClearedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigpay_fees_cleared_total",
			Help: "Pending fees cleared by the finalizer",
		},
	)

	TrampolineHopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigpay_trampoline_hops_total",
			Help: "Trampoline re-enqueue hops performed",
		},
	)

	TaskScheduleFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigpay_task_schedule_failures_total",
			Help: "Failed attempts to schedule a task on the durable queue",
		},
	)

	SweeperRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigpay_sweeper_runs_total",
			Help: "Reconciliation sweeps started (lease acquired)",
		},
	)

	SweeperReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gigpay_sweeper_reconciled_total",
			Help: "Stale payment records resolved to a terminal state by the sweeper",
		},
	)
)

// Register registers all pipeline metrics
func Register() {
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(WebhookSignatureFailuresTotal)
	prometheus.MustRegister(PendingFeesCreatedTotal)
	prometheus.MustRegister(FeesClearedTotal)
	prometheus.MustRegister(TrampolineHopsTotal)
	prometheus.MustRegister(TaskScheduleFailuresTotal)
	prometheus.MustRegister(SweeperRunsTotal)
	prometheus.MustRegister(SweeperReconciledTotal)
}
