package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "truelabel"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Background job metrics (automated review lane)
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of jobs processed",
		},
		[]string{"type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time distribution",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"type"},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Total number of job retry attempts",
		},
		[]string{"type"},
	)

	ScheduledTaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_task_runs_total",
			Help:      "Runs of periodic tasks (sweep, stale recovery, rule reload)",
		},
		[]string{"task", "status"},
	)
)

// Validation queue metrics
var (
	ProductsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_created_total",
			Help:      "Total number of products created",
		},
	)

	QueueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_transitions_total",
			Help:      "Queue entry transitions by action",
		},
		[]string{"action"},
	)

	QueueEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_entries",
			Help:      "Queue entries by status, refreshed by the sweep",
		},
		[]string{"status"},
	)

	QueueOverdue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_overdue_entries",
			Help:      "Entries past their due date, refreshed by the sweep",
		},
	)

	ValidationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_completed_total",
			Help:      "Validations that reached a terminal status",
		},
		[]string{"status"},
	)

	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_transaction_retries_total",
			Help:      "Transactions retried after a transient data store error",
		},
	)
)

// Compliance engine metrics
var (
	ComplianceEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_evaluations_total",
			Help:      "Rule engine evaluations by verdict",
		},
		[]string{"verdict"},
	)

	RuleGapFindings = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_rule_gap_findings_total",
			Help:      "Findings that failed because the rule was missing or malformed",
		},
	)

	RuleReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_rule_reloads_total",
			Help:      "Rule table reload attempts by result",
		},
		[]string{"result"},
	)
)

// Public QR and access ledger metrics
var (
	QRResolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_resolves_total",
			Help:      "Public QR lookups by result",
		},
		[]string{"result"},
	)

	LedgerRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_ledger_records_total",
			Help:      "QR access records by outcome (written, dropped, failed)",
		},
		[]string{"outcome"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Outbound events by type and result",
		},
		[]string{"type", "status"},
	)
)
