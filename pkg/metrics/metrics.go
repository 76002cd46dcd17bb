// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LockAcquisitionsTotal tracks granted plan lock acquisitions and refreshes
	LockAcquisitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "planlock",
			Name:      "lock_acquisitions_total",
			Help:      "Total number of granted plan lock acquisitions",
		},
	)

	// LockConflictsTotal tracks acquisitions refused because another user holds the lock
	LockConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "planlock",
			Name:      "lock_conflicts_total",
			Help:      "Total number of plan lock conflicts",
		},
	)

	// LockTakeoversTotal tracks forced lock transfers
	LockTakeoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "planlock",
			Name:      "lock_takeovers_total",
			Help:      "Total number of forced plan lock takeovers",
		},
	)

	// NotificationsSentTotal tracks delivered notifications by kind
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "notifications",
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications sent by kind",
		},
		[]string{"kind"},
	)

	// NotificationsFailedTotal tracks failed sends by kind
	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "notifications",
			Name:      "notifications_failed_total",
			Help:      "Total number of failed notification sends by kind",
		},
		[]string{"kind"},
	)

	// NotificationsDeduplicatedTotal tracks sends skipped because a marker already existed
	NotificationsDeduplicatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "notifications",
			Name:      "notifications_deduplicated_total",
			Help:      "Total number of notifications skipped by the dedup marker",
		},
		[]string{"kind"},
	)

	// StatusReconciledTotal tracks milestones whose persisted status was corrected to Delayed
	StatusReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "status",
			Name:      "status_reconciled_total",
			Help:      "Total number of milestone statuses reconciled to Delayed",
		},
		[]string{"result"},
	)

	// SchedulerTaskDuration tracks scheduled task run duration in seconds
	SchedulerTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "scheduler_task_duration_seconds",
			Help:      "Duration of scheduled task runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"task"},
	)

	// SchedulerTaskRunsTotal tracks scheduled task runs by outcome
	SchedulerTaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "scheduler_task_runs_total",
			Help:      "Total number of scheduled task runs by outcome",
		},
		[]string{"task", "status"},
	)

	// AuthorizationDeniedTotal tracks rejected operations by operation name
	AuthorizationDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "permissions",
			Name:      "authorization_denied_total",
			Help:      "Total number of operations rejected by the permission resolver",
		},
		[]string{"operation"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordSchedulerTask records a scheduled task run
func RecordSchedulerTask(task, status string, durationSeconds float64) {
	SchedulerTaskRunsTotal.WithLabelValues(task, status).Inc()
	SchedulerTaskDuration.WithLabelValues(task).Observe(durationSeconds)
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
