package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts workflow operations by action and outcome
	// (applied, warning, denied, invalid, conflict, error).
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_transitions_total",
			Help: "Total number of application workflow operations by outcome",
		},
		[]string{"action", "outcome"},
	)

	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "application_transition_duration_seconds",
			Help: "Duration of application workflow operations in seconds",
		},
		[]string{"action"},
	)

	StatusOverrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_status_overrides_total",
			Help: "Generic status updates that moved an application out of a terminal status",
		},
		[]string{"from", "to"},
	)

	NotificationsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_queued_total",
			Help: "Notifications requested by the workflow, by type and result",
		},
		[]string{"type", "result"},
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Notification delivery attempts by channel and final status",
		},
		[]string{"channel", "status"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)
)
