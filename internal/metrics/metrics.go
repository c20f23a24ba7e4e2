// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics by every entry point.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		IntakeEvents, Replies, CadenceDecisions,
		TasksTotal, TaskDuration, TasksInFlight,
		JobsLeased, LeaseConflicts, JobsFinalized, JobsReclaimed, PollTicks,
		InterpreterCalls,
	)
}

var IntakeEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_intake_events_total",
		Help: "Inbound events by intake result.",
	},
	[]string{"result"}, // accepted | duplicate | ignored | error
)

var Replies = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_replies_total",
		Help: "Outbound replies by result.",
	},
	[]string{"result"}, // sent | skipped | failed
)

var CadenceDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_cadence_decisions_total",
		Help: "Notification cadence decisions.",
	},
	[]string{"decision"},
)

var TasksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_background_tasks_total",
		Help: "Background tasks by name and result.",
	},
	[]string{"task", "result"}, // ok | error | panic
)

var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "booksoul_background_task_duration_seconds",
		Help:    "Background task run time in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"task"},
)

var TasksInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "booksoul_background_tasks_in_flight",
		Help: "Background tasks currently running or waiting for a slot.",
	},
)

var JobsLeased = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_jobs_leased_total",
		Help: "Jobs claimed by this process.",
	},
	[]string{"type"},
)

var LeaseConflicts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "booksoul_lease_conflicts_total",
		Help: "Claims lost to another worker.",
	},
)

var JobsFinalized = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_jobs_finalized_total",
		Help: "Jobs finalized by terminal status.",
	},
	[]string{"type", "status"},
)

var JobsReclaimed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "booksoul_jobs_reclaimed_total",
		Help: "Expired leases returned to pending.",
	},
)

var PollTicks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_poll_ticks_total",
		Help: "Poller ticks by result.",
	},
	[]string{"result"}, // ok | error | skipped
)

var InterpreterCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booksoul_interpreter_calls_total",
		Help: "Interpreter calls by backend and result.",
	},
	[]string{"backend", "result"},
)
