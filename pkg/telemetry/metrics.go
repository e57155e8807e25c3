package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the provisioning engine.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Task metrics
	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	// Resume metrics
	remindersSet   prometheus.Counter
	resumeAttempts *prometheus.CounterVec

	// Delegation metrics
	delegationDecisions *prometheus.CounterVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of provisioning runs started",
			},
			[]string{"action"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of provisioning runs completed",
			},
			[]string{"action", "state"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of provisioning run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"action", "state"},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of provisioning tasks executed",
			},
			[]string{"stage", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),

		remindersSet: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resume_reminders_set_total",
				Help:      "Total number of encryption resume reminders persisted",
			},
		),
		resumeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resume_attempts_total",
				Help:      "Total number of post-reboot resume attempts",
			},
			[]string{"outcome"},
		),

		delegationDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delegation_decisions_total",
				Help:      "Total number of role holder delegation decisions",
			},
			[]string{"outcome"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of provisioning failures by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active provisioning runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.tasksExecuted,
		m.taskDuration,
		m.remindersSet,
		m.resumeAttempts,
		m.delegationDecisions,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(action string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(action).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its terminal state and
// duration.
func (m *Metrics) RecordRunCompleted(action, state string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(action, state).Inc()
	m.runDuration.WithLabelValues(action, state).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordTaskExecution records the execution of one task.
func (m *Metrics) RecordTaskExecution(stage, status string, duration time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(stage, status).Inc()
	m.taskDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordReminderSet records a persisted encryption resume reminder.
func (m *Metrics) RecordReminderSet() {
	if m.remindersSet == nil {
		return
	}
	m.remindersSet.Inc()
}

// RecordResumeAttempt records a post-reboot resume attempt and its outcome.
func (m *Metrics) RecordResumeAttempt(outcome string) {
	if m.resumeAttempts == nil {
		return
	}
	m.resumeAttempts.WithLabelValues(outcome).Inc()
}

// RecordDelegationDecision records a role holder delegation decision.
func (m *Metrics) RecordDelegationDecision(outcome string) {
	if m.delegationDecisions == nil {
		return
	}
	m.delegationDecisions.WithLabelValues(outcome).Inc()
}

// RecordError records a provisioning failure by error code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
