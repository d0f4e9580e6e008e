package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions       prometheus.Gauge
	sessionOpDuration    *prometheus.HistogramVec
	conversationCaptures *prometheus.CounterVec

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchErrors   *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

// dispatchBuckets cover subprocess runs that take anywhere from a second to half an hour.
var dispatchBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Tasks currently queued by lane class.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane class.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total task completions by lane class and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane class.",
					Buckets: dispatchBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current number of stored sessions.",
				},
			),
			sessionOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "session_store_duration_seconds",
					Help:    "Session store operation duration in seconds by backend and operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend", "op"},
			),
			conversationCaptures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conversation_id_captures_total",
					Help: "Conversation identifiers captured from subprocess output, by whether the id changed.",
				},
				[]string{"changed"},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_total",
					Help: "Total codex dispatches by mode and status.",
				},
				[]string{"mode", "status"},
			),
			dispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dispatch_duration_seconds",
					Help:    "Codex dispatch duration in seconds by mode.",
					Buckets: dispatchBuckets,
				},
				[]string{"mode"},
			),
			dispatchErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_errors_total",
					Help: "Total codex dispatch errors by kind.",
				},
				[]string{"kind"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: dispatchBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionOpDuration,
			m.conversationCaptures,
			m.dispatchTotal,
			m.dispatchDuration,
			m.dispatchErrors,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Queue metrics are labelled by lane class, never by a per-session lane name.

func RecordQueueEnqueue(class string) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(class).Inc()
	m.queueSize.WithLabelValues(class).Inc()
}

// RecordQueueDequeue records n tasks leaving the queue, started or dropped.
func RecordQueueDequeue(class string, n int) {
	if n <= 0 {
		return
	}
	getMetrics().queueSize.WithLabelValues(class).Sub(float64(n))
}

func RecordQueueCompletion(class string, duration time.Duration, success bool) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(class, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(class).Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionOp(backend, op string, duration time.Duration) {
	m := getMetrics()
	m.sessionOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

func RecordConversationCapture(changed bool) {
	m := getMetrics()
	label := "false"
	if changed {
		label = "true"
	}
	m.conversationCaptures.WithLabelValues(label).Inc()
}

func RecordDispatch(mode string, duration time.Duration, success bool) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(mode, statusLabel(success)).Inc()
	m.dispatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func RecordDispatchError(kind string) {
	m := getMetrics()
	m.dispatchErrors.WithLabelValues(kind).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}
