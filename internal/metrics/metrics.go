package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miauchat/dispatch/internal/domain"
	"github.com/miauchat/dispatch/internal/queue"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	MessagesSent   *prometheus.CounterVec
	MessagesFailed *prometheus.CounterVec
	SendLatency    *prometheus.HistogramVec

	QueueTasksStarted prometheus.Counter
	QueueTasksFailed  prometheus.Counter
	QueueWaitSeconds  prometheus.Histogram
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total number of messages accepted by the channel gateway.",
		}, []string{"channel"}),

		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_failed_total",
			Help: "Total number of failed send attempts.",
		}, []string{"channel"}),

		SendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "message_send_seconds",
			Help:    "Gateway round-trip latency per send attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		QueueTasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversation_queue_tasks_started_total",
			Help: "Send tasks that reached the head of their conversation queue.",
		}),
		QueueTasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversation_queue_tasks_failed_total",
			Help: "Send tasks whose operation returned an error.",
		}),
		QueueWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conversation_queue_wait_seconds",
			Help:    "Time a send task spent queued behind earlier sends of its conversation.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.MessagesSent,
		m.MessagesFailed,
		m.SendLatency,
		m.QueueTasksStarted,
		m.QueueTasksFailed,
		m.QueueWaitSeconds,
	)

	return m
}

// RegisterQueueGauges exposes the manager's live state. The gauges are
// evaluated at scrape time, so they need no updates from the drain loop.
// Separate from New because the manager is built with QueueHooks.
func RegisterQueueGauges(reg prometheus.Registerer, q *queue.Manager) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "conversation_queue_active_conversations",
			Help: "Conversations with at least one unsettled send task.",
		}, func() float64 { return float64(q.Stats().Conversations) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "conversation_queue_pending_tasks",
			Help: "Send tasks waiting behind an in-flight send.",
		}, func() float64 { return float64(q.Stats().Pending) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "conversation_queue_in_flight_tasks",
			Help: "Send tasks currently executing.",
		}, func() float64 { return float64(q.Stats().InFlight) }),
	)
}

// QueueHooks returns the callbacks expected by queue.Hooks.
func (m *Metrics) QueueHooks() queue.Hooks {
	return queue.Hooks{
		OnStart: func(_ string, waited time.Duration) {
			m.QueueTasksStarted.Inc()
			m.QueueWaitSeconds.Observe(waited.Seconds())
		},
		OnDone: func(_ string, _ time.Duration, err error) {
			if err != nil {
				m.QueueTasksFailed.Inc()
			}
		},
	}
}

// SendHooks returns the metric callbacks expected by service.SendHooks.
// Centralises the prometheus observation calls so the service stays import-free.
func (m *Metrics) SendHooks() (
	onSent func(domain.Channel, time.Duration),
	onFailed func(domain.Channel),
) {
	onSent = func(ch domain.Channel, latency time.Duration) {
		m.MessagesSent.WithLabelValues(string(ch)).Inc()
		m.SendLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
	}
	onFailed = func(ch domain.Channel) {
		m.MessagesFailed.WithLabelValues(string(ch)).Inc()
	}
	return
}
