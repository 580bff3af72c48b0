package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the responder's Prometheus metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.EventReceived("message")
//	metrics.RecordDispatch("mention", "replied")
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// EventsReceived counts inbound events.
	// Labels: source (message|self)
	EventsReceived *prometheus.CounterVec

	// EventsInFlight is the number of events being handled.
	EventsInFlight prometheus.Gauge

	// DispatchOutcomes counts the terminal outcome of every event.
	// Labels: path (uptime|command|mention|reply|messages|forwards|embeds|quotes|none),
	// outcome (replied|rejected|silent|failed)
	DispatchOutcomes *prometheus.CounterVec

	// EventDuration measures end to end event handling in seconds.
	// Labels: path
	// Buckets: 0.01s, 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	EventDuration *prometheus.HistogramVec

	// CaptionOutcomes counts image captioning results.
	// Labels: status (ok|timeout|error|empty)
	CaptionOutcomes *prometheus.CounterVec

	// ReplyDuration measures reply engine calls in seconds.
	// Labels: model, status (success|error)
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	ReplyDuration *prometheus.HistogramVec

	// CommandOutcomes counts directive executions.
	// Labels: command, outcome (ack|reply|error)
	CommandOutcomes *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (transport|settings|reply|journal), error_type
	ErrorCounter *prometheus.CounterVec

	// JournalPruned counts journal rows removed by retention.
	JournalPruned prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg. A nil reg uses
// the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedorgpt_events_received_total",
				Help: "Total number of inbound events by source",
			},
			[]string{"source"},
		),

		EventsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fedorgpt_events_in_flight",
				Help: "Number of events currently being handled",
			},
		),

		DispatchOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedorgpt_dispatch_outcomes_total",
				Help: "Total number of handled events by response path and outcome",
			},
			[]string{"path", "outcome"},
		),

		EventDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedorgpt_event_duration_seconds",
				Help:    "Duration of event handling in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"path"},
		),

		CaptionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedorgpt_caption_outcomes_total",
				Help: "Total number of image captioning attempts by status",
			},
			[]string{"status"},
		),

		ReplyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedorgpt_reply_duration_seconds",
				Help:    "Duration of reply engine calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model", "status"},
		),

		CommandOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedorgpt_command_outcomes_total",
				Help: "Total number of executed directives by command and outcome",
			},
			[]string{"command", "outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedorgpt_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),

		JournalPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fedorgpt_journal_pruned_total",
				Help: "Total number of journal entries removed by retention",
			},
		),
	}
}

// EventReceived increments the inbound event counter.
func (m *Metrics) EventReceived(source string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(source).Inc()
}

// EventStarted marks an event as in flight and returns the func that
// clears it.
func (m *Metrics) EventStarted() func() {
	if m == nil {
		return func() {}
	}
	m.EventsInFlight.Inc()
	return m.EventsInFlight.Dec
}

// RecordDispatch records the terminal outcome of an event.
func (m *Metrics) RecordDispatch(path, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DispatchOutcomes.WithLabelValues(path, outcome).Inc()
	m.EventDuration.WithLabelValues(path).Observe(durationSeconds)
}

// RecordCaption records an image captioning result.
func (m *Metrics) RecordCaption(status string) {
	if m == nil {
		return
	}
	m.CaptionOutcomes.WithLabelValues(status).Inc()
}

// RecordReply records a reply engine call.
func (m *Metrics) RecordReply(model, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ReplyDuration.WithLabelValues(model, status).Observe(durationSeconds)
}

// RecordCommand records a directive execution.
func (m *Metrics) RecordCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.CommandOutcomes.WithLabelValues(command, outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordJournalPruned adds n pruned journal rows.
func (m *Metrics) RecordJournalPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.JournalPruned.Add(float64(n))
}

// Handler serves the metrics in g. A nil g serves the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
