// Package metrics exposes recorder counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe for concurrent use. A nil *Metrics is a valid no-op.
type Metrics struct {
	pagesWritten  prometheus.Counter
	pagesRead     prometheus.Counter
	storageErrors *prometheus.CounterVec
	overruns      prometheus.Counter
	sessions      *prometheus.CounterVec
	state         prometheus.Gauge
}

// New creates the recorder metrics and registers them with registerer, which
// may be nil for an unregistered set.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.pagesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pages_written_total",
		Help: "Total number of pages transferred from the buffer to storage.",
	})

	m.pagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pages_read_total",
		Help: "Total number of pages transferred from storage to the buffer.",
	})

	m.storageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_errors_total",
		Help: "Total number of failed storage operations.",
	}, []string{"op"})

	m.overruns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "page_overruns_total",
		Help: "Total number of page notifications raised before the previous one was serviced.",
	})

	m.sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_total",
		Help: "Total number of sessions started.",
	}, []string{"kind"})

	m.state = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "session_state",
		Help: "Current controller state (0 stopped, 1 recording, 2 playing).",
	})

	if registerer != nil {
		registerer.MustRegister(m.pagesWritten, m.pagesRead, m.storageErrors, m.overruns, m.sessions, m.state)
	}
	return m
}

// NewWithPrefix registers the metrics under the "pagedvr_" namespace.
func NewWithPrefix(registerer prometheus.Registerer) *Metrics {
	return New(prometheus.WrapRegistererWithPrefix("pagedvr_", registerer))
}

func (m *Metrics) PageWritten() {
	if m != nil {
		m.pagesWritten.Inc()
	}
}

func (m *Metrics) PageRead() {
	if m != nil {
		m.pagesRead.Inc()
	}
}

// StorageError counts a failure of the named operation (create, open, read,
// write, close).
func (m *Metrics) StorageError(op string) {
	if m != nil {
		m.storageErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Overrun() {
	if m != nil {
		m.overruns.Inc()
	}
}

// SessionStarted counts a session of the given kind (record, play).
func (m *Metrics) SessionStarted(kind string) {
	if m != nil {
		m.sessions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetState(state uint8) {
	if m != nil {
		m.state.Set(float64(state))
	}
}
